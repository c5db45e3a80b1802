package discovery

import "testing"

func TestPutThenWatchSeesInitial(t *testing.T) {
	r := NewMemRegistry()
	r.Put("role/stfsender/1", Entry{IP: "10.0.0.1", RPCEndpoint: "10.0.0.1:9000", PartitionID: "p0"})
	r.Put("role/stfbuilder/1", Entry{IP: "10.0.0.2", RPCEndpoint: "10.0.0.2:9000", PartitionID: "p0"})

	initial, _, stop := r.Watch("role/stfsender/")
	defer stop()
	if len(initial) != 1 {
		t.Fatalf("expected 1 pre-existing sender entry, got %d", len(initial))
	}
	if _, ok := initial["role/stfsender/1"]; !ok {
		t.Fatal("expected the sender key in the initial snapshot")
	}
}

func TestWatchReceivesSubsequentPuts(t *testing.T) {
	r := NewMemRegistry()
	_, updates, stop := r.Watch("role/stfbuilder/")
	defer stop()

	r.Put("role/stfbuilder/7", Entry{IP: "10.0.0.7", RPCEndpoint: "10.0.0.7:9000"})
	r.Put("role/stfsender/7", Entry{IP: "10.0.0.8"}) // different prefix, must not arrive

	select {
	case ke := <-updates:
		if ke.Key != "role/stfbuilder/7" {
			t.Fatalf("unexpected key: %s", ke.Key)
		}
	default:
		t.Fatal("expected the matching-prefix Put to be delivered")
	}
	select {
	case ke := <-updates:
		t.Fatalf("did not expect a second delivery, got %+v", ke)
	default:
	}
}

func TestStopClosesUpdateChannel(t *testing.T) {
	r := NewMemRegistry()
	_, updates, stop := r.Watch("role/")
	stop()
	if _, ok := <-updates; ok {
		t.Fatal("expected update channel to be closed after stop")
	}
}
