package builder

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/ironMann/DataDistribution/cmn/stats"
	"github.com/ironMann/DataDistribution/rdh"
	"github.com/ironMann/DataDistribution/stfmodel"
)

func stfOf(id stfmodel.TFID) *stfmodel.STF {
	stf := stfmodel.New(id, "FLP")
	stf.Finalize()
	return stf
}

// rawFragment builds a minimal-but-valid stand-in RDH block (header +
// payload) for tests that exercise PushFragment directly, without
// caring about the extracted subspec or triggering the empty-trigger
// filter.
func rawFragment(payload []byte) []byte {
	buf := make([]byte, rdh.HeaderSize+len(payload))
	binary.LittleEndian.PutUint16(buf[6:8], uint16(len(buf))) // memorySize
	copy(buf[rdh.HeaderSize:], payload)
	return buf
}

// TestPushFragmentDropsOnFailedSanityCheck matches §4.3/§4.7: in Drop
// mode, a fragment with a zero memorySize fails the sanity check and
// never reaches STF.Append.
func TestPushFragmentDropsOnFailedSanityCheck(t *testing.T) {
	var drops int
	ii := NewInputInterface(time.Hour, rdh.Drop, false, func(*stfmodel.STF) {}, func() { drops++ })

	buf := make([]byte, rdh.HeaderSize) // memorySize left at 0: fails looksSane
	id := stfmodel.DataIdentifier{Origin: "TPC", Description: "RAWDATA"}
	if err := ii.PushFragment(1, "FLP", id, buf); err == nil {
		t.Fatal("expected an error for a fragment that fails the sanity check")
	}
	if drops != 1 {
		t.Fatalf("expected 1 drop counted, got %d", drops)
	}
	if ii.NumPending() != 0 {
		t.Fatal("a dropped fragment must not create a pending TFID")
	}
}

// TestPushFragmentFiltersEmptyTriggerV4 matches §4.7: an RDHv4
// heartbeat-only block is silently dropped (no error) when the filter
// is enabled.
func TestPushFragmentFiltersEmptyTriggerV4(t *testing.T) {
	var drops int
	ii := NewInputInterface(time.Hour, rdh.Off, true, func(*stfmodel.STF) {}, func() { drops++ })

	buf := make([]byte, rdh.HeaderSize)
	buf[0] = 4                                       // version 4
	binary.LittleEndian.PutUint16(buf[6:8], uint16(len(buf)))
	binary.LittleEndian.PutUint16(buf[8:10], 0x0010) // heartbeat-trigger-only

	id := stfmodel.DataIdentifier{Origin: "TPC", Description: "RAWDATA"}
	if err := ii.PushFragment(1, "FLP", id, buf); err != nil {
		t.Fatalf("expected the empty-trigger filter to drop silently, got error: %v", err)
	}
	if drops != 1 {
		t.Fatalf("expected 1 drop counted, got %d", drops)
	}
	if ii.NumPending() != 0 {
		t.Fatal("a filtered fragment must not create a pending TFID")
	}
}

// TestDropPolicyKeepsNewest matches spec.md §8 scenario 3: maxBuffered=4,
// feed 6 STFs while the downstream send stage is never drained.
// Expected: 2 dropped, the 4 present have TFIDs {3,4,5,6}.
func TestDropPolicyKeepsNewest(t *testing.T) {
	cfg := Config{MaxBuffered: 4, SinkEnabled: false, Mode: ModeStandalone}
	r := New(cfg, nil, nil, stats.NewRegistry("test-builder-drop"))

	for id := stfmodel.TFID(1); id <= 6; id++ {
		r.onFinalize(stfOf(id))
	}

	if got := r.pipe.TotalSize(); got != 4 {
		t.Fatalf("expected 4 STFs retained, got %d", got)
	}

	var got []stfmodel.TFID
	for {
		item, ok := r.pipe.TryPop(stageSendIn)
		if !ok {
			break
		}
		got = append(got, item.(*stfmodel.STF).ID())
	}
	want := map[stfmodel.TFID]bool{3: true, 4: true, 5: true, 6: true}
	if len(got) != 4 {
		t.Fatalf("expected 4 surviving STFs, got %d (%v)", len(got), got)
	}
	for _, id := range got {
		if !want[id] {
			t.Fatalf("unexpected surviving TFID %d, want one of {3,4,5,6}", id)
		}
	}
}

func TestRouteSkipsSinkWhenDisabled(t *testing.T) {
	r := New(Config{MaxBuffered: 4, SinkEnabled: false}, nil, nil, stats.NewRegistry("test-builder-route-a"))
	if got := r.route(stageBuildOut, nil); got != stageSendIn {
		t.Fatalf("expected route to SEND_IN when sink disabled, got %d", got)
	}
}

func TestRouteStaysAtSinkWhenEnabled(t *testing.T) {
	r := New(Config{MaxBuffered: 4, SinkEnabled: true}, nil, nil, stats.NewRegistry("test-builder-route-b"))
	if got := r.route(stageBuildOut, nil); got != stageBuildOut {
		t.Fatalf("expected route to stay at BUILD_OUT/SINK_IN when sink enabled, got %d", got)
	}
}

func TestFinalizationByEndOfTFMarker(t *testing.T) {
	finalized := make(chan stfmodel.TFID, 1)
	ii := NewInputInterface(time.Hour, rdh.Off, false, func(stf *stfmodel.STF) { finalized <- stf.ID() }, nil)

	id := stfmodel.DataIdentifier{Origin: "TPC", Description: "RAWDATA"}
	if err := ii.PushFragment(42, "FLP", id, rawFragment([]byte("x"))); err != nil {
		t.Fatalf("push: %v", err)
	}
	ii.EndOfTF(42)

	select {
	case got := <-finalized:
		if got != 42 {
			t.Fatalf("expected TFID 42, got %d", got)
		}
	case <-time.After(time.Second):
		t.Fatal("expected end-of-TF marker to finalize immediately")
	}
	if ii.NumPending() != 0 {
		t.Fatalf("expected no pending TFIDs after finalize, got %d", ii.NumPending())
	}
}

func TestFinalizationByStaleness(t *testing.T) {
	finalized := make(chan stfmodel.TFID, 1)
	ii := NewInputInterface(20*time.Millisecond, rdh.Off, false, func(stf *stfmodel.STF) { finalized <- stf.ID() }, nil)

	id := stfmodel.DataIdentifier{Origin: "TPC", Description: "RAWDATA"}
	if err := ii.PushFragment(7, "FLP", id, rawFragment([]byte("x"))); err != nil {
		t.Fatalf("push: %v", err)
	}

	select {
	case got := <-finalized:
		if got != 7 {
			t.Fatalf("expected TFID 7, got %d", got)
		}
	case <-time.After(time.Second):
		t.Fatal("expected staleness timeout to finalize the STF")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	r := New(Config{MaxBuffered: 4, SinkEnabled: false, Mode: ModeStandalone}, nil, nil, stats.NewRegistry("test-builder-run"))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected Run to return after context cancellation")
	}
}
