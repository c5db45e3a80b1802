package rdh

import (
	"encoding/binary"
	"testing"
)

func makeRDH(version uint8, cruID uint16, endpointID, linkID uint8, memSize, trigger uint16) []byte {
	buf := make([]byte, rawRDHSize)
	buf[offVersion] = version
	binary.LittleEndian.PutUint16(buf[offCruID:], cruID)
	buf[offEndpointID] = endpointID
	buf[offLinkID] = linkID
	binary.LittleEndian.PutUint16(buf[offMemorySize:], memSize)
	binary.LittleEndian.PutUint16(buf[offTriggerType:], trigger)
	return buf
}

func TestExtractSubSpec(t *testing.T) {
	buf := makeRDH(4, 0x1234, 0x02, 0x05, 64, 0)
	got, err := ExtractSubSpec(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := uint32(0x1234)<<16 | uint32(0x02)<<8 | uint32(0x05)
	if got != want {
		t.Fatalf("got %#x, want %#x", got, want)
	}
}

func TestExtractSubSpecShortBuffer(t *testing.T) {
	if _, err := ExtractSubSpec(make([]byte, 4)); err == nil {
		t.Fatal("expected error for short buffer")
	}
}

func TestSanityCheckModeSet(t *testing.T) {
	cases := map[string]SanityCheckMode{"off": Off, "drop": Drop, "print": Print}
	for tok, want := range cases {
		var m SanityCheckMode
		if err := m.Set(tok); err != nil {
			t.Fatalf("Set(%q): %v", tok, err)
		}
		if m != want {
			t.Fatalf("Set(%q) = %v, want %v", tok, m, want)
		}
	}
	var m SanityCheckMode
	if err := m.Set("bogus"); err == nil {
		t.Fatal("expected error for invalid token")
	}
}

func TestSanitizeOffAlwaysKeeps(t *testing.T) {
	malformed := makeRDH(4, 0, 0, 0, 0, 0) // memSize=0 -> not sane
	if !Off.Sanitize(malformed) {
		t.Fatal("off mode must always keep the buffer")
	}
}

func TestSanitizeDropDiscardsMalformed(t *testing.T) {
	malformed := makeRDH(4, 0, 0, 0, 0, 0)
	if Drop.Sanitize(malformed) {
		t.Fatal("drop mode must discard a malformed buffer")
	}
	sane := makeRDH(4, 1, 0, 0, 32, 0)
	if !Drop.Sanitize(sane) {
		t.Fatal("drop mode must keep a sane buffer")
	}
}

func TestSanitizePrintKeepsAndLogs(t *testing.T) {
	malformed := makeRDH(4, 0, 0, 0, 0, 0)
	if !Print.Sanitize(malformed) {
		t.Fatal("print mode must keep the buffer even when malformed")
	}
}

func TestFilterEmptyTriggerV4(t *testing.T) {
	empty := makeRDH(4, 1, 0, 0, 32, triggerHB)
	if !FilterEmptyTriggerV4(empty, true) {
		t.Fatal("expected v4 heartbeat-trigger-only block to be filtered")
	}
	if FilterEmptyTriggerV4(empty, false) {
		t.Fatal("filter disabled must never drop")
	}

	nonEmpty := makeRDH(4, 1, 0, 0, 32, 0)
	if FilterEmptyTriggerV4(nonEmpty, true) {
		t.Fatal("did not expect a non-trigger block to be filtered")
	}

	v3 := makeRDH(3, 1, 0, 0, 32, triggerHB)
	if FilterEmptyTriggerV4(v3, true) {
		t.Fatal("filter must be v4-specific, not apply to v3 headers")
	}
}
