package sink

import (
	"bytes"
	"errors"
	"io"
	"os"
	"testing"

	"github.com/ironMann/DataDistribution/stfmodel"
)

func mustMkdirTemp(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "sink-test-*")
	if err != nil {
		t.Fatalf("mkdir temp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func buildSTF(id stfmodel.TFID) *stfmodel.STF {
	stf := stfmodel.New(id, "FLP")
	stf.Append(stfmodel.DataIdentifier{Origin: "TPC", Description: "RAWDATA"}, stfmodel.SubSpec(id), []byte("payload"))
	stf.Finalize()
	return stf
}

// TestRotationByCount follows spec.md §8 scenario 2: stfsPerFile=3,
// feeding 7 STFs yields 3 files, and replaying all of them returns 7
// STFs in total.
func TestRotationByCount(t *testing.T) {
	dir := mustMkdirTemp(t)
	cfg := Config{Enable: true, FileName: "%n", StfsPerFile: 3, FileSizeMiB: 1024}
	w := NewWriter(cfg, dir)

	for i := stfmodel.TFID(1); i <= 7; i++ {
		if err := w.Write(buildSTF(i)); err != nil {
			t.Fatalf("write tfid %d: %v", i, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 files, got %d", len(entries))
	}

	var gotTFIDs []stfmodel.TFID
	for _, e := range entries {
		r, err := OpenReader(dir + "/" + e.Name())
		if err != nil {
			t.Fatalf("open reader: %v", err)
		}
		for {
			stf, err := r.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				t.Fatalf("read record: %v", err)
			}
			gotTFIDs = append(gotTFIDs, stf.ID())
		}
		r.Close()
	}
	if len(gotTFIDs) != 7 {
		t.Fatalf("expected 7 STFs across all files, got %d", len(gotTFIDs))
	}
}

func TestNewStfFileNameTokens(t *testing.T) {
	name := NewStfFileName("%n", 5)
	if name != "00000005" {
		t.Fatalf("expected zero-padded index, got %q", name)
	}
	name = NewStfFileName("prefix-%n-suffix", 0)
	if name != "prefix-00000000-suffix" {
		t.Fatalf("unexpected templated name: %q", name)
	}
}

func TestWriterStaysEnabledAfterSuccessfulWrite(t *testing.T) {
	dir := mustMkdirTemp(t)
	cfg := Config{Enable: true, FileName: "%n", StfsPerFile: 0, FileSizeMiB: 0}
	w := NewWriter(cfg, dir)
	if err := w.Write(buildSTF(1)); err != nil {
		t.Fatalf("first write should succeed: %v", err)
	}
	if !w.Enabled() {
		t.Fatal("writer should still be enabled after a successful write")
	}
}

func TestSidecarIndexRecordsOneLinePerEntry(t *testing.T) {
	dir := mustMkdirTemp(t)
	cfg := Config{Enable: true, FileName: "%n", StfsPerFile: 0, FileSizeMiB: 0, Sidecar: true}
	w := NewWriter(cfg, dir)
	for i := stfmodel.TFID(1); i <= 3; i++ {
		if err := w.Write(buildSTF(i)); err != nil {
			t.Fatalf("write tfid %d: %v", i, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	raw, err := os.ReadFile(dir + "/00000000.idx")
	if err != nil {
		t.Fatalf("read sidecar: %v", err)
	}
	var entries []sidecarEntry
	dec := sidecarJSON.NewDecoder(bytes.NewReader(raw))
	for dec.More() {
		var e sidecarEntry
		if err := dec.Decode(&e); err != nil {
			t.Fatalf("decode sidecar line: %v", err)
		}
		entries = append(entries, e)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 sidecar entries, got %d", len(entries))
	}
	for i, e := range entries {
		if e.TFID != uint64(i+1) {
			t.Fatalf("entry %d: expected TFID %d, got %d", i, i+1, e.TFID)
		}
	}
}

func TestSessionDirRejectsMissingRoot(t *testing.T) {
	if _, err := SessionDir("/nonexistent/path/for/sure"); err == nil {
		t.Fatal("expected error for missing root directory")
	}
}
