package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/ironMann/DataDistribution/rpc"
)

func connectBuilder(t *testing.T, s *Scheduler, id string, capacity uint32) {
	t.Helper()
	if _, err := s.TfBuilderConnectionRequest(context.Background(), &rpc.BuilderConnectRequest{
		Envelope: rpc.Envelope{ProcessID: id}, BuilderID: id, Endpoint: id + ":9000", Capacity: capacity,
	}); err != nil {
		t.Fatalf("connect %s: %v", id, err)
	}
}

func reportAll(t *testing.T, s *Scheduler, tfid uint64, senders []string) *rpc.StfUpdateResponse {
	t.Helper()
	var last *rpc.StfUpdateResponse
	for _, sender := range senders {
		resp, err := s.StfSenderStfUpdate(context.Background(), &rpc.StfUpdateRequest{
			Envelope: rpc.Envelope{ProcessID: sender}, SenderID: sender, TFID: tfid, Bytes: 128,
		})
		if err != nil {
			t.Fatalf("report %s/%d: %v", sender, tfid, err)
		}
		last = resp
	}
	return last
}

// TestAssignmentTieBreak matches spec.md §8 scenario 4: 3 senders, 2
// builders each with freeBuffers=1. TFID=100 goes to the
// lexicographically-lower builder, TFID=101 to the other, and a third
// TFID received before any builder update returns Backoff.
func TestAssignmentTieBreak(t *testing.T) {
	senders := []string{"s1", "s2", "s3"}
	s := New(DefaultConfig(), "part-A", senders)
	connectBuilder(t, s, "builderB", 1)
	connectBuilder(t, s, "builderA", 1)

	resp100 := reportAll(t, s, 100, senders)
	if resp100.Result != rpc.ResultAssigned || resp100.BuilderEndpoint != "builderA:9000" {
		t.Fatalf("TFID=100: expected assignment to builderA, got %+v", resp100)
	}

	resp101 := reportAll(t, s, 101, senders)
	if resp101.Result != rpc.ResultAssigned || resp101.BuilderEndpoint != "builderB:9000" {
		t.Fatalf("TFID=101: expected assignment to builderB, got %+v", resp101)
	}

	resp102 := reportAll(t, s, 102, senders)
	if resp102.Result != rpc.ResultBackoff {
		t.Fatalf("TFID=102: expected Backoff, got %+v", resp102)
	}
}

func TestStfUpdateNotReadyUntilAllContribsSeen(t *testing.T) {
	senders := []string{"s1", "s2"}
	s := New(DefaultConfig(), "part-A", senders)
	connectBuilder(t, s, "b1", 2)

	resp, err := s.StfSenderStfUpdate(context.Background(), &rpc.StfUpdateRequest{
		Envelope: rpc.Envelope{ProcessID: "s1"}, SenderID: "s1", TFID: 1, Bytes: 10,
	})
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if resp.Result != rpc.ResultNotReady {
		t.Fatalf("expected NotReady with 1/2 contribs, got %v", resp.Result)
	}
}

// TestBuilderStaleFailsDispatchedTFID matches spec.md §8 scenario 5:
// a builder assigned a TFID then stops heartbeating; after
// builderTimeout the TFID transitions to FAILED.
func TestBuilderStaleFailsDispatchedTFID(t *testing.T) {
	senders := []string{"s1"}
	cfg := Config{BuilderTimeout: 20 * time.Millisecond, GracePeriod: time.Second}
	s := New(cfg, "part-A", senders)
	connectBuilder(t, s, "b1", 1)

	resp := reportAll(t, s, 200, senders)
	if resp.Result != rpc.ResultAssigned {
		t.Fatalf("expected assignment, got %+v", resp)
	}

	time.Sleep(cfg.BuilderTimeout * 3)
	s.sweepStaleBuilders()

	s.mu.Lock()
	rec, ok := s.tfs[200]
	s.mu.Unlock()
	if !ok || rec.state != stateFailed {
		t.Fatalf("expected TFID 200 to be FAILED after builder staleness, got %+v", rec)
	}
}

func TestSendFailedRestoresFreeBuffersAndFailsTF(t *testing.T) {
	senders := []string{"s1"}
	s := New(DefaultConfig(), "part-A", senders)
	connectBuilder(t, s, "b1", 1)
	reportAll(t, s, 5, senders)

	if !s.SendFailed(5) {
		t.Fatal("expected SendFailed to succeed for a DISPATCHED TFID")
	}
	s.mu.Lock()
	free := s.builders["b1"].freeBuffers
	state := s.tfs[5].state
	s.mu.Unlock()
	if free != 1 {
		t.Fatalf("expected freeBuffers restored to 1, got %d", free)
	}
	if state != stateFailed {
		t.Fatalf("expected TFID 5 FAILED, got %v", state)
	}
}

func TestStfSenderStfSendFailedRpc(t *testing.T) {
	senders := []string{"s1"}
	s := New(DefaultConfig(), "part-A", senders)
	connectBuilder(t, s, "b1", 1)
	reportAll(t, s, 9, senders)

	resp, err := s.StfSenderStfSendFailed(context.Background(), &rpc.StfSendFailedRequest{
		Envelope: rpc.Envelope{ProcessID: "s1"}, SenderID: "s1", TFID: 9,
	})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if resp.Status != rpc.StatusOK {
		t.Fatalf("expected StatusOK for a DISPATCHED TFID, got %+v", resp)
	}

	resp, err = s.StfSenderStfSendFailed(context.Background(), &rpc.StfSendFailedRequest{
		Envelope: rpc.Envelope{ProcessID: "s1"}, SenderID: "s1", TFID: 9999,
	})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if resp.Status != rpc.StatusError {
		t.Fatalf("expected StatusError for an unknown TFID, got %+v", resp)
	}
}

// TestTfBuilderUpdateInfersComplete matches §4.6: a TFID dispatched to
// a builder transitions to COMPLETE the moment that builder's
// heartbeat stops reporting it in-flight.
func TestTfBuilderUpdateInfersComplete(t *testing.T) {
	s := New(DefaultConfig(), "part-A", []string{"s1"})
	connectBuilder(t, s, "b1", 1)

	resp := reportAll(t, s, 42, []string{"s1"})
	if resp.Result != rpc.ResultAssigned {
		t.Fatalf("expected assignment, got %+v", resp)
	}

	if _, err := s.TfBuilderUpdate(context.Background(), &rpc.BuilderUpdateRequest{
		Envelope: rpc.Envelope{ProcessID: "b1"}, BuilderID: "b1", FreeBuffers: 0,
		InFlightTFIDs: []uint64{42},
	}); err != nil {
		t.Fatalf("heartbeat 1: %v", err)
	}
	s.mu.Lock()
	state := s.tfs[42].state
	s.mu.Unlock()
	if state != stateDispatched {
		t.Fatalf("TFID 42 should remain DISPATCHED while still reported in-flight, got %v", state)
	}

	if _, err := s.TfBuilderUpdate(context.Background(), &rpc.BuilderUpdateRequest{
		Envelope: rpc.Envelope{ProcessID: "b1"}, BuilderID: "b1", FreeBuffers: 1,
		InFlightTFIDs: nil,
	}); err != nil {
		t.Fatalf("heartbeat 2: %v", err)
	}
	s.mu.Lock()
	state = s.tfs[42].state
	s.mu.Unlock()
	if state != stateComplete {
		t.Fatalf("expected TFID 42 to be COMPLETE after it dropped from the in-flight heartbeat, got %v", state)
	}
}

func TestGCRemovesOldTerminalTFIDs(t *testing.T) {
	cfg := Config{BuilderTimeout: time.Second, GracePeriod: 10 * time.Millisecond}
	s := New(cfg, "part-A", []string{"s1"})
	connectBuilder(t, s, "b1", 1)
	reportAll(t, s, 7, []string{"s1"})
	s.SendFailed(7)

	time.Sleep(cfg.GracePeriod * 3)
	s.gcTerminal()

	s.mu.Lock()
	_, exists := s.tfs[7]
	s.mu.Unlock()
	if exists {
		t.Fatal("expected TFID 7 to be garbage-collected after the grace period")
	}
}
