// Package scheduler implements the TF Scheduler role (§4.6): the
// builder fleet registry, the per-TFID assignment state machine, and
// the deterministic assignment algorithm, exposed over the rpc
// package's hand-authored gRPC service.
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ironMann/DataDistribution/cmn/nlog"
	"github.com/ironMann/DataDistribution/hk"
	"github.com/ironMann/DataDistribution/rpc"
)

// tfState is the per-TFID scheduler-local state machine (§4.6).
type tfState int

const (
	statePending tfState = iota
	stateReady
	stateDispatched
	stateComplete
	stateFailed
)

// Config holds the scheduler's tunables (§4.6).
type Config struct {
	BuilderTimeout time.Duration // default 5s
	GracePeriod    time.Duration // terminal-state retention before GC
}

// DefaultConfig matches the defaults named in spec.md §4.6.
func DefaultConfig() Config {
	return Config{BuilderTimeout: 5 * time.Second, GracePeriod: 30 * time.Second}
}

type builder struct {
	processID    string
	endpoint     string
	lastUpdateTs time.Time
	freeBuffers  uint32
	reportedLoad float32
	inFlight     map[uint64]struct{} // TFIDs reported in-flight as of the last heartbeat
}

type tfRecord struct {
	state       tfState
	contribs    map[string]struct{}
	bytes       uint64
	builderID   string
	enteredTerm time.Time // when COMPLETE/FAILED was reached, for GC
}

// Scheduler implements rpc.SchedulerServer (§4.6).
type Scheduler struct {
	cfg         Config
	partitionID string
	senderIDs   []string

	mu       sync.Mutex
	builders map[string]*builder
	tfs      map[uint64]*tfRecord
}

// New constructs a Scheduler for a fixed partition membership, per
// §3's PartitionInfo ("immutable at run start").
func New(cfg Config, partitionID string, senderIDs []string) *Scheduler {
	return &Scheduler{
		cfg:         cfg,
		partitionID: partitionID,
		senderIDs:   append([]string(nil), senderIDs...),
		builders:    make(map[string]*builder),
		tfs:         make(map[uint64]*tfRecord),
	}
}

// Start registers the housekeeping jobs (stale-builder sweep, terminal
// TFID GC) against the default housekeeper.
func (s *Scheduler) Start() {
	hk.Reg("scheduler.stale-builders", s.sweepStaleBuilders, s.cfg.BuilderTimeout/2)
	hk.Reg("scheduler.gc-terminal-tfids", s.gcTerminal, s.cfg.GracePeriod)
}

// Stop unregisters the housekeeping jobs.
func (s *Scheduler) Stop() {
	hk.Unreg("scheduler.stale-builders")
	hk.Unreg("scheduler.gc-terminal-tfids")
}

func (s *Scheduler) NumStfSendersInPartition(context.Context, *rpc.NumSendersRequest) (*rpc.NumSendersResponse, error) {
	return &rpc.NumSendersResponse{NumSenders: uint32(len(s.senderIDs))}, nil
}

func (s *Scheduler) TfBuilderConnectionRequest(_ context.Context, req *rpc.BuilderConnectRequest) (*rpc.BuilderConnectResponse, error) {
	s.mu.Lock()
	s.builders[req.BuilderID] = &builder{
		processID: req.BuilderID, endpoint: req.Endpoint,
		lastUpdateTs: time.Now(), freeBuffers: req.Capacity,
		inFlight: make(map[uint64]struct{}),
	}
	s.mu.Unlock()
	nlog.Infof("scheduler: builder %s connected at %s (capacity=%d)", req.BuilderID, req.Endpoint, req.Capacity)
	return &rpc.BuilderConnectResponse{
		Status:    rpc.StatusOK,
		Partition: rpc.PartitionInfo{PartitionID: s.partitionID, SenderIDList: s.senderIDs, ExpectedContribs: len(s.senderIDs)},
	}, nil
}

func (s *Scheduler) TfBuilderDisconnectionRequest(_ context.Context, req *rpc.BuilderDisconnectRequest) (*rpc.BuilderDisconnectResponse, error) {
	s.mu.Lock()
	delete(s.builders, req.BuilderID)
	s.mu.Unlock()
	nlog.Infof("scheduler: builder %s disconnected", req.BuilderID)
	return &rpc.BuilderDisconnectResponse{Status: rpc.StatusOK}, nil
}

func (s *Scheduler) TfBuilderUpdate(_ context.Context, req *rpc.BuilderUpdateRequest) (*rpc.BuilderUpdateResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.builders[req.BuilderID]
	if !ok {
		return &rpc.BuilderUpdateResponse{}, nil
	}
	b.lastUpdateTs = time.Now()
	b.freeBuffers = req.FreeBuffers
	b.reportedLoad = req.Load

	reported := make(map[uint64]struct{}, len(req.InFlightTFIDs))
	for _, tfid := range req.InFlightTFIDs {
		reported[tfid] = struct{}{}
	}
	// Any TFID present in the previous heartbeat but absent from this
	// one has drained from the builder's in-flight set: COMPLETE
	// (§4.6 "COMPLETE is inferred from builder update decrementing its
	// in-flight set").
	for tfid := range b.inFlight {
		if _, still := reported[tfid]; !still {
			s.markCompleteLocked(tfid)
		}
	}
	b.inFlight = reported

	return &rpc.BuilderUpdateResponse{}, nil
}

func (s *Scheduler) StfSenderStfUpdate(_ context.Context, req *rpc.StfUpdateRequest) (*rpc.StfUpdateResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tfs[req.TFID]
	if !ok {
		rec = &tfRecord{state: statePending, contribs: make(map[string]struct{})}
		s.tfs[req.TFID] = rec
	}
	switch rec.state {
	case stateFailed:
		return &rpc.StfUpdateResponse{Result: rpc.ResultFailed}, nil
	case stateDispatched, stateComplete:
		// Already assigned; at-most-once means later reports for the
		// same TFID get the existing outcome, never a new assignment.
		if b, ok := s.builders[rec.builderID]; ok {
			return &rpc.StfUpdateResponse{Result: rpc.ResultAssigned, BuilderEndpoint: b.endpoint}, nil
		}
		return &rpc.StfUpdateResponse{Result: rpc.ResultFailed}, nil
	}

	if _, already := rec.contribs[req.SenderID]; !already {
		rec.contribs[req.SenderID] = struct{}{}
		rec.bytes += req.Bytes
	}
	if len(rec.contribs) < len(s.senderIDs) {
		return &rpc.StfUpdateResponse{Result: rpc.ResultNotReady}, nil
	}
	rec.state = stateReady

	chosen := s.selectBuilderLocked()
	if chosen == nil {
		return &rpc.StfUpdateResponse{Result: rpc.ResultBackoff}, nil
	}
	chosen.freeBuffers--
	rec.state = stateDispatched
	rec.builderID = chosen.processID
	return &rpc.StfUpdateResponse{Result: rpc.ResultAssigned, BuilderEndpoint: chosen.endpoint}, nil
}

// StfSenderStfSendFailed is the wire entry point for SendFailed,
// reported by a sender when its assigned builder turned out to be
// unreachable (§4.6 rule 4).
func (s *Scheduler) StfSenderStfSendFailed(_ context.Context, req *rpc.StfSendFailedRequest) (*rpc.StfSendFailedResponse, error) {
	if !s.SendFailed(req.TFID) {
		return &rpc.StfSendFailedResponse{Status: rpc.StatusError}, nil
	}
	return &rpc.StfSendFailedResponse{Status: rpc.StatusOK}, nil
}

// selectBuilderLocked implements §4.6's assignment algorithm: among
// builders whose lastUpdateTs is within builderTimeout and whose
// freeBuffers > 0, pick the largest freeBuffers, tie-break by lowest
// processId. Caller holds s.mu.
func (s *Scheduler) selectBuilderLocked() *builder {
	now := time.Now()
	var eligible []*builder
	for _, b := range s.builders {
		if now.Sub(b.lastUpdateTs) <= s.cfg.BuilderTimeout && b.freeBuffers > 0 {
			eligible = append(eligible, b)
		}
	}
	if len(eligible) == 0 {
		return nil
	}
	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].freeBuffers != eligible[j].freeBuffers {
			return eligible[i].freeBuffers > eligible[j].freeBuffers
		}
		return eligible[i].processID < eligible[j].processID
	})
	return eligible[0]
}

// SendFailed marks tfid FAILED and restores the builder's freeBuffers
// (§4.6 rule 4). ok is false if tfid was not DISPATCHED. Other senders
// are not notified; a later StfSenderStfUpdate for tfid returns Failed.
func (s *Scheduler) SendFailed(tfid uint64) (ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, exists := s.tfs[tfid]
	if !exists || rec.state != stateDispatched {
		return false
	}
	if b, ok := s.builders[rec.builderID]; ok {
		b.freeBuffers++
	}
	rec.state = stateFailed
	rec.enteredTerm = time.Now()
	return true
}

// sweepStaleBuilders excludes builders with no heartbeat for more than
// BuilderTimeout and fails their outstanding DISPATCHED TFIDs (§4.6
// "Builder timeout").
func (s *Scheduler) sweepStaleBuilders() time.Duration {
	s.mu.Lock()
	now := time.Now()
	var stale []string
	for id, b := range s.builders {
		if now.Sub(b.lastUpdateTs) > s.cfg.BuilderTimeout {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		delete(s.builders, id)
		for tfid, rec := range s.tfs {
			if rec.state == stateDispatched && rec.builderID == id {
				rec.state = stateFailed
				rec.enteredTerm = now
				nlog.Warningf("scheduler: builder %s went stale, TFID %d -> FAILED", id, tfid)
			}
		}
	}
	s.mu.Unlock()
	return s.cfg.BuilderTimeout / 2
}

// gcTerminal garbage-collects TFIDs that have sat in a terminal state
// (COMPLETE/FAILED) for longer than GracePeriod (§4.6).
func (s *Scheduler) gcTerminal() time.Duration {
	s.mu.Lock()
	now := time.Now()
	for tfid, rec := range s.tfs {
		if (rec.state == stateComplete || rec.state == stateFailed) && now.Sub(rec.enteredTerm) > s.cfg.GracePeriod {
			delete(s.tfs, tfid)
		}
	}
	s.mu.Unlock()
	return s.cfg.GracePeriod
}

// MarkComplete records that the builder's in-flight set decremented
// for tfid, inferring COMPLETE per §4.6 ("COMPLETE is inferred from
// builder update decrementing its in-flight set").
func (s *Scheduler) MarkComplete(tfid uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markCompleteLocked(tfid)
}

// markCompleteLocked is MarkComplete's body; callers must hold s.mu.
func (s *Scheduler) markCompleteLocked(tfid uint64) {
	if rec, ok := s.tfs[tfid]; ok && rec.state == stateDispatched {
		rec.state = stateComplete
		rec.enteredTerm = time.Now()
	}
}
