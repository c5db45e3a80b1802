// Package sender implements the STF Sender role (§4.4): a receiver
// thread that deserializes STFs off the input channel, an optional
// sink stage, and an output handler that reports each STF's arrival to
// the scheduler, retains it pending assignment, and dispatches it to
// the assigned builder over a cached wire.Channel.
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package sender

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ironMann/DataDistribution/cmn/nlog"
	"github.com/ironMann/DataDistribution/cmn/stats"
	"github.com/ironMann/DataDistribution/pipeline"
	"github.com/ironMann/DataDistribution/rpc"
	"github.com/ironMann/DataDistribution/sink"
	"github.com/ironMann/DataDistribution/stfmodel"
	"github.com/ironMann/DataDistribution/wire"
)

// Pipeline stages, mirroring the builder's overlapping index scheme
// (§4.4 stage table): the pre-sink and pre-dispatch queues double as
// the sink's input/output slots when the sink is disabled.
const (
	stageRecvOut   = 0 // == SINK_IN
	stageDispatch  = 1 // == SINK_OUT
	numStages      = 2
)

// backoffInitial and backoffMax bound the await-assignment retry delay
// (§5 Backpressure: "exponential, capped at 1 s").
const (
	backoffInitial = 10 * time.Millisecond
	backoffMax     = 1 * time.Second
)

// SchedulerClient is the narrow slice of rpc.SchedulerClient the sender
// needs, kept as an interface so tests can substitute a fake.
type SchedulerClient interface {
	StfSenderStfUpdate(ctx context.Context, req *rpc.StfUpdateRequest) (*rpc.StfUpdateResponse, error)
	StfSenderStfSendFailed(ctx context.Context, req *rpc.StfSendFailedRequest) (*rpc.StfSendFailedResponse, error)
}

// Dialer opens a wire.Channel to a builder's RPC-advertised data
// endpoint; Role caches the result per endpoint so repeated dispatches
// to the same builder reuse one connection (§4.4 "opens (or reuses) a
// channel to that builder").
type Dialer interface {
	Dial(endpoint string) (wire.Channel, error)
}

// DialerFunc adapts a plain function to a Dialer.
type DialerFunc func(endpoint string) (wire.Channel, error)

func (f DialerFunc) Dial(endpoint string) (wire.Channel, error) { return f(endpoint) }

// Config bundles the sender's per-role tunables (§6). Unlike the
// builder, the sender has no default cap (§5 "STF Sender is unlimited
// by default"); MaxBuffered==0 disables the drop policy.
type Config struct {
	SenderID    string
	MaxBuffered int // 0 == unlimited
	SinkEnabled bool
}

type retained struct {
	stf *stfmodel.STF
}

// Role runs the STF Sender's pipeline: receive → (sink?) → dispatch.
type Role struct {
	cfg   Config
	pipe  *pipeline.Pipeline
	in    wire.Channel // receiver's input channel
	sink  *sink.Writer // nil when SinkEnabled is false
	sched SchedulerClient
	dial  Dialer
	stats *stats.Registry

	mu       sync.Mutex
	retained map[stfmodel.TFID]*retained
	dialed   map[string]wire.Channel
}

// New constructs a Role. sinkWriter may be nil when cfg.SinkEnabled is
// false.
func New(cfg Config, in wire.Channel, sinkWriter *sink.Writer, sched SchedulerClient, dial Dialer, st *stats.Registry) *Role {
	r := &Role{
		cfg: cfg, in: in, sink: sinkWriter, sched: sched, dial: dial, stats: st,
		retained: make(map[stfmodel.TFID]*retained),
		dialed:   make(map[string]wire.Channel),
	}
	r.pipe = pipeline.New(numStages, r.route)
	return r
}

// route implements §4.4's nextStage table: from RECV_OUT, sink enabled
// stays at the sink's input slot, sink disabled skips straight to
// DISPATCH_IN.
func (r *Role) route(from int, _ any) int {
	if from == stageRecvOut && !r.cfg.SinkEnabled {
		return stageDispatch
	}
	return from
}

// Run starts the receiver thread, the sink thread (if enabled), and
// the dispatch thread, and blocks until ctx is canceled or a thread
// errors.
func (r *Role) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return r.runReceiverThread(ctx) })
	if r.cfg.SinkEnabled {
		g.Go(func() error { return r.runSinkThread(ctx) })
	}
	g.Go(func() error { return r.runDispatchThread(ctx) })

	<-ctx.Done()
	r.pipe.Stop()
	return g.Wait()
}

// runReceiverThread deserializes STFs off the input channel (§4.4
// "Receiver"). Any receive error, including a closed channel, is
// logged and ends the thread; a malformed message is logged and
// dropped.
func (r *Role) runReceiverThread(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		msg, err := r.in.Receive()
		if err != nil {
			nlog.Warningf("sender: receive failed, closing receiver: %v", err)
			return nil
		}
		stf, err := stfmodel.Decode(msg.Parts)
		if err != nil {
			nlog.Errorf("sender: malformed multipart message dropped: %v", err)
			continue
		}
		r.enforceCap()
		target := r.route(stageRecvOut, stf)
		r.pipe.Queue(target, stf)
		r.stats.StageLen.WithLabelValues("recv_out").Set(float64(r.pipe.Size(stageRecvOut)))
	}
}

// enforceCap applies the same age-ordered drop policy as the builder
// (§5), but only when cfg.MaxBuffered > 0 ("optional cap applies the
// same drop policy").
func (r *Role) enforceCap() {
	if r.cfg.MaxBuffered <= 0 {
		return
	}
	for r.pipe.TotalSize() >= r.cfg.MaxBuffered {
		if _, ok := r.pipe.TryPop(stageDispatch); ok {
			r.stats.Dropped.Inc()
			continue
		}
		if _, ok := r.pipe.TryPop(stageRecvOut); ok {
			r.stats.Dropped.Inc()
			continue
		}
		break
	}
}

func (r *Role) runSinkThread(ctx context.Context) error {
	for {
		item, ok := r.pipe.Dequeue(stageRecvOut)
		if !ok {
			return nil
		}
		stf := item.(*stfmodel.STF)
		if err := r.sink.Write(stf); err != nil {
			r.stats.SinkErr.Inc()
			nlog.Errorf("sender: sink write failed: %v", err)
		} else {
			r.stats.SinkOK.Inc()
		}
		r.pipe.Queue(stageDispatch, stf)
	}
}

// runDispatchThread implements §4.4's output handler: retain, report,
// await assignment, send, drop the reference.
func (r *Role) runDispatchThread(ctx context.Context) error {
	for {
		item, ok := r.pipe.Dequeue(stageDispatch)
		if !ok {
			return nil
		}
		stf := item.(*stfmodel.STF)
		r.dispatch(ctx, stf)
	}
}

func (r *Role) dispatch(ctx context.Context, stf *stfmodel.STF) {
	tfid := stf.ID()

	r.mu.Lock()
	r.retained[tfid] = &retained{stf: stf}
	r.mu.Unlock()

	endpoint, ok := r.awaitAssignment(ctx, stf)
	if !ok {
		r.forget(tfid)
		return
	}

	if err := r.send(endpoint, stf); err != nil {
		nlog.Errorf("sender: builder %s unreachable for TFID %d: %v", endpoint, tfid, err)
		r.stats.SendFail.Inc()
		r.reportSendFailed(ctx, tfid)
		r.forget(tfid)
		return
	}

	r.stats.Sent.Inc()
	r.forget(tfid)
}

// awaitAssignment polls StfSenderStfUpdate until the scheduler returns
// Assigned or Failed, backing off exponentially (capped at 1s) on
// NotReady/Backoff (§5 Backpressure).
func (r *Role) awaitAssignment(ctx context.Context, stf *stfmodel.STF) (endpoint string, ok bool) {
	delay := backoffInitial
	for {
		if ctx.Err() != nil {
			return "", false
		}
		resp, err := r.sched.StfSenderStfUpdate(ctx, &rpc.StfUpdateRequest{
			Envelope: rpc.Envelope{ProcessID: r.cfg.SenderID},
			SenderID: r.cfg.SenderID,
			TFID:     uint64(stf.ID()),
			Bytes:    uint64(stf.DataSize()),
		})
		if err != nil {
			nlog.Warningf("sender: StfSenderStfUpdate failed for TFID %d: %v", stf.ID(), err)
			time.Sleep(delay)
			delay = nextBackoff(delay)
			continue
		}
		switch resp.Result {
		case rpc.ResultAssigned:
			return resp.BuilderEndpoint, true
		case rpc.ResultFailed:
			return "", false
		case rpc.ResultNotReady, rpc.ResultBackoff:
			time.Sleep(delay)
			delay = nextBackoff(delay)
			continue
		default:
			return "", false
		}
	}
}

func nextBackoff(d time.Duration) time.Duration {
	next := d * 2
	if next > backoffMax {
		return backoffMax
	}
	return next
}

// send dispatches stf to endpoint over a cached wire.Channel.
func (r *Role) send(endpoint string, stf *stfmodel.STF) error {
	ch, err := r.channelFor(endpoint)
	if err != nil {
		return fmt.Errorf("sender: dial %s: %w", endpoint, err)
	}
	parts := stfmodel.Encode(stf)
	if err := ch.Send(wire.NewMessage(parts)); err != nil {
		r.mu.Lock()
		delete(r.dialed, endpoint)
		r.mu.Unlock()
		ch.Close()
		return fmt.Errorf("sender: send to %s: %w", endpoint, err)
	}
	return nil
}

func (r *Role) channelFor(endpoint string) (wire.Channel, error) {
	r.mu.Lock()
	if ch, ok := r.dialed[endpoint]; ok {
		r.mu.Unlock()
		return ch, nil
	}
	r.mu.Unlock()

	ch, err := r.dial.Dial(endpoint)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.dialed[endpoint] = ch
	r.mu.Unlock()
	return ch, nil
}

func (r *Role) reportSendFailed(ctx context.Context, tfid stfmodel.TFID) {
	_, err := r.sched.StfSenderStfSendFailed(ctx, &rpc.StfSendFailedRequest{
		Envelope: rpc.Envelope{ProcessID: r.cfg.SenderID},
		SenderID: r.cfg.SenderID,
		TFID:     uint64(tfid),
	})
	if err != nil {
		nlog.Errorf("sender: failed to report SendFailed for TFID %d: %v", tfid, err)
	}
}

func (r *Role) forget(tfid stfmodel.TFID) {
	r.mu.Lock()
	delete(r.retained, tfid)
	r.mu.Unlock()
}

// IsRetained reports whether tfid is currently awaiting assignment or
// dispatch. The dispatch path does not consult it: each STF is sent at
// most once by dispatch and then forgotten.
func (r *Role) IsRetained(tfid stfmodel.TFID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.retained[tfid]
	return ok
}

// Close closes every cached outbound channel.
func (r *Role) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for endpoint, ch := range r.dialed {
		if err := ch.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.dialed, endpoint)
	}
	return firstErr
}
