// Package builder implements the STF Builder role (§4.3): a staged
// pipeline that turns a stream of readout fragments into finalized
// STFs, optionally sinks them to file, and forwards them downstream in
// one of three output modes.
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package builder

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/ironMann/DataDistribution/cmn/nlog"
	"github.com/ironMann/DataDistribution/cmn/stats"
	"github.com/ironMann/DataDistribution/pipeline"
	"github.com/ironMann/DataDistribution/rdh"
	"github.com/ironMann/DataDistribution/sink"
	"github.com/ironMann/DataDistribution/stfmodel"
	"github.com/ironMann/DataDistribution/wire"
)

// Pipeline stages, reusing the teacher's overlapping index scheme: the
// pre-sink and pre-send queues double as the sink's input/output slots
// when the sink is disabled (§4.3 stage table).
const (
	stageBuildOut = 0 // == SINK_IN
	stageSendIn   = 1 // == SINK_OUT
	numStages     = 2
)

// OutputMode selects how the output thread disposes of a finalized,
// dequeued STF (§4.3 "Output").
type OutputMode int

const (
	// ModeStandalone performs no network send; used for sink-only or
	// test runs.
	ModeStandalone OutputMode = iota
	// ModeDirect sends to a downstream STF Sender over a named channel.
	ModeDirect
	// ModeBridged sends to a data-processing framework bridge channel
	// using the same §4.2 codec.
	ModeBridged
)

// Config bundles the builder's per-role tunables (§6).
type Config struct {
	MaxBuffered int // effective minimum 4 (§4.3)
	SinkEnabled bool
	Mode        OutputMode

	RDHCheck                rdh.SanityCheckMode // off|drop|print, threaded to the InputInterface
	RDHFilterEmptyTriggerV4 bool
}

// effectiveMaxBuffered applies the spec's floor of 4.
func (c Config) effectiveMaxBuffered() int {
	if c.MaxBuffered < 4 {
		return 4
	}
	return c.MaxBuffered
}

// Role runs the STF Builder's pipeline: input → (sink?) → output.
type Role struct {
	cfg   Config
	pipe  *pipeline.Pipeline
	sink  *sink.Writer // nil when SinkEnabled is false
	out   wire.Channel // nil in ModeStandalone
	stats *stats.Registry
	input *InputInterface
}

// New constructs a Role. sinkWriter and out may be nil when unused by
// cfg (sink disabled / standalone mode respectively).
func New(cfg Config, sinkWriter *sink.Writer, out wire.Channel, st *stats.Registry) *Role {
	r := &Role{cfg: cfg, sink: sinkWriter, out: out, stats: st}
	r.pipe = pipeline.New(numStages, r.route)
	r.input = NewInputInterface(DefaultStaleTimeout, cfg.RDHCheck, cfg.RDHFilterEmptyTriggerV4, r.onFinalize, st.RDHDropped.Inc)
	return r
}

// route implements §4.3's nextStage table: from BUILD_OUT, sink
// enabled stays at the sink's input slot (same index), sink disabled
// skips straight to SEND_IN.
func (r *Role) route(from int, _ any) int {
	if from == stageBuildOut && !r.cfg.SinkEnabled {
		return stageSendIn
	}
	return from
}

// PushFragment feeds one raw readout fragment (RDH header + detector
// payload) into the input interface; see InputInterface.PushFragment.
func (r *Role) PushFragment(tfid stfmodel.TFID, origin stfmodel.Origin, id stfmodel.DataIdentifier, raw []byte) error {
	return r.input.PushFragment(tfid, origin, id, raw)
}

// EndOfTF signals the explicit end-of-TF marker for tfid.
func (r *Role) EndOfTF(tfid stfmodel.TFID) { r.input.EndOfTF(tfid) }

// onFinalize is called by the InputInterface the moment an STF
// finalizes; it applies the drop policy and queues the STF at
// BUILD_OUT (§4.3).
func (r *Role) onFinalize(stf *stfmodel.STF) {
	r.enforceCap()
	target := r.route(stageBuildOut, stf)
	r.pipe.Queue(target, stf)
	r.stats.Built.Inc()
	r.stats.StageLen.WithLabelValues("build_out").Set(float64(r.pipe.Size(stageBuildOut)))
}

// enforceCap applies the age-ordered, back-to-front drop policy
// (§4.3): while at or above the cap, try to pop the oldest item from
// SEND_IN (closest to the exit) first, then BUILD_OUT/SINK_IN.
func (r *Role) enforceCap() {
	limit := r.cfg.effectiveMaxBuffered()
	for r.pipe.TotalSize() >= limit {
		if _, ok := r.pipe.TryPop(stageSendIn); ok {
			r.stats.Dropped.Inc()
			continue
		}
		if _, ok := r.pipe.TryPop(stageBuildOut); ok {
			r.stats.Dropped.Inc()
			continue
		}
		break
	}
}

// Run starts the sink thread (if enabled) and the output thread, and
// blocks until ctx is canceled or a thread errors.
func (r *Role) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if r.cfg.SinkEnabled {
		g.Go(func() error { return r.runSinkThread(ctx) })
	}
	g.Go(func() error { return r.runOutputThread(ctx) })

	<-ctx.Done()
	r.pipe.Stop()
	return g.Wait()
}

func (r *Role) runSinkThread(ctx context.Context) error {
	for {
		item, ok := r.pipe.Dequeue(stageBuildOut)
		if !ok {
			return nil
		}
		stf := item.(*stfmodel.STF)
		if err := r.sink.Write(stf); err != nil {
			r.stats.SinkErr.Inc()
			nlog.Errorf("builder: sink write failed: %v", err)
		} else {
			r.stats.SinkOK.Inc()
		}
		r.pipe.Queue(stageSendIn, stf)
	}
}

func (r *Role) runOutputThread(ctx context.Context) error {
	for {
		item, ok := r.pipe.Dequeue(stageSendIn)
		if !ok {
			return nil
		}
		stf := item.(*stfmodel.STF)
		r.send(stf)
	}
}

func (r *Role) send(stf *stfmodel.STF) {
	switch r.cfg.Mode {
	case ModeStandalone:
		return
	case ModeDirect, ModeBridged:
		parts := stfmodel.Encode(stf)
		if err := r.out.Send(wire.NewMessage(parts)); err != nil {
			r.stats.SendFail.Inc()
			nlog.Errorf("builder: output send failed for TFID %d: %v", stf.ID(), err)
			return
		}
		r.stats.Sent.Inc()
	}
}
