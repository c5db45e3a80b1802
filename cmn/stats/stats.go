// Package stats exposes each role's sampled counters as prometheus
// metrics, consumed by the read-only UI design note (§9) instead of
// the original's ROOT-histogram GUI.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package stats

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the counters common to the builder and the sender
// pipelines; the scheduler package keeps no metrics of its own.
type Registry struct {
	Built      prometheus.Counter
	Dropped    prometheus.Counter
	RDHDropped prometheus.Counter
	SinkOK     prometheus.Counter
	SinkErr    prometheus.Counter
	Sent       prometheus.Counter
	SendFail   prometheus.Counter
	StageLen   *prometheus.GaugeVec

	reg *prometheus.Registry
}

// NewRegistry creates a fresh, role-tagged metric set. role is e.g.
// "stfbuilder" or "stfsender".
func NewRegistry(role string) *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg: reg,
		Built: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dd", Subsystem: role, Name: "stf_built_total", Help: "STFs finalized by the input interface.",
		}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dd", Subsystem: role, Name: "stf_dropped_total", Help: "STFs dropped by the age-ordered drop policy.",
		}),
		RDHDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dd", Subsystem: role, Name: "rdh_dropped_total", Help: "Fragments dropped by the RDH sanity check or empty-trigger filter.",
		}),
		SinkOK: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dd", Subsystem: role, Name: "stf_sink_ok_total", Help: "STFs successfully written to the file sink.",
		}),
		SinkErr: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dd", Subsystem: role, Name: "stf_sink_err_total", Help: "File sink write failures.",
		}),
		Sent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dd", Subsystem: role, Name: "stf_sent_total", Help: "STFs transmitted downstream.",
		}),
		SendFail: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dd", Subsystem: role, Name: "stf_send_fail_total", Help: "Send attempts that failed (BuilderUnreachable).",
		}),
		StageLen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dd", Subsystem: role, Name: "pipeline_stage_size", Help: "Number of items queued per pipeline stage.",
		}, []string{"stage"}),
	}
	reg.MustRegister(r.Built, r.Dropped, r.RDHDropped, r.SinkOK, r.SinkErr, r.Sent, r.SendFail, r.StageLen)
	return r
}

// Handler returns the HTTP handler that serves this registry's metrics
// in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
