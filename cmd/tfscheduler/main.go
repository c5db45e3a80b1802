// Command tfscheduler runs the TF Scheduler role (§4.6): an RPC server
// that assigns finalized Time-Frames to builders.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ironMann/DataDistribution/cmn/nlog"
	"github.com/ironMann/DataDistribution/cmn/stats"
	"github.com/ironMann/DataDistribution/config"
	"github.com/ironMann/DataDistribution/discovery"
	"github.com/ironMann/DataDistribution/hk"
	"github.com/ironMann/DataDistribution/rpc"
	"github.com/ironMann/DataDistribution/scheduler"
)

func main() {
	os.Exit(run())
}

func run() int {
	fs := flag.NewFlagSet("tfscheduler", flag.ContinueOnError)
	var c config.Common
	config.RegisterFlags(fs, &c)
	nlog.InitFlags(fs)

	var senderIDsFlag string
	var builderTimeout, gracePeriod time.Duration
	fs.StringVar(&senderIDsFlag, "sender-ids", "", "comma-separated senderId list for this partition")
	fs.DurationVar(&builderTimeout, "builder-timeout", 5*time.Second, "heartbeat timeout before a builder is excluded")
	fs.DurationVar(&gracePeriod, "grace-period", 30*time.Second, "how long terminal TFIDs are retained before GC")

	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return config.ExitInvalidFlag
	}
	if err := c.ApplyOverlay(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return config.ExitConfigInvalid
	}
	c.StandAlone = true // the scheduler has no upstream scheduler of its own
	if exitCode, err := c.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitCode
	}
	senderIDs := splitNonEmpty(senderIDsFlag)
	if len(senderIDs) == 0 {
		fmt.Fprintln(os.Stderr, "config: -sender-ids must list at least one senderId")
		return config.ExitInvalidFlag
	}

	nlog.SetLogDirRole(c.LogDir, "tfscheduler")
	defer nlog.Flush(true)

	sched := scheduler.New(scheduler.Config{BuilderTimeout: builderTimeout, GracePeriod: gracePeriod}, c.PartitionID, senderIDs)
	sched.Start()
	defer sched.Stop()

	go hk.DefaultHK.Run()
	defer hk.Stop()

	srv, addr, err := rpc.Listen(c.ListenAddr, sched)
	if err != nil {
		nlog.Errorf("tfscheduler: bind failed on %s: %v", c.ListenAddr, err)
		return config.ExitBindFailure
	}
	nlog.Infof("tfscheduler: listening on %s (partition=%s, senders=%v)", addr, c.PartitionID, senderIDs)

	reg := discovery.NewMemRegistry()
	reg.Put(fmt.Sprintf("role/tfscheduler/%s", c.ProcessID), discovery.Entry{
		RPCEndpoint: addr.String(), PartitionID: c.PartitionID,
	})

	if c.GUI {
		st := stats.NewRegistry("tfscheduler")
		mux := http.NewServeMux()
		mux.Handle("/metrics", st.Handler())
		go http.ListenAndServe(":0", mux) //nolint:errcheck
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()

	nlog.Infof("tfscheduler: shutting down")
	srv.GracefulStop()
	return config.ExitOK
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
