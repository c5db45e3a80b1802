// Command stfsender runs the STF Sender role (§4.4): receives STFs from
// an STF Builder, reports each arrival to the TF Scheduler, and
// dispatches to the assigned builder endpoint.
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
	"syscall"

	"github.com/ironMann/DataDistribution/cmn/cos"
	"github.com/ironMann/DataDistribution/cmn/nlog"
	"github.com/ironMann/DataDistribution/cmn/stats"
	"github.com/ironMann/DataDistribution/config"
	"github.com/ironMann/DataDistribution/discovery"
	"github.com/ironMann/DataDistribution/hk"
	"github.com/ironMann/DataDistribution/rpc"
	"github.com/ironMann/DataDistribution/sender"
	"github.com/ironMann/DataDistribution/sink"
	"github.com/ironMann/DataDistribution/wire"
)

func main() {
	os.Exit(run())
}

func run() int {
	fs := flag.NewFlagSet("stfsender", flag.ContinueOnError)
	var c config.Common
	config.RegisterFlags(fs, &c)
	nlog.InitFlags(fs)

	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return config.ExitInvalidFlag
	}
	if err := c.ApplyOverlay(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return config.ExitConfigInvalid
	}
	if exitCode, err := c.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitCode
	}
	if c.InputChannelName == "" {
		fmt.Fprintln(os.Stderr, "config: -input-channel-name is required")
		return config.ExitInvalidFlag
	}

	nlog.SetLogDirRole(c.LogDir, "stfsender")
	defer nlog.Flush(true)
	cos.InitShortID(uint64(os.Getpid()))

	st := stats.NewRegistry("stfsender")
	go hk.DefaultHK.Run()
	defer hk.Stop()

	var sinkWriter *sink.Writer
	if c.FileSink.Enable {
		dir, err := sink.SessionDir(c.FileSink.RootDir)
		if err != nil {
			nlog.Errorf("stfsender: %v", err)
			return config.ExitMissingDir
		}
		sinkWriter = sink.NewWriter(c.FileSink, dir)
		defer sinkWriter.Close()
	}

	in, err := wire.Dial(c.InputChannelName)
	if err != nil {
		nlog.Errorf("stfsender: cannot dial input channel %s: %v", c.InputChannelName, err)
		return config.ExitBindFailure
	}
	defer in.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cc, err := rpc.Dial(ctx, c.SchedulerEndpoint)
	if err != nil {
		nlog.Errorf("stfsender: cannot reach scheduler %s: %v", c.SchedulerEndpoint, err)
		return config.ExitBindFailure
	}
	defer cc.Close()
	sched := rpc.NewSchedulerClient(cc)

	role := sender.New(sender.Config{
		SenderID:    c.ProcessID,
		MaxBuffered: c.MaxBufferedStfs,
		SinkEnabled: c.FileSink.Enable,
	}, in, sinkWriter, sched, sender.DialerFunc(dialBuilder), st)
	defer role.Close()

	reg := discovery.NewMemRegistry()
	reg.Put(fmt.Sprintf("role/stfsender/%s", c.ProcessID), discovery.Entry{
		RPCEndpoint: c.ListenAddr, PartitionID: c.PartitionID,
	})

	if c.GUI {
		mux := http.NewServeMux()
		mux.Handle("/metrics", st.Handler())
		go http.ListenAndServe(":0", mux) //nolint:errcheck
	}

	if err := role.Run(ctx); err != nil {
		nlog.Errorf("stfsender: role exited with error: %v", err)
	}
	nlog.Infof("stfsender: shutting down")
	return config.ExitOK
}

// dialBuilder adapts wire.Dial to the sender.Dialer interface; each
// assignment names the endpoint the builder registered with the
// scheduler.
func dialBuilder(endpoint string) (wire.Channel, error) {
	return wire.Dial(endpoint)
}
