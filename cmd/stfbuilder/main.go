// Command stfbuilder runs the STF Builder role (§4.3): assembles
// readout fragments into STFs, optionally sinks them, and forwards
// them to an STF Sender or a data-processing framework bridge.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ironMann/DataDistribution/builder"
	"github.com/ironMann/DataDistribution/cmn/cos"
	"github.com/ironMann/DataDistribution/cmn/nlog"
	"github.com/ironMann/DataDistribution/cmn/stats"
	"github.com/ironMann/DataDistribution/config"
	"github.com/ironMann/DataDistribution/discovery"
	"github.com/ironMann/DataDistribution/hk"
	"github.com/ironMann/DataDistribution/sink"
	"github.com/ironMann/DataDistribution/wire"
)

func main() {
	os.Exit(run())
}

func run() int {
	fs := flag.NewFlagSet("stfbuilder", flag.ContinueOnError)
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

	nlog.SetLogDirRole(c.LogDir, "stfbuilder")
	defer nlog.Flush(true)
	cos.InitShortID(uint64(os.Getpid()))

	st := stats.NewRegistry("stfbuilder")
	go hk.DefaultHK.Run()
	defer hk.Stop()

	var sinkWriter *sink.Writer
	if c.FileSink.Enable {
		dir, err := sink.SessionDir(c.FileSink.RootDir)
		if err != nil {
			nlog.Errorf("stfbuilder: %v", err)
			return config.ExitMissingDir
		}
		sinkWriter = sink.NewWriter(c.FileSink, dir)
		defer sinkWriter.Close()
	}

	mode := builder.ModeStandalone
	var out wire.Channel
	if !c.StandAlone {
		mode = builder.ModeDirect
		outputChannel := c.OutputChannelName
		if c.DplChannelName != "" {
			mode = builder.ModeBridged
			outputChannel = c.DplChannelName
		}
		if outputChannel == "" {
			fmt.Fprintln(os.Stderr, "config: -output-channel-name (or -dpl-channel-name in bridged mode) is required unless -stand-alone is set")
			return config.ExitInvalidFlag
		}
		ch, err := wire.Dial(outputChannel)
		if err != nil {
			nlog.Errorf("stfbuilder: cannot dial output channel %s: %v", outputChannel, err)
			return config.ExitBindFailure
		}
		out = ch
		defer out.Close()
	}

	role := builder.New(builder.Config{
		MaxBuffered:             c.MaxBufferedStfs,
		SinkEnabled:             c.FileSink.Enable,
		Mode:                    mode,
		RDHCheck:                c.RDHDataCheck,
		RDHFilterEmptyTriggerV4: c.RDHFilterEmptyTriggerV4,
	}, sinkWriter, out, st)

	// The raw-readout-fragment transport is out of scope (§1): only an
	// abstract Channel is specified for the core, and that Channel is
	// scoped to whole-STF multipart messages, not per-fragment input.
	// net.Listen + gob (fragments.go) stand in for this binary's demo.
	ln, err := net.Listen("tcp", c.ListenAddr)
	if err != nil {
		nlog.Errorf("stfbuilder: bind failed on %s: %v", c.ListenAddr, err)
		return config.ExitBindFailure
	}
	defer ln.Close()

	reg := discovery.NewMemRegistry()
	reg.Put(fmt.Sprintf("role/stfbuilder/%s", c.ProcessID), discovery.Entry{
		RPCEndpoint: ln.Addr().String(), PartitionID: c.PartitionID,
	})

	if c.GUI {
		mux := http.NewServeMux()
		mux.Handle("/metrics", st.Handler())
		go http.ListenAndServe(":0", mux) //nolint:errcheck
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go serveFragments(ln, role)
	go func() { <-ctx.Done(); ln.Close() }()

	if err := role.Run(ctx); err != nil {
		nlog.Errorf("stfbuilder: role exited with error: %v", err)
	}
	nlog.Infof("stfbuilder: shutting down")
	return config.ExitOK
}
