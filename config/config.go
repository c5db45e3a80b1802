// Package config implements the common-line surface (§6) shared by the
// three role binaries: standard `flag` registration layered with an
// optional YAML overlay file for the parts of the surface that are
// awkward as flags (the file-sink block).
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package config

import (
	"flag"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/ironMann/DataDistribution/cmn/cos"
	"github.com/ironMann/DataDistribution/rdh"
	"github.com/ironMann/DataDistribution/sink"
)

// Exit codes (§6 "distinct codes reserved for missing-dir, invalid-flag,
// bind-failure").
const (
	ExitOK            = 0
	ExitInvalidFlag   = 1
	ExitMissingDir    = 2
	ExitBindFailure   = 3
	ExitConfigInvalid = 4
)

// Common bundles the command-line surface every role parses (§6),
// regardless of which role-specific fields a binary adds on top.
type Common struct {
	InputChannelName  string
	OutputChannelName string
	DplChannelName    string
	StandAlone        bool
	MaxBufferedStfs   int
	GUI               bool
	Detector          string

	RDHDataCheck            rdh.SanityCheckMode
	RDHFilterEmptyTriggerV4 bool

	FileSink sink.Config

	SchedulerEndpoint string
	ListenAddr        string
	ProcessID         string
	PartitionID       string
	LogDir            string

	ConfigFile string
}

// RegisterFlags binds Common's fields to fs, matching the defaults a
// role would otherwise hardcode. Role binaries call this first, then
// add any role-specific flags to the same fs before fs.Parse.
func RegisterFlags(fs *flag.FlagSet, c *Common) {
	fs.StringVar(&c.InputChannelName, "input-channel-name", "", "name of the inbound data channel")
	fs.StringVar(&c.OutputChannelName, "output-channel-name", "", "name of the outbound data channel")
	fs.StringVar(&c.DplChannelName, "dpl-channel-name", "", "name of the data-processing-framework bridge channel")
	fs.BoolVar(&c.StandAlone, "stand-alone", false, "run without a downstream send (sink-only or test mode)")
	fs.IntVar(&c.MaxBufferedStfs, "max-buffered-stfs", 0, "cap on in-flight STFs (0 = role default)")
	fs.BoolVar(&c.GUI, "gui", false, "expose the metrics endpoint")
	fs.StringVar(&c.Detector, "detector", "", "detector tag for this instance")

	fs.Var(&c.RDHDataCheck, "rdh-data-check", "off|drop|print")
	fs.BoolVar(&c.RDHFilterEmptyTriggerV4, "rdh-filter-empty-trigger-v4", false, "drop RDHv4 heartbeat-only empty blocks")

	fs.BoolVar(&c.FileSink.Enable, "fs-enable", false, "enable the file sink")
	fs.StringVar(&c.FileSink.RootDir, "fs-dir", "", "file-sink root directory")
	fs.StringVar(&c.FileSink.FileName, "fs-file-name", "%n", "file-sink file name template")
	fs.Uint64Var(&c.FileSink.StfsPerFile, "fs-stfs-per-file", 0, "rotate after this many STFs (0 = unlimited)")
	fs.Uint64Var(&c.FileSink.FileSizeMiB, "fs-file-size", 0, "rotate after this many MiB (0 = unlimited)")
	fs.BoolVar(&c.FileSink.Sidecar, "fs-sidecar", false, "write a sidecar index alongside each file")

	fs.StringVar(&c.SchedulerEndpoint, "scheduler-endpoint", "", "TF Scheduler RPC endpoint (host:port)")
	fs.StringVar(&c.ListenAddr, "listen-addr", ":0", "address this role's own RPC/data listener binds")
	fs.StringVar(&c.ProcessID, "process-id", "", "this instance's processId (generated if empty)")
	fs.StringVar(&c.PartitionID, "partition-id", "", "partition identifier")
	fs.StringVar(&c.LogDir, "log-dir", "", "directory for role log files (empty = os.TempDir())")

	fs.StringVar(&c.ConfigFile, "config", "", "optional YAML file overlaying the file-sink block")
}

// yamlOverlay mirrors the subset of Common worth expressing in a file
// rather than on a command line (§0 Configuration: "layered with an
// optional YAML file... for the file-sink block and scheduler endpoint").
type yamlOverlay struct {
	SchedulerEndpoint string `yaml:"schedulerEndpoint"`
	FileSink          struct {
		Enable      bool   `yaml:"enable"`
		Dir         string `yaml:"dir"`
		FileName    string `yaml:"fileName"`
		StfsPerFile uint64 `yaml:"stfsPerFile"`
		FileSizeMiB uint64 `yaml:"fileSizeMiB"`
		Sidecar     bool   `yaml:"sidecar"`
	} `yaml:"fileSink"`
}

// ApplyOverlay loads c.ConfigFile, if set, and fills in any field the
// command line left at its zero value. Flags always win over the file
// when both are set.
func (c *Common) ApplyOverlay() error {
	if c.ConfigFile == "" {
		return nil
	}
	raw, err := os.ReadFile(c.ConfigFile)
	if err != nil {
		return errors.Wrapf(err, "config: cannot read overlay file %q", c.ConfigFile)
	}
	var ov yamlOverlay
	if err := yaml.Unmarshal(raw, &ov); err != nil {
		return errors.Wrapf(err, "config: cannot parse overlay file %q", c.ConfigFile)
	}

	if c.SchedulerEndpoint == "" {
		c.SchedulerEndpoint = ov.SchedulerEndpoint
	}
	if !c.FileSink.Enable {
		c.FileSink.Enable = ov.FileSink.Enable
	}
	if c.FileSink.RootDir == "" {
		c.FileSink.RootDir = ov.FileSink.Dir
	}
	if c.FileSink.FileName == "" || c.FileSink.FileName == "%n" {
		if ov.FileSink.FileName != "" {
			c.FileSink.FileName = ov.FileSink.FileName
		}
	}
	if c.FileSink.StfsPerFile == 0 {
		c.FileSink.StfsPerFile = ov.FileSink.StfsPerFile
	}
	if c.FileSink.FileSizeMiB == 0 {
		c.FileSink.FileSizeMiB = ov.FileSink.FileSizeMiB
	}
	if !c.FileSink.Sidecar {
		c.FileSink.Sidecar = ov.FileSink.Sidecar
	}
	return nil
}

// Validate checks the parts of Common every role shares, returning an
// (exitCode, error) pair so main() can print and os.Exit distinctly
// per §6 ("non-zero on config/validation failure; distinct codes
// reserved for missing-dir, invalid-flag, bind-failure").
func (c *Common) Validate() (exitCode int, err error) {
	if c.PartitionID == "" {
		return ExitInvalidFlag, errors.New("config: -partition-id is required")
	}
	if c.ProcessID == "" {
		c.ProcessID = cos.GenProcessID()
	} else if verr := cos.ValidateProcessID(c.ProcessID); verr != nil {
		return ExitInvalidFlag, errors.Wrap(verr, "config")
	}
	if c.FileSink.Enable {
		info, statErr := os.Stat(c.FileSink.RootDir)
		if statErr != nil || !info.IsDir() {
			return ExitMissingDir, errors.Errorf("config: file-sink root directory %q does not exist", c.FileSink.RootDir)
		}
	}
	if !c.StandAlone && c.SchedulerEndpoint == "" {
		return ExitInvalidFlag, errors.New("config: -scheduler-endpoint is required unless -stand-alone is set")
	}
	return ExitOK, nil
}
