// Package nlog is the Data Distribution logger: leveled, file-backed,
// with stderr fallback before flags are parsed and size-based rotation.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package nlog

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// MaxSize is the per-file rotation threshold.
var MaxSize int64 = 64 * 1024 * 1024

type severity int

const (
	sevInfo severity = iota
	sevWarn
	sevErr
)

var sevChar = [...]byte{sevInfo: 'I', sevWarn: 'W', sevErr: 'E'}

var (
	toStderr     bool
	alsoToStderr bool

	mu      sync.Mutex
	logDir  string
	role    string
	file    *os.File
	bw      *bufio.Writer
	written int64
)

// InitFlags registers the standard logtostderr/alsologtostderr flags,
// mirroring the teacher's nlog.InitFlags.
func InitFlags(flset *flag.FlagSet) {
	flset.BoolVar(&toStderr, "logtostderr", false, "log to standard error instead of files")
	flset.BoolVar(&alsoToStderr, "alsologtostderr", false, "log to standard error as well as files")
}

// SetLogDirRole configures the destination directory and the role tag
// (e.g. "stfbuilder", "stfsender", "tfscheduler") used in file names.
// Each role calls this once during init, before the first log line.
func SetLogDirRole(dir, r string) {
	mu.Lock()
	defer mu.Unlock()
	logDir, role = dir, r
}

func Infof(format string, args ...any)    { write(sevInfo, fmt.Sprintf(format, args...)) }
func Infoln(args ...any)                  { write(sevInfo, fmt.Sprintln(args...)) }
func Warningf(format string, args ...any) { write(sevWarn, fmt.Sprintf(format, args...)) }
func Warningln(args ...any)               { write(sevWarn, fmt.Sprintln(args...)) }
func Errorf(format string, args ...any)   { write(sevErr, fmt.Sprintf(format, args...)) }
func Errorln(args ...any)                 { write(sevErr, fmt.Sprintln(args...)) }

func write(sev severity, msg string) {
	line := fmt.Sprintf("%c %s %s\n", sevChar[sev], time.Now().Format("15:04:05.000000"), msg)

	if !flag.Parsed() || toStderr || alsoToStderr || sev >= sevWarn {
		os.Stderr.WriteString(line)
		if toStderr {
			return
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if bw == nil {
		if openLocked() != nil {
			return
		}
	}
	n, _ := bw.WriteString(line)
	written += int64(n)
	if written >= MaxSize {
		rotateLocked()
	}
}

func openLocked() error {
	dir := logDir
	if dir == "" {
		dir = os.TempDir()
	}
	name := fmt.Sprintf("%s.%s.%d.log", role, time.Now().Format("20060102-150405"), os.Getpid())
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		os.Stderr.WriteString("nlog: cannot open log file: " + err.Error() + "\n")
		return err
	}
	file = f
	bw = bufio.NewWriter(file)
	written = 0
	return nil
}

// under mu
func rotateLocked() {
	bw.Flush()
	file.Close()
	file, bw = nil, nil
}

// Flush syncs buffered log lines to disk. Pass true on final shutdown
// to also close the underlying file.
func Flush(exit ...bool) {
	mu.Lock()
	defer mu.Unlock()
	if bw == nil {
		return
	}
	bw.Flush()
	if len(exit) > 0 && exit[0] {
		file.Sync()
		file.Close()
		file, bw = nil, nil
	}
}
