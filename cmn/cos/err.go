// Package cos provides common low-level types and utilities shared by
// every role (stfbuilder, stfsender, tfscheduler).
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	ratomic "sync/atomic"
	"syscall"

	"github.com/ironMann/DataDistribution/cmn/debug"
)

// Error kinds named in §7 of the specification. Each is a sentinel or
// a small typed error; callers classify with errors.Is/errors.As the
// usual way.
var (
	ErrConfigInvalid      = errors.New("invalid configuration")
	ErrMalformedMultipart = errors.New("malformed multipart STF message")
	ErrPipelineFull       = errors.New("pipeline stage is full")
	ErrIOFailure          = errors.New("file sink/source I/O failure")
	ErrRPCUnavailable     = errors.New("scheduler RPC unavailable")
	ErrBuilderUnreachable = errors.New("assigned builder unreachable")
	ErrBuilderStale       = errors.New("builder excluded: heartbeat timeout")
)

type (
	ErrNotFound struct{ what string }

	// Errs is a deduping collector of up to maxErrs distinct errors,
	// safe for concurrent use (e.g. accumulated across pipeline stages
	// during shutdown diagnostics).
	Errs struct {
		errs []error
		cnt  int64
		mu   sync.Mutex
	}
)

func NewErrNotFound(format string, a ...any) *ErrNotFound {
	return &ErrNotFound{fmt.Sprintf(format, a...)}
}

func (e *ErrNotFound) Error() string { return e.what + " does not exist" }

func IsErrNotFound(err error) bool {
	_, ok := err.(*ErrNotFound)
	return ok
}

const maxErrs = 4

func (e *Errs) Add(err error) {
	debug.Assert(err != nil)
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, added := range e.errs {
		if added.Error() == err.Error() {
			return
		}
	}
	if len(e.errs) < maxErrs {
		e.errs = append(e.errs, err)
		ratomic.StoreInt64(&e.cnt, int64(len(e.errs)))
	}
}

func (e *Errs) Cnt() int { return int(ratomic.LoadInt64(&e.cnt)) }

func (e *Errs) Error() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.errs) == 0 {
		return ""
	}
	err := e.errs[0]
	if n := len(e.errs); n > 1 {
		return fmt.Sprintf("%v (and %d more error%s)", err, n-1, plural(n-1))
	}
	return err.Error()
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

//
// retriable/unreachable classification of network errors (§7
// RpcUnavailable / BuilderUnreachable); the sender's retry loops do not
// call these and retry on any error
//

func IsErrConnectionRefused(err error) bool { return errors.Is(err, syscall.ECONNREFUSED) }
func IsErrConnectionReset(err error) bool   { return errors.Is(err, syscall.ECONNRESET) }
func IsErrBrokenPipe(err error) bool        { return errors.Is(err, syscall.EPIPE) }

func IsRetriableConnErr(err error) bool {
	return IsErrConnectionRefused(err) || IsErrConnectionReset(err) || IsErrBrokenPipe(err)
}

func isErrDNSLookup(err error) bool {
	_, ok := err.(*net.DNSError)
	return ok
}

func IsUnreachable(err error) bool {
	return IsErrConnectionRefused(err) || isErrDNSLookup(err) || errors.Is(err, os.ErrDeadlineExceeded)
}

//
// abnormal termination - used for ConfigInvalid (§7): fatal at init
//

const fatalPrefix = "FATAL ERROR: "

func Exitf(f string, a ...any) {
	fmt.Fprintln(os.Stderr, fmt.Sprintf(fatalPrefix+f, a...))
	os.Exit(1)
}
