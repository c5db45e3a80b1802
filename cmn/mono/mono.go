// Package mono provides a monotonic clock reading used for timeout and
// staleness comparisons throughout the pipeline.
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package mono

import "time"

// start anchors NanoTime to the monotonic clock reading taken at
// package initialization.
var start = time.Now()

// NanoTime returns a monotonically non-decreasing number of nanoseconds.
// It is not wall-clock time and must only be used for duration math.
func NanoTime() int64 { return int64(time.Since(start)) }

// Since returns the elapsed duration since a value previously returned
// by NanoTime.
func Since(t int64) time.Duration { return time.Duration(NanoTime() - t) }
