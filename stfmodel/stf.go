// Package stfmodel implements the in-memory Sub-Time-Frame aggregate
// (§3) and its wire codec (§4.2): a single FLP's contribution to one
// Time-Frame, keyed by (origin, description, subspec), plus the
// interleaved multipart encode/decode rules.
/*
 * Copyright (c) 2018-2022, NVIDIA CORPORATION. All rights reserved.
 */
package stfmodel

import (
	"sync"

	"github.com/ironMann/DataDistribution/cmn/cos"
	"github.com/ironMann/DataDistribution/cmn/debug"
)

// TFID is the monotonically increasing Time-Frame identifier assigned
// by the readout.
type TFID = uint64

// Origin is the 4-character detector/producer tag carried by every
// DataHeader (e.g. "TPC", "FLP").
type Origin string

// originFLP is the fixed origin of the leading DataHeader that carries
// the STF header body itself (§4.2).
const originFLP Origin = "FLP"

// descSubTimeFrame is the fixed description of the leading DataHeader.
const descSubTimeFrame = "SUBTIMEFRAME"

// DataIdentifier names a detector data stream: (origin, description).
type DataIdentifier struct {
	Origin      Origin
	Description string
}

// SubSpec is the 64-bit sub-specification tag extracted from the raw
// readout header (§4.7); in practice the value returned by
// rdh.ExtractSubSpec fits in the low 32 bits.
type SubSpec uint64

// HBFrame is one detector readout fragment: a fixed-size DataHeader
// (Header) describing it, and its opaque payload. Both buffers are
// owned by the STF until ownership transfers out through the pipeline.
type HBFrame struct {
	Header  DataHeader
	Payload []byte
}

// Header is the STF's own header body (StfHeaderBody in §4.2).
type Header struct {
	ID     TFID
	Origin Origin
}

type bucketKey struct {
	ID  DataIdentifier
	Sub SubSpec
}

type bucket struct {
	key    bucketKey
	frames []HBFrame
}

// STF is the in-memory aggregate contributed by a single FLP for one
// TFID (§3). It is mutated exclusively by the builder's input thread
// until Finalize is called, after which it is treated as immutable and
// passed through the pipeline by ownership transfer.
type STF struct {
	mu        sync.Mutex
	header    Header
	buckets   []*bucket
	index     map[bucketKey]int
	finalized bool
}

// New constructs an empty STF for a newly-seen TFID, as the builder's
// input interface does on the first fragment of a new Time-Frame.
func New(id TFID, origin Origin) *STF {
	return &STF{
		header: Header{ID: id, Origin: origin},
		index:  make(map[bucketKey]int),
	}
}

func (s *STF) ID() TFID        { return s.header.ID }
func (s *STF) Header() Header  { return s.header }
func (s *STF) Finalized() bool { s.mu.Lock(); defer s.mu.Unlock(); return s.finalized }

// Append adds one HBFrame to the (origin, description, subspec) bucket,
// preserving insertion order within the bucket (§3 invariant). It is an
// error to append to a finalized STF.
func (s *STF) Append(id DataIdentifier, sub SubSpec, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalized {
		return cos.NewErrNotFound("append to finalized STF %d", s.header.ID)
	}
	key := bucketKey{ID: id, Sub: sub}
	hdr := DataHeader{Origin: id.Origin, Description: id.Description, SubSpec: uint64(sub), PayloadSize: uint32(len(payload))}
	frame := HBFrame{Header: hdr, Payload: payload}

	idx, ok := s.index[key]
	if !ok {
		idx = len(s.buckets)
		s.index[key] = idx
		s.buckets = append(s.buckets, &bucket{key: key})
	}
	s.buckets[idx].frames = append(s.buckets[idx].frames, frame)
	return nil
}

// Finalize marks the STF immutable: the end-of-TF marker arrived, or
// the staleness timeout elapsed since its last fragment (§3 Lifecycle).
func (s *STF) Finalize() {
	s.mu.Lock()
	s.finalized = true
	s.mu.Unlock()
}

// NumHBFrames returns the total number of HBFrames across all buckets.
func (s *STF) NumHBFrames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.buckets {
		n += len(b.frames)
	}
	return n
}

// DataSize sums payload bytes across all HBFrames - used for the
// scheduler's per-TF `bytes` accounting (§4.6 StfSenderStfUpdate).
func (s *STF) DataSize() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, b := range s.buckets {
		for _, f := range b.frames {
			n += int64(len(f.Payload))
		}
	}
	return n
}

// ForEachBucket walks buckets (and, within each, HBFrames) in insertion
// order - the order the codec relies on for the subspec-index rewrite
// (§4.2) and that replay must reproduce (§8 round-trip property).
func (s *STF) ForEachBucket(fn func(id DataIdentifier, sub SubSpec, frames []HBFrame)) {
	s.mu.Lock()
	buckets := make([]*bucket, len(s.buckets))
	copy(buckets, s.buckets)
	s.mu.Unlock()

	for _, b := range buckets {
		debug.Assert(len(b.frames) > 0)
		fn(b.key.ID, b.key.Sub, b.frames)
	}
}
