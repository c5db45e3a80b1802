package stfmodel

import (
	"encoding/binary"
	"fmt"

	"github.com/ironMann/DataDistribution/cmn/cos"
)

// DataHeader is the fixed-size header prefixing every part of an
// interleaved multipart STF message (§4.2). Layout (little-endian,
// 32 bytes total):
//
//	[0:4]   Origin       4-byte ASCII, space-padded
//	[4:20]  Description  16-byte ASCII, space-padded
//	[20:28] SubSpec      uint64
//	[28:32] PayloadSize  uint32
type DataHeader struct {
	Origin      Origin
	Description string
	SubSpec     uint64
	PayloadSize uint32
}

const dataHeaderSize = 32

// DataHeaderSize is the fixed wire size of a marshaled DataHeader, used
// by the wire package to frame the leading header of every part.
const DataHeaderSize = dataHeaderSize

// Marshal renders h as its fixed 32-byte wire representation.
func (h DataHeader) Marshal() []byte {
	buf := make([]byte, dataHeaderSize)
	copy(buf[0:4], padTrunc(string(h.Origin), 4))
	copy(buf[4:20], padTrunc(h.Description, 16))
	binary.LittleEndian.PutUint64(buf[20:28], h.SubSpec)
	binary.LittleEndian.PutUint32(buf[28:32], h.PayloadSize)
	return buf
}

// UnmarshalDataHeader parses a fixed 32-byte wire representation back
// into a DataHeader.
func UnmarshalDataHeader(buf []byte) (DataHeader, error) {
	if len(buf) != dataHeaderSize {
		return DataHeader{}, fmt.Errorf("%w: short data header (%d bytes)", cos.ErrMalformedMultipart, len(buf))
	}
	return DataHeader{
		Origin:      Origin(trimPad(buf[0:4])),
		Description: trimPad(buf[4:20]),
		SubSpec:     binary.LittleEndian.Uint64(buf[20:28]),
		PayloadSize: binary.LittleEndian.Uint32(buf[28:32]),
	}, nil
}

func padTrunc(s string, n int) []byte {
	b := make([]byte, n)
	copy(b, s)
	for i := len(s); i < n; i++ {
		b[i] = ' '
	}
	return b
}

func trimPad(b []byte) string {
	i := len(b)
	for i > 0 && b[i-1] == ' ' {
		i--
	}
	return string(b[:i])
}

// Part is one (header, payload) element of the interleaved multipart
// wire message, as produced by Encode and consumed by Decode.
type Part struct {
	Header  DataHeader
	Payload []byte
}

// Encode renders stf as the interleaved multipart sequence described
// in §4.2: a leading FLP/SUBTIMEFRAME part carrying the STF header
// body, followed by one (DataHeader, payload) pair per HBFrame, with
// each pair's SubSpec rewritten to (originalSubSpec<<32 | indexWithinBucket)
// for wire uniqueness (§4.2 scenario 6). The stored STF is never
// mutated; the rewrite applies to a transient copy of the header only.
func Encode(stf *STF) []Part {
	parts := make([]Part, 0, 1+stf.NumHBFrames())

	hdrBody := marshalHeaderBody(stf.Header())
	parts = append(parts, Part{
		Header: DataHeader{
			Origin:      originFLP,
			Description: descSubTimeFrame,
			SubSpec:     0,
			PayloadSize: uint32(len(hdrBody)),
		},
		Payload: hdrBody,
	})

	stf.ForEachBucket(func(_ DataIdentifier, sub SubSpec, frames []HBFrame) {
		high := uint64(sub) << 32
		for idx, f := range frames {
			h := f.Header
			h.SubSpec = high | uint64(idx)
			parts = append(parts, Part{Header: h, Payload: f.Payload})
		}
	})
	return parts
}

// Decode reconstructs an STF from the interleaved multipart sequence
// produced by Encode, restoring each frame's original (pre-rewrite)
// SubSpec by discarding the low 32 bits of the wire value - the index
// they encode is regenerated deterministically by bucket insertion
// order on the next Encode (§8 round-trip property).
func Decode(parts []Part) (*STF, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: empty multipart message", cos.ErrMalformedMultipart)
	}
	lead := parts[0]
	if lead.Header.Origin != originFLP || lead.Header.Description != descSubTimeFrame {
		return nil, fmt.Errorf("%w: missing leading STF header part", cos.ErrMalformedMultipart)
	}
	hdr, err := unmarshalHeaderBody(lead.Payload)
	if err != nil {
		return nil, err
	}

	stf := New(hdr.ID, hdr.Origin)
	for _, p := range parts[1:] {
		if uint32(len(p.Payload)) != p.Header.PayloadSize {
			return nil, fmt.Errorf("%w: payload size mismatch (header says %d, got %d)",
				cos.ErrMalformedMultipart, p.Header.PayloadSize, len(p.Payload))
		}
		sub := SubSpec(p.Header.SubSpec >> 32)
		id := DataIdentifier{Origin: p.Header.Origin, Description: p.Header.Description}
		if err := stf.Append(id, sub, p.Payload); err != nil {
			return nil, err
		}
	}
	return stf, nil
}

// marshalHeaderBody/unmarshalHeaderBody encode the STF's own Header
// (TFID + origin) as the payload of the leading FLP/SUBTIMEFRAME part.
func marshalHeaderBody(h Header) []byte {
	buf := make([]byte, 8+4)
	binary.LittleEndian.PutUint64(buf[0:8], h.ID)
	copy(buf[8:12], padTrunc(string(h.Origin), 4))
	return buf
}

func unmarshalHeaderBody(buf []byte) (Header, error) {
	if len(buf) != 12 {
		return Header{}, fmt.Errorf("%w: short STF header body (%d bytes)", cos.ErrMalformedMultipart, len(buf))
	}
	return Header{
		ID:     binary.LittleEndian.Uint64(buf[0:8]),
		Origin: Origin(trimPad(buf[8:12])),
	}, nil
}
