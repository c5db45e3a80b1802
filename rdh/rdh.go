// Package rdh implements the raw readout header codec described in
// §4.7: subspec extraction, a configurable sanity-check mode, and an
// optional RDH v4 empty-trigger filter. The real hardware RDH byte
// layout is out of scope per spec.md §1 ("a separate codec module
// provides subspec extraction and sanity checks"); rawRDH below is a
// minimal, documented stand-in sufficient to exercise the extraction
// and filtering contracts.
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package rdh

import (
	"encoding/binary"
	"fmt"

	"github.com/ironMann/DataDistribution/cmn/nlog"
)

// rawRDHSize is the stand-in header's fixed size in bytes.
const rawRDHSize = 16

// HeaderSize is rawRDHSize exported for callers that need to split a
// raw fragment buffer into its header and detector-payload portions
// after extraction/sanity-checking (§4.7).
const HeaderSize = rawRDHSize

// Layout of the stand-in RDH, little-endian:
//
//	[0:1]   version      (4 in the real format; filtering cares only about v4)
//	[1:1]   headerSize   (in 32-bit words, unused here)
//	[2:4]   cruId        uint16
//	[4:5]   endpointId   uint8
//	[5:6]   linkId       uint8
//	[6:8]   memorySize   uint16 (total size of this HBFrame's block, bytes)
//	[8:10]  triggerType  uint16 (bit 0x10 set => heartbeat-trigger-only per RDHv4)
//	[10:16] reserved
const (
	offVersion     = 0
	offCruID       = 2
	offEndpointID  = 4
	offLinkID      = 5
	offMemorySize  = 6
	offTriggerType = 8

	rdhVersion4 = 4

	// triggerHB marks a block carrying only a heartbeat trigger, no
	// detector payload (RDH v4 semantics referenced in §4.7).
	triggerHB = 0x0010
)

// SubSpec is the 32-bit subspecification tag derived from a raw RDH's
// (cruId, endpointId, linkId) triple (§4.7).
type SubSpec = uint32

// ExtractSubSpec derives the 32-bit subspec tag from the first RDH in
// buf. It does not validate the buffer; call Sanitize first when the
// configured mode requires it.
func ExtractSubSpec(buf []byte) (SubSpec, error) {
	if len(buf) < rawRDHSize {
		return 0, fmt.Errorf("rdh: buffer too short (%d bytes)", len(buf))
	}
	cruID := binary.LittleEndian.Uint16(buf[offCruID:])
	endpointID := buf[offEndpointID]
	linkID := buf[offLinkID]
	return uint32(cruID)<<16 | uint32(endpointID)<<8 | uint32(linkID), nil
}

// version returns the RDH version field of the first header in buf.
func version(buf []byte) uint8 { return buf[offVersion] }

// isEmptyTriggerV4 reports whether the first header in buf is a v4
// heartbeat-trigger-only block with no detector payload.
func isEmptyTriggerV4(buf []byte) bool {
	if len(buf) < rawRDHSize || version(buf) != rdhVersion4 {
		return false
	}
	trig := binary.LittleEndian.Uint16(buf[offTriggerType:])
	return trig&triggerHB != 0
}

// looksSane is a minimal structural check used by the drop/print
// sanity modes: a non-zero memory size that does not exceed the length
// of buf. The version field is not checked.
func looksSane(buf []byte) bool {
	if len(buf) < rawRDHSize {
		return false
	}
	memSize := binary.LittleEndian.Uint16(buf[offMemorySize:])
	return memSize > 0 && memSize <= uint16(len(buf))
}

// SanityCheckMode selects how malformed RDH buffers are handled, per
// the `off|drop|print` configuration token (§4.7, §6). It implements
// flag.Value so it can be bound directly to a CLI flag.
type SanityCheckMode int

const (
	Off SanityCheckMode = iota
	Drop
	Print
)

func (m SanityCheckMode) String() string {
	switch m {
	case Off:
		return "off"
	case Drop:
		return "drop"
	case Print:
		return "print"
	default:
		return "unknown"
	}
}

// Set implements flag.Value, parsing the `off|drop|print` token.
func (m *SanityCheckMode) Set(s string) error {
	switch s {
	case "off":
		*m = Off
	case "drop":
		*m = Drop
	case "print":
		*m = Print
	default:
		return fmt.Errorf("rdh: invalid sanity-check mode %q (want off|drop|print)", s)
	}
	return nil
}

// Sanitize applies the configured mode to buf. off always keeps the
// buffer; drop discards (ok=false) malformed buffers silently; print
// logs a warning for malformed buffers but keeps them.
func (m SanityCheckMode) Sanitize(buf []byte) (ok bool) {
	switch m {
	case Off:
		return true
	case Drop:
		return looksSane(buf)
	case Print:
		if !looksSane(buf) {
			nlog.Warningf("rdh: sanity check failed on %d-byte block, keeping (mode=print)", len(buf))
		}
		return true
	default:
		return true
	}
}

// FilterEmptyTriggerV4 reports whether buf should be dropped as an
// RDH v4 heartbeat-trigger-only empty block, when enable is true
// (§6 `rdh-filter-empty-trigger-v4`). When enable is false it never
// drops anything.
func FilterEmptyTriggerV4(buf []byte, enable bool) (drop bool) {
	if !enable {
		return false
	}
	return isEmptyTriggerV4(buf)
}
