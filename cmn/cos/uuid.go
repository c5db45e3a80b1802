// Package cos provides common low-level types and utilities shared by
// every role (stfbuilder, stfsender, tfscheduler).
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"crypto/rand"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/OneOfOne/xxhash"
	"github.com/teris-io/shortid"
)

// Alphabet for generating short IDs, same alphabet family as shortid's
// default one.
const uuidABC = "-5nZJDft6LuzsjGNpPwY7rQa39vehq4i1cV2FROo8yHSlC0BUEdWbIxMmTgKXAk_"

const (
	LenShortID   = 9  // UUID length, per https://github.com/teris-io/shortid#id-length
	lenProcessID = 8  // min length for a generated processId
	tooLongID    = 32 // cannot be smaller than any of the valid max lengths above
)

const (
	mayOnlyContain = "may only contain letters, numbers, dashes (-), underscores (_)"
	OnlyNice       = "must be less than 32 characters and " + mayOnlyContain
)

var (
	sid  *shortid.Shortid
	rtie atomic.Uint32
)

// InitShortID seeds the process-wide short-id generator; called once at
// role startup (the role binaries pass their process id as the seed).
func InitShortID(seed uint64) {
	sid = shortid.MustNew(4 /*worker*/, uuidABC, seed)
}

// GenUUID generates a short, URL-safe, globally-unique-enough id used
// for STF sink session directory names (§4.5).
func GenUUID() (uuid string) {
	var h, t string
	uuid = sid.MustGenerate()
	if !isAlpha(uuid[0]) {
		tie := int(rtie.Add(1))
		h = string(rune('A' + tie%26))
	}
	if c := uuid[len(uuid)-1]; c == '-' || c == '_' {
		tie := int(rtie.Add(1))
		t = string(rune('a' + tie%26))
	}
	return h + uuid + t
}

func IsValidUUID(uuid string) bool {
	return len(uuid) >= LenShortID && IsAlphaNice(uuid)
}

//
// processId
//

// GenProcessID generates a fresh processId for a builder/sender/scheduler
// instance that wasn't given one on the command line.
func GenProcessID() string { return CryptoRandS(lenProcessID) }

func ValidateProcessID(id string) error {
	if len(id) < lenProcessID {
		return fmt.Errorf("processId %q is too short", id)
	}
	if !isAlpha(id[0]) || !IsAlphaNice(id) {
		return fmt.Errorf("processId %q is invalid: must start with a letter, "+OnlyNice, id)
	}
	return nil
}

// HashProcessID derives a short, stable processId from an endpoint
// string (e.g. "10.0.0.4:9000"), so a builder/sender restarted with the
// same endpoint reclaims the same identity in the scheduler's registry.
func HashProcessID(endpoint string) string {
	digest := xxhash.ChecksumString64(endpoint)
	pid := strconv.FormatUint(digest, 36)
	if pid[0] >= '0' && pid[0] <= '9' {
		pid = "p" + pid
	}
	return pid
}

func CryptoRandS(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	out := make([]byte, n)
	for i, c := range b {
		out[i] = uuidABC[int(c)%len(uuidABC)]
	}
	if !isAlpha(out[0]) {
		out[0] = 'a'
	}
	return string(out)
}

//
// utility
//

func isAlpha(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// IsAlphaNice: letters and numbers with '-'/'_' permitted in the middle.
func IsAlphaNice(s string) bool {
	l := len(s)
	if l >= tooLongID {
		return false
	}
	for i := 0; i < l; i++ {
		c := s[i]
		if isAlpha(c) || (c >= '0' && c <= '9') {
			continue
		}
		if c != '-' && c != '_' {
			return false
		}
		if i == 0 || i == l-1 {
			return false
		}
	}
	return true
}
