// Package rpc hand-authors the scheduler's gRPC service (§4.6, §6):
// six methods over plain Go struct messages, carried by a gob codec
// registered in place of protobuf so no .proto/protoc step is needed.
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package rpc

import (
	"bytes"
	"encoding/gob"

	"google.golang.org/grpc/encoding"
)

// codecSubtype is the gRPC content-subtype this package's messages are
// carried under; calls opt into it with grpc.CallContentSubtype.
const codecSubtype = "gob"

// gobCodec implements encoding.Codec using encoding/gob for the wire
// payload - every message type in this package is a plain Go struct,
// never a protobuf message, so there is no codegen step to run.
type gobCodec struct{}

func (gobCodec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func (gobCodec) Name() string { return codecSubtype }

func init() {
	encoding.RegisterCodec(gobCodec{})
}
