// Package wire provides the abstract transport collaborator the core
// consumes per spec.md §1 ("the core consumes an abstract Channel with
// NewMessage, Send, Receive") plus one concrete implementation,
// TCPChannel, used by the demo cmd/ binaries and integration tests.
// The real production transport (zero-copy multipart messaging) is
// explicitly out of scope; this package only has to carry the STF
// multipart parts produced by stfmodel.Encode across a connection.
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/ironMann/DataDistribution/stfmodel"
)

// Message is one framed unit exchanged over a Channel: the interleaved
// multipart parts of a single STF (§4.2).
type Message struct {
	Parts []stfmodel.Part
}

// NewMessage wraps the parts produced by stfmodel.Encode for transit
// over a Channel.
func NewMessage(parts []stfmodel.Part) *Message { return &Message{Parts: parts} }

// Channel is the abstract collaborator named in spec.md §1: something
// that can send and receive a Message. Implementations own the
// underlying connection and are responsible for closing it.
type Channel interface {
	Send(*Message) error
	Receive() (*Message, error)
	Close() error
}

// TCPChannel is a length-prefixed net.Conn framer: the concrete Channel
// used by the demo binaries in place of the out-of-scope zero-copy
// messaging framework.
type TCPChannel struct {
	conn net.Conn
	r    *bufio.Reader
	mu   sync.Mutex // serializes Send; net.Conn reads are only done by one goroutine
}

// NewTCPChannel wraps an already-connected net.Conn.
func NewTCPChannel(conn net.Conn) *TCPChannel {
	return &TCPChannel{conn: conn, r: bufio.NewReaderSize(conn, 64*1024)}
}

// Dial connects to addr and returns a ready Channel.
func Dial(addr string) (*TCPChannel, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewTCPChannel(conn), nil
}

// wire framing per message:
//
//	u32 numParts
//	repeated per part:
//	  [stfmodel.DataHeaderSize]byte marshaled DataHeader
//	  u32 payloadLen
//	  payloadLen bytes payload
//
// All integers little-endian per §6 ("Wire format... explicit u32/u64
// fields, little-endian").

// Send serializes msg and writes it to the connection. Concurrent Sends
// are serialized by c.mu; Send may run concurrently with Receive.
func (c *TCPChannel) Send(msg *Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(msg.Parts)))
	if _, err := c.conn.Write(hdr[:]); err != nil {
		return fmt.Errorf("wire: write part count: %w", err)
	}
	for _, p := range msg.Parts {
		if _, err := c.conn.Write(p.Header.Marshal()); err != nil {
			return fmt.Errorf("wire: write data header: %w", err)
		}
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(p.Payload)))
		if _, err := c.conn.Write(lenBuf[:]); err != nil {
			return fmt.Errorf("wire: write payload length: %w", err)
		}
		if len(p.Payload) > 0 {
			if _, err := c.conn.Write(p.Payload); err != nil {
				return fmt.Errorf("wire: write payload: %w", err)
			}
		}
	}
	return nil
}

// Receive blocks until one full Message has been read from the
// connection.
func (c *TCPChannel) Receive() (*Message, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(c.r, hdr[:]); err != nil {
		return nil, err
	}
	numParts := binary.LittleEndian.Uint32(hdr[:])

	parts := make([]stfmodel.Part, 0, numParts)
	for i := uint32(0); i < numParts; i++ {
		hdrBuf := make([]byte, stfmodel.DataHeaderSize)
		if _, err := io.ReadFull(c.r, hdrBuf); err != nil {
			return nil, fmt.Errorf("wire: read data header: %w", err)
		}
		dh, err := stfmodel.UnmarshalDataHeader(hdrBuf)
		if err != nil {
			return nil, err
		}
		var lenBuf [4]byte
		if _, err := io.ReadFull(c.r, lenBuf[:]); err != nil {
			return nil, fmt.Errorf("wire: read payload length: %w", err)
		}
		payloadLen := binary.LittleEndian.Uint32(lenBuf[:])
		payload := make([]byte, payloadLen)
		if payloadLen > 0 {
			if _, err := io.ReadFull(c.r, payload); err != nil {
				return nil, fmt.Errorf("wire: read payload: %w", err)
			}
		}
		parts = append(parts, stfmodel.Part{Header: dh, Payload: payload})
	}
	return &Message{Parts: parts}, nil
}

// Close closes the underlying connection.
func (c *TCPChannel) Close() error { return c.conn.Close() }

// Listener accepts inbound TCPChannels. The role binaries do not use it:
// they connect their data channels with Dial.
type Listener struct {
	ln net.Listener
}

// Listen binds addr and returns a Listener ready to Accept.
func Listen(addr string) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Listener{ln: ln}, nil
}

// Addr returns the bound address, useful when addr was ":0".
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Accept blocks for the next inbound connection and wraps it as a
// Channel.
func (l *Listener) Accept() (*TCPChannel, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	return NewTCPChannel(conn), nil
}

// Close stops accepting new connections.
func (l *Listener) Close() error { return l.ln.Close() }
