// Package sink implements the rolling file sink/source described in
// §4.5: a single-writer thread that serializes STFs to disk with
// rotation, filename templating, and an optional sidecar index, plus
// the symmetric reader used in replay mode.
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package sink

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/ironMann/DataDistribution/cmn/cos"
	"github.com/ironMann/DataDistribution/cmn/nlog"
	"github.com/ironMann/DataDistribution/stfmodel"
)

// sidecarJSON is the jsoniter API used for the sidecar index: one JSON
// object per line, since the sidecar format is explicitly unstable
// (§4.5) and doesn't need the binary record format's compactness.
var sidecarJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// sidecarEntry is one line of the sidecar index file.
type sidecarEntry struct {
	RecordOffset uint64 `json:"recordOffset"`
	RecordLen    uint64 `json:"recordLen"`
	TFID         uint64 `json:"tfid"`
	NumHBF       uint32 `json:"nHBF"`
}

// recordMagic identifies a StfFileRecord per §4.5's on-disk layout.
const recordMagic uint64 = 0x5354464653544631

// recordHeaderSize is the fixed size of RecordHeader: magic, recordLen,
// tfid, nHBF, flags.
const recordHeaderSize = 8 + 8 + 8 + 4 + 4

// Config holds the file-sink block of the per-role CLI surface (§6).
type Config struct {
	Enable      bool
	RootDir     string
	FileName    string // templating pattern, default "%n"
	StfsPerFile uint64 // 0 = unlimited
	FileSizeMiB uint64 // rotate when reached
	Sidecar     bool
}

// SessionDir creates rootDir/<session-id>/ once per run and returns its
// path. The session id is a freshly generated unique name (§4.5).
func SessionDir(rootDir string) (string, error) {
	info, err := os.Stat(rootDir)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: sink root directory %q does not exist", cos.ErrConfigInvalid, rootDir)
	}
	id := cos.GenUUID()
	dir := filepath.Join(rootDir, id)
	if err := os.Mkdir(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: cannot create session directory %q: %v", cos.ErrIOFailure, dir, err)
	}
	return dir, nil
}

// NewStfFileName renders cfg.FileName against idx and the current
// local time, substituting the %n/%D/%T tokens (§4.5).
func NewStfFileName(pattern string, idx uint64) string {
	now := time.Now()
	r := strings.NewReplacer(
		"%n", fmt.Sprintf("%08d", idx),
		"%D", now.Format("2006-01-02"),
		"%T", now.Format("15_04_05"),
	)
	return r.Replace(pattern)
}

// Writer is the single-writer file sink: it serializes STFs to a
// rotating sequence of files under dir, per Config.
type Writer struct {
	cfg Config
	dir string

	fileIdx   uint64
	cur       *os.File
	bw        *bufio.Writer
	curSize   uint64
	curCount  uint64
	sidecar   *os.File
	recOffset uint64

	disabled bool
}

// NewWriter constructs a Writer rooted at dir (normally the result of
// SessionDir).
func NewWriter(cfg Config, dir string) *Writer {
	return &Writer{cfg: cfg, dir: dir}
}

// Enabled reports whether the sink is still accepting writes; it is
// permanently disabled after the first I/O error (§4.5: "write errors
// disable the sink for the remainder of the run").
func (w *Writer) Enabled() bool { return !w.disabled }

func (w *Writer) openNext() error {
	name := NewStfFileName(w.cfg.FileName, w.fileIdx)
	w.fileIdx++
	f, err := os.OpenFile(filepath.Join(w.dir, name), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	w.cur = f
	w.bw = bufio.NewWriterSize(f, 256*1024)
	w.curSize, w.curCount, w.recOffset = 0, 0, 0

	if w.cfg.Sidecar {
		sc, err := os.OpenFile(filepath.Join(w.dir, name+".idx"), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			f.Close()
			w.cur = nil
			return err
		}
		w.sidecar = sc
	}
	return nil
}

// Write appends one STF as a StfFileRecord, rotating the underlying
// file first if needed (§4.5 Rotation). A write failure permanently
// disables the sink and is logged, never propagated to stop the
// pipeline (§7 IOFailure).
func (w *Writer) Write(stf *stfmodel.STF) error {
	if w.disabled {
		return cos.ErrIOFailure
	}
	if err := w.write(stf); err != nil {
		nlog.Errorf("sink: write failed, disabling: %v", err)
		w.disabled = true
		w.closeLocked()
		return cos.ErrIOFailure
	}
	return nil
}

func (w *Writer) write(stf *stfmodel.STF) error {
	if w.cur == nil {
		if err := w.openNext(); err != nil {
			return err
		}
	}

	parts := stfmodel.Encode(stf)
	var body []byte
	nHBF := uint32(0)
	for _, p := range parts[1:] {
		entry := make([]byte, stfmodel.DataHeaderSize+4+len(p.Payload))
		copy(entry, p.Header.Marshal())
		binary.LittleEndian.PutUint32(entry[stfmodel.DataHeaderSize:], uint32(len(p.Payload)))
		copy(entry[stfmodel.DataHeaderSize+4:], p.Payload)
		body = append(body, entry...)
		nHBF++
	}
	hdrBody := parts[0].Payload
	recordLen := uint64(recordHeaderSize + len(hdrBody) + len(body))

	hdr := make([]byte, recordHeaderSize)
	binary.LittleEndian.PutUint64(hdr[0:8], recordMagic)
	binary.LittleEndian.PutUint64(hdr[8:16], recordLen)
	binary.LittleEndian.PutUint64(hdr[16:24], stf.ID())
	binary.LittleEndian.PutUint32(hdr[24:28], nHBF)
	binary.LittleEndian.PutUint32(hdr[28:32], 0) // flags, reserved

	offset := w.recOffset
	for _, chunk := range [][]byte{hdr, hdrBody, body} {
		if _, err := w.bw.Write(chunk); err != nil {
			return err
		}
	}
	if err := w.bw.Flush(); err != nil {
		return err
	}
	w.curSize += recordLen
	w.curCount++
	w.recOffset += recordLen

	if w.sidecar != nil {
		line, err := sidecarJSON.Marshal(sidecarEntry{RecordOffset: offset, RecordLen: recordLen, TFID: stf.ID(), NumHBF: nHBF})
		if err != nil {
			return err
		}
		line = append(line, '\n')
		if _, err := w.sidecar.Write(line); err != nil {
			return err
		}
	}

	if (w.cfg.StfsPerFile > 0 && w.curCount >= w.cfg.StfsPerFile) ||
		(w.cfg.FileSizeMiB > 0 && w.curSize >= w.cfg.FileSizeMiB<<20) {
		return w.rotate()
	}
	return nil
}

func (w *Writer) rotate() error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	return nil
}

func (w *Writer) closeLocked() error {
	var err error
	if w.bw != nil {
		err = w.bw.Flush()
	}
	if w.cur != nil {
		if cerr := w.cur.Sync(); err == nil {
			err = cerr
		}
		if cerr := w.cur.Close(); err == nil {
			err = cerr
		}
		w.cur = nil
	}
	if w.sidecar != nil {
		w.sidecar.Close()
		w.sidecar = nil
	}
	return err
}

// Close flushes and fsyncs the currently open file, if any (§1
// Non-goals: "no storage durability beyond fsync-on-close of the sink
// file").
func (w *Writer) Close() error { return w.closeLocked() }

// Reader is the symmetric file source used in replay mode: it reads
// StfFileRecords sequentially.
type Reader struct {
	r *bufio.Reader
	f *os.File
}

// OpenReader opens path for sequential record-by-record replay.
func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &Reader{r: bufio.NewReaderSize(f, 256*1024), f: f}, nil
}

// Next reads and decodes the next StfFileRecord, returning io.EOF when
// the file is exhausted.
func (r *Reader) Next() (*stfmodel.STF, error) {
	hdr := make([]byte, recordHeaderSize)
	if _, err := io.ReadFull(r.r, hdr); err != nil {
		return nil, err
	}
	magic := binary.LittleEndian.Uint64(hdr[0:8])
	if magic != recordMagic {
		return nil, fmt.Errorf("%w: bad record magic %#x", cos.ErrMalformedMultipart, magic)
	}
	recordLen := binary.LittleEndian.Uint64(hdr[8:16])
	tfid := binary.LittleEndian.Uint64(hdr[16:24])
	nHBF := binary.LittleEndian.Uint32(hdr[24:28])

	bodyLen := recordLen - recordHeaderSize
	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r.r, body); err != nil {
		return nil, err
	}

	hdrBodyLen := 8 + 4
	if len(body) < hdrBodyLen {
		return nil, fmt.Errorf("%w: truncated STF header body", cos.ErrMalformedMultipart)
	}
	origin := stfmodel.Origin(strings.TrimRight(string(body[8:hdrBodyLen]), " "))
	stf := stfmodel.New(tfid, origin)

	off := hdrBodyLen
	for i := uint32(0); i < nHBF; i++ {
		if off+stfmodel.DataHeaderSize+4 > len(body) {
			return nil, fmt.Errorf("%w: truncated HBFrameEntry", cos.ErrMalformedMultipart)
		}
		dh, err := stfmodel.UnmarshalDataHeader(body[off : off+stfmodel.DataHeaderSize])
		if err != nil {
			return nil, err
		}
		off += stfmodel.DataHeaderSize
		payloadLen := binary.LittleEndian.Uint32(body[off : off+4])
		off += 4
		if off+int(payloadLen) > len(body) {
			return nil, fmt.Errorf("%w: truncated HBFrame payload", cos.ErrMalformedMultipart)
		}
		payload := body[off : off+int(payloadLen)]
		off += int(payloadLen)

		id := stfmodel.DataIdentifier{Origin: dh.Origin, Description: dh.Description}
		sub := stfmodel.SubSpec(dh.SubSpec >> 32)
		if err := stf.Append(id, sub, payload); err != nil {
			return nil, err
		}
	}
	stf.Finalize()
	return stf, nil
}

// Close closes the underlying file.
func (r *Reader) Close() error { return r.f.Close() }
