// Package wire implements the framed command protocol spoken by the demo
// GOP callbacks in cmd/hportald. The engine itself treats
// send_command/send_phase/recv_phase as opaque; this package is one concrete
// implementation of them, not a requirement of the core.
package wire

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
)

// Frame layout, all integers big-endian:
//
//	magic   uint16  0x4750 ("GP")
//	version uint8
//	codec   uint8   codec id of the payload encoding
//	op_id   uint64
//	length  uint32  payload bytes
//	crc     uint32  CRC32C of the payload
//	payload length bytes
const (
	frameMagic   = 0x4750
	frameVersion = 1
	headerLen    = 20

	// DefaultMaxPayload bounds a single frame's payload (10 MiB).
	DefaultMaxPayload = 10 << 20
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Frame is one command envelope on the wire. The codec id travels in the
// header so a server can decode whatever encoding the client picked without
// out-of-band agreement.
type Frame struct {
	OpID    uint64
	CodecID CodecID
	Payload []byte
}

// Framer reads and writes Frames on a byte stream. Not safe for concurrent
// use: Read and Write share one header buffer, so goroutines that read and
// write the same stream concurrently each need their own Framer.
type Framer struct {
	rw         io.ReadWriter
	maxPayload int
	hdr        [headerLen]byte
}

// NewFramer wraps rw with the default payload bound.
func NewFramer(rw io.ReadWriter) *Framer {
	return &Framer{rw: rw, maxPayload: DefaultMaxPayload}
}

// NewFramerSize wraps rw with an explicit payload bound.
func NewFramerSize(rw io.ReadWriter, maxPayload int) *Framer {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}
	return &Framer{rw: rw, maxPayload: maxPayload}
}

// Write emits fr as one frame.
func (f *Framer) Write(fr *Frame) error {
	if len(fr.Payload) > f.maxPayload {
		return fmt.Errorf("wire: payload %d exceeds limit %d", len(fr.Payload), f.maxPayload)
	}
	binary.BigEndian.PutUint16(f.hdr[0:2], frameMagic)
	f.hdr[2] = frameVersion
	f.hdr[3] = byte(fr.CodecID)
	binary.BigEndian.PutUint64(f.hdr[4:12], fr.OpID)
	binary.BigEndian.PutUint32(f.hdr[12:16], uint32(len(fr.Payload)))
	binary.BigEndian.PutUint32(f.hdr[16:20], crc32.Checksum(fr.Payload, castagnoli))

	if _, err := f.rw.Write(f.hdr[:]); err != nil {
		return fmt.Errorf("wire: write header: %w", err)
	}
	if len(fr.Payload) > 0 {
		if _, err := f.rw.Write(fr.Payload); err != nil {
			return fmt.Errorf("wire: write payload: %w", err)
		}
	}
	return nil
}

// Read consumes one frame, verifying magic, version, size bound, and
// checksum. Returns io.EOF untouched when the stream ends cleanly at a
// frame boundary.
func (f *Framer) Read() (*Frame, error) {
	if _, err := io.ReadFull(f.rw, f.hdr[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("wire: read header: %w", err)
	}
	if m := binary.BigEndian.Uint16(f.hdr[0:2]); m != frameMagic {
		return nil, fmt.Errorf("wire: bad magic %#04x", m)
	}
	if v := f.hdr[2]; v != frameVersion {
		return nil, fmt.Errorf("wire: unsupported frame version %d", v)
	}
	length := binary.BigEndian.Uint32(f.hdr[12:16])
	if int(length) > f.maxPayload {
		return nil, fmt.Errorf("wire: payload %d exceeds limit %d", length, f.maxPayload)
	}
	fr := &Frame{
		OpID:    binary.BigEndian.Uint64(f.hdr[4:12]),
		CodecID: CodecID(f.hdr[3]),
	}
	want := binary.BigEndian.Uint32(f.hdr[16:20])
	if length > 0 {
		fr.Payload = make([]byte, length)
		if _, err := io.ReadFull(f.rw, fr.Payload); err != nil {
			return nil, fmt.Errorf("wire: read payload: %w", err)
		}
	}
	if got := crc32.Checksum(fr.Payload, castagnoli); got != want {
		return nil, fmt.Errorf("wire: checksum mismatch: header %08x, payload %08x", want, got)
	}
	return fr, nil
}
