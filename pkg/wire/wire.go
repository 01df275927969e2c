// Package wire defines the message envelope exchanged over a channel and
// its length-prefixed framing. A frame is
//
//	[type_len u8][type_tag][payload_len u32][payload]
//
// with integers little-endian. The type tag is used verbatim as the dispatch
// lookup key; payload bytes are opaque to the substrate.
package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

const (
	// MaxTypeLen bounds the type tag; longer tags indicate a corrupt frame.
	MaxTypeLen = 128
	// MaxPayload guards against absurd allocation from a corrupt length
	// prefix.
	MaxPayload = 1 << 24
)

// ErrMalformedFrame reports an undecodable frame: bad length prefix,
// oversized type or payload, or truncation mid-frame. It is fatal for the
// channel it occurred on.
var ErrMalformedFrame = errors.New("malformed frame")

// Envelope is one typed message.
type Envelope struct {
	Type    string
	Payload []byte
}

// Reader decodes envelopes from a byte stream.
type Reader struct {
	br *bufio.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReader(r)}
}

// ReadEnvelope blocks for the next frame. A clean EOF on a frame boundary is
// returned as io.EOF; truncation inside a frame is ErrMalformedFrame.
func (r *Reader) ReadEnvelope() (Envelope, error) {
	tl, err := r.br.ReadByte()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Envelope{}, io.EOF
		}
		return Envelope{}, err
	}
	if tl == 0 || tl > MaxTypeLen {
		return Envelope{}, fmt.Errorf("%w: type length %d", ErrMalformedFrame, tl)
	}
	tag := make([]byte, int(tl))
	if _, err := io.ReadFull(r.br, tag); err != nil {
		return Envelope{}, truncated(err)
	}
	var lenbuf [4]byte
	if _, err := io.ReadFull(r.br, lenbuf[:]); err != nil {
		return Envelope{}, truncated(err)
	}
	n := binary.LittleEndian.Uint32(lenbuf[:])
	if n > MaxPayload {
		return Envelope{}, fmt.Errorf("%w: payload length %d", ErrMalformedFrame, n)
	}
	var payload []byte
	if n > 0 {
		payload = make([]byte, int(n))
		if _, err := io.ReadFull(r.br, payload); err != nil {
			return Envelope{}, truncated(err)
		}
	}
	return Envelope{Type: string(tag), Payload: payload}, nil
}

func truncated(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: truncated", ErrMalformedFrame)
	}
	return err
}

// Writer encodes envelopes onto a byte stream. Safe for concurrent use;
// each envelope is written and flushed atomically with respect to others.
type Writer struct {
	mu sync.Mutex
	bw *bufio.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{bw: bufio.NewWriter(w)}
}

func (w *Writer) WriteEnvelope(e Envelope) error {
	if len(e.Type) == 0 || len(e.Type) > MaxTypeLen {
		return fmt.Errorf("%w: type length %d", ErrMalformedFrame, len(e.Type))
	}
	if len(e.Payload) > MaxPayload {
		return fmt.Errorf("%w: payload length %d", ErrMalformedFrame, len(e.Payload))
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.bw.WriteByte(byte(len(e.Type))); err != nil {
		return err
	}
	if _, err := w.bw.WriteString(e.Type); err != nil {
		return err
	}
	var lenbuf [4]byte
	binary.LittleEndian.PutUint32(lenbuf[:], uint32(len(e.Payload)))
	if _, err := w.bw.Write(lenbuf[:]); err != nil {
		return err
	}
	if _, err := w.bw.Write(e.Payload); err != nil {
		return err
	}
	return w.bw.Flush()
}
