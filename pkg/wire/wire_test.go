package wire

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	in := []Envelope{
		{Type: "version", Payload: []byte{1, 2, 3}},
		{Type: "verack"},
		{Type: "tx", Payload: bytes.Repeat([]byte{0xAB}, 4096)},
	}
	for _, e := range in {
		if err := w.WriteEnvelope(e); err != nil {
			t.Fatalf("WriteEnvelope(%q): %v", e.Type, err)
		}
	}

	r := NewReader(&buf)
	for i, want := range in {
		got, err := r.ReadEnvelope()
		if err != nil {
			t.Fatalf("ReadEnvelope #%d: %v", i, err)
		}
		if got.Type != want.Type || !bytes.Equal(got.Payload, want.Payload) {
			t.Fatalf("envelope #%d mismatch: got %q/%d bytes, want %q/%d bytes",
				i, got.Type, len(got.Payload), want.Type, len(want.Payload))
		}
	}
	if _, err := r.ReadEnvelope(); err != io.EOF {
		t.Fatalf("expected io.EOF at frame boundary, got %v", err)
	}
}

func TestTruncatedFrame(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.WriteEnvelope(Envelope{Type: "blk", Payload: []byte("abcdef")}); err != nil {
		t.Fatalf("WriteEnvelope: %v", err)
	}
	cut := buf.Bytes()[:buf.Len()-3]

	r := NewReader(bytes.NewReader(cut))
	if _, err := r.ReadEnvelope(); !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame on truncation, got %v", err)
	}
}

func TestBadTypeLength(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{0xFF, 0x00}))
	if _, err := r.ReadEnvelope(); !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame for oversized type, got %v", err)
	}

	r = NewReader(bytes.NewReader([]byte{0x00}))
	if _, err := r.ReadEnvelope(); !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame for zero type length, got %v", err)
	}
}

func TestOversizedPayloadRejected(t *testing.T) {
	// type_len=1, tag 'x', payload_len = MaxPayload+1
	frame := []byte{1, 'x', 0x01, 0x00, 0x00, 0x01}
	r := NewReader(bytes.NewReader(frame))
	if _, err := r.ReadEnvelope(); !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame for oversized payload, got %v", err)
	}

	w := NewWriter(io.Discard)
	if err := w.WriteEnvelope(Envelope{Type: ""}); !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame for empty type on write, got %v", err)
	}
}
