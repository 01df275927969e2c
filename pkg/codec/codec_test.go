package codec

import (
	"bytes"
	"testing"
)

type sample struct {
	Name  string   `json:"name" cbor:"name"`
	Count uint32   `json:"count" cbor:"count"`
	Tags  []string `json:"tags,omitempty" cbor:"tags,omitempty"`
}

func TestRoundTrips(t *testing.T) {
	in := sample{Name: "peer", Count: 7, Tags: []string{"a", "b"}}
	for _, c := range []Codec{JSON(), CBOR()} {
		b, err := c.Marshal(in)
		if err != nil {
			t.Fatalf("%s marshal: %v", c.ContentType(), err)
		}
		var out sample
		if err := c.Unmarshal(b, &out); err != nil {
			t.Fatalf("%s unmarshal: %v", c.ContentType(), err)
		}
		if out.Name != in.Name || out.Count != in.Count || len(out.Tags) != 2 {
			t.Fatalf("%s round trip mismatch: %+v", c.ContentType(), out)
		}
	}
}

func TestCBORDeterministic(t *testing.T) {
	c := CBOR()
	in := sample{Name: "x", Count: 1, Tags: []string{"t"}}
	b1, err := c.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	b2, err := c.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !bytes.Equal(b1, b2) {
		t.Fatal("canonical encoding differed between runs")
	}
}

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry()
	for _, ct := range []string{JSON().ContentType(), CBOR().ContentType()} {
		if r.Get(ct) == nil {
			t.Fatalf("registry missing %q", ct)
		}
	}
	if r.Get("application/x-nonsense") != nil {
		t.Fatal("registry invented a codec")
	}
}
