// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tree

import (
	"encoding/hex"
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/absmach/coreconf/pkg/sid"
	"github.com/absmach/coreconf/pkg/valuecodec"
)

func newCodec(t *testing.T, fixture string) (*Codec, *sid.SidIndex) {
	t.Helper()
	data, err := os.ReadFile(fixture)
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	idx, err := sid.Load(data, sid.Options{})
	if err != nil {
		t.Fatalf("sid.Load: %v", err)
	}
	vc, err := valuecodec.New(idx)
	if err != nil {
		t.Fatalf("valuecodec.New: %v", err)
	}
	c, err := New(idx, vc)
	if err != nil {
		t.Fatalf("tree.New: %v", err)
	}
	return c, idx
}

// TestSchcWorkedExample reproduces spec scenario 2/3 exactly:
// {"/ietf-schc:schc": {"rule": [{"rule-id": 7}]}} encodes to
// a1 19 09 c4 a1 01 81 a1 01 07 and decodes back unchanged.
func TestSchcWorkedExample(t *testing.T) {
	c, _ := newCodec(t, "../../testdata/example-schc.sid")

	input := map[string]any{
		"/ietf-schc:schc": map[string]any{
			"rule": []any{
				map[string]any{"rule-id": uint64(7)},
			},
		},
	}

	encoded, err := c.Encode(input)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	want := "a1" + "1909c4" + "a1" + "01" + "81" + "a1" + "01" + "07"
	if got := hex.EncodeToString(encoded); got != want {
		t.Fatalf("Encode = %s, want %s", got, want)
	}

	decoded, err := c.Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if diff := cmp.Diff(input, decoded); diff != "" {
		t.Fatalf("round-trip mismatch (-want +got):\n%s", diff)
	}
}

func TestExample1RoundTrip(t *testing.T) {
	c, _ := newCodec(t, "../../testdata/example-1.sid")

	input := map[string]any{
		"/example-1:greeting": map[string]any{
			"author":  "Obi-Wan",
			"message": "Hello there!",
		},
	}

	encoded, err := c.Encode(input)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := c.Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if diff := cmp.Diff(input, decoded); diff != "" {
		t.Fatalf("round-trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeUnknownSidFails(t *testing.T) {
	c, _ := newCodec(t, "../../testdata/example-1.sid")

	// {9999: "x"} — a root map with one key resolving to an unassigned SID.
	data := []byte{0xa1, 0x19, 0x27, 0x0f, 0x61, 0x78}
	_, err := c.Decode(data)
	if err == nil {
		t.Fatalf("expected error decoding unknown sid")
	}
}

// TestDecodeRejectsNonPositiveFirstNestedDelta guards against a nested
// map's first field delta self-referencing its own container SID
// instead of naming one of its children.
func TestDecodeRejectsNonPositiveFirstNestedDelta(t *testing.T) {
	c, _ := newCodec(t, "../../testdata/example-schc.sid")

	// root: {2500: {0: 1}} — the nested map's first key has delta 0,
	// which would resolve to sid 2500 itself (the container being decoded).
	data, err := hex.DecodeString("a1" + "1909c4" + "a1" + "00" + "01")
	if err != nil {
		t.Fatalf("DecodeString: %v", err)
	}
	if _, err := c.Decode(data); err == nil {
		t.Fatalf("expected error decoding self-referencing nested delta")
	}
}

// TestDecodeRejectsNonPositiveFirstRootDelta covers the same rule at
// the root map, where the baseline starts at 0.
func TestDecodeRejectsNonPositiveFirstRootDelta(t *testing.T) {
	c, _ := newCodec(t, "../../testdata/example-1.sid")

	// root: {0: "x"} — delta 0 against baseline 0 resolves to sid 0,
	// which never names a real schema node but must still fail the
	// monotonicity check rather than fall through to unknown-sid.
	data := []byte{0xa1, 0x00, 0x61, 0x78}
	if _, err := c.Decode(data); err == nil {
		t.Fatalf("expected error decoding non-positive root delta")
	}
}

func TestEncodeFieldsRejectsUnknownLocalName(t *testing.T) {
	c, _ := newCodec(t, "../../testdata/example-1.sid")

	input := map[string]any{
		"/example-1:greeting": map[string]any{
			"nonexistent": "x",
		},
	}
	if _, err := c.Encode(input); err == nil {
		t.Fatalf("expected error for unknown local field name")
	}
}
