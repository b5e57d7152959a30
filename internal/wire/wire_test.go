// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"bytes"
	"encoding/hex"
	"testing"

	cbor "github.com/fxamacker/cbor/v2"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex %q: %v", s, err)
	}
	return b
}

func TestWriteMapHeader(t *testing.T) {
	cases := []struct {
		n    int
		want string
	}{
		{0, "a0"},
		{1, "a1"},
		{23, "b7"},
		{24, "b818"},
		{256, "b90100"},
	}
	for _, c := range cases {
		var buf bytes.Buffer
		WriteMapHeader(&buf, c.n)
		if got := hex.EncodeToString(buf.Bytes()); got != c.want {
			t.Errorf("WriteMapHeader(%d) = %s, want %s", c.n, got, c.want)
		}
	}
}

func TestWriteArrayHeader(t *testing.T) {
	var buf bytes.Buffer
	WriteArrayHeader(&buf, 2)
	if got := hex.EncodeToString(buf.Bytes()); got != "82" {
		t.Errorf("WriteArrayHeader(2) = %s, want 82", got)
	}
}

func TestItemLenScalars(t *testing.T) {
	cases := []struct {
		name string
		hex  string
		want int
	}{
		{"small uint", "07", 1},
		{"uint8", "1819", 2},
		{"uint16", "190100", 3},
		{"negative", "20", 1},
		{"null", "f6", 1},
		{"bool true", "f5", 1},
		{"text string", "6568656c6c6f", 6}, // "hello"
		{"byte string", "4401020304", 5},
	}
	for _, c := range cases {
		data := mustHex(t, c.hex)
		got, err := ItemLen(data)
		if err != nil {
			t.Fatalf("%s: ItemLen: %v", c.name, err)
		}
		if got != c.want {
			t.Errorf("%s: ItemLen = %d, want %d", c.name, got, c.want)
		}
	}
}

// TestSchcFixture reproduces the worked example: encoding
// {2500: {1: [{1: 7}]}} in delta-SID form as
// a1 19 09 c4 a1 01 81 a1 01 07
func TestSchcFixture(t *testing.T) {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		t.Fatalf("EncMode: %v", err)
	}

	sevenBytes, err := em.Marshal(int64(7))
	if err != nil {
		t.Fatalf("marshal 7: %v", err)
	}
	oneBytes, err := em.Marshal(int64(1))
	if err != nil {
		t.Fatalf("marshal 1: %v", err)
	}
	deltaBytes, err := em.Marshal(int64(2500))
	if err != nil {
		t.Fatalf("marshal 2500: %v", err)
	}

	// innermost: {1: 7}
	var inner bytes.Buffer
	WriteMapHeader(&inner, 1)
	inner.Write(oneBytes)
	inner.Write(sevenBytes)

	// rule list: [{1: 7}]
	var list bytes.Buffer
	WriteArrayHeader(&list, 1)
	list.Write(inner.Bytes())

	// schc container: {1: [{1: 7}]}
	var schc bytes.Buffer
	WriteMapHeader(&schc, 1)
	schc.Write(oneBytes)
	schc.Write(list.Bytes())

	// root: {2500: {...}}
	var root bytes.Buffer
	WriteMapHeader(&root, 1)
	root.Write(deltaBytes)
	root.Write(schc.Bytes())

	want := "a1" + "1909c4" + "a1" + "01" + "81" + "a1" + "01" + "07"
	if got := hex.EncodeToString(root.Bytes()); got != want {
		t.Fatalf("encode = %s, want %s", got, want)
	}

	// Now decode it back apart using SplitItems, following the same
	// shape a real tree.Decode call would walk.
	rootHeader, err := PeekHeader(root.Bytes())
	if err != nil || !rootHeader.IsMap() || rootHeader.Count != 1 {
		t.Fatalf("root header = %+v, err = %v", rootHeader, err)
	}
	pairs, tail, err := SplitItems(root.Bytes()[rootHeader.HeaderLen:], 2)
	if err != nil {
		t.Fatalf("SplitItems root: %v", err)
	}
	if len(tail) != 0 {
		t.Fatalf("unexpected trailing bytes: %x", tail)
	}
	var delta int64
	if err := cbor.Unmarshal(pairs[0], &delta); err != nil || delta != 2500 {
		t.Fatalf("delta = %d, err = %v", delta, err)
	}

	schcHeader, err := PeekHeader(pairs[1])
	if err != nil || !schcHeader.IsMap() || schcHeader.Count != 1 {
		t.Fatalf("schc header = %+v, err = %v", schcHeader, err)
	}
	schcPairs, _, err := SplitItems(pairs[1][schcHeader.HeaderLen:], 2)
	if err != nil {
		t.Fatalf("SplitItems schc: %v", err)
	}
	var ruleDelta int64
	if err := cbor.Unmarshal(schcPairs[0], &ruleDelta); err != nil || ruleDelta != 1 {
		t.Fatalf("ruleDelta = %d, err = %v", ruleDelta, err)
	}

	listHeader, err := PeekHeader(schcPairs[1])
	if err != nil || !listHeader.IsArray() || listHeader.Count != 1 {
		t.Fatalf("list header = %+v, err = %v", listHeader, err)
	}
	entries, _, err := SplitItems(schcPairs[1][listHeader.HeaderLen:], 1)
	if err != nil {
		t.Fatalf("SplitItems list: %v", err)
	}

	entryHeader, err := PeekHeader(entries[0])
	if err != nil || !entryHeader.IsMap() || entryHeader.Count != 1 {
		t.Fatalf("entry header = %+v, err = %v", entryHeader, err)
	}
	entryPairs, _, err := SplitItems(entries[0][entryHeader.HeaderLen:], 2)
	if err != nil {
		t.Fatalf("SplitItems entry: %v", err)
	}
	var keyDelta, value int64
	if err := cbor.Unmarshal(entryPairs[0], &keyDelta); err != nil || keyDelta != 1 {
		t.Fatalf("keyDelta = %d, err = %v", keyDelta, err)
	}
	if err := cbor.Unmarshal(entryPairs[1], &value); err != nil || value != 7 {
		t.Fatalf("value = %d, err = %v", value, err)
	}
}

func TestSplitItemsOutOfOrderDeltasPreserved(t *testing.T) {
	// Deltas 2500, 1, 99 (absolute SIDs 2500, 2501, 2600 from a baseline
	// of 0) must stay in visit order; canonical CBOR key-sort would put
	// "1" first, corrupting the sequential cur += k reconstruction.
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		t.Fatalf("EncMode: %v", err)
	}
	var buf bytes.Buffer
	WriteMapHeader(&buf, 3)
	for _, kv := range []struct{ k, v int64 }{{2500, 10}, {1, 20}, {99, 30}} {
		kb, _ := em.Marshal(kv.k)
		vb, _ := em.Marshal(kv.v)
		buf.Write(kb)
		buf.Write(vb)
	}

	h, err := PeekHeader(buf.Bytes())
	if err != nil || !h.IsMap() || h.Count != 3 {
		t.Fatalf("header = %+v, err = %v", h, err)
	}
	pairs, _, err := SplitItems(buf.Bytes()[h.HeaderLen:], 6)
	if err != nil {
		t.Fatalf("SplitItems: %v", err)
	}

	wantDeltas := []int64{2500, 1, 99}
	cur := int64(0)
	wantAbs := []int64{2500, 2501, 2600}
	for i, want := range wantDeltas {
		var got int64
		if err := cbor.Unmarshal(pairs[i*2], &got); err != nil {
			t.Fatalf("unmarshal key %d: %v", i, err)
		}
		if got != want {
			t.Fatalf("delta[%d] = %d, want %d (order corrupted)", i, got, want)
		}
		cur += got
		if cur != wantAbs[i] {
			t.Fatalf("reconstructed sid[%d] = %d, want %d", i, cur, wantAbs[i])
		}
	}
}
