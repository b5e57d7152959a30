// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package instanceid

import (
	"encoding/hex"
	"os"
	"testing"

	"github.com/absmach/coreconf/pkg/sid"
	"github.com/absmach/coreconf/pkg/valuecodec"
)

func loadIndex(t *testing.T, path string) *sid.SidIndex {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	idx, err := sid.Load(data, sid.Options{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return idx
}

func TestFromYangPathOneDeltaPerSegment(t *testing.T) {
	idx := loadIndex(t, "../../testdata/example-1.sid")
	p, err := FromYangPath("/example-1:greeting/author", idx)
	if err != nil {
		t.Fatalf("FromYangPath: %v", err)
	}
	if p.AbsoluteSid() != 60002 {
		t.Fatalf("AbsoluteSid = %d, want 60002", p.AbsoluteSid())
	}
	if len(p.Components) != 2 {
		t.Fatalf("Components = %v, want 2 deltas (greeting, then author)", p.Components)
	}
}

func TestEncodeDecodeSingleDelta(t *testing.T) {
	vc, err := valuecodec.New(nil)
	if err != nil {
		t.Fatalf("valuecodec.New: %v", err)
	}

	var p Path
	p.PushDelta(60001)

	encoded, err := EncodeCBOR(p, vc)
	if err != nil {
		t.Fatalf("EncodeCBOR: %v", err)
	}
	// A bare positive SID delta of 60001 should encode as a plain
	// unsigned integer, not an array.
	if got := hex.EncodeToString(encoded); got != "19ea61" {
		t.Fatalf("encoding = %s, want 19ea61", got)
	}

	decoded, n, err := DecodeCBOR(encoded, vc)
	if err != nil {
		t.Fatalf("DecodeCBOR: %v", err)
	}
	if n != len(encoded) {
		t.Fatalf("consumed %d bytes, want %d", n, len(encoded))
	}
	if decoded.AbsoluteSid() != 60001 {
		t.Fatalf("AbsoluteSid = %d, want 60001", decoded.AbsoluteSid())
	}
}

func TestEncodeDecodeWithKey(t *testing.T) {
	vc, err := valuecodec.New(nil)
	if err != nil {
		t.Fatalf("valuecodec.New: %v", err)
	}

	var p Path
	p.PushDelta(1756)
	p.PushKey("myserver")

	encoded, err := EncodeCBOR(p, vc)
	if err != nil {
		t.Fatalf("EncodeCBOR: %v", err)
	}

	decoded, n, err := DecodeCBOR(encoded, vc)
	if err != nil {
		t.Fatalf("DecodeCBOR: %v", err)
	}
	if n != len(encoded) {
		t.Fatalf("consumed %d bytes, want %d", n, len(encoded))
	}
	if len(decoded.Components) != 2 || !decoded.Components[1].IsKey {
		t.Fatalf("Components = %+v", decoded.Components)
	}
	if decoded.Components[1].Key != "myserver" {
		t.Fatalf("Key = %v, want myserver", decoded.Components[1].Key)
	}
}

func TestEncodeSeqDecodeSeq(t *testing.T) {
	vc, err := valuecodec.New(nil)
	if err != nil {
		t.Fatalf("valuecodec.New: %v", err)
	}

	var p1, p2 Path
	p1.PushDelta(60002)
	p2.PushDelta(60001)
	p2.PushDelta(1) // 60002 as a delta chain from a shared baseline

	encoded, err := EncodeSeq([]Path{p1, p2}, vc)
	if err != nil {
		t.Fatalf("EncodeSeq: %v", err)
	}

	decoded, err := DecodeSeq(encoded, vc)
	if err != nil {
		t.Fatalf("DecodeSeq: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("len(decoded) = %d, want 2", len(decoded))
	}
	if decoded[0].AbsoluteSid() != 60002 {
		t.Fatalf("decoded[0] = %d, want 60002", decoded[0].AbsoluteSid())
	}
	if decoded[1].AbsoluteSid() != 60002 {
		t.Fatalf("decoded[1] = %d, want 60002", decoded[1].AbsoluteSid())
	}
}

func TestEncodeDecodeInstancePatchSeq(t *testing.T) {
	idx := loadIndex(t, "../../testdata/example-1.sid")
	vc, err := valuecodec.New(idx)
	if err != nil {
		t.Fatalf("valuecodec.New: %v", err)
	}

	authorPath, err := FromYangPath("/example-1:greeting/author", idx)
	if err != nil {
		t.Fatalf("FromYangPath author: %v", err)
	}
	messagePath, err := FromYangPath("/example-1:greeting/message", idx)
	if err != nil {
		t.Fatalf("FromYangPath message: %v", err)
	}

	patches := []InstancePatch{
		{Path: authorPath, Value: "Obi-Wan"},
		{Path: messagePath, Delete: true},
	}

	encoded, err := EncodePatchSeq(patches, vc, idx)
	if err != nil {
		t.Fatalf("EncodePatchSeq: %v", err)
	}

	decoded, err := DecodePatchSeq(encoded, vc, idx)
	if err != nil {
		t.Fatalf("DecodePatchSeq: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("len(decoded) = %d, want 2", len(decoded))
	}
	if decoded[0].Delete || decoded[0].Value != "Obi-Wan" {
		t.Fatalf("decoded[0] = %+v", decoded[0])
	}
	if !decoded[1].Delete {
		t.Fatalf("decoded[1] = %+v, want Delete=true", decoded[1])
	}
}

func TestDecodeCBORNull(t *testing.T) {
	vc, err := valuecodec.New(nil)
	if err != nil {
		t.Fatalf("valuecodec.New: %v", err)
	}
	data := []byte{0xf6} // CBOR null
	p, n, err := DecodeCBOR(data, vc)
	if err != nil {
		t.Fatalf("DecodeCBOR: %v", err)
	}
	if n != 1 || !p.IsEmpty() {
		t.Fatalf("p = %+v, n = %d", p, n)
	}
}
