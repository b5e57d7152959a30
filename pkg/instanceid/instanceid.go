// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package instanceid implements RFC 9595 instance-identifier encoding:
// a data node address as a CBOR integer (a single SID delta) or an
// array alternating SID deltas and inline list-key values, used by
// iPATCH and POST bodies to select a specific target (including a
// specific list entry). FETCH's own request body is a simpler, distinct
// shape — a flat array of un-keyed SID deltas naming several targets at
// once — handled separately by EncodeFetchTargets/DecodeFetchTargets.
package instanceid

import (
	"bytes"
	"fmt"
	"sort"

	cbor "github.com/fxamacker/cbor/v2"

	"github.com/absmach/coreconf/internal/wire"
	cerrors "github.com/absmach/coreconf/pkg/errors"
	"github.com/absmach/coreconf/pkg/sid"
	"github.com/absmach/coreconf/pkg/valuecodec"
)

// MaxDepth bounds how many segments FromYangPath accepts and, doubled,
// how many items DecodeCBOR accepts in one instance-identifier array,
// guarding against a malicious or malformed path of unbounded length.
const MaxDepth = 64

// Component is one element of a decoded instance path: either a signed
// SID delta or an inline list-key value.
type Component struct {
	IsKey bool
	Delta int64
	Key   any
}

// Path is a full instance identifier: the ordered component list plus
// the absolute SID it resolves to once every delta has been applied.
type Path struct {
	Components []Component
	absolute   int64
}

// AbsoluteSid returns the SID this path resolves to.
func (p Path) AbsoluteSid() int64 { return p.absolute }

// IsEmpty reports whether the path carries no components (the CBOR null case).
func (p Path) IsEmpty() bool { return len(p.Components) == 0 }

// PushDelta appends a SID delta component, advancing the running absolute SID.
func (p *Path) PushDelta(delta int64) {
	p.Components = append(p.Components, Component{Delta: delta})
	p.absolute += delta
}

// PushKey appends an inline list-key value component.
func (p *Path) PushKey(v any) {
	p.Components = append(p.Components, Component{IsKey: true, Key: v})
}

// FromYangPath resolves a YANG path like "/example:container/leaf" into
// an instance path of successive SID deltas, one per path segment,
// against idx.
func FromYangPath(path string, idx *sid.SidIndex) (Path, error) {
	var p Path
	current := int64(0)

	segments, err := splitPathSegments(path)
	if err != nil {
		return Path{}, err
	}
	if len(segments) > MaxDepth {
		return Path{}, cerrors.New("instanceid.FromYangPath", "", 0, path, fmt.Errorf("%w: exceeds max depth %d", cerrors.ErrPathInvalid, MaxDepth))
	}

	for _, full := range segments {
		s, ok := idx.SidOf(full)
		if !ok {
			return Path{}, cerrors.New("instanceid.FromYangPath", "", 0, full, cerrors.ErrPathInvalid)
		}
		p.PushDelta(s - current)
		current = s
	}
	return p, nil
}

func splitPathSegments(path string) ([]string, error) {
	if path == "" || path == "/" {
		return nil, nil
	}
	if path[0] != '/' {
		return nil, cerrors.New("instanceid.splitPathSegments", "", 0, path, cerrors.ErrPathInvalid)
	}
	var segments []string
	start := 1
	for i := 1; i <= len(path); i++ {
		if i == len(path) || path[i] == '/' {
			if i > start {
				segments = append(segments, path[:i])
			}
			start = i + 1
		}
	}
	return segments, nil
}

// EncodeCBOR renders p as a single RFC 9595 instance-identifier data
// item: a bare integer when p has one delta component and no keys, an
// array of alternating deltas and key values otherwise, or CBOR null
// when p is empty.
func EncodeCBOR(p Path, vc *valuecodec.Codec) ([]byte, error) {
	if p.IsEmpty() {
		em, err := cborEncMode()
		if err != nil {
			return nil, err
		}
		return em.Marshal(nil)
	}

	if len(p.Components) == 1 && !p.Components[0].IsKey {
		em, err := cborEncMode()
		if err != nil {
			return nil, err
		}
		return em.Marshal(p.Components[0].Delta)
	}

	em, err := cborEncMode()
	if err != nil {
		return nil, err
	}

	items := make([][]byte, 0, len(p.Components))
	for _, c := range p.Components {
		if c.IsKey {
			b, err := vc.EncodeItem(c.Key, nil)
			if err != nil {
				return nil, err
			}
			items = append(items, b)
			continue
		}
		b, err := em.Marshal(c.Delta)
		if err != nil {
			return nil, err
		}
		items = append(items, b)
	}

	var buf bytes.Buffer
	wire.WriteArrayHeader(&buf, len(items))
	for _, item := range items {
		buf.Write(item)
	}
	return buf.Bytes(), nil
}

// DecodeCBOR parses a single RFC 9595 instance-identifier data item
// starting at data[0]. It returns the byte length consumed so callers
// splitting a cbor-seq of many identifiers can advance past it.
func DecodeCBOR(data []byte, vc *valuecodec.Codec) (Path, int, error) {
	h, err := wire.PeekHeader(data)
	if err != nil {
		return Path{}, 0, err
	}

	if h.IsNull() {
		return Path{}, h.HeaderLen, nil
	}

	if h.Major == 0 || h.Major == 1 { // unsigned or negative integer: bare delta
		n, err := wire.ItemLen(data)
		if err != nil {
			return Path{}, 0, err
		}
		var delta int64
		if err := cbor.Unmarshal(data[:n], &delta); err != nil {
			return Path{}, 0, cerrors.New("instanceid.DecodeCBOR", "", 0, "", fmt.Errorf("%w: %v", cerrors.ErrMalformedCbor, err))
		}
		var p Path
		p.PushDelta(delta)
		return p, n, nil
	}

	if !h.IsArray() {
		return Path{}, 0, cerrors.New("instanceid.DecodeCBOR", "", 0, "", fmt.Errorf("%w: expected integer or array", cerrors.ErrMalformedCbor))
	}

	count := int(h.Count)
	if count > MaxDepth*2 {
		return Path{}, 0, cerrors.New("instanceid.DecodeCBOR", "", 0, "", fmt.Errorf("%w: exceeds max depth %d", cerrors.ErrPathInvalid, MaxDepth))
	}

	items, _, err := wire.SplitItems(data[h.HeaderLen:], count)
	if err != nil {
		return Path{}, 0, err
	}

	var p Path
	expectDelta := true
	for _, item := range items {
		if expectDelta {
			var delta int64
			if err := cbor.Unmarshal(item, &delta); err != nil {
				return Path{}, 0, cerrors.New("instanceid.DecodeCBOR", "", 0, "", fmt.Errorf("%w: expected sid delta: %v", cerrors.ErrMalformedCbor, err))
			}
			p.PushDelta(delta)
		} else {
			key, err := vc.DecodeItem(item, nil)
			if err != nil {
				return Path{}, 0, err
			}
			p.PushKey(key)
		}
		expectDelta = !expectDelta
	}

	total, err := wire.ItemLen(data)
	if err != nil {
		return Path{}, 0, err
	}
	return p, total, nil
}

// EncodeSeq concatenates each path's EncodeCBOR output: the general RFC
// 9595 array framing, for callers naming keyed instance paths rather
// than the flat SID-only targets a FETCH request body carries.
func EncodeSeq(paths []Path, vc *valuecodec.Codec) ([]byte, error) {
	var out []byte
	for _, p := range paths {
		b, err := EncodeCBOR(p, vc)
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

// DecodeSeq splits a cbor-seq of consecutive instance-identifier items.
func DecodeSeq(data []byte, vc *valuecodec.Codec) ([]Path, error) {
	var paths []Path
	for len(data) > 0 {
		p, n, err := DecodeCBOR(data, vc)
		if err != nil {
			return nil, err
		}
		paths = append(paths, p)
		data = data[n:]
	}
	return paths, nil
}

// EncodeFetchTargets renders sids as the FETCH request-body shape: a
// single CBOR array of signed deltas sharing one chain, sorted by
// ascending absolute SID before encoding so the payload is canonical
// regardless of caller order (spec scenario: build_fetch([2502, 2501])
// -> [2501, 1]).
func EncodeFetchTargets(sids []int64) ([]byte, error) {
	sorted := append([]int64(nil), sids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	em, err := cborEncMode()
	if err != nil {
		return nil, err
	}

	items := make([][]byte, 0, len(sorted))
	prev := int64(0)
	for _, s := range sorted {
		b, err := em.Marshal(s - prev)
		if err != nil {
			return nil, cerrors.New("instanceid.EncodeFetchTargets", "", s, "", err)
		}
		items = append(items, b)
		prev = s
	}

	var buf bytes.Buffer
	wire.WriteArrayHeader(&buf, len(items))
	for _, item := range items {
		buf.Write(item)
	}
	return buf.Bytes(), nil
}

// DecodeFetchTargets parses the FETCH request-body shape
// EncodeFetchTargets produces back into absolute SIDs, in the ascending
// order they were encoded.
func DecodeFetchTargets(data []byte) ([]int64, error) {
	h, err := wire.PeekHeader(data)
	if err != nil {
		return nil, err
	}
	if !h.IsArray() {
		return nil, cerrors.New("instanceid.DecodeFetchTargets", "", 0, "", fmt.Errorf("%w: expected array", cerrors.ErrMalformedCbor))
	}

	items, _, err := wire.SplitItems(data[h.HeaderLen:], int(h.Count))
	if err != nil {
		return nil, err
	}

	sids := make([]int64, 0, len(items))
	cur := int64(0)
	for _, item := range items {
		var delta int64
		if err := cbor.Unmarshal(item, &delta); err != nil {
			return nil, cerrors.New("instanceid.DecodeFetchTargets", "", 0, "", fmt.Errorf("%w: expected sid delta: %v", cerrors.ErrMalformedCbor, err))
		}
		cur += delta
		sids = append(sids, cur)
	}
	return sids, nil
}

// InstancePatch is one changed instance from an iPATCH body: a target
// path and either a new value or a deletion.
type InstancePatch struct {
	Path   Path
	Value  any
	Delete bool
}

// EncodeInstancePatch renders p as a single-pair CBOR map
// {instance-identifier: value-or-null}, the unit application/
// yang-instances+cbor-seq concatenates one after another. hint drives
// how a non-delete Value is cast; pass nil for delete patches.
func EncodeInstancePatch(p InstancePatch, vc *valuecodec.Codec, hint *sid.TypeHint) ([]byte, error) {
	keyBytes, err := EncodeCBOR(p.Path, vc)
	if err != nil {
		return nil, err
	}

	em, err := cborEncMode()
	if err != nil {
		return nil, err
	}

	var valBytes []byte
	if p.Delete || p.Value == nil {
		valBytes, err = em.Marshal(nil)
		if err != nil {
			return nil, cerrors.New("instanceid.EncodeInstancePatch", "", p.Path.AbsoluteSid(), "", err)
		}
	} else {
		valBytes, err = vc.EncodeItem(p.Value, hint)
		if err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	wire.WriteMapHeader(&buf, 1)
	buf.Write(keyBytes)
	buf.Write(valBytes)
	return buf.Bytes(), nil
}

// DecodeInstancePatch parses one single-pair instance-patch map starting
// at data[0], resolving the target's type hint through idx so its value
// (or CBOR null, for a delete) decodes correctly. It returns the byte
// length consumed.
func DecodeInstancePatch(data []byte, vc *valuecodec.Codec, idx *sid.SidIndex) (InstancePatch, int, error) {
	h, err := wire.PeekHeader(data)
	if err != nil {
		return InstancePatch{}, 0, err
	}
	if !h.IsMap() || h.Count != 1 {
		return InstancePatch{}, 0, cerrors.New("instanceid.DecodeInstancePatch", "", 0, "", fmt.Errorf("%w: expected single-pair map", cerrors.ErrMalformedCbor))
	}

	pairs, _, err := wire.SplitItems(data[h.HeaderLen:], 2)
	if err != nil {
		return InstancePatch{}, 0, err
	}

	path, _, err := DecodeCBOR(pairs[0], vc)
	if err != nil {
		return InstancePatch{}, 0, err
	}

	item, ok := idx.ItemOf(path.AbsoluteSid())
	if !ok {
		return InstancePatch{}, 0, cerrors.New("instanceid.DecodeInstancePatch", "", path.AbsoluteSid(), "", cerrors.ErrUnknownSid)
	}

	valHeader, err := wire.PeekHeader(pairs[1])
	if err != nil {
		return InstancePatch{}, 0, err
	}

	patch := InstancePatch{Path: path}
	if valHeader.IsNull() {
		patch.Delete = true
	} else {
		val, err := vc.DecodeItem(pairs[1], item.Type)
		if err != nil {
			return InstancePatch{}, 0, err
		}
		patch.Value = val
	}

	total, err := wire.ItemLen(data)
	if err != nil {
		return InstancePatch{}, 0, err
	}
	return patch, total, nil
}

// EncodePatchSeq concatenates each patch's EncodeInstancePatch output.
func EncodePatchSeq(patches []InstancePatch, vc *valuecodec.Codec, idx *sid.SidIndex) ([]byte, error) {
	var out []byte
	for _, p := range patches {
		var hint *sid.TypeHint
		if !p.Delete {
			if item, ok := idx.ItemOf(p.Path.AbsoluteSid()); ok {
				hint = item.Type
			}
		}
		b, err := EncodeInstancePatch(p, vc, hint)
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

// DecodePatchSeq splits a cbor-seq of consecutive single-pair
// instance-patch maps.
func DecodePatchSeq(data []byte, vc *valuecodec.Codec, idx *sid.SidIndex) ([]InstancePatch, error) {
	var patches []InstancePatch
	for len(data) > 0 {
		p, n, err := DecodeInstancePatch(data, vc, idx)
		if err != nil {
			return nil, err
		}
		patches = append(patches, p)
		data = data[n:]
	}
	return patches, nil
}

func cborEncMode() (cbor.EncMode, error) {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, cerrors.New("instanceid.cborEncMode", "", 0, "", err)
	}
	return em, nil
}
