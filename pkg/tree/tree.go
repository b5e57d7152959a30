// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package tree implements the delta-SID-keyed CBOR tree codec used for
// GET responses and full-datastore snapshots (content-format
// application/yang-data+cbor).
//
// The wire shape is a map whose keys are SID deltas from a per-map
// running baseline: the outermost map's baseline is 0, and entering a
// nested container, list entry, or list resets the baseline to the SID
// just resolved. Keys MUST be emitted, and are required on decode to
// appear, in the order their absolute SIDs were visited — a stricter
// discipline than CBOR canonical-form's byte-sorted keys, which is why
// this package builds each map through internal/wire instead of
// marshaling a Go map value directly.
package tree

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	cbor "github.com/fxamacker/cbor/v2"

	"github.com/absmach/coreconf/internal/wire"
	cerrors "github.com/absmach/coreconf/pkg/errors"
	"github.com/absmach/coreconf/pkg/sid"
	"github.com/absmach/coreconf/pkg/valuecodec"
)

// Codec encodes and decodes whole subtrees against a single schema.
type Codec struct {
	idx *sid.SidIndex
	vc  *valuecodec.Codec
	em  cbor.EncMode
}

// New builds a Codec bound to idx, using vc for every leaf value.
func New(idx *sid.SidIndex, vc *valuecodec.Codec) (*Codec, error) {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, cerrors.New("tree.New", "", 0, "", err)
	}
	return &Codec{idx: idx, vc: vc, em: em}, nil
}

// Encode renders a full-datastore (or GET-response) JSON tree, keyed by
// absolute YANG path at the top level, as root delta-SID map bytes.
func (c *Codec) Encode(value map[string]any) ([]byte, error) {
	type entry struct {
		sid   int64
		item  *sid.Item
		value any
	}
	entries := make([]entry, 0, len(value))
	for path, v := range value {
		item, ok := c.idx.ItemByPath(path)
		if !ok {
			return nil, cerrors.New("tree.Encode", "", 0, path, cerrors.ErrPathInvalid)
		}
		entries = append(entries, entry{sid: item.SID, item: item, value: v})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].sid < entries[j].sid })

	var buf bytes.Buffer
	wire.WriteMapHeader(&buf, len(entries))
	cur := int64(0)
	for _, e := range entries {
		delta := e.sid - cur
		cur = e.sid
		keyBytes, err := c.em.Marshal(delta)
		if err != nil {
			return nil, cerrors.New("tree.Encode", "", e.sid, e.item.Path, err)
		}
		buf.Write(keyBytes)

		valBytes, err := c.encodeValue(e.value, e.item)
		if err != nil {
			return nil, err
		}
		buf.Write(valBytes)
	}
	return buf.Bytes(), nil
}

// EncodeItem renders a single already-resolved SID's value as one
// branch keyed at its own absolute SID.
func (c *Codec) EncodeItem(target int64, value any) ([]byte, error) {
	item, ok := c.idx.ItemOf(target)
	if !ok {
		return nil, cerrors.New("tree.EncodeItem", "", target, "", cerrors.ErrUnknownSid)
	}
	return c.Encode(map[string]any{item.Path: value})
}

func (c *Codec) encodeValue(value any, item *sid.Item) ([]byte, error) {
	switch item.Kind {
	case sid.NodeLeaf:
		b, err := c.vc.EncodeItem(value, item.Type)
		if err != nil {
			return nil, cerrors.New("tree.encodeValue", "", item.SID, item.Path, err)
		}
		return b, nil

	case sid.NodeLeafList:
		values, ok := value.([]any)
		if !ok {
			return nil, cerrors.New("tree.encodeValue", "", item.SID, item.Path, cerrors.ErrTypeMismatch)
		}
		var buf bytes.Buffer
		wire.WriteArrayHeader(&buf, len(values))
		for _, v := range values {
			b, err := c.vc.EncodeItem(v, item.Type)
			if err != nil {
				return nil, cerrors.New("tree.encodeValue", "", item.SID, item.Path, err)
			}
			buf.Write(b)
		}
		return buf.Bytes(), nil

	case sid.NodeContainer:
		fields, ok := value.(map[string]any)
		if !ok {
			return nil, cerrors.New("tree.encodeValue", "", item.SID, item.Path, cerrors.ErrTypeMismatch)
		}
		return c.encodeFields(fields, item.SID)

	case sid.NodeList:
		entries, ok := value.([]any)
		if !ok {
			return nil, cerrors.New("tree.encodeValue", "", item.SID, item.Path, cerrors.ErrTypeMismatch)
		}
		var buf bytes.Buffer
		wire.WriteArrayHeader(&buf, len(entries))
		for _, e := range entries {
			fields, ok := e.(map[string]any)
			if !ok {
				return nil, cerrors.New("tree.encodeValue", "", item.SID, item.Path, cerrors.ErrTypeMismatch)
			}
			b, err := c.encodeFields(fields, item.SID)
			if err != nil {
				return nil, err
			}
			buf.Write(b)
		}
		return buf.Bytes(), nil

	default:
		return nil, cerrors.New("tree.encodeValue", "", item.SID, item.Path, cerrors.ErrTypeMismatch)
	}
}

// encodeFields writes a container's or a single list entry's field map,
// keyed by each field's local YANG name, resetting the delta baseline
// to containerSid.
func (c *Codec) encodeFields(fields map[string]any, containerSid int64) ([]byte, error) {
	byLocalName := make(map[string]int64, len(fields))
	for _, childSid := range c.idx.ChildrenOf(containerSid) {
		child, ok := c.idx.ItemOf(childSid)
		if !ok {
			continue
		}
		byLocalName[localName(child.Path)] = childSid
	}

	type entry struct {
		sid  int64
		item *sid.Item
		val  any
	}
	entries := make([]entry, 0, len(fields))
	for name, v := range fields {
		childSid, ok := byLocalName[name]
		if !ok {
			return nil, cerrors.New("tree.encodeFields", "", containerSid, name, cerrors.ErrPathInvalid)
		}
		item, _ := c.idx.ItemOf(childSid)
		entries = append(entries, entry{sid: childSid, item: item, val: v})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].sid < entries[j].sid })

	var buf bytes.Buffer
	wire.WriteMapHeader(&buf, len(entries))
	cur := containerSid
	for _, e := range entries {
		delta := e.sid - cur
		cur = e.sid
		keyBytes, err := c.em.Marshal(delta)
		if err != nil {
			return nil, err
		}
		buf.Write(keyBytes)

		valBytes, err := c.encodeValue(e.val, e.item)
		if err != nil {
			return nil, err
		}
		buf.Write(valBytes)
	}
	return buf.Bytes(), nil
}

// Decode parses root delta-SID map bytes back into the { "/path": value } shape Encode produces.
func (c *Codec) Decode(data []byte) (map[string]any, error) {
	h, err := wire.PeekHeader(data)
	if err != nil {
		return nil, err
	}
	if !h.IsMap() {
		return nil, cerrors.New("tree.Decode", "", 0, "", fmt.Errorf("%w: expected root map", cerrors.ErrMalformedCbor))
	}

	pairs, _, err := wire.SplitItems(data[h.HeaderLen:], int(h.Count)*2)
	if err != nil {
		return nil, err
	}

	out := make(map[string]any, h.Count)
	cur := int64(0)
	for i := 0; i < len(pairs); i += 2 {
		delta, err := decodeDelta(pairs[i])
		if err != nil {
			return nil, err
		}
		if delta <= 0 {
			return nil, cerrors.New("tree.Decode", "", cur, "", cerrors.ErrDuplicateSidInMap)
		}
		cur += delta

		item, ok := c.idx.ItemOf(cur)
		if !ok {
			return nil, cerrors.New("tree.Decode", "", cur, "", cerrors.ErrUnknownSid)
		}

		val, err := c.decodeValue(pairs[i+1], item)
		if err != nil {
			return nil, err
		}
		out[item.Path] = val
	}
	return out, nil
}

func (c *Codec) decodeValue(data []byte, item *sid.Item) (any, error) {
	switch item.Kind {
	case sid.NodeLeaf:
		v, err := c.vc.DecodeItem(data, item.Type)
		if err != nil {
			return nil, cerrors.New("tree.decodeValue", "", item.SID, item.Path, err)
		}
		return v, nil

	case sid.NodeLeafList:
		h, err := wire.PeekHeader(data)
		if err != nil || !h.IsArray() {
			return nil, cerrors.New("tree.decodeValue", "", item.SID, item.Path, fmt.Errorf("%w: expected array", cerrors.ErrTypeMismatch))
		}
		elems, _, err := wire.SplitItems(data[h.HeaderLen:], int(h.Count))
		if err != nil {
			return nil, err
		}
		out := make([]any, 0, len(elems))
		for _, e := range elems {
			v, err := c.vc.DecodeItem(e, item.Type)
			if err != nil {
				return nil, cerrors.New("tree.decodeValue", "", item.SID, item.Path, err)
			}
			out = append(out, v)
		}
		return out, nil

	case sid.NodeContainer:
		return c.decodeFields(data, item.SID)

	case sid.NodeList:
		h, err := wire.PeekHeader(data)
		if err != nil || !h.IsArray() {
			return nil, cerrors.New("tree.decodeValue", "", item.SID, item.Path, fmt.Errorf("%w: expected array", cerrors.ErrTypeMismatch))
		}
		elems, _, err := wire.SplitItems(data[h.HeaderLen:], int(h.Count))
		if err != nil {
			return nil, err
		}
		out := make([]any, 0, len(elems))
		for _, e := range elems {
			fields, err := c.decodeFields(e, item.SID)
			if err != nil {
				return nil, err
			}
			out = append(out, fields)
		}
		return out, nil

	default:
		return nil, cerrors.New("tree.decodeValue", "", item.SID, item.Path, cerrors.ErrTypeMismatch)
	}
}

func (c *Codec) decodeFields(data []byte, containerSid int64) (map[string]any, error) {
	h, err := wire.PeekHeader(data)
	if err != nil || !h.IsMap() {
		return nil, cerrors.New("tree.decodeFields", "", containerSid, "", fmt.Errorf("%w: expected map", cerrors.ErrTypeMismatch))
	}
	pairs, _, err := wire.SplitItems(data[h.HeaderLen:], int(h.Count)*2)
	if err != nil {
		return nil, err
	}

	out := make(map[string]any, h.Count)
	cur := containerSid
	for i := 0; i < len(pairs); i += 2 {
		delta, err := decodeDelta(pairs[i])
		if err != nil {
			return nil, err
		}
		if delta <= 0 {
			return nil, cerrors.New("tree.decodeFields", "", cur, "", cerrors.ErrDuplicateSidInMap)
		}
		cur += delta

		item, ok := c.idx.ItemOf(cur)
		if !ok {
			return nil, cerrors.New("tree.decodeFields", "", cur, "", cerrors.ErrUnknownSid)
		}

		val, err := c.decodeValue(pairs[i+1], item)
		if err != nil {
			return nil, err
		}
		out[localName(item.Path)] = val
	}
	return out, nil
}

func decodeDelta(data []byte) (int64, error) {
	var delta int64
	if err := cbor.Unmarshal(data, &delta); err != nil {
		return 0, cerrors.New("tree.decodeDelta", "", 0, "", fmt.Errorf("%w: %v", cerrors.ErrMalformedCbor, err))
	}
	return delta, nil
}

// localName returns the last path segment of a YANG identifier, with
// any module prefix ("module:") stripped from that last segment.
func localName(path string) string {
	trimmed := strings.TrimPrefix(path, "/")
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	if idx := strings.Index(trimmed, ":"); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	return trimmed
}
