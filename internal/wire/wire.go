// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package wire provides the order-preserving CBOR framing that
// pkg/tree needs and no CBOR library exposes: writing definite-length
// map/array headers around a caller-supplied, already-ordered sequence
// of item bytes, and splitting an encoded map or array back into its
// top-level item byte-spans without disturbing their order.
//
// CBOR's abstract data model treats a map as an unordered set of pairs;
// fxamacker/cbor (and every other CBOR library) is free to reorder keys
// on decode into a Go map, and on encode sorts them into canonical byte
// order. The delta-SID map this engine reads and writes requires the
// opposite: keys MUST appear in the order their absolute SIDs were
// visited, which is not the same as sorting by each key's own delta
// value. So this package never interprets scalar bytes itself — every
// item's actual value is still marshaled/unmarshaled by fxamacker/cbor —
// it only locates item boundaries and writes/reads the map/array header
// byte(s) that wrap them.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"

	cerrors "github.com/absmach/coreconf/pkg/errors"
)

const (
	majorUnsigned = 0
	majorNegative = 1
	majorBytes    = 2
	majorText     = 3
	majorArray    = 4
	majorMap      = 5
	majorTag      = 6
	majorSimple   = 7
)

// WriteMapHeader appends a definite-length CBOR map header for n pairs.
func WriteMapHeader(buf *bytes.Buffer, n int) {
	writeHead(buf, majorMap, uint64(n))
}

// WriteArrayHeader appends a definite-length CBOR array header for n items.
func WriteArrayHeader(buf *bytes.Buffer, n int) {
	writeHead(buf, majorArray, uint64(n))
}

func writeHead(buf *bytes.Buffer, major byte, n uint64) {
	switch {
	case n < 24:
		buf.WriteByte(major<<5 | byte(n))
	case n <= 0xff:
		buf.WriteByte(major<<5 | 24)
		buf.WriteByte(byte(n))
	case n <= 0xffff:
		buf.WriteByte(major<<5 | 25)
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], uint16(n))
		buf.Write(b[:])
	case n <= 0xffffffff:
		buf.WriteByte(major<<5 | 26)
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(n))
		buf.Write(b[:])
	default:
		buf.WriteByte(major<<5 | 27)
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], n)
		buf.Write(b[:])
	}
}

// head is a decoded CBOR initial byte plus argument.
type head struct {
	major     byte
	arg       uint64
	headerLen int
}

func readHead(data []byte) (head, error) {
	if len(data) == 0 {
		return head{}, cerrors.New("wire.readHead", "", 0, "", fmt.Errorf("%w: empty input", cerrors.ErrMalformedCbor))
	}
	first := data[0]
	major := first >> 5
	additional := first & 0x1f

	switch {
	case additional < 24:
		return head{major: major, arg: uint64(additional), headerLen: 1}, nil
	case additional == 24:
		if len(data) < 2 {
			return head{}, shortRead()
		}
		return head{major: major, arg: uint64(data[1]), headerLen: 2}, nil
	case additional == 25:
		if len(data) < 3 {
			return head{}, shortRead()
		}
		return head{major: major, arg: uint64(binary.BigEndian.Uint16(data[1:3])), headerLen: 3}, nil
	case additional == 26:
		if len(data) < 5 {
			return head{}, shortRead()
		}
		return head{major: major, arg: uint64(binary.BigEndian.Uint32(data[1:5])), headerLen: 5}, nil
	case additional == 27:
		if len(data) < 9 {
			return head{}, shortRead()
		}
		return head{major: major, arg: binary.BigEndian.Uint64(data[1:9]), headerLen: 9}, nil
	default:
		// 28-30 reserved, 31 indefinite-length: neither is emitted by a
		// canonical encoder and this format never reads indefinite-length input.
		return head{}, cerrors.New("wire.readHead", "", 0, "", fmt.Errorf("%w: unsupported additional info %d", cerrors.ErrMalformedCbor, additional))
	}
}

func shortRead() error {
	return cerrors.New("wire.readHead", "", 0, "", fmt.Errorf("%w: truncated header", cerrors.ErrMalformedCbor))
}

// ItemLen returns the byte length of the single, complete CBOR data item
// starting at data[0], recursing into arrays/maps/tags as needed.
func ItemLen(data []byte) (int, error) {
	h, err := readHead(data)
	if err != nil {
		return 0, err
	}

	switch h.major {
	case majorUnsigned, majorNegative:
		return h.headerLen, nil

	case majorBytes, majorText:
		total := h.headerLen + int(h.arg)
		if total > len(data) {
			return 0, shortRead()
		}
		return total, nil

	case majorArray:
		return itemsSpan(data, h.headerLen, int(h.arg))

	case majorMap:
		return itemsSpan(data, h.headerLen, int(h.arg)*2)

	case majorTag:
		inner, err := ItemLen(data[h.headerLen:])
		if err != nil {
			return 0, err
		}
		return h.headerLen + inner, nil

	case majorSimple:
		additional := data[0] & 0x1f
		switch {
		case additional < 24:
			return 1, nil
		case additional == 24, additional == 25, additional == 26, additional == 27:
			return h.headerLen, nil
		default:
			return 0, cerrors.New("wire.ItemLen", "", 0, "", fmt.Errorf("%w: unsupported simple value", cerrors.ErrMalformedCbor))
		}

	default:
		return 0, cerrors.New("wire.ItemLen", "", 0, "", fmt.Errorf("%w: unknown major type %d", cerrors.ErrMalformedCbor, h.major))
	}
}

func itemsSpan(data []byte, offset, count int) (int, error) {
	pos := offset
	for i := 0; i < count; i++ {
		if pos > len(data) {
			return 0, shortRead()
		}
		n, err := ItemLen(data[pos:])
		if err != nil {
			return 0, err
		}
		pos += n
	}
	return pos, nil
}

// Header exposes the decoded major type, item count (for
// arrays/maps) and header length of the CBOR value at data[0], for
// callers that need to branch on shape (map vs array vs scalar) before
// splitting.
type Header struct {
	Major     byte
	Count     uint64 // element count for arrays, pair count for maps
	HeaderLen int
}

// IsMap reports whether the header describes a definite-length map.
func (h Header) IsMap() bool { return h.Major == majorMap }

// IsArray reports whether the header describes a definite-length array.
func (h Header) IsArray() bool { return h.Major == majorArray }

// IsNull reports whether the header describes the CBOR null simple value.
func (h Header) IsNull() bool { return h.Major == majorSimple && h.Count == 22 }

// PeekHeader decodes the head of the CBOR item at data[0] without
// consuming it.
func PeekHeader(data []byte) (Header, error) {
	h, err := readHead(data)
	if err != nil {
		return Header{}, err
	}
	return Header{Major: h.major, Count: h.arg, HeaderLen: h.headerLen}, nil
}

// SplitItems consumes exactly n consecutive top-level CBOR data items
// starting at data[0] and returns their individual byte spans in
// encounter order, plus whatever bytes of data follow the nth item.
func SplitItems(data []byte, n int) (items [][]byte, rest []byte, err error) {
	pos := 0
	items = make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		if pos > len(data) {
			return nil, nil, shortRead()
		}
		itemLen, err := ItemLen(data[pos:])
		if err != nil {
			return nil, nil, err
		}
		items = append(items, data[pos:pos+itemLen])
		pos += itemLen
	}
	return items, data[pos:], nil
}
