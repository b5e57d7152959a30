// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package valuecodec converts JSON-domain leaf values to and from the
// CBOR bytes CORECONF puts on the wire, cast through the YANG type a
// sid.TypeHint carries. It never decides whether a SID is a scalar,
// container, or list — that structural decision belongs to pkg/tree —
// it only knows how to cast one already-identified leaf value.
package valuecodec

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	cbor "github.com/fxamacker/cbor/v2"

	cerrors "github.com/absmach/coreconf/pkg/errors"
	"github.com/absmach/coreconf/pkg/sid"
)

// Resolver looks up identity SIDs by path and paths by SID, satisfied
// directly by *sid.SidIndex. It lets identityref values round-trip
// through their assigned SID instead of a bare "module:identity" string.
type Resolver interface {
	SidOf(path string) (int64, bool)
	PathOf(sid int64) (string, *sid.TypeHint, bool)
	Module() string
}

// Codec marshals and unmarshals single leaf values.
type Codec struct {
	enc      cbor.EncMode
	dec      cbor.DecMode
	resolver Resolver
}

// New builds a Codec using the canonical CBOR encoding rules (RFC 8949
// §4.2.1), the same EncMode/DecMode construction every CBOR user in this
// codebase shares.
func New(resolver Resolver) (*Codec, error) {
	enc, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, cerrors.New("valuecodec.New", "", 0, "", err)
	}
	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return nil, cerrors.New("valuecodec.New", "", 0, "", err)
	}
	return &Codec{enc: enc, dec: dec, resolver: resolver}, nil
}

// EncodeItem casts a JSON-domain leaf value through hint and marshals it
// to the CBOR bytes of exactly one data item. A nil hint passes the
// value through unchanged (used for schema-less debug paths).
func (c *Codec) EncodeItem(value any, hint *sid.TypeHint) ([]byte, error) {
	if hint == nil {
		return c.enc.Marshal(value)
	}

	switch hint.Kind {
	case sid.KindString, sid.KindUnknown:
		s, err := asString(value)
		if err != nil {
			return nil, err
		}
		return c.enc.Marshal(s)

	case sid.KindBoolean:
		return c.enc.Marshal(asBool(value))

	case sid.KindUint:
		n, err := asUint64(value)
		if err != nil {
			return nil, err
		}
		return c.enc.Marshal(n)

	case sid.KindInt:
		n, err := asInt64(value)
		if err != nil {
			return nil, err
		}
		return c.enc.Marshal(n)

	case sid.KindDecimal64:
		return c.encodeDecimal64(value)

	case sid.KindBinary:
		s, err := asString(value)
		if err != nil {
			return nil, err
		}
		raw, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, cerrors.New("valuecodec.EncodeItem", "", 0, "", fmt.Errorf("%w: base64 decode: %v", cerrors.ErrTypeMismatch, err))
		}
		return c.enc.Marshal(raw)

	case sid.KindEmpty:
		return c.enc.Marshal(nil)

	case sid.KindEnum:
		return c.encodeEnum(value, hint)

	case sid.KindIdentityref:
		return c.encodeIdentityref(value)

	case sid.KindBits:
		s, err := asString(value)
		if err != nil {
			return nil, err
		}
		return c.enc.Marshal(s)

	case sid.KindInstanceIdentifier:
		// Encoded by pkg/instanceid, which produces ready-made CBOR
		// bytes (a yang-instances+cbor-seq run); pass through untouched.
		raw, ok := value.([]byte)
		if !ok {
			return nil, cerrors.New("valuecodec.EncodeItem", "", 0, "", fmt.Errorf("%w: instance-identifier value must be pre-encoded bytes", cerrors.ErrTypeMismatch))
		}
		return raw, nil

	case sid.KindUnion:
		var lastErr error
		for i := range hint.Union {
			if b, err := c.EncodeItem(value, &hint.Union[i]); err == nil {
				return b, nil
			} else {
				lastErr = err
			}
		}
		if lastErr == nil {
			lastErr = cerrors.ErrTypeMismatch
		}
		return nil, cerrors.New("valuecodec.EncodeItem", "", 0, "", lastErr)

	default:
		return c.enc.Marshal(value)
	}
}

// DecodeItem unmarshals the CBOR bytes of exactly one data item back
// into a JSON-domain value, cast through hint. A nil hint decodes into
// a generic any (used for schema-less debug paths).
func (c *Codec) DecodeItem(data []byte, hint *sid.TypeHint) (any, error) {
	if hint == nil {
		var v any
		if err := c.dec.Unmarshal(data, &v); err != nil {
			return nil, cerrors.New("valuecodec.DecodeItem", "", 0, "", fmt.Errorf("%w: %v", cerrors.ErrMalformedCbor, err))
		}
		return v, nil
	}

	switch hint.Kind {
	case sid.KindString, sid.KindUnknown:
		var s string
		if err := c.dec.Unmarshal(data, &s); err != nil {
			return nil, malformed(err)
		}
		return s, nil

	case sid.KindBits:
		return c.decodeBits(data)

	case sid.KindBoolean:
		var b bool
		if err := c.dec.Unmarshal(data, &b); err != nil {
			return nil, malformed(err)
		}
		return b, nil

	case sid.KindUint:
		var n uint64
		if err := c.dec.Unmarshal(data, &n); err != nil {
			return nil, malformed(err)
		}
		return n, nil

	case sid.KindInt:
		var n int64
		if err := c.dec.Unmarshal(data, &n); err != nil {
			return nil, malformed(err)
		}
		return n, nil

	case sid.KindDecimal64:
		return c.decodeDecimal64(data)

	case sid.KindBinary:
		var raw []byte
		if err := c.dec.Unmarshal(data, &raw); err != nil {
			return nil, malformed(err)
		}
		return base64.StdEncoding.EncodeToString(raw), nil

	case sid.KindEmpty:
		return nil, nil

	case sid.KindEnum:
		return c.decodeEnum(data, hint)

	case sid.KindIdentityref:
		return c.decodeIdentityref(data)

	case sid.KindInstanceIdentifier:
		return append([]byte(nil), data...), nil

	case sid.KindUnion:
		var lastErr error
		for i := range hint.Union {
			if v, err := c.DecodeItem(data, &hint.Union[i]); err == nil {
				return v, nil
			} else {
				lastErr = err
			}
		}
		if lastErr == nil {
			lastErr = cerrors.ErrTypeMismatch
		}
		return nil, cerrors.New("valuecodec.DecodeItem", "", 0, "", lastErr)

	default:
		var v any
		if err := c.dec.Unmarshal(data, &v); err != nil {
			return nil, malformed(err)
		}
		return v, nil
	}
}

func malformed(err error) error {
	return cerrors.New("valuecodec.DecodeItem", "", 0, "", fmt.Errorf("%w: %v", cerrors.ErrMalformedCbor, err))
}

// decodeBits accepts the canonical space-separated bit-name string this
// codec emits, but also tolerates the tagged-integer-bitmap alternative
// spec.md §4.C allows on the wire: a peer that never learned the
// canonical form may send a plain CBOR unsigned integer whose set bits
// mark active positions. A .sid file carries no bit-name table, so
// there is no name to recover in that case; the fallback renders the
// set bit positions themselves as a space-separated token list, the
// same shape as the canonical string with numbers standing in for names.
func (c *Codec) decodeBits(data []byte) (any, error) {
	var s string
	if err := c.dec.Unmarshal(data, &s); err == nil {
		return s, nil
	}
	var mask uint64
	if err := c.dec.Unmarshal(data, &mask); err != nil {
		return nil, malformed(err)
	}
	var positions []string
	for i := uint(0); i < 64; i++ {
		if mask&(1<<i) != 0 {
			positions = append(positions, strconv.FormatUint(uint64(i), 10))
		}
	}
	return strings.Join(positions, " "), nil
}

func (c *Codec) encodeEnum(value any, hint *sid.TypeHint) ([]byte, error) {
	if s, ok := value.(string); ok {
		if n, ok := hint.EnumValues[s]; ok {
			return c.enc.Marshal(n)
		}
	}
	n, err := asInt64(value)
	if err != nil {
		return nil, cerrors.New("valuecodec.encodeEnum", "", 0, "", fmt.Errorf("%w: %v", cerrors.ErrTypeMismatch, err))
	}
	return c.enc.Marshal(n)
}

func (c *Codec) decodeEnum(data []byte, hint *sid.TypeHint) (any, error) {
	var n int64
	if err := c.dec.Unmarshal(data, &n); err != nil {
		return nil, malformed(err)
	}
	for name, val := range hint.EnumValues {
		if val == n {
			return name, nil
		}
	}
	return n, nil
}

func (c *Codec) encodeIdentityref(value any) ([]byte, error) {
	s, err := asString(value)
	if err != nil {
		return nil, err
	}
	if c.resolver != nil {
		if _, identity, found := strings.Cut(s, ":"); found {
			if sidVal, ok := c.resolver.SidOf(identity); ok {
				return c.enc.Marshal(sidVal)
			}
		}
	}
	return c.enc.Marshal(s)
}

func (c *Codec) decodeIdentityref(data []byte) (any, error) {
	var n int64
	if err := c.dec.Unmarshal(data, &n); err == nil {
		if c.resolver != nil {
			if path, _, ok := c.resolver.PathOf(n); ok {
				return c.resolver.Module() + ":" + path, nil
			}
		}
		return n, nil
	}
	var s string
	if err := c.dec.Unmarshal(data, &s); err != nil {
		return nil, malformed(err)
	}
	return s, nil
}

// encodeDecimal64 encodes value as an RFC 8949 §3.4.4 tag-4 [exponent,
// mantissa] pair when its decimal digits fit exactly in an int64
// mantissa, falling back to a plain text string (still round-trippable,
// just no longer numerically tagged) when they don't.
func (c *Codec) encodeDecimal64(value any) ([]byte, error) {
	s, err := numericString(value)
	if err != nil {
		return nil, err
	}

	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	intPart, fracPart, hasFrac := strings.Cut(s, ".")
	exponent := 0
	digits := intPart
	if hasFrac {
		exponent = -len(fracPart)
		digits = intPart + fracPart
	}
	digits = strings.TrimLeft(digits, "0")
	if digits == "" {
		digits = "0"
	}

	mantissa, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		// Too many significant digits for an int64 mantissa: fall back
		// to an exact decimal text string.
		return c.enc.Marshal(numericStringSigned(neg, s))
	}
	if neg {
		mantissa = -mantissa
	}

	return c.enc.Marshal(cbor.Tag{Number: 4, Content: []int64{int64(exponent), mantissa}})
}

func (c *Codec) decodeDecimal64(data []byte) (any, error) {
	var tag cbor.Tag
	if err := c.dec.Unmarshal(data, &tag); err == nil && tag.Number == 4 {
		parts, ok := tag.Content.([]any)
		if ok && len(parts) == 2 {
			exponent, err1 := toInt64(parts[0])
			mantissa, err2 := toInt64(parts[1])
			if err1 == nil && err2 == nil {
				return formatDecimal64(exponent, mantissa), nil
			}
		}
	}

	var s string
	if err := c.dec.Unmarshal(data, &s); err == nil {
		return s, nil
	}

	return nil, cerrors.New("valuecodec.decodeDecimal64", "", 0, "", fmt.Errorf("%w: not a decimal64", cerrors.ErrMalformedCbor))
}

func formatDecimal64(exponent, mantissa int64) string {
	neg := mantissa < 0
	if neg {
		mantissa = -mantissa
	}
	digits := strconv.FormatInt(mantissa, 10)

	var out string
	switch {
	case exponent >= 0:
		out = digits + strings.Repeat("0", int(exponent))
	default:
		shift := int(-exponent)
		for len(digits) <= shift {
			digits = "0" + digits
		}
		out = digits[:len(digits)-shift] + "." + digits[len(digits)-shift:]
	}
	if neg {
		out = "-" + out
	}
	return out
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case uint64:
		return int64(n), nil
	case int:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("%w: not an integer", cerrors.ErrTypeMismatch)
	}
}

func numericStringSigned(neg bool, digits string) string {
	if neg {
		return "-" + digits
	}
	return digits
}

func numericString(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	case int:
		return strconv.Itoa(v), nil
	default:
		return "", cerrors.New("valuecodec.numericString", "", 0, "", fmt.Errorf("%w: %T is not numeric", cerrors.ErrTypeMismatch, value))
	}
}

func asString(value any) (string, error) {
	s, ok := value.(string)
	if !ok {
		return "", cerrors.New("valuecodec.asString", "", 0, "", fmt.Errorf("%w: %T is not a string", cerrors.ErrTypeMismatch, value))
	}
	return s, nil
}

func asBool(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		return v == "true"
	default:
		return false
	}
}

func asUint64(value any) (uint64, error) {
	switch v := value.(type) {
	case float64:
		if v < 0 {
			return 0, cerrors.New("valuecodec.asUint64", "", 0, "", fmt.Errorf("%w: negative value for uint", cerrors.ErrTypeMismatch))
		}
		return uint64(v), nil
	case uint64:
		return v, nil
	case int64:
		if v < 0 {
			return 0, cerrors.New("valuecodec.asUint64", "", 0, "", fmt.Errorf("%w: negative value for uint", cerrors.ErrTypeMismatch))
		}
		return uint64(v), nil
	case int:
		return uint64(v), nil
	case string:
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return 0, cerrors.New("valuecodec.asUint64", "", 0, "", fmt.Errorf("%w: %v", cerrors.ErrTypeMismatch, err))
		}
		return n, nil
	default:
		return 0, cerrors.New("valuecodec.asUint64", "", 0, "", fmt.Errorf("%w: %T is not numeric", cerrors.ErrTypeMismatch, value))
	}
}

func asInt64(value any) (int64, error) {
	switch v := value.(type) {
	case float64:
		return int64(v), nil
	case int64:
		return v, nil
	case uint64:
		return int64(v), nil
	case int:
		return int64(v), nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, cerrors.New("valuecodec.asInt64", "", 0, "", fmt.Errorf("%w: %v", cerrors.ErrTypeMismatch, err))
		}
		return n, nil
	default:
		return 0, cerrors.New("valuecodec.asInt64", "", 0, "", fmt.Errorf("%w: %T is not numeric", cerrors.ErrTypeMismatch, value))
	}
}
