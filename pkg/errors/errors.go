// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package errors provides structured error handling for the CORECONF
// engine: the error kinds a SID index, codec, datastore, or handler can
// raise, and a context-carrying wrapper for surfacing them in logs.
package errors

import (
	"errors"
	"fmt"
)

// Error kinds, one per row of the propagation table: codec and datastore
// errors surface as these sentinels; RequestHandler maps each to a CoAP
// response code.
var (
	// ErrBadSidFile indicates a malformed or internally contradictory .sid document.
	ErrBadSidFile = errors.New("bad sid file")

	// ErrDuplicateSid indicates two items in a .sid file claim the same SID.
	ErrDuplicateSid = errors.New("duplicate sid")

	// ErrDuplicatePath indicates two items in a .sid file claim the same path.
	ErrDuplicatePath = errors.New("duplicate path")

	// ErrSidOutOfRange indicates an item's SID falls outside every declared assignment range.
	ErrSidOutOfRange = errors.New("sid out of range")

	// ErrUnknownSid indicates a SID (absolute or reconstructed from deltas) is not in the index.
	ErrUnknownSid = errors.New("unknown sid")

	// ErrMalformedCbor indicates the decoder could not parse the input bytes.
	ErrMalformedCbor = errors.New("malformed cbor")

	// ErrTypeMismatch indicates the wire shape disagrees with the schema (container vs scalar vs list).
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrDuplicateSidInMap indicates a decoded delta was <= 0, breaking the
	// strictly-ascending-SID discipline every map key (including the first) must follow.
	ErrDuplicateSidInMap = errors.New("duplicate sid in map")

	// ErrKeyMissing indicates a list entry is missing one of its declared key leaves.
	ErrKeyMissing = errors.New("key missing")

	// ErrPathInvalid indicates a YANG path or instance-identifier does not resolve.
	ErrPathInvalid = errors.New("path invalid")

	// ErrKeyImmutable indicates an attempt to modify or delete a list key leaf.
	ErrKeyImmutable = errors.New("key immutable")

	// ErrNotFound indicates the addressed node is absent.
	ErrNotFound = errors.New("not found")

	// ErrUnsupported indicates an unhandled method or Content-Format.
	ErrUnsupported = errors.New("unsupported")

	// ErrInternal indicates a programmer bug; never propagated raw across the wire.
	ErrInternal = errors.New("internal error")
)

// CoreconfError wraps a sentinel error kind with the operation and
// addressing context that produced it, in the same shape as mProxy's
// ProxyError: an Op/context struct with Unwrap support so callers can
// still errors.Is against the sentinels above.
type CoreconfError struct {
	Op     string // operation that failed, e.g. "sid.Load", "tree.Decode"
	Method string // CORECONF verb in play, when applicable
	SID    int64  // the SID implicated, when applicable (0 if none)
	Path   string // the YANG path implicated, when applicable
	Err    error  // one of the sentinels above, or a wrapped cause
}

// Error implements the error interface.
func (e *CoreconfError) Error() string {
	switch {
	case e.Path != "":
		return fmt.Sprintf("%s: %s %q: %v", e.Op, e.Method, e.Path, e.Err)
	case e.SID != 0:
		return fmt.Sprintf("%s: %s sid=%d: %v", e.Op, e.Method, e.SID, e.Err)
	case e.Method != "":
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Method, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
}

// Unwrap returns the underlying sentinel or cause.
func (e *CoreconfError) Unwrap() error {
	return e.Err
}

// New creates a CoreconfError. Returns nil if err is nil, so it is safe
// to use as a passthrough wrapper: `return errors.New("sid.Load", "", 0, path, err)`.
func New(op, method string, sid int64, path string, err error) error {
	if err == nil {
		return nil
	}
	return &CoreconfError{Op: op, Method: method, SID: sid, Path: path, Err: err}
}

// Wrap attaches a message to err using %w, preserving errors.Is/As chains.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Is reports whether err ultimately wraps target, delegating to the
// standard library. Exported for callers that prefer errors.Is via this
// package for symmetry with New/Wrap.
func Is(err, target error) bool {
	return errors.Is(err, target)
}
