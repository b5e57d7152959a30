// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package requestbuilder implements client-side construction of
// CORECONF request payloads: FETCH (application/yang-identifiers+cbor),
// iPATCH (application/yang-instances+cbor-seq), and POST (RPC/action
// invocation, same wire shape as iPATCH), plus parsing their responses
// back into path-keyed values.
package requestbuilder

import (
	cerrors "github.com/absmach/coreconf/pkg/errors"
	"github.com/absmach/coreconf/pkg/instanceid"
	"github.com/absmach/coreconf/pkg/sid"
	"github.com/absmach/coreconf/pkg/valuecodec"
)

// Change is one target/value pair for an iPATCH or POST call. A nil
// Value means delete (iPATCH) or "no input" (POST).
type Change struct {
	Path  string
	SID   int64
	Value any
}

// Builder constructs CORECONF request payloads against a schema.
type Builder struct {
	idx *sid.SidIndex
	vc  *valuecodec.Codec
}

// New builds a Builder resolving paths and casting values against idx.
func New(idx *sid.SidIndex) (*Builder, error) {
	vc, err := valuecodec.New(idx)
	if err != nil {
		return nil, err
	}
	return &Builder{idx: idx, vc: vc}, nil
}

// BuildFetch renders a FETCH body naming each YANG path: the resolved
// SIDs are sorted ascending and delta-encoded as one canonical array,
// the same shape BuildFetchSIDs produces.
func (b *Builder) BuildFetch(paths []string) ([]byte, error) {
	sids := make([]int64, 0, len(paths))
	for _, p := range paths {
		s, ok := b.idx.SidOf(p)
		if !ok {
			return nil, cerrors.New("requestbuilder.BuildFetch", "", 0, p, cerrors.ErrPathInvalid)
		}
		sids = append(sids, s)
	}
	return instanceid.EncodeFetchTargets(sids)
}

// BuildFetchSIDs renders a FETCH body naming each absolute SID, sorted
// ascending and delta-encoded against one shared chain so the payload is
// canonical regardless of input order (e.g. build_fetch([2502, 2501])
// renders the CBOR array [2501, 1]).
func (b *Builder) BuildFetchSIDs(sids []int64) ([]byte, error) {
	return instanceid.EncodeFetchTargets(sids)
}

// BuildIPatch renders an iPATCH body from a list of path-addressed
// changes.
func (b *Builder) BuildIPatch(changes []Change) ([]byte, error) {
	patches := make([]instanceid.InstancePatch, 0, len(changes))
	for _, c := range changes {
		ip, err := instanceid.FromYangPath(c.Path, b.idx)
		if err != nil {
			return nil, err
		}
		patches = append(patches, patchFor(ip, c.Value))
	}
	return instanceid.EncodePatchSeq(patches, b.vc, b.idx)
}

// BuildIPatchSIDs renders an iPATCH body from a list of SID-addressed
// changes.
func (b *Builder) BuildIPatchSIDs(changes []Change) ([]byte, error) {
	patches := make([]instanceid.InstancePatch, 0, len(changes))
	for _, c := range changes {
		var ip instanceid.Path
		ip.PushDelta(c.SID)
		patches = append(patches, patchFor(ip, c.Value))
	}
	return instanceid.EncodePatchSeq(patches, b.vc, b.idx)
}

// BuildPost renders a POST body invoking the RPC or action at rpcPath
// with input, or with no input when input is nil.
func (b *Builder) BuildPost(rpcPath string, input any) ([]byte, error) {
	ip, err := instanceid.FromYangPath(rpcPath, b.idx)
	if err != nil {
		return nil, err
	}
	patch := instanceid.InstancePatch{Path: ip, Value: input}
	return instanceid.EncodePatchSeq([]instanceid.InstancePatch{patch}, b.vc, b.idx)
}

func patchFor(ip instanceid.Path, value any) instanceid.InstancePatch {
	if value == nil {
		return instanceid.InstancePatch{Path: ip, Delete: true}
	}
	return instanceid.InstancePatch{Path: ip, Value: value}
}

// Result is one decoded instance from a FETCH or iPATCH/POST response.
type Result struct {
	SID   int64
	Path  string
	Value any
}

// ParseResponse decodes a yang-instances+cbor-seq response body into
// its SID/value pairs.
func (b *Builder) ParseResponse(data []byte) ([]Result, error) {
	patches, err := instanceid.DecodePatchSeq(data, b.vc, b.idx)
	if err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(patches))
	for _, p := range patches {
		if p.Delete {
			continue
		}
		sidVal := p.Path.AbsoluteSid()
		path, _, ok := b.idx.PathOf(sidVal)
		if !ok {
			return nil, cerrors.New("requestbuilder.ParseResponse", "", sidVal, "", cerrors.ErrUnknownSid)
		}
		results = append(results, Result{SID: sidVal, Path: path, Value: p.Value})
	}
	return results, nil
}

// ParseResponseJSON decodes a response body into a JSON-shaped map
// keyed by each result's absolute YANG path.
func (b *Builder) ParseResponseJSON(data []byte) (map[string]any, error) {
	results, err := b.ParseResponse(data)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(results))
	for _, r := range results {
		out[r.Path] = r.Value
	}
	return out, nil
}
