// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package sid parses YANG SID (Schema Item iDentifier) files and exposes
// the immutable path<->SID index that every other CORECONF component
// consults: TreeCodec to decide whether a wire value is a scalar,
// container, or list; InstancePathCodec to resolve accumulated deltas;
// Datastore to walk addressed nodes.
package sid

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	cerrors "github.com/absmach/coreconf/pkg/errors"
)

// NodeKind classifies what a SID's value looks like on the wire. .sid
// files don't carry this directly (it's YANG schema information, not
// SID-assignment information), so it is inferred: an item with a type
// hint is a Leaf (or LeafList, if flagged); an item that owns key SIDs
// in the key-mapping table is a List; everything else is a Container.
type NodeKind int

const (
	NodeUnknown NodeKind = iota
	NodeContainer
	NodeList
	NodeLeaf
	NodeLeafList
)

func (k NodeKind) String() string {
	switch k {
	case NodeContainer:
		return "container"
	case NodeList:
		return "list"
	case NodeLeaf:
		return "leaf"
	case NodeLeafList:
		return "leaf-list"
	default:
		return "unknown"
	}
}

// Kind is the broad YANG scalar type category a leaf's value is cast
// through in ValueCodec.
type Kind string

const (
	KindUint                Kind = "uint"
	KindInt                 Kind = "int"
	KindDecimal64           Kind = "decimal64"
	KindString              Kind = "string"
	KindBoolean             Kind = "boolean"
	KindBits                Kind = "bits"
	KindEnum                Kind = "enum"
	KindBinary              Kind = "binary"
	KindInstanceIdentifier  Kind = "instance-identifier"
	KindIdentityref         Kind = "identityref"
	KindUnion               Kind = "union"
	KindEmpty               Kind = "empty"
	KindUnknown             Kind = "unknown"
)

// TypeHint carries a leaf's YANG type, enough to drive ValueCodec.
type TypeHint struct {
	Kind Kind

	// EnumValues maps name -> assigned integer, populated when Kind == KindEnum.
	EnumValues map[string]int64

	// Union holds each candidate type, tried in order, when Kind == KindUnion.
	Union []TypeHint
}

func newScalarHint(kind Kind) TypeHint { return TypeHint{Kind: kind} }

// parseTypeHint mirrors original_source's YangType::from_sid_type: a
// string names a scalar type, an object is an enumeration (value->name),
// an array is a union of named types.
func parseTypeHint(raw json.RawMessage) (TypeHint, error) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return typeHintFromString(asString), nil
	}

	var asObject map[string]string
	if err := json.Unmarshal(raw, &asObject); err == nil {
		values := make(map[string]int64, len(asObject))
		for numeric, name := range asObject {
			var n int64
			_, _ = fmt.Sscanf(numeric, "%d", &n)
			values[name] = n
		}
		return TypeHint{Kind: KindEnum, EnumValues: values}, nil
	}

	var asArray []string
	if err := json.Unmarshal(raw, &asArray); err == nil {
		union := make([]TypeHint, 0, len(asArray))
		for _, s := range asArray {
			union = append(union, typeHintFromString(s))
		}
		return TypeHint{Kind: KindUnion, Union: union}, nil
	}

	return TypeHint{}, cerrors.New("sid.parseTypeHint", "", 0, "", cerrors.ErrBadSidFile)
}

func typeHintFromString(s string) TypeHint {
	switch s {
	case "string", "inet:uri":
		return newScalarHint(KindString)
	case "int8", "int16", "int32", "int64":
		return newScalarHint(KindInt)
	case "uint8", "uint16", "uint32", "uint64":
		return newScalarHint(KindUint)
	case "decimal64":
		return newScalarHint(KindDecimal64)
	case "binary":
		return newScalarHint(KindBinary)
	case "boolean":
		return newScalarHint(KindBoolean)
	case "empty":
		return newScalarHint(KindEmpty)
	case "identityref":
		return newScalarHint(KindIdentityref)
	case "leafref":
		// A leafref's runtime representation is whatever its target
		// resolves to; it is hinted as KindUnknown, which ValueCodec
		// encodes and decodes as a string.
		return newScalarHint(KindUnknown)
	case "instance-identifier":
		return newScalarHint(KindInstanceIdentifier)
	case "bits":
		return newScalarHint(KindBits)
	default:
		return newScalarHint(KindUnknown)
	}
}

// AssignmentRange is one {entry-point, size} block from a .sid file.
type AssignmentRange struct {
	EntryPoint int64
	Size       int64
}

func (r AssignmentRange) contains(s int64) bool {
	return s >= r.EntryPoint && s < r.EntryPoint+r.Size
}

// Item is one parsed entry of a .sid file's "items" array.
type Item struct {
	Namespace string
	Path      string
	SID       int64
	Status    string
	Type      *TypeHint
	Kind      NodeKind
}

type rawSidFile struct {
	ModuleName       string             `json:"module-name"`
	ModuleRevision   string             `json:"module-revision"`
	AssignmentRanges []rawRange         `json:"assignment-ranges"`
	AssignmentRange  []rawRange         `json:"assignment-range"` // original_source's singular alias
	Items            []rawItem          `json:"items"`
	ItemAlias        []rawItem          `json:"item"` // original_source's singular alias
	KeyMapping       map[string][]int64 `json:"key-mapping"`
}

type rawRange struct {
	EntryPoint int64 `json:"entry-point"`
	Size       int64 `json:"size"`
}

type rawItem struct {
	Namespace  string          `json:"namespace"`
	Identifier string          `json:"identifier"`
	SID        int64           `json:"sid"`
	Status     string          `json:"status"`
	Type       json.RawMessage `json:"type"`
	IsLeafList bool            `json:"leaf-list"`
}

// Options control SidIndex construction.
type Options struct {
	// Strict makes an item whose SID falls outside every assignment
	// range a fatal SidOutOfRange error instead of a collected warning.
	Strict bool
}

// SidIndex is the immutable, built-once path<->SID index.
type SidIndex struct {
	ModuleName     string
	ModuleRevision string
	ModulePrefix   string
	Ranges         []AssignmentRange

	byPath      map[string]*Item
	itemsBySid  []*Item // sorted ascending by SID
	children    map[int64][]int64
	parent      map[int64]int64
	keyMapping  map[int64][]int64
	moduleItem  *Item
	warnings    []error
}

// Load parses a .sid document's raw bytes into an immutable SidIndex.
func Load(data []byte, opts Options) (*SidIndex, error) {
	var raw rawSidFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, cerrors.New("sid.Load", "", 0, "", fmt.Errorf("%w: %v", cerrors.ErrBadSidFile, err))
	}

	items := raw.Items
	if len(items) == 0 {
		items = raw.ItemAlias
	}
	if len(items) == 0 {
		return nil, cerrors.New("sid.Load", "", 0, "", fmt.Errorf("%w: no items", cerrors.ErrBadSidFile))
	}

	ranges := raw.AssignmentRanges
	if len(ranges) == 0 {
		ranges = raw.AssignmentRange
	}

	idx := &SidIndex{
		ModuleName:     raw.ModuleName,
		ModuleRevision: raw.ModuleRevision,
		ModulePrefix:   "/" + raw.ModuleName + ":",
		byPath:         make(map[string]*Item, len(items)),
		children:       make(map[int64][]int64),
		parent:         make(map[int64]int64),
		keyMapping:     make(map[int64][]int64, len(raw.KeyMapping)),
	}
	for _, r := range ranges {
		idx.Ranges = append(idx.Ranges, AssignmentRange{EntryPoint: r.EntryPoint, Size: r.Size})
	}

	seenSid := make(map[int64]bool, len(items))
	for _, raw := range items {
		if seenSid[raw.SID] {
			return nil, cerrors.New("sid.Load", "", raw.SID, raw.Identifier, cerrors.ErrDuplicateSid)
		}
		seenSid[raw.SID] = true

		if _, exists := idx.byPath[raw.Identifier]; exists {
			return nil, cerrors.New("sid.Load", "", raw.SID, raw.Identifier, cerrors.ErrDuplicatePath)
		}

		item := &Item{
			Namespace: raw.Namespace,
			Path:      raw.Identifier,
			SID:       raw.SID,
			Status:    raw.Status,
		}

		if len(raw.Type) > 0 {
			hint, err := parseTypeHint(raw.Type)
			if err != nil {
				return nil, cerrors.New("sid.Load", "", raw.SID, raw.Identifier, err)
			}
			item.Type = &hint
			item.Kind = NodeLeaf
			if raw.IsLeafList {
				item.Kind = NodeLeafList
			}
		}

		if !inAnyRange(idx.Ranges, raw.SID) {
			werr := cerrors.New("sid.Load", "", raw.SID, raw.Identifier, cerrors.ErrSidOutOfRange)
			if opts.Strict {
				return nil, werr
			}
			idx.warnings = append(idx.warnings, werr)
		}

		idx.byPath[item.Path] = item
		if item.Namespace == "module" {
			idx.moduleItem = item
		}
	}

	for k, v := range raw.KeyMapping {
		var sid int64
		if _, err := fmt.Sscanf(k, "%d", &sid); err != nil {
			continue
		}
		idx.keyMapping[sid] = v
	}

	idx.itemsBySid = make([]*Item, 0, len(idx.byPath))
	for _, item := range idx.byPath {
		idx.itemsBySid = append(idx.itemsBySid, item)
	}
	sort.Slice(idx.itemsBySid, func(i, j int) bool { return idx.itemsBySid[i].SID < idx.itemsBySid[j].SID })

	idx.buildChildren()
	idx.classifyLists()

	return idx, nil
}

// LoadFile reads and parses a .sid document from disk.
func LoadFile(path string, opts Options) (*SidIndex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, cerrors.New("sid.LoadFile", "", 0, path, err)
	}
	idx, err := Load(data, opts)
	if err != nil {
		return nil, cerrors.New("sid.LoadFile", "", 0, path, err)
	}
	return idx, nil
}

func inAnyRange(ranges []AssignmentRange, sid int64) bool {
	if len(ranges) == 0 {
		return true // no declared ranges means no constraint to violate
	}
	for _, r := range ranges {
		if r.contains(sid) {
			return true
		}
	}
	return false
}

// classifyLists marks items with an entry in the key-mapping table as
// NodeList, overriding the default NodeContainer classification a
// non-leaf item otherwise gets.
func (idx *SidIndex) classifyLists() {
	for sid := range idx.keyMapping {
		if item, ok := idx.itemBySidLocked(sid); ok && item.Type == nil {
			item.Kind = NodeList
		}
	}
	for _, item := range idx.itemsBySid {
		if item.Type == nil && item.Kind == NodeUnknown {
			item.Kind = NodeContainer
		}
	}
}

func (idx *SidIndex) itemBySidLocked(sid int64) (*Item, bool) {
	i := sort.Search(len(idx.itemsBySid), func(i int) bool { return idx.itemsBySid[i].SID >= sid })
	if i < len(idx.itemsBySid) && idx.itemsBySid[i].SID == sid {
		return idx.itemsBySid[i], true
	}
	return nil, false
}

// buildChildren derives each item's schema parent from its path and
// records ascending-SID child lists, since the SID file itself carries
// no structural pointers.
func (idx *SidIndex) buildChildren() {
	for _, item := range idx.itemsBySid {
		if item.Namespace == "module" {
			continue // the module item is the implicit root, has no parent
		}
		parentSid, ok := idx.parentSidOf(item.Path)
		if !ok {
			continue
		}
		idx.children[parentSid] = append(idx.children[parentSid], item.SID)
		idx.parent[item.SID] = parentSid
	}
	for sid, kids := range idx.children {
		sort.Slice(kids, func(i, j int) bool { return kids[i] < kids[j] })
		idx.children[sid] = kids
	}
}

func (idx *SidIndex) parentSidOf(identifier string) (int64, bool) {
	trimmed := strings.TrimPrefix(identifier, "/")
	segments := strings.Split(trimmed, "/")
	if len(segments) <= 1 {
		if idx.moduleItem != nil {
			return idx.moduleItem.SID, true
		}
		return 0, false
	}
	parentPath := "/" + strings.Join(segments[:len(segments)-1], "/")
	if parent, ok := idx.byPath[parentPath]; ok {
		return parent.SID, true
	}
	return 0, false
}

// Module returns the module name this index was built from.
func (idx *SidIndex) Module() string {
	return idx.ModuleName
}

// SidOf returns the SID assigned to a YANG path.
func (idx *SidIndex) SidOf(path string) (int64, bool) {
	item, ok := idx.byPath[path]
	if !ok {
		return 0, false
	}
	return item.SID, true
}

// PathOf returns the path and type hint (nil for containers/lists)
// registered for a SID.
func (idx *SidIndex) PathOf(sid int64) (string, *TypeHint, bool) {
	item, ok := idx.itemBySidLocked(sid)
	if !ok {
		return "", nil, false
	}
	return item.Path, item.Type, true
}

// ItemOf returns the full parsed item for a SID.
func (idx *SidIndex) ItemOf(sid int64) (*Item, bool) {
	return idx.itemBySidLocked(sid)
}

// ItemByPath returns the full parsed item for a YANG path.
func (idx *SidIndex) ItemByPath(path string) (*Item, bool) {
	item, ok := idx.byPath[path]
	return item, ok
}

// ChildrenOf returns the direct schema children of parent, sorted
// ascending by SID. TreeCodec relies on this ordering being exact, since
// it's how a decoder learns where one container's key-space ends.
func (idx *SidIndex) ChildrenOf(parent int64) []int64 {
	return append([]int64(nil), idx.children[parent]...)
}

// KeysOf returns the ordered key-leaf SIDs of a list SID, or nil if
// listSid is not a list or has no declared keys.
func (idx *SidIndex) KeysOf(listSid int64) []int64 {
	return append([]int64(nil), idx.keyMapping[listSid]...)
}

// ParentOf returns the schema parent SID of sid, or ok=false if sid is
// the module root or unknown.
func (idx *SidIndex) ParentOf(sid int64) (int64, bool) {
	p, ok := idx.parent[sid]
	return p, ok
}

// AncestorsOf returns the chain of ancestor SIDs from the module root
// down to (but excluding) sid itself. Datastore uses this to navigate
// into nested containers and list entries by SID alone.
func (idx *SidIndex) AncestorsOf(target int64) ([]int64, error) {
	if _, ok := idx.itemBySidLocked(target); !ok {
		return nil, cerrors.New("sid.AncestorsOf", "", target, "", cerrors.ErrUnknownSid)
	}
	var chain []int64
	cur := target
	for {
		parent, ok := idx.parent[cur]
		if !ok {
			break
		}
		chain = append([]int64{parent}, chain...)
		cur = parent
	}
	return chain, nil
}

// RootSid returns the module's own SID, the implicit root of every
// top-level data node.
func (idx *SidIndex) RootSid() (int64, bool) {
	if idx.moduleItem == nil {
		return 0, false
	}
	return idx.moduleItem.SID, true
}

// Warnings returns SidOutOfRange (and similar) issues collected during a
// non-strict Load.
func (idx *SidIndex) Warnings() []error {
	return append([]error(nil), idx.warnings...)
}
