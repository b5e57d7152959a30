// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package datastore implements the in-memory, schema-addressed instance
// tree RequestHandler mutates and queries: a tagged Container/List/Leaf/
// LeafList tree, reachable by YANG path, absolute SID, or a resolved
// instanceid.Path (so list entries can be selected by key).
package datastore

import (
	"encoding/json"
	"strings"

	cerrors "github.com/absmach/coreconf/pkg/errors"
	"github.com/absmach/coreconf/pkg/instanceid"
	"github.com/absmach/coreconf/pkg/sid"
)

// Node is one tagged node of the instance tree.
type Node interface {
	isNode()
}

// Container holds named children, keyed by schema SID.
type Container struct {
	Children map[int64]Node
}

// List holds an ordered sequence of entries, each a field map keyed by
// schema SID the same way a Container's children are. KeySids records
// the list's declared key leaves in schema order.
type List struct {
	KeySids []int64
	Entries []map[int64]Node
}

// Leaf holds a single scalar value.
type Leaf struct {
	Value any
}

// LeafList holds an ordered sequence of scalar values.
type LeafList struct {
	Values []any
}

func (*Container) isNode() {}
func (*List) isNode()      {}
func (*Leaf) isNode()      {}
func (*LeafList) isNode()  {}

// Store is the durable-backing hook WithPersistence accepts; pkg/persist
// implements it against bbolt.
type Store interface {
	Save(data []byte) error
	Load() ([]byte, error)
}

// Datastore is the schema-addressed instance tree. It is not internally
// synchronized: concurrent access requires an external exclusion
// discipline, which RequestHandler supplies.
type Datastore struct {
	idx   *sid.SidIndex
	root  map[int64]Node
	store Store
}

// New returns an empty Datastore bound to idx.
func New(idx *sid.SidIndex) *Datastore {
	return &Datastore{idx: idx, root: map[int64]Node{}}
}

// NewFromJSON returns a Datastore seeded from a snapshot-shaped JSON tree
// (top-level keys are full YANG paths, matching pkg/tree's shape).
func NewFromJSON(idx *sid.SidIndex, seed map[string]any) (*Datastore, error) {
	d := New(idx)
	if err := d.Restore(seed); err != nil {
		return nil, err
	}
	return d, nil
}

// WithPersistence attaches a durable backing store and returns d for chaining.
func (d *Datastore) WithPersistence(store Store) *Datastore {
	d.store = store
	return d
}

// Flush serializes the current snapshot and saves it through the
// attached Store. A no-op if none was attached.
func (d *Datastore) Flush() error {
	if d.store == nil {
		return nil
	}
	data, err := json.Marshal(d.Snapshot())
	if err != nil {
		return cerrors.New("datastore.Flush", "", 0, "", err)
	}
	return d.store.Save(data)
}

// LoadPersisted loads and restores a snapshot through the attached
// Store. A no-op if none was attached or nothing was saved yet.
func (d *Datastore) LoadPersisted() error {
	if d.store == nil {
		return nil
	}
	data, err := d.store.Load()
	if err != nil {
		return cerrors.New("datastore.LoadPersisted", "", 0, "", err)
	}
	if len(data) == 0 {
		return nil
	}
	var tree map[string]any
	if err := json.Unmarshal(data, &tree); err != nil {
		return cerrors.New("datastore.LoadPersisted", "", 0, "", err)
	}
	return d.Restore(tree)
}

// KeyEntry is one resolved list-key leaf SID and value, selecting a
// specific list entry.
type KeyEntry struct {
	SID   int64
	Value any
}

// Step is one hop of an Address: a plain schema SID, or (when Keys is
// non-nil) a list SID together with the key values selecting one entry.
type Step struct {
	SID  int64
	Keys []KeyEntry
}

// Address is a fully-resolved root-to-target walk through the schema.
type Address []Step

// AddressFromPath resolves a plain YANG path (no list-key predicates)
// into an Address, one Step per path segment.
func AddressFromPath(path string, idx *sid.SidIndex) (Address, error) {
	segments, err := splitPathSegments(path)
	if err != nil {
		return nil, err
	}
	addr := make(Address, 0, len(segments))
	for _, seg := range segments {
		s, ok := idx.SidOf(seg)
		if !ok {
			return nil, cerrors.New("datastore.AddressFromPath", "", 0, seg, cerrors.ErrPathInvalid)
		}
		addr = append(addr, Step{SID: s})
	}
	return addr, nil
}

// AddressFromSID resolves a single absolute SID into an Address by
// walking its schema ancestor chain. It cannot select a specific list
// entry (no key values are available); use AddressFromInstance for that.
func AddressFromSID(target int64, idx *sid.SidIndex) (Address, error) {
	ancestors, err := idx.AncestorsOf(target)
	if err != nil {
		return nil, err
	}
	root, hasRoot := idx.RootSid()
	addr := make(Address, 0, len(ancestors)+1)
	for _, a := range ancestors {
		if hasRoot && a == root {
			continue
		}
		addr = append(addr, Step{SID: a})
	}
	addr = append(addr, Step{SID: target})
	return addr, nil
}

// AddressFromInstance resolves an already-decoded RFC 9595 instance path
// into an Address, packaging each list's inline key components into that
// step's Keys.
func AddressFromInstance(p instanceid.Path, idx *sid.SidIndex) (Address, error) {
	var addr Address
	cur := int64(0)
	i := 0
	for i < len(p.Components) {
		c := p.Components[i]
		if c.IsKey {
			return nil, cerrors.New("datastore.AddressFromInstance", "", cur, "", cerrors.ErrPathInvalid)
		}
		cur += c.Delta
		item, ok := idx.ItemOf(cur)
		if !ok {
			return nil, cerrors.New("datastore.AddressFromInstance", "", cur, "", cerrors.ErrUnknownSid)
		}
		i++

		if item.Kind != sid.NodeList {
			addr = append(addr, Step{SID: cur})
			continue
		}

		keySids := idx.KeysOf(cur)
		if len(keySids) == 0 {
			return nil, cerrors.New("datastore.AddressFromInstance", "", cur, item.Path, cerrors.ErrPathInvalid)
		}
		keys := make([]KeyEntry, 0, len(keySids))
		for _, ks := range keySids {
			if i >= len(p.Components) || !p.Components[i].IsKey {
				return nil, cerrors.New("datastore.AddressFromInstance", "", cur, item.Path, cerrors.ErrKeyMissing)
			}
			keys = append(keys, KeyEntry{SID: ks, Value: p.Components[i].Key})
			i++
		}
		addr = append(addr, Step{SID: cur, Keys: keys})
	}
	return addr, nil
}

func splitPathSegments(path string) ([]string, error) {
	if path == "" || path == "/" {
		return nil, nil
	}
	if path[0] != '/' {
		return nil, cerrors.New("datastore.splitPathSegments", "", 0, path, cerrors.ErrPathInvalid)
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

// Get returns the JSON-shaped value addressed by addr, and whether it
// was found. A container or list address whose instance hasn't been
// populated yet reports found=true with an empty value, matching a
// schema node that exists but carries no data.
func (d *Datastore) Get(addr Address) (any, bool, error) {
	if len(addr) == 0 {
		return d.Snapshot(), true, nil
	}
	last := addr[len(addr)-1]
	current, err := d.descend(addr[:len(addr)-1], false)
	if err != nil {
		if cerrors.Is(err, cerrors.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}

	item, ok := d.idx.ItemOf(last.SID)
	if !ok {
		return nil, false, cerrors.New("datastore.Get", "", last.SID, "", cerrors.ErrUnknownSid)
	}

	if last.Keys != nil {
		list, ok := current[last.SID].(*List)
		if !ok {
			return nil, false, nil
		}
		entry, ok := findEntry(list, last.Keys)
		if !ok {
			return nil, false, nil
		}
		v, err := d.nodeToValue(&Container{Children: entry}, item)
		return v, true, err
	}

	node, ok := current[last.SID]
	if !ok {
		switch item.Kind {
		case sid.NodeContainer:
			return map[string]any{}, true, nil
		case sid.NodeList:
			return []any{}, true, nil
		default:
			return nil, false, nil
		}
	}
	v, err := d.nodeToValue(node, item)
	return v, true, err
}

// Set writes value at addr, creating intermediate containers, lists, and
// list entries as needed. Setting an existing container merges fields
// into it rather than replacing it (iPATCH semantics, not PUT). It
// reports whether addr was previously absent, so a caller applying a
// batch of changes can tell RequestHandler which targets it created.
func (d *Datastore) Set(addr Address, value any) (bool, error) {
	if len(addr) == 0 {
		return false, cerrors.New("datastore.Set", "", 0, "", cerrors.ErrPathInvalid)
	}
	last := addr[len(addr)-1]
	current, err := d.descend(addr[:len(addr)-1], true)
	if err != nil {
		return false, err
	}

	item, ok := d.idx.ItemOf(last.SID)
	if !ok {
		return false, cerrors.New("datastore.Set", "", last.SID, "", cerrors.ErrUnknownSid)
	}

	if last.Keys != nil {
		list, err := d.listAt(current, last.SID, true)
		if err != nil {
			return false, err
		}
		_, existed := findEntry(list, last.Keys)
		entry, err := d.entryAt(list, last.Keys, true)
		if err != nil {
			return false, err
		}
		fields, ok := value.(map[string]any)
		if !ok {
			return false, cerrors.New("datastore.Set", "", last.SID, item.Path, cerrors.ErrTypeMismatch)
		}
		return !existed, d.setFields(entry, fields, last.SID)
	}

	_, existed := current[last.SID]
	node, err := d.setValue(current[last.SID], value, item)
	if err != nil {
		return false, err
	}
	current[last.SID] = node
	return !existed, nil
}

// Delete removes the node at addr. Deleting a list key leaf directly
// (rather than the entry that owns it) is forbidden; deleting an absent
// address is a no-op that reports NotFound.
func (d *Datastore) Delete(addr Address) error {
	if len(addr) == 0 {
		return cerrors.New("datastore.Delete", "", 0, "", cerrors.ErrPathInvalid)
	}
	last := addr[len(addr)-1]

	if last.Keys == nil {
		if parentSid, ok := d.idx.ParentOf(last.SID); ok {
			for _, k := range d.idx.KeysOf(parentSid) {
				if k == last.SID {
					return cerrors.New("datastore.Delete", "", last.SID, "", cerrors.ErrKeyImmutable)
				}
			}
		}
	}

	current, err := d.descend(addr[:len(addr)-1], false)
	if err != nil {
		if cerrors.Is(err, cerrors.ErrNotFound) {
			return cerrors.New("datastore.Delete", "", last.SID, "", cerrors.ErrNotFound)
		}
		return err
	}

	if last.Keys != nil {
		node, ok := current[last.SID]
		if !ok {
			return cerrors.New("datastore.Delete", "", last.SID, "", cerrors.ErrNotFound)
		}
		list, ok := node.(*List)
		if !ok {
			return cerrors.New("datastore.Delete", "", last.SID, "", cerrors.ErrTypeMismatch)
		}
		i, ok := findEntryIndex(list, last.Keys)
		if !ok {
			return cerrors.New("datastore.Delete", "", last.SID, "", cerrors.ErrNotFound)
		}
		list.Entries = append(list.Entries[:i], list.Entries[i+1:]...)
		return nil
	}

	if _, ok := current[last.SID]; !ok {
		return cerrors.New("datastore.Delete", "", last.SID, "", cerrors.ErrNotFound)
	}
	delete(current, last.SID)
	return nil
}

// descend walks every step but the last, returning the container-level
// map the final step's SID (or list-entry selection) lives in.
func (d *Datastore) descend(steps []Step, create bool) (map[int64]Node, error) {
	current := d.root
	for _, step := range steps {
		if step.Keys != nil {
			list, err := d.listAt(current, step.SID, create)
			if err != nil {
				return nil, err
			}
			entry, err := d.entryAt(list, step.Keys, create)
			if err != nil {
				return nil, err
			}
			current = entry
			continue
		}
		cont, err := d.containerAt(current, step.SID, create)
		if err != nil {
			return nil, err
		}
		current = cont.Children
	}
	return current, nil
}

func (d *Datastore) containerAt(current map[int64]Node, target int64, create bool) (*Container, error) {
	node, ok := current[target]
	if ok {
		cont, ok := node.(*Container)
		if !ok {
			return nil, cerrors.New("datastore.containerAt", "", target, "", cerrors.ErrTypeMismatch)
		}
		return cont, nil
	}
	if !create {
		return nil, cerrors.New("datastore.containerAt", "", target, "", cerrors.ErrNotFound)
	}
	cont := &Container{Children: map[int64]Node{}}
	current[target] = cont
	return cont, nil
}

func (d *Datastore) listAt(current map[int64]Node, target int64, create bool) (*List, error) {
	node, ok := current[target]
	if ok {
		list, ok := node.(*List)
		if !ok {
			return nil, cerrors.New("datastore.listAt", "", target, "", cerrors.ErrTypeMismatch)
		}
		return list, nil
	}
	if !create {
		return nil, cerrors.New("datastore.listAt", "", target, "", cerrors.ErrNotFound)
	}
	list := &List{KeySids: d.idx.KeysOf(target)}
	current[target] = list
	return list, nil
}

func (d *Datastore) entryAt(list *List, keys []KeyEntry, create bool) (map[int64]Node, error) {
	if entry, ok := findEntry(list, keys); ok {
		return entry, nil
	}
	if !create {
		return nil, cerrors.New("datastore.entryAt", "", 0, "", cerrors.ErrNotFound)
	}
	entry := make(map[int64]Node, len(keys))
	for _, k := range keys {
		entry[k.SID] = &Leaf{Value: k.Value}
	}
	list.Entries = append(list.Entries, entry)
	return entry, nil
}

func findEntry(list *List, keys []KeyEntry) (map[int64]Node, bool) {
	i, ok := findEntryIndex(list, keys)
	if !ok {
		return nil, false
	}
	return list.Entries[i], true
}

func findEntryIndex(list *List, keys []KeyEntry) (int, bool) {
	for i, entry := range list.Entries {
		match := true
		for _, k := range keys {
			leaf, ok := entry[k.SID].(*Leaf)
			if !ok || leaf.Value != k.Value {
				match = false
				break
			}
		}
		if match {
			return i, true
		}
	}
	return 0, false
}

// setValue builds the Node value assigns at item, merging into existing
// when item is a container.
func (d *Datastore) setValue(existing Node, value any, item *sid.Item) (Node, error) {
	switch item.Kind {
	case sid.NodeLeaf:
		return &Leaf{Value: value}, nil

	case sid.NodeLeafList:
		values, ok := value.([]any)
		if !ok {
			return nil, cerrors.New("datastore.setValue", "", item.SID, item.Path, cerrors.ErrTypeMismatch)
		}
		return &LeafList{Values: append([]any(nil), values...)}, nil

	case sid.NodeContainer:
		fields, ok := value.(map[string]any)
		if !ok {
			return nil, cerrors.New("datastore.setValue", "", item.SID, item.Path, cerrors.ErrTypeMismatch)
		}
		children := map[int64]Node{}
		if c, ok := existing.(*Container); ok {
			children = c.Children
		}
		if err := d.setFields(children, fields, item.SID); err != nil {
			return nil, err
		}
		return &Container{Children: children}, nil

	case sid.NodeList:
		entries, ok := value.([]any)
		if !ok {
			return nil, cerrors.New("datastore.setValue", "", item.SID, item.Path, cerrors.ErrTypeMismatch)
		}
		keySids := d.idx.KeysOf(item.SID)
		newEntries := make([]map[int64]Node, 0, len(entries))
		for _, e := range entries {
			fields, ok := e.(map[string]any)
			if !ok {
				return nil, cerrors.New("datastore.setValue", "", item.SID, item.Path, cerrors.ErrTypeMismatch)
			}
			children := map[int64]Node{}
			if err := d.setFields(children, fields, item.SID); err != nil {
				return nil, err
			}
			for _, k := range keySids {
				if _, ok := children[k]; !ok {
					return nil, cerrors.New("datastore.setValue", "", k, item.Path, cerrors.ErrKeyMissing)
				}
			}
			newEntries = append(newEntries, children)
		}
		return &List{KeySids: keySids, Entries: newEntries}, nil

	default:
		return nil, cerrors.New("datastore.setValue", "", item.SID, item.Path, cerrors.ErrTypeMismatch)
	}
}

func (d *Datastore) setFields(children map[int64]Node, fields map[string]any, containerSid int64) error {
	byLocalName := d.childrenByLocalName(containerSid)
	for name, v := range fields {
		childSid, ok := byLocalName[name]
		if !ok {
			return cerrors.New("datastore.setFields", "", containerSid, name, cerrors.ErrPathInvalid)
		}
		item, _ := d.idx.ItemOf(childSid)
		node, err := d.setValue(children[childSid], v, item)
		if err != nil {
			return err
		}
		children[childSid] = node
	}
	return nil
}

func (d *Datastore) childrenByLocalName(containerSid int64) map[string]int64 {
	out := make(map[string]int64)
	for _, childSid := range d.idx.ChildrenOf(containerSid) {
		if child, ok := d.idx.ItemOf(childSid); ok {
			out[localName(child.Path)] = childSid
		}
	}
	return out
}

func (d *Datastore) nodeToValue(node Node, item *sid.Item) (any, error) {
	switch n := node.(type) {
	case *Leaf:
		return n.Value, nil
	case *LeafList:
		return append([]any(nil), n.Values...), nil
	case *Container:
		out := make(map[string]any, len(n.Children))
		for childSid, child := range n.Children {
			citem, ok := d.idx.ItemOf(childSid)
			if !ok {
				continue
			}
			v, err := d.nodeToValue(child, citem)
			if err != nil {
				return nil, err
			}
			out[localName(citem.Path)] = v
		}
		return out, nil
	case *List:
		out := make([]any, 0, len(n.Entries))
		for _, entry := range n.Entries {
			v, err := d.nodeToValue(&Container{Children: entry}, item)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	default:
		return nil, cerrors.New("datastore.nodeToValue", "", item.SID, item.Path, cerrors.ErrTypeMismatch)
	}
}

// Snapshot renders the whole tree as the plain-JSON shape spec.md's
// persisted state uses: top-level keys are full YANG paths, matching
// pkg/tree's Encode/Decode shape so a GET response can encode it directly.
func (d *Datastore) Snapshot() map[string]any {
	out := make(map[string]any, len(d.root))
	for topSid, node := range d.root {
		item, ok := d.idx.ItemOf(topSid)
		if !ok {
			continue
		}
		v, err := d.nodeToValue(node, item)
		if err != nil {
			continue
		}
		out[item.Path] = v
	}
	return out
}

// Restore replaces the whole tree from a Snapshot-shaped JSON tree.
func (d *Datastore) Restore(data map[string]any) error {
	root := make(map[int64]Node, len(data))
	for path, v := range data {
		item, ok := d.idx.ItemByPath(path)
		if !ok {
			return cerrors.New("datastore.Restore", "", 0, path, cerrors.ErrPathInvalid)
		}
		node, err := d.setValue(nil, v, item)
		if err != nil {
			return err
		}
		root[item.SID] = node
	}
	d.root = root
	return nil
}

// GetByPath, SetByPath, and DeleteByPath address a node by plain YANG
// path (no list-key predicates).
func (d *Datastore) GetByPath(path string) (any, bool, error) {
	addr, err := AddressFromPath(path, d.idx)
	if err != nil {
		return nil, false, err
	}
	return d.Get(addr)
}

func (d *Datastore) SetByPath(path string, value any) error {
	addr, err := AddressFromPath(path, d.idx)
	if err != nil {
		return err
	}
	_, err = d.Set(addr, value)
	return err
}

func (d *Datastore) DeleteByPath(path string) error {
	addr, err := AddressFromPath(path, d.idx)
	if err != nil {
		return err
	}
	return d.Delete(addr)
}

// GetBySID, SetBySID, and DeleteBySID address a node by absolute SID.
func (d *Datastore) GetBySID(target int64) (any, bool, error) {
	addr, err := AddressFromSID(target, d.idx)
	if err != nil {
		return nil, false, err
	}
	return d.Get(addr)
}

func (d *Datastore) SetBySID(target int64, value any) error {
	addr, err := AddressFromSID(target, d.idx)
	if err != nil {
		return err
	}
	_, err = d.Set(addr, value)
	return err
}

func (d *Datastore) DeleteBySID(target int64) error {
	addr, err := AddressFromSID(target, d.idx)
	if err != nil {
		return err
	}
	return d.Delete(addr)
}

// GetInstance, SetInstance, and DeleteInstance address a node by a
// resolved RFC 9595 instance path, the only addressing mode that can
// select a specific list entry by key.
func (d *Datastore) GetInstance(p instanceid.Path) (any, bool, error) {
	if p.IsEmpty() {
		return d.Snapshot(), true, nil
	}
	addr, err := AddressFromInstance(p, d.idx)
	if err != nil {
		return nil, false, err
	}
	return d.Get(addr)
}

func (d *Datastore) SetInstance(p instanceid.Path, value any) error {
	addr, err := AddressFromInstance(p, d.idx)
	if err != nil {
		return err
	}
	_, err = d.Set(addr, value)
	return err
}

func (d *Datastore) DeleteInstance(p instanceid.Path) error {
	addr, err := AddressFromInstance(p, d.idx)
	if err != nil {
		return err
	}
	return d.Delete(addr)
}

// localName returns the last path segment of a YANG identifier, with
// any module prefix stripped from that last segment.
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
