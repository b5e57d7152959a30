// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package datastore

import (
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"

	cerrors "github.com/absmach/coreconf/pkg/errors"
	"github.com/absmach/coreconf/pkg/instanceid"
	"github.com/absmach/coreconf/pkg/sid"
)

func loadIndex(t *testing.T, path string) *sid.SidIndex {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	idx, err := sid.Load(data, sid.Options{})
	if err != nil {
		t.Fatalf("sid.Load: %v", err)
	}
	return idx
}

func TestSetGetByPathLeaf(t *testing.T) {
	idx := loadIndex(t, "../../testdata/example-1.sid")
	d := New(idx)

	if err := d.SetByPath("/example-1:greeting/author", "Obi-Wan"); err != nil {
		t.Fatalf("SetByPath: %v", err)
	}
	v, ok, err := d.GetByPath("/example-1:greeting/author")
	if err != nil || !ok {
		t.Fatalf("GetByPath: v=%v ok=%v err=%v", v, ok, err)
	}
	if v != "Obi-Wan" {
		t.Fatalf("v = %v, want Obi-Wan", v)
	}
}

func TestSetMergesIntoExistingContainer(t *testing.T) {
	idx := loadIndex(t, "../../testdata/example-1.sid")
	d := New(idx)

	if err := d.SetByPath("/example-1:greeting", map[string]any{"author": "Obi-Wan"}); err != nil {
		t.Fatalf("SetByPath author: %v", err)
	}
	if err := d.SetByPath("/example-1:greeting", map[string]any{"message": "Hello there!"}); err != nil {
		t.Fatalf("SetByPath message: %v", err)
	}

	v, ok, err := d.GetByPath("/example-1:greeting")
	if err != nil || !ok {
		t.Fatalf("GetByPath: v=%v ok=%v err=%v", v, ok, err)
	}
	want := map[string]any{"author": "Obi-Wan", "message": "Hello there!"}
	if diff := cmp.Diff(want, v); diff != "" {
		t.Fatalf("merged container mismatch (-want +got):\n%s", diff)
	}
}

func TestGetEmptyContainerExistsButNoData(t *testing.T) {
	idx := loadIndex(t, "../../testdata/example-1.sid")
	d := New(idx)

	v, ok, err := d.GetByPath("/example-1:greeting")
	if err != nil {
		t.Fatalf("GetByPath: %v", err)
	}
	if !ok {
		t.Fatalf("expected ok=true for an unpopulated but schema-valid container")
	}
	if diff := cmp.Diff(map[string]any{}, v); diff != "" {
		t.Fatalf("unpopulated container mismatch (-want +got):\n%s", diff)
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	idx := loadIndex(t, "../../testdata/example-1.sid")
	d := New(idx)
	if err := d.SetByPath("/example-1:greeting", map[string]any{
		"author":  "Obi-Wan",
		"message": "Hello there!",
	}); err != nil {
		t.Fatalf("SetByPath: %v", err)
	}

	snap := d.Snapshot()

	restored, err := NewFromJSON(idx, snap)
	if err != nil {
		t.Fatalf("NewFromJSON: %v", err)
	}
	if diff := cmp.Diff(snap, restored.Snapshot()); diff != "" {
		t.Fatalf("round-trip mismatch (-want +got):\n%s", diff)
	}
}

func TestListEntryByInstancePath(t *testing.T) {
	idx := loadIndex(t, "../../testdata/example-schc.sid")
	d := New(idx)

	ruleSid, ok := idx.SidOf("/ietf-schc:schc/rule")
	if !ok {
		t.Fatalf("SidOf rule failed")
	}
	schcSid, ok := idx.SidOf("/ietf-schc:schc")
	if !ok {
		t.Fatalf("SidOf schc failed")
	}
	_, ok = idx.SidOf("/ietf-schc:schc/rule/rule-id")
	if !ok {
		t.Fatalf("SidOf rule-id failed")
	}

	var p instanceid.Path
	p.PushDelta(schcSid)
	p.PushDelta(ruleSid - schcSid)
	p.PushKey(uint64(7))

	if err := d.SetInstance(p, map[string]any{"rule-id": uint64(7)}); err != nil {
		t.Fatalf("SetInstance: %v", err)
	}

	v, ok, err := d.GetInstance(p)
	if err != nil || !ok {
		t.Fatalf("GetInstance: v=%v ok=%v err=%v", v, ok, err)
	}
	want := map[string]any{"rule-id": uint64(7)}
	if diff := cmp.Diff(want, v); diff != "" {
		t.Fatalf("entry mismatch (-want +got):\n%s", diff)
	}

	whole, ok, err := d.GetByPath("/ietf-schc:schc/rule")
	if err != nil || !ok {
		t.Fatalf("GetByPath rule list: v=%v ok=%v err=%v", whole, ok, err)
	}
	list, ok := whole.([]any)
	if !ok || len(list) != 1 {
		t.Fatalf("whole list = %v, want single entry", whole)
	}

	if err := d.DeleteInstance(p); err != nil {
		t.Fatalf("DeleteInstance: %v", err)
	}
	_, ok, err = d.GetInstance(p)
	if err != nil {
		t.Fatalf("GetInstance after delete: %v", err)
	}
	if ok {
		t.Fatalf("entry still present after delete")
	}
}

func TestDeleteKeyLeafIsImmutable(t *testing.T) {
	idx := loadIndex(t, "../../testdata/example-schc.sid")
	d := New(idx)

	schcSid, _ := idx.SidOf("/ietf-schc:schc")
	ruleSid, _ := idx.SidOf("/ietf-schc:schc/rule")

	var p instanceid.Path
	p.PushDelta(schcSid)
	p.PushDelta(ruleSid - schcSid)
	p.PushKey(uint64(7))
	if err := d.SetInstance(p, map[string]any{"rule-id": uint64(7)}); err != nil {
		t.Fatalf("SetInstance: %v", err)
	}

	err := d.DeleteByPath("/ietf-schc:schc/rule/rule-id")
	if err == nil {
		t.Fatalf("expected ErrKeyImmutable deleting a list key leaf directly")
	}
	if !cerrors.Is(err, cerrors.ErrKeyImmutable) {
		t.Fatalf("err = %v, want ErrKeyImmutable", err)
	}
}

func TestDeleteAbsentReturnsNotFound(t *testing.T) {
	idx := loadIndex(t, "../../testdata/example-1.sid")
	d := New(idx)

	err := d.DeleteByPath("/example-1:greeting/author")
	if err == nil || !cerrors.Is(err, cerrors.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSetUnknownFieldNameFails(t *testing.T) {
	idx := loadIndex(t, "../../testdata/example-1.sid")
	d := New(idx)

	err := d.SetByPath("/example-1:greeting", map[string]any{"nonexistent": "x"})
	if err == nil || !cerrors.Is(err, cerrors.ErrPathInvalid) {
		t.Fatalf("err = %v, want ErrPathInvalid", err)
	}
}

type memStore struct {
	data []byte
}

func (m *memStore) Save(data []byte) error {
	m.data = append([]byte(nil), data...)
	return nil
}

func (m *memStore) Load() ([]byte, error) {
	return m.data, nil
}

func TestWithPersistenceFlushAndLoad(t *testing.T) {
	idx := loadIndex(t, "../../testdata/example-1.sid")
	store := &memStore{}
	d := New(idx).WithPersistence(store)

	if err := d.SetByPath("/example-1:greeting/author", "Obi-Wan"); err != nil {
		t.Fatalf("SetByPath: %v", err)
	}
	if err := d.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	restored := New(idx).WithPersistence(store)
	if err := restored.LoadPersisted(); err != nil {
		t.Fatalf("LoadPersisted: %v", err)
	}
	v, ok, err := restored.GetByPath("/example-1:greeting/author")
	if err != nil || !ok || v != "Obi-Wan" {
		t.Fatalf("v=%v ok=%v err=%v, want Obi-Wan", v, ok, err)
	}
}
