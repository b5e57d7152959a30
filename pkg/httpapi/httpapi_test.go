// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/absmach/coreconf/pkg/datastore"
	"github.com/absmach/coreconf/pkg/sid"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	data, err := os.ReadFile("../../testdata/example-1.sid")
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	idx, err := sid.Load(data, sid.Options{})
	if err != nil {
		t.Fatalf("sid.Load: %v", err)
	}
	ds, err := datastore.NewFromJSON(idx, map[string]any{
		"/example-1:greeting": map[string]any{"author": "Obi", "message": "Hello!"},
	})
	if err != nil {
		t.Fatalf("NewFromJSON: %v", err)
	}
	return New(ds)
}

func TestHandleSnapshotReturnsCurrentState(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/snapshot", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var tree map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &tree); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	greeting, _ := tree["/example-1:greeting"].(map[string]any)
	if greeting["author"] != "Obi" {
		t.Fatalf("tree = %+v", tree)
	}
}

func TestHandleRestoreReplacesState(t *testing.T) {
	s := newTestServer(t)

	body := strings.NewReader(`{"/example-1:greeting":{"author":"Luke","message":"Hi"}}`)
	req := httptest.NewRequest(http.MethodPost, "/restore", body)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204, body=%s", rec.Code, rec.Body.String())
	}

	v, ok, err := s.ds.GetByPath("/example-1:greeting/author")
	if err != nil || !ok {
		t.Fatalf("GetByPath after restore: v=%v ok=%v err=%v", v, ok, err)
	}
	if v != "Luke" {
		t.Fatalf("author = %v, want Luke", v)
	}
}

func TestHandleRestoreRejectsMalformedBody(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/restore", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleHealthzReturnsOK(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
