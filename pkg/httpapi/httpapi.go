// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package httpapi exposes a small administrative HTTP surface in front
// of a datastore.Datastore: snapshot inspection, snapshot restore, and
// a liveness probe. It is deliberately separate from the CoAP request
// path pkg/handler serves; this is an operator/tooling surface, not a
// CORECONF client interface.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/absmach/coreconf/pkg/datastore"
)

// Server routes admin HTTP requests to a Datastore.
type Server struct {
	Router *mux.Router
	ds     *datastore.Datastore
}

// New builds a Server backed by ds and registers its routes.
func New(ds *datastore.Datastore) *Server {
	s := &Server{
		Router: mux.NewRouter(),
		ds:     ds,
	}
	s.Router.HandleFunc("/snapshot", s.handleSnapshot).Methods(http.MethodGet)
	s.Router.HandleFunc("/restore", s.handleRestore).Methods(http.MethodPost)
	s.Router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	return s
}

// ServeHTTP lets Server itself be used as an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

// handleSnapshot returns the datastore's current state as the same
// path-keyed JSON shape used for persisted snapshots.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.ds.Snapshot()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// handleRestore replaces the datastore's state from a JSON body in the
// snapshot shape, then flushes it through any attached persistence
// backend so the restore survives a subsequent restart.
func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	var tree map[string]any
	if err := json.NewDecoder(r.Body).Decode(&tree); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.ds.Restore(tree); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.ds.Flush(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleHealthz reports whether the datastore is reachable at all. It
// intentionally does not duplicate pkg/health's richer check registry;
// this is a cheap "is this process alive and holding a datastore" probe
// for tooling that only talks to the admin port.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
