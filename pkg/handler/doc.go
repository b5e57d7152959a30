// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package handler implements the server-side CORECONF verb dispatch:
// GET, FETCH, iPATCH, and POST against a datastore.Datastore, expressed
// over the transport-agnostic request/response shapes from pkg/coap.
//
// RequestHandler owns the reader/writer exclusion a Datastore itself
// does not provide: GET and FETCH take a read lock, iPATCH takes a
// write lock spanning validation and application. Every target of a
// batch is resolved before any change is applied, so a batch naming a
// target that does not resolve changes nothing; an error while applying
// leaves the entries applied before it in place. POST dispatches to a
// per-SID RPC registry, each call wrapped in its own circuit breaker so
// a handler function that keeps failing is short-circuited; a call that
// blocks is not interrupted and holds the read lock until it returns.
//
// A single RequestHandler is meant to be driven from more than one
// transport at once (pkg/transport/udp and pkg/transport/ws both
// dispatch through the same instance), which is
// the reason for the internal locking rather than leaving it to callers.
package handler
