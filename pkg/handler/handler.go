// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/absmach/coreconf/pkg/breaker"
	"github.com/absmach/coreconf/pkg/coap"
	"github.com/absmach/coreconf/pkg/datastore"
	cerrors "github.com/absmach/coreconf/pkg/errors"
	"github.com/absmach/coreconf/pkg/instanceid"
	"github.com/absmach/coreconf/pkg/metrics"
	"github.com/absmach/coreconf/pkg/ratelimit"
	"github.com/absmach/coreconf/pkg/sid"
	"github.com/absmach/coreconf/pkg/tree"
	"github.com/absmach/coreconf/pkg/valuecodec"
)

// RPCFunc is a caller-supplied implementation of an RPC or action SID.
// input is nil when the invoking POST carried a CBOR null (no input);
// a nil output likewise renders as an empty-body 2.04 Changed.
type RPCFunc func(input any) (output any, err error)

// RequestHandler dispatches CORECONF requests against a Datastore.
type RequestHandler struct {
	mu  sync.RWMutex
	ds  *datastore.Datastore
	idx *sid.SidIndex
	vc  *valuecodec.Codec
	tc  *tree.Codec

	rpcMu    sync.Mutex
	rpcs     map[int64]RPCFunc
	breakers map[int64]*breaker.CircuitBreaker

	rateLimited bool
	limiter     *ratelimit.TokenBucket

	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New builds a RequestHandler serving ds against the schema idx.
func New(ds *datastore.Datastore, idx *sid.SidIndex) (*RequestHandler, error) {
	vc, err := valuecodec.New(idx)
	if err != nil {
		return nil, err
	}
	tc, err := tree.New(idx, vc)
	if err != nil {
		return nil, err
	}
	return &RequestHandler{
		ds:       ds,
		idx:      idx,
		vc:       vc,
		tc:       tc,
		rpcs:     make(map[int64]RPCFunc),
		breakers: make(map[int64]*breaker.CircuitBreaker),
	}, nil
}

// WithRateLimit gates iPATCH and POST dispatch behind a token bucket.
// Library callers leave this unset; cmd/coreconf-server enables it.
func (h *RequestHandler) WithRateLimit(capacity, refillRate int64) *RequestHandler {
	h.limiter = ratelimit.NewTokenBucket(capacity, refillRate)
	h.rateLimited = true
	return h
}

// WithMetrics wires m into every verb dispatch and RPC circuit breaker.
func (h *RequestHandler) WithMetrics(m *metrics.Metrics) *RequestHandler {
	h.metrics = m
	return h
}

// WithLogger attaches a structured logger; every dispatched request is
// then logged with its own trace id, method, and outcome class.
func (h *RequestHandler) WithLogger(logger *slog.Logger) *RequestHandler {
	h.logger = logger
	return h
}

// RegisterRPC binds fn to sid, an RPC or action node in the schema. Each
// call to fn runs behind its own circuit breaker, so a handler that fails
// repeatedly is short-circuited without affecting other SIDs. A call that
// blocks is not interrupted and holds the handler's read lock until it
// returns.
func (h *RequestHandler) RegisterRPC(target int64, fn RPCFunc) {
	h.rpcMu.Lock()
	defer h.rpcMu.Unlock()
	h.rpcs[target] = fn
	if _, ok := h.breakers[target]; !ok {
		h.breakers[target] = h.newBreaker(target)
	}
}

func (h *RequestHandler) newBreaker(target int64) *breaker.CircuitBreaker {
	cb := breaker.New(breaker.Config{})
	if h.metrics != nil {
		label := strconv.FormatInt(target, 10)
		cb.OnStateChange(func(_, to breaker.State) {
			h.metrics.CircuitBreakerState.WithLabelValues(label).Set(float64(to))
			if to == breaker.StateOpen {
				h.metrics.CircuitBreakerTrips.WithLabelValues(label).Inc()
			}
		})
	}
	return cb
}

// Handle dispatches req to the verb handler matching its method. Each
// call gets its own request id, carried only for logging/metrics
// correlation; it plays no part in dispatch or datastore addressing.
func (h *RequestHandler) Handle(req coap.Request) coap.Response {
	method := coap.MethodString(req.Method)
	requestID := uuid.New().String()

	var resp coap.Response
	dispatch := func() string {
		switch req.Method {
		case coap.MethodGet:
			resp = h.handleGet(req)
		case coap.MethodFetch:
			resp = h.handleFetch(req)
		case coap.MethodIPatch:
			resp = h.handleIPatch(req)
		case coap.MethodPost:
			resp = h.handlePost(req)
		default:
			resp = coap.MethodNotAllowedf(req.Method)
		}
		return strconv.Itoa(int(resp.Code.Class))
	}

	if h.metrics != nil {
		h.metrics.ObserveRequest(method, dispatch)
	} else {
		dispatch()
	}

	if h.logger != nil {
		h.logger.Info("request handled",
			slog.String("request_id", requestID),
			slog.String("method", method),
			slog.Int("code_class", int(resp.Code.Class)),
			slog.Int("code_detail", int(resp.Code.Detail)))
	}
	return resp
}

// handleGet retrieves the entire datastore, or the subset selected by
// the 'c=' content query parameter.
func (h *RequestHandler) handleGet(req coap.Request) coap.Response {
	h.mu.RLock()
	defer h.mu.RUnlock()

	snapshot := h.ds.Snapshot()
	if h.metrics != nil {
		h.metrics.DatastoreEntries.WithLabelValues().Set(float64(len(snapshot)))
	}
	if req.Query.Content != coap.ContentAll {
		snapshot = h.filterByContent(snapshot, req.Query.Content)
	}

	payload, err := h.tc.Encode(snapshot)
	if err != nil {
		return coap.Errorf(coap.InternalServerError, err.Error())
	}
	return coap.WithContent(payload, coap.ContentFormatYangDataCbor)
}

// filterByContent narrows a snapshot's top-level entries by whether
// their schema item resolves under the rpc/action namespace. SID files
// in the wild rarely carry a config/state flag, so anything that isn't
// rpc/action is treated as configuration data (the conservative choice
// for a management-plane tool).
func (h *RequestHandler) filterByContent(snapshot map[string]any, content coap.ContentParam) map[string]any {
	filtered := make(map[string]any, len(snapshot))
	for path, v := range snapshot {
		item, ok := h.idx.ItemByPath(path)
		if !ok {
			continue
		}
		operational := item.Namespace == "rpc" || item.Namespace == "action"
		switch content {
		case coap.ContentConfig:
			if !operational {
				filtered[path] = v
			}
		case coap.ContentNonconfig:
			if operational {
				filtered[path] = v
			}
		default:
			filtered[path] = v
		}
	}
	return filtered
}

// handleFetch retrieves the data nodes named by a yang-identifiers+cbor
// request body. An empty body means "everything", same as GET.
func (h *RequestHandler) handleFetch(req coap.Request) coap.Response {
	if req.ContentFormat != 0 && req.ContentFormat != coap.ContentFormatYangIdentifiersCbor && req.ContentFormat != coap.ContentFormatYangDataCbor {
		return coap.Errorf(coap.UnsupportedContentFormat, "expected yang-identifiers+cbor")
	}
	if !req.HasPayload || len(req.Payload) == 0 {
		return h.handleGet(req)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	targets, err := instanceid.DecodeFetchTargets(req.Payload)
	if err != nil {
		return coap.Errorf(coap.BadRequest, err.Error())
	}

	patches := make([]instanceid.InstancePatch, 0, len(targets))
	for _, target := range targets {
		addr, err := datastore.AddressFromSID(target, h.idx)
		if err != nil {
			continue
		}
		value, found, err := h.ds.Get(addr)
		if err != nil || !found {
			continue
		}
		var p instanceid.Path
		p.PushDelta(target)
		patches = append(patches, instanceid.InstancePatch{Path: p, Value: value})
	}

	payload, err := instanceid.EncodePatchSeq(patches, h.vc, h.idx)
	if err != nil {
		return coap.Errorf(coap.InternalServerError, err.Error())
	}
	return coap.WithContent(payload, coap.ContentFormatYangInstancesCbor)
}

// handleIPatch applies a batch of instance changes atomically: every
// target SID is resolved against the schema before any change is
// applied, so an unknown SID anywhere in the batch leaves the datastore
// untouched.
func (h *RequestHandler) handleIPatch(req coap.Request) coap.Response {
	if req.ContentFormat != 0 && req.ContentFormat != coap.ContentFormatYangInstancesCbor && req.ContentFormat != coap.ContentFormatYangDataCbor {
		return coap.Errorf(coap.UnsupportedContentFormat, "expected yang-instances+cbor-seq")
	}
	if h.rateLimited && !h.limiter.Allow() {
		h.recordRateLimited("iPATCH")
		return coap.Errorf(coap.TooManyRequests, "rate limit exceeded")
	}

	patches, err := instanceid.DecodePatchSeq(req.Payload, h.vc, h.idx)
	if err != nil {
		if cerrors.Is(err, cerrors.ErrUnknownSid) {
			return coap.Errorf(coap.NotFound, err.Error())
		}
		return coap.Errorf(coap.BadRequest, err.Error())
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	addrs := make([]datastore.Address, len(patches))
	for i, p := range patches {
		addr, err := datastore.AddressFromInstance(p.Path, h.idx)
		if err != nil {
			return coap.Errorf(ipatchErrorCode(err), err.Error())
		}
		addrs[i] = addr
	}

	created := false
	for i, p := range patches {
		if p.Delete {
			err = h.ds.Delete(addrs[i])
		} else {
			var wasCreated bool
			wasCreated, err = h.ds.Set(addrs[i], p.Value)
			created = created || wasCreated
		}
		if err != nil {
			return coap.Errorf(ipatchErrorCode(err), err.Error())
		}
	}
	if created {
		return coap.WithCreated()
	}
	return coap.WithChanged()
}

// ipatchErrorCode maps a datastore/instance-addressing error to the CoAP
// response code CORECONF's iPATCH table names for it: 4.04 for a target
// that doesn't resolve, 4.08 for a structurally invalid or illegal
// target (an immutable list key, a missing key, a type mismatch), 5.00
// for anything unexpected.
func ipatchErrorCode(err error) coap.ResponseCode {
	switch {
	case cerrors.Is(err, cerrors.ErrUnknownSid), cerrors.Is(err, cerrors.ErrNotFound):
		return coap.NotFound
	case cerrors.Is(err, cerrors.ErrKeyImmutable),
		cerrors.Is(err, cerrors.ErrKeyMissing),
		cerrors.Is(err, cerrors.ErrTypeMismatch),
		cerrors.Is(err, cerrors.ErrPathInvalid):
		return coap.RequestEntityIncomplete
	default:
		return coap.InternalServerError
	}
}

// handlePost invokes RPCs or actions named by a yang-instances+cbor-seq
// body. A target SID that resolves in the schema but has no registered
// RPCFunc still succeeds with an empty output, matching the fallback
// behavior of the original CORECONF prototype this handler generalizes.
func (h *RequestHandler) handlePost(req coap.Request) coap.Response {
	if req.ContentFormat != 0 && req.ContentFormat != coap.ContentFormatYangInstancesCbor {
		return coap.Errorf(coap.UnsupportedContentFormat, "expected yang-instances+cbor-seq")
	}
	if h.rateLimited && !h.limiter.Allow() {
		h.recordRateLimited("POST")
		return coap.Errorf(coap.TooManyRequests, "rate limit exceeded")
	}

	calls, err := instanceid.DecodePatchSeq(req.Payload, h.vc, h.idx)
	if err != nil {
		return coap.Errorf(coap.BadRequest, err.Error())
	}

	h.mu.RLock()
	results := make([]instanceid.InstancePatch, 0, len(calls))
	for _, call := range calls {
		target := call.Path.AbsoluteSid()
		if _, ok := h.idx.ItemOf(target); !ok {
			h.mu.RUnlock()
			return coap.NotFoundf(fmt.Sprintf("rpc sid %d", target))
		}

		var input any
		if !call.Delete {
			input = call.Value
		}
		output, err := h.invokeRPC(target, input)
		if err != nil {
			h.mu.RUnlock()
			if errors.Is(err, breaker.ErrCircuitOpen) {
				return coap.Errorf(coap.ServiceUnavailable, err.Error())
			}
			return coap.Errorf(coap.InternalServerError, err.Error())
		}

		if output == nil {
			continue
		}
		results = append(results, instanceid.InstancePatch{Path: call.Path, Value: output})
	}
	h.mu.RUnlock()

	payload, err := instanceid.EncodePatchSeq(results, h.vc, h.idx)
	if err != nil {
		return coap.Errorf(coap.InternalServerError, err.Error())
	}
	if len(payload) == 0 {
		return coap.WithChanged()
	}
	return coap.WithChangedPayload(payload, coap.ContentFormatYangInstancesCbor)
}

func (h *RequestHandler) invokeRPC(target int64, input any) (any, error) {
	h.rpcMu.Lock()
	fn, ok := h.rpcs[target]
	if !ok {
		h.rpcMu.Unlock()
		return nil, nil
	}
	cb, ok := h.breakers[target]
	if !ok {
		cb = h.newBreaker(target)
		h.breakers[target] = cb
	}
	h.rpcMu.Unlock()

	var output any
	label := strconv.FormatInt(target, 10)
	start := time.Now()
	callErr := cb.Call(func() error {
		out, err := fn(input)
		output = out
		return err
	})

	if h.metrics != nil {
		h.metrics.RPCLatency.WithLabelValues(label).Observe(time.Since(start).Seconds())
		status := "ok"
		if callErr != nil {
			status = "error"
			h.metrics.RPCErrors.WithLabelValues(label).Inc()
		}
		h.metrics.RPCTotal.WithLabelValues(label, status).Inc()
	}
	if callErr != nil {
		return nil, callErr
	}
	return output, nil
}

func (h *RequestHandler) recordRateLimited(method string) {
	if h.metrics != nil {
		h.metrics.RateLimitedRequests.WithLabelValues(method).Inc()
	}
}
