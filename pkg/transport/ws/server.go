// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package ws

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/absmach/coreconf/pkg/coap"
	"github.com/absmach/coreconf/pkg/handler"
)

// Upgrader is the gorilla/websocket upgrader used to accept CoAP-over-
// WebSocket connections. Callers may replace CheckOrigin before Serve is
// wired into an HTTP mux.
var Upgrader = websocket.Upgrader{
	Subprotocols: []string{"coap"},
	CheckOrigin:  func(r *http.Request) bool { return true },
}

// Serve upgrades an HTTP request to a WebSocket connection and dispatches
// every CoAP message it carries to h until the connection closes or a
// framing error occurs.
func Serve(w http.ResponseWriter, r *http.Request, h *handler.RequestHandler) error {
	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	sessionID := uuid.New().String()
	slog.Default().Debug("ws session opened", slog.String("session", sessionID), slog.String("remote", r.RemoteAddr))
	err = serveConn(r.Context(), conn, h)
	slog.Default().Debug("ws session closed", slog.String("session", sessionID), slog.String("error", errString(err)))
	return err
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// serveConn runs the request/response loop for one connection. Each
// WebSocket binary message carries exactly one CoAP message (RFC 8323
// §3.2), so the message boundary is the WS frame boundary rather than
// anything encoded in the CoAP header.
func serveConn(ctx context.Context, conn *websocket.Conn, h *handler.RequestHandler) error {
	for {
		_, r, err := conn.NextReader()
		if err != nil {
			return err
		}
		data, err := io.ReadAll(r)
		if err != nil {
			return err
		}

		req, msg, err := coap.DecodeMessage(ctx, data)
		if err != nil {
			// No diagnostic-response mechanism applies to a message that
			// didn't even parse; drop it and keep the connection alive.
			continue
		}

		resp := h.Handle(req)
		out, err := coap.EncodeResponse(ctx, msg, resp)
		msg.Reset()
		if err != nil {
			return err
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, out); err != nil {
			return err
		}
	}
}
