// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package udp serves CORECONF over plain CoAP/UDP (RFC 7252), the
// transport constrained devices are expected to use in practice. Each
// UDP datagram carries exactly one CoAP message, matching the framing
// pkg/coap.DecodeMessage/EncodeResponse already assume.
package udp

import (
	"context"
	"net"

	"github.com/absmach/coreconf/pkg/coap"
	"github.com/absmach/coreconf/pkg/handler"
)

// maxDatagramSize bounds a single read; CoAP over UDP is meant to fit
// within a link's MTU, and constrained-device payloads are small.
const maxDatagramSize = 64 * 1024

// Serve listens for CoAP datagrams on addr and dispatches each one to h,
// one goroutine per datagram, until ctx is cancelled.
func Serve(ctx context.Context, addr string, h *handler.RequestHandler) error {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, maxDatagramSize)
	for {
		n, peer, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		data := append([]byte(nil), buf[:n]...)
		go respond(ctx, conn, peer, data, h)
	}
}

func respond(ctx context.Context, conn net.PacketConn, peer net.Addr, data []byte, h *handler.RequestHandler) {
	req, msg, err := coap.DecodeMessage(ctx, data)
	if err != nil {
		return
	}

	resp := h.Handle(req)
	out, err := coap.EncodeResponse(ctx, msg, resp)
	msg.Reset()
	if err != nil {
		return
	}
	conn.WriteTo(out, peer)
}
