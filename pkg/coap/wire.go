// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package coap

import (
	"bytes"
	"context"
	"strings"

	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/pool"
	"github.com/plgd-dev/go-coap/v3/udp/coder"
)

// DecodeMessage unmarshals one wire-format CoAP message (a UDP datagram,
// or the payload of one CoAP-over-WebSocket frame) into a Request. The
// returned pool.Message is retained so its token and message ID can be
// echoed back by EncodeResponse; callers must Reset() it once done.
func DecodeMessage(ctx context.Context, data []byte) (Request, *pool.Message, error) {
	msg := pool.NewMessage(ctx)
	if _, err := msg.UnmarshalWithDecoder(coder.DefaultCoder, data); err != nil {
		msg.Reset()
		return Request{}, nil, err
	}

	rawQuery := ""
	if queries, err := msg.Options().Queries(); err == nil && len(queries) > 0 {
		rawQuery = strings.Join(queries, "&")
	}

	path, err := msg.Options().Path()
	if err != nil {
		path = "/"
	}

	body, _ := msg.ReadBody()
	req := Request{
		Method:     msg.Code(),
		Path:       path,
		Payload:    body,
		HasPayload: len(body) > 0,
		Query:      ParseQueryParams(rawQuery),
	}
	if cf, err := msg.Options().ContentFormat(); err == nil {
		req.ContentFormat = ContentFormat(cf)
	}

	return req, msg, nil
}

// EncodeResponse renders resp as wire bytes, carrying req's token and
// message ID the way a CoAP response must.
func EncodeResponse(ctx context.Context, req *pool.Message, resp Response) ([]byte, error) {
	out := pool.NewMessage(ctx)
	defer out.Reset()

	out.SetCode(resp.Code.Code())
	out.SetToken(req.Token())
	out.SetMessageID(req.MessageID())
	if resp.HasPayload {
		out.SetBody(bytes.NewReader(resp.Payload))
		if resp.ContentFormat != 0 {
			out.SetContentFormat(message.MediaType(resp.ContentFormat))
		}
	}

	return out.MarshalWithEncoder(coder.DefaultCoder)
}
