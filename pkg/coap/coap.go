// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package coap defines the transport-agnostic message shapes
// RequestHandler consumes and produces: Method, ContentFormat,
// ResponseCode, QueryParams, Request, and Response. Nothing in this
// package touches a socket; pkg/transport/udp and pkg/transport/ws
// both translate their wire framing into these types.
package coap

import (
	"strings"

	"github.com/plgd-dev/go-coap/v3/message/codes"
)

// Method is a CORECONF request method. GET and POST reuse go-coap/v3's
// exported code points; FETCH and iPATCH (RFC 8132) are declared here
// since the library only ships the original four CoAP methods.
type Method = codes.Code

const (
	MethodGet    Method = codes.GET
	MethodPost   Method = codes.POST
	MethodFetch  Method = 0o05 // RFC 8132 FETCH
	MethodIPatch Method = 0o07 // RFC 8132 iPATCH
)

func MethodString(m Method) string {
	switch m {
	case MethodGet:
		return "GET"
	case MethodPost:
		return "POST"
	case MethodFetch:
		return "FETCH"
	case MethodIPatch:
		return "iPATCH"
	default:
		return m.String()
	}
}

// ContentFormat is a CoAP Content-Format option value. CORECONF defines
// three, none of which go-coap/v3 exports.
type ContentFormat uint16

const (
	ContentFormatYangDataCbor        ContentFormat = 112
	ContentFormatYangIdentifiersCbor ContentFormat = 311
	ContentFormatYangInstancesCbor   ContentFormat = 313
)

// ResponseCode is a CoAP response code, expressed as the class.detail
// pair a CoAP message header actually carries.
type ResponseCode struct {
	Class  uint8
	Detail uint8
}

func (r ResponseCode) String() string {
	var b strings.Builder
	b.WriteByte('0' + r.Class)
	b.WriteByte('.')
	b.WriteByte('0' + r.Detail/10)
	b.WriteByte('0' + r.Detail%10)
	return b.String()
}

// IsSuccess reports whether r is a 2.xx response.
func (r ResponseCode) IsSuccess() bool { return r.Class == 2 }

// Code returns the raw CoAP response code byte (class<<5 | detail), the
// wire representation go-coap/v3's codes.Code carries directly. Used by
// EncodeResponse to fill in a pool.Message's code before re-encoding.
func (r ResponseCode) Code() codes.Code {
	return codes.Code(r.Class<<5 | r.Detail)
}

var (
	Created                  = ResponseCode{2, 1}
	Changed                  = ResponseCode{2, 4}
	Content                  = ResponseCode{2, 5}
	BadRequest               = ResponseCode{4, 0}
	Unauthorized             = ResponseCode{4, 1}
	BadOption                = ResponseCode{4, 2}
	NotFound                 = ResponseCode{4, 4}
	MethodNotAllowed         = ResponseCode{4, 5}
	RequestEntityIncomplete  = ResponseCode{4, 8}
	Conflict                 = ResponseCode{4, 9}
	RequestEntityTooLarge    = ResponseCode{4, 13}
	UnsupportedContentFormat = ResponseCode{4, 15}
	TooManyRequests          = ResponseCode{4, 29}
	InternalServerError      = ResponseCode{5, 0}
	ServiceUnavailable       = ResponseCode{5, 3}
)

// ContentParam is the 'c' query parameter, controlling which data nodes
// a GET or FETCH reports.
type ContentParam string

const (
	ContentAll       ContentParam = "a"
	ContentConfig    ContentParam = "c"
	ContentNonconfig ContentParam = "n"
)

// DefaultsParam is the 'd' query parameter, controlling whether
// schema-default values are reported.
type DefaultsParam string

const (
	DefaultsAll  DefaultsParam = "a"
	DefaultsTrim DefaultsParam = "t"
)

// QueryParams is the parsed 'c='/'d=' query surface of a CORECONF
// request.
type QueryParams struct {
	Content  ContentParam
	Defaults DefaultsParam
}

// ParseQueryParams parses a raw query string ("c=c&d=t") into
// QueryParams, defaulting unset or unrecognized values to "report
// everything".
func ParseQueryParams(query string) QueryParams {
	params := QueryParams{Content: ContentAll, Defaults: DefaultsAll}
	for _, part := range strings.Split(query, "&") {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		switch key {
		case "c":
			switch ContentParam(value) {
			case ContentAll, ContentConfig, ContentNonconfig:
				params.Content = ContentParam(value)
			}
		case "d":
			switch DefaultsParam(value) {
			case DefaultsAll, DefaultsTrim:
				params.Defaults = DefaultsParam(value)
			}
		}
	}
	return params
}

// Request is a transport-agnostic CORECONF request.
type Request struct {
	Method        Method
	Path          string
	Payload       []byte
	ContentFormat ContentFormat
	HasPayload    bool
	Query         QueryParams
}

// Response is a transport-agnostic CORECONF response.
type Response struct {
	Code          ResponseCode
	Payload       []byte
	ContentFormat ContentFormat
	HasPayload    bool
}

// WithContent builds a 2.05 Content response carrying payload.
func WithContent(payload []byte, format ContentFormat) Response {
	return Response{Code: Content, Payload: payload, ContentFormat: format, HasPayload: true}
}

// WithChanged builds a 2.04 Changed response with an empty body, the
// iPATCH and RPC-POST success shape.
func WithChanged() Response {
	return Response{Code: Changed}
}

// WithCreated builds a 2.01 Created response with an empty body, the
// iPATCH shape for a batch that brought at least one previously-absent
// target into existence.
func WithCreated() Response {
	return Response{Code: Created}
}

// WithChangedPayload builds a 2.04 Changed response carrying an RPC
// output payload.
func WithChangedPayload(payload []byte, format ContentFormat) Response {
	return Response{Code: Changed, Payload: payload, ContentFormat: format, HasPayload: true}
}

// Errorf builds an error response for code, with message carried as a
// UTF-8 diagnostic payload (CoAP's plain-text default Content-Format).
func Errorf(code ResponseCode, message string) Response {
	return Response{Code: code, Payload: []byte(message), HasPayload: len(message) > 0}
}

// NotFoundf builds a 4.04 response naming the unresolved path.
func NotFoundf(path string) Response {
	return Errorf(NotFound, "resource not found: "+path)
}

// MethodNotAllowedf builds a 4.05 response naming the rejected method.
func MethodNotAllowedf(m Method) Response {
	return Errorf(MethodNotAllowed, "method "+MethodString(m)+" not allowed")
}
