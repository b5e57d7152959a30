// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package coap

import "testing"

func TestResponseCodeString(t *testing.T) {
	cases := []struct {
		code ResponseCode
		want string
	}{
		{Content, "2.05"},
		{Changed, "2.04"},
		{NotFound, "4.04"},
		{RequestEntityTooLarge, "4.13"},
		{InternalServerError, "5.00"},
	}
	for _, c := range cases {
		if got := c.code.String(); got != c.want {
			t.Fatalf("String() = %s, want %s", got, c.want)
		}
	}
}

func TestResponseCodeIsSuccess(t *testing.T) {
	if !Content.IsSuccess() {
		t.Fatalf("Content should be a success code")
	}
	if NotFound.IsSuccess() {
		t.Fatalf("NotFound should not be a success code")
	}
}

func TestParseQueryParams(t *testing.T) {
	got := ParseQueryParams("c=c&d=t")
	if got.Content != ContentConfig {
		t.Fatalf("Content = %v, want %v", got.Content, ContentConfig)
	}
	if got.Defaults != DefaultsTrim {
		t.Fatalf("Defaults = %v, want %v", got.Defaults, DefaultsTrim)
	}
}

func TestParseQueryParamsDefaults(t *testing.T) {
	got := ParseQueryParams("")
	if got.Content != ContentAll || got.Defaults != DefaultsAll {
		t.Fatalf("got = %+v, want all-defaults", got)
	}
}

func TestParseQueryParamsIgnoresUnknown(t *testing.T) {
	got := ParseQueryParams("c=bogus&x=1")
	if got.Content != ContentAll {
		t.Fatalf("Content = %v, want fallback %v", got.Content, ContentAll)
	}
}

func TestWithContentAndChanged(t *testing.T) {
	r := WithContent([]byte{0x01}, ContentFormatYangDataCbor)
	if r.Code != Content || !r.HasPayload || r.ContentFormat != ContentFormatYangDataCbor {
		t.Fatalf("WithContent = %+v", r)
	}

	c := WithChanged()
	if c.Code != Changed || c.HasPayload {
		t.Fatalf("WithChanged = %+v", c)
	}
}

func TestMethodString(t *testing.T) {
	if MethodString(MethodFetch) != "FETCH" {
		t.Fatalf("MethodString(MethodFetch) = %s", MethodString(MethodFetch))
	}
	if MethodString(MethodIPatch) != "iPATCH" {
		t.Fatalf("MethodString(MethodIPatch) = %s", MethodString(MethodIPatch))
	}
}
