package util

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequestIDEchoesIncoming(t *testing.T) {
	var seen string
	h := WithRequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromRequest(r)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/cart", nil)
	req.Header.Set(RequestIDHeader, "storefront-7c1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if seen != "storefront-7c1" {
		t.Fatalf("handler saw id %q", seen)
	}
	if got := rec.Header().Get(RequestIDHeader); got != "storefront-7c1" {
		t.Fatalf("response header id %q", got)
	}
}

func TestRequestIDGeneratedWhenAbsent(t *testing.T) {
	var seen string
	h := WithRequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromRequest(r)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/cart", nil))

	if seen == "" {
		t.Fatal("handler must see a generated id")
	}
	if got := rec.Header().Get(RequestIDHeader); got != seen {
		t.Fatalf("response header %q does not match context id %q", got, seen)
	}
}

func TestRequestIDAbsentFromBareContext(t *testing.T) {
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Fatalf("bare context must have no id, got %q", got)
	}
}
