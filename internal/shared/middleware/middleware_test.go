package middleware

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"service-dispatch/internal/shared/util"
)

func TestRequestIDPropagatesHeader(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if seen != "req-42" || rec.Header().Get("X-Request-ID") != "req-42" {
		t.Fatalf("seen=%q header=%q", seen, rec.Header().Get("X-Request-ID"))
	}
}

func TestRequestIDGeneratesWhenMissing(t *testing.T) {
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if len(rec.Header().Get("X-Request-ID")) != 36 {
		t.Fatalf("expected generated uuid, got %q", rec.Header().Get("X-Request-ID"))
	}
}

func TestRequestIDReplacesUnsafeHeader(t *testing.T) {
	for name, inbound := range map[string]string{
		"line break": "req-1\nFATAL forged line",
		"too long":   strings.Repeat("a", 65),
		"space":      "req 1",
	} {
		var seen string
		h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = GetRequestID(r.Context())
		}))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-ID", inbound)
		h.ServeHTTP(httptest.NewRecorder(), req)

		if seen == inbound || len(seen) != 36 {
			t.Fatalf("%s: request id=%q, want a generated uuid", name, seen)
		}
	}
}

func TestRequestIDTagsSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	ctx, span := tp.Tracer("test").Start(context.Background(), "GET /bookings")

	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/bookings/b1", nil).WithContext(ctx)
	req.Header.Set("X-Request-ID", "req-7")
	h.ServeHTTP(httptest.NewRecorder(), req)
	span.End()

	ended := recorder.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended spans=%d", len(ended))
	}
	for _, kv := range ended[0].Attributes() {
		if kv.Key == "request.id" && kv.Value.AsString() == "req-7" {
			return
		}
	}
	t.Fatalf("span attributes=%v, want request.id=req-7", ended[0].Attributes())
}

func TestGetRequestIDOutsideRequest(t *testing.T) {
	if id := GetRequestID(context.Background()); id != "" {
		t.Fatalf("id=%q", id)
	}
	if id := GetRequestID(WithRequestID(context.Background(), "amqp-1")); id != "amqp-1" {
		t.Fatalf("id=%q", id)
	}
}

func TestLoggingCountsErrors(t *testing.T) {
	before := requestsErrors.Value()
	totalBefore := requestsTotal.Value()
	h := Logging(util.NewWithWriter(io.Discard))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))

	if requestsErrors.Value() != before+1 || requestsTotal.Value() != totalBefore+1 {
		t.Fatalf("counters not incremented: errors=%d total=%d", requestsErrors.Value(), requestsTotal.Value())
	}
}
