package middleware

import (
	"bufio"
	"errors"
	"expvar"
	"net"
	"net/http"
	"time"

	"service-dispatch/internal/shared/util"
)

var (
	requestsTotal  = expvar.NewInt("requests_total")
	requestsErrors = expvar.NewInt("requests_errors_total")
)

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the logging wrapper.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Logging counts requests and writes one access line per request.
func Logging(log *util.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			writer := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(writer, r)

			requestsTotal.Add(1)
			if writer.status >= http.StatusInternalServerError {
				requestsErrors.Add(1)
			}
			log.HTTP(writer.status, time.Since(start), r.RemoteAddr, r.Method, r.URL.Path, GetRequestID(r.Context()))
		})
	}
}
