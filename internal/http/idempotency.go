package http

import (
	"bytes"
	"net/http"

	gocache "github.com/patrickmn/go-cache"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"
	maxIdempotencyKey = 128
)

// cachedResponse is a completed response kept for replay, or a marker for a
// request still in flight.
type cachedResponse struct {
	pending bool
	status  int
	body    []byte
}

type captureWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *captureWriter) WriteHeader(code int) {
	c.status = code
	c.ResponseWriter.WriteHeader(code)
}

func (c *captureWriter) Write(b []byte) (int, error) {
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

// idempotent replays the stored response of a request that carried the same
// Idempotency-Key. Only 2xx responses are stored; a failed request may be retried.
func (s *Server) idempotent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(idempotencyHeader)
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}
		if len(key) > maxIdempotencyKey {
			writeJSONError(w, http.StatusBadRequest, "validation_error", "Idempotency-Key too long")
			return
		}
		key = r.Method + " " + r.URL.Path + " " + key

		if v, ok := s.idempotency.Get(key); ok {
			s.replay(w, r, v.(*cachedResponse))
			return
		}
		if err := s.idempotency.Add(key, &cachedResponse{pending: true}, gocache.DefaultExpiration); err != nil {
			// Another request claimed the key between Get and Add.
			if v, ok := s.idempotency.Get(key); ok {
				s.replay(w, r, v.(*cachedResponse))
				return
			}
		}

		cw := &captureWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(cw, r)

		if cw.status >= 200 && cw.status < 300 {
			s.idempotency.Set(key, &cachedResponse{status: cw.status, body: cw.body.Bytes()}, gocache.DefaultExpiration)
		} else {
			s.idempotency.Delete(key)
		}
	})
}

func (s *Server) replay(w http.ResponseWriter, r *http.Request, cached *cachedResponse) {
	if cached.pending {
		writeJSONError(w, http.StatusConflict, "conflict", "a request with this Idempotency-Key is in progress")
		return
	}
	s.logger.InfoContext(r.Context(), "Replaying idempotent response", "path", r.URL.Path)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(replayedHeader, "true")
	w.WriteHeader(cached.status)
	_, _ = w.Write(cached.body)
}
