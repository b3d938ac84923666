package api

import (
	"bytes"
	"net/http"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

const IdempotencyHeader = "Idempotency-Key"

type cachedResponse struct {
	status int
	header http.Header
	body   []byte
}

// IdempotencyCache replays successful responses for repeated requests that
// carry the same Idempotency-Key. Entries are bounded in number and age.
// Concurrent requests with one key share a single execution.
type IdempotencyCache struct {
	cache  *expirable.LRU[string, *cachedResponse]
	flight singleflight.Group
}

func NewIdempotencyCache(size int, ttl time.Duration) *IdempotencyCache {
	if size <= 0 {
		size = 10000
	}
	return &IdempotencyCache{cache: expirable.NewLRU[string, *cachedResponse](size, nil, ttl)}
}

func (c *IdempotencyCache) Len() int {
	return c.cache.Len()
}

// Middleware wraps next. Requests without the header pass straight through.
func (c *IdempotencyCache) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(IdempotencyHeader)
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}
		key = r.Method + " " + r.URL.Path + " " + key

		if cached, ok := c.cache.Get(key); ok {
			replay(w, cached, true)
			return
		}

		// Only the caller whose closure ran saw the handler execute; callers
		// that joined its flight get its response as a replay.
		executed := false
		v, _, _ := c.flight.Do(key, func() (any, error) {
			executed = true
			rec := &recorder{header: http.Header{}, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			resp := &cachedResponse{status: rec.status, header: rec.header, body: rec.body.Bytes()}
			if resp.status >= 200 && resp.status < 300 {
				c.cache.Add(key, resp)
			}
			return resp, nil
		})
		replay(w, v.(*cachedResponse), !executed)
	})
}

func replay(w http.ResponseWriter, resp *cachedResponse, replayed bool) {
	for k, values := range resp.header {
		for _, v := range values {
			w.Header().Add(k, v)
		}
	}
	if replayed {
		w.Header().Set("Idempotent-Replayed", "true")
	}
	w.WriteHeader(resp.status)
	_, _ = w.Write(resp.body)
}

type recorder struct {
	header      http.Header
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (r *recorder) Header() http.Header { return r.header }

func (r *recorder) WriteHeader(code int) {
	if r.wroteHeader {
		return
	}
	r.status = code
	r.wroteHeader = true
}

func (r *recorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	return r.body.Write(b)
}
