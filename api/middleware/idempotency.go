package middleware

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/merchantsim/acp-backend/api/responses"
	"github.com/merchantsim/acp-backend/internal/idempotency"
	pkgerrors "github.com/merchantsim/acp-backend/pkg/errors"
	"github.com/merchantsim/acp-backend/pkg/logger"
)

const idempotencyKeyHeader = "Idempotency-Key"

type idempotencyRule struct {
	method string
	match  func(path string) bool
}

// Mutating checkout operations only. Reads stay uncovered, and requests
// without a key always pass straight through.
var idempotencyRules = []idempotencyRule{
	{http.MethodPost, matchExact("/checkout_sessions")},
	{http.MethodPost, matchPrefix("/checkout_sessions/")},
	{http.MethodPost, matchPrefixSuffix("/checkouts/", "/cancel")},
}

// Idempotency replays the stored response when a (scope, key) pair repeats
// with the same canonical body fingerprint, and rejects reuse with a
// different body. The scope carries the method and path, so the same key
// against a different session or operation never collides. Concurrent
// first-time requests for the same key serialize on an in-flight marker, so
// the business operation runs at most once per (scope, key, fingerprint).
func Idempotency(ledger *idempotency.Ledger, logg *logger.Logger) func(http.Handler) http.Handler {
	var inflight sync.Map
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(idempotencyKeyHeader)
			if key == "" || !coveredRequest(r) {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInvalidJSON, err, "reading request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			fingerprint, err := idempotency.Fingerprint(body)
			if err != nil {
				// The body is not JSON. Validation rejects it downstream;
				// nothing gets recorded.
				next.ServeHTTP(w, r)
				return
			}

			scope := r.Method + "|" + r.URL.Path
			ledgerKey := idempotency.Key(scope, key)

			// Either win the in-flight reservation or wait for the holder to
			// finish and re-check the ledger.
			for {
				if record, ok := ledger.Get(ledgerKey); ok {
					if record.Fingerprint != fingerprint {
						responses.WriteError(r.Context(), logg, w, pkgerrors.New(
							pkgerrors.CodeIdempotencyKeyReuseMismatch,
							"idempotency key was reused with a different request body",
						))
						return
					}
					replayRecord(w, record)
					return
				}
				marker := make(chan struct{})
				if held, loaded := inflight.LoadOrStore(ledgerKey, marker); loaded {
					<-held.(chan struct{})
					continue
				}
				defer func() {
					inflight.Delete(ledgerKey)
					close(marker)
				}()
				break
			}

			capture := &responseCapture{ResponseWriter: w, buf: &bytes.Buffer{}}
			next.ServeHTTP(capture, r)

			ledger.Put(ledgerKey, idempotency.Record{
				Fingerprint: fingerprint,
				Status:      capture.statusOrDefault(),
				Body:        append([]byte(nil), capture.buf.Bytes()...),
				ContentType: capture.Header().Get("Content-Type"),
			})
		})
	}
}

func coveredRequest(r *http.Request) bool {
	for _, rule := range idempotencyRules {
		if r.Method == rule.method && rule.match(r.URL.Path) {
			return true
		}
	}
	return false
}

func matchExact(path string) func(string) bool {
	return func(candidate string) bool { return candidate == path }
}

func matchPrefix(prefix string) func(string) bool {
	return func(candidate string) bool { return strings.HasPrefix(candidate, prefix) }
}

func matchPrefixSuffix(prefix, suffix string) func(string) bool {
	return func(candidate string) bool {
		return strings.HasPrefix(candidate, prefix) && strings.HasSuffix(candidate, suffix)
	}
}

func replayRecord(w http.ResponseWriter, record idempotency.Record) {
	if record.ContentType != "" {
		w.Header().Set("Content-Type", record.ContentType)
	}
	w.WriteHeader(record.Status)
	_, _ = w.Write(record.Body)
}

type responseCapture struct {
	http.ResponseWriter
	buf    *bytes.Buffer
	status int
}

func (c *responseCapture) WriteHeader(status int) {
	c.status = status
	c.ResponseWriter.WriteHeader(status)
}

func (c *responseCapture) Write(p []byte) (int, error) {
	c.buf.Write(p)
	return c.ResponseWriter.Write(p)
}

func (c *responseCapture) statusOrDefault() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}
