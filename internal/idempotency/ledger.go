package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	canonicaljson "github.com/gibson042/canonicaljson-go"
)

// Record stores the canonical fingerprint of the original request body and
// the response produced for it. Records never leave this package's owner.
type Record struct {
	Fingerprint string
	Status      int
	Body        []byte
	ContentType string
}

// Ledger maps (operation scope, client idempotency key) to the request
// fingerprint and stored response. Entries live for the process lifetime;
// there is no eviction.
type Ledger struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewLedger() *Ledger {
	return &Ledger{records: make(map[string]Record)}
}

// Key scopes a client-supplied idempotency key to a single operation. The
// scope carries the request path, so a replayed key against a different
// session or operation never collides.
func Key(scope, idempotencyKey string) string {
	return strings.Join([]string{scope, idempotencyKey}, "|")
}

// Fingerprint canonicalizes the request body (object keys sorted recursively,
// array order preserved) and hashes it, so byte-level reordering of object
// keys still fingerprints identically.
func Fingerprint(body []byte) (string, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return hashBytes(nil), nil
	}
	var value any
	if err := json.Unmarshal(trimmed, &value); err != nil {
		return "", fmt.Errorf("parsing body for fingerprint: %w", err)
	}
	canonical, err := canonicaljson.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("canonicalizing body: %w", err)
	}
	return hashBytes(canonical), nil
}

func (l *Ledger) Get(key string) (Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	record, ok := l.records[key]
	return record, ok
}

// Put persists the record, overwriting any previous entry for the key.
func (l *Ledger) Put(key string, record Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records[key] = record
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

func hashBytes(payload []byte) string {
	sum := sha256.Sum256(payload)
	return base64.StdEncoding.EncodeToString(sum[:])
}
