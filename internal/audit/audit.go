// Package audit keeps the append-only record of every gateway decision.
// Records are written once and never mutated; a downstream operator can
// reconstruct any verdict from hashes alone.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound is returned when no record exists for the requested id.
var ErrNotFound = errors.New("audit: record not found")

// ErrDuplicate is returned when a record id is appended twice.
var ErrDuplicate = errors.New("audit: record already exists")

// promptPreviewLen bounds the stored prompt excerpts.
const promptPreviewLen = 200

// Record is one immutable audit entry.
type Record struct {
	RequestID       string   `json:"request_id"`
	Timestamp       string   `json:"timestamp"` // ISO-8601
	InputHash       string   `json:"input_hash"`
	OutputHash      string   `json:"output_hash"`
	InjectionScore  float64  `json:"injection_score"`
	RiskCategory    string   `json:"risk_category"`
	ActionTaken     string   `json:"action_taken"`
	OriginalPrompt  string   `json:"original_prompt"`  // first 200 chars
	SanitizedPrompt string   `json:"sanitized_prompt"` // first 200 chars
	SafetyScore     float64  `json:"safety_score"`
	SafetyAction    string   `json:"safety_action"`
	ComplianceTags  []string `json:"compliance_tags,omitempty"`
	ErrorKind       string   `json:"error_kind,omitempty"`
}

// Store is the append-only record store. Implementations must be safe
// for concurrent use.
type Store interface {
	Append(ctx context.Context, rec Record) error
	Get(ctx context.Context, id string) (Record, error)
	List(ctx context.Context, limit int) ([]Record, error)
}

// Hash16 returns the first 16 hex chars of the SHA-256 of s, the opaque
// handle format used throughout audit records.
func Hash16(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}

// TruncatePrompt bounds a prompt excerpt for storage.
func TruncatePrompt(s string) string {
	if len(s) <= promptPreviewLen {
		return s
	}
	return s[:promptPreviewLen]
}

// MemoryStore is the in-process Store: a concurrent map plus insertion
// order for listing.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
	order   []string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Append stores a record. Appending an id twice is an error; records are
// write-once.
func (m *MemoryStore) Append(_ context.Context, rec Record) error {
	if rec.RequestID == "" {
		return fmt.Errorf("audit: empty request id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.RequestID]; ok {
		return ErrDuplicate
	}
	m.records[rec.RequestID] = rec
	m.order = append(m.order, rec.RequestID)
	return nil
}

// Get retrieves one record by request id.
func (m *MemoryStore) Get(_ context.Context, id string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// List returns the most recent records, oldest first, capped at limit.
// limit <= 0 returns everything.
func (m *MemoryStore) List(_ context.Context, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.order
	if limit > 0 && len(ids) > limit {
		ids = ids[len(ids)-limit:]
	}
	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.records[id])
	}
	return out, nil
}

// Len reports the number of stored records.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
