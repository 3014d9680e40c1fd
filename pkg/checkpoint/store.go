// Package checkpoint persists enrichment resume state: the cached key list
// and the index of the last processed key. The in-memory store is the
// default best-effort model; the Redis store survives process restarts.
package checkpoint

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound indicates no checkpoint exists for the job ID.
var ErrNotFound = errors.New("checkpoint not found")

// Checkpoint is the resumable state of an enrichment job. Keys are cached in
// full so a resume never re-runs key acquisition.
type Checkpoint struct {
	JobID              string    `json:"job_id"`
	Keys               []string  `json:"keys"`
	LastProcessedIndex int       `json:"last_processed_index"`
	ProcessedCount     int       `json:"processed_count"`
	SavedAt            time.Time `json:"saved_at"`
}

// Store saves and loads checkpoints.
type Store interface {
	Save(ctx context.Context, cp *Checkpoint) error
	Load(ctx context.Context, jobID string) (*Checkpoint, error)
	Delete(ctx context.Context, jobID string) error
}

// MemoryStore keeps checkpoints in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]*Checkpoint
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]*Checkpoint)}
}

// Save stores a copy of the checkpoint.
func (m *MemoryStore) Save(_ context.Context, cp *Checkpoint) error {
	if cp == nil || cp.JobID == "" {
		return errors.New("checkpoint requires a job ID")
	}
	c := *cp
	c.Keys = append([]string(nil), cp.Keys...)
	c.SavedAt = time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[cp.JobID] = &c
	return nil
}

// Load returns a copy of the stored checkpoint or ErrNotFound.
func (m *MemoryStore) Load(_ context.Context, jobID string) (*Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp, ok := m.data[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *cp
	c.Keys = append([]string(nil), cp.Keys...)
	return &c, nil
}

// Delete removes a checkpoint. Deleting a missing checkpoint is not an error.
func (m *MemoryStore) Delete(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, jobID)
	return nil
}
