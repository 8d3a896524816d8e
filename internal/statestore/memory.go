package statestore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"multicloud-deploy/internal/backend"
)

// Memory is an in-process Store used by tests and dry runs. It honors the
// same lease semantics as the remote implementations.
type Memory struct {
	mu       sync.Mutex
	backends map[string]bool
	states   map[string][]byte
	locks    map[string]string // lock key -> lease id

	// PollInterval controls how often a blocked acquirer re-checks the
	// lease. Tests shorten it.
	PollInterval time.Duration
}

func NewMemory() *Memory {
	return &Memory{
		backends:     make(map[string]bool),
		states:       make(map[string][]byte),
		locks:        make(map[string]string),
		PollInterval: 25 * time.Millisecond,
	}
}

func (m *Memory) EnsureBackend(ctx context.Context, b backend.Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backends[b.StateLocation()] = true
	return nil
}

func (m *Memory) ReadState(ctx context.Context, b backend.Config) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	blob, ok := m.states[b.StateLocation()]
	if !ok {
		return nil, ErrStateNotFound
	}
	out := make([]byte, len(blob))
	copy(out, blob)
	return out, nil
}

func (m *Memory) WriteState(ctx context.Context, b backend.Config, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]byte, len(blob))
	copy(stored, blob)
	m.states[b.StateLocation()] = stored
	return nil
}

func (m *Memory) AcquireLock(ctx context.Context, b backend.Config, timeout time.Duration) (*Lease, error) {
	key := b.LockKey()
	deadline := time.Now().Add(timeout)

	for {
		m.mu.Lock()
		if _, held := m.locks[key]; !held {
			id := uuid.New().String()
			m.locks[key] = id
			m.mu.Unlock()
			return &Lease{ID: id, Key: key, AcquiredAt: time.Now()}, nil
		}
		m.mu.Unlock()

		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.PollInterval):
		}
	}
}

func (m *Memory) ReleaseLock(ctx context.Context, lease *Lease) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks[lease.Key] != lease.ID {
		return &BackendError{Op: "release", Err: fmt.Errorf("lease %s no longer holds %s", lease.ID, lease.Key)}
	}
	delete(m.locks, lease.Key)
	return nil
}

// Holder reports the lease id currently holding the key, for tests.
func (m *Memory) Holder(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.locks[key]
	return id, ok
}
