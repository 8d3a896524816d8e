// Package statestore implements the remote state and lock store the
// orchestrator serializes runs through. The lock is the sole concurrency
// primitive: at most one active lease per state location.
package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"multicloud-deploy/internal/backend"
)

var (
	// ErrStateNotFound reports that no state blob exists at the path yet.
	ErrStateNotFound = errors.New("state not found")

	// ErrLockTimeout reports that another run held the lease past the
	// configured wait bound. The caller may retry; nothing was mutated.
	ErrLockTimeout = errors.New("timed out waiting for state lock")
)

// BackendError wraps a state store failure that is fatal to the run.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("state backend %s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// Lease is an opaque handle on the lock for one state location. It is
// released exactly once per run, on every exit path.
type Lease struct {
	ID         string    `json:"id"`
	Key        string    `json:"key"`
	AcquiredAt time.Time `json:"acquired_at"`

	// backend-specific release metadata, set by the implementation that
	// issued the lease
	table     string
	container string
	blob      string
}

// Store is the contract the orchestrator holds on the remote state and
// lock backend. Implementations must make EnsureBackend idempotent; it is
// the safe re-entry point after a failed run.
type Store interface {
	EnsureBackend(ctx context.Context, b backend.Config) error
	ReadState(ctx context.Context, b backend.Config) ([]byte, error)
	WriteState(ctx context.Context, b backend.Config, blob []byte) error
	AcquireLock(ctx context.Context, b backend.Config, timeout time.Duration) (*Lease, error)
	ReleaseLock(ctx context.Context, lease *Lease) error
}

// InitialState returns an empty versioned state blob used to seed a state
// path that does not exist yet.
func InitialState(lineage string) []byte {
	blob, _ := json.Marshal(map[string]any{
		"version":   4,
		"serial":    0,
		"lineage":   lineage,
		"outputs":   map[string]any{},
		"resources": []any{},
	})
	return blob
}
