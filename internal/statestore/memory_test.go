package statestore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"multicloud-deploy/internal/backend"
	"multicloud-deploy/internal/models"
)

func testBackend(project string, env models.Environment) backend.Config {
	return backend.Resolve(&models.DeploymentRequest{
		Cloud:       models.CloudAWS,
		Environment: env,
		Region:      "us-east-1",
		Project:     project,
	})
}

func newTestMemory() *Memory {
	m := NewMemory()
	m.PollInterval = 5 * time.Millisecond
	return m
}

func TestMemoryState(t *testing.T) {
	m := newTestMemory()
	b := testBackend("demo", models.EnvDev)
	ctx := context.Background()

	if _, err := m.ReadState(ctx, b); !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("expected ErrStateNotFound, got %v", err)
	}

	blob := InitialState("lineage-1")
	if err := m.WriteState(ctx, b, blob); err != nil {
		t.Fatalf("WriteState: %v", err)
	}

	got, err := m.ReadState(ctx, b)
	if err != nil {
		t.Fatalf("ReadState: %v", err)
	}
	if string(got) != string(blob) {
		t.Errorf("state round trip mismatch")
	}

	// a different environment sees its own path
	other := testBackend("demo", models.EnvStaging)
	if _, err := m.ReadState(ctx, other); !errors.Is(err, ErrStateNotFound) {
		t.Errorf("staging state should be absent, got %v", err)
	}
}

func TestMemoryEnsureBackendIdempotent(t *testing.T) {
	m := newTestMemory()
	b := testBackend("demo", models.EnvDev)
	ctx := context.Background()

	if err := m.EnsureBackend(ctx, b); err != nil {
		t.Fatalf("first EnsureBackend: %v", err)
	}
	if err := m.EnsureBackend(ctx, b); err != nil {
		t.Fatalf("second EnsureBackend: %v", err)
	}
}

func TestMemoryLockContention(t *testing.T) {
	m := newTestMemory()
	b := testBackend("demo", models.EnvDev)
	ctx := context.Background()

	lease, err := m.AcquireLock(ctx, b, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}

	if _, err := m.AcquireLock(ctx, b, 30*time.Millisecond); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}

	if err := m.ReleaseLock(ctx, lease); err != nil {
		t.Fatalf("ReleaseLock: %v", err)
	}
	if err := m.ReleaseLock(ctx, lease); err == nil {
		t.Error("releasing an already-released lease should fail")
	}
}

func TestMemoryLockSerializes(t *testing.T) {
	m := newTestMemory()
	b := testBackend("demo", models.EnvDev)
	ctx := context.Background()

	lease, err := m.AcquireLock(ctx, b, time.Second)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	var waited *Lease
	var waitErr error
	go func() {
		defer wg.Done()
		waited, waitErr = m.AcquireLock(ctx, b, time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	if err := m.ReleaseLock(ctx, lease); err != nil {
		t.Fatalf("ReleaseLock: %v", err)
	}
	wg.Wait()

	if waitErr != nil {
		t.Fatalf("waiter should have acquired after release: %v", waitErr)
	}
	if waited.ID == lease.ID {
		t.Error("waiter received the released lease id")
	}
	m.ReleaseLock(ctx, waited)
}

func TestMemoryDistinctKeysIndependent(t *testing.T) {
	m := newTestMemory()
	ctx := context.Background()

	a, err := m.AcquireLock(ctx, testBackend("demo", models.EnvDev), 50*time.Millisecond)
	if err != nil {
		t.Fatalf("first lock: %v", err)
	}
	// same project, different environment
	b, err := m.AcquireLock(ctx, testBackend("demo", models.EnvProd), 50*time.Millisecond)
	if err != nil {
		t.Fatalf("distinct triple blocked: %v", err)
	}
	// different project, same environment
	c, err := m.AcquireLock(ctx, testBackend("other", models.EnvDev), 50*time.Millisecond)
	if err != nil {
		t.Fatalf("distinct triple blocked: %v", err)
	}

	for _, lease := range []*Lease{a, b, c} {
		if err := m.ReleaseLock(ctx, lease); err != nil {
			t.Errorf("ReleaseLock(%s): %v", lease.Key, err)
		}
	}
}

func TestMemoryAcquireCancellation(t *testing.T) {
	m := newTestMemory()
	b := testBackend("demo", models.EnvDev)

	lease, err := m.AcquireLock(context.Background(), b, time.Second)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	defer m.ReleaseLock(context.Background(), lease)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	if _, err := m.AcquireLock(ctx, b, time.Minute); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
