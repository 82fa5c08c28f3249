package convert

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeProber struct {
	calls atomic.Int32

	mu sync.Mutex
	fn func(ctx context.Context) (*HealthStatus, error)
}

func newFakeProber(fn func(ctx context.Context) (*HealthStatus, error)) *fakeProber {
	return &fakeProber{fn: fn}
}

func (f *fakeProber) Health(ctx context.Context) (*HealthStatus, error) {
	f.calls.Add(1)
	f.mu.Lock()
	fn := f.fn
	f.mu.Unlock()
	return fn(ctx)
}

func (f *fakeProber) set(fn func(ctx context.Context) (*HealthStatus, error)) {
	f.mu.Lock()
	f.fn = fn
	f.mu.Unlock()
}

func okStatus(context.Context) (*HealthStatus, error) {
	return &HealthStatus{Reachable: true, Status: "ok", CheckedAt: time.Now()}, nil
}

func TestCachedHealth_TTL(t *testing.T) {
	fake := newFakeProber(okStatus)
	h := NewCachedHealth(fake, testLogger())

	if h.Peek() != nil {
		t.Fatal("Peek() before any probe should be nil")
	}

	for i := 0; i < 3; i++ {
		if _, err := h.Get(context.Background()); err != nil {
			t.Fatalf("Get() error = %v", err)
		}
	}
	if got := fake.calls.Load(); got != 1 {
		t.Errorf("probe calls = %d, want 1", got)
	}
	if h.Peek() == nil {
		t.Error("Peek() after Get should return the cached status")
	}
	if got := fake.calls.Load(); got != 1 {
		t.Errorf("Peek() probed: calls = %d, want 1", got)
	}
}

func TestCachedHealth_ExpiredEntryReprobes(t *testing.T) {
	fake := newFakeProber(func(context.Context) (*HealthStatus, error) {
		return &HealthStatus{Reachable: true, CheckedAt: time.Now().Add(-2 * time.Hour)}, nil
	})
	h := NewCachedHealth(fake, testLogger())

	h.Get(context.Background())
	h.Get(context.Background())
	if got := fake.calls.Load(); got != 2 {
		t.Errorf("probe calls = %d, want 2", got)
	}
}

func TestCachedHealth_StaleOnError(t *testing.T) {
	fake := newFakeProber(okStatus)
	h := NewCachedHealth(fake, testLogger())

	if _, err := h.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	fake.set(func(context.Context) (*HealthStatus, error) { return nil, errors.New("boom") })
	status, err := h.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh() with stale cache error = %v", err)
	}
	if status == nil || status.Status != "ok" {
		t.Errorf("expected stale status, got %+v", status)
	}
}

func TestCachedHealth_ErrorWithoutCache(t *testing.T) {
	fake := newFakeProber(func(context.Context) (*HealthStatus, error) { return nil, errors.New("boom") })
	h := NewCachedHealth(fake, testLogger())

	if _, err := h.Get(context.Background()); err == nil {
		t.Fatal("expected error with empty cache")
	}
}

func TestCachedHealth_SlowProbeDoesNotBlockReaders(t *testing.T) {
	fake := newFakeProber(okStatus)
	h := NewCachedHealth(fake, testLogger())
	if _, err := h.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	started := make(chan struct{})
	release := make(chan struct{})
	fake.set(func(ctx context.Context) (*HealthStatus, error) {
		close(started)
		<-release
		return &HealthStatus{Reachable: false, Error: "down", CheckedAt: time.Now()}, nil
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Refresh(context.Background())
	}()
	<-started

	peeked := make(chan *HealthStatus, 1)
	go func() { peeked <- h.Peek() }()

	select {
	case status := <-peeked:
		if status == nil || !status.Reachable {
			t.Errorf("Peek() during probe = %+v, want previous reachable status", status)
		}
	case <-time.After(time.Second):
		t.Fatal("Peek() blocked behind an in-flight probe")
	}

	close(release)
	<-done
	if status := h.Peek(); status == nil || status.Reachable {
		t.Errorf("Peek() after probe = %+v, want unreachable", status)
	}
}

func TestCachedHealth_Run(t *testing.T) {
	fake := newFakeProber(okStatus)
	h := NewCachedHealth(fake, testLogger())
	h.ttl = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Run(ctx)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for fake.calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if got := fake.calls.Load(); got < 2 {
		t.Errorf("probe calls = %d, want at least 2", got)
	}
	if h.Peek() == nil {
		t.Error("Run() should populate the cache")
	}
}
