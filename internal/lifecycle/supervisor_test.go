package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func blockUntilDone(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

type exits struct {
	mu   sync.Mutex
	errs map[string]error
	ch   chan string
}

func newExits() *exits {
	return &exits{errs: make(map[string]error), ch: make(chan string, 8)}
}

func (e *exits) record(name string, err error) {
	e.mu.Lock()
	e.errs[name] = err
	e.mu.Unlock()
	e.ch <- name
}

func (e *exits) get(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.errs[name]
}

func (e *exits) await(t *testing.T, name string) {
	t.Helper()
	select {
	case got := <-e.ch:
		if got != name {
			t.Fatalf("expected %s to exit, got %s", name, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("%s did not exit", name)
	}
}

func TestGo_Validation(t *testing.T) {
	s := New(context.Background(), nil)
	defer s.Shutdown(context.Background())

	if err := s.Go("", blockUntilDone); !errors.Is(err, ErrEmptyName) {
		t.Errorf("expected ErrEmptyName, got %v", err)
	}
	if err := s.Go("x", nil); !errors.Is(err, ErrNilRoutine) {
		t.Errorf("expected ErrNilRoutine, got %v", err)
	}
	if err := s.Go("x", blockUntilDone); err != nil {
		t.Fatalf("Go: %v", err)
	}
	if err := s.Go("x", blockUntilDone); !errors.Is(err, ErrRoutineExists) {
		t.Errorf("expected ErrRoutineExists, got %v", err)
	}
}

func TestStop(t *testing.T) {
	s := New(context.Background(), nil)
	ex := newExits()
	s.OnExit = ex.record

	if err := s.Go("monitor", blockUntilDone); err != nil {
		t.Fatalf("Go: %v", err)
	}
	if err := s.Go("workers", blockUntilDone); err != nil {
		t.Fatalf("Go: %v", err)
	}

	if err := s.Stop(context.Background(), "monitor"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	ex.await(t, "monitor")
	if err := ex.get("monitor"); err != nil {
		t.Errorf("cancellation should be a clean exit, got %v", err)
	}

	if got := s.Running(); len(got) != 1 || got[0] != "workers" {
		t.Errorf("expected [workers] running, got %v", got)
	}
	if err := s.Stop(context.Background(), "monitor"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	ex.await(t, "workers")
}

func TestFailureIsReported(t *testing.T) {
	s := New(context.Background(), nil)
	ex := newExits()
	s.OnExit = ex.record
	boom := errors.New("boom")

	if err := s.Go("refresh", func(context.Context) error { return boom }); err != nil {
		t.Fatalf("Go: %v", err)
	}
	ex.await(t, "refresh")
	if err := ex.get("refresh"); !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}

	if err := s.Go("reconciler", func(context.Context) error { panic("nil book") }); err != nil {
		t.Fatalf("Go: %v", err)
	}
	ex.await(t, "reconciler")
	var perr *PanicError
	if !errors.As(ex.get("reconciler"), &perr) || perr.Value != "nil book" {
		t.Errorf("expected PanicError, got %v", ex.get("reconciler"))
	}

	// A finished routine frees its name.
	if err := s.Go("refresh", blockUntilDone); err != nil {
		t.Errorf("restart after exit: %v", err)
	}
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestShutdown_Timeout(t *testing.T) {
	s := New(context.Background(), nil)
	release := make(chan struct{})
	defer close(release)

	if err := s.Go("stuck", func(context.Context) error { <-release; return nil }); err != nil {
		t.Fatalf("Go: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if err := s.Go("late", blockUntilDone); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped, got %v", err)
	}
}
