// Package lifecycle runs the engine's long-lived loops as named routines
// that can be stopped individually or all at once.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Routine is a long-running loop. It must return when ctx is done.
type Routine func(ctx context.Context) error

var (
	ErrEmptyName     = errors.New("lifecycle: empty routine name")
	ErrNilRoutine    = errors.New("lifecycle: nil routine")
	ErrRoutineExists = errors.New("lifecycle: routine already running")
	ErrNotFound      = errors.New("lifecycle: routine not found")
	ErrStopped       = errors.New("lifecycle: supervisor stopped")
)

// PanicError is reported when a routine panics.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

type routine struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
}

// Supervisor owns a set of named routines derived from one base context.
// A routine that returns an error (or panics) is logged and reported to
// the OnExit callback; the others keep running.
type Supervisor struct {
	base   context.Context
	cancel context.CancelFunc
	log    *zap.Logger

	// OnExit, when set, is called after a routine returns. err is nil on a
	// clean exit.
	OnExit func(name string, err error)

	mu       sync.Mutex
	routines map[string]*routine
	stopped  bool
}

// New creates a Supervisor whose routines stop when ctx is done.
func New(ctx context.Context, log *zap.Logger) *Supervisor {
	if ctx == nil {
		ctx = context.Background()
	}
	if log == nil {
		log = zap.NewNop()
	}
	base, cancel := context.WithCancel(ctx)
	return &Supervisor{
		base:     base,
		cancel:   cancel,
		log:      log.Named("lifecycle"),
		routines: make(map[string]*routine),
	}
}

// Go starts fn under name.
func (s *Supervisor) Go(name string, fn Routine) error {
	if name == "" {
		return ErrEmptyName
	}
	if fn == nil {
		return ErrNilRoutine
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if _, ok := s.routines[name]; ok {
		s.mu.Unlock()
		return ErrRoutineExists
	}
	ctx, cancel := context.WithCancel(s.base)
	r := &routine{name: name, cancel: cancel, done: make(chan struct{})}
	s.routines[name] = r
	s.mu.Unlock()

	go s.run(ctx, r, fn)
	return nil
}

func (s *Supervisor) run(ctx context.Context, r *routine, fn Routine) {
	var err error
	defer func() {
		if v := recover(); v != nil {
			err = &PanicError{Value: v, Stack: debug.Stack()}
		}
		r.cancel()

		s.mu.Lock()
		if cur, ok := s.routines[r.name]; ok && cur == r {
			delete(s.routines, r.name)
		}
		s.mu.Unlock()

		switch {
		case err == nil, errors.Is(err, context.Canceled):
			s.log.Info("routine stopped", zap.String("routine", r.name))
			err = nil
		default:
			s.log.Error("routine failed", zap.String("routine", r.name), zap.Error(err))
		}
		if s.OnExit != nil {
			s.OnExit(r.name, err)
		}
		close(r.done)
	}()

	s.log.Info("routine started", zap.String("routine", r.name))
	err = fn(ctx)
}

// Stop cancels one routine and waits for it to return.
func (s *Supervisor) Stop(ctx context.Context, name string) error {
	s.mu.Lock()
	r, ok := s.routines[name]
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	r.cancel()
	return wait(ctx, r.done)
}

// Running returns the names of the live routines, sorted.
func (s *Supervisor) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.routines))
	for name := range s.routines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Shutdown cancels every routine and waits until they return or ctx is done.
// No routine can be started afterwards.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	pending := make([]*routine, 0, len(s.routines))
	for _, r := range s.routines {
		pending = append(pending, r)
	}
	s.mu.Unlock()

	s.cancel()
	for _, r := range pending {
		if err := wait(ctx, r.done); err != nil {
			return fmt.Errorf("routine %s did not stop: %w", r.name, err)
		}
	}
	return nil
}

func wait(ctx context.Context, done <-chan struct{}) error {
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
