package engine

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/speech-service/internal/core"
)

// ErrClosed is returned by operations on a closed Serializer.
var ErrClosed = errors.New("engine is closed")

// Serializer admits one operation at a time against the active Handle.
// Waiting callers are admitted in arrival order. A caller whose context ends
// while it is still queued leaves the queue without side effects; an
// admitted operation always runs to completion.
type Serializer struct {
	mu      sync.Mutex
	busy    bool
	waiters list.List

	active atomic.Pointer[Handle]
	log    *logger.Logger
}

// NewSerializer takes ownership of initial.
func NewSerializer(initial *Handle, log *logger.Logger) *Serializer {
	s := &Serializer{log: log}
	s.active.Store(initial)

	return s
}

// Do runs op inside the critical section. The context handed to op is
// detached from the caller's cancellation.
func (s *Serializer) Do(ctx context.Context, op func(ctx context.Context, handle *Handle) error) error {
	acquireErr := s.acquire(ctx)
	if acquireErr != nil {
		return acquireErr
	}
	defer s.release()

	handle := s.active.Load()
	if handle == nil {
		return ErrClosed
	}

	return op(context.WithoutCancel(ctx), handle)
}

// WithEngine runs op inside the critical section of s and returns its result.
func WithEngine[T any](ctx context.Context, s *Serializer, op func(ctx context.Context, handle *Handle) (T, error)) (T, error) {
	var result T

	err := s.Do(ctx, func(ctx context.Context, handle *Handle) error {
		var opErr error

		result, opErr = op(ctx, handle)

		return opErr
	})

	return result, err
}

// Reconfigure replaces the active handle with the one produced by load. It
// queues like any other operation, so work admitted before it sees the old
// handle and work admitted after sees the new one. When load fails the
// current handle stays active.
func (s *Serializer) Reconfigure(ctx context.Context, load func(ctx context.Context) (*Handle, error)) error {
	return s.Do(ctx, func(ctx context.Context, current *Handle) error {
		next, loadErr := load(ctx)
		if loadErr != nil {
			return loadErr
		}

		s.active.Store(next)
		s.log.Info("Replaced model %s/%s after %s", current.config.Language, current.config.Model,
			time.Since(current.LoadedAt()).Round(time.Second))

		closeErr := current.close()
		if closeErr != nil {
			s.log.Warn("Previous model was not released cleanly: %v", closeErr)
		}

		return nil
	})
}

// Active returns the configuration of the handle that the next admitted
// operation would use. It does not wait for the critical section.
func (s *Serializer) Active() (core.VoiceConfiguration, bool) {
	handle := s.active.Load()
	if handle == nil {
		return core.VoiceConfiguration{}, false
	}

	return handle.Config(), true
}

// Pending returns the number of callers waiting for admission.
func (s *Serializer) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.waiters.Len()
}

// Close waits for its turn, then releases the active handle. Later
// operations fail with ErrClosed.
func (s *Serializer) Close(ctx context.Context) error {
	acquireErr := s.acquire(ctx)
	if acquireErr != nil {
		return acquireErr
	}
	defer s.release()

	handle := s.active.Swap(nil)
	if handle == nil {
		return nil
	}

	return handle.close()
}

func (s *Serializer) acquire(ctx context.Context) error {
	s.mu.Lock()

	if !s.busy && s.waiters.Len() == 0 {
		s.busy = true
		s.mu.Unlock()

		return nil
	}

	ready := make(chan struct{})
	elem := s.waiters.PushBack(ready)
	s.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		s.mu.Lock()

		select {
		case <-ready:
			// Admitted while giving up: hand the turn to the next waiter.
			s.mu.Unlock()
			s.release()
		default:
			s.waiters.Remove(elem)
			s.mu.Unlock()
		}

		return ctx.Err()
	}
}

func (s *Serializer) release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	front := s.waiters.Front()
	if front == nil {
		s.busy = false

		return
	}

	s.waiters.Remove(front)

	ready, _ := front.Value.(chan struct{})
	close(ready)
}
