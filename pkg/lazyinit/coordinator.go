// Package lazyinit guards expensive, fallible startup work behind an
// idempotent, retryable ensure-ready protocol.
//
// Invariants:
// - At most one initialization run is in flight at any time.
// - Every waiter of a run observes that run's outcome.
// - A failed run resets the coordinator so the next caller retries.
// - The internal mutex is never held across a wait.
package lazyinit

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// State describes the coordinator's lifecycle position.
type State int

const (
	// StateNotStarted means no run has started, or the last run failed.
	StateNotStarted State = iota
	// StateInProgress means a run is in flight; callers join it.
	StateInProgress
	// StateReady means a run completed successfully.
	StateReady
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateInProgress:
		return "in_progress"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// run is the handle shared by the initiator and every joiner of one attempt.
// err must be written before done is closed.
type run struct {
	done chan struct{}
	err  error
}

// Coordinator serializes initialization of an on-demand component.
// The zero value is not usable; construct with New.
type Coordinator struct {
	name   string
	logger zerolog.Logger

	// mu guards state, current and attempt only. It is released before
	// any wait on a run handle; a joiner blocked on done never holds it.
	mu      sync.Mutex
	state   State
	current *run
	attempt int
	lastErr error
}

// New creates a coordinator for the named component.
func New(name string, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		name:   name,
		logger: logger.With().Str("component", name).Logger(),
	}
}

// EnsureReady runs init at most once concurrently. Concurrent callers join
// the in-flight run and all observe its outcome. If the prior run failed,
// the next caller starts a fresh one. Returns nil once ready.
//
// ctx cancels only this caller's wait; an in-flight run keeps the context
// it was started with.
func (c *Coordinator) EnsureReady(ctx context.Context, init func(ctx context.Context) error) error {
	c.mu.Lock()
	switch c.state {
	case StateReady:
		c.mu.Unlock()
		return nil

	case StateInProgress:
		r := c.current
		c.mu.Unlock()
		select {
		case <-r.done:
			return r.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// NotStarted: this caller becomes the initiator.
	r := &run{done: make(chan struct{})}
	c.state = StateInProgress
	c.current = r
	c.attempt++
	attempt := c.attempt
	c.mu.Unlock()

	err := init(ctx)
	if err != nil {
		err = fmt.Errorf("initialize %s (attempt %d): %w", c.name, attempt, err)
	}

	c.mu.Lock()
	c.current = nil
	c.lastErr = err
	if err != nil {
		// Failed resets to NotStarted so the next caller retries.
		c.state = StateNotStarted
	} else {
		c.state = StateReady
	}
	c.mu.Unlock()

	// One log line per attempt, regardless of how many callers joined.
	if err != nil {
		c.logger.Error().Err(err).Int("attempt", attempt).Msg("Initialization failed")
	} else {
		c.logger.Info().Int("attempt", attempt).Msg("Initialization completed")
	}

	r.err = err
	close(r.done)
	return err
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError returns the outcome of the most recent completed run.
func (c *Coordinator) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Attempts returns how many runs have been started.
func (c *Coordinator) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}
