// Package circuit implements the circuit breaker wrapped around cache
// loaders, shedding load from an origin that keeps failing.
package circuit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State represents the circuit breaker state
type State int

const (
	// StateClosed - requests pass through
	StateClosed State = iota
	// StateOpen - requests are rejected
	StateOpen
	// StateHalfOpen - limited requests test whether the origin recovered
	StateHalfOpen
)

// String returns string representation of state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

var (
	// ErrOpenState is returned when the breaker rejects a request outright.
	ErrOpenState = errors.New("circuit breaker is open")
	// ErrTooManyRequests is returned when the half-open probe quota is spent.
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// Config contains circuit breaker configuration
type Config struct {
	// Maximum number of requests allowed through while half-open
	MaxRequests uint32 `yaml:"max_requests"`

	// Period of the closed state after which counts reset
	Interval time.Duration `yaml:"interval"`

	// Period of the open state after which the breaker probes again
	Timeout time.Duration `yaml:"timeout"`

	// ReadyToTrip decides when accumulated failures open the breaker
	ReadyToTrip func(counts Counts) bool `yaml:"-"`

	// OnStateChange is called when the state transitions
	OnStateChange func(name string, from State, to State) `yaml:"-"`

	// IsSuccessful decides whether an error counts as a failure
	IsSuccessful func(err error) bool `yaml:"-"`
}

// Counts holds the numbers of requests and their successes/failures
type Counts struct {
	Requests             uint32 `json:"requests"`
	TotalSuccesses       uint32 `json:"total_successes"`
	TotalFailures        uint32 `json:"total_failures"`
	ConsecutiveSuccesses uint32 `json:"consecutive_successes"`
	ConsecutiveFailures  uint32 `json:"consecutive_failures"`
}

// Breaker implements the circuit breaker pattern. The zero value is not
// usable; create instances with NewBreaker.
type Breaker struct {
	name   string
	config Config

	mu       sync.Mutex
	state    State
	counts   Counts
	deadline time.Time
}

// NewBreaker creates a new circuit breaker instance
func NewBreaker(name string, config Config) *Breaker {
	if config.MaxRequests == 0 {
		config.MaxRequests = 1
	}
	if config.Interval <= 0 {
		config.Interval = 60 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.ReadyToTrip == nil {
		config.ReadyToTrip = func(counts Counts) bool {
			return counts.ConsecutiveFailures >= 5
		}
	}
	if config.IsSuccessful == nil {
		config.IsSuccessful = func(err error) bool { return err == nil }
	}

	return &Breaker{
		name:     name,
		config:   config,
		state:    StateClosed,
		deadline: time.Now().Add(config.Interval),
	}
}

// Execute runs the given function if the circuit breaker allows it
func (b *Breaker) Execute(fn func() error) error {
	if err := b.allow(); err != nil {
		return err
	}

	err := fn()
	b.record(err)
	return err
}

// ExecuteWithContext runs the given function with context if allowed
func (b *Breaker) ExecuteWithContext(ctx context.Context, fn func(context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}

	err := fn(ctx)
	b.record(err)
	return err
}

// State returns the current state
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh(time.Now())
	return b.state
}

// Counts returns a snapshot of the request counters
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// allow admits or rejects a request based on the refreshed state.
func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refresh(time.Now())

	switch b.state {
	case StateOpen:
		return ErrOpenState
	case StateHalfOpen:
		if b.counts.Requests >= b.config.MaxRequests {
			return ErrTooManyRequests
		}
	}

	b.counts.Requests++
	return nil
}

// record feeds one outcome back into the counters and transitions state.
func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.refresh(now)

	if b.config.IsSuccessful(err) {
		b.counts.TotalSuccesses++
		b.counts.ConsecutiveSuccesses++
		b.counts.ConsecutiveFailures = 0
		if b.state == StateHalfOpen {
			b.moveTo(StateClosed, now)
		}
		return
	}

	b.counts.TotalFailures++
	b.counts.ConsecutiveFailures++
	b.counts.ConsecutiveSuccesses = 0

	switch b.state {
	case StateClosed:
		if b.config.ReadyToTrip(b.counts) {
			b.moveTo(StateOpen, now)
		}
	case StateHalfOpen:
		b.moveTo(StateOpen, now)
	}
}

// refresh applies deadline-driven transitions: closed counts reset each
// interval, an expired open state becomes half-open.
func (b *Breaker) refresh(now time.Time) {
	switch b.state {
	case StateClosed:
		if !b.deadline.IsZero() && now.After(b.deadline) {
			b.counts = Counts{}
			b.deadline = now.Add(b.config.Interval)
		}
	case StateOpen:
		if now.After(b.deadline) {
			b.moveTo(StateHalfOpen, now)
		}
	}
}

func (b *Breaker) moveTo(state State, now time.Time) {
	if b.state == state {
		return
	}

	prev := b.state
	b.state = state
	b.counts = Counts{}

	switch state {
	case StateOpen:
		b.deadline = now.Add(b.config.Timeout)
	case StateClosed:
		b.deadline = now.Add(b.config.Interval)
	default:
		b.deadline = time.Time{}
	}

	if b.config.OnStateChange != nil {
		b.config.OnStateChange(b.name, prev, state)
	}
}
