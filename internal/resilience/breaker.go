// Package resilience provides a circuit breaker for executor calls.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the circuit state.
type State int

const (
	// StateClosed lets every call through.
	StateClosed State = iota

	// StateOpen rejects calls until the cooldown elapses.
	StateOpen

	// StateHalfOpen lets a single probe through.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Errors returned by the breaker.
var (
	// ErrOpen is returned while the circuit rejects calls.
	ErrOpen = errors.New("circuit breaker is open")

	// ErrProbeInFlight is returned in half-open state while the probe runs.
	ErrProbeInFlight = errors.New("circuit breaker half-open: probe in progress")
)

// Config configures a Breaker.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// circuit. Default: 5
	FailureThreshold int `json:"failure_threshold" yaml:"failure_threshold"`

	// Cooldown is how long the circuit stays open before a probe.
	// Default: 30 seconds
	Cooldown time.Duration `json:"cooldown" yaml:"cooldown"`

	// SuccessThreshold is the number of consecutive probe successes that
	// closes the circuit. Default: 1
	SuccessThreshold int `json:"success_threshold" yaml:"success_threshold"`

	// OnStateChange is called synchronously, outside the lock, after every
	// transition.
	OnStateChange func(from, to State) `json:"-" yaml:"-"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		SuccessThreshold: 1,
	}
}

// Breaker fails fast after repeated failures. It is safe for concurrent use.
type Breaker struct {
	config Config
	now    func() time.Time

	mu            sync.Mutex
	state         State
	failures      int
	successes     int
	openedAt      time.Time
	probeInFlight bool
	stats         Stats
}

// Stats contains breaker counters.
type Stats struct {
	State      State
	Calls      int64
	Failures   int64
	Successes  int64
	Rejections int64
	Trips      int64
}

// New creates a closed breaker. Non-positive config fields take defaults.
func New(config Config) *Breaker {
	def := DefaultConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = def.FailureThreshold
	}
	if config.Cooldown <= 0 {
		config.Cooldown = def.Cooldown
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = def.SuccessThreshold
	}
	return &Breaker{config: config, now: time.Now}
}

// Do runs fn if the circuit allows it. Rejected calls return ErrOpen or
// ErrProbeInFlight without running fn. A cancelled ctx is not counted as a
// failure of the protected call.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := b.acquire(); err != nil {
		return err
	}

	err := fn(ctx)
	switch {
	case err == nil:
		b.onSuccess()
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		b.release()
	default:
		b.onFailure()
	}
	return err
}

// State returns the current state, moving open to half-open once the
// cooldown has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	from, to := b.state, b.refreshLocked()
	b.mu.Unlock()
	b.notify(from, to)
	return to
}

// Stats returns a snapshot of the counters.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stats
	s.State = b.state
	return s
}

// Reset closes the circuit and clears the failure streak.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.failures = 0
	b.successes = 0
	b.probeInFlight = false
	b.mu.Unlock()
	b.notify(from, StateClosed)
}

func (b *Breaker) acquire() error {
	b.mu.Lock()
	from := b.state
	to := b.refreshLocked()

	var err error
	switch to {
	case StateOpen:
		err = ErrOpen
	case StateHalfOpen:
		if b.probeInFlight {
			err = ErrProbeInFlight
		} else {
			b.probeInFlight = true
		}
	}
	if err != nil {
		b.stats.Rejections++
	} else {
		b.stats.Calls++
	}
	b.mu.Unlock()

	b.notify(from, to)
	return err
}

// refreshLocked applies the cooldown transition. Must be called with mu held.
func (b *Breaker) refreshLocked() State {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.config.Cooldown {
		b.state = StateHalfOpen
		b.successes = 0
	}
	return b.state
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	from := b.state
	b.stats.Successes++

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.probeInFlight = false
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.state = StateClosed
			b.failures = 0
			b.successes = 0
		}
	}
	to := b.state
	b.mu.Unlock()
	b.notify(from, to)
}

func (b *Breaker) onFailure() {
	b.mu.Lock()
	from := b.state
	b.stats.Failures++

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.config.FailureThreshold {
			b.tripLocked()
		}
	case StateHalfOpen:
		b.probeInFlight = false
		b.tripLocked()
	}
	to := b.state
	b.mu.Unlock()
	b.notify(from, to)
}

// release ends a call that neither succeeded nor failed.
func (b *Breaker) release() {
	b.mu.Lock()
	if b.state == StateHalfOpen {
		b.probeInFlight = false
	}
	b.mu.Unlock()
}

func (b *Breaker) tripLocked() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.successes = 0
	b.stats.Trips++
}

func (b *Breaker) notify(from, to State) {
	if from != to && b.config.OnStateChange != nil {
		b.config.OnStateChange(from, to)
	}
}
