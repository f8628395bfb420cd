package resilience

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// CircuitState is the state of a CircuitBreaker.
type CircuitState int

const (
	// CircuitClosed lets calls through.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects calls until the reset timeout passes.
	CircuitOpen
	// CircuitHalfOpen lets probe calls through to test recovery.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// ErrCircuitOpen is returned when a call is rejected without being attempted.
var ErrCircuitOpen = eris.New("resilience: circuit open")

// CircuitBreakerConfig controls when a breaker opens and how it recovers.
type CircuitBreakerConfig struct {
	FailureThreshold  int
	ResetTimeout      time.Duration
	HalfOpenMaxProbes int

	// ShouldTrip decides which errors count as failures. Nil counts all.
	ShouldTrip func(err error) bool

	OnStateChange func(from, to CircuitState)
}

// DefaultCircuitBreakerConfig opens after three straight failures and probes
// again after thirty seconds.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:  3,
		ResetTimeout:      30 * time.Second,
		HalfOpenMaxProbes: 1,
	}
}

// CircuitBreaker fails fast once a service has failed repeatedly.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	now func() time.Time

	mu        sync.Mutex
	state     CircuitState
	failures  int
	openedAt  time.Time
	successes int
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	d := DefaultCircuitBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = d.FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = d.ResetTimeout
	}
	if cfg.HalfOpenMaxProbes <= 0 {
		cfg.HalfOpenMaxProbes = d.HalfOpenMaxProbes
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now}
}

// Execute runs fn unless the breaker is open.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := ExecuteVal(ctx, cb, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// ExecuteVal is Execute for calls that return a value.
func ExecuteVal[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := cb.admit(); err != nil {
		return zero, err
	}
	val, err := fn(ctx)
	cb.record(err)
	return val, err
}

// State returns the current state, reporting half-open once an open
// breaker's reset timeout has elapsed.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitOpen && cb.now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return CircuitHalfOpen
	}
	return cb.state
}

// Failures returns the current run of consecutive failures.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Reset closes the breaker.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.successes = 0
	cb.moveTo(CircuitClosed)
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != CircuitOpen {
		return nil
	}
	if cb.now().Sub(cb.openedAt) < cb.cfg.ResetTimeout {
		return ErrCircuitOpen
	}
	cb.moveTo(CircuitHalfOpen)
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	failed := err != nil
	if failed && cb.cfg.ShouldTrip != nil {
		failed = cb.cfg.ShouldTrip(err)
	}

	if !failed {
		cb.failures = 0
		if cb.state == CircuitHalfOpen {
			cb.successes++
			if cb.successes >= cb.cfg.HalfOpenMaxProbes {
				cb.successes = 0
				cb.moveTo(CircuitClosed)
			}
		}
		return
	}

	cb.failures++
	if cb.state == CircuitHalfOpen || cb.failures >= cb.cfg.FailureThreshold {
		cb.successes = 0
		cb.openedAt = cb.now()
		cb.moveTo(CircuitOpen)
	}
}

// moveTo must be called with mu held.
func (cb *CircuitBreaker) moveTo(to CircuitState) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(from, to)
	}
}

// Breakers hands out one breaker per named service, all sharing a config.
type Breakers struct {
	cfg CircuitBreakerConfig

	mu   sync.Mutex
	byID map[string]*CircuitBreaker
}

// NewBreakers creates an empty registry.
func NewBreakers(cfg CircuitBreakerConfig) *Breakers {
	return &Breakers{cfg: cfg, byID: make(map[string]*CircuitBreaker)}
}

// Get returns the breaker for service, creating it on first use. State
// changes are logged with the service name.
func (b *Breakers) Get(service string) *CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cb, ok := b.byID[service]; ok {
		return cb
	}

	cfg := b.cfg
	hook := cfg.OnStateChange
	cfg.OnStateChange = func(from, to CircuitState) {
		zap.L().Info("resilience: circuit state change",
			zap.String("service", service),
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
		if hook != nil {
			hook(from, to)
		}
	}
	cb := NewCircuitBreaker(cfg)
	b.byID[service] = cb
	return cb
}

// ServiceState pairs a service name with its breaker state.
type ServiceState struct {
	Service string `json:"service"`
	State   string `json:"state"`
}

// States returns a snapshot sorted by service name.
func (b *Breakers) States() []ServiceState {
	b.mu.Lock()
	out := make([]ServiceState, 0, len(b.byID))
	for name, cb := range b.byID {
		out = append(out, ServiceState{Service: name, State: cb.State().String()})
	}
	b.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out
}
