package resilience

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	apperrors "github.com/heraldhq/herald/internal/errors"
	"github.com/heraldhq/herald/internal/telemetry"
)

// CircuitConfig tunes the per-provider breakers.
type CircuitConfig struct {
	// FailureThreshold is the number of consecutive counted failures that
	// trips a closed breaker.
	FailureThreshold uint32
	// OpenTimeout is how long a tripped breaker stays open before allowing
	// half-open probes.
	OpenTimeout time.Duration
	// HalfOpenProbes is the number of requests allowed through while
	// half-open; that many consecutive successes close the breaker again.
	HalfOpenProbes uint32
}

// DefaultCircuitConfig returns the production breaker settings.
func DefaultCircuitConfig() CircuitConfig {
	return CircuitConfig{
		FailureThreshold: 3,
		OpenTimeout:      60 * time.Second,
		HalfOpenProbes:   2,
	}
}

// CircuitSnapshot is the externally visible state of one provider breaker,
// reported by the health endpoint.
type CircuitSnapshot struct {
	State                string    `json:"state"`
	ConsecutiveFailures  uint32    `json:"consecutive_failures"`
	ConsecutiveSuccesses uint32    `json:"consecutive_successes"`
	OpenUntil            time.Time `json:"open_until"`
	LastSuccess          time.Time `json:"last_success"`
	LastFailure          time.Time `json:"last_failure"`
}

type circuitTimes struct {
	openUntil   time.Time
	lastSuccess time.Time
	lastFailure time.Time
}

// CircuitManager hands out one breaker per provider name.
//
// Failures are only counted toward tripping when the error is retryable:
// a provider that answers with a definitive rejection (bad token, invalid
// recipient, non-429 4xx) is up, so the rejection propagates to the caller
// while the breaker records the round trip as a success.
type CircuitManager struct {
	mu       sync.Mutex
	config   CircuitConfig
	breakers map[string]*gobreaker.CircuitBreaker
	times    map[string]*circuitTimes
	logger   *telemetry.ContextualLogger
	listener func(name, from, to string)
}

// NewCircuitManager creates a manager with the given settings.
func NewCircuitManager(config CircuitConfig, logger *telemetry.ContextualLogger) *CircuitManager {
	return &CircuitManager{
		config:   config,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		times:    make(map[string]*circuitTimes),
		logger:   logger,
	}
}

// SetStateListener registers fn to receive every breaker state transition.
// Set it during startup, before the manager sees traffic; fn must not call
// back into the manager.
func (m *CircuitManager) SetStateListener(fn func(name, from, to string)) {
	m.listener = fn
}

// Execute runs fn under the breaker for the named provider. When the
// breaker is open (or half-open and saturated) fn is not invoked and a
// CIRCUIT_OPEN error is returned.
func (m *CircuitManager) Execute(name string, fn func() (interface{}, error)) (interface{}, error) {
	cb := m.breaker(name)

	result, err := cb.Execute(fn)
	m.record(name, err)

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, apperrors.New(apperrors.CodeCircuitOpen, fmt.Sprintf("circuit for provider %s is open", name))
		}
		return result, err
	}

	return result, nil
}

// Allow reports whether the named breaker would let a request through right
// now. Used by provider selection to skip providers with open circuits.
func (m *CircuitManager) Allow(name string) bool {
	return m.breaker(name).State() != gobreaker.StateOpen
}

// State returns the human-readable state of the named breaker.
func (m *CircuitManager) State(name string) string {
	return stateToString(m.breaker(name).State())
}

// Snapshot reports the state of every breaker created so far.
func (m *CircuitManager) Snapshot() map[string]CircuitSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]CircuitSnapshot, len(m.breakers))
	for name, cb := range m.breakers {
		counts := cb.Counts()
		snap := CircuitSnapshot{
			State:                stateToString(cb.State()),
			ConsecutiveFailures:  counts.ConsecutiveFailures,
			ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
		}
		if t := m.times[name]; t != nil {
			snap.OpenUntil = t.openUntil
			snap.LastSuccess = t.lastSuccess
			snap.LastFailure = t.lastFailure
		}
		out[name] = snap
	}
	return out
}

func (m *CircuitManager) breaker(name string) *gobreaker.CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cb, ok := m.breakers[name]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: m.config.HalfOpenProbes,
		Timeout:     m.config.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= m.config.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			// Definitive provider rejections do not trip the circuit.
			return err == nil || !apperrors.IsRetryable(err)
		},
		OnStateChange: m.onStateChange,
	})

	m.breakers[name] = cb
	m.times[name] = &circuitTimes{}
	return cb
}

func (m *CircuitManager) onStateChange(name string, from, to gobreaker.State) {
	m.mu.Lock()
	if t, ok := m.times[name]; ok {
		if to == gobreaker.StateOpen {
			t.openUntil = time.Now().Add(m.config.OpenTimeout)
		} else {
			t.openUntil = time.Time{}
		}
	}
	m.mu.Unlock()

	if m.logger != nil {
		m.logger.WithFields(map[string]interface{}{
			"provider": name,
			"from":     stateToString(from),
			"to":       stateToString(to),
		}).Warn("Circuit breaker state changed")
	}

	if m.listener != nil {
		m.listener(name, stateToString(from), stateToString(to))
	}
}

func (m *CircuitManager) record(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.times[name]
	if !ok {
		return
	}
	if err == nil {
		t.lastSuccess = time.Now()
	} else if !errors.Is(err, gobreaker.ErrOpenState) && !errors.Is(err, gobreaker.ErrTooManyRequests) {
		t.lastFailure = time.Now()
	}
}

// stateToString converts gobreaker.State to a human-readable string.
func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}
