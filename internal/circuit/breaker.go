// Package circuit implements a circuit breaker for thumbnail hosts. A CDN
// that keeps failing stops receiving requests for a cooldown period instead
// of eating a retry storm for every stream on that platform.
package circuit

import (
	"sync"
	"time"

	cacheerrors "github.com/streamvault/streamvault/pkg/errors"
)

// State of a breaker.
type State int

const (
	// StateClosed passes requests through.
	StateClosed State = iota
	// StateOpen rejects requests until the cooldown elapses.
	StateOpen
	// StateHalfOpen lets a single probe through to test recovery.
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

// Counts tracks request outcomes inside the current window.
type Counts struct {
	Requests            uint32
	Failures            uint32
	ConsecutiveFailures uint32
}

// Config tunes a breaker. The zero value gets usable defaults.
type Config struct {
	// Window is how long the closed-state failure counts accumulate before
	// resetting.
	Window time.Duration

	// Cooldown is how long an open breaker rejects before probing.
	Cooldown time.Duration

	// TripAfter is the number of consecutive failures that opens the
	// breaker.
	TripAfter uint32

	// OnStateChange is invoked outside any breaker decision, once per
	// transition.
	OnStateChange func(host string, from, to State)
}

func (c *Config) applyDefaults() {
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.TripAfter == 0 {
		c.TripAfter = 5
	}
}

// Breaker guards requests to a single thumbnail host.
type Breaker struct {
	host string
	cfg  Config

	mu     sync.Mutex
	state  State
	counts Counts
	expiry time.Time
}

// NewBreaker creates a closed breaker for host.
func NewBreaker(host string, cfg Config) *Breaker {
	cfg.applyDefaults()
	return &Breaker{
		host:   host,
		cfg:    cfg,
		state:  StateClosed,
		expiry: time.Now().Add(cfg.Window),
	}
}

// Execute runs fn if the breaker allows it and records the outcome. An open
// breaker returns a non-retryable fetch error without calling fn.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := fn()
	b.record(err)
	return err
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.stateLocked(time.Now()) {
	case StateOpen:
		return cacheerrors.New(cacheerrors.ErrCodeFetchFailed, "thumbnail host circuit open").
			WithComponent("circuit").WithDetail("host", b.host).WithRetryable(false)
	case StateHalfOpen:
		// One probe at a time.
		if b.counts.Requests > 0 {
			return cacheerrors.New(cacheerrors.ErrCodeFetchFailed, "thumbnail host probe in flight").
				WithComponent("circuit").WithDetail("host", b.host).WithRetryable(false)
		}
	}

	b.counts.Requests++
	return nil
}

func (b *Breaker) record(err error) {
	var transition func()

	b.mu.Lock()
	state := b.stateLocked(time.Now())
	if err == nil {
		b.counts.ConsecutiveFailures = 0
		if state == StateHalfOpen {
			transition = b.setStateLocked(StateClosed)
		}
	} else {
		b.counts.Failures++
		b.counts.ConsecutiveFailures++
		switch state {
		case StateClosed:
			if b.counts.ConsecutiveFailures >= b.cfg.TripAfter {
				transition = b.setStateLocked(StateOpen)
			}
		case StateHalfOpen:
			transition = b.setStateLocked(StateOpen)
		}
	}
	b.mu.Unlock()

	if transition != nil {
		transition()
	}
}

// stateLocked advances window and cooldown expiries before reporting.
func (b *Breaker) stateLocked(now time.Time) State {
	switch b.state {
	case StateClosed:
		if b.expiry.Before(now) {
			b.counts = Counts{}
			b.expiry = now.Add(b.cfg.Window)
		}
	case StateOpen:
		if b.expiry.Before(now) {
			if fire := b.setStateLocked(StateHalfOpen); fire != nil {
				go fire()
			}
		}
	}
	return b.state
}

func (b *Breaker) setStateLocked(state State) func() {
	if b.state == state {
		return nil
	}
	from := b.state
	b.state = state
	b.counts = Counts{}

	switch state {
	case StateClosed:
		b.expiry = time.Now().Add(b.cfg.Window)
	case StateOpen:
		b.expiry = time.Now().Add(b.cfg.Cooldown)
	case StateHalfOpen:
		b.expiry = time.Time{}
	}

	if b.cfg.OnStateChange == nil {
		return nil
	}
	host := b.host
	cb := b.cfg.OnStateChange
	return func() { cb(host, from, state) }
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked(time.Now())
}

// Counts returns a copy of the current window counts.
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Reset force-closes the breaker and clears its counts.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.counts = Counts{}
	b.expiry = time.Now().Add(b.cfg.Window)
}

// PerHost hands out one breaker per thumbnail host.
type PerHost struct {
	mu       sync.RWMutex
	cfg      Config
	breakers map[string]*Breaker
}

// NewPerHost creates an empty per-host breaker set sharing cfg.
func NewPerHost(cfg Config) *PerHost {
	cfg.applyDefaults()
	return &PerHost{
		cfg:      cfg,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for host, creating it on first use.
func (p *PerHost) Get(host string) *Breaker {
	p.mu.RLock()
	b, ok := p.breakers[host]
	p.mu.RUnlock()
	if ok {
		return b
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok := p.breakers[host]; ok {
		return b
	}
	b = NewBreaker(host, p.cfg)
	p.breakers[host] = b
	return b
}
