package circuit

import (
	stderr "errors"
	"testing"
	"time"

	cacheerrors "github.com/streamvault/streamvault/pkg/errors"
)

var errDown = stderr.New("host down")

func newTestBreaker(trip uint32, cooldown time.Duration) *Breaker {
	return NewBreaker("cdn.example.test", Config{
		TripAfter: trip,
		Cooldown:  cooldown,
		Window:    time.Minute,
	})
}

// TestClosedPassesThrough tests the happy path
func TestClosedPassesThrough(t *testing.T) {
	b := newTestBreaker(3, time.Minute)

	for i := 0; i < 10; i++ {
		if err := b.Execute(func() error { return nil }); err != nil {
			t.Fatalf("closed breaker rejected request: %v", err)
		}
	}
	if b.State() != StateClosed {
		t.Errorf("state = %s, want closed", b.State())
	}
}

// TestTripsAfterConsecutiveFailures tests the open transition
func TestTripsAfterConsecutiveFailures(t *testing.T) {
	b := newTestBreaker(3, time.Minute)

	for i := 0; i < 3; i++ {
		_ = b.Execute(func() error { return errDown })
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %s, want open after 3 failures", b.State())
	}

	// Open breaker rejects without calling fn
	called := false
	err := b.Execute(func() error { called = true; return nil })
	if err == nil {
		t.Fatal("open breaker should reject")
	}
	if called {
		t.Error("open breaker must not invoke the request")
	}

	var cacheErr *cacheerrors.CacheError
	if !stderr.As(err, &cacheErr) {
		t.Fatal("rejection should be a CacheError")
	}
	if cacheErr.Retryable {
		t.Error("circuit rejection must not be retryable")
	}
}

// TestSuccessResetsConsecutiveCount tests that intermittent failures don't trip
func TestSuccessResetsConsecutiveCount(t *testing.T) {
	b := newTestBreaker(3, time.Minute)

	for i := 0; i < 6; i++ {
		_ = b.Execute(func() error { return errDown })
		_ = b.Execute(func() error { return nil })
	}
	if b.State() != StateClosed {
		t.Errorf("state = %s, want closed under alternating outcomes", b.State())
	}
}

// TestHalfOpenRecovery tests probe success closing the breaker
func TestHalfOpenRecovery(t *testing.T) {
	b := newTestBreaker(1, 10*time.Millisecond)

	_ = b.Execute(func() error { return errDown })
	if b.State() != StateOpen {
		t.Fatal("breaker should be open")
	}

	time.Sleep(20 * time.Millisecond)
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %s, want half-open after cooldown", b.State())
	}

	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("probe rejected: %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("state = %s, want closed after successful probe", b.State())
	}
}

// TestHalfOpenFailureReopens tests probe failure
func TestHalfOpenFailureReopens(t *testing.T) {
	b := newTestBreaker(1, 10*time.Millisecond)

	_ = b.Execute(func() error { return errDown })
	time.Sleep(20 * time.Millisecond)

	_ = b.Execute(func() error { return errDown })
	if b.State() != StateOpen {
		t.Errorf("state = %s, want open after failed probe", b.State())
	}
}

// TestReset tests force-closing
func TestReset(t *testing.T) {
	b := newTestBreaker(1, time.Hour)
	_ = b.Execute(func() error { return errDown })

	b.Reset()
	if b.State() != StateClosed {
		t.Errorf("state = %s, want closed after reset", b.State())
	}
	if err := b.Execute(func() error { return nil }); err != nil {
		t.Errorf("reset breaker rejected request: %v", err)
	}
}

// TestPerHostIsolation tests that hosts trip independently
func TestPerHostIsolation(t *testing.T) {
	hosts := NewPerHost(Config{TripAfter: 1, Cooldown: time.Hour})

	bad := hosts.Get("bad.example.test")
	good := hosts.Get("good.example.test")
	_ = bad.Execute(func() error { return errDown })

	if bad.State() != StateOpen {
		t.Error("failing host should be open")
	}
	if good.State() != StateClosed {
		t.Error("healthy host must be unaffected")
	}
	if hosts.Get("bad.example.test") != bad {
		t.Error("Get must return the same breaker per host")
	}
}

// TestStateChangeCallback tests transition notification
func TestStateChangeCallback(t *testing.T) {
	type change struct{ from, to State }
	changes := make(chan change, 4)

	b := NewBreaker("cdn.example.test", Config{
		TripAfter: 1,
		Cooldown:  time.Hour,
		OnStateChange: func(host string, from, to State) {
			changes <- change{from, to}
		},
	})

	_ = b.Execute(func() error { return errDown })

	select {
	case got := <-changes:
		if got.from != StateClosed || got.to != StateOpen {
			t.Errorf("transition %s->%s, want closed->open", got.from, got.to)
		}
	case <-time.After(time.Second):
		t.Fatal("no state change reported")
	}
}
