// Package cleanup drives the background maintenance of the cache: a short
// health-check tick and a long full-cleanup tick. The sweep logic itself
// lives on the cache; the scheduler owns ordering, timing, and the guard
// against overlapping passes.
package cleanup

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/streamvault/streamvault/internal/cache"
	"github.com/streamvault/streamvault/internal/config"
	cacheerrors "github.com/streamvault/streamvault/pkg/errors"
	"github.com/streamvault/streamvault/pkg/types"
)

// Phase identifies where a running cleanup pass currently is.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseExpiration Phase = "expiration"
	PhaseEviction   Phase = "eviction"
	PhaseInactive   Phase = "inactive"
	PhaseDuplicates Phase = "duplicates"
	PhaseCapacity   Phase = "capacity"
	PhasePatterns   Phase = "patterns"
)

// lruEvictFraction is the share of entries the plain LRU sweep drops when
// smart caching is off and the cache is over its ceiling: the oldest quartile.
const lruEvictFraction = 0.25

// Scheduler runs the periodic maintenance of a cache.
type Scheduler struct {
	cache   *cache.Cache
	cfg     *config.Config
	metrics types.MetricsCollector
	logger  *slog.Logger

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	running atomic.Bool
	phase   atomic.Value
}

// New builds a Scheduler for the given cache. metrics may be nil.
func New(c *cache.Cache, cfg *config.Config, metrics types.MetricsCollector, logger *slog.Logger) *Scheduler {
	if metrics == nil {
		metrics = types.NopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		cache:   c,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
	}
	s.phase.Store(PhaseIdle)
	return s
}

// Start launches the ticker loop. Starting twice is an error; Start after
// Stop is allowed.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return cacheerrors.New(cacheerrors.ErrCodeAlreadyStarted, "cleanup scheduler already running").
			WithComponent("cleanup")
	}
	s.started = true
	s.stopCh = make(chan struct{})

	s.wg.Add(1)
	go s.loop(s.stopCh)

	s.logger.Info("cleanup scheduler started",
		"health_interval", s.cfg.Cleanup.HealthCheckInterval,
		"cleanup_interval", s.cfg.Cleanup.FullCleanupInterval)
	return nil
}

// Stop halts the tickers and waits for an in-flight pass to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("cleanup scheduler stopped")
}

// State reports the phase of the pass currently running, or PhaseIdle.
func (s *Scheduler) State() Phase {
	return s.phase.Load().(Phase)
}

func (s *Scheduler) loop(stopCh chan struct{}) {
	defer s.wg.Done()

	health := time.NewTicker(s.cfg.Cleanup.HealthCheckInterval)
	defer health.Stop()
	full := time.NewTicker(s.cfg.Cleanup.FullCleanupInterval)
	defer full.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-health.C:
			// The short tick recomputes status only; eviction waits for
			// the long tick.
			s.cache.RefreshStatus()
		case <-full.C:
			s.RunFullCleanup()
		}
	}
}

// RunFullCleanup executes one maintenance pass. Returns false when a pass is
// already in flight. Safe to call from outside the scheduler loop, e.g. on a
// user-initiated "clean now".
func (s *Scheduler) RunFullCleanup() bool {
	if !s.running.CompareAndSwap(false, true) {
		return false
	}
	defer s.running.Store(false)

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("cleanup pass panicked", "panic", r)
		}
		s.phase.Store(PhaseIdle)
	}()

	s.phase.Store(PhaseExpiration)
	expired := s.cache.SweepExpired(s.cfg.Cache.MaxAge)

	s.phase.Store(PhaseEviction)
	evicted := s.runEvictionPhase()

	s.phase.Store(PhaseInactive)
	inactive := s.cache.SweepInactive(s.cfg.Cleanup.InactivityWindow, s.cfg.Cleanup.MinAccessFrequency)

	s.phase.Store(PhaseDuplicates)
	duplicates := s.cache.CollapseDuplicates()

	s.phase.Store(PhaseCapacity)
	forced := s.cache.EnforceCapacity()

	s.phase.Store(PhasePatterns)
	pruned := s.cache.PruneOrphanPatterns()

	s.cache.RefreshStatus()

	elapsed := time.Since(start)
	s.metrics.RecordCleanupPass(elapsed)
	s.logger.Info("cleanup pass finished",
		"duration", elapsed,
		"expired", expired,
		"evicted", evicted,
		"inactive", inactive,
		"duplicates", duplicates,
		"forced", forced,
		"patterns_pruned", pruned)
	return true
}

// runEvictionPhase picks between priority-based and LRU eviction based on the
// smart-caching flag and current pressure.
func (s *Scheduler) runEvictionPhase() int {
	info := s.cache.Info()

	if info.SmartCaching {
		switch {
		case info.Utilization > s.cfg.Cleanup.AggressiveThreshold:
			return s.cache.EvictByPriority(s.cfg.Cleanup.AggressiveEvictFraction)
		case info.Utilization > s.cfg.Cleanup.CleanupThreshold:
			return s.cache.EvictByPriority(s.cfg.Cleanup.EvictFraction)
		}
		return 0
	}

	if info.TotalSize > info.MaxSize {
		return s.cache.EvictLRU(lruEvictFraction)
	}
	return 0
}
