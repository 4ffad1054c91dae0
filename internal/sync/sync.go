// Package sync implements the delta synchronizer: a cursor-driven pull loop
// that materializes library membership and per-user watch history from the
// media server and derives per-user-per-show viewing velocity.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	stdsync "sync"
	"time"

	"golang.org/x/time/rate"

	"velarr/internal/clock"
	"velarr/internal/media"
	"velarr/internal/requestintake"
	"velarr/internal/store"
)

const (
	DefaultInterval = time.Minute

	// retrogradeWindow absorbs clock skew and out-of-order delivery; events
	// older than cursor minus this window may be missed (accepted bound).
	retrogradeWindow = 60 * time.Second

	// removalQuietInterval spaces out full fetches used for removal
	// detection, so transient disappearances don't register as deletions.
	removalQuietInterval = 5 * time.Minute

	repairInterval = 5 * time.Minute

	firstRunHistoryWindow = 7 * 24 * time.Hour
	historyFetchLimit     = 1000

	maxConsecutiveErrors = 5
	errorBackoff         = 30 * time.Second

	// paceInterval spaces remote calls so a sync tick cannot overload the
	// media server.
	paceInterval = 100 * time.Millisecond
)

// ErrSyncRunning is returned when a tick fires while the previous one is
// still in flight.
var ErrSyncRunning = errors.New("sync already running")

// Result summarizes one completed sync tick.
type Result struct {
	Timestamp         time.Time
	ItemsAdded        int
	ItemsUpdated      int
	ItemsRemoved      int
	EventsIngested    int
	VelocitiesUpdated int
	WatchlistSynced   int
	UsersSeen         int
	RepairedRecords   int
	Err               string
}

type Syncer struct {
	store   *store.Store
	media   media.Server
	intake  *requestintake.Client
	clock   clock.Clock
	limiter *rate.Limiter

	interval time.Duration

	startOnce stdsync.Once
	cancel    context.CancelFunc
	done      chan struct{}
	trigger   chan struct{}

	mu                stdsync.Mutex
	running           bool
	forceFull         bool
	consecutiveErrors int
	backoffUntil      time.Time
	lastRemovalSweep  time.Time
	lastRepair        time.Time
	lastResult        Result
}

type Option func(*Syncer)

func WithInterval(d time.Duration) Option {
	return func(s *Syncer) { s.interval = d }
}

func WithIntake(c *requestintake.Client) Option {
	return func(s *Syncer) { s.intake = c }
}

func WithClock(c clock.Clock) Option {
	return func(s *Syncer) { s.clock = c }
}

func New(st *store.Store, ms media.Server, opts ...Option) *Syncer {
	s := &Syncer{
		store:    st,
		media:    ms,
		clock:    clock.System{},
		limiter:  rate.NewLimiter(rate.Every(paceInterval), 1),
		interval: DefaultInterval,
		done:     make(chan struct{}),
		trigger:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the tick loop. The synchronizer serializes against itself
// but never against the analyzer's isRunning lock.
func (s *Syncer) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		ctx, s.cancel = context.WithCancel(ctx)
		go s.run(ctx)
	})
}

func (s *Syncer) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

// TriggerSync requests an immediate tick without waiting for the interval.
func (s *Syncer) TriggerSync() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// ForceFullSync makes the next tick perform a full library fetch (with
// removal detection) regardless of cursors.
func (s *Syncer) ForceFullSync() {
	s.mu.Lock()
	s.forceFull = true
	s.mu.Unlock()
	s.TriggerSync()
}

// LastResult returns the most recent tick summary.
func (s *Syncer) LastResult() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastResult
}

// ConsecutiveErrors reports the current error streak.
func (s *Syncer) ConsecutiveErrors() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consecutiveErrors
}

func (s *Syncer) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, ErrSyncRunning) {
		log.Printf("sync: initial tick: %v", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.trigger:
		}
		if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, ErrSyncRunning) {
			log.Printf("sync: tick: %v", err)
		}
	}
}

// RunOnce performs one tick: library, watch history, and user-import
// sub-passes in order, then a periodic lifecycle-repair sub-pass.
func (s *Syncer) RunOnce(ctx context.Context) (Result, error) {
	now := s.clock.Now()

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return Result{}, ErrSyncRunning
	}
	if now.Before(s.backoffUntil) {
		s.mu.Unlock()
		log.Printf("sync: backing off until %s after %d consecutive errors", s.backoffUntil.Format(time.RFC3339), maxConsecutiveErrors)
		return Result{}, nil
	}
	s.running = true
	full := s.forceFull
	s.forceFull = false
	s.mu.Unlock()

	res := Result{Timestamp: now}
	err := s.tick(ctx, now, full, &res)

	s.mu.Lock()
	s.running = false
	if err != nil {
		res.Err = err.Error()
		s.consecutiveErrors++
		if s.consecutiveErrors >= maxConsecutiveErrors {
			s.backoffUntil = s.clock.Now().Add(errorBackoff)
			log.Printf("sync: %d consecutive errors, backing off %s", s.consecutiveErrors, errorBackoff)
		}
	} else {
		s.consecutiveErrors = 0
		s.backoffUntil = time.Time{}
	}
	s.lastResult = res
	s.mu.Unlock()

	return res, err
}

func (s *Syncer) tick(ctx context.Context, now time.Time, forceFull bool, res *Result) error {
	if err := s.syncLibrary(ctx, now, forceFull, res); err != nil {
		return fmt.Errorf("library sub-pass: %w", err)
	}
	if err := s.syncWatchHistory(ctx, now, res); err != nil {
		return fmt.Errorf("watch-history sub-pass: %w", err)
	}
	if err := s.syncUsers(ctx, now, res); err != nil {
		return fmt.Errorf("user-import sub-pass: %w", err)
	}

	s.mu.Lock()
	due := now.Sub(s.lastRepair) >= repairInterval
	s.mu.Unlock()
	if due {
		if err := s.repairLifecycle(ctx, now, res); err != nil {
			return fmt.Errorf("lifecycle-repair sub-pass: %w", err)
		}
		s.mu.Lock()
		s.lastRepair = now
		s.mu.Unlock()
	}
	return nil
}

func (s *Syncer) pace(ctx context.Context) error {
	return s.limiter.Wait(ctx)
}
