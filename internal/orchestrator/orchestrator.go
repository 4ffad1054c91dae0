// Package orchestrator owns the job table: it schedules the analyzer, the
// redownload passes, the movie cleanup, the delta sync, and the maintenance
// jobs on independent cadences, serializing every mutating pass behind a
// single isRunning lock.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	stdsync "sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"velarr/internal/cascade"
	"velarr/internal/clock"
	"velarr/internal/lifecycle"
	"velarr/internal/models"
	"velarr/internal/store"
	"velarr/internal/sync"
)

// Job names, used as keys for last-result records and RunRule ids.
const (
	JobAnalyzer          = "analyzer"
	JobQueueProcessor    = "queue-processor"
	JobLogCleanup        = "log-cleanup"
	JobVelocityMonitor   = "velocity-monitor"
	JobRedownload        = "redownload"
	JobWatchlistPriority = "watchlist-priority"
	JobDeltaSync         = "delta-sync"
	JobVelocityCleanup   = "velocity-cleanup"
)

// watchEventRetention bounds the raw watch-event log; velocity state derived
// from pruned events survives in user_velocity.
const watchEventRetention = 90 * 24 * time.Hour

// Config fixes each job's cadence at startup. The velocity-monitor cadence
// is overridden by the settings table's velocityCheckInterval when set, and
// each job group has a Refresh operation that restarts it with new
// schedules; analyzer knobs in the settings table need no restart at all.
type Config struct {
	Timezone string

	AnalyzerCron        string
	QueueProcessorCron  string
	LogCleanupCron      string
	VelocityCleanupCron string

	VelocityMonitorEvery   time.Duration
	RedownloadEvery        time.Duration
	WatchlistPriorityEvery time.Duration
	SyncEvery              time.Duration
}

func DefaultConfig() Config {
	return Config{
		AnalyzerCron:           "0 2 * * *",
		QueueProcessorCron:     "0 * * * *",
		LogCleanupCron:         "0 3 * * *",
		VelocityCleanupCron:    "0 3 * * *",
		VelocityMonitorEvery:   120 * time.Minute,
		RedownloadEvery:        360 * time.Minute,
		WatchlistPriorityEvery: time.Minute,
		SyncEvery:              time.Minute,
	}
}

// JobResult is one job's last-run record.
type JobResult struct {
	Job       string
	RunID     string
	Timestamp time.Time
	Duration  time.Duration
	Counters  map[string]int
	Skipped   bool
	Err       string
}

// Status is the queryable view over the orchestrator's state.
type Status struct {
	IsRunning             bool
	SyncConsecutiveErrors int
	Jobs                  []JobResult
}

type Orchestrator struct {
	store    *store.Store
	syncer   *sync.Syncer
	analyzer *lifecycle.Service
	deleter  *cascade.Deleter
	clock    clock.Clock
	cfg      Config

	scheduler gocron.Scheduler
	appCtx    context.Context

	mu        stdsync.Mutex
	isRunning bool
	results   map[string]JobResult
	jobs      map[string]gocron.Job
}

type Option func(*Orchestrator)

func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

func New(st *store.Store, syncer *sync.Syncer, analyzer *lifecycle.Service, deleter *cascade.Deleter, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:    st,
		syncer:   syncer,
		analyzer: analyzer,
		deleter:  deleter,
		clock:    clock.System{},
		cfg:      cfg,
		results:  make(map[string]JobResult),
		jobs:     make(map[string]gocron.Job),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start registers the job table and begins ticking. A job with an invalid
// cron expression is logged and skipped; the rest of the table still runs.
func (o *Orchestrator) Start(ctx context.Context) error {
	loc := time.Local
	if o.cfg.Timezone != "" {
		parsed, err := time.LoadLocation(o.cfg.Timezone)
		if err != nil {
			return fmt.Errorf("loading timezone %q: %w", o.cfg.Timezone, err)
		}
		loc = parsed
	}

	scheduler, err := gocron.NewScheduler(gocron.WithLocation(loc))
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}
	o.scheduler = scheduler
	o.appCtx = ctx

	o.applyVelocitySettings()
	o.registerAnalyzerJobs()
	o.registerVelocityJobs()
	o.registerRedownloadJobs()
	o.registerSyncJob()

	o.scheduler.Start()
	log.Println("orchestrator: job table started")
	return nil
}

func (o *Orchestrator) Stop() {
	if o.scheduler != nil {
		if err := o.scheduler.Shutdown(); err != nil {
			log.Printf("orchestrator: scheduler shutdown: %v", err)
		}
	}
}

// applyVelocitySettings reads the velocity-monitor cadence from the settings
// table; the Config value is only the fallback when the table has no
// override.
func (o *Orchestrator) applyVelocitySettings() {
	settings, err := o.store.GetAnalyzerSettings()
	if err != nil {
		log.Printf("orchestrator: reading analyzer settings: %v (keeping configured cadences)", err)
		return
	}
	if settings.VelocityCheckInterval > 0 {
		o.mu.Lock()
		o.cfg.VelocityMonitorEvery = settings.VelocityCheckInterval
		o.mu.Unlock()
	}
}

// Job groups. Each register function replaces the group's existing jobs, so
// the Refresh operations below can restart a group with new cadences while
// the rest of the table keeps running.

func (o *Orchestrator) registerAnalyzerJobs() error {
	return errors.Join(
		o.registerCron(JobAnalyzer, o.cfg.AnalyzerCron, func() { o.RunNow(o.appCtx, false) }),
		o.registerCron(JobQueueProcessor, o.cfg.QueueProcessorCron, func() { o.runQueueProcessor(o.appCtx) }),
		o.registerCron(JobLogCleanup, o.cfg.LogCleanupCron, func() { o.runLogCleanup(o.appCtx) }),
	)
}

func (o *Orchestrator) registerVelocityJobs() error {
	return errors.Join(
		o.registerInterval(JobVelocityMonitor, o.cfg.VelocityMonitorEvery, func() { o.runVelocityMonitor(o.appCtx) }),
		o.registerCron(JobVelocityCleanup, o.cfg.VelocityCleanupCron, func() { o.RunVelocityCleanupNow(o.appCtx, false) }),
	)
}

func (o *Orchestrator) registerRedownloadJobs() error {
	return errors.Join(
		o.registerInterval(JobRedownload, o.cfg.RedownloadEvery, func() { o.runRedownloadPass(o.appCtx) }),
		o.registerInterval(JobWatchlistPriority, o.cfg.WatchlistPriorityEvery, func() { o.runWatchlistPriority(o.appCtx) }),
	)
}

func (o *Orchestrator) registerSyncJob() error {
	return o.registerInterval(JobDeltaSync, o.cfg.SyncEvery, func() { o.runDeltaSync(o.appCtx) })
}

// RefreshVelocityJobs re-reads velocityCheckInterval from the settings table
// and restarts the velocity job group with the new cadence.
func (o *Orchestrator) RefreshVelocityJobs() error {
	if o.scheduler == nil {
		return fmt.Errorf("orchestrator not started")
	}
	o.applyVelocitySettings()
	return o.registerVelocityJobs()
}

// RefreshAnalyzerJobs restarts the analyzer job group. Empty expressions
// keep the current schedule; an invalid expression leaves that job
// unregistered and the rest of the group running.
func (o *Orchestrator) RefreshAnalyzerJobs(analyzerCron, queueCron, logCleanupCron string) error {
	if o.scheduler == nil {
		return fmt.Errorf("orchestrator not started")
	}
	o.mu.Lock()
	if analyzerCron != "" {
		o.cfg.AnalyzerCron = analyzerCron
	}
	if queueCron != "" {
		o.cfg.QueueProcessorCron = queueCron
	}
	if logCleanupCron != "" {
		o.cfg.LogCleanupCron = logCleanupCron
	}
	o.mu.Unlock()
	return o.registerAnalyzerJobs()
}

// RefreshRedownloadJobs restarts the redownload job group. Non-positive
// durations keep the current cadence.
func (o *Orchestrator) RefreshRedownloadJobs(redownloadEvery, watchlistEvery time.Duration) error {
	if o.scheduler == nil {
		return fmt.Errorf("orchestrator not started")
	}
	o.mu.Lock()
	if redownloadEvery > 0 {
		o.cfg.RedownloadEvery = redownloadEvery
	}
	if watchlistEvery > 0 {
		o.cfg.WatchlistPriorityEvery = watchlistEvery
	}
	o.mu.Unlock()
	return o.registerRedownloadJobs()
}

// RefreshSyncJob restarts the delta-sync job with a new cadence.
func (o *Orchestrator) RefreshSyncJob(every time.Duration) error {
	if o.scheduler == nil {
		return fmt.Errorf("orchestrator not started")
	}
	o.mu.Lock()
	if every > 0 {
		o.cfg.SyncEvery = every
	}
	o.mu.Unlock()
	return o.registerSyncJob()
}

func (o *Orchestrator) removeJob(name string) {
	o.mu.Lock()
	job, ok := o.jobs[name]
	delete(o.jobs, name)
	o.mu.Unlock()
	if !ok {
		return
	}
	if err := o.scheduler.RemoveJob(job.ID()); err != nil {
		log.Printf("orchestrator: removing job %s: %v", name, err)
	}
}

func (o *Orchestrator) registerCron(name, expr string, task func()) error {
	o.removeJob(name)
	job, err := o.scheduler.NewJob(
		gocron.CronJob(expr, false),
		gocron.NewTask(task),
		gocron.WithName(name),
	)
	if err != nil {
		log.Printf("orchestrator: job %s not registered (cron %q): %v", name, expr, err)
		return err
	}
	o.mu.Lock()
	o.jobs[name] = job
	o.mu.Unlock()
	return nil
}

func (o *Orchestrator) registerInterval(name string, every time.Duration, task func()) error {
	o.removeJob(name)
	if every <= 0 {
		log.Printf("orchestrator: job %s disabled (non-positive interval)", name)
		return nil
	}
	job, err := o.scheduler.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(task),
		gocron.WithName(name),
	)
	if err != nil {
		log.Printf("orchestrator: job %s not registered: %v", name, err)
		return err
	}
	o.mu.Lock()
	o.jobs[name] = job
	o.mu.Unlock()
	return nil
}

// tryLock acquires the shared mutating-pass lock. A held lock means the
// caller logs and skips; it never blocks.
func (o *Orchestrator) tryLock(job string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.isRunning {
		log.Printf("orchestrator: %s skipped, another pass is running", job)
		return false
	}
	o.isRunning = true
	return true
}

func (o *Orchestrator) unlock() {
	o.mu.Lock()
	o.isRunning = false
	o.mu.Unlock()
}

// ResetLock force-clears the mutating-pass lock. Operational escape hatch
// for a pass that died without releasing.
func (o *Orchestrator) ResetLock() {
	o.mu.Lock()
	was := o.isRunning
	o.isRunning = false
	o.mu.Unlock()
	if was {
		log.Println("orchestrator: isRunning lock force-cleared")
	}
}

func (o *Orchestrator) recordResult(job string, start time.Time, counters map[string]int, skipped bool, err error) {
	result := JobResult{
		Job:       job,
		RunID:     uuid.NewString(),
		Timestamp: start,
		Duration:  o.clock.Now().Sub(start),
		Counters:  counters,
		Skipped:   skipped,
	}
	if err != nil {
		result.Err = err.Error()
	}
	o.mu.Lock()
	o.results[job] = result
	o.mu.Unlock()
}

// runGuarded wraps a mutating pass: lock, guaranteed release, error capture,
// last-result record. Errors never propagate to the scheduler.
func (o *Orchestrator) runGuarded(job string, fn func() (map[string]int, error)) {
	start := o.clock.Now()
	if !o.tryLock(job) {
		o.recordResult(job, start, nil, true, nil)
		return
	}
	defer o.unlock()

	counters, err := fn()
	if err != nil {
		log.Printf("orchestrator: %s: %v", job, err)
	}
	o.recordResult(job, start, counters, false, err)
}

// GetStatus returns every job's last-result record plus the lock flags.
func (o *Orchestrator) GetStatus() Status {
	o.mu.Lock()
	jobs := make([]JobResult, 0, len(o.results))
	for _, r := range o.results {
		jobs = append(jobs, r)
	}
	running := o.isRunning
	o.mu.Unlock()

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Job < jobs[j].Job })
	return Status{
		IsRunning:             running,
		SyncConsecutiveErrors: o.syncer.ConsecutiveErrors(),
		Jobs:                  jobs,
	}
}

// RunNow runs the main analyzer pass: per-episode verdicts, deletions via
// the cascade, then the movie cleanup.
func (o *Orchestrator) RunNow(ctx context.Context, dryRun bool) {
	o.runGuarded(JobAnalyzer, func() (map[string]int, error) {
		summary, deletable, err := o.analyzer.Run(ctx, dryRun)
		if err != nil {
			return nil, err
		}
		counters := map[string]int{
			"shows":    summary.ShowsAnalyzed,
			"episodes": summary.EpisodesAnalyzed,
			"safe":     summary.SafeToDelete,
		}

		if !dryRun {
			deleted, err := o.deleteEpisodes(ctx, deletable)
			counters["deleted"] = deleted
			if err != nil {
				return counters, err
			}
		}

		movies, err := o.analyzer.MovieCleanup(ctx)
		if err != nil {
			return counters, err
		}
		counters["movies"] = len(movies)
		if !dryRun {
			for _, candidate := range movies {
				results := o.deleter.DeleteMovie(ctx, candidate.Movie, candidate.TMDBID)
				for _, r := range results {
					if r.Error != "" {
						log.Printf("orchestrator: movie cascade %s for %q: %s", r.Service, candidate.Movie.Title, r.Error)
					}
				}
				log.Printf("orchestrator: movie %q deleted (%s)", candidate.Movie.Title, candidate.Reason)
			}
		}

		log.Printf("orchestrator: analyzer pass done: %s shows, %s episodes, %s safe (dryRun=%v)",
			humanize.Comma(int64(summary.ShowsAnalyzed)),
			humanize.Comma(int64(summary.EpisodesAnalyzed)),
			humanize.Comma(int64(summary.SafeToDelete)), dryRun)
		return counters, nil
	})
}

// deleteEpisodes executes safe-to-delete verdicts through the cascade and
// stamps the audit rows. Per-show, it also resets downloader monitoring so
// trimmed seasons stay trimmed.
func (o *Orchestrator) deleteEpisodes(ctx context.Context, verdicts []lifecycle.EpisodeVerdict) (int, error) {
	byShow := make(map[string][]lifecycle.EpisodeVerdict)
	for _, v := range verdicts {
		byShow[v.ShowRatingKey] = append(byShow[v.ShowRatingKey], v)
	}

	deleted := 0
	for showKey, showVerdicts := range byShow {
		show, err := o.store.GetLibraryItem(showKey)
		if err != nil {
			log.Printf("orchestrator: show %s not in cache, skipping %d deletions: %v", showKey, len(showVerdicts), err)
			continue
		}

		minDeletedSeason := 0
		for _, v := range showVerdicts {
			episode, err := o.findEpisode(showKey, v.SeasonNumber, v.EpisodeNumber)
			if err != nil {
				log.Printf("orchestrator: episode %s S%dE%d not in cache: %v", showKey, v.SeasonNumber, v.EpisodeNumber, err)
				continue
			}

			results := o.deleter.DeleteEpisode(ctx, show, episode)
			ok := true
			for _, r := range results {
				if r.Service == "mediaserver" && !r.Success {
					ok = false
				}
			}
			if !ok {
				continue
			}

			if err := o.analyzer.MarkDeleted(showKey, v.SeasonNumber, v.EpisodeNumber, true); err != nil {
				return deleted, err
			}
			deleted++
			if minDeletedSeason == 0 || v.SeasonNumber < minDeletedSeason {
				minDeletedSeason = v.SeasonNumber
			}
		}

		if minDeletedSeason > 1 {
			tmdbID := show.External.TMDB
			o.deleter.ClearShowReferences(ctx, show, tmdbID, minDeletedSeason-1)
		}
	}
	return deleted, nil
}

func (o *Orchestrator) findEpisode(showKey string, season, episode int) (models.LibraryItem, error) {
	episodes, err := o.store.ListEpisodesForShow(showKey)
	if err != nil {
		return models.LibraryItem{}, err
	}
	for _, ep := range episodes {
		if ep.SeasonNumber == season && ep.EpisodeNumber == episode {
			return ep, nil
		}
	}
	return models.LibraryItem{}, models.ErrNotFound
}

// RunRule analyzes a single show on demand; outside dry runs its verdicts
// are persisted and executed like a full pass.
func (o *Orchestrator) RunRule(ctx context.Context, showRatingKey string, dryRun bool) ([]lifecycle.EpisodeVerdict, error) {
	if !o.tryLock(JobAnalyzer) {
		return nil, fmt.Errorf("another pass is running")
	}
	defer o.unlock()

	verdicts, err := o.analyzer.RunOne(showRatingKey, dryRun)
	if err != nil {
		return nil, err
	}
	if !dryRun {
		var deletable []lifecycle.EpisodeVerdict
		for _, v := range verdicts {
			if v.SafeToDelete {
				deletable = append(deletable, v)
			}
		}
		if _, err := o.deleteEpisodes(ctx, deletable); err != nil {
			return verdicts, err
		}
	}
	return verdicts, nil
}

// PreviewRule reports what a pass would decide for one show, with no writes.
func (o *Orchestrator) PreviewRule(showRatingKey string) ([]lifecycle.EpisodeVerdict, error) {
	return o.analyzer.AnalyzeOne(showRatingKey)
}

// ForceFullSync makes the next sync tick a full fetch and triggers it.
func (o *Orchestrator) ForceFullSync() {
	o.syncer.ForceFullSync()
}

// RunVelocityCleanupNow runs the velocity cleanup pass immediately.
func (o *Orchestrator) RunVelocityCleanupNow(ctx context.Context, dryRun bool) {
	o.runGuarded(JobVelocityCleanup, func() (map[string]int, error) {
		summary, err := o.analyzer.VelocityCleanup(ctx, dryRun)
		if err != nil {
			return nil, err
		}
		return map[string]int{"examined": summary.Examined, "stale": summary.Stale}, nil
	})
}

// GetVelocityCleanupStatus returns the cleanup job's last-result record.
func (o *Orchestrator) GetVelocityCleanupStatus() (JobResult, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.results[JobVelocityCleanup]
	return r, ok
}

// runDeltaSync ticks the synchronizer. The syncer serializes against itself
// with its own flag; it deliberately does not take the orchestrator lock.
func (o *Orchestrator) runDeltaSync(ctx context.Context) {
	start := o.clock.Now()
	res, err := o.syncer.RunOnce(ctx)
	if err != nil {
		if errors.Is(err, sync.ErrSyncRunning) {
			o.recordResult(JobDeltaSync, start, nil, true, nil)
			return
		}
		o.recordResult(JobDeltaSync, start, nil, false, err)
		return
	}
	o.recordResult(JobDeltaSync, start, map[string]int{
		"added":      res.ItemsAdded,
		"updated":    res.ItemsUpdated,
		"removed":    res.ItemsRemoved,
		"events":     res.EventsIngested,
		"velocities": res.VelocitiesUpdated,
	}, false, nil)
}

// runLogCleanup prunes aged raw watch events.
func (o *Orchestrator) runLogCleanup(ctx context.Context) {
	o.runGuarded(JobLogCleanup, func() (map[string]int, error) {
		_ = ctx
		cutoff := o.clock.Now().Add(-watchEventRetention)
		pruned, err := o.store.PruneWatchEventsBefore(cutoff)
		if err != nil {
			return nil, err
		}
		if pruned > 0 {
			log.Printf("orchestrator: pruned %s watch events older than %s", humanize.Comma(pruned), cutoff.Format("2006-01-02"))
		}
		return map[string]int{"pruned": int(pruned)}, nil
	})
}

// runVelocityMonitor detects pace changes and queues redownloads for shows
// whose viewers sped up.
func (o *Orchestrator) runVelocityMonitor(ctx context.Context) {
	start := o.clock.Now()
	changes, err := o.analyzer.MonitorVelocities(ctx)
	if err != nil {
		o.recordResult(JobVelocityMonitor, start, nil, false, err)
		log.Printf("orchestrator: velocity monitor: %v", err)
		return
	}

	queued := 0
	if len(changes) > 0 {
		shows := make(map[string]bool, len(changes))
		for _, c := range changes {
			shows[c.ShowKey] = true
		}
		orders, err := o.analyzer.PlanShowRedownloads(ctx, false)
		if err != nil {
			o.recordResult(JobVelocityMonitor, start, map[string]int{"changes": len(changes)}, false, err)
			return
		}
		var relevant []lifecycle.RedownloadOrder
		for _, ord := range orders {
			if shows[ord.ShowRatingKey] {
				relevant = append(relevant, ord)
			}
		}
		queued = o.executeOrders(ctx, relevant)
	}
	o.recordResult(JobVelocityMonitor, start, map[string]int{"changes": len(changes), "queued": queued}, false, nil)
}

// runRedownloadPass runs the emergency pass, then the proactive one.
func (o *Orchestrator) runRedownloadPass(ctx context.Context) {
	start := o.clock.Now()
	counters := map[string]int{}

	emergencyOrders, err := o.analyzer.PlanShowRedownloads(ctx, true)
	if err != nil {
		o.recordResult(JobRedownload, start, counters, false, err)
		log.Printf("orchestrator: redownload pass: %v", err)
		return
	}
	counters["emergency"] = o.executeOrders(ctx, emergencyOrders)

	handled := make(map[string]bool, len(emergencyOrders))
	for _, ord := range emergencyOrders {
		handled[ord.ShowRatingKey+":"+strconv.Itoa(ord.Position)] = true
	}

	proactive, err := o.analyzer.PlanShowRedownloads(ctx, false)
	if err != nil {
		o.recordResult(JobRedownload, start, counters, false, err)
		log.Printf("orchestrator: redownload pass: %v", err)
		return
	}
	var remaining []lifecycle.RedownloadOrder
	for _, ord := range proactive {
		if !handled[ord.ShowRatingKey+":"+strconv.Itoa(ord.Position)] {
			remaining = append(remaining, ord)
		}
	}
	counters["proactive"] = o.executeOrders(ctx, remaining)
	o.recordResult(JobRedownload, start, counters, false, nil)
}

// runQueueProcessor drains emergency orders between full redownload passes,
// so a viewer sprinting toward a missing episode is caught within the hour.
func (o *Orchestrator) runQueueProcessor(ctx context.Context) {
	o.runGuarded(JobQueueProcessor, func() (map[string]int, error) {
		orders, err := o.analyzer.PlanShowRedownloads(ctx, true)
		if err != nil {
			return nil, err
		}
		return map[string]int{"emergency": o.executeOrders(ctx, orders)}, nil
	})
}

// runWatchlistPriority fast-tracks absent episodes of watchlisted shows.
func (o *Orchestrator) runWatchlistPriority(ctx context.Context) {
	start := o.clock.Now()
	orders, err := o.analyzer.PlanShowRedownloads(ctx, true)
	if err != nil {
		o.recordResult(JobWatchlistPriority, start, nil, false, err)
		return
	}

	var prioritized []lifecycle.RedownloadOrder
	for _, ord := range orders {
		watchlisted, err := o.isShowWatchlisted(ord.ShowRatingKey)
		if err != nil {
			o.recordResult(JobWatchlistPriority, start, nil, false, err)
			return
		}
		if watchlisted {
			prioritized = append(prioritized, ord)
		}
	}

	queued := o.executeOrders(ctx, prioritized)
	o.recordResult(JobWatchlistPriority, start, map[string]int{"queued": queued}, false, nil)
}

func (o *Orchestrator) isShowWatchlisted(showRatingKey string) (bool, error) {
	show, err := o.store.GetLibraryItem(showRatingKey)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	tmdbID := show.External.TMDB
	if tmdbID == "" {
		return false, nil
	}
	entries, err := o.store.ListActiveWatchlistForTMDB(tmdbID, models.MediaTypeShow)
	if err != nil {
		return false, err
	}
	return len(entries) > 0, nil
}
