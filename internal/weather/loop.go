package weather

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/i474232898/weather-ingestion/internal/metrics"
	"github.com/i474232898/weather-ingestion/internal/series"
)

// LoopConfig holds the refresh loop settings.
type LoopConfig struct {
	Cities       []City
	MinInterval  time.Duration // throttle between provider fetches
	FetchTimeout time.Duration // bound on a single provider call
}

// Loop runs refresh cycles: consult the throttle, fetch from the provider,
// write to the store and fold into the cache. It is the only writer of the
// cache. Failures are recorded and never stop later cycles.
type Loop struct {
	cfg      LoopConfig
	provider Provider
	store    series.Store
	cache    *Cache
	metrics  *metrics.Metrics
	logger   *zap.SugaredLogger
	now      func() time.Time

	// inFlight guards state; only the goroutine that set it touches state.
	inFlight *atomic.Bool
	state    ThrottleState

	phase   *atomic.String
	status  *atomic.Pointer[Status]
	dropped *atomic.Int64
}

// NewLoop creates a refresh loop. m may be nil.
func NewLoop(cfg LoopConfig, provider Provider, store series.Store, cache *Cache, logger *zap.SugaredLogger, m *metrics.Metrics) *Loop {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	return &Loop{
		cfg:      cfg,
		provider: provider,
		store:    store,
		cache:    cache,
		metrics:  m,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		inFlight: atomic.NewBool(false),
		phase:    atomic.NewString(string(PhaseIdle)),
		status:   atomic.NewPointer(&Status{Phase: PhaseIdle}),
		dropped:  atomic.NewInt64(0),
	}
}

// Tick runs one throttled cycle. It returns false when the tick was dropped
// because a previous cycle is still running. Cycle errors are logged and
// recorded in Status, never returned.
func (l *Loop) Tick(ctx context.Context) bool {
	_, err := l.run(ctx, false)
	if errors.Is(err, ErrCycleInProgress) {
		l.dropped.Inc()
		l.metrics.TickDropped()
		l.logger.Debugw("refresh tick dropped; previous cycle still running")
		return false
	}
	return true
}

// Refresh runs one cycle on demand. With force set the throttle is bypassed.
// It returns ErrCycleInProgress if a cycle is already running, and the
// provider or store error of a failed cycle.
func (l *Loop) Refresh(ctx context.Context, force bool) (RefreshResult, error) {
	return l.run(ctx, force)
}

// Seed fills the cache from the store's latest readings for the configured
// cities. It is meant to run once before the first tick.
func (l *Loop) Seed(ctx context.Context) (int, error) {
	if !l.inFlight.CompareAndSwap(false, true) {
		return 0, ErrCycleInProgress
	}
	defer l.inFlight.Store(false)

	readings, err := l.store.QueryLatest(ctx)
	if err != nil {
		return 0, fmt.Errorf("seed cache: %w", err)
	}

	keys := l.entityKeys()
	known := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		known[k] = struct{}{}
	}
	batch := make([]series.Reading, 0, len(readings))
	for _, r := range readings {
		if _, ok := known[r.EntityKey]; ok {
			batch = append(batch, r)
		}
	}

	n := l.cache.Update(batch)
	l.metrics.CacheSize(l.cache.Len())
	return n, nil
}

// Status returns the current loop status.
func (l *Loop) Status() Status {
	s := *l.status.Load()
	s.Phase = Phase(l.phase.Load())
	s.DroppedTicks = l.dropped.Load()
	return s
}

func (l *Loop) run(ctx context.Context, force bool) (res RefreshResult, err error) {
	if !l.inFlight.CompareAndSwap(false, true) {
		return RefreshResult{}, ErrCycleInProgress
	}
	defer l.inFlight.Store(false)
	defer l.setPhase(PhaseIdle)

	log := l.logger.With("cycle", uuid.NewString(), "force", force)
	start := l.now()

	defer func() {
		if r := recover(); r != nil {
			// Past the throttle check the attempt counts even though cycle never returned.
			if p := Phase(l.phase.Load()); p == PhaseFetching || p == PhaseWriting {
				l.state.LastAttempt = start
			}
			err = fmt.Errorf("refresh cycle panicked: %v", r)
			log.Errorw("refresh cycle panicked", "panic", r)
			l.record(res, err, metrics.OutcomePanic)
		}
	}()

	var state ThrottleState
	state, res, err = l.cycle(ctx, log, l.state, start, force)
	l.state = state
	l.record(res, err, outcome(res, err))
	return res, err
}

// cycle performs one refresh against the given throttle state and returns the
// updated state. It never mutates loop fields other than the phase.
func (l *Loop) cycle(ctx context.Context, log *zap.SugaredLogger, state ThrottleState, now time.Time, force bool) (ThrottleState, RefreshResult, error) {
	res := RefreshResult{Entities: l.entityKeys()}

	if !force && !ShouldFetch(now, l.cfg.MinInterval, state.LastAttempt) {
		l.setPhase(PhaseSkipped)
		res.Skipped = true
		res.RetryAfter = RetryAfter(now, l.cfg.MinInterval, state.LastAttempt)
		return state, res, nil
	}

	l.setPhase(PhaseFetching)
	state.LastAttempt = now
	res.Requested = len(l.cfg.Cities)

	fetchCtx, cancel := context.WithTimeout(ctx, l.cfg.FetchTimeout)
	fetchStart := time.Now()
	batch, err := l.provider.Fetch(fetchCtx, l.cfg.Cities)
	cancel()
	l.metrics.ObserveFetch(time.Since(fetchStart))
	if err != nil {
		res.Failed = res.Requested
		log.Warnw("provider fetch failed; keeping cached readings", "provider", l.provider.Name(), "error", err)
		return state, res, err
	}
	if len(batch) == 0 {
		res.Failed = res.Requested
		err = fmt.Errorf("%w: %s returned no readings", ErrProviderMalformed, l.provider.Name())
		log.Warnw("provider fetch returned nothing; keeping cached readings", "provider", l.provider.Name())
		return state, res, err
	}
	res.Failed = res.Requested - len(batch)

	l.setPhase(PhaseWriting)
	if err := l.store.Write(ctx, batch); err != nil {
		res.Failed = res.Requested
		log.Warnw("store write failed; cache left unchanged", "readings", len(batch), "error", err)
		return state, res, err
	}
	res.Stored = len(batch)
	res.Updated = l.cache.Update(batch)
	state.LastSuccess = now

	log.Infow("refresh cycle stored readings",
		"provider", l.provider.Name(),
		"stored", res.Stored,
		"updated", res.Updated,
		"failed", res.Failed,
	)
	return state, res, nil
}

func (l *Loop) record(res RefreshResult, err error, outcome string) {
	prev := l.status.Load()
	next := *prev
	next.LastAttempt = l.state.LastAttempt
	next.LastSuccess = l.state.LastSuccess

	switch {
	case err != nil:
		next.LastError = err.Error()
		next.ConsecutiveFailures++
	case !res.Skipped:
		next.LastError = ""
		next.ConsecutiveFailures = 0
		l.metrics.Succeeded(next.LastSuccess)
		l.metrics.CacheSize(l.cache.Len())
	}

	l.status.Store(&next)
	l.metrics.CycleCompleted(outcome)
}

func (l *Loop) setPhase(p Phase) {
	l.phase.Store(string(p))
}

func (l *Loop) entityKeys() []string {
	keys := make([]string, 0, len(l.cfg.Cities))
	for _, c := range l.cfg.Cities {
		keys = append(keys, c.Key())
	}
	return keys
}

func outcome(res RefreshResult, err error) string {
	switch {
	case err == nil && res.Skipped:
		return metrics.OutcomeSkipped
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, series.ErrStoreUnavailable), errors.Is(err, series.ErrStoreRejected):
		return metrics.OutcomeStoreError
	default:
		return metrics.OutcomeProviderError
	}
}
