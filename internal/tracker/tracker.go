// Package tracker is the runtime pipeline: it validates raw samples, routes
// them to one worker goroutine per beacon, and fans accepted direction events
// and presence changes out to listeners through a bounded queue.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"harbor-presence/internal/classifier"
	"harbor-presence/internal/models"
	"harbor-presence/internal/profile"

	"go.uber.org/zap"
)

var (
	ErrClosed   = errors.New("tracker closed")
	ErrRejected = errors.New("sample rejected")
)

// Options tune the pipeline. Zero values fall back to DefaultOptions.
type Options struct {
	Horizon           time.Duration
	StaleTimeout      time.Duration
	FilterIdleTimeout time.Duration
	BeaconIdleTimeout time.Duration
	SweepInterval     time.Duration
	OutboundQueueSize int
	BeaconQueueSize   int
	MaxSampleAge      time.Duration
	MaxClockSkew      time.Duration
	ListenerTimeout   time.Duration
	MetricsInterval   time.Duration

	// Now replaces the wall clock, for tests.
	Now func() time.Time
}

func DefaultOptions() Options {
	return Options{
		Horizon:           classifier.DefaultHorizon,
		StaleTimeout:      classifier.DefaultStaleTimeout,
		FilterIdleTimeout: 30 * time.Second,
		BeaconIdleTimeout: 5 * time.Minute,
		SweepInterval:     10 * time.Second,
		OutboundQueueSize: 1024,
		BeaconQueueSize:   256,
		MaxSampleAge:      24 * time.Hour,
		MaxClockSkew:      5 * time.Second,
		ListenerTimeout:   10 * time.Second,
		MetricsInterval:   60 * time.Second,
		Now:               time.Now,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Horizon <= 0 {
		o.Horizon = d.Horizon
	}
	if o.StaleTimeout <= 0 {
		o.StaleTimeout = d.StaleTimeout
	}
	if o.FilterIdleTimeout <= 0 {
		o.FilterIdleTimeout = d.FilterIdleTimeout
	}
	if o.BeaconIdleTimeout <= 0 {
		o.BeaconIdleTimeout = d.BeaconIdleTimeout
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = d.SweepInterval
	}
	if o.OutboundQueueSize <= 0 {
		o.OutboundQueueSize = d.OutboundQueueSize
	}
	if o.BeaconQueueSize <= 0 {
		o.BeaconQueueSize = d.BeaconQueueSize
	}
	if o.MaxSampleAge <= 0 {
		o.MaxSampleAge = d.MaxSampleAge
	}
	if o.MaxClockSkew <= 0 {
		o.MaxClockSkew = d.MaxClockSkew
	}
	if o.ListenerTimeout <= 0 {
		o.ListenerTimeout = d.ListenerTimeout
	}
	if o.MetricsInterval <= 0 {
		o.MetricsInterval = d.MetricsInterval
	}
	if o.Now == nil {
		o.Now = d.Now
	}
	return o
}

// Tracker is safe for concurrent use.
type Tracker struct {
	opts      Options
	store     *profile.Store
	validator validator
	logger    *zap.Logger
	metrics   *Metrics

	// router table; mu is held only for lookup, insert and delete
	mu      sync.Mutex
	workers map[string]*beaconWorker
	wg      sync.WaitGroup

	// last known presence per beacon, kept when a worker is reaped
	presMu   sync.RWMutex
	presence map[string]models.PresenceState

	out          *outboundQueue
	listeners    []Listener
	dispatchDone chan struct{}

	closed    atomic.Bool
	started   atomic.Bool
	cancel    context.CancelFunc
	bgDone    sync.WaitGroup
	closeOnce sync.Once
}

// New builds a tracker reading its calibration from store.
func New(store *profile.Store, opts Options, logger *zap.Logger) *Tracker {
	opts = opts.withDefaults()
	metrics := newMetrics(opts.Now())
	return &Tracker{
		opts:  opts,
		store: store,
		validator: validator{
			maxAge:  opts.MaxSampleAge,
			maxSkew: opts.MaxClockSkew,
			now:     opts.Now,
		},
		logger:       logger,
		metrics:      metrics,
		workers:      make(map[string]*beaconWorker),
		presence:     make(map[string]models.PresenceState),
		out:          newOutboundQueue(opts.OutboundQueueSize, metrics),
		dispatchDone: make(chan struct{}),
	}
}

// AddListener registers l. Must be called before Start.
func (t *Tracker) AddListener(l Listener) {
	t.listeners = append(t.listeners, l)
}

// Start launches the dispatcher, the periodic sweep and the metrics report.
func (t *Tracker) Start(ctx context.Context) {
	if !t.started.CompareAndSwap(false, true) {
		return
	}
	ctx, t.cancel = context.WithCancel(ctx)

	d := &dispatcher{
		queue:       t.out,
		listeners:   t.listeners,
		callTimeout: t.opts.ListenerTimeout,
		metrics:     t.metrics,
		logger:      t.logger,
	}
	go d.run(t.dispatchDone)

	t.bgDone.Add(2)
	go func() {
		defer t.bgDone.Done()
		t.sweepLoop(ctx)
	}()
	go func() {
		defer t.bgDone.Done()
		t.reportMetrics(ctx)
	}()

	t.logger.Info("Tracker started",
		zap.Duration("horizon", t.opts.Horizon),
		zap.Duration("stale_timeout", t.opts.StaleTimeout),
		zap.Int("outbound_queue_size", t.opts.OutboundQueueSize),
	)
}

// Ingest validates one advertisement and hands it to the beacon's worker.
// Rejected samples are counted and reported as ErrRejected.
func (t *Tracker) Ingest(receiverID, beaconID string, rssi float64, ts time.Time) error {
	if t.closed.Load() {
		return ErrClosed
	}
	t.metrics.incReceived()

	s := models.RawSample{ReceiverID: receiverID, BeaconID: beaconID, RSSI: rssi, Timestamp: ts}
	if reason, ok := t.validator.check(s, t.store.Current()); !ok {
		t.metrics.incRejected(reason)
		return fmt.Errorf("%w: %s", ErrRejected, reason)
	}

	msg := message{kind: msgSample, sample: s}
	for {
		w, err := t.worker(beaconID)
		if err != nil {
			return err
		}
		w.touch(t.now())
		if w.send(msg) {
			return nil
		}
		// reaped between lookup and send; route again
	}
}

// Discard counts input that never became a sample, such as an undecodable
// scanner payload.
func (t *Tracker) Discard(reason RejectReason) {
	t.metrics.incReceived()
	t.metrics.incRejected(reason)
}

// worker returns the live worker for beaconID, creating it if needed.
func (t *Tracker) worker(beaconID string) (*beaconWorker, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed.Load() {
		return nil, ErrClosed
	}
	if w, ok := t.workers[beaconID]; ok {
		return w, nil
	}

	var seed *models.PresenceState
	t.presMu.RLock()
	if s, ok := t.presence[beaconID]; ok {
		seed = &s
	}
	t.presMu.RUnlock()

	w := newBeaconWorker(t, beaconID, seed)
	t.workers[beaconID] = w
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		w.run()
	}()
	return w, nil
}

// Seed installs externally persisted presence states, typically at startup.
func (t *Tracker) Seed(states []models.PresenceState) {
	for _, s := range states {
		if s.BeaconID == "" {
			continue
		}
		t.setPresence(s)

		t.mu.Lock()
		w, ok := t.workers[s.BeaconID]
		t.mu.Unlock()
		if ok {
			w.send(message{kind: msgSeed, seed: s})
		}
	}
	t.logger.Info("Presence states seeded", zap.Int("count", len(states)))
}

func (t *Tracker) now() time.Time {
	return t.opts.Now()
}

func (t *Tracker) setPresence(s models.PresenceState) {
	t.presMu.Lock()
	t.presence[s.BeaconID] = s
	t.presMu.Unlock()
}

// Presence returns the last known state of beaconID; unknown beacons are OUT.
func (t *Tracker) Presence(beaconID string) models.PresenceState {
	t.presMu.RLock()
	defer t.presMu.RUnlock()
	if s, ok := t.presence[beaconID]; ok {
		return s
	}
	return models.PresenceState{BeaconID: beaconID, State: models.StateOut}
}

// Snapshot returns every known presence state ordered by beacon ID.
func (t *Tracker) Snapshot() []models.PresenceState {
	t.presMu.RLock()
	out := make([]models.PresenceState, 0, len(t.presence))
	for _, s := range t.presence {
		out = append(out, s)
	}
	t.presMu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].BeaconID < out[j].BeaconID })
	return out
}

func (t *Tracker) Metrics() MetricsSnapshot {
	return t.metrics.GetSnapshot()
}

// ActiveBeacons returns the number of live beacon workers.
func (t *Tracker) ActiveBeacons() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.workers)
}

// Sweep evicts idle filter state and reaps idle beacon workers. It runs
// periodically after Start and may be called directly.
func (t *Tracker) Sweep() {
	now := t.now()

	var idle []*beaconWorker
	t.mu.Lock()
	for id, w := range t.workers {
		if w.idleSince(now) > t.opts.BeaconIdleTimeout {
			delete(t.workers, id)
			idle = append(idle, w)
			continue
		}
		// a busy worker is evicted on the next sweep
		w.trySend(message{kind: msgEvict, now: now})
	}
	t.mu.Unlock()

	for _, w := range idle {
		w.retire()
		<-w.stopped
		// keep the final state for a returning beacon
		t.setPresence(w.machine.State())
	}
	if len(idle) > 0 {
		t.metrics.addSwept(len(idle), 0)
		t.logger.Debug("Idle beacons reaped", zap.Int("count", len(idle)))
	}
}

func (t *Tracker) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(t.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Sweep()
		}
	}
}

func (t *Tracker) reportMetrics(ctx context.Context) {
	ticker := time.NewTicker(t.opts.MetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := t.metrics.GetSnapshot()
			var avg time.Duration
			if s.SamplesProcessed > 0 {
				avg = s.TotalProcessingTime / time.Duration(s.SamplesProcessed)
			}
			t.logger.Info("Metrics report",
				zap.Int64("samples_received", s.SamplesReceived),
				zap.Int64("samples_processed", s.SamplesProcessed),
				zap.Int64("samples_rejected", s.TotalRejected()),
				zap.Int64("direction_events", s.DirectionEvents),
				zap.Int64("debounce_suppressed", s.Suppressed),
				zap.Int64("duplicates_discarded", s.DuplicatesDiscarded),
				zap.Int64("presence_changes", s.PresenceChanges),
				zap.Int64("notifications_dropped", s.NotificationsDropped),
				zap.Int64("listener_failures", s.ListenerFailures),
				zap.Int("active_beacons", t.ActiveBeacons()),
				zap.Bool("degraded_profile", t.store.Degraded()),
				zap.Duration("avg_processing_time", avg),
				zap.Duration("uptime", t.opts.Now().Sub(s.StartTime)),
			)
		}
	}
}

// Close stops accepting samples, lets every worker finish what was routed to
// it, then drains the outbound queue to the listeners.
func (t *Tracker) Close() {
	t.closeOnce.Do(func() {
		t.closed.Store(true)

		t.mu.Lock()
		workers := make([]*beaconWorker, 0, len(t.workers))
		for _, w := range t.workers {
			workers = append(workers, w)
		}
		t.workers = make(map[string]*beaconWorker)
		t.mu.Unlock()

		for _, w := range workers {
			w.retire()
		}
		t.wg.Wait()

		if t.cancel != nil {
			t.cancel()
		}
		t.bgDone.Wait()

		t.out.close()
		if t.started.Load() {
			<-t.dispatchDone
		}
		t.logger.Info("Tracker closed", zap.Int("undelivered", t.out.len()))
	})
}
