package tracker

import (
	"sync"
	"sync/atomic"
	"time"

	"harbor-presence/internal/classifier"
	"harbor-presence/internal/models"
	"harbor-presence/internal/presence"
	"harbor-presence/internal/profile"
	"harbor-presence/internal/signal"

	"go.uber.org/zap"
)

type messageKind int

const (
	msgSample messageKind = iota
	msgSeed
	msgEvict
)

type message struct {
	kind   messageKind
	sample models.RawSample
	seed   models.PresenceState
	now    time.Time
}

// beaconWorker owns every piece of per-beacon state. Only its own goroutine
// touches filter, classifier and machine.
type beaconWorker struct {
	beaconID string
	in       chan message
	quit     chan struct{}
	stopped  chan struct{}

	// sendMu orders sends against retire; once dead is set nothing more
	// reaches in.
	sendMu sync.Mutex
	dead   bool

	lastActive atomic.Int64 // unix nanos of last routed sample

	filter      *signal.Filter
	classifier  *classifier.Classifier
	machine     *presence.Machine
	lastTS      map[string]time.Time
	orientation profile.Orientation

	t      *Tracker
	logger *zap.Logger
}

func newBeaconWorker(t *Tracker, beaconID string, seed *models.PresenceState) *beaconWorker {
	logger := t.logger.With(zap.String("beacon_id", beaconID))
	w := &beaconWorker{
		beaconID:   beaconID,
		in:         make(chan message, t.opts.BeaconQueueSize),
		quit:       make(chan struct{}),
		stopped:    make(chan struct{}),
		filter:     signal.NewFilter(),
		classifier: classifier.New(beaconID, classifier.Config{Horizon: t.opts.Horizon, StaleTimeout: t.opts.StaleTimeout}, t.logger),
		machine:    presence.NewMachine(beaconID, t.logger),
		lastTS:     make(map[string]time.Time),
		t:          t,
		logger:     logger,
	}
	if seed != nil {
		w.machine.Seed(*seed)
	}
	w.touch(t.now())
	return w
}

func (w *beaconWorker) touch(now time.Time) {
	w.lastActive.Store(now.UnixNano())
}

func (w *beaconWorker) idleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, w.lastActive.Load()))
}

// send hands m to the worker. It reports false if the worker was retired,
// in which case the caller must route again.
func (w *beaconWorker) send(m message) bool {
	w.sendMu.Lock()
	defer w.sendMu.Unlock()
	if w.dead {
		return false
	}
	w.in <- m
	return true
}

// trySend is send without blocking on a full queue.
func (w *beaconWorker) trySend(m message) bool {
	w.sendMu.Lock()
	defer w.sendMu.Unlock()
	if w.dead {
		return false
	}
	select {
	case w.in <- m:
		return true
	default:
		return false
	}
}

// retire stops the worker after it has handled everything already sent.
func (w *beaconWorker) retire() {
	w.sendMu.Lock()
	w.dead = true
	w.sendMu.Unlock()
	close(w.quit)
}

func (w *beaconWorker) run() {
	defer close(w.stopped)
	for {
		select {
		case m := <-w.in:
			w.handle(m)
		case <-w.quit:
			// flush what was already routed here
			for {
				select {
				case m := <-w.in:
					w.handle(m)
				default:
					return
				}
			}
		}
	}
}

func (w *beaconWorker) handle(m message) {
	switch m.kind {
	case msgSample:
		w.process(m.sample)
	case msgSeed:
		w.machine.Seed(m.seed)
		w.t.setPresence(w.machine.State())
	case msgEvict:
		n := w.filter.Evict(m.now, w.t.opts.FilterIdleTimeout)
		if n > 0 {
			w.t.metrics.addSwept(0, n)
		}
	}
}

// process runs one sample through bias, filter, classifier and presence.
func (w *beaconWorker) process(s models.RawSample) {
	start := w.t.now()
	p := w.t.store.Current()

	if p.Orientation != w.orientation {
		if w.orientation.WaterReceiver != "" {
			w.logger.Info("Receiver orientation changed, resetting beacon state",
				zap.String("water_receiver", p.Orientation.WaterReceiver),
				zap.String("harbor_receiver", p.Orientation.HarborReceiver),
			)
		}
		w.orientation = p.Orientation
		w.filter.Reset()
		w.classifier.Reset()
		w.lastTS = make(map[string]time.Time)
	}

	side, ok := classifier.SideOf(s.ReceiverID, p)
	if !ok {
		w.t.metrics.incRejected(ReasonUnknownReceiver)
		return
	}
	if last, seen := w.lastTS[s.ReceiverID]; seen && !s.Timestamp.After(last) {
		w.t.metrics.incRejected(ReasonOutOfOrder)
		return
	}
	w.lastTS[s.ReceiverID] = s.Timestamp

	value := signal.Compensate(s, p)
	filtered := w.filter.Apply(
		signal.Key{ReceiverID: s.ReceiverID, BeaconID: s.BeaconID},
		value, p.Smoothing.MedianWindow, p.Smoothing.EMAAlpha, start,
	)
	res := w.classifier.Add(side, s.Timestamp, filtered, p)
	w.t.metrics.incOutcome(res.Outcome)

	switch res.Outcome {
	case classifier.OutcomeAccepted:
		ev := *res.Event
		w.logger.Info("Direction event",
			zap.String("event_id", ev.EventID),
			zap.String("direction", string(ev.Direction)),
			zap.Time("detected_at", ev.DetectedAt),
			zap.Duration("lag", ev.Lag),
			zap.Float64("gap_db", ev.Gap),
		)
		w.t.out.push(Notification{Direction: &ev})

		if change := w.machine.Apply(ev); change != nil {
			w.t.metrics.incPresenceChange()
			w.t.setPresence(change.State)
			w.logger.Info("Presence changed",
				zap.String("from", string(change.From)),
				zap.String("to", string(change.To)),
				zap.Duration("stay", change.Duration),
			)
			w.t.out.push(Notification{Presence: change})
		} else {
			w.t.metrics.incDuplicate()
		}
	case classifier.OutcomeInconclusive, classifier.OutcomeUnrelated, classifier.OutcomeTie:
		w.logger.Debug("No direction decision",
			zap.String("outcome", res.Outcome.String()),
			zap.Float64("gap_db", res.Gap),
			zap.Duration("lag", res.Lag),
		)
	}

	w.t.metrics.incProcessed(w.t.now().Sub(start), start)
}
