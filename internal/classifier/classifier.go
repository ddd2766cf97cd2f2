// Package classifier decides the direction of travel of a beacon through the
// doorway from the filtered RSSI streams of the water-side and harbor-side
// receivers.
package classifier

import (
	"math"
	"time"

	"harbor-presence/internal/models"
	"harbor-presence/internal/profile"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Defaults for the window horizon and per-stream staleness.
const (
	DefaultHorizon      = 5 * time.Second
	DefaultStaleTimeout = 3 * time.Second

	tieTolerance = time.Millisecond
)

// Outcome is the result of one classification attempt. Only Accepted carries an event.
type Outcome int

const (
	OutcomePending      Outcome = iota // peaks not yet confirmed on both streams
	OutcomeStale                       // a stream is stale, decisions suspended
	OutcomeInconclusive                // peak gap below min dominance
	OutcomeUnrelated                   // peaks further apart than max lag
	OutcomeTie                         // peaks simultaneous
	OutcomeSuppressed                  // debounced duplicate
	OutcomeAccepted
)

var outcomeNames = [...]string{"pending", "stale", "inconclusive", "unrelated", "tie", "suppressed", "accepted"}

func (o Outcome) String() string {
	if int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return "unknown"
}

// Result of Add.
type Result struct {
	Outcome Outcome
	Event   *models.DirectionEvent
	Gap     float64
	Lag     time.Duration // t_peak(water) - t_peak(harbor)
}

type Config struct {
	Horizon      time.Duration
	StaleTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{Horizon: DefaultHorizon, StaleTimeout: DefaultStaleTimeout}
}

// Classifier holds the correlation window and debounce memory of one beacon.
// It is not safe for concurrent use.
type Classifier struct {
	beaconID     string
	cfg          Config
	window       *CorrelationWindow
	lastAccepted time.Time
	logger       *zap.Logger
	newID        func() string
}

func New(beaconID string, cfg Config, logger *zap.Logger) *Classifier {
	if cfg.Horizon <= 0 {
		cfg.Horizon = DefaultHorizon
	}
	if cfg.StaleTimeout <= 0 {
		cfg.StaleTimeout = DefaultStaleTimeout
	}
	return &Classifier{
		beaconID: beaconID,
		cfg:      cfg,
		window:   NewCorrelationWindow(cfg.Horizon),
		logger:   logger.With(zap.String("beacon_id", beaconID)),
		newID:    uuid.NewString,
	}
}

// SideOf maps a receiver to its doorway side using the profile orientation.
func SideOf(receiverID string, p *profile.Profile) (Side, bool) {
	switch receiverID {
	case p.Orientation.WaterReceiver:
		return SideWater, true
	case p.Orientation.HarborReceiver:
		return SideHarbor, true
	}
	return 0, false
}

// Add appends a filtered sample and attempts a decision using the thresholds of p.
func (c *Classifier) Add(side Side, t time.Time, filtered float64, p *profile.Profile) Result {
	if !c.window.Append(side, t, filtered) {
		return Result{Outcome: OutcomePending}
	}

	// 0. staleness: both streams must be fresh
	water, harbor := c.window.Status(c.cfg.StaleTimeout)
	if water == models.StreamStale || harbor == models.StreamStale {
		return Result{Outcome: OutcomeStale}
	}

	// 1. confirmed peak on each stream
	pw, okW := c.window.confirmedPeak(SideWater)
	ph, okH := c.window.confirmedPeak(SideHarbor)
	if !okW || !okH {
		return Result{Outcome: OutcomePending}
	}

	// 2. dominance
	gap := math.Abs(ph.v - pw.v)
	lag := pw.t.Sub(ph.t)
	res := Result{Gap: gap, Lag: lag}
	if gap < p.Decision.MinDominanceDB {
		res.Outcome = OutcomeInconclusive
		return res
	}

	// 3. correlation
	absLag := lag
	if absLag < 0 {
		absLag = -absLag
	}
	if absLag > p.MaxPeakLag() {
		res.Outcome = OutcomeUnrelated
		return res
	}

	// 4. direction
	if absLag < tieTolerance {
		res.Outcome = OutcomeTie
		return res
	}
	direction := models.DirectionLeave
	detectedAt := pw.t
	if lag < 0 {
		direction = models.DirectionEnter
		detectedAt = ph.t
	}

	// 5. debounce against the last accepted event
	if !c.lastAccepted.IsZero() && detectedAt.Sub(c.lastAccepted) < p.Debounce() {
		c.window.Clear()
		c.logger.Info("Direction event suppressed by debounce",
			zap.String("direction", string(direction)),
			zap.Time("detected_at", detectedAt),
			zap.Time("last_accepted", c.lastAccepted),
		)
		res.Outcome = OutcomeSuppressed
		return res
	}

	c.window.Clear()
	c.lastAccepted = detectedAt
	res.Outcome = OutcomeAccepted
	res.Event = &models.DirectionEvent{
		EventID:    c.newID(),
		BeaconID:   c.beaconID,
		Direction:  direction,
		DetectedAt: detectedAt,
		Lag:        absLag,
		NearPeak:   ph.v,
		FarPeak:    pw.v,
		Gap:        gap,
	}
	return res
}

// Status reports the freshness of both streams.
func (c *Classifier) Status() (water, harbor models.StreamStatus) {
	return c.window.Status(c.cfg.StaleTimeout)
}

// LastSample returns the timestamp of the newest sample seen.
func (c *Classifier) LastSample() time.Time {
	return c.window.Newest()
}

// Reset drops the window and debounce memory, e.g. after an orientation change.
func (c *Classifier) Reset() {
	c.window = NewCorrelationWindow(c.cfg.Horizon)
	c.lastAccepted = time.Time{}
}
