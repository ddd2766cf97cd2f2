// Package calibration derives a calibration profile from a recorded session:
// per-receiver bias from static placements and decision thresholds from
// labelled walks replayed through the runtime signal chain.
package calibration

import (
	"fmt"
	"math"
	"sort"
	"time"

	"harbor-presence/internal/classifier"
	"harbor-presence/internal/profile"
	"harbor-presence/internal/signal"

	"go.uber.org/zap"
)

// Options bound the sanity checks. Zero values fall back to DefaultOptions.
type Options struct {
	MaxStdDevDB  float64
	MaxBiasDB    float64
	MinSamples   int
	Horizon      time.Duration
	StaleTimeout time.Duration

	// Smoothing and debounce copied into the produced profile. DebounceS <= 0 means the default.
	Smoothing profile.Smoothing
	DebounceS float64
}

func DefaultOptions() Options {
	return Options{
		MaxStdDevDB:  4,
		MaxBiasDB:    10,
		MinSamples:   20,
		Horizon:      classifier.DefaultHorizon,
		StaleTimeout: classifier.DefaultStaleTimeout,
		Smoothing: profile.Smoothing{
			MedianWindow: profile.DefaultMedianWindow,
			EMAAlpha:     profile.DefaultEMAAlpha,
		},
		DebounceS: profile.DefaultDebounceS,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxStdDevDB <= 0 {
		o.MaxStdDevDB = d.MaxStdDevDB
	}
	if o.MaxBiasDB <= 0 {
		o.MaxBiasDB = d.MaxBiasDB
	}
	if o.MinSamples <= 0 {
		o.MinSamples = d.MinSamples
	}
	if o.Horizon <= 0 {
		o.Horizon = d.Horizon
	}
	if o.StaleTimeout <= 0 {
		o.StaleTimeout = d.StaleTimeout
	}
	if o.Smoothing.MedianWindow == 0 {
		o.Smoothing = d.Smoothing
	}
	if o.DebounceS <= 0 {
		o.DebounceS = d.DebounceS
	}
	return o
}

// Engine runs the offline calibration. It never deploys what it produces.
type Engine struct {
	opts   Options
	logger *zap.Logger
	now    func() time.Time
}

func NewEngine(opts Options, logger *zap.Logger) *Engine {
	return &Engine{opts: opts.withDefaults(), logger: logger, now: time.Now}
}

// Calibrate computes a profile with the given version and its report.
// Sanity problems become report warnings; only an unusable result is an error.
func (e *Engine) Calibrate(s *Session, version int) (*profile.Profile, *Report, error) {
	if s == nil {
		return nil, nil, fmt.Errorf("nil session")
	}
	now := e.now().UTC()

	report := &Report{
		GeneratedAt:    now,
		ProfileVersion: version,
		WaterReceiver:  s.WaterReceiver,
		HarborReceiver: s.HarborReceiver,
		Warnings:       []string{},
	}

	p := profile.Default()
	p.Version = version
	p.CreatedAt = now
	p.Orientation = profile.Orientation{WaterReceiver: s.WaterReceiver, HarborReceiver: s.HarborReceiver}
	p.Smoothing = e.opts.Smoothing
	p.Decision.DebounceS = e.opts.DebounceS

	// 1. static phase: bias from CENTER, sanity checks on every placement
	p.BiasDB = e.staticPhase(s, report)
	report.BiasDB = p.BiasDB

	// 2. movement phase: replay walks with the candidate bias
	e.movementPhase(s, p, report)
	p.Decision.MinDominanceDB = report.MinDominanceDB
	p.Decision.MaxPeakLagS = report.MaxPeakLagS

	if err := p.Validate(); err != nil {
		return nil, report, fmt.Errorf("derived profile is invalid: %w", err)
	}

	e.logger.Info("Calibration complete",
		zap.Int("version", version),
		zap.Float64("bias_water", p.BiasDB[s.WaterReceiver]),
		zap.Float64("bias_harbor", p.BiasDB[s.HarborReceiver]),
		zap.Float64("min_dominance_db", p.Decision.MinDominanceDB),
		zap.Float64("max_peak_lag_s", p.Decision.MaxPeakLagS),
		zap.Int("static_failed", report.Static.Failed),
		zap.Int("movement_failed", report.Movement.Failed),
		zap.Int("warnings", len(report.Warnings)),
	)
	return p, report, nil
}

func (e *Engine) staticPhase(s *Session, report *Report) map[string]float64 {
	water, harbor := s.WaterReceiver, s.HarborReceiver
	bias := map[string]float64{water: 0, harbor: 0}

	stats := make(map[Placement]map[string]Stats, len(Placements))
	for _, pl := range Placements {
		result := PlacementResult{Placement: pl, Receivers: map[string]Stats{}, Passed: true}
		records, ok := s.Static[pl]
		if !ok || len(records) == 0 {
			result.Passed = false
			result.Warnings = append(result.Warnings, "placement missing")
			report.Placements = append(report.Placements, result)
			continue
		}

		values := byReceiver(records)
		stats[pl] = map[string]Stats{}
		for _, rx := range []string{water, harbor} {
			st := computeStats(values[rx])
			stats[pl][rx] = st
			result.Receivers[rx] = st
			switch {
			case st.Count == 0:
				result.Passed = false
				result.Warnings = append(result.Warnings, fmt.Sprintf("no samples from %s", rx))
			case st.Count < e.opts.MinSamples:
				result.Passed = false
				result.Warnings = append(result.Warnings, fmt.Sprintf("%s: only %d samples, want %d", rx, st.Count, e.opts.MinSamples))
			}
			if st.Count > 0 && st.StdDev > e.opts.MaxStdDevDB {
				result.Passed = false
				result.Warnings = append(result.Warnings, fmt.Sprintf("%s: unstable, stddev %.2f dB above %.2f", rx, st.StdDev, e.opts.MaxStdDevDB))
			}
		}
		report.Placements = append(report.Placements, result)
	}

	// bias_water = (median_harbor - median_water)/2 so compensated CENTER readings meet in the middle
	center, ok := stats[PlacementCenter]
	if ok && center[water].Count > 0 && center[harbor].Count > 0 {
		b := (center[harbor].Median - center[water].Median) / 2
		bias[water] = b
		bias[harbor] = -b
		if math.Abs(b) > e.opts.MaxBiasDB {
			markFailed(report, PlacementCenter, fmt.Sprintf("bias magnitude %.2f dB exceeds %.2f dB", math.Abs(b), e.opts.MaxBiasDB))
		}
	} else {
		report.warn("CENTER placement incomplete, bias left at 0")
	}

	// NEAR placements: the near receiver must read stronger after compensation
	checkNear := func(pl Placement, near, far string) {
		st, ok := stats[pl]
		if !ok || st[near].Count == 0 || st[far].Count == 0 {
			return
		}
		if st[near].Median+bias[near] <= st[far].Median+bias[far] {
			markFailed(report, pl, fmt.Sprintf("%s does not read stronger than %s after compensation", near, far))
		}
	}
	checkNear(PlacementNearWater, water, harbor)
	checkNear(PlacementNearHarbor, harbor, water)

	for _, r := range report.Placements {
		if r.Passed {
			report.Static.Passed++
		} else {
			report.Static.Failed++
		}
		for _, w := range r.Warnings {
			report.warn("%s: %s", r.Placement, w)
		}
	}
	return bias
}

func markFailed(report *Report, pl Placement, msg string) {
	for i := range report.Placements {
		if report.Placements[i].Placement == pl {
			report.Placements[i].Passed = false
			report.Placements[i].Warnings = append(report.Placements[i].Warnings, msg)
			return
		}
	}
}

func (e *Engine) movementPhase(s *Session, candidate *profile.Profile, report *Report) {
	// permissive thresholds so every plausible peak pair is observed
	replay := candidate.Clone()
	replay.Decision.MinDominanceDB = 0
	replay.Decision.MaxPeakLagS = e.opts.Horizon.Seconds()
	replay.Decision.DebounceS = 0

	var gaps []float64
	var maxLag time.Duration
	for i, walk := range s.Walks {
		res := e.replayWalk(i, walk, replay)
		report.Walks = append(report.Walks, res)
		if !res.Matched {
			report.Movement.Failed++
			if res.Detected == "" {
				report.warn("walk %d (%s): no direction detected", i, walk.Label)
			} else {
				report.warn("walk %d (%s): detected %s", i, walk.Label, res.Detected)
			}
			continue
		}
		report.Movement.Passed++
		gaps = append(gaps, res.Gap)
		if res.Lag > maxLag {
			maxLag = res.Lag
		}
	}

	if len(gaps) == 0 {
		report.UsedDefaultRules = true
		report.MinDominanceDB = profile.DefaultMinDominanceDB
		report.MaxPeakLagS = profile.DefaultMaxPeakLagS
		report.warn("no walk matched its label, keeping default decision thresholds")
		return
	}

	sort.Float64s(gaps)
	report.MinObservedGap = gaps[0]
	report.MaxObservedLag = maxLag
	report.MinDominanceDB = round2(0.5 * gaps[0])
	report.MaxPeakLagS = round2(1.25*maxLag.Seconds() + 0.1)
}

func (e *Engine) replayWalk(index int, walk Walk, p *profile.Profile) WalkResult {
	res := WalkResult{Index: index, Label: walk.Label, Samples: len(walk.Samples)}

	filter := signal.NewFilter()
	cls := classifier.New(fmt.Sprintf("walk-%d", index), classifier.Config{
		Horizon:      e.opts.Horizon,
		StaleTimeout: e.opts.StaleTimeout,
	}, e.logger)

	for _, rec := range sortedByTime(walk.Samples) {
		side, ok := classifier.SideOf(rec.Receiver, p)
		if !ok {
			continue
		}
		raw := rec.Raw()
		v := signal.Compensate(raw, p)
		filtered := filter.Apply(signal.Key{ReceiverID: rec.Receiver, BeaconID: rec.Beacon},
			v, p.Smoothing.MedianWindow, p.Smoothing.EMAAlpha, rec.TS)
		out := cls.Add(side, rec.TS, filtered, p)
		if out.Outcome != classifier.OutcomeAccepted {
			continue
		}
		res.Detected = out.Event.Direction
		res.Matched = out.Event.Direction == walk.Label
		res.Gap = out.Event.Gap
		res.Lag = out.Event.Lag
		break
	}
	return res
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
