// Package profile holds the calibration profile that parameterises bias
// compensation, filtering and direction classification, together with the
// atomic snapshot store and the on-disk profile directory.
package profile

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Default thresholds used when no calibrated profile is available.
const (
	DefaultMedianWindow   = 5
	DefaultEMAAlpha       = 0.3
	DefaultMinDominanceDB = 3.0
	DefaultMaxPeakLagS    = 1.0
	DefaultDebounceS      = 3.0

	DefaultWaterReceiver  = "water"
	DefaultHarborReceiver = "harbor"
)

var ErrInvalidProfile = errors.New("invalid calibration profile")

// Smoothing parameters for the signal filter.
type Smoothing struct {
	MedianWindow int     `json:"median_window"`
	EMAAlpha     float64 `json:"ema_alpha"`
}

// Decision thresholds for the direction classifier.
type Decision struct {
	MinDominanceDB float64 `json:"min_dominance_db"`
	MaxPeakLagS    float64 `json:"max_peak_lag_s"`
	DebounceS      float64 `json:"debounce_s"`
}

// Orientation names the receiver on each side of the doorway.
type Orientation struct {
	WaterReceiver  string `json:"water_receiver"`
	HarborReceiver string `json:"harbor_receiver"`
}

// Profile is an immutable calibration snapshot. Never mutate a Profile that
// has been handed to a Store; build a new one with Clone.
type Profile struct {
	Version     int                `json:"version"`
	CreatedAt   time.Time          `json:"created_at"`
	BiasDB      map[string]float64 `json:"bias_db"`
	Smoothing   Smoothing          `json:"smoothing"`
	Decision    Decision           `json:"decision"`
	Orientation Orientation        `json:"orientation"`
}

// Default returns the degraded-mode profile: zero bias and built-in thresholds.
func Default() *Profile {
	return &Profile{
		Version: 0,
		BiasDB:  map[string]float64{},
		Smoothing: Smoothing{
			MedianWindow: DefaultMedianWindow,
			EMAAlpha:     DefaultEMAAlpha,
		},
		Decision: Decision{
			MinDominanceDB: DefaultMinDominanceDB,
			MaxPeakLagS:    DefaultMaxPeakLagS,
			DebounceS:      DefaultDebounceS,
		},
		Orientation: Orientation{
			WaterReceiver:  DefaultWaterReceiver,
			HarborReceiver: DefaultHarborReceiver,
		},
	}
}

// Validate checks every field. A profile must pass before it is installed.
func (p *Profile) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: nil profile", ErrInvalidProfile)
	}
	if p.Version < 0 {
		return fmt.Errorf("%w: negative version %d", ErrInvalidProfile, p.Version)
	}
	if p.Smoothing.MedianWindow < 3 || p.Smoothing.MedianWindow%2 == 0 {
		return fmt.Errorf("%w: median_window must be odd and >= 3, got %d", ErrInvalidProfile, p.Smoothing.MedianWindow)
	}
	if !finite(p.Smoothing.EMAAlpha) || p.Smoothing.EMAAlpha <= 0 || p.Smoothing.EMAAlpha > 1 {
		return fmt.Errorf("%w: ema_alpha must be in (0, 1], got %v", ErrInvalidProfile, p.Smoothing.EMAAlpha)
	}
	if !finite(p.Decision.MinDominanceDB) || p.Decision.MinDominanceDB < 0 {
		return fmt.Errorf("%w: min_dominance_db must be >= 0, got %v", ErrInvalidProfile, p.Decision.MinDominanceDB)
	}
	if !finite(p.Decision.MaxPeakLagS) || p.Decision.MaxPeakLagS <= 0 {
		return fmt.Errorf("%w: max_peak_lag_s must be > 0, got %v", ErrInvalidProfile, p.Decision.MaxPeakLagS)
	}
	if !finite(p.Decision.DebounceS) || p.Decision.DebounceS < 0 {
		return fmt.Errorf("%w: debounce_s must be >= 0, got %v", ErrInvalidProfile, p.Decision.DebounceS)
	}
	if p.Orientation.WaterReceiver == "" || p.Orientation.HarborReceiver == "" {
		return fmt.Errorf("%w: orientation receivers must be set", ErrInvalidProfile)
	}
	if p.Orientation.WaterReceiver == p.Orientation.HarborReceiver {
		return fmt.Errorf("%w: water and harbor receiver are both %q", ErrInvalidProfile, p.Orientation.WaterReceiver)
	}
	for receiver, bias := range p.BiasDB {
		if !finite(bias) {
			return fmt.Errorf("%w: bias for %q is not finite", ErrInvalidProfile, receiver)
		}
	}
	return nil
}

// Clone returns a deep copy that may be modified freely.
func (p *Profile) Clone() *Profile {
	c := *p
	c.BiasDB = make(map[string]float64, len(p.BiasDB))
	for k, v := range p.BiasDB {
		c.BiasDB[k] = v
	}
	return &c
}

// Bias returns the additive offset for receiver, 0 when none is configured.
func (p *Profile) Bias(receiverID string) float64 {
	if p == nil {
		return 0
	}
	return p.BiasDB[receiverID]
}

// HasReceiver reports whether receiverID is one of the two oriented receivers.
func (p *Profile) HasReceiver(receiverID string) bool {
	return receiverID == p.Orientation.WaterReceiver || receiverID == p.Orientation.HarborReceiver
}

func (p *Profile) MaxPeakLag() time.Duration { return seconds(p.Decision.MaxPeakLagS) }
func (p *Profile) Debounce() time.Duration   { return seconds(p.Decision.DebounceS) }

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
