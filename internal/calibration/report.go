package calibration

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"harbor-presence/internal/models"
)

// PlacementResult is the static-phase outcome of one placement.
type PlacementResult struct {
	Placement Placement        `json:"placement"`
	Receivers map[string]Stats `json:"receivers"`
	Passed    bool             `json:"passed"`
	Warnings  []string         `json:"warnings,omitempty"`
}

// WalkResult is the replay outcome of one labelled walk.
type WalkResult struct {
	Index    int              `json:"index"`
	Label    models.Direction `json:"label"`
	Detected models.Direction `json:"detected,omitempty"` // empty when nothing was emitted
	Matched  bool             `json:"matched"`
	Gap      float64          `json:"gap_db"`
	Lag      time.Duration    `json:"lag_ns"`
	Samples  int              `json:"samples"`
}

// PhaseSummary counts passes and failures of one phase.
type PhaseSummary struct {
	Passed int `json:"passed"`
	Failed int `json:"failed"`
}

// Report is the diagnostic output handed to the operator with the candidate profile.
type Report struct {
	GeneratedAt      time.Time          `json:"generated_at"`
	ProfileVersion   int                `json:"profile_version"`
	WaterReceiver    string             `json:"water_receiver"`
	HarborReceiver   string             `json:"harbor_receiver"`
	BiasDB           map[string]float64 `json:"bias_db"`
	Static           PhaseSummary       `json:"static"`
	Movement         PhaseSummary       `json:"movement"`
	Placements       []PlacementResult  `json:"placements"`
	Walks            []WalkResult       `json:"walks"`
	MinObservedGap   float64            `json:"min_observed_gap_db"`
	MaxObservedLag   time.Duration      `json:"max_observed_lag_ns"`
	MinDominanceDB   float64            `json:"recommended_min_dominance_db"`
	MaxPeakLagS      float64            `json:"recommended_max_peak_lag_s"`
	UsedDefaultRules bool               `json:"used_default_thresholds"`
	Warnings         []string           `json:"warnings"`
}

func (r *Report) warn(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// WriteJSON encodes r as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}
