package calibration

import (
	"bytes"
	"math"
	"path/filepath"
	"testing"
	"time"

	"harbor-presence/internal/models"
	"harbor-presence/internal/profile"
	"harbor-presence/internal/signal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

var start = time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

func constant(receiver string, rssi float64, n int, jitter float64) []SampleRecord {
	out := make([]SampleRecord, 0, n)
	for i := 0; i < n; i++ {
		v := rssi
		if jitter > 0 {
			if i%2 == 0 {
				v += jitter
			} else {
				v -= jitter
			}
		}
		out = append(out, SampleRecord{Receiver: receiver, Beacon: "cal", RSSI: v, TS: start.Add(time.Duration(i) * 100 * time.Millisecond)})
	}
	return out
}

func static(center, nearWater, nearHarbor [2]float64, n int) map[Placement][]SampleRecord {
	mk := func(v [2]float64) []SampleRecord {
		return append(constant("water", v[0], n, 1), constant("harbor", v[1], n, 1)...)
	}
	return map[Placement][]SampleRecord{
		PlacementCenter:     mk(center),
		PlacementNearWater:  mk(nearWater),
		PlacementNearHarbor: mk(nearHarbor),
	}
}

// tentWalk rises 20 dB/s to each apex and falls again; harbor samples trail water by 50 ms.
func tentWalk(label models.Direction, waterApexMs, harborApexMs int, waterPeak, harborPeak float64) Walk {
	tent := func(peak float64, apexMs, ms int) float64 {
		return peak - 0.02*math.Abs(float64(ms-apexMs))
	}
	var samples []SampleRecord
	for ms := 0; ms <= 2000; ms += 100 {
		samples = append(samples,
			SampleRecord{Receiver: "water", Beacon: "cal", RSSI: tent(waterPeak, waterApexMs, ms), TS: start.Add(time.Duration(ms) * time.Millisecond)},
			SampleRecord{Receiver: "harbor", Beacon: "cal", RSSI: tent(harborPeak, harborApexMs, ms+50), TS: start.Add(time.Duration(ms+50) * time.Millisecond)},
		)
	}
	return Walk{Label: label, Samples: samples}
}

// smoothedApex runs one tentWalk stream through the default filter and
// returns its highest output, the value the classifier sees as the peak.
func smoothedApex(peak float64, apexMs, offsetMs int) float64 {
	f := signal.NewFilter()
	key := signal.Key{ReceiverID: "r", BeaconID: "cal"}
	best := math.Inf(-1)
	for ms := 0; ms <= 2000; ms += 100 {
		v := peak - 0.02*math.Abs(float64(ms+offsetMs-apexMs))
		best = math.Max(best, f.Apply(key, v, profile.DefaultMedianWindow, profile.DefaultEMAAlpha, start))
	}
	return best
}

func newSession() *Session {
	return &Session{
		WaterReceiver:  "water",
		HarborReceiver: "harbor",
		Static:         static([2]float64{-60, -60}, [2]float64{-50, -70}, [2]float64{-70, -50}, 30),
		Walks: []Walk{
			tentWalk(models.DirectionEnter, 1000, 1250, -50, -58),
			tentWalk(models.DirectionLeave, 1300, 1050, -55, -49),
		},
	}
}

func TestCalibrate_BiasSymmetry(t *testing.T) {
	s := newSession()
	s.Static[PlacementCenter] = append(constant("water", -60, 30, 0), constant("harbor", -65, 30, 0)...)

	p, report, err := NewEngine(DefaultOptions(), zap.NewNop()).Calibrate(s, 7)
	require.NoError(t, err)

	assert.InDelta(t, -2.5, p.BiasDB["water"], 1e-9)
	assert.InDelta(t, 2.5, p.BiasDB["harbor"], 1e-9)

	water := signal.Compensate(models.RawSample{ReceiverID: "water", RSSI: -60}, p)
	harbor := signal.Compensate(models.RawSample{ReceiverID: "harbor", RSSI: -65}, p)
	assert.InDelta(t, water, harbor, 0.01)

	assert.Equal(t, 7, p.Version)
	assert.Equal(t, report.BiasDB, p.BiasDB)
}

func TestCalibrate_MovementThresholds(t *testing.T) {
	p, report, err := NewEngine(DefaultOptions(), zap.NewNop()).Calibrate(newSession(), 1)
	require.NoError(t, err)

	assert.Equal(t, PhaseSummary{Passed: 3}, report.Static)
	assert.Equal(t, PhaseSummary{Passed: 2}, report.Movement)
	require.Len(t, report.Walks, 2)
	assert.Equal(t, models.DirectionEnter, report.Walks[0].Detected)
	assert.Equal(t, models.DirectionLeave, report.Walks[1].Detected)
	assert.Equal(t, 250*time.Millisecond, report.Walks[0].Lag)

	// the leave walk has the narrower gap once smoothed
	gap := smoothedApex(-49, 1050, 50) - smoothedApex(-55, 1300, 0)
	assert.InDelta(t, 6.05, gap, 0.01)
	assert.InDelta(t, gap, report.MinObservedGap, 1e-9)
	assert.InDelta(t, math.Round(gap*50)/100, p.Decision.MinDominanceDB, 1e-9)
	assert.InDelta(t, 0.41, p.Decision.MaxPeakLagS, 1e-9)
	assert.False(t, report.UsedDefaultRules)
	assert.Empty(t, report.Warnings)

	assert.Equal(t, "water", p.Orientation.WaterReceiver)
	assert.Equal(t, "harbor", p.Orientation.HarborReceiver)
	assert.NoError(t, p.Validate())
}

func TestCalibrate_MislabelledWalksKeepDefaults(t *testing.T) {
	s := newSession()
	s.Walks = []Walk{tentWalk(models.DirectionLeave, 1000, 1250, -50, -58)}

	p, report, err := NewEngine(DefaultOptions(), zap.NewNop()).Calibrate(s, 1)
	require.NoError(t, err)

	assert.Equal(t, PhaseSummary{Failed: 1}, report.Movement)
	assert.Equal(t, models.DirectionEnter, report.Walks[0].Detected)
	assert.True(t, report.UsedDefaultRules)
	assert.Equal(t, 3.0, p.Decision.MinDominanceDB)
	assert.Equal(t, 1.0, p.Decision.MaxPeakLagS)
	assert.NotEmpty(t, report.Warnings)
}

func TestCalibrate_SanityWarningsDoNotReject(t *testing.T) {
	s := &Session{
		WaterReceiver:  "water",
		HarborReceiver: "harbor",
		Static: map[Placement][]SampleRecord{
			// 30 dB apart: |bias| of 15 dB is above the 10 dB bound
			PlacementCenter: append(constant("water", -50, 30, 0), constant("harbor", -80, 30, 0)...),
			// unstable and short
			PlacementNearWater: append(constant("water", -45, 5, 8), constant("harbor", -60, 5, 8)...),
			// after compensation harbor (-85+15=-70) is weaker than water (-50-15=-65)
			PlacementNearHarbor: append(constant("water", -50, 30, 0), constant("harbor", -85, 30, 0)...),
		},
	}

	p, report, err := NewEngine(DefaultOptions(), zap.NewNop()).Calibrate(s, 2)
	require.NoError(t, err)
	require.NotNil(t, p)

	assert.Equal(t, PhaseSummary{Failed: 3}, report.Static)
	assert.InDelta(t, -15, p.BiasDB["water"], 1e-9)
	assert.True(t, report.UsedDefaultRules)

	joined := ""
	for _, w := range report.Warnings {
		joined += w + "\n"
	}
	assert.Contains(t, joined, "bias magnitude")
	assert.Contains(t, joined, "unstable")
	assert.Contains(t, joined, "only 5 samples")
	assert.Contains(t, joined, "does not read stronger")
}

func TestCalibrate_MissingCenterLeavesZeroBias(t *testing.T) {
	s := newSession()
	delete(s.Static, PlacementCenter)

	p, report, err := NewEngine(DefaultOptions(), zap.NewNop()).Calibrate(s, 1)
	require.NoError(t, err)
	assert.Zero(t, p.BiasDB["water"])
	assert.Zero(t, p.BiasDB["harbor"])
	assert.Equal(t, 1, report.Static.Failed)
}

func TestComputeStats(t *testing.T) {
	st := computeStats([]float64{-62, -60, -58, -60})
	assert.Equal(t, 4, st.Count)
	assert.Equal(t, -60.0, st.Median)
	assert.Equal(t, -60.0, st.Mean)
	assert.InDelta(t, math.Sqrt(2), st.StdDev, 1e-9)
	assert.Equal(t, Stats{}, computeStats(nil))
}

func TestReportExports(t *testing.T) {
	_, report, err := NewEngine(DefaultOptions(), zap.NewNop()).Calibrate(newSession(), 4)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, report.WriteJSON(&buf))
	assert.Contains(t, buf.String(), `"recommended_min_dominance_db"`)

	data, err := GenerateXLSX(report)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Summary", "Static", "Walks"}, f.GetSheetList())
	v, err := f.GetCellValue("Summary", "B3")
	require.NoError(t, err)
	assert.Equal(t, "4", v)
	v, err = f.GetCellValue("Walks", "B2")
	require.NoError(t, err)
	assert.Equal(t, "ENTER", v)
}

func TestSessionFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, SaveSession(path, newSession()))

	loaded, err := LoadSession(path)
	require.NoError(t, err)
	assert.Len(t, loaded.Walks, 2)
	assert.Len(t, loaded.Static[PlacementCenter], 60)

	bad := newSession()
	bad.Walks[0].Label = "SIDEWAYS"
	require.NoError(t, SaveSession(path, bad))
	_, err = LoadSession(path)
	assert.Error(t, err)
}
