package signal

import (
	"math"
	"testing"
	"time"

	"harbor-presence/internal/models"
	"harbor-presence/internal/profile"

	"github.com/stretchr/testify/assert"
)

func TestCompensate(t *testing.T) {
	p := profile.Default()
	p.BiasDB = map[string]float64{"water": -2.5, "harbor": 2.5}

	water := models.RawSample{ReceiverID: "water", BeaconID: "b1", RSSI: -60}
	harbor := models.RawSample{ReceiverID: "harbor", BeaconID: "b1", RSSI: -65}
	assert.InDelta(t, -62.5, Compensate(water, p), 1e-9)
	assert.InDelta(t, -62.5, Compensate(harbor, p), 1e-9)

	unknown := models.RawSample{ReceiverID: "other", RSSI: -70}
	assert.Equal(t, -70.0, Compensate(unknown, p))
	assert.Equal(t, -60.0, Compensate(water, nil))
}

func TestMedian(t *testing.T) {
	assert.Equal(t, 0.0, Median(nil))
	assert.Equal(t, 2.0, Median([]float64{3, 1, 2}))
	assert.Equal(t, 2.5, Median([]float64{4, 1, 3, 2}))
}

// A single -20 dB outlier inside a window of 5 must not move the median output.
func TestFilter_MedianRobustToSingleOutlier(t *testing.T) {
	f := NewFilter()
	key := Key{ReceiverID: "water", BeaconID: "b1"}
	now := time.Unix(1000, 0)

	inputs := []float64{-60, -60, -60, -80, -60, -60}
	var out float64
	for i, v := range inputs {
		// alpha = 1 exposes the median stage directly
		out = f.Apply(key, v, 5, 1, now.Add(time.Duration(i)*100*time.Millisecond))
		assert.Equal(t, -60.0, out, "sample %d", i)
	}
}

func TestFilter_EMAConvergesToStep(t *testing.T) {
	f := NewFilter()
	key := Key{ReceiverID: "harbor", BeaconID: "b1"}
	now := time.Unix(1000, 0)

	f.Apply(key, -80, 3, 0.3, now)
	var out float64
	for i := 1; i <= 40; i++ {
		out = f.Apply(key, -50, 3, 0.3, now.Add(time.Duration(i)*time.Second))
	}
	assert.InDelta(t, -50, out, 0.01)

	// monotone approach, never overshoot
	f2 := NewFilter()
	f2.Apply(key, -80, 3, 0.3, now)
	prev := -80.0
	for i := 1; i <= 10; i++ {
		v := f2.Apply(key, -50, 3, 0.3, now.Add(time.Duration(i)*time.Second))
		assert.GreaterOrEqual(t, v, prev)
		assert.LessOrEqual(t, v, -50.0)
		prev = v
	}
}

func TestFilter_FirstSampleSeeds(t *testing.T) {
	f := NewFilter()
	out := f.Apply(Key{"water", "b1"}, -71, 5, 0.3, time.Unix(0, 0))
	assert.Equal(t, -71.0, out)
}

func TestFilter_WindowChangeColdStarts(t *testing.T) {
	f := NewFilter()
	key := Key{"water", "b1"}
	now := time.Unix(0, 0)
	for i := 0; i < 5; i++ {
		f.Apply(key, -90, 5, 0.3, now)
	}
	out := f.Apply(key, -40, 3, 0.3, now)
	assert.Equal(t, -40.0, out)
}

func TestFilter_KeysAreIndependent(t *testing.T) {
	f := NewFilter()
	now := time.Unix(0, 0)
	f.Apply(Key{"water", "b1"}, -90, 5, 0.3, now)
	out := f.Apply(Key{"harbor", "b1"}, -40, 5, 0.3, now)
	assert.Equal(t, -40.0, out)
	assert.Equal(t, 2, f.Len())
}

func TestFilter_Evict(t *testing.T) {
	f := NewFilter()
	base := time.Unix(0, 0)
	f.Apply(Key{"water", "b1"}, -60, 5, 0.3, base)
	f.Apply(Key{"harbor", "b1"}, -60, 5, 0.3, base.Add(25*time.Second))

	removed := f.Evict(base.Add(40*time.Second), 30*time.Second)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, f.Len())

	// evicted key re-seeds from the next sample
	out := f.Apply(Key{"water", "b1"}, -45, 5, 0.3, base.Add(41*time.Second))
	assert.Equal(t, -45.0, out)
	assert.False(t, math.IsNaN(out))
}

func TestFilter_SpikeWithinTwoDBOfCleanMedian(t *testing.T) {
	clean := []float64{-65, -58, -67, -64, -72}
	spiked := []float64{-65, -58, -67, -20, -72}

	run := func(values []float64) float64 {
		f := NewFilter()
		var out float64
		for i, v := range values {
			out = f.Apply(Key{"water", "b1"}, v, 5, 1, time.Unix(int64(i), 0))
		}
		return out
	}
	assert.InDelta(t, run(clean), run(spiked), 2)
}

func TestFilter_ConstantInputConvergesWithinBound(t *testing.T) {
	// ceil(log(0.1)/log(0.7)) = 7
	f := NewFilter()
	key := Key{"harbor", "b1"}
	f.Apply(key, -61, 3, 0.3, time.Unix(0, 0))
	f.Apply(key, -62, 3, 0.3, time.Unix(1, 0))
	f.Apply(key, -62, 3, 0.3, time.Unix(2, 0))

	// window now holds only -62 except one -61; feed 7 more constant samples
	var out float64
	for i := 0; i < 7; i++ {
		out = f.Apply(key, -62, 3, 0.3, time.Unix(int64(3+i), 0))
	}
	assert.InDelta(t, -62, out, 0.1)
}
