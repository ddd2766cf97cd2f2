package calibration

import (
	"math"

	"harbor-presence/internal/signal"
)

// Stats summarises one receiver's readings for one placement.
type Stats struct {
	Count  int     `json:"count"`
	Median float64 `json:"median_db"`
	Mean   float64 `json:"mean_db"`
	StdDev float64 `json:"stddev_db"`
}

// computeStats uses the population standard deviation.
func computeStats(values []float64) Stats {
	n := len(values)
	if n == 0 {
		return Stats{}
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(n)

	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}

	sorted := append([]float64(nil), values...)
	return Stats{
		Count:  n,
		Median: signal.Median(sorted),
		Mean:   mean,
		StdDev: math.Sqrt(sq / float64(n)),
	}
}
