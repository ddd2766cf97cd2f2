// Package signal implements per-receiver bias compensation and the two-stage
// median + EMA filter applied to RSSI streams.
package signal

import (
	"harbor-presence/internal/models"
	"harbor-presence/internal/profile"
)

// Compensate returns the sample RSSI plus the receiver bias from p.
// A nil profile or a receiver without an entry contributes zero bias.
func Compensate(s models.RawSample, p *profile.Profile) float64 {
	return s.RSSI + p.Bias(s.ReceiverID)
}
