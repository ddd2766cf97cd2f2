package tracker

import (
	"math"
	"time"

	"harbor-presence/internal/models"
	"harbor-presence/internal/profile"
)

// RejectReason labels why a sample was dropped.
type RejectReason string

const (
	ReasonNonFiniteRSSI   RejectReason = "non_finite_rssi"
	ReasonRSSIRange       RejectReason = "rssi_out_of_range"
	ReasonTimestamp       RejectReason = "implausible_timestamp"
	ReasonUnknownReceiver RejectReason = "unknown_receiver"
	ReasonEmptyBeacon     RejectReason = "empty_beacon_id"
	ReasonOutOfOrder      RejectReason = "out_of_order"
	ReasonMalformed       RejectReason = "malformed_payload"
)

// Plausible RSSI bounds in dBm.
const (
	MinRSSI = -127.0
	MaxRSSI = 20.0
)

// validator rejects malformed samples before they are routed.
type validator struct {
	maxAge  time.Duration
	maxSkew time.Duration
	now     func() time.Time
}

func (v validator) check(s models.RawSample, p *profile.Profile) (RejectReason, bool) {
	if s.BeaconID == "" {
		return ReasonEmptyBeacon, false
	}
	if math.IsNaN(s.RSSI) || math.IsInf(s.RSSI, 0) {
		return ReasonNonFiniteRSSI, false
	}
	if s.RSSI < MinRSSI || s.RSSI > MaxRSSI {
		return ReasonRSSIRange, false
	}
	if s.Timestamp.IsZero() {
		return ReasonTimestamp, false
	}
	now := v.now()
	if s.Timestamp.Before(now.Add(-v.maxAge)) || s.Timestamp.After(now.Add(v.maxSkew)) {
		return ReasonTimestamp, false
	}
	if !p.HasReceiver(s.ReceiverID) {
		return ReasonUnknownReceiver, false
	}
	return "", true
}
