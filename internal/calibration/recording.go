package calibration

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"harbor-presence/internal/models"
)

// Placement is a static beacon position used during the static phase.
type Placement string

const (
	PlacementCenter     Placement = "CENTER"
	PlacementNearWater  Placement = "NEAR_WATER"
	PlacementNearHarbor Placement = "NEAR_HARBOR"
)

// Placements lists the static placements in collection order.
var Placements = []Placement{PlacementCenter, PlacementNearWater, PlacementNearHarbor}

// SampleRecord is one recorded advertisement.
type SampleRecord struct {
	Receiver string    `json:"receiver"`
	Beacon   string    `json:"beacon"`
	RSSI     float64   `json:"rssi"`
	TS       time.Time `json:"ts"`
}

func (r SampleRecord) Raw() models.RawSample {
	return models.RawSample{ReceiverID: r.Receiver, BeaconID: r.Beacon, RSSI: r.RSSI, Timestamp: r.TS}
}

// Walk is one labelled pass through the doorway.
type Walk struct {
	Label   models.Direction `json:"label"`
	Samples []SampleRecord   `json:"samples"`
}

// Session is a complete recorded calibration run.
type Session struct {
	WaterReceiver  string                       `json:"water_receiver"`
	HarborReceiver string                       `json:"harbor_receiver"`
	Static         map[Placement][]SampleRecord `json:"static"`
	Walks          []Walk                       `json:"walks"`
}

// LoadSession reads a session file.
func LoadSession(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if s.WaterReceiver == "" || s.HarborReceiver == "" {
		return nil, fmt.Errorf("session must name water_receiver and harbor_receiver")
	}
	if s.WaterReceiver == s.HarborReceiver {
		return nil, fmt.Errorf("water and harbor receiver are both %q", s.WaterReceiver)
	}
	for i, w := range s.Walks {
		if w.Label != models.DirectionEnter && w.Label != models.DirectionLeave {
			return nil, fmt.Errorf("walk %d has label %q, want ENTER or LEAVE", i, w.Label)
		}
	}
	return &s, nil
}

// SaveSession writes s as indented JSON.
func SaveSession(path string, s *Session) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

// byReceiver splits RSSI values of records per receiver.
func byReceiver(records []SampleRecord) map[string][]float64 {
	out := make(map[string][]float64)
	for _, r := range records {
		out[r.Receiver] = append(out[r.Receiver], r.RSSI)
	}
	return out
}

// sortedByTime returns a copy of records in timestamp order.
func sortedByTime(records []SampleRecord) []SampleRecord {
	out := append([]SampleRecord(nil), records...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].TS.Before(out[j].TS) })
	return out
}
