package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"harbor-presence/internal/models"

	"go.uber.org/zap"
)

const schema = `
CREATE TABLE IF NOT EXISTS presence_states (
	beacon_id          TEXT PRIMARY KEY,
	state              TEXT NOT NULL,
	entered_at         TIMESTAMPTZ,
	last_transition_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS presence_transitions (
	id          BIGSERIAL PRIMARY KEY,
	beacon_id   TEXT NOT NULL,
	from_state  TEXT NOT NULL,
	to_state    TEXT NOT NULL,
	changed_at  TIMESTAMPTZ NOT NULL,
	stay_ms     BIGINT,
	event_id    TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS direction_events (
	event_id     TEXT PRIMARY KEY,
	beacon_id    TEXT NOT NULL,
	direction    TEXT NOT NULL,
	detected_at  TIMESTAMPTZ NOT NULL,
	lag_ms       BIGINT NOT NULL,
	near_peak_db DOUBLE PRECISION NOT NULL,
	far_peak_db  DOUBLE PRECISION NOT NULL,
	gap_db       DOUBLE PRECISION NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_direction_events_beacon ON direction_events (beacon_id, detected_at DESC);
`

// PresenceRepository persists presence state, its transitions and the
// accepted direction events. It is registered as a tracker listener.
type PresenceRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPresenceRepository(db *sql.DB, logger *zap.Logger) *PresenceRepository {
	return &PresenceRepository{db: db, logger: logger}
}

func (r *PresenceRepository) Name() string { return "postgres" }

// EnsureSchema creates the tables if they do not exist.
func (r *PresenceRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// LoadStates returns every persisted beacon state, used to seed the tracker on start.
func (r *PresenceRepository) LoadStates(ctx context.Context) ([]models.PresenceState, error) {
	query := `
		SELECT beacon_id, state, entered_at, last_transition_at
		FROM presence_states
		ORDER BY beacon_id
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query presence states: %w", err)
	}
	defer rows.Close()

	var states []models.PresenceState
	for rows.Next() {
		var (
			s         models.PresenceState
			state     string
			enteredAt sql.NullTime
		)
		if err := rows.Scan(&s.BeaconID, &state, &enteredAt, &s.LastTransitionAt); err != nil {
			return nil, fmt.Errorf("failed to scan presence state: %w", err)
		}
		s.State = models.State(state)
		if enteredAt.Valid {
			t := enteredAt.Time
			s.EnteredAt = &t
		}
		states = append(states, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate presence states: %w", err)
	}
	return states, nil
}

// SaveTransition upserts the beacon's state and appends the transition in one transaction.
func (r *PresenceRepository) SaveTransition(ctx context.Context, change models.PresenceChange) error {
	if change.BeaconID == "" {
		return fmt.Errorf("beacon_id is required")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	upsert := `
		INSERT INTO presence_states (beacon_id, state, entered_at, last_transition_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (beacon_id) DO UPDATE SET
			state = EXCLUDED.state,
			entered_at = EXCLUDED.entered_at,
			last_transition_at = EXCLUDED.last_transition_at
	`
	var enteredAt interface{}
	if change.State.EnteredAt != nil {
		enteredAt = *change.State.EnteredAt
	}
	if _, err := tx.ExecContext(ctx, upsert,
		change.BeaconID,
		string(change.To),
		enteredAt,
		change.At,
	); err != nil {
		return fmt.Errorf("failed to upsert presence state: %w", err)
	}

	insert := `
		INSERT INTO presence_transitions (beacon_id, from_state, to_state, changed_at, stay_ms, event_id)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	var stay interface{}
	if change.Duration > 0 {
		stay = change.Duration.Milliseconds()
	}
	if _, err := tx.ExecContext(ctx, insert,
		change.BeaconID,
		string(change.From),
		string(change.To),
		change.At,
		stay,
		change.EventID,
	); err != nil {
		return fmt.Errorf("failed to insert presence transition: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transition: %w", err)
	}
	return nil
}

// SaveDirectionEvent stores an accepted event; a replayed event_id is ignored.
func (r *PresenceRepository) SaveDirectionEvent(ctx context.Context, ev models.DirectionEvent) error {
	query := `
		INSERT INTO direction_events (
			event_id, beacon_id, direction, detected_at, lag_ms, near_peak_db, far_peak_db, gap_db
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (event_id) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, query,
		ev.EventID,
		ev.BeaconID,
		string(ev.Direction),
		ev.DetectedAt,
		ev.Lag.Milliseconds(),
		ev.NearPeak,
		ev.FarPeak,
		ev.Gap,
	)
	if err != nil {
		return fmt.Errorf("failed to insert direction event: %w", err)
	}
	return nil
}

// RecentEvents returns the newest direction events of a beacon.
func (r *PresenceRepository) RecentEvents(ctx context.Context, beaconID string, limit int) ([]models.DirectionEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT event_id, beacon_id, direction, detected_at, lag_ms, near_peak_db, far_peak_db, gap_db
		FROM direction_events
		WHERE beacon_id = $1
		ORDER BY detected_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, beaconID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query direction events: %w", err)
	}
	defer rows.Close()

	var events []models.DirectionEvent
	for rows.Next() {
		var (
			ev        models.DirectionEvent
			direction string
			lagMs     int64
		)
		if err := rows.Scan(&ev.EventID, &ev.BeaconID, &direction, &ev.DetectedAt, &lagMs, &ev.NearPeak, &ev.FarPeak, &ev.Gap); err != nil {
			return nil, fmt.Errorf("failed to scan direction event: %w", err)
		}
		ev.Direction = models.Direction(direction)
		ev.Lag = time.Duration(lagMs) * time.Millisecond
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (r *PresenceRepository) OnDirectionEvent(ctx context.Context, ev models.DirectionEvent) error {
	return r.SaveDirectionEvent(ctx, ev)
}

func (r *PresenceRepository) OnPresenceChanged(ctx context.Context, change models.PresenceChange) error {
	if err := r.SaveTransition(ctx, change); err != nil {
		return err
	}
	r.logger.Debug("Presence transition persisted",
		zap.String("beacon_id", change.BeaconID),
		zap.String("to", string(change.To)),
	)
	return nil
}
