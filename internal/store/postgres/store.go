// Package postgres stores matches, clocks and ledgers in Postgres through pgx.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/matchday/livescore/internal/match"
	"github.com/matchday/livescore/internal/matchclock"
)

const createMatchesSQL = `
CREATE TABLE IF NOT EXISTS matches (
  match_id text PRIMARY KEY,
  status text NOT NULL DEFAULT 'scheduled',
  tournament_name text NOT NULL DEFAULT '',
  venue text NOT NULL DEFAULT '',
  home_team jsonb NOT NULL DEFAULT '{}',
  away_team jsonb NOT NULL DEFAULT '{}',
  match_date timestamptz,
  created_at timestamptz NOT NULL DEFAULT now(),
  updated_at timestamptz NOT NULL DEFAULT now()
)`

const createMatchTimersSQL = `
CREATE TABLE IF NOT EXISTS match_timers (
  match_id text PRIMARY KEY REFERENCES matches(match_id) ON DELETE CASCADE,
  is_running boolean NOT NULL DEFAULT false,
  started_at timestamptz,
  paused_at timestamptz,
  offset_seconds bigint NOT NULL DEFAULT 0 CHECK (offset_seconds >= 0),
  current_half text NOT NULL DEFAULT '1',
  last_synced_at timestamptz NOT NULL DEFAULT now(),
  CHECK (NOT is_running OR started_at IS NOT NULL)
)`

const createMatchEventsSQL = `
CREATE TABLE IF NOT EXISTS match_events (
  seq bigserial,
  match_id text NOT NULL,
  event_id text NOT NULL,
  minute integer NOT NULL CHECK (minute >= 0),
  kind text NOT NULL,
  team text NOT NULL,
  player jsonb,
  description text NOT NULL DEFAULT '',
  delta integer NOT NULL DEFAULT 0,
  recorded_by text NOT NULL DEFAULT '',
  created_at timestamptz NOT NULL,
  PRIMARY KEY (match_id, event_id)
)`

const createMatchEventsOrderIndexSQL = `
CREATE INDEX IF NOT EXISTS match_events_ingestion_idx
ON match_events (match_id, created_at, seq)`

const insertMatchSQL = `
INSERT INTO matches (match_id, status, tournament_name, venue, home_team, away_team, match_date)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (match_id) DO UPDATE
SET status = EXCLUDED.status,
    tournament_name = EXCLUDED.tournament_name,
    venue = EXCLUDED.venue,
    home_team = EXCLUDED.home_team,
    away_team = EXCLUDED.away_team,
    match_date = EXCLUDED.match_date,
    updated_at = now()
`

const insertTimerSQL = `
INSERT INTO match_timers (match_id, current_half)
VALUES ($1, '1')
ON CONFLICT (match_id) DO NOTHING
`

const upsertTimerSQL = `
INSERT INTO match_timers (match_id, is_running, started_at, paused_at, offset_seconds, current_half, last_synced_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (match_id) DO UPDATE
SET is_running = EXCLUDED.is_running,
    started_at = EXCLUDED.started_at,
    paused_at = EXCLUDED.paused_at,
    offset_seconds = EXCLUDED.offset_seconds,
    current_half = EXCLUDED.current_half,
    last_synced_at = GREATEST(match_timers.last_synced_at, EXCLUDED.last_synced_at)
`

const insertEventSQL = `
INSERT INTO match_events (
  match_id, event_id, minute, kind, team, player, description, delta, recorded_by, created_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (match_id, event_id) DO NOTHING
RETURNING seq
`

const selectEventColumns = `
SELECT seq, match_id, event_id, minute, kind, team, player, description, delta, recorded_by, created_at
FROM match_events`

type Store struct {
	Pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{
		createMatchesSQL,
		createMatchTimersSQL,
		createMatchEventsSQL,
		createMatchEventsOrderIndexSQL,
	} {
		if _, err := s.Pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// CreateMatch upserts m and gives it a fresh clock if it has none.
func (s *Store) CreateMatch(ctx context.Context, m match.Match) error {
	home, err := json.Marshal(m.HomeTeam)
	if err != nil {
		return err
	}
	away, err := json.Marshal(m.AwayTeam)
	if err != nil {
		return err
	}
	var scheduled *time.Time
	if !m.ScheduledAt.IsZero() {
		scheduled = &m.ScheduledAt
	}

	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return match.StoreError("begin create match", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, insertMatchSQL, m.ID, string(m.Status), m.Tournament, m.Venue, home, away, scheduled); err != nil {
		return match.StoreError("insert match", err)
	}
	if _, err := tx.Exec(ctx, insertTimerSQL, m.ID); err != nil {
		return match.StoreError("insert timer", err)
	}
	return match.StoreError("commit create match", tx.Commit(ctx))
}

func (s *Store) SetMatchStatus(ctx context.Context, matchID string, status match.Status) error {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE matches SET status = $2, updated_at = now() WHERE match_id = $1`,
		matchID, string(status),
	)
	if err != nil {
		return match.StoreError("update match status", err)
	}
	if tag.RowsAffected() == 0 {
		return match.ErrMatchNotFound
	}
	return nil
}

func (s *Store) GetMatch(ctx context.Context, matchID string) (match.Match, error) {
	var (
		m         match.Match
		status    string
		home      []byte
		away      []byte
		scheduled *time.Time
	)
	err := s.Pool.QueryRow(ctx,
		`SELECT match_id, status, tournament_name, venue, home_team, away_team, match_date, created_at, updated_at
		 FROM matches
		 WHERE match_id = $1`,
		matchID,
	).Scan(&m.ID, &status, &m.Tournament, &m.Venue, &home, &away, &scheduled, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return match.Match{}, match.ErrMatchNotFound
		}
		return match.Match{}, match.StoreError("get match", err)
	}
	m.Status = match.Status(status)
	if scheduled != nil {
		m.ScheduledAt = *scheduled
	}
	if err := json.Unmarshal(home, &m.HomeTeam); err != nil {
		return match.Match{}, match.StoreError("decode home team", err)
	}
	if err := json.Unmarshal(away, &m.AwayTeam); err != nil {
		return match.Match{}, match.StoreError("decode away team", err)
	}
	return m, nil
}

func (s *Store) GetTimer(ctx context.Context, matchID string) (matchclock.Timer, error) {
	var (
		t    matchclock.Timer
		half string
	)
	err := s.Pool.QueryRow(ctx,
		`SELECT is_running, started_at, paused_at, offset_seconds, current_half, last_synced_at
		 FROM match_timers
		 WHERE match_id = $1`,
		matchID,
	).Scan(&t.IsRunning, &t.StartedAt, &t.PausedAt, &t.Offset, &half, &t.LastSyncedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return matchclock.Timer{}, match.ErrMatchNotFound
		}
		return matchclock.Timer{}, match.StoreError("get timer", err)
	}
	parsed, err := matchclock.ParseHalf(half)
	if err != nil {
		return matchclock.Timer{}, match.StoreError("decode timer half", err)
	}
	t.CurrentHalf = parsed
	return t, nil
}

// PutTimer replaces the stored clock. Concurrent writers race and the last one wins.
func (s *Store) PutTimer(ctx context.Context, matchID string, t matchclock.Timer) error {
	_, err := s.Pool.Exec(ctx, upsertTimerSQL,
		matchID, t.IsRunning, t.StartedAt, t.PausedAt, t.Offset, string(t.CurrentHalf), t.LastSyncedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return match.ErrMatchNotFound
		}
		return match.StoreError("put timer", err)
	}
	return nil
}

func (s *Store) InsertEvent(ctx context.Context, e match.Event) (match.Event, bool, error) {
	var player []byte
	if e.Player != nil {
		encoded, err := json.Marshal(e.Player)
		if err != nil {
			return match.Event{}, false, err
		}
		player = encoded
	}

	var seq int64
	err := s.Pool.QueryRow(ctx, insertEventSQL,
		e.MatchID, e.ID, e.Minute, string(e.Kind), string(e.Team), player, e.Description, e.Delta, e.RecordedBy, e.CreatedAt,
	).Scan(&seq)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Conflict: the id is already in the ledger.
			stored, getErr := s.GetEvent(ctx, e.MatchID, e.ID)
			if getErr != nil {
				return match.Event{}, false, getErr
			}
			return stored, false, nil
		}
		return match.Event{}, false, match.StoreError("insert event", err)
	}
	e.Seq = seq
	return e, true, nil
}

func (s *Store) ListEvents(ctx context.Context, matchID string) ([]match.Event, error) {
	rows, err := s.Pool.Query(ctx,
		selectEventColumns+`
		 WHERE match_id = $1
		 ORDER BY created_at ASC, seq ASC`,
		matchID,
	)
	if err != nil {
		return nil, match.StoreError("list events", err)
	}
	defer rows.Close()

	events := make([]match.Event, 0, 32)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, match.StoreError("scan event", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, match.StoreError("list events", err)
	}
	return events, nil
}

func (s *Store) GetEvent(ctx context.Context, matchID, eventID string) (match.Event, error) {
	row := s.Pool.QueryRow(ctx,
		selectEventColumns+`
		 WHERE match_id = $1 AND event_id = $2`,
		matchID, eventID,
	)
	e, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return match.Event{}, match.ErrEventNotFound
		}
		return match.Event{}, match.StoreError("get event", err)
	}
	return e, nil
}

func (s *Store) DeleteEvent(ctx context.Context, matchID, eventID string) error {
	tag, err := s.Pool.Exec(ctx,
		`DELETE FROM match_events WHERE match_id = $1 AND event_id = $2`,
		matchID, eventID,
	)
	if err != nil {
		return match.StoreError("delete event", err)
	}
	if tag.RowsAffected() == 0 {
		return match.ErrEventNotFound
	}
	return nil
}

func scanEvent(row pgx.Row) (match.Event, error) {
	var (
		e      match.Event
		kind   string
		team   string
		player []byte
	)
	if err := row.Scan(&e.Seq, &e.MatchID, &e.ID, &e.Minute, &kind, &team, &player, &e.Description, &e.Delta, &e.RecordedBy, &e.CreatedAt); err != nil {
		return match.Event{}, err
	}
	e.Kind = match.Kind(kind)
	e.Team = match.Team(team)
	if len(player) > 0 {
		var p match.Player
		if err := json.Unmarshal(player, &p); err != nil {
			return match.Event{}, err
		}
		e.Player = &p
	}
	return e, nil
}
