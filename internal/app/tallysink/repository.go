package tallysink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/matchday/livescore/internal/contracts"
	"github.com/matchday/livescore/internal/scoring"
	"github.com/matchday/livescore/internal/store/postgres"
)

var ErrProjectionNotFound = errors.New("tally not projected yet")

const createMatchTalliesSQL = `
CREATE TABLE IF NOT EXISTS match_tallies (
  match_id text PRIMARY KEY,
  home_score integer NOT NULL,
  away_score integer NOT NULL,
  tally jsonb NOT NULL,
  last_notice_kind text NOT NULL DEFAULT '',
  last_event_seq bigint NOT NULL DEFAULT 0,
  updated_at timestamptz NOT NULL DEFAULT now()
)`

const createMatchTalliesUpdatedIndexSQL = `
CREATE INDEX IF NOT EXISTS match_tallies_updated_idx
  ON match_tallies (updated_at DESC)`

// A projection computed for an older stream sequence never overwrites a newer
// one. Sequence 0 means the delivery carried no metadata and always applies.
const upsertTallySQL = `
INSERT INTO match_tallies (match_id, home_score, away_score, tally, last_notice_kind, last_event_seq, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (match_id) DO UPDATE
SET home_score = EXCLUDED.home_score,
    away_score = EXCLUDED.away_score,
    tally = EXCLUDED.tally,
    last_notice_kind = EXCLUDED.last_notice_kind,
    last_event_seq = GREATEST(match_tallies.last_event_seq, EXCLUDED.last_event_seq),
    updated_at = EXCLUDED.updated_at
WHERE EXCLUDED.last_event_seq = 0 OR match_tallies.last_event_seq <= EXCLUDED.last_event_seq
`

const selectTallyColumns = `match_id, tally, last_notice_kind, last_event_seq, updated_at`

// Projection is the materialized tally row for one match.
type Projection struct {
	MatchID        string               `json:"match_id"`
	Tally          scoring.Tally        `json:"tally"`
	LastNoticeKind contracts.ChangeKind `json:"last_notice_kind"`
	LastEventSeq   uint64               `json:"last_event_seq"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

type PostgresRepository struct {
	Pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{Pool: pool}
}

func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{
		createMatchTalliesSQL,
		createMatchTalliesUpdatedIndexSQL,
	} {
		if _, err := r.Pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveTally upserts p. applied is false when a newer projection was already
// stored; last_event_seq is the per-match progress marker readers see.
func (r *PostgresRepository) SaveTally(ctx context.Context, p Projection) (bool, error) {
	payload, err := json.Marshal(p.Tally)
	if err != nil {
		return false, fmt.Errorf("encode tally: %w", err)
	}
	tag, err := r.Pool.Exec(ctx, upsertTallySQL,
		p.MatchID,
		p.Tally.HomeScore,
		p.Tally.AwayScore,
		payload,
		string(p.LastNoticeKind),
		int64(p.LastEventSeq),
		p.UpdatedAt,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresRepository) GetTally(ctx context.Context, matchID string) (Projection, error) {
	p, err := scanProjection(r.Pool.QueryRow(ctx,
		`SELECT `+selectTallyColumns+` FROM match_tallies WHERE match_id = $1`,
		matchID,
	))
	if errors.Is(err, pgx.ErrNoRows) || postgres.IsUndefinedTable(err) {
		return Projection{}, ErrProjectionNotFound
	}
	return p, err
}

// ListTallies returns the most recently updated projections first.
func (r *PostgresRepository) ListTallies(ctx context.Context, limit int) ([]Projection, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.Pool.Query(ctx,
		`SELECT `+selectTallyColumns+`
		 FROM match_tallies
		 ORDER BY updated_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		if postgres.IsUndefinedTable(err) {
			return []Projection{}, nil
		}
		return nil, err
	}
	defer rows.Close()

	result := make([]Projection, 0, limit)
	for rows.Next() {
		p, err := scanProjection(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func scanProjection(row pgx.Row) (Projection, error) {
	var (
		p       Projection
		payload []byte
		kind    string
		seq     int64
	)
	if err := row.Scan(&p.MatchID, &payload, &kind, &seq, &p.UpdatedAt); err != nil {
		return Projection{}, err
	}
	if err := json.Unmarshal(payload, &p.Tally); err != nil {
		return Projection{}, fmt.Errorf("decode tally for %s: %w", p.MatchID, err)
	}
	p.LastNoticeKind = contracts.ChangeKind(kind)
	p.LastEventSeq = uint64(seq)
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}
