// Package tallysink maintains the materialized tally read model from the
// change notice stream.
package tallysink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/matchday/livescore/internal/match"
	"github.com/matchday/livescore/internal/notify"
	"github.com/matchday/livescore/internal/scoring"
	"github.com/rs/zerolog/log"
)

// ErrUnknownMatch means the notice names a match the ledger no longer has.
var ErrUnknownMatch = errors.New("notice for unknown match")

type Repository interface {
	SaveTally(ctx context.Context, p Projection) (bool, error)
}

// TallyFunc recomputes the authoritative tally from the ledger.
type TallyFunc func(ctx context.Context, matchID string) (scoring.Tally, error)

type Service struct {
	Repository Repository
	Tally      TallyFunc
	Now        func() time.Time
}

func NewService(repository Repository, tally TallyFunc) *Service {
	return &Service{
		Repository: repository,
		Tally:      tally,
		Now:        func() time.Time { return time.Now().UTC() },
	}
}

// Handle projects one delivered notice. The notice only says which match
// changed; the tally is always re-read from the ledger, so redelivered or
// reordered notices converge on the same row.
func (s *Service) Handle(ctx context.Context, payload []byte, eventSeq uint64) error {
	notice, err := notify.Decode(payload)
	if err != nil {
		return err
	}
	tally, err := s.Tally(ctx, notice.MatchID)
	if err != nil {
		if errors.Is(err, match.ErrNotFound) {
			return fmt.Errorf("%w %s: %v", ErrUnknownMatch, notice.MatchID, err)
		}
		return err
	}

	applied, err := s.Repository.SaveTally(ctx, Projection{
		MatchID:        notice.MatchID,
		Tally:          tally,
		LastNoticeKind: notice.Kind,
		LastEventSeq:   eventSeq,
		UpdatedAt:      s.Now(),
	})
	if err != nil {
		return err
	}
	if applied {
		projectionsTotal.WithLabelValues("applied").Inc()
	} else {
		projectionsTotal.WithLabelValues("stale").Inc()
	}
	log.Debug().
		Str("match_id", notice.MatchID).
		Str("kind", string(notice.Kind)).
		Uint64("seq", eventSeq).
		Bool("applied", applied).
		Msg("tally projected")
	return nil
}

// Disposition is how a delivery is settled with JetStream.
type Disposition int

const (
	Ack Disposition = iota
	// Nak asks for redelivery; the failure may be transient.
	Nak
	// Term drops a delivery that can never succeed.
	Term
)

func DispositionFor(err error) Disposition {
	switch {
	case err == nil:
		return Ack
	case errors.Is(err, notify.ErrInvalidNotice), errors.Is(err, ErrUnknownMatch):
		return Term
	default:
		return Nak
	}
}
