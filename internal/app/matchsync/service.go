// Package matchsync is the write and read contract scorekeeper and viewer
// clients use. It composes the ledger, the projector and the game clock and
// publishes a change notice after every authoritative write.
package matchsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/matchday/livescore/internal/contracts"
	"github.com/matchday/livescore/internal/ledger"
	"github.com/matchday/livescore/internal/match"
	"github.com/matchday/livescore/internal/matchclock"
	"github.com/matchday/livescore/internal/scoring"
	"github.com/matchday/livescore/internal/sharding"
	"github.com/nats-io/nuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Store holds the per-match documents other than the ledger.
type Store interface {
	GetMatch(ctx context.Context, matchID string) (match.Match, error)
	GetTimer(ctx context.Context, matchID string) (matchclock.Timer, error)
	PutTimer(ctx context.Context, matchID string, timer matchclock.Timer) error
}

type PublishFunc func(ctx context.Context, notice contracts.ChangeNotice) error

type Service struct {
	Store   Store
	Ledger  *ledger.Ledger
	Publish PublishFunc
	Clock   clockwork.Clock
	NewID   func() string
}

// Actor is the verified identity behind a write. It is always passed
// explicitly; nothing is read from request-scoped globals.
type Actor struct {
	UserID   string
	Username string
}

func (a Actor) label() string {
	if name := strings.TrimSpace(a.Username); name != "" {
		return name
	}
	return strings.TrimSpace(a.UserID)
}

type EventRequest struct {
	EventID     string        `json:"event_id,omitempty"`
	Team        string        `json:"team"`
	Kind        string        `json:"type"`
	Minute      *int          `json:"minute,omitempty"`
	Player      *match.Player `json:"player,omitempty"`
	Description string        `json:"description,omitempty"`
	Delta       int           `json:"delta,omitempty"`
}

type AdjustRequest struct {
	EventID string `json:"event_id,omitempty"`
	Team    string `json:"team"`
	Delta   int    `json:"delta"`
	Reason  string `json:"reason,omitempty"`
	Minute  *int   `json:"minute,omitempty"`
}

type Result struct {
	Event     match.Event   `json:"event"`
	Tally     scoring.Tally `json:"tally"`
	Duplicate bool          `json:"duplicate"`
}

type Snapshot struct {
	Match      match.Match      `json:"match"`
	Timer      matchclock.Timer `json:"timer"`
	Elapsed    int64            `json:"elapsed_seconds"`
	Minute     int              `json:"minute"`
	Tally      scoring.Tally    `json:"tally"`
	Events     []match.Event    `json:"events"`
	ServerTime time.Time        `json:"server_time"`
}

func NewService(store Store, events ledger.Store, publish PublishFunc) *Service {
	s := &Service{
		Store:   store,
		Publish: publish,
		Clock:   clockwork.NewRealClock(),
		NewID:   nuid.Next,
	}
	s.Ledger = ledger.New(events)
	s.Ledger.Now = s.now
	return s
}

func (s *Service) now() time.Time {
	return s.Clock.Now().UTC()
}

// RecordScoreEvent appends one fixed-value scoring play. When minute is not
// supplied it is read off the game clock.
func (s *Service) RecordScoreEvent(ctx context.Context, actor Actor, matchID string, req EventRequest) (Result, error) {
	kind := match.ParseKind(req.Kind)
	if !kind.IsScoring() {
		return Result{}, match.Invalid("type must be one of try, conversion, penalty, drop_goal")
	}
	if req.Delta != 0 {
		return Result{}, match.Invalid("delta is only allowed on manual adjustments")
	}
	return s.record(ctx, actor, matchID, kind, req)
}

// RecordManualEvent appends an operator-entered entry of any known kind, cards
// and substitutions included. A manual_adjustment goes through AdjustScore.
func (s *Service) RecordManualEvent(ctx context.Context, actor Actor, matchID string, req EventRequest) (Result, error) {
	kind := match.ParseKind(req.Kind)
	switch {
	case kind == "":
		return Result{}, match.Invalid("type is required")
	case !kind.Known():
		return Result{}, match.Invalid("unsupported event type %q", req.Kind)
	case kind == match.KindManualAdjustment:
		return s.AdjustScore(ctx, actor, matchID, AdjustRequest{
			EventID: req.EventID,
			Team:    req.Team,
			Delta:   req.Delta,
			Reason:  req.Description,
			Minute:  req.Minute,
		})
	case req.Delta != 0:
		return Result{}, match.Invalid("delta is only allowed on manual adjustments")
	}
	return s.record(ctx, actor, matchID, kind, req)
}

func (s *Service) record(ctx context.Context, actor Actor, matchID string, kind match.Kind, req EventRequest) (Result, error) {
	matchID = strings.TrimSpace(matchID)
	team := match.ParseTeam(req.Team)
	if !team.Valid() {
		return Result{}, match.Invalid("team must be home or away")
	}
	if req.Minute != nil && *req.Minute < 0 {
		return Result{}, match.Invalid("minute must be non-negative")
	}
	if _, err := s.requireLive(ctx, matchID); err != nil {
		return Result{}, err
	}

	minute, err := s.minute(ctx, matchID, req.Minute)
	if err != nil {
		return Result{}, err
	}
	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = match.DefaultDescription(kind, team)
	}

	return s.appendEvent(ctx, actor, match.Event{
		ID:          s.eventID(req.EventID),
		MatchID:     matchID,
		Minute:      minute,
		Kind:        kind,
		Team:        team,
		Player:      req.Player,
		Description: description,
		RecordedBy:  actor.label(),
	})
}

// AdjustScore applies a manual override as a manual_adjustment ledger entry
// carrying a signed delta, so the projector stays the only way a score is
// computed. A delta that would take the team below zero is rejected.
func (s *Service) AdjustScore(ctx context.Context, actor Actor, matchID string, req AdjustRequest) (Result, error) {
	matchID = strings.TrimSpace(matchID)
	team := match.ParseTeam(req.Team)
	switch {
	case !team.Valid():
		return Result{}, match.Invalid("team must be home or away")
	case req.Delta == 0:
		return Result{}, match.Invalid("delta must be non-zero")
	case req.Minute != nil && *req.Minute < 0:
		return Result{}, match.Invalid("minute must be non-negative")
	}
	if _, err := s.requireLive(ctx, matchID); err != nil {
		return Result{}, err
	}

	eventID := strings.TrimSpace(req.EventID)
	if eventID != "" {
		// A retry must not be re-checked against a score it already changed.
		existing, err := s.Ledger.Get(ctx, matchID, eventID)
		if err == nil {
			tally, err := s.project(ctx, matchID)
			if err != nil {
				return Result{}, err
			}
			adjustmentsTotal.WithLabelValues("duplicate").Inc()
			return Result{Event: existing, Tally: tally, Duplicate: true}, nil
		}
		if !errors.Is(err, match.ErrNotFound) {
			return Result{}, err
		}
	} else {
		eventID = s.NewID()
	}

	current, err := s.project(ctx, matchID)
	if err != nil {
		return Result{}, err
	}
	if current.Score(team)+req.Delta < 0 {
		adjustmentsTotal.WithLabelValues("rejected").Inc()
		return Result{}, match.Invalid("adjustment of %d would take the %s score below zero", req.Delta, team)
	}

	minute, err := s.minute(ctx, matchID, req.Minute)
	if err != nil {
		return Result{}, err
	}
	description := strings.TrimSpace(req.Reason)
	if description == "" {
		description = match.DefaultDescription(match.KindManualAdjustment, team)
	}

	stored, inserted, err := s.Ledger.Append(ctx, matchID, match.Event{
		ID:          eventID,
		MatchID:     matchID,
		Minute:      minute,
		Kind:        match.KindManualAdjustment,
		Team:        team,
		Delta:       req.Delta,
		Description: description,
		RecordedBy:  actor.label(),
	})
	if err != nil {
		return Result{}, err
	}
	tally, err := s.project(ctx, matchID)
	if err != nil {
		return Result{}, err
	}
	// The floor check above races with other writers on the same match. If a
	// concurrent entry landed first and this one now drives the score negative,
	// take it back out before anyone is told about it.
	if inserted && tally.Score(team) < 0 {
		if err := s.Ledger.Remove(ctx, matchID, stored.ID); err != nil {
			return Result{}, fmt.Errorf("withdraw adjustment %s: %w", stored.ID, err)
		}
		adjustmentsTotal.WithLabelValues("withdrawn").Inc()
		log.Warn().Str("match_id", matchID).Str("event_id", stored.ID).Int("delta", req.Delta).
			Msg("adjustment withdrawn after a concurrent write took the score below zero")
		return Result{}, match.Invalid("adjustment of %d would take the %s score below zero", req.Delta, team)
	}

	adjustmentsTotal.WithLabelValues("applied").Inc()
	return s.announce(ctx, actor, stored, inserted, tally), nil
}

func (s *Service) appendEvent(ctx context.Context, actor Actor, event match.Event) (Result, error) {
	stored, inserted, err := s.Ledger.Append(ctx, event.MatchID, event)
	if err != nil {
		return Result{}, err
	}
	tally, err := s.project(ctx, event.MatchID)
	if err != nil {
		return Result{}, err
	}
	return s.announce(ctx, actor, stored, inserted, tally), nil
}

func (s *Service) announce(ctx context.Context, actor Actor, stored match.Event, inserted bool, tally scoring.Tally) Result {
	outcome := "inserted"
	if !inserted {
		outcome = "duplicate"
	}
	appendsTotal.WithLabelValues(string(stored.Kind), outcome).Inc()

	if inserted {
		log.Info().
			Str("match_id", stored.MatchID).
			Str("event_id", stored.ID).
			Str("type", string(stored.Kind)).
			Str("team", string(stored.Team)).
			Int("home", tally.HomeScore).
			Int("away", tally.AwayScore).
			Msg("ledger entry appended")
		s.notify(ctx, actor, contracts.ChangeNotice{
			MatchID: stored.MatchID,
			Kind:    contracts.ChangeEventAppended,
			EventID: stored.ID,
			Event:   &stored,
			Tally:   &tally,
		})
	} else {
		log.Debug().Str("match_id", stored.MatchID).Str("event_id", stored.ID).Msg("duplicate append ignored")
	}

	return Result{Event: stored, Tally: tally, Duplicate: !inserted}
}

// RemoveEvent deletes one ledger entry. Corrections are allowed while the
// match is live and after it has ended.
func (s *Service) RemoveEvent(ctx context.Context, actor Actor, matchID, eventID string) (scoring.Tally, error) {
	matchID = strings.TrimSpace(matchID)
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return scoring.Tally{}, match.Invalid("log id is required")
	}
	m, err := s.Store.GetMatch(ctx, matchID)
	if err != nil {
		return scoring.Tally{}, err
	}
	if !m.AcceptsCorrections() {
		return scoring.Tally{}, match.Conflict("log entries can only be removed while the match is live or ended")
	}
	if err := s.Ledger.Remove(ctx, matchID, eventID); err != nil {
		return scoring.Tally{}, err
	}
	tally, err := s.project(ctx, matchID)
	if err != nil {
		return scoring.Tally{}, err
	}

	log.Info().Str("match_id", matchID).Str("event_id", eventID).Str("actor", actor.label()).Msg("ledger entry removed")
	s.notify(ctx, actor, contracts.ChangeNotice{
		MatchID: matchID,
		Kind:    contracts.ChangeEventRemoved,
		EventID: eventID,
		Tally:   &tally,
	})
	return tally, nil
}

func (s *Service) GetMatch(ctx context.Context, matchID string) (match.Match, error) {
	return s.Store.GetMatch(ctx, strings.TrimSpace(matchID))
}

func (s *Service) GetEvent(ctx context.Context, matchID, eventID string) (match.Event, error) {
	matchID = strings.TrimSpace(matchID)
	if _, err := s.Store.GetMatch(ctx, matchID); err != nil {
		return match.Event{}, err
	}
	return s.Ledger.Get(ctx, matchID, strings.TrimSpace(eventID))
}

func (s *Service) ListEvents(ctx context.Context, matchID string, order ledger.Order) ([]match.Event, error) {
	matchID = strings.TrimSpace(matchID)
	if _, err := s.Store.GetMatch(ctx, matchID); err != nil {
		return nil, err
	}
	return s.Ledger.List(ctx, matchID, order)
}

func (s *Service) Tally(ctx context.Context, matchID string) (scoring.Tally, error) {
	matchID = strings.TrimSpace(matchID)
	if _, err := s.Store.GetMatch(ctx, matchID); err != nil {
		return scoring.Tally{}, err
	}
	return s.project(ctx, matchID)
}

// Snapshot is everything a viewer needs to render the match from scratch.
// Elapsed and Minute are computed with the server clock at ServerTime.
func (s *Service) Snapshot(ctx context.Context, matchID string) (Snapshot, error) {
	matchID = strings.TrimSpace(matchID)
	var (
		snap   Snapshot
		events []match.Event
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m, err := s.Store.GetMatch(gctx, matchID)
		snap.Match = m
		return err
	})
	g.Go(func() error {
		t, err := s.Store.GetTimer(gctx, matchID)
		snap.Timer = t
		return err
	})
	g.Go(func() error {
		list, err := s.Ledger.List(gctx, matchID, ledger.OrderIngestion)
		events = list
		return err
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}

	snap.Tally = s.fold(matchID, events)
	snap.ServerTime = s.now()
	snap.Elapsed = snap.Timer.Elapsed(snap.ServerTime)
	snap.Minute = snap.Timer.Minute(snap.ServerTime)
	ledger.SortDisplay(events)
	snap.Events = events
	return snap, nil
}

func (s *Service) project(ctx context.Context, matchID string) (scoring.Tally, error) {
	events, err := s.Ledger.List(ctx, matchID, ledger.OrderIngestion)
	if err != nil {
		return scoring.Tally{}, err
	}
	return s.fold(matchID, events), nil
}

func (s *Service) fold(matchID string, events []match.Event) scoring.Tally {
	tally := scoring.Project(events)
	if len(tally.Skipped) > 0 {
		skippedTotal.WithLabelValues().Add(float64(len(tally.Skipped)))
		log.Warn().Str("match_id", matchID).Strs("event_ids", tally.Skipped).Msg("ledger holds entries of unknown type; excluded from tally")
	}
	return tally
}

func (s *Service) requireLive(ctx context.Context, matchID string) (match.Match, error) {
	if matchID == "" {
		return match.Match{}, match.Invalid("match id is required")
	}
	m, err := s.Store.GetMatch(ctx, matchID)
	if err != nil {
		return match.Match{}, err
	}
	if !m.AcceptsWrites() {
		return match.Match{}, match.ErrMatchNotLive
	}
	return m, nil
}

func (s *Service) minute(ctx context.Context, matchID string, supplied *int) (int, error) {
	if supplied != nil {
		return *supplied, nil
	}
	timer, err := s.Store.GetTimer(ctx, matchID)
	if err != nil {
		return 0, err
	}
	return timer.Minute(s.now()), nil
}

func (s *Service) eventID(supplied string) string {
	if id := strings.TrimSpace(supplied); id != "" {
		return id
	}
	return s.NewID()
}

// notify publishes best-effort. The write it describes is already durable, so
// a failed publish is logged and counted and viewers catch up on their next
// snapshot refresh.
func (s *Service) notify(ctx context.Context, actor Actor, notice contracts.ChangeNotice) {
	if s.Publish == nil {
		return
	}
	notice.NoticeID = s.NewID()
	notice.ActorUserID = actor.UserID
	notice.ActorName = actor.label()
	notice.OccurredAt = s.now()
	notice.ShardID = sharding.ShardOf(notice.MatchID)
	if err := s.Publish(ctx, notice); err != nil {
		publishFailuresTotal.WithLabelValues(string(notice.Kind)).Inc()
		log.Error().Err(err).Str("match_id", notice.MatchID).Str("kind", string(notice.Kind)).Msg("change notice publish failed")
	}
}
