package match

import (
	"strings"
	"time"
)

// Kind is the closed set of ledger entry types.
type Kind string

const (
	KindTry              Kind = "try"
	KindConversion       Kind = "conversion"
	KindPenalty          Kind = "penalty"
	KindDropGoal         Kind = "drop_goal"
	KindYellowCard       Kind = "yellow_card"
	KindRedCard          Kind = "red_card"
	KindSubstitution     Kind = "substitution"
	KindManualAdjustment Kind = "manual_adjustment"
)

type Card int

const (
	NoCard Card = iota
	YellowCard
	RedCard
)

// Effect is what a single event of a kind contributes to the tally.
type Effect struct {
	Points  int
	Card    Card
	Scoring bool
	// Tallied is false for kinds kept only for the timeline.
	Tallied bool
}

var effects = map[Kind]Effect{
	KindTry:              {Points: 5, Scoring: true, Tallied: true},
	KindConversion:       {Points: 2, Scoring: true, Tallied: true},
	KindPenalty:          {Points: 3, Scoring: true, Tallied: true},
	KindDropGoal:         {Points: 3, Scoring: true, Tallied: true},
	KindYellowCard:       {Card: YellowCard, Tallied: true},
	KindRedCard:          {Card: RedCard, Tallied: true},
	KindSubstitution:     {},
	KindManualAdjustment: {Scoring: true, Tallied: true},
}

// EffectOf returns the tally effect of k; ok is false for kinds this build does not know.
func EffectOf(k Kind) (Effect, bool) {
	e, ok := effects[k]
	return e, ok
}

func (k Kind) Known() bool {
	_, ok := effects[k]
	return ok
}

// IsScoring reports whether k is one of the fixed-value scoring plays.
func (k Kind) IsScoring() bool {
	e, ok := effects[k]
	return ok && e.Scoring && k != KindManualAdjustment
}

var legacyKinds = map[string]Kind{
	"panelty":            KindPenalty,
	"drop goal":          KindDropGoal,
	"dropgoal":           KindDropGoal,
	"yellow card":        KindYellowCard,
	"red card":           KindRedCard,
	"player replacement": KindSubstitution,
	"replacement":        KindSubstitution,
}

// ParseKind normalizes a kind name, accepting the spellings older clients send.
// Unknown names are returned as-is so the caller can decide how to treat them.
func ParseKind(raw string) Kind {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if k, ok := legacyKinds[normalized]; ok {
		return k
	}
	return Kind(strings.ReplaceAll(normalized, "-", "_"))
}

type Player struct {
	ID           string `json:"player_id,omitempty"`
	Name         string `json:"player_name"`
	JerseyNumber int    `json:"jersey_number,omitempty"`
	Position     string `json:"position,omitempty"`
}

// Event is an immutable ledger entry. Once appended it is never edited,
// only removed by id.
type Event struct {
	ID          string    `json:"event_id"`
	MatchID     string    `json:"match_id"`
	Minute      int       `json:"minute"`
	Kind        Kind      `json:"type"`
	Team        Team      `json:"team"`
	Player      *Player   `json:"player,omitempty"`
	Description string    `json:"description"`
	Delta       int       `json:"delta,omitempty"`
	RecordedBy  string    `json:"recorded_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Seq         int64     `json:"seq"`
}

// Validate rejects malformed events before they reach a store.
func (e Event) Validate() error {
	switch {
	case strings.TrimSpace(e.ID) == "":
		return Invalid("event_id is required")
	case strings.TrimSpace(e.MatchID) == "":
		return Invalid("match_id is required")
	case e.Kind == "":
		return Invalid("type is required")
	case !e.Kind.Known():
		return Invalid("unsupported event type %q", e.Kind)
	case !e.Team.Valid():
		return Invalid("team must be home or away")
	case e.Minute < 0:
		return Invalid("minute must be non-negative")
	}
	if e.Kind == KindManualAdjustment {
		if e.Delta == 0 {
			return Invalid("manual adjustment requires a non-zero delta")
		}
	} else if e.Delta != 0 {
		return Invalid("delta is only allowed on manual adjustments")
	}
	if e.Player != nil && e.Player.JerseyNumber < 0 {
		return Invalid("jersey_number must be non-negative")
	}
	return nil
}

// DefaultDescription mirrors the text the scorekeeper UI writes for quick actions.
func DefaultDescription(kind Kind, team Team) string {
	label := strings.ReplaceAll(string(kind), "_", " ")
	return label + " by " + string(team) + " team"
}
