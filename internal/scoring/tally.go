// Package scoring derives the score and card counters of a match from its
// ledger. Nothing in the system stores these numbers as independent truth.
package scoring

import "github.com/matchday/livescore/internal/match"

type TeamStats struct {
	Tries       int `json:"tries"`
	Conversions int `json:"conversions"`
	Penalties   int `json:"penalties"`
	DropGoals   int `json:"drop_goals"`
	Adjustments int `json:"adjustments"`
}

type Tally struct {
	HomeScore       int       `json:"home_score"`
	AwayScore       int       `json:"away_score"`
	YellowCardsHome int       `json:"yellow_cards_home"`
	YellowCardsAway int       `json:"yellow_cards_away"`
	RedCardsHome    int       `json:"red_cards_home"`
	RedCardsAway    int       `json:"red_cards_away"`
	Home            TeamStats `json:"home"`
	Away            TeamStats `json:"away"`
	Events          int       `json:"events"`
	// Skipped lists ids of entries whose type this build does not recognize.
	Skipped []string `json:"skipped,omitempty"`
}

// Project folds events, in ingestion order, into a Tally. Every operation in
// the fold is an addition, so the totals do not depend on the order.
func Project(events []match.Event) Tally {
	var t Tally
	for _, e := range events {
		t.Apply(e)
	}
	return t
}

// Apply adds one event to the running fold.
func (t *Tally) Apply(e match.Event) {
	t.add(e, 1)
}

// Revert removes a previously applied event, for incrementally maintained tallies.
func (t *Tally) Revert(e match.Event) {
	t.add(e, -1)
}

func (t *Tally) Score(team match.Team) int {
	if team == match.Away {
		return t.AwayScore
	}
	return t.HomeScore
}

func (t *Tally) add(e match.Event, sign int) {
	effect, ok := match.EffectOf(e.Kind)
	if !ok {
		t.skip(e.ID, sign)
		return
	}
	if !effect.Tallied || !e.Team.Valid() {
		return
	}
	t.Events += sign

	points := effect.Points
	if e.Kind == match.KindManualAdjustment {
		points = e.Delta
	}

	score, yellow, red, stats := t.teamFields(e.Team)
	*score += sign * points
	switch effect.Card {
	case match.YellowCard:
		*yellow += sign
	case match.RedCard:
		*red += sign
	}
	switch e.Kind {
	case match.KindTry:
		stats.Tries += sign
	case match.KindConversion:
		stats.Conversions += sign
	case match.KindPenalty:
		stats.Penalties += sign
	case match.KindDropGoal:
		stats.DropGoals += sign
	case match.KindManualAdjustment:
		stats.Adjustments += sign
	}
}

func (t *Tally) teamFields(team match.Team) (score, yellow, red *int, stats *TeamStats) {
	if team == match.Away {
		return &t.AwayScore, &t.YellowCardsAway, &t.RedCardsAway, &t.Away
	}
	return &t.HomeScore, &t.YellowCardsHome, &t.RedCardsHome, &t.Home
}

func (t *Tally) skip(eventID string, sign int) {
	if sign > 0 {
		t.Skipped = append(t.Skipped, eventID)
		return
	}
	for i, id := range t.Skipped {
		if id == eventID {
			t.Skipped = append(t.Skipped[:i], t.Skipped[i+1:]...)
			return
		}
	}
}
