package scoring

import (
	"fmt"
	"math/rand"
	"reflect"
	"testing"
	"time"

	"github.com/matchday/livescore/internal/match"
)

func ev(id string, kind match.Kind, team match.Team) match.Event {
	return match.Event{ID: id, MatchID: "m1", Kind: kind, Team: team, CreatedAt: time.Unix(0, 0)}
}

func TestProject_Scenario(t *testing.T) {
	events := []match.Event{ev("e1", match.KindTry, match.Home)}
	if got := Project(events); got.HomeScore != 5 {
		t.Fatalf("expected home 5, got %+v", got)
	}

	events = append(events, ev("e2", match.KindConversion, match.Home))
	if got := Project(events); got.HomeScore != 7 {
		t.Fatalf("expected home 7, got %+v", got)
	}

	events = append(events, ev("e3", match.KindYellowCard, match.Away))
	got := Project(events)
	if got.YellowCardsAway != 1 || got.HomeScore != 7 || got.AwayScore != 0 {
		t.Fatalf("unexpected tally after yellow card: %+v", got)
	}
	if got.Home.Tries != 1 || got.Home.Conversions != 1 {
		t.Fatalf("unexpected derived stats: %+v", got.Home)
	}
}

func TestProject_PointTable(t *testing.T) {
	events := []match.Event{
		ev("p1", match.KindPenalty, match.Away),
		ev("d1", match.KindDropGoal, match.Away),
		ev("r1", match.KindRedCard, match.Home),
		ev("s1", match.KindSubstitution, match.Home),
	}
	got := Project(events)
	if got.AwayScore != 6 || got.RedCardsHome != 1 || got.HomeScore != 0 {
		t.Fatalf("unexpected tally: %+v", got)
	}
	if got.Events != 3 {
		t.Fatalf("substitutions must be excluded from the tally, events=%d", got.Events)
	}
}

func TestProject_ManualAdjustment(t *testing.T) {
	adj := ev("a1", match.KindManualAdjustment, match.Home)
	adj.Delta = -2
	got := Project([]match.Event{ev("t1", match.KindTry, match.Home), adj})
	if got.HomeScore != 3 || got.Home.Adjustments != 1 {
		t.Fatalf("unexpected tally: %+v", got)
	}
}

func TestProject_UnknownKindSkipped(t *testing.T) {
	events := []match.Event{
		ev("t1", match.KindTry, match.Home),
		ev("x1", match.Kind("penalty_try"), match.Home),
	}
	got := Project(events)
	if got.HomeScore != 5 {
		t.Fatalf("unknown kind affected the score: %+v", got)
	}
	if !reflect.DeepEqual(got.Skipped, []string{"x1"}) {
		t.Fatalf("expected x1 skipped, got %v", got.Skipped)
	}
}

func TestProject_OrderInsensitive(t *testing.T) {
	kinds := []match.Kind{
		match.KindTry, match.KindConversion, match.KindPenalty, match.KindDropGoal,
		match.KindYellowCard, match.KindRedCard, match.KindSubstitution,
	}
	rng := rand.New(rand.NewSource(42))

	var events []match.Event
	for i := 0; i < 40; i++ {
		team := match.Home
		if rng.Intn(2) == 1 {
			team = match.Away
		}
		events = append(events, ev(fmt.Sprintf("e%d", i), kinds[rng.Intn(len(kinds))], team))
	}
	adj := ev("adj", match.KindManualAdjustment, match.Away)
	adj.Delta = 4
	events = append(events, adj)

	want := Project(events)
	for round := 0; round < 50; round++ {
		shuffled := append([]match.Event(nil), events...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		if got := Project(shuffled); !reflect.DeepEqual(got, want) {
			t.Fatalf("permutation %d diverged:\n got %+v\nwant %+v", round, got, want)
		}
	}
}

func TestIncrementalFold_MatchesProjection(t *testing.T) {
	events := []match.Event{
		ev("t1", match.KindTry, match.Home),
		ev("c1", match.KindConversion, match.Home),
		ev("p1", match.KindPenalty, match.Away),
		ev("y1", match.KindYellowCard, match.Away),
	}
	var running Tally
	for _, e := range events {
		running.Apply(e)
	}
	running.Revert(events[1])

	want := Project([]match.Event{events[0], events[2], events[3]})
	if !reflect.DeepEqual(running, want) {
		t.Fatalf("incremental fold diverged:\n got %+v\nwant %+v", running, want)
	}
}
