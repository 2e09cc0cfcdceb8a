package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/matchday/livescore/internal/match"
	"github.com/matchday/livescore/internal/scoring"
	"github.com/matchday/livescore/internal/store/memstore"
)

func newTestLedger() (*Ledger, *time.Time) {
	now := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	l := New(memstore.New())
	l.Now = func() time.Time {
		now = now.Add(time.Second)
		return now
	}
	return l, &now
}

func TestAppend_DuplicateIsNoop(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger()

	first, inserted, err := l.Append(ctx, "m1", match.Event{ID: "evt-1", Kind: match.KindTry, Team: match.Home})
	if err != nil || !inserted {
		t.Fatalf("first append: inserted=%v err=%v", inserted, err)
	}
	again, inserted, err := l.Append(ctx, "m1", match.Event{ID: "evt-1", Kind: match.KindTry, Team: match.Home})
	if err != nil {
		t.Fatalf("retry append returned error: %v", err)
	}
	if inserted {
		t.Fatalf("retry must not insert")
	}
	if again.Seq != first.Seq || !again.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("retry returned a different entry: %+v vs %+v", again, first)
	}

	events, _ := l.List(ctx, "m1", OrderIngestion)
	if len(events) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(events))
	}
	if got := scoring.Project(events); got.HomeScore != 5 {
		t.Fatalf("tally changed by retry: %+v", got)
	}
}

func TestAppend_SameIDDifferentMatches(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger()
	for _, m := range []string{"m1", "m2"} {
		if _, inserted, err := l.Append(ctx, m, match.Event{ID: "evt-1", Kind: match.KindTry, Team: match.Home}); err != nil || !inserted {
			t.Fatalf("append to %s: inserted=%v err=%v", m, inserted, err)
		}
	}
}

func TestAppend_ValidationBeforeStore(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger()

	_, _, err := l.Append(ctx, "m1", match.Event{ID: "evt-1", Kind: match.KindTry})
	if !errors.Is(err, match.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	_, _, err = l.Append(ctx, "m1", match.Event{ID: "evt-2", Team: match.Away})
	if !errors.Is(err, match.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	events, _ := l.List(ctx, "m1", OrderIngestion)
	if len(events) != 0 {
		t.Fatalf("invalid events reached the store: %+v", events)
	}
}

func TestList_Orderings(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger()

	appendAt := func(id string, minute int) {
		if _, _, err := l.Append(ctx, "m1", match.Event{ID: id, Kind: match.KindPenalty, Team: match.Away, Minute: minute}); err != nil {
			t.Fatalf("append %s: %v", id, err)
		}
	}
	appendAt("late-entry-minute-10", 10)
	appendAt("minute-30", 30)
	appendAt("minute-5", 5)
	appendAt("second-minute-30", 30)

	ingestion, _ := l.List(ctx, "m1", OrderIngestion)
	wantIngestion := []string{"late-entry-minute-10", "minute-30", "minute-5", "second-minute-30"}
	for i, id := range wantIngestion {
		if ingestion[i].ID != id {
			t.Fatalf("ingestion[%d] = %s, want %s", i, ingestion[i].ID, id)
		}
	}

	display, _ := l.List(ctx, "m1", OrderDisplay)
	wantDisplay := []string{"second-minute-30", "minute-30", "late-entry-minute-10", "minute-5"}
	for i, id := range wantDisplay {
		if display[i].ID != id {
			t.Fatalf("display[%d] = %s, want %s", i, display[i].ID, id)
		}
	}
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger()
	_, _, _ = l.Append(ctx, "m1", match.Event{ID: "t1", Kind: match.KindTry, Team: match.Home})
	_, _, _ = l.Append(ctx, "m1", match.Event{ID: "c1", Kind: match.KindConversion, Team: match.Home})

	if err := l.Remove(ctx, "m1", "t1"); err != nil {
		t.Fatalf("Remove error: %v", err)
	}
	events, _ := l.List(ctx, "m1", OrderIngestion)
	if len(events) != 1 || events[0].ID != "c1" {
		t.Fatalf("unexpected ledger after remove: %+v", events)
	}
	if got := scoring.Project(events); got.HomeScore != 2 {
		t.Fatalf("removed entry still counted: %+v", got)
	}

	err := l.Remove(ctx, "m1", "nope")
	if !errors.Is(err, match.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	events, _ = l.List(ctx, "m1", OrderIngestion)
	if len(events) != 1 {
		t.Fatalf("failed remove changed the ledger: %+v", events)
	}

	if _, err := l.Get(ctx, "m1", "t1"); !errors.Is(err, match.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from Get, got %v", err)
	}
}

func TestAppend_ConcurrentWritersConverge(t *testing.T) {
	ctx := context.Background()
	l := New(memstore.New())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, _, _ = l.Append(ctx, "m1", match.Event{ID: "home-" + string(rune('a'+i)), Kind: match.KindTry, Team: match.Home})
		}(i)
		go func(i int) {
			defer wg.Done()
			_, _, _ = l.Append(ctx, "m1", match.Event{ID: "away-" + string(rune('a'+i)), Kind: match.KindPenalty, Team: match.Away})
		}(i)
	}
	wg.Wait()

	events, _ := l.List(ctx, "m1", OrderIngestion)
	got := scoring.Project(events)
	if got.HomeScore != 100 || got.AwayScore != 60 {
		t.Fatalf("concurrent appends diverged: %+v", got)
	}
}
