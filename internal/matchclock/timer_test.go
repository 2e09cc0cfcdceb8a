package matchclock

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/matchday/livescore/internal/match"
)

var kickoff = time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)

func TestStartPause_AccumulatesOffset(t *testing.T) {
	clock := clockwork.NewFakeClockAt(kickoff)
	timer := New()

	timer, err := timer.Start(clock.Now())
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}
	clock.Advance(30 * time.Second)
	timer, err = timer.Pause(clock.Now())
	if err != nil {
		t.Fatalf("Pause error: %v", err)
	}

	if timer.Offset != 30 || timer.IsRunning || timer.StartedAt != nil {
		t.Fatalf("unexpected timer after pause: %+v", timer)
	}
	if timer.PausedAt == nil || !timer.PausedAt.Equal(clock.Now()) {
		t.Fatalf("paused_at not stamped: %+v", timer.PausedAt)
	}
}

func TestPauseStartPause_IncreasesOffsetByExactlyN(t *testing.T) {
	clock := clockwork.NewFakeClockAt(kickoff)
	timer := Timer{Offset: 125, CurrentHalf: SecondHalf}

	timer, err := timer.Start(clock.Now())
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}
	for i := 0; i < 47; i++ {
		clock.Advance(time.Second)
		_ = timer.Elapsed(clock.Now())
	}
	timer, err = timer.Pause(clock.Now())
	if err != nil {
		t.Fatalf("Pause error: %v", err)
	}
	if timer.Offset != 125+47 {
		t.Fatalf("expected offset %d, got %d", 125+47, timer.Offset)
	}
}

func TestElapsed_NonDecreasingUntilReset(t *testing.T) {
	clock := clockwork.NewFakeClockAt(kickoff)
	timer, _ := New().Start(clock.Now())

	var last int64
	for i := 0; i < 200; i++ {
		clock.Advance(370 * time.Millisecond)
		got := timer.Elapsed(clock.Now())
		if got < last {
			t.Fatalf("elapsed went backwards: %d -> %d", last, got)
		}
		last = got
		if i == 100 {
			timer, _ = timer.Pause(clock.Now())
			if timer.Elapsed(clock.Now()) != last {
				t.Fatalf("pause changed the displayed time: %d vs %d", timer.Elapsed(clock.Now()), last)
			}
			timer, _ = timer.Start(clock.Now())
		}
	}

	timer = timer.Reset(clock.Now())
	if timer.Elapsed(clock.Now()) != 0 || timer.IsRunning {
		t.Fatalf("reset must return to paused zero: %+v", timer)
	}
}

func TestElapsed_ObserverBehindWriterClampsToOffset(t *testing.T) {
	timer, _ := Timer{Offset: 60, CurrentHalf: FirstHalf}.Start(kickoff)
	if got := timer.Elapsed(kickoff.Add(-3 * time.Second)); got != 60 {
		t.Fatalf("expected 60, got %d", got)
	}
}

func TestStartWhileRunning_Rejected(t *testing.T) {
	timer, _ := New().Start(kickoff)
	_, err := timer.Start(kickoff.Add(time.Second))
	if !errors.Is(err, ErrAlreadyRunning) || !errors.Is(err, match.ErrStateConflict) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	_, err = New().Pause(kickoff)
	if !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
}

func TestChangeHalf_ForcesPause(t *testing.T) {
	clock := clockwork.NewFakeClockAt(kickoff)
	timer, _ := New().Start(clock.Now())
	clock.Advance(40 * time.Minute)

	timer, err := timer.ChangeHalf(HalfTime, clock.Now())
	if err != nil {
		t.Fatalf("ChangeHalf error: %v", err)
	}
	if timer.IsRunning || timer.CurrentHalf != HalfTime {
		t.Fatalf("unexpected timer: %+v", timer)
	}
	if timer.Offset != 40*60 {
		t.Fatalf("running interval lost on half change: offset=%d", timer.Offset)
	}

	paused, err := timer.ChangeHalf(SecondHalf, clock.Now())
	if err != nil || paused.IsRunning || paused.CurrentHalf != SecondHalf {
		t.Fatalf("unexpected timer from paused half change: %+v err=%v", paused, err)
	}

	if _, err := timer.ChangeHalf(Half("3"), clock.Now()); !errors.Is(err, ErrInvalidHalf) {
		t.Fatalf("expected ErrInvalidHalf, got %v", err)
	}
}

func TestReset_KeepsHalf(t *testing.T) {
	timer := Timer{Offset: 900, CurrentHalf: SecondHalf}
	timer = timer.Reset(kickoff)
	if timer.Offset != 0 || timer.CurrentHalf != SecondHalf || timer.StartedAt != nil {
		t.Fatalf("unexpected timer after reset: %+v", timer)
	}
}

func TestLastSyncedAt_Monotonic(t *testing.T) {
	timer, _ := New().Start(kickoff)
	timer, _ = timer.Pause(kickoff.Add(-time.Minute))
	if !timer.LastSyncedAt.Equal(kickoff) {
		t.Fatalf("last_synced_at moved backwards: %s", timer.LastSyncedAt)
	}
}

func TestMinute(t *testing.T) {
	timer := Timer{Offset: 2399, CurrentHalf: FirstHalf}
	if got := timer.Minute(kickoff); got != 39 {
		t.Fatalf("expected minute 39, got %d", got)
	}
}

func TestHalfJSON(t *testing.T) {
	timer := New()
	data, err := json.Marshal(timer)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	var raw map[string]any
	_ = json.Unmarshal(data, &raw)
	if raw["current_half"] != float64(1) {
		t.Fatalf("expected numeric half, got %#v", raw["current_half"])
	}

	var h Half
	if err := json.Unmarshal([]byte(`"HT"`), &h); err != nil || h != HalfTime {
		t.Fatalf("unexpected half %q err=%v", h, err)
	}
	if err := json.Unmarshal([]byte(`2`), &h); err != nil || h != SecondHalf {
		t.Fatalf("unexpected half %q err=%v", h, err)
	}
	if err := json.Unmarshal([]byte(`"ET"`), &h); err == nil {
		t.Fatalf("expected error for unknown half")
	}
}

func TestApplyPatch(t *testing.T) {
	clock := clockwork.NewFakeClockAt(kickoff)
	running := true
	stopped := false

	timer, err := New().Apply(Patch{IsRunning: &running}, clock.Now())
	if err != nil {
		t.Fatalf("Apply error: %v", err)
	}
	if !timer.IsRunning || timer.StartedAt == nil {
		t.Fatalf("patch start did not set started_at: %+v", timer)
	}

	clock.Advance(90 * time.Second)
	timer, err = timer.Apply(Patch{IsRunning: &stopped}, clock.Now())
	if err != nil {
		t.Fatalf("Apply error: %v", err)
	}
	if timer.Offset != 90 || timer.StartedAt != nil {
		t.Fatalf("patch stop did not fold interval: %+v", timer)
	}

	negative := int64(-5)
	if _, err := timer.Apply(Patch{Offset: &negative}, clock.Now()); !errors.Is(err, match.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	ft := FullTime
	timer, err = timer.Apply(Patch{CurrentHalf: &ft}, clock.Now())
	if err != nil || timer.CurrentHalf != FullTime {
		t.Fatalf("unexpected half patch result: %+v err=%v", timer, err)
	}
}
