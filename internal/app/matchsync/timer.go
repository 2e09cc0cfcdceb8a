package matchsync

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/matchday/livescore/internal/contracts"
	"github.com/matchday/livescore/internal/match"
	"github.com/matchday/livescore/internal/matchclock"
	"github.com/matchday/livescore/internal/scoring"
	"github.com/rs/zerolog/log"
)

type TimerCommand string

const (
	CommandStart TimerCommand = "start"
	CommandPause TimerCommand = "pause"
	CommandReset TimerCommand = "reset"
	CommandHalf  TimerCommand = "half"

	commandPatch TimerCommand = "patch"
)

func ParseTimerCommand(raw string) (TimerCommand, error) {
	switch c := TimerCommand(strings.ToLower(strings.TrimSpace(raw))); c {
	case CommandStart, CommandPause, CommandReset, CommandHalf:
		return c, nil
	default:
		return "", match.Invalid("unsupported timer command %q", raw)
	}
}

func (s *Service) StartTimer(ctx context.Context, actor Actor, matchID string) (matchclock.Timer, error) {
	return s.updateTimer(ctx, actor, matchID, CommandStart, func(t matchclock.Timer, now time.Time) (matchclock.Timer, error) {
		return t.Start(now)
	})
}

func (s *Service) PauseTimer(ctx context.Context, actor Actor, matchID string) (matchclock.Timer, error) {
	return s.updateTimer(ctx, actor, matchID, CommandPause, func(t matchclock.Timer, now time.Time) (matchclock.Timer, error) {
		return t.Pause(now)
	})
}

func (s *Service) ResetTimer(ctx context.Context, actor Actor, matchID string) (matchclock.Timer, error) {
	return s.updateTimer(ctx, actor, matchID, CommandReset, func(t matchclock.Timer, now time.Time) (matchclock.Timer, error) {
		return t.Reset(now), nil
	})
}

// ChangeHalf always leaves the clock paused.
func (s *Service) ChangeHalf(ctx context.Context, actor Actor, matchID string, half matchclock.Half) (matchclock.Timer, error) {
	if _, err := matchclock.ParseHalf(string(half)); err != nil {
		return matchclock.Timer{}, err
	}
	return s.updateTimer(ctx, actor, matchID, CommandHalf, func(t matchclock.Timer, now time.Time) (matchclock.Timer, error) {
		return t.ChangeHalf(half, now)
	})
}

// RunTimerCommand dispatches a command by name. half is only read for CommandHalf.
func (s *Service) RunTimerCommand(ctx context.Context, actor Actor, matchID string, command TimerCommand, half string) (matchclock.Timer, error) {
	switch command {
	case CommandStart:
		return s.StartTimer(ctx, actor, matchID)
	case CommandPause:
		return s.PauseTimer(ctx, actor, matchID)
	case CommandReset:
		return s.ResetTimer(ctx, actor, matchID)
	case CommandHalf:
		h, err := matchclock.ParseHalf(half)
		if err != nil {
			return matchclock.Timer{}, err
		}
		return s.ChangeHalf(ctx, actor, matchID, h)
	default:
		return matchclock.Timer{}, match.Invalid("unsupported timer command %q", command)
	}
}

// updateTimer is read-modify-write with no lock: two scorekeepers driving the
// clock at once race, and whichever write lands last is authoritative.
func (s *Service) updateTimer(
	ctx context.Context,
	actor Actor,
	matchID string,
	command TimerCommand,
	apply func(matchclock.Timer, time.Time) (matchclock.Timer, error),
) (matchclock.Timer, error) {
	matchID = strings.TrimSpace(matchID)
	if _, err := s.requireLive(ctx, matchID); err != nil {
		timerCommandsTotal.WithLabelValues(string(command), "rejected").Inc()
		return matchclock.Timer{}, err
	}
	current, err := s.Store.GetTimer(ctx, matchID)
	if err != nil {
		return matchclock.Timer{}, err
	}
	next, err := apply(current, s.now())
	if err != nil {
		timerCommandsTotal.WithLabelValues(string(command), "rejected").Inc()
		return matchclock.Timer{}, err
	}
	if err := s.Store.PutTimer(ctx, matchID, next); err != nil {
		return matchclock.Timer{}, err
	}
	timerCommandsTotal.WithLabelValues(string(command), "applied").Inc()

	log.Info().
		Str("match_id", matchID).
		Str("command", string(command)).
		Bool("running", next.IsRunning).
		Int64("offset", next.Offset).
		Str("half", string(next.CurrentHalf)).
		Msg("timer updated")
	s.notify(ctx, actor, contracts.ChangeNotice{
		MatchID: matchID,
		Kind:    contracts.ChangeTimerUpdated,
		Timer:   &next,
	})
	return next, nil
}

// StatePatch is a partial update of the live state. Score targets are
// absolute; they are turned into manual_adjustment entries for the difference.
type StatePatch struct {
	Timer     *matchclock.Patch `json:"timer,omitempty"`
	HomeScore *int              `json:"home_score,omitempty"`
	AwayScore *int              `json:"away_score,omitempty"`
}

func (p StatePatch) Empty() bool {
	return (p.Timer == nil || p.Timer.Empty()) && p.HomeScore == nil && p.AwayScore == nil
}

type StateResult struct {
	Timer matchclock.Timer `json:"timer"`
	Tally scoring.Tally    `json:"tally"`
}

func (s *Service) PatchState(ctx context.Context, actor Actor, matchID string, patch StatePatch) (StateResult, error) {
	matchID = strings.TrimSpace(matchID)
	if patch.Empty() {
		return StateResult{}, match.Invalid("missing state payload")
	}
	for _, target := range []*int{patch.HomeScore, patch.AwayScore} {
		if target != nil && *target < 0 {
			return StateResult{}, match.Invalid("score must be non-negative")
		}
	}
	if _, err := s.requireLive(ctx, matchID); err != nil {
		return StateResult{}, err
	}

	var result StateResult
	if patch.Timer != nil && !patch.Timer.Empty() {
		next, err := s.updateTimer(ctx, actor, matchID, commandPatch, func(t matchclock.Timer, now time.Time) (matchclock.Timer, error) {
			return t.Apply(*patch.Timer, now)
		})
		if err != nil {
			return StateResult{}, err
		}
		result.Timer = next
	} else {
		t, err := s.Store.GetTimer(ctx, matchID)
		if err != nil {
			return StateResult{}, err
		}
		result.Timer = t
	}

	tally, err := s.project(ctx, matchID)
	if err != nil {
		return StateResult{}, err
	}
	targets := []struct {
		team   match.Team
		target *int
	}{
		{match.Home, patch.HomeScore},
		{match.Away, patch.AwayScore},
	}
	for _, tt := range targets {
		if tt.target == nil {
			continue
		}
		delta := *tt.target - tally.Score(tt.team)
		if delta == 0 {
			continue
		}
		adjusted, err := s.AdjustScore(ctx, actor, matchID, AdjustRequest{
			Team:   string(tt.team),
			Delta:  delta,
			Reason: "score set to " + strconv.Itoa(*tt.target),
		})
		if err != nil {
			return StateResult{}, err
		}
		tally = adjusted.Tally
	}
	result.Tally = tally
	return result, nil
}
