package frontend

import (
	"fmt"
	"strings"
)

type HUDTeam struct {
	Name   string
	Code   string
	Score  int
	Yellow int
	Red    int
}

type HUDEntry struct {
	Minute int
	Team   string
	Text   string
}

// HUDView is everything the heads-up display renders on first paint. Later
// changes arrive over /events and are patched in by static/hud.js.
type HUDView struct {
	MatchID    string
	Tournament string
	Status     string
	Home       HUDTeam
	Away       HUDTeam
	Elapsed    int64
	Running    bool
	Half       string
	Timeline   []HUDEntry
}

// Clock renders elapsed seconds as MM:SS; minutes keep counting past 99.
func Clock(elapsed int64) string {
	if elapsed < 0 {
		elapsed = 0
	}
	return fmt.Sprintf("%02d:%02d", elapsed/60, elapsed%60)
}

// HalfLabel turns a stored half value into the text shown under the clock.
func HalfLabel(half string) string {
	switch strings.ToUpper(strings.TrimSpace(half)) {
	case "1":
		return "1st half"
	case "2":
		return "2nd half"
	case "HT":
		return "half time"
	case "FT":
		return "full time"
	default:
		return half
	}
}

type hudBootstrap struct {
	MatchID string `json:"matchId"`
	Elapsed int64  `json:"elapsed"`
	Running bool   `json:"running"`
}

// bootstrap is the first-paint state static/hud.js reads before the stream opens.
func bootstrap(view HUDView) hudBootstrap {
	return hudBootstrap{MatchID: view.MatchID, Elapsed: view.Elapsed, Running: view.Running}
}
