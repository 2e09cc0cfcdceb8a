package match

import (
	"strings"
	"time"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusLive      Status = "live"
	StatusEnded     Status = "ended"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusLive, StatusEnded, StatusCancelled:
		return true
	default:
		return false
	}
}

type Team string

const (
	Home Team = "home"
	Away Team = "away"
)

// ParseTeam normalizes a team reference; the empty Team is returned for anything else.
func ParseTeam(raw string) Team {
	switch Team(strings.ToLower(strings.TrimSpace(raw))) {
	case Home:
		return Home
	case Away:
		return Away
	default:
		return ""
	}
}

func (t Team) Valid() bool {
	return t == Home || t == Away
}

// Match is owned by the CRUD layer. The sync core only reads Status.
type Match struct {
	ID          string    `json:"id"`
	Status      Status    `json:"status"`
	Tournament  string    `json:"tournament_name,omitempty"`
	Venue       string    `json:"venue,omitempty"`
	HomeTeam    TeamInfo  `json:"home_team"`
	AwayTeam    TeamInfo  `json:"away_team"`
	ScheduledAt time.Time `json:"match_date"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type TeamInfo struct {
	Name    string `json:"team_name"`
	TriCode string `json:"team_tri_code,omitempty"`
	Color   string `json:"color,omitempty"`
}

// AcceptsWrites reports whether score, card and timer commands may be applied.
func (m Match) AcceptsWrites() bool {
	return m.Status == StatusLive
}

// AcceptsCorrections reports whether ledger entries may still be removed.
func (m Match) AcceptsCorrections() bool {
	return m.Status == StatusLive || m.Status == StatusEnded
}
