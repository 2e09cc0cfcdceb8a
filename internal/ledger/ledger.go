// Package ledger is the append-only, per-match store of match events and the
// single source of truth for scoring.
package ledger

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/matchday/livescore/internal/match"
)

// Order selects one of the two orderings consumers may ask for. They are not
// interchangeable: only OrderIngestion may be fed to the projector.
type Order int

const (
	// OrderIngestion is createdAt ascending with the store sequence as tiebreak.
	OrderIngestion Order = iota
	// OrderDisplay is minute descending, then createdAt descending.
	OrderDisplay
)

func ParseOrder(raw string) Order {
	if strings.EqualFold(strings.TrimSpace(raw), "ingestion") {
		return OrderIngestion
	}
	return OrderDisplay
}

// Store is the persistence contract. Insert must be atomic and keyed by
// (match id, event id): inserting a known id reports inserted=false and returns
// the stored entry. List returns entries in ingestion order.
type Store interface {
	InsertEvent(ctx context.Context, event match.Event) (stored match.Event, inserted bool, err error)
	ListEvents(ctx context.Context, matchID string) ([]match.Event, error)
	GetEvent(ctx context.Context, matchID, eventID string) (match.Event, error)
	DeleteEvent(ctx context.Context, matchID, eventID string) error
}

type Ledger struct {
	Store Store
	Now   func() time.Time
}

func New(store Store) *Ledger {
	return &Ledger{
		Store: store,
		Now:   func() time.Time { return time.Now().UTC() },
	}
}

// Append validates and stores event. Re-appending an id that already exists is
// a successful no-op; inserted reports which case happened.
func (l *Ledger) Append(ctx context.Context, matchID string, event match.Event) (match.Event, bool, error) {
	event.MatchID = strings.TrimSpace(matchID)
	event.ID = strings.TrimSpace(event.ID)
	event.Description = strings.TrimSpace(event.Description)
	if err := event.Validate(); err != nil {
		return match.Event{}, false, err
	}
	// Ingestion time is the server's, whatever the client claimed.
	event.CreatedAt = l.Now()
	event.Seq = 0

	return l.Store.InsertEvent(ctx, event)
}

func (l *Ledger) List(ctx context.Context, matchID string, order Order) ([]match.Event, error) {
	events, err := l.Store.ListEvents(ctx, matchID)
	if err != nil {
		return nil, err
	}
	switch order {
	case OrderDisplay:
		SortDisplay(events)
	default:
		SortIngestion(events)
	}
	return events, nil
}

func (l *Ledger) Get(ctx context.Context, matchID, eventID string) (match.Event, error) {
	if strings.TrimSpace(eventID) == "" {
		return match.Event{}, match.Invalid("log id is required")
	}
	return l.Store.GetEvent(ctx, matchID, eventID)
}

// Remove deletes one entry. It is the only correction mechanism; there is no edit.
func (l *Ledger) Remove(ctx context.Context, matchID, eventID string) error {
	if strings.TrimSpace(eventID) == "" {
		return match.Invalid("log id is required")
	}
	return l.Store.DeleteEvent(ctx, matchID, eventID)
}

func SortIngestion(events []match.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.Seq < b.Seq
	})
}

func SortDisplay(events []match.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.Minute != b.Minute {
			return a.Minute > b.Minute
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.Seq > b.Seq
	})
}
