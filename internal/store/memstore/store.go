// Package memstore keeps matches, timers and ledgers in process memory. It is
// used by tests and by single-process local runs.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/matchday/livescore/internal/match"
	"github.com/matchday/livescore/internal/matchclock"
)

type Store struct {
	mu      sync.RWMutex
	matches map[string]match.Match
	timers  map[string]matchclock.Timer
	ledgers map[string][]match.Event
	seq     int64
}

func New() *Store {
	return &Store{
		matches: map[string]match.Match{},
		timers:  map[string]matchclock.Timer{},
		ledgers: map[string][]match.Event{},
	}
}

// CreateMatch stores m and gives it a fresh clock.
func (s *Store) CreateMatch(_ context.Context, m match.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	s.matches[m.ID] = m
	if _, ok := s.timers[m.ID]; !ok {
		s.timers[m.ID] = matchclock.New()
	}
	return nil
}

func (s *Store) SetMatchStatus(_ context.Context, matchID string, status match.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.matches[matchID]
	if !ok {
		return match.ErrMatchNotFound
	}
	m.Status = status
	m.UpdatedAt = time.Now().UTC()
	s.matches[matchID] = m
	return nil
}

func (s *Store) GetMatch(_ context.Context, matchID string) (match.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.matches[matchID]
	if !ok {
		return match.Match{}, match.ErrMatchNotFound
	}
	return m, nil
}

func (s *Store) GetTimer(_ context.Context, matchID string) (matchclock.Timer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.timers[matchID]
	if !ok {
		return matchclock.Timer{}, match.ErrMatchNotFound
	}
	return t, nil
}

func (s *Store) PutTimer(_ context.Context, matchID string, timer matchclock.Timer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.matches[matchID]; !ok {
		return match.ErrMatchNotFound
	}
	s.timers[matchID] = timer
	return nil
}

func (s *Store) InsertEvent(_ context.Context, event match.Event) (match.Event, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.ledgers[event.MatchID] {
		if existing.ID == event.ID {
			return cloneEvent(existing), false, nil
		}
	}
	s.seq++
	event.Seq = s.seq
	event = cloneEvent(event)
	s.ledgers[event.MatchID] = append(s.ledgers[event.MatchID], event)
	return cloneEvent(event), true, nil
}

func (s *Store) ListEvents(_ context.Context, matchID string) ([]match.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]match.Event, len(s.ledgers[matchID]))
	for i, e := range s.ledgers[matchID] {
		out[i] = cloneEvent(e)
	}
	return out, nil
}

func (s *Store) GetEvent(_ context.Context, matchID, eventID string) (match.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.ledgers[matchID] {
		if e.ID == eventID {
			return cloneEvent(e), nil
		}
	}
	return match.Event{}, match.ErrEventNotFound
}

// cloneEvent detaches the player reference so stored entries stay immutable.
func cloneEvent(e match.Event) match.Event {
	if e.Player != nil {
		p := *e.Player
		e.Player = &p
	}
	return e
}

func (s *Store) DeleteEvent(_ context.Context, matchID, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.ledgers[matchID]
	for i, e := range events {
		if e.ID == eventID {
			s.ledgers[matchID] = append(events[:i:i], events[i+1:]...)
			return nil
		}
	}
	return match.ErrEventNotFound
}
