// Package streamer fans change notices out to spectators over SSE and
// WebSocket and serves the heads-up display page.
package streamer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/matchday/livescore/internal/app/matchsync"
	"github.com/matchday/livescore/internal/contracts"
	"github.com/matchday/livescore/internal/match"
	"github.com/matchday/livescore/internal/platform/logging"
	"github.com/matchday/livescore/internal/platform/origins"
	"github.com/matchday/livescore/services/frontend"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
)

const (
	DefaultPingInterval = 30 * time.Second

	writeWait      = 10 * time.Second
	maxInboundSize = 512
	hudTimelineLen = 12
)

// Message is the frame written to viewers. SSE carries it as the data of an
// event named after Type; WebSocket sends it as a JSON text frame.
type Message struct {
	Type     string                  `json:"type"`
	Seq      uint64                  `json:"seq,omitempty"`
	Notice   *contracts.ChangeNotice `json:"notice,omitempty"`
	Snapshot *matchsync.Snapshot     `json:"snapshot,omitempty"`
}

func messageFor(u Update) Message {
	if u.Snapshot != nil {
		return Message{Type: "snapshot", Seq: u.Seq, Snapshot: u.Snapshot}
	}
	return Message{Type: "notice", Seq: u.Seq, Notice: u.Notice}
}

type Handler struct {
	Hub            *Hub
	Snapshot       SnapshotFunc
	AllowedOrigins []string
	PingInterval   time.Duration

	upgrader websocket.Upgrader
}

func NewHandler(hub *Hub, snapshot SnapshotFunc, allowedOrigins []string) *Handler {
	h := &Handler{
		Hub:            hub,
		Snapshot:       snapshot,
		AllowedOrigins: allowedOrigins,
		PingInterval:   DefaultPingInterval,
	}
	allow := origins.Matcher(allowedOrigins)
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allow(origin)
		},
	}
	return h
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logging.AccessLog)
	r.Use(cors.New(cors.Options{
		AllowOriginFunc: origins.Matcher(h.AllowedOrigins),
		AllowedMethods:  []string{http.MethodGet, http.MethodOptions},
	}).Handler)

	r.Get("/events", h.handleEvents)
	r.Get("/ws", h.handleWebSocket)
	r.Get("/hud/{matchID}", h.handleHUD)
	r.Handle("/static/*", http.StripPrefix("/static/", frontend.StaticHandler()))
	return r
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	matchID := strings.TrimSpace(r.URL.Query().Get("match_id"))
	if matchID == "" {
		http.Error(w, "match_id is required", http.StatusBadRequest)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sub, snap, ok := h.open(w, r, matchID)
	if !ok {
		return
	}
	defer sub.Cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	send := func(msg Message) error {
		payload, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Type, payload); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}
	if err := send(Message{Type: "snapshot", Snapshot: &snap}); err != nil {
		return
	}

	ping := time.NewTicker(h.pingInterval())
	defer ping.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ping.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case u, ok := <-sub.C:
			if !ok {
				return
			}
			if err := send(messageFor(u)); err != nil {
				return
			}
		}
	}
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	matchID := strings.TrimSpace(r.URL.Query().Get("match_id"))
	if matchID == "" {
		http.Error(w, "match_id is required", http.StatusBadRequest)
		return
	}
	sub, snap, ok := h.open(w, r, matchID)
	if !ok {
		return
	}
	defer sub.Cancel()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Str("match_id", matchID).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	interval := h.pingInterval()
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go readPump(conn, interval, cancel)

	write := func(msg Message) error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(msg)
	}
	if err := write(Message{Type: "snapshot", Snapshot: &snap}); err != nil {
		return
	}

	ping := time.NewTicker(interval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case u, ok := <-sub.C:
			if !ok {
				return
			}
			if err := write(messageFor(u)); err != nil {
				return
			}
		}
	}
}

// readPump drains viewer frames so pongs and close frames are processed.
// Viewers are read-only; anything they send is discarded.
func readPump(conn *websocket.Conn, pingInterval time.Duration, done context.CancelFunc) {
	defer done()
	pongWait := pingInterval * 2
	conn.SetReadLimit(maxInboundSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("websocket closed unexpectedly")
			}
			return
		}
	}
}

func (h *Handler) handleHUD(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Snapshot(r.Context(), chi.URLParam(r, "matchID"))
	if err != nil {
		h.snapshotError(w, err)
		return
	}
	templ.Handler(frontend.HUDPage(HUDView(snap)), templ.WithErrorHandler(func(_ *http.Request, err error) http.Handler {
		log.Error().Err(err).Str("match_id", snap.Match.ID).Msg("render hud")
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "render failed", http.StatusInternalServerError)
		})
	})).ServeHTTP(w, r)
}

// open subscribes before reading the snapshot so no notice published in
// between is lost.
func (h *Handler) open(w http.ResponseWriter, r *http.Request, matchID string) (*Subscription, matchsync.Snapshot, bool) {
	sub, err := h.Hub.Subscribe(matchID)
	if err != nil {
		log.Error().Err(err).Str("match_id", matchID).Msg("stream subscription failed")
		http.Error(w, "stream subscription failed", http.StatusInternalServerError)
		return nil, matchsync.Snapshot{}, false
	}
	snap, err := h.Snapshot(r.Context(), matchID)
	if err != nil {
		sub.Cancel()
		h.snapshotError(w, err)
		return nil, matchsync.Snapshot{}, false
	}
	return sub, snap, true
}

func (h *Handler) snapshotError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, match.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, match.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		log.Error().Err(err).Msg("snapshot failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h *Handler) pingInterval() time.Duration {
	if h.PingInterval <= 0 {
		return DefaultPingInterval
	}
	return h.PingInterval
}

// HUDView maps a snapshot onto the display model.
func HUDView(snap matchsync.Snapshot) frontend.HUDView {
	view := frontend.HUDView{
		MatchID:    snap.Match.ID,
		Tournament: snap.Match.Tournament,
		Status:     string(snap.Match.Status),
		Home: frontend.HUDTeam{
			Name:   snap.Match.HomeTeam.Name,
			Code:   snap.Match.HomeTeam.TriCode,
			Score:  snap.Tally.HomeScore,
			Yellow: snap.Tally.YellowCardsHome,
			Red:    snap.Tally.RedCardsHome,
		},
		Away: frontend.HUDTeam{
			Name:   snap.Match.AwayTeam.Name,
			Code:   snap.Match.AwayTeam.TriCode,
			Score:  snap.Tally.AwayScore,
			Yellow: snap.Tally.YellowCardsAway,
			Red:    snap.Tally.RedCardsAway,
		},
		Elapsed: snap.Elapsed,
		Running: snap.Timer.IsRunning,
		Half:    string(snap.Timer.CurrentHalf),
	}
	for i, e := range snap.Events {
		if i == hudTimelineLen {
			break
		}
		text := e.Description
		if text == "" {
			text = match.DefaultDescription(e.Kind, e.Team)
		}
		view.Timeline = append(view.Timeline, frontend.HUDEntry{Minute: e.Minute, Team: string(e.Team), Text: text})
	}
	return view
}
