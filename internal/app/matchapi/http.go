package matchapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/matchday/livescore/internal/app/matchsync"
	"github.com/matchday/livescore/internal/ledger"
	"github.com/matchday/livescore/internal/match"
	platformauth "github.com/matchday/livescore/internal/platform/auth"
	"github.com/matchday/livescore/internal/platform/logging"
	"github.com/matchday/livescore/internal/platform/origins"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
)

// Verifier turns an Authorization header into a writing identity or fails
// with an error matching auth.ErrUnauthorized.
type Verifier interface {
	Verify(authHeader string) (platformauth.Claims, error)
}

type Handler struct {
	Service        *matchsync.Service
	Verifier       Verifier
	AllowedOrigins []string
}

func NewHandler(service *matchsync.Service, verifier Verifier, allowedOrigins []string) *Handler {
	return &Handler{
		Service:        service,
		Verifier:       verifier,
		AllowedOrigins: allowedOrigins,
	}
}

const idempotencyHeader = "Idempotency-Key"

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logging.AccessLog)
	r.Use(h.cors().Handler)

	r.Route("/api/v1/matches/{matchID}", func(r chi.Router) {
		r.Get("/", h.handleGetMatch)
		r.Get("/snapshot", h.handleSnapshot)
		r.Get("/tally", h.handleTally)
		r.Get("/logs", h.handleListLogs)
		r.Get("/logs/{logID}", h.handleGetLog)

		r.Group(func(authR chi.Router) {
			authR.Use(h.authMiddleware)
			authR.Patch("/state", h.handlePatchState)
			authR.Post("/timer/{command}", h.handleTimerCommand)
			authR.Post("/logs", h.handleCreateLog)
			authR.Post("/score", h.handleRecordScore)
			authR.Post("/adjust", h.handleAdjust)
			authR.Delete("/logs/{logID}", h.handleDeleteLog)
		})
	})

	return r
}

func (h *Handler) handleGetMatch(w http.ResponseWriter, r *http.Request) {
	m, err := h.Service.GetMatch(r.Context(), chi.URLParam(r, "matchID"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, m)
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Service.Snapshot(r.Context(), chi.URLParam(r, "matchID"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) handleTally(w http.ResponseWriter, r *http.Request) {
	tally, err := h.Service.Tally(r.Context(), chi.URLParam(r, "matchID"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, tally)
}

func (h *Handler) handleListLogs(w http.ResponseWriter, r *http.Request) {
	order := ledger.ParseOrder(r.URL.Query().Get("order"))
	events, err := h.Service.ListEvents(r.Context(), chi.URLParam(r, "matchID"), order)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, events)
}

func (h *Handler) handleGetLog(w http.ResponseWriter, r *http.Request) {
	event, err := h.Service.GetEvent(r.Context(), chi.URLParam(r, "matchID"), chi.URLParam(r, "logID"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, event)
}

func (h *Handler) handlePatchState(w http.ResponseWriter, r *http.Request) {
	var patch matchsync.StatePatch
	if !h.decode(w, r, &patch) {
		return
	}
	state, err := h.Service.PatchState(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "matchID"), patch)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"timer":   state.Timer,
		"tally":   state.Tally,
	})
}

type timerCommandRequest struct {
	Half string `json:"half"`
}

func (h *Handler) handleTimerCommand(w http.ResponseWriter, r *http.Request) {
	command, err := matchsync.ParseTimerCommand(chi.URLParam(r, "command"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	var req timerCommandRequest
	if command == matchsync.CommandHalf {
		if !h.decode(w, r, &req) {
			return
		}
	}
	timer, err := h.Service.RunTimerCommand(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "matchID"), command, req.Half)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, timer)
}

func (h *Handler) handleCreateLog(w http.ResponseWriter, r *http.Request) {
	var req matchsync.EventRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.EventID == "" {
		req.EventID = r.Header.Get(idempotencyHeader)
	}
	res, err := h.Service.RecordManualEvent(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "matchID"), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, createdStatus(res), map[string]any{
		"success":   true,
		"id":        res.Event.ID,
		"duplicate": res.Duplicate,
	})
}

func (h *Handler) handleRecordScore(w http.ResponseWriter, r *http.Request) {
	var req matchsync.EventRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.EventID == "" {
		req.EventID = r.Header.Get(idempotencyHeader)
	}
	res, err := h.Service.RecordScoreEvent(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "matchID"), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, createdStatus(res), res)
}

func (h *Handler) handleAdjust(w http.ResponseWriter, r *http.Request) {
	var req matchsync.AdjustRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.EventID == "" {
		req.EventID = r.Header.Get(idempotencyHeader)
	}
	res, err := h.Service.AdjustScore(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "matchID"), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, createdStatus(res), res)
}

func (h *Handler) handleDeleteLog(w http.ResponseWriter, r *http.Request) {
	tally, err := h.Service.RemoveEvent(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "matchID"), chi.URLParam(r, "logID"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"success": true, "tally": tally})
}

// createdStatus is 201 for a new entry and 200 for a replayed idempotency key.
func createdStatus(res matchsync.Result) int {
	if res.Duplicate {
		return http.StatusOK
	}
	return http.StatusCreated
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	switch {
	case err == nil:
		return true
	case errors.Is(err, io.EOF):
		h.writeError(w, http.StatusBadRequest, "missing payload")
	default:
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
	}
	return false
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, platformauth.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, match.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, match.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, match.ErrStateConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError surfaces the message verbatim; store failures included,
// since no automatic retry of a partial write is safe.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
	}
	h.writeError(w, status, err.Error())
}

func (h *Handler) cors() *cors.Cors {
	return cors.New(cors.Options{
		AllowOriginFunc: origins.Matcher(h.AllowedOrigins),
		AllowedMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:  []string{"Content-Type", "Authorization", idempotencyHeader},
		MaxAge:          600,
	})
}

type actorContextKey struct{}

func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.Verifier == nil {
			h.writeError(w, http.StatusInternalServerError, "token verifier is not configured")
			return
		}
		claims, err := h.Verifier.Verify(r.Header.Get("Authorization"))
		if err != nil {
			h.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		actor := matchsync.Actor{UserID: claims.Subject, Username: claims.Username}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorContextKey{}, actor)))
	})
}

func actorFromContext(ctx context.Context) matchsync.Actor {
	actor, _ := ctx.Value(actorContextKey{}).(matchsync.Actor)
	return actor
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}
