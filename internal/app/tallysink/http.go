package tallysink

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

type Reader interface {
	GetTally(ctx context.Context, matchID string) (Projection, error)
	ListTallies(ctx context.Context, limit int) ([]Projection, error)
}

// Routes serves the read model. It lags the ledger by at most one notice per match.
func Routes(reader Reader) http.Handler {
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			if parsed, err := strconv.Atoi(raw); err == nil {
				limit = parsed
			}
		}
		tallies, err := reader.ListTallies(r.Context(), limit)
		if err != nil {
			log.Error().Err(err).Msg("list tallies")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"tallies": tallies})
	})
	r.Get("/{matchID}", func(w http.ResponseWriter, r *http.Request) {
		p, err := reader.GetTally(r.Context(), chi.URLParam(r, "matchID"))
		switch {
		case errors.Is(err, ErrProjectionNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		case err != nil:
			log.Error().Err(err).Msg("get tally")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		default:
			writeJSON(w, http.StatusOK, p)
		}
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
