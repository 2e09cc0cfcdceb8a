package matchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/matchday/livescore/internal/app/matchsync"
	"github.com/matchday/livescore/internal/contracts"
	"github.com/matchday/livescore/internal/match"
	"github.com/matchday/livescore/internal/matchclock"
	platformauth "github.com/matchday/livescore/internal/platform/auth"
	"github.com/matchday/livescore/internal/scoring"
	"github.com/matchday/livescore/internal/store/memstore"
)

var kickoff = time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)

type testEnv struct {
	router  http.Handler
	store   *memstore.Store
	clock   *clockwork.FakeClock
	token   string
	viewer  string
	notices *[]contracts.ChangeNotice
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	store := memstore.New()
	ctx := context.Background()
	if err := store.CreateMatch(ctx, match.Match{
		ID:       "m1",
		Status:   match.StatusLive,
		HomeTeam: match.TeamInfo{Name: "Harlequins"},
		AwayTeam: match.TeamInfo{Name: "Saracens"},
	}); err != nil {
		t.Fatalf("CreateMatch: %v", err)
	}

	notices := &[]contracts.ChangeNotice{}
	svc := matchsync.NewService(store, store, func(_ context.Context, n contracts.ChangeNotice) error {
		*notices = append(*notices, n)
		return nil
	})
	clock := clockwork.NewFakeClockAt(kickoff)
	svc.Clock = clock
	ids := 0
	svc.NewID = func() string {
		ids++
		return fmt.Sprintf("id-%d", ids)
	}

	tokens := platformauth.NewManager("secret", time.Hour)
	token, err := tokens.Sign("u-1", "table-official", platformauth.RoleScorekeeper)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	viewer, _ := tokens.Sign("u-2", "fan", platformauth.RoleViewer)

	handler := NewHandler(svc, tokens, []string{"http://localhost:5173"})
	return testEnv{router: handler.Router(), store: store, clock: clock, token: token, viewer: viewer, notices: notices}
}

func (e testEnv) do(t *testing.T, method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var payload map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error body: %v (%s)", err, rr.Body.String())
	}
	return payload["error"]
}

func TestGetMatch(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/api/v1/matches/m1", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var m match.Match
	if err := json.Unmarshal(rr.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.HomeTeam.Name != "Harlequins" || m.Status != match.StatusLive {
		t.Fatalf("unexpected match: %+v", m)
	}

	rr = env.do(t, http.MethodGet, "/api/v1/matches/nope", "", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if msg := decodeError(t, rr); msg != "match not found" {
		t.Fatalf("unexpected error: %q", msg)
	}
}

func TestMutations_RequireAuth(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   string
	}{
		{"missing token", http.MethodPost, "/api/v1/matches/m1/score", "", "missing bearer token"},
		{"garbage token", http.MethodDelete, "/api/v1/matches/m1/logs/x", "garbage", "invalid token"},
		{"viewer role", http.MethodPatch, "/api/v1/matches/m1/state", env.viewer, "role may not modify match state"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, tt.method, tt.path, tt.token, map[string]any{"team": "home", "type": "try"})
			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rr.Code)
			}
			if msg := decodeError(t, rr); msg != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, msg)
			}
		})
	}
	if len(*env.notices) != 0 {
		t.Fatalf("unauthorized requests produced notices: %+v", *env.notices)
	}
}

func TestRecordScore_AndIdempotencyKey(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/api/v1/matches/m1/score", env.token,
		map[string]any{"team": "home", "type": "try"}, "Idempotency-Key", "tablet-7-0001")
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var res matchsync.Result
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Event.ID != "tablet-7-0001" || res.Tally.HomeScore != 5 {
		t.Fatalf("unexpected result: %+v", res)
	}

	rr = env.do(t, http.MethodPost, "/api/v1/matches/m1/score", env.token,
		map[string]any{"team": "home", "type": "try"}, "Idempotency-Key", "tablet-7-0001")
	if rr.Code != http.StatusOK {
		t.Fatalf("replay: expected 200, got %d", rr.Code)
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &res)
	if !res.Duplicate || res.Tally.HomeScore != 5 {
		t.Fatalf("replay changed the tally: %+v", res)
	}
}

func TestCreateLog(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/api/v1/matches/m1/logs", env.token, map[string]any{
		"team":        "away",
		"type":        "red card",
		"minute":      52,
		"description": "high tackle",
		"player":      map[string]any{"player_name": "O. Farrell", "jersey_number": 10},
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var created struct {
		Success bool   `json:"success"`
		ID      string `json:"id"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &created)
	if !created.Success || created.ID == "" {
		t.Fatalf("unexpected body: %s", rr.Body.String())
	}

	rr = env.do(t, http.MethodGet, "/api/v1/matches/m1/logs/"+created.ID, "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var event match.Event
	_ = json.Unmarshal(rr.Body.Bytes(), &event)
	if event.Kind != match.KindRedCard || event.Minute != 52 || event.Player == nil || event.Player.JerseyNumber != 10 {
		t.Fatalf("unexpected stored event: %+v", event)
	}
}

func TestCreateLog_BadPayloads(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body any
		want string
	}{
		{"empty body", nil, "missing payload"},
		{"malformed", "{", "invalid JSON payload"},
		{"unknown type", map[string]any{"team": "home", "type": "goal"}, `unsupported event type "goal"`},
		{"bad team", map[string]any{"team": "visitors", "type": "try"}, "team must be home or away"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, "/api/v1/matches/m1/logs", env.token, tt.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
			}
			if msg := decodeError(t, rr); msg != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, msg)
			}
		})
	}
}

func TestListLogs_Orderings(t *testing.T) {
	env := newTestEnv(t)
	for _, minute := range []int{30, 5, 12} {
		env.clock.Advance(time.Second)
		rr := env.do(t, http.MethodPost, "/api/v1/matches/m1/score", env.token, map[string]any{"team": "home", "type": "penalty", "minute": minute})
		if rr.Code != http.StatusCreated {
			t.Fatalf("append: %d %s", rr.Code, rr.Body.String())
		}
	}

	minutes := func(path string) []int {
		rr := env.do(t, http.MethodGet, path, "", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("list: %d", rr.Code)
		}
		var events []match.Event
		_ = json.Unmarshal(rr.Body.Bytes(), &events)
		out := make([]int, 0, len(events))
		for _, e := range events {
			out = append(out, e.Minute)
		}
		return out
	}
	if got := minutes("/api/v1/matches/m1/logs"); fmt.Sprint(got) != "[30 12 5]" {
		t.Fatalf("display order = %v", got)
	}
	if got := minutes("/api/v1/matches/m1/logs?order=ingestion"); fmt.Sprint(got) != "[30 5 12]" {
		t.Fatalf("ingestion order = %v", got)
	}
}

func TestDeleteLog(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodPost, "/api/v1/matches/m1/score", env.token, map[string]any{"team": "home", "type": "try", "event_id": "t-1"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("append: %d", rr.Code)
	}

	rr = env.do(t, http.MethodDelete, "/api/v1/matches/m1/logs/t-1", env.token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body struct {
		Success bool          `json:"success"`
		Tally   scoring.Tally `json:"tally"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &body)
	if !body.Success || body.Tally.HomeScore != 0 {
		t.Fatalf("unexpected body: %s", rr.Body.String())
	}

	rr = env.do(t, http.MethodDelete, "/api/v1/matches/m1/logs/t-1", env.token, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if msg := decodeError(t, rr); msg != "log not found" {
		t.Fatalf("unexpected error: %q", msg)
	}
}

func TestTimerCommands(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/api/v1/matches/m1/timer/start", env.token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("start: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	rr = env.do(t, http.MethodPost, "/api/v1/matches/m1/timer/start", env.token, nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("double start: expected 409, got %d", rr.Code)
	}

	env.clock.Advance(40 * time.Minute)
	rr = env.do(t, http.MethodPost, "/api/v1/matches/m1/timer/half", env.token, map[string]any{"half": "HT"})
	if rr.Code != http.StatusOK {
		t.Fatalf("half: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var timer matchclock.Timer
	if err := json.Unmarshal(rr.Body.Bytes(), &timer); err != nil {
		t.Fatalf("decode timer: %v", err)
	}
	if timer.IsRunning || timer.CurrentHalf != matchclock.HalfTime || timer.Offset != 2400 {
		t.Fatalf("unexpected timer: %+v", timer)
	}

	rr = env.do(t, http.MethodPost, "/api/v1/matches/m1/timer/rewind", env.token, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unknown command: expected 400, got %d", rr.Code)
	}
}

func TestPatchState(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPatch, "/api/v1/matches/m1/state", env.token, map[string]any{})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("empty patch: expected 400, got %d", rr.Code)
	}

	rr = env.do(t, http.MethodPatch, "/api/v1/matches/m1/state", env.token, map[string]any{
		"timer":      map[string]any{"is_running": true},
		"away_score": 3,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body struct {
		Success bool             `json:"success"`
		Timer   matchclock.Timer `json:"timer"`
		Tally   scoring.Tally    `json:"tally"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &body)
	if !body.Success || !body.Timer.IsRunning || body.Tally.AwayScore != 3 {
		t.Fatalf("unexpected body: %s", rr.Body.String())
	}
}

func TestWritesRejectedWhenNotLive(t *testing.T) {
	env := newTestEnv(t)
	if err := env.store.SetMatchStatus(context.Background(), "m1", match.StatusEnded); err != nil {
		t.Fatalf("SetMatchStatus: %v", err)
	}
	rr := env.do(t, http.MethodPost, "/api/v1/matches/m1/adjust", env.token, map[string]any{"team": "home", "delta": 3})
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	if msg := decodeError(t, rr); msg != "match is not live" {
		t.Fatalf("unexpected error: %q", msg)
	}
}

func TestSnapshotAndTally(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/v1/matches/m1/score", env.token, map[string]any{"team": "away", "type": "drop goal"})

	rr := env.do(t, http.MethodGet, "/api/v1/matches/m1/tally", "", nil)
	var tally scoring.Tally
	_ = json.Unmarshal(rr.Body.Bytes(), &tally)
	if rr.Code != http.StatusOK || tally.AwayScore != 3 || tally.Away.DropGoals != 1 {
		t.Fatalf("unexpected tally %d: %s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, http.MethodGet, "/api/v1/matches/m1/snapshot", "", nil)
	var snap matchsync.Snapshot
	if err := json.Unmarshal(rr.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Match.ID != "m1" || len(snap.Events) != 1 || snap.Tally.AwayScore != 3 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/matches/m1/score", nil)
	req.Header.Set("Origin", "http://127.0.0.1:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://127.0.0.1:5173" {
		t.Fatalf("loopback origin not allowed: %q", got)
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/v1/matches/m1/score", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("foreign origin allowed: %q", got)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{match.Invalid("x"), http.StatusBadRequest},
		{match.ErrEventNotFound, http.StatusNotFound},
		{matchclock.ErrNotRunning, http.StatusConflict},
		{platformauth.ErrExpiredToken, http.StatusUnauthorized},
		{match.StoreError("insert event", errors.New("connection reset")), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
