// Command match-sim drives a live match the way a crowd of scorekeeper tablets
// and spectators would, then checks that the server tally matches what the
// tablets were told they recorded.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/matchday/livescore/internal/match"
	platformauth "github.com/matchday/livescore/internal/platform/auth"
	"github.com/matchday/livescore/internal/platform/env"
	"github.com/matchday/livescore/internal/platform/logging"
	"github.com/matchday/livescore/internal/platform/metrics"
	"github.com/matchday/livescore/internal/platform/server"
	"github.com/matchday/livescore/internal/scoring"
	"github.com/nats-io/nuid"
	"github.com/rs/zerolog/log"
)

type simConfig struct {
	APIBase           string
	StreamerBase      string
	MatchID           string
	Tablets           int
	Viewers           int
	Duration          time.Duration
	ActionsPerSecond  float64
	RetryRatio        float64
	RemoveRatio       float64
	RequestTimeout    time.Duration
	MetricsAddr       string
	JWTSecret         string
	StartupWait       time.Duration
	ShutdownTimeout   time.Duration
	DisableValidation bool
}

var (
	requestsTotal = metrics.NewCounterVec(metrics.Opts{
		Name: "livescore_sim_requests_total",
		Help: "HTTP requests sent by the simulator.",
	}, []string{"endpoint", "status", "outcome"})
	viewersGauge = metrics.NewGauge(metrics.Opts{
		Name: "livescore_sim_connected_viewers",
		Help: "Simulated spectators currently holding an SSE stream.",
	})
)

func init() {
	metrics.Default.MustRegister(requestsTotal, viewersGauge)
}

// recorded is one ledger entry a tablet saw accepted with 201.
type recorded struct {
	id   string
	kind match.Kind
	team match.Team
}

type tablet struct {
	index int
	token string

	mu      sync.Mutex
	entries []recorded
}

type runner struct {
	cfg    simConfig
	client *http.Client

	mu       sync.Mutex
	expected scoring.Tally

	success   atomic.Int64
	failures  atomic.Int64
	notices   atomic.Int64
	snapshots atomic.Int64
}

func main() {
	cfg := loadConfig()
	logging.Setup("match-sim", env.String("LOG_LEVEL", "info"), true)
	if cfg.Tablets <= 0 {
		log.Fatal().Msg("SIM_TABLETS must be > 0")
	}

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(baseCtx, cfg.Duration)
	defer cancel()

	go func() {
		srv := server.New(cfg.MetricsAddr, server.WithProbes(http.NotFoundHandler(), nil), false)
		if err := server.Serve(baseCtx, srv, cfg.ShutdownTimeout); err != nil {
			log.Warn().Err(err).Msg("metrics server stopped")
		}
	}()

	r := &runner{cfg: cfg, client: &http.Client{Timeout: cfg.RequestTimeout}}
	if err := r.waitReady(ctx, cfg.APIBase+"/readyz"); err != nil {
		log.Fatal().Err(err).Msg("match-api not ready")
	}
	if err := r.seedExpected(ctx); err != nil {
		log.Fatal().Err(err).Msg("read starting tally")
	}

	tokens := platformauth.NewManager(cfg.JWTSecret, cfg.Duration+time.Hour)
	var wg sync.WaitGroup
	for i := 0; i < cfg.Tablets; i++ {
		token, err := tokens.Sign("sim-"+strconv.Itoa(i), fmt.Sprintf("tablet %d", i), platformauth.RoleScorekeeper)
		if err != nil {
			log.Fatal().Err(err).Msg("sign token")
		}
		t := &tablet{index: i, token: token}
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.runTablet(ctx, t)
		}()
	}
	for i := 0; i < cfg.Viewers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.runViewer(ctx)
		}()
	}
	go r.logProgress(ctx)

	wg.Wait()
	log.Info().
		Int64("success", r.success.Load()).
		Int64("failures", r.failures.Load()).
		Int64("notices", r.notices.Load()).
		Int64("snapshots", r.snapshots.Load()).
		Msg("simulation complete")

	if cfg.DisableValidation {
		return
	}
	verifyCtx, verifyCancel := context.WithTimeout(baseCtx, 10*time.Second)
	defer verifyCancel()
	if err := r.verify(verifyCtx); err != nil {
		log.Fatal().Err(err).Msg("tally mismatch")
	}
	log.Info().Msg("server tally matches accepted entries")
}

func loadConfig() simConfig {
	return simConfig{
		APIBase:           strings.TrimRight(env.String("SIM_API_BASE", "http://localhost:8080"), "/"),
		StreamerBase:      strings.TrimRight(env.String("SIM_STREAMER_BASE", "http://localhost:8081"), "/"),
		MatchID:           env.String("SIM_MATCH_ID", "demo"),
		Tablets:           env.Int("SIM_TABLETS", 4),
		Viewers:           env.Int("SIM_VIEWERS", 50),
		Duration:          env.Duration("SIM_DURATION", 2*time.Minute),
		ActionsPerSecond:  env.Float("SIM_ACTIONS_PER_TABLET_PER_SECOND", 0.5),
		RetryRatio:        env.Float("SIM_RETRY_RATIO", 0.1),
		RemoveRatio:       env.Float("SIM_REMOVE_RATIO", 0.05),
		RequestTimeout:    env.Duration("SIM_REQUEST_TIMEOUT", 10*time.Second),
		MetricsAddr:       env.String("SIM_METRICS_ADDR", ":9099"),
		JWTSecret:         env.String("JWT_SECRET", "dev-insecure-change-me"),
		StartupWait:       env.Duration("SIM_STARTUP_WAIT", time.Minute),
		ShutdownTimeout:   env.Duration("SHUTDOWN_TIMEOUT", 5*time.Second),
		DisableValidation: env.Bool("SIM_SKIP_VERIFY", false),
	}
}

var kindWeights = []struct {
	kind   match.Kind
	weight float64
}{
	{match.KindTry, 0.35},
	{match.KindConversion, 0.25},
	{match.KindPenalty, 0.2},
	{match.KindDropGoal, 0.05},
	{match.KindYellowCard, 0.07},
	{match.KindRedCard, 0.02},
	{match.KindSubstitution, 0.06},
}

func pickKind(rng *rand.Rand) match.Kind {
	roll := rng.Float64()
	for _, kw := range kindWeights {
		if roll < kw.weight {
			return kw.kind
		}
		roll -= kw.weight
	}
	return match.KindTry
}

func (r *runner) runTablet(ctx context.Context, t *tablet) {
	interval := time.Second
	if r.cfg.ActionsPerSecond > 0 {
		interval = time.Duration(float64(time.Second) / r.cfg.ActionsPerSecond)
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(t.index*7)))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if rng.Float64() < r.cfg.RemoveRatio && r.removeOne(ctx, t, rng) {
				continue
			}
			r.recordOne(ctx, t, rng)
		}
	}
}

func (r *runner) recordOne(ctx context.Context, t *tablet, rng *rand.Rand) {
	entry := recorded{id: nuid.Next(), kind: pickKind(rng), team: match.Home}
	if rng.Intn(2) == 1 {
		entry.team = match.Away
	}
	body := map[string]any{"team": entry.team, "type": entry.kind}

	status, err := r.send(ctx, "logs_create", http.MethodPost, r.matchURL("/logs"), t.token, entry.id, body, http.StatusCreated, http.StatusOK)
	if err != nil {
		log.Debug().Err(err).Int("tablet", t.index).Msg("record failed")
		return
	}
	if status == http.StatusCreated {
		r.apply(entry, 1)
		t.mu.Lock()
		t.entries = append(t.entries, entry)
		t.mu.Unlock()
	}

	// A flaky network makes tablets resend; the ledger must absorb it.
	if rng.Float64() < r.cfg.RetryRatio {
		status, err := r.send(ctx, "logs_retry", http.MethodPost, r.matchURL("/logs"), t.token, entry.id, body, http.StatusOK)
		if err == nil && status != http.StatusOK {
			log.Warn().Int("status", status).Str("event_id", entry.id).Msg("retry was not treated as duplicate")
		}
	}
}

func (r *runner) removeOne(ctx context.Context, t *tablet, rng *rand.Rand) bool {
	t.mu.Lock()
	if len(t.entries) == 0 {
		t.mu.Unlock()
		return false
	}
	idx := rng.Intn(len(t.entries))
	entry := t.entries[idx]
	t.entries = append(t.entries[:idx], t.entries[idx+1:]...)
	t.mu.Unlock()

	if _, err := r.send(ctx, "logs_delete", http.MethodDelete, r.matchURL("/logs/"+url.PathEscape(entry.id)), t.token, "", nil, http.StatusOK); err != nil {
		log.Debug().Err(err).Int("tablet", t.index).Msg("remove failed")
		t.mu.Lock()
		t.entries = append(t.entries, entry)
		t.mu.Unlock()
		return true
	}
	r.apply(entry, -1)
	return true
}

func (r *runner) apply(entry recorded, sign int) {
	e := match.Event{ID: entry.id, Kind: entry.kind, Team: entry.team}
	r.mu.Lock()
	defer r.mu.Unlock()
	if sign > 0 {
		r.expected.Apply(e)
	} else {
		r.expected.Revert(e)
	}
}

func (r *runner) runViewer(ctx context.Context) {
	for ctx.Err() == nil {
		if err := r.watch(ctx); err != nil && !errors.Is(err, context.Canceled) && ctx.Err() == nil {
			log.Debug().Err(err).Msg("viewer reconnecting")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (r *runner) watch(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.StreamerBase+"/events?match_id="+url.QueryEscape(r.cfg.MatchID), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected stream status %d", resp.StatusCode)
	}

	viewersGauge.Inc()
	defer viewersGauge.Dec()
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		switch scanner.Text() {
		case "event: notice":
			r.notices.Add(1)
		case "event: snapshot":
			r.snapshots.Add(1)
		}
	}
	if ctx.Err() != nil {
		return context.Canceled
	}
	return scanner.Err()
}

func (r *runner) send(ctx context.Context, endpoint, method, target, token, idempotencyKey string, payload any, expected ...int) (int, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		requestsTotal.WithLabelValues(endpoint, "0", "error").Inc()
		r.failures.Add(1)
		return 0, err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)

	status := strconv.Itoa(resp.StatusCode)
	for _, want := range expected {
		if resp.StatusCode == want {
			requestsTotal.WithLabelValues(endpoint, status, "success").Inc()
			r.success.Add(1)
			return resp.StatusCode, nil
		}
	}
	requestsTotal.WithLabelValues(endpoint, status, "error").Inc()
	r.failures.Add(1)
	return resp.StatusCode, fmt.Errorf("unexpected status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(raw)))
}

func (r *runner) fetchTally(ctx context.Context) (scoring.Tally, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.matchURL("/tally"), nil)
	if err != nil {
		return scoring.Tally{}, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return scoring.Tally{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return scoring.Tally{}, fmt.Errorf("tally status %d", resp.StatusCode)
	}
	var tally scoring.Tally
	return tally, json.NewDecoder(resp.Body).Decode(&tally)
}

// seedExpected starts from the live tally so earlier activity on the match
// does not count as drift.
func (r *runner) seedExpected(ctx context.Context) error {
	tally, err := r.fetchTally(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.expected = scoring.Tally{
		HomeScore:       tally.HomeScore,
		AwayScore:       tally.AwayScore,
		YellowCardsHome: tally.YellowCardsHome,
		YellowCardsAway: tally.YellowCardsAway,
		RedCardsHome:    tally.RedCardsHome,
		RedCardsAway:    tally.RedCardsAway,
	}
	r.mu.Unlock()
	return nil
}

func (r *runner) verify(ctx context.Context) error {
	got, err := r.fetchTally(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	want := r.expected
	r.mu.Unlock()
	if got.HomeScore != want.HomeScore || got.AwayScore != want.AwayScore ||
		got.YellowCardsHome != want.YellowCardsHome || got.YellowCardsAway != want.YellowCardsAway ||
		got.RedCardsHome != want.RedCardsHome || got.RedCardsAway != want.RedCardsAway {
		return fmt.Errorf("server %d-%d (cards %d/%d %d/%d), expected %d-%d (cards %d/%d %d/%d)",
			got.HomeScore, got.AwayScore, got.YellowCardsHome, got.YellowCardsAway, got.RedCardsHome, got.RedCardsAway,
			want.HomeScore, want.AwayScore, want.YellowCardsHome, want.YellowCardsAway, want.RedCardsHome, want.RedCardsAway)
	}
	return nil
}

func (r *runner) waitReady(ctx context.Context, target string) error {
	deadline := time.Now().Add(r.cfg.StartupWait)
	var lastErr error
	for time.Now().Before(deadline) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return err
		}
		resp, err := r.client.Do(req)
		if err == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
			err = fmt.Errorf("status=%d", resp.StatusCode)
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	if lastErr == nil {
		lastErr = errors.New("timeout")
	}
	return lastErr
}

func (r *runner) logProgress(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Info().
				Int64("success", r.success.Load()).
				Int64("failures", r.failures.Load()).
				Int64("notices", r.notices.Load()).
				Float64("viewers", viewersGauge.Value()).
				Msg("progress")
		}
	}
}

func (r *runner) matchURL(suffix string) string {
	return r.cfg.APIBase + "/api/v1/matches/" + url.PathEscape(r.cfg.MatchID) + suffix
}
