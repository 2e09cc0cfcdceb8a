// Command matchctl is the operator tool: it signs scorekeeper tokens and
// registers matches in the shared store.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/matchday/livescore/internal/match"
	platformauth "github.com/matchday/livescore/internal/platform/auth"
	"github.com/matchday/livescore/internal/platform/config"
	"github.com/matchday/livescore/internal/platform/dbpool"
	"github.com/matchday/livescore/internal/platform/logging"
	"github.com/matchday/livescore/internal/store/postgres"
	"github.com/nats-io/nuid"
	"github.com/rs/zerolog/log"
)

const usage = `usage: matchctl <command> [flags]

commands:
  token    sign a bearer token
  create   register a match
  status   change a match status (scheduled, live, ended, cancelled)
`

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	logging.Setup("matchctl", cfg.LogLevel, true)

	if err := run(context.Background(), cfg, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("%s", usage)
	}
	switch args[0] {
	case "token":
		return issueToken(cfg, args[1:], out)
	case "create":
		return createMatch(ctx, cfg, args[1:], out)
	case "status":
		return setStatus(ctx, cfg, args[1:], out)
	default:
		return fmt.Errorf("unknown command %q\n%s", args[0], usage)
	}
}

func issueToken(cfg config.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	userID := fs.String("user", "", "user id (generated when empty)")
	username := fs.String("name", "", "display name shown on ledger entries")
	role := fs.String("role", platformauth.RoleScorekeeper, "scorekeeper, admin or viewer")
	ttl := fs.Duration("ttl", cfg.Auth.TokenTTL, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	switch *role {
	case platformauth.RoleScorekeeper, platformauth.RoleAdmin, platformauth.RoleViewer:
	default:
		return fmt.Errorf("unknown role %q", *role)
	}
	if strings.TrimSpace(*userID) == "" {
		*userID = nuid.Next()
	}
	if strings.TrimSpace(*username) == "" {
		return fmt.Errorf("-name is required")
	}

	token, err := platformauth.NewManager(cfg.Auth.Secret, *ttl).Sign(*userID, *username, *role)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

func createMatch(ctx context.Context, cfg config.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	id := fs.String("id", "", "match id (generated when empty)")
	home := fs.String("home", "", "home team name")
	away := fs.String("away", "", "away team name")
	homeCode := fs.String("home-code", "", "home team tri-code")
	awayCode := fs.String("away-code", "", "away team tri-code")
	tournament := fs.String("tournament", "", "tournament name")
	venue := fs.String("venue", "", "venue")
	kickoff := fs.String("kickoff", "", "scheduled kickoff, RFC 3339")
	status := fs.String("status", string(match.StatusScheduled), "initial status")
	if err := fs.Parse(args); err != nil {
		return err
	}

	m, err := buildMatch(*id, *home, *away, *homeCode, *awayCode, *tournament, *venue, *kickoff, *status)
	if err != nil {
		return err
	}
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	if err := store.CreateMatch(ctx, m); err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, m.ID)
	return err
}

func buildMatch(id, home, away, homeCode, awayCode, tournament, venue, kickoff, status string) (match.Match, error) {
	m := match.Match{
		ID:         strings.TrimSpace(id),
		Status:     match.Status(strings.ToLower(strings.TrimSpace(status))),
		Tournament: strings.TrimSpace(tournament),
		Venue:      strings.TrimSpace(venue),
		HomeTeam:   match.TeamInfo{Name: strings.TrimSpace(home), TriCode: strings.ToUpper(strings.TrimSpace(homeCode))},
		AwayTeam:   match.TeamInfo{Name: strings.TrimSpace(away), TriCode: strings.ToUpper(strings.TrimSpace(awayCode))},
	}
	if m.ID == "" {
		m.ID = nuid.Next()
	}
	if m.HomeTeam.Name == "" || m.AwayTeam.Name == "" {
		return match.Match{}, fmt.Errorf("-home and -away are required")
	}
	if !m.Status.Valid() {
		return match.Match{}, fmt.Errorf("unknown status %q", status)
	}
	if kickoff = strings.TrimSpace(kickoff); kickoff != "" {
		at, err := time.Parse(time.RFC3339, kickoff)
		if err != nil {
			return match.Match{}, fmt.Errorf("invalid -kickoff: %w", err)
		}
		m.ScheduledAt = at.UTC()
	}
	return m, nil
}

func setStatus(ctx context.Context, cfg config.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	id := fs.String("id", "", "match id")
	status := fs.String("status", "", "new status")
	if err := fs.Parse(args); err != nil {
		return err
	}
	next := match.Status(strings.ToLower(strings.TrimSpace(*status)))
	if strings.TrimSpace(*id) == "" || !next.Valid() {
		return fmt.Errorf("-id and a valid -status are required")
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	if err := store.SetMatchStatus(ctx, strings.TrimSpace(*id), next); err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "%s %s\n", strings.TrimSpace(*id), next)
	return err
}

func openStore(ctx context.Context, cfg config.Config) (*postgres.Store, func(), error) {
	if cfg.Database.Memory {
		return nil, nil, fmt.Errorf("matchctl needs the shared Postgres store; unset STORE_IN_MEMORY")
	}
	pool, err := dbpool.New(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	store := postgres.New(pool)
	if err := dbpool.WaitReady(ctx, pool, 10*time.Second, store.EnsureSchema); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return store, pool.Close, nil
}
