// Package roundctl implements the operator CLI for the rounds service. It
// works directly against a rounds database, so it is meant for local
// matches, seeding and incident repair rather than live traffic.
package roundctl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	entrypoint "github.com/louisbranch/partyround/internal/platform/cmd"
	"github.com/louisbranch/partyround/internal/platform/discovery"
	platformgrpc "github.com/louisbranch/partyround/internal/platform/grpc"
	"github.com/louisbranch/partyround/internal/platform/logging"
	"github.com/louisbranch/partyround/internal/platform/requestctx"
	"github.com/louisbranch/partyround/internal/services/rounds/api/httpapi"
	server "github.com/louisbranch/partyround/internal/services/rounds/app"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/auditlog"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/catalog"
	"github.com/louisbranch/partyround/internal/services/rounds/engine"
	"github.com/louisbranch/partyround/internal/services/rounds/storage"
	"github.com/louisbranch/partyround/internal/services/rounds/storage/sqlite"
)

// Result views accepted by the show command.
const (
	viewPublic     = "public"
	viewPrivileged = "privileged"
	viewPrivate    = "private"
)

// NewApp returns the roundctl command tree writing to out and errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	return &cli.App{
		Name:      entrypoint.ServiceRoundctl,
		Usage:     "operate a partyround rounds database",
		Writer:    out,
		ErrWriter: errOut,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "db",
				Value:   filepath.Join("data", "rounds.db"),
				Usage:   "path to the rounds SQLite database",
				EnvVars: []string{"PARTYROUND_DB_PATH"},
			},
			&cli.StringFlag{
				Name:    "catalog",
				Usage:   "path to an entity catalog YAML file (default: embedded)",
				EnvVars: []string{"PARTYROUND_CATALOG_PATH"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "warn",
				Usage: "engine log level",
			},
		},
		Commands: []*cli.Command{
			migrateCommand(),
			seedCommand(),
			openCommand(),
			freezeCommand(),
			resolveCommand(),
			showCommand(),
			tokenCommand(),
			healthCommand(),
		},
	}
}

// Run executes the CLI with args, which include the program name.
func Run(ctx context.Context, args []string, out, errOut io.Writer) error {
	return NewApp(out, errOut).RunContext(ctx, args)
}

func newLogger(c *cli.Context) (*zap.Logger, error) {
	return logging.New(entrypoint.ServiceRoundctl, logging.Config{Level: c.String("log-level"), Format: "console"})
}

// openEngine opens the database named by the global flags and builds an
// engine over it. The returned func releases the store.
func openEngine(c *cli.Context) (*engine.Service, func(), error) {
	cat, err := loadCatalog(c.String("catalog"))
	if err != nil {
		return nil, nil, err
	}
	logger, err := newLogger(c)
	if err != nil {
		return nil, nil, err
	}
	store, err := sqlite.Open(c.String("db"))
	if err != nil {
		return nil, nil, fmt.Errorf("open rounds store: %w", err)
	}
	svc, err := engine.New(engine.Config{Store: store, Catalog: cat, Logger: logger})
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return svc, func() {
		_ = logger.Sync()
		if err := store.Close(); err != nil {
			fmt.Fprintf(c.App.ErrWriter, "Error: close rounds store: %v\n", err)
		}
	}, nil
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return catalog.Default()
	}
	return catalog.Load(os.DirFS(filepath.Dir(path)), filepath.Base(path))
}

func roundKeyFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "match", Usage: "match id", Required: true},
		&cli.IntFlag{Name: "round", Usage: "round number", Required: true},
	}
}

func roundKey(c *cli.Context) storage.RoundKey {
	return storage.RoundKey{MatchID: c.String("match"), Round: c.Int("round")}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "apply pending schema migrations",
		Action: func(c *cli.Context) error {
			path := c.String("db")
			if dir := filepath.Dir(path); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("create storage dir: %w", err)
				}
			}
			applied, err := sqlite.Migrate(c.Context, path)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(c.App.Writer, "No new migrations to run")
				return nil
			}
			for _, name := range applied {
				fmt.Fprintf(c.App.Writer, "Applied %s\n", name)
			}
			return nil
		},
	}
}

func seedCommand() *cli.Command {
	return &cli.Command{
		Name:      "seed",
		Usage:     "start a match from a scenario file and play its rounds",
		ArgsUsage: "<scenario.yaml>",
		Action: func(c *cli.Context) error {
			path := c.Args().First()
			if path == "" {
				return errors.New("scenario file is required")
			}
			sc, err := LoadScenario(os.DirFS(filepath.Dir(path)), filepath.Base(path))
			if err != nil {
				return err
			}
			svc, closeFn, err := openEngine(c)
			if err != nil {
				return err
			}
			defer closeFn()
			return RunScenario(c.Context, svc, sc, c.App.Writer)
		},
	}
}

func openCommand() *cli.Command {
	return &cli.Command{
		Name:  "open",
		Usage: "open the next round of a match",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "match", Usage: "match id", Required: true},
			&cli.IntFlag{Name: "danger", Usage: "retaliation damage for this round"},
			&cli.DurationFlag{Name: "deadline", Usage: "submission window from now (0 for none)"},
		},
		Action: func(c *cli.Context) error {
			svc, closeFn, err := openEngine(c)
			if err != nil {
				return err
			}
			defer closeFn()

			setup := engine.RoundSetup{Danger: c.Int("danger")}
			if d := c.Duration("deadline"); d > 0 {
				setup.Deadline = time.Now().Add(d)
			}
			round, err := svc.OpenRound(c.Context, c.String("match"), setup)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "Opened round %d of match %s\n", round.Number, round.MatchID)
			return nil
		},
	}
}

func freezeCommand() *cli.Command {
	return &cli.Command{
		Name:  "freeze",
		Usage: "lock a round's submissions",
		Flags: roundKeyFlags(),
		Action: func(c *cli.Context) error {
			svc, closeFn, err := openEngine(c)
			if err != nil {
				return err
			}
			defer closeFn()

			snap, err := svc.Freeze(c.Context, roundKey(c))
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "Locked round %d with %d actions (seed %d)\n", snap.Round.Number, len(snap.Actions), snap.Round.TieBreakSeed)
			return nil
		},
	}
}

func resolveCommand() *cli.Command {
	return &cli.Command{
		Name:  "resolve",
		Usage: "resolve a locked round and print the moderator view",
		Flags: append(roundKeyFlags(), &cli.BoolFlag{Name: "json", Usage: "print the full record as JSON"}),
		Action: func(c *cli.Context) error {
			svc, closeFn, err := openEngine(c)
			if err != nil {
				return err
			}
			defer closeFn()

			res, err := svc.Resolve(c.Context, roundKey(c))
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return writeJSON(c.App.Writer, res.Record)
			}
			printRecord(c.App.Writer, res.Record, res.Streams().Moderator())
			return nil
		},
	}
}

func showCommand() *cli.Command {
	return &cli.Command{
		Name:  "show",
		Usage: "print a resolved round",
		Flags: append(roundKeyFlags(),
			&cli.StringFlag{Name: "view", Value: viewPublic, Usage: "public, privileged or private"},
			&cli.IntFlag{Name: "participant", Usage: "recipient for the private view"},
			&cli.BoolFlag{Name: "json", Usage: "print lines as JSON"},
		),
		Action: func(c *cli.Context) error {
			svc, closeFn, err := openEngine(c)
			if err != nil {
				return err
			}
			defer closeFn()

			rec, err := svc.Result(c.Context, roundKey(c))
			if err != nil {
				return err
			}
			lines, err := viewLines(auditlog.Split(rec.Lines), c.String("view"), c.Int("participant"))
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return writeJSON(c.App.Writer, lines)
			}
			printRecord(c.App.Writer, rec, lines)
			return nil
		},
	}
}

func viewLines(streams auditlog.Streams, view string, participant int) ([]auditlog.Line, error) {
	switch view {
	case viewPublic:
		return streams.Public, nil
	case viewPrivileged:
		return streams.Moderator(), nil
	case viewPrivate:
		if participant <= 0 {
			return nil, errors.New("private view requires --participant")
		}
		return streams.For(participant), nil
	default:
		return nil, fmt.Errorf("unknown view %q", view)
	}
}

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "issue a caller token for the HTTP API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "secret", Usage: "HS256 signing secret", EnvVars: []string{"PARTYROUND_JWT_SECRET"}, Required: true},
			&cli.StringFlag{Name: "role", Value: httpapi.RoleHost, Usage: "host, moderator or participant"},
			&cli.StringFlag{Name: "subject", Usage: "caller subject; the participant number for participants"},
			&cli.StringFlag{Name: "match", Usage: "match id the token is scoped to", Required: true},
			&cli.DurationFlag{Name: "ttl", Value: 24 * time.Hour, Usage: "token lifetime"},
		},
		Action: func(c *cli.Context) error {
			caller := requestctx.Caller{
				Subject: c.String("subject"),
				Role:    c.String("role"),
				MatchID: c.String("match"),
			}
			tok, err := httpapi.IssueToken(c.String("secret"), caller, time.Now(), c.Duration("ttl"))
			if err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, tok)
			return nil
		},
	}
}

func healthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "wait until a rounds server reports SERVING",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "gRPC health address (default: rounds service convention)", EnvVars: []string{"PARTYROUND_ROUNDS_GRPC_ADDR"}},
			&cli.StringFlag{Name: "service", Value: server.HealthService, Usage: "health service name"},
			&cli.DurationFlag{Name: "timeout", Value: 10 * time.Second, Usage: "how long to wait"},
		},
		Action: func(c *cli.Context) error {
			logger, err := newLogger(c)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()
			addr := discovery.OrDefaultGRPCAddr(c.String("addr"), discovery.ServiceRounds)
			if err := platformgrpc.Probe(ctx, addr, c.String("service"), logger); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "%s is SERVING\n", addr)
			return nil
		},
	}
}

func printRecord(out io.Writer, rec storage.ResolutionRecord, lines []auditlog.Line) {
	fmt.Fprintf(out, "Match %s round %d (%s)\n", rec.MatchID, rec.Round, rec.Ruleset)
	for _, l := range lines {
		if l.Visibility == auditlog.Private {
			fmt.Fprintf(out, "  [to %d] %s\n", l.Recipient, l.Text)
			continue
		}
		fmt.Fprintf(out, "  %s\n", l.Text)
	}
	if rec.Verdict.Ended {
		fmt.Fprintf(out, "Match ended: %s wins (%s)\n", rec.Verdict.Winner, rec.Verdict.Reason)
	}
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
