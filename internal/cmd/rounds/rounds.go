// Package rounds parses rounds command flags and starts the round engine.
package rounds

import (
	"context"
	"flag"
	"fmt"
	"time"

	"go.uber.org/zap"

	entrypoint "github.com/louisbranch/partyround/internal/platform/cmd"
	server "github.com/louisbranch/partyround/internal/services/rounds/app"
)

// Config holds rounds command configuration.
type Config struct {
	HTTPAddr         string        `env:"HTTP_ADDR" envDefault:":8090"`
	GRPCPort         int           `env:"GRPC_PORT" envDefault:"8091"`
	GRPCAddr         string        `env:"GRPC_ADDR"`
	DBPath           string        `env:"DB_PATH" envDefault:"data/rounds.db"`
	CatalogPath      string        `env:"CATALOG_PATH"`
	JWTSecret        string        `env:"JWT_SECRET"`
	SweepInterval    time.Duration `env:"SWEEP_INTERVAL" envDefault:"5s"`
	SweepConcurrency int           `env:"SWEEP_CONCURRENCY" envDefault:"4"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "The HTTP API listen address")
	fs.IntVar(&cfg.GRPCPort, "grpc-port", cfg.GRPCPort, "The gRPC health server port")
	fs.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "The gRPC health listen address (overrides -grpc-port)")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Path to the rounds SQLite database")
	fs.StringVar(&cfg.CatalogPath, "catalog", cfg.CatalogPath, "Path to an entity catalog YAML file (default: embedded)")
	fs.DurationVar(&cfg.SweepInterval, "sweep-interval", cfg.SweepInterval, "How often overdue rounds are swept (0 disables)")
	fs.IntVar(&cfg.SweepConcurrency, "sweep-concurrency", cfg.SweepConcurrency, "Matches swept in parallel")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) serverConfig() server.Config {
	grpcAddr := c.GRPCAddr
	if grpcAddr == "" {
		grpcAddr = fmt.Sprintf(":%d", c.GRPCPort)
	}
	return server.Config{
		HTTPAddr:         c.HTTPAddr,
		GRPCAddr:         grpcAddr,
		DBPath:           c.DBPath,
		CatalogPath:      c.CatalogPath,
		JWTSecret:        c.JWTSecret,
		SweepInterval:    c.SweepInterval,
		SweepConcurrency: c.SweepConcurrency,
	}
}

// Run starts the rounds HTTP API and health service.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceRounds, func(ctx context.Context, logger *zap.Logger) error {
		return server.Run(ctx, cfg.serverConfig(), logger)
	})
}
