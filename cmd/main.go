package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/okian/arena/internal/adapters/http/api"
	"github.com/okian/arena/internal/adapters/http/swagger"
	app "github.com/okian/arena/internal/app"
	"github.com/okian/arena/internal/config"
	"github.com/okian/arena/internal/domain/battle"
	"github.com/okian/arena/internal/domain/ca"
	"github.com/okian/arena/internal/domain/glider"
	"github.com/okian/arena/internal/domain/seed"
	"github.com/okian/arena/internal/domain/types"
	"github.com/okian/arena/internal/simulate"
	"github.com/okian/arena/pkg/logger"
	"github.com/okian/arena/pkg/metrics"
	"github.com/urfave/cli/v3"
)

// HTTP server timeout constants.
const (
	readTimeout            = 10 * time.Second
	writeTimeout           = 30 * time.Second
	idleTimeout            = 60 * time.Second
	readHeaderTimeout      = 5 * time.Second
	shutdownTimeout        = 30 * time.Second
	serviceMetricsInterval = 5 * time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newCommand().Run(ctx, os.Args); err != nil {
		os.Stderr.WriteString("arena: " + err.Error() + "\n")
		os.Exit(1) //nolint:gocritic // stop runs on the happy path
	}
}

func newCommand() *cli.Command {
	//nolint:exhaustruct
	return &cli.Command{
		Name:  "arena",
		Usage: "tournament consensus node",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "run the node and its HTTP API",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "addr", Usage: "listen address, overrides config"},
					&cli.StringFlag{Name: "data-dir", Usage: "archive directory, overrides config"},
				},
				Action: runServe,
			},
			{
				Name:      "battle",
				Usage:     "run one catalog matchup and print the result",
				ArgsUsage: "<pattern-a> <pattern-b>",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "size", Value: int(ca.SizeStandard)},
					&cli.IntFlag{Name: "steps", Value: 1000},
					&cli.BoolFlag{Name: "trace", Usage: "print every generation"},
				},
				Action: runBattle,
			},
			{
				Name:      "seed",
				Usage:     "fold hex VRF outputs into a tournament seed",
				ArgsUsage: "<output>...",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "k", Value: seed.DefaultWindow},
				},
				Action: runSeed,
			},
			{
				Name:  "genesis",
				Usage: "print a YAML genesis block with fresh participants",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "n", Value: 8},
					&cli.IntFlag{Name: "bond", Value: 10},
					&cli.FloatFlag{Name: "positive", Value: 20},
				},
				Action: runGenesis,
			},
		},
		DefaultCommand: "serve",
	}
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}
	if cmd.IsSet("addr") {
		cfg.Addr = cmd.String("addr")
	}
	if cmd.IsSet("data-dir") {
		cfg.DataDir = cmd.String("data-dir")
	}

	log := logger.Get()
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}
	defer func() { _ = logger.Sync() }()

	svc := app.New(app.WithConfig(cfg), app.WithLogger(log))
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start node: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		svc.Stop(stopCtx)
	}()

	go startServiceMetricsUpdater(ctx, svc)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newMux(svc),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "server shutdown failed", logger.Error(err))
	}
	log.Info(shutdownCtx, "server stopped")
	return nil
}

func newMux(svc *app.Service) *http.ServeMux {
	mux := http.NewServeMux()
	swagger.Register(mux)
	api.NewServer(svc, svc).Register(mux)
	return mux
}

func startServiceMetricsUpdater(ctx context.Context, svc *app.Service) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateServiceMetrics(svc)
		}
	}
}

func updateServiceMetrics(svc *app.Service) {
	stats := svc.GetStats()
	if n, ok := stats["queueLength"].(int); ok {
		metrics.UpdateQueueSize(n)
	}
	if n, ok := stats["registered"].(int); ok {
		metrics.UpdateRegisteredParticipants(n)
	}
	if n, ok := stats["eligible"].(int); ok {
		metrics.UpdateEligibleParticipants(n)
	}
	if n, ok := stats["workerCount"].(int); ok {
		metrics.UpdateWorkerCount(n)
	}
}

func runBattle(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 2 {
		return errors.New("battle needs two pattern names")
	}
	pa, err := glider.Lookup(cmd.Args().Get(0))
	if err != nil {
		return err
	}
	pb, err := glider.Lookup(cmd.Args().Get(1))
	if err != nil {
		return err
	}
	size := ca.Size(cmd.Int("size"))
	if !size.Valid() {
		return fmt.Errorf("%w: %d", ca.ErrInvalidSize, size)
	}
	spawnA, spawnB := battle.SpawnPoints(size)
	spec := battle.Spec{
		A:      battle.Contender{ID: types.ParticipantID{1}, Pattern: pa},
		B:      battle.Contender{ID: types.ParticipantID{2}, Pattern: pb},
		SpawnA: spawnA,
		SpawnB: spawnB,
		Steps:  cmd.Int("steps"),
		Size:   size,
	}

	var out any
	if cmd.Bool("trace") {
		out, err = battle.Replay(ctx, spec)
	} else {
		out, err = battle.Battle(ctx, spec)
	}
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.Root().Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func runSeed(_ context.Context, cmd *cli.Command) error {
	outputs := make([][]byte, 0, cmd.Args().Len())
	for _, arg := range cmd.Args().Slice() {
		b, err := hex.DecodeString(arg)
		if err != nil {
			return fmt.Errorf("output %q: %w", arg, err)
		}
		outputs = append(outputs, b)
	}
	_, err := fmt.Fprintln(cmd.Root().Writer, seed.Combine(outputs, cmd.Int("k")))
	return err
}

func runGenesis(_ context.Context, cmd *cli.Command) error {
	n := cmd.Int("n")
	if n < 2 {
		return errors.New("genesis needs at least two participants")
	}
	out, err := simulate.GenesisYAML(n, uint64(cmd.Int("bond")), cmd.Float("positive")) //nolint:gosec // flag value
	if err != nil {
		return err
	}
	_, err = cmd.Root().Writer.Write(out)
	return err
}
