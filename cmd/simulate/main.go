package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/okian/arena/internal/simulate"
	"github.com/okian/arena/pkg/logger"
	"github.com/urfave/cli/v3"
)

// Default configuration constants.
const (
	defaultHeights = 10
	defaultTimeout = 10 * time.Second
	defaultWait    = 2 * time.Minute
	defaultPoll    = 50 * time.Millisecond
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	//nolint:exhaustruct
	cmd := &cli.Command{
		Name:  "simulate",
		Usage: "play sessions against a running node as its eligible participants",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Value: "http://localhost:9080", Usage: "base URL of the node", Sources: cli.EnvVars("SIMULATE_URL")},
			&cli.IntFlag{Name: "heights", Value: defaultHeights, Usage: "number of sessions to play"},
			&cli.StringFlag{Name: "behaviours", Value: "honest", Usage: "comma separated: honest,silent,withhold,mismatch,equivocate"},
			&cli.DurationFlag{Name: "poll", Value: defaultPoll},
			&cli.DurationFlag{Name: "timeout", Value: defaultTimeout, Usage: "HTTP request timeout"},
			&cli.DurationFlag{Name: "wait", Value: defaultWait, Usage: "maximum wait for one session"},
			&cli.BoolFlag{Name: "verbose"},
		},
		Action: run,
	}
	if err := cmd.Run(ctx, os.Args); err != nil {
		logger.Get().Error(ctx, "simulation failed", logger.Error(err))
		os.Exit(1) //nolint:gocritic // stop runs on the happy path
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	behaviours, err := simulate.ParseBehaviours(cmd.String("behaviours"))
	if err != nil {
		return err
	}
	if cmd.Bool("verbose") {
		_ = logger.SetLevelString("debug")
	}
	stats, err := simulate.Run(ctx, &simulate.Config{
		BaseURL:    cmd.String("url"),
		Heights:    cmd.Int("heights"),
		Behaviours: behaviours,
		Poll:       cmd.Duration("poll"),
		Timeout:    cmd.Duration("timeout"),
		Wait:       cmd.Duration("wait"),
		Verbose:    cmd.Bool("verbose"),
	})
	if stats != nil {
		simulate.Report(ctx, stats)
	}
	return err
}
