package benchmarks

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/zeu5/fuzz-gym/config"
	"github.com/zeu5/fuzz-gym/session"
)

func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func loadConfig() (*config.Config, error) {
	if configFile == "" {
		return config.Default(), nil
	}
	return config.Load(configFile)
}

// setup loads the configuration, installs the logger and sweeps pipes left
// behind by dead harnesses. The context is cancelled on SIGINT or SIGTERM,
// which also tears down every live target. The returned function must be
// called when the command ends.
func setup() (*config.Config, *slog.Logger, context.Context, func(), error) {
	c, err := loadConfig()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if verbose {
		c.Verbose = true
	}
	logger := newLogger(c.Verbose)
	slog.SetDefault(logger)

	if removed, err := session.SweepStale(c.GuideDir); err != nil {
		logger.Warn("sweeping stale pipes failed", "dir", c.GuideDir, "error", err)
	} else if len(removed) > 0 {
		logger.Info("removed stale pipes", "count", len(removed))
	}

	stopProfiling, err := startProfiling(logger)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM) // channel for interrupts from os

	doneCh := make(chan struct{}) // channel for done signal from application

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-sigCh:
			logger.Info("interrupted, tearing down targets")
			session.TeardownAll()
		case <-doneCh:
		}
		cancel()
	}()

	return c, logger, ctx, func() {
		signal.Stop(sigCh)
		close(doneCh)
		session.TeardownAll()
		stopProfiling()
	}, nil
}
