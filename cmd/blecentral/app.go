package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/blecentral/internal/adapter"
	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/session"
	"github.com/srg/blecentral/pkg/config"
)

const (
	readyTimeout      = 5 * time.Second
	readyPollInterval = 50 * time.Millisecond
)

// app bundles what every command needs for one run.
type app struct {
	cfg     *config.Config
	logger  *logrus.Logger
	manager *session.Manager
}

// newApp loads the configuration, lets configure adjust it from command
// flags, and builds a manager on the selected backend. The manager is not
// started yet.
func newApp(cmd *cobra.Command, configure func(*config.Config)) (*app, error) {
	cfg := config.DefaultConfig()
	var fileLevel *logrus.Level
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
		fileLevel = &cfg.LogLevel
	}
	if backend, _ := cmd.Flags().GetString("backend"); backend != "" {
		cfg.Backend = backend
	}
	if configure != nil {
		configure(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := configureLogger(cmd, "verbose", fileLevel)
	if err != nil {
		return nil, err
	}

	catalog, err := cfg.Catalog()
	if err != nil {
		return nil, err
	}
	a, err := adapter.New(cfg.Backend, adapter.Options{
		ConnectTimeout: cfg.ConnectTimeout,
		Services:       catalog.ServiceUUIDs(),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s adapter: %w", cfg.Backend, err)
	}

	m, err := session.New(a, cfg, logger)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	return &app{cfg: cfg, logger: logger, manager: m}, nil
}

// start attaches obs and powers the adapter up.
func (a *app) start(obs session.Observer) error {
	_, err := a.manager.Initialize(obs)
	return err
}

// waitReady blocks until the adapter reports PoweredOn. A radio that settles
// in an unusable state fails fast.
func (a *app) waitReady(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()

	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()

	for {
		if a.manager.Ready() {
			return nil
		}
		switch state := a.manager.AdapterState(); state {
		case device.StateUnsupported, device.StateUnauthorized, device.StatePoweredOff:
			return fmt.Errorf("bluetooth adapter is %s: %w", state, device.ErrNotReady)
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("bluetooth adapter is %s after %s: %w", a.manager.AdapterState(), readyTimeout, device.ErrNotReady)
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (a *app) close() {
	if err := a.manager.Close(); err != nil {
		a.logger.WithError(err).Warn("Failed to close session")
	}
}
