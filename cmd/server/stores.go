package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"example.com/fieldtrack/internal/config"
	"example.com/fieldtrack/internal/store"
	"example.com/fieldtrack/internal/store/legacy"
	"example.com/fieldtrack/internal/store/postgres"
	"example.com/fieldtrack/internal/store/sqlite"
)

// stores holds every executor the process opened, keyed by config store name.
// Each is wrapped with the busy retry policy.
type stores struct {
	raw     map[string]store.Executor
	retried map[string]store.Executor
}

func openStores(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*stores, error) {
	s := &stores{raw: map[string]store.Executor{}, retried: map[string]store.Executor{}}
	policy := store.RetryPolicy{MaxAttempts: cfg.RetryAttempts, Step: cfg.RetryStep}

	lite, err := sqlite.Open(cfg.SQLitePath, time.Duration(cfg.SQLiteBusyTimeoutMS)*time.Millisecond)
	if err != nil {
		return nil, err
	}
	s.add(config.StoreSQLite, lite, policy)
	log.Info().Str("path", cfg.SQLitePath).Msg("sqlite store opened")

	if cfg.Uses(config.StorePostgres) {
		pg, err := postgres.ConnectWithRetry(ctx, cfg.PostgresDSN, cfg.PostgresConnectAttempts, cfg.PostgresConnectDelay, log)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.add(config.StorePostgres, pg, policy)
		log.Info().Msg("postgres store connected")
	}

	if cfg.Uses(config.StoreLegacy) {
		lg, err := legacy.Open(ctx, cfg.LegacyDriver, cfg.LegacyDSN)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.add(config.StoreLegacy, lg, policy)
		log.Info().Str("driver", cfg.LegacyDriver).Msg("legacy store connected")
	}
	return s, nil
}

func (s *stores) add(name string, exec store.Executor, p store.RetryPolicy) {
	s.raw[name] = exec
	s.retried[name] = store.WithRetry(exec, p)
}

// get returns the retrying executor for name.
func (s *stores) get(name string) (store.Executor, error) {
	exec, ok := s.retried[name]
	if !ok {
		return nil, fmt.Errorf("store %q is not open", name)
	}
	return exec, nil
}

func (s *stores) migrate(ctx context.Context, log zerolog.Logger) error {
	for name, exec := range s.retried {
		if err := store.Migrate(ctx, exec); err != nil {
			return fmt.Errorf("migrate %s: %w", name, err)
		}
		log.Info().Str("store", name).Msg("schema applied")
	}
	return nil
}

func (s *stores) Close() error {
	var errs []error
	for name, exec := range s.raw {
		if err := exec.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
