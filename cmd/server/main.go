package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"example.com/fieldtrack/internal/api"
	"example.com/fieldtrack/internal/catalog"
	"example.com/fieldtrack/internal/checkin"
	"example.com/fieldtrack/internal/config"
	"example.com/fieldtrack/internal/logging"
	"example.com/fieldtrack/internal/page"
	"example.com/fieldtrack/internal/prospect"
	"example.com/fieldtrack/internal/trajectory"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		l := logging.New("fieldtrack-server", "console", "error")
		l.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "fieldtrack-server",
		Short:         "Field sales check-in and catalog API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), initDBCmd())
	return root
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, logger, err := load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.HTTPAddr = addr
			}
			return serve(ctx, cfg, logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (overrides FIELDTRACK_HTTP_ADDR)")
	return cmd
}

func initDBCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-db",
		Short: "Create tables and indexes in every configured store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			st, err := openStores(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer st.Close()
			return st.migrate(cmd.Context(), logger)
		},
	}
}

func load() (*config.Config, zerolog.Logger, error) {
	boot := logging.New("fieldtrack-server", "json", "info")
	cfg, err := config.New(boot)
	if err != nil {
		return nil, boot, err
	}
	return cfg, logging.New("fieldtrack-server", cfg.LogFormat, cfg.LogLevel), nil
}

func serve(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.migrate(ctx, logger); err != nil {
		return err
	}

	checkinExec, err := st.get(cfg.CheckinStore)
	if err != nil {
		return err
	}
	prospectExec, err := st.get(cfg.ProspectStore)
	if err != nil {
		return err
	}
	catalogExec, err := st.get(config.StoreSQLite)
	if err != nil {
		return err
	}

	limits := page.Limits{Default: cfg.DefaultPageSize, Max: cfg.MaxPageSize}
	probes := make(map[string]api.Pinger, len(st.raw))
	for name, exec := range st.raw {
		probes[name] = exec
	}

	httpLogger := logging.Component(logger, "http")
	srv := api.NewServer(api.Deps{
		Checkins:  checkin.NewRepository(checkinExec, limits, cfg.MapMaxRows),
		Prospects: prospect.NewRepository(prospectExec, limits),
		Catalog:   catalog.NewMutator(catalogExec, cfg.ImageDir, logging.Component(logger, "catalog")),
		Probes:    probes,
		Home:      trajectory.Point{Lat: cfg.HomeLat, Lng: cfg.HomeLng},
		Logger:    httpLogger,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		httpLogger.Info().Str("addr", cfg.HTTPAddr).Msg("fieldtrack API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	return shutdown(httpLogger, server)
}

func shutdown(logger zerolog.Logger, server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
		return err
	}
	logger.Info().Msg("fieldtrack API stopped")
	return nil
}
