package main

import (
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"example.com/fieldtrack/internal/checkin"
	"example.com/fieldtrack/internal/config"
	"example.com/fieldtrack/internal/logging"
	"example.com/fieldtrack/internal/watch"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		l := logging.New("fieldtrack-watch", "console", "error")
		l.Error().Err(err).Msg("watcher failed")
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		server   string
		agents   []string
		interval time.Duration
		dateFrom string
		dateTo   string
	)
	cmd := &cobra.Command{
		Use:           "fieldtrack-watch",
		Short:         "Poll agents' latest check-ins and refetch their map view on change",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := config.New(logging.New("fieldtrack-watch", "json", "warn"))
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("server") {
				cfg.WatchServer = server
			}
			if cmd.Flags().Changed("agent") {
				cfg.WatchAgents = agents
			}
			if cmd.Flags().Changed("interval") {
				cfg.WatchInterval = interval
			}
			if len(cfg.WatchAgents) == 0 {
				return errors.New("no agents to watch: pass --agent or set FIELDTRACK_WATCH_AGENTS")
			}

			logger := logging.New("fieldtrack-watch", cfg.LogFormat, cfg.LogLevel)
			w := watch.New(watch.NewClient(cfg.WatchServer), watch.Options{
				Agents:   cfg.WatchAgents,
				Interval: cfg.WatchInterval,
				Filter:   checkin.Criteria{DateFrom: dateFrom, DateTo: dateTo},
			}, logging.Component(logger, "watch"))
			return w.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&server, "server", "", "fieldtrack API base URL")
	cmd.Flags().StringArrayVar(&agents, "agent", nil, "agent id to watch (repeatable)")
	cmd.Flags().DurationVar(&interval, "interval", watch.DefaultInterval, "poll interval")
	cmd.Flags().StringVar(&dateFrom, "from", "", "only include check-ins on or after this date")
	cmd.Flags().StringVar(&dateTo, "to", "", "only include check-ins on or before this date")
	return cmd
}
