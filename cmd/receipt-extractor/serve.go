package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/zombor/receipt-extractor/internal/schedule"
	"github.com/zombor/receipt-extractor/internal/server"
)

func newServeCommand(parent *ff.FlagSet, pipeline *pipelineFlags) *ff.Command {
	fs := ff.NewFlagSet("serve").SetParent(parent)
	var (
		port            = fs.IntLong("port", 8080, "HTTP server port")
		uploads         = fs.StringLong("uploads", "./receipts", "Directory uploads are stored in and batches read from")
		authUser        = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass        = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		scheduleSpec    = fs.StringLong("schedule", "", "Cron schedule for batch runs, e.g. '@hourly' (optional)")
		scheduleTimeout = fs.DurationLong("schedule-timeout", 30*time.Minute, "Maximum duration of a scheduled batch")
	)

	return &ff.Command{
		Name:      "serve",
		Usage:     "receipt-extractor serve [FLAGS]",
		ShortHelp: "accept uploads over HTTP and run batches on demand or on a schedule",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			if *pipeline.dbPath == "" {
				return errors.New("serve needs a history database, set --db")
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)

			p, err := pipeline.build(reg)
			if err != nil {
				return err
			}
			defer p.Close()

			// Initialize storage
			slog.Info("Initializing storage...", "path", *uploads)
			storage, err := server.NewLocalStorage(*uploads)
			if err != nil {
				return fmt.Errorf("initializing storage: %w", err)
			}

			srv := server.NewServer(server.Config{
				Runner:   p.runner,
				History:  p.store,
				Storage:  storage,
				Gatherer: reg,
				BasicAuth: server.BasicAuth{
					Username: *authUser,
					Password: *authPass,
				},
			})

			if *scheduleSpec != "" {
				scheduler := schedule.NewScheduler(*scheduleSpec, srv.RunBatch, *scheduleTimeout, slog.Default())
				if err := scheduler.Start(); err != nil {
					return err
				}
				defer func() { <-scheduler.Stop().Done() }()
			}

			if *authUser != "" || *authPass != "" {
				slog.Info("Basic auth enabled", "user", *authUser)
			}
			return srv.Start(ctx, fmt.Sprintf(":%d", *port))
		},
	}
}
