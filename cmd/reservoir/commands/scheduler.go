package commands

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/fenwicklabs/reservoir/config"
	"github.com/fenwicklabs/reservoir/errors"
	"github.com/fenwicklabs/reservoir/plugin"
	"github.com/fenwicklabs/reservoir/scheduler"
)

// SchedulerCmd runs the tick-driven publisher.
var SchedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Run the Scheduler: seed the heap from the catalog and publish due reservations",
	RunE:  runScheduler,
}

func runScheduler(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return errors.Wrap(err, "load config")
	}

	store, err := config.NewCatalogStore(cfg.Database, nil)
	if err != nil {
		return errors.Wrap(err, "open catalog")
	}

	b, err := config.NewBroker(cfg.Broker)
	if err != nil {
		return errors.Wrap(err, "dial broker")
	}
	defer b.Close()

	sched := scheduler.New(cfg.Scheduler.ToSchedulerConfig(), plugin.DefaultRegistry(), store, b, cfg.Scheduler.ToRemap())

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- sched.Run(ctx) }()

	srv := &http.Server{Addr: cfg.Server.SchedulerAddr, Handler: scheduler.NewServer(sched).Handler()}
	go func() { errCh <- srv.ListenAndServe() }()

	printStartupBanner("scheduler", cfg.Server.SchedulerAddr)
	pterm.Success.Println("scheduler running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return errors.Wrap(err, "scheduler stopped")
	case <-sigCh:
		pterm.Info.Println("shutting down")
		cancel()
		return srv.Close()
	}
}
