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
	"github.com/fenwicklabs/reservoir/invoker"
	"github.com/fenwicklabs/reservoir/pagegetter"
	"github.com/fenwicklabs/reservoir/plugin"
	"github.com/fenwicklabs/reservoir/rq"
	"github.com/fenwicklabs/reservoir/worker"
)

// WorkerCmd runs the broker consumer that executes reservations.
var WorkerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the Worker: consume reservation UUIDs and execute them",
	RunE:  runWorker,
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return errors.Wrap(err, "load config")
	}

	store, err := config.NewCatalogStore(cfg.Database, nil)
	if err != nil {
		return errors.Wrap(err, "open catalog")
	}

	accountKV, err := config.NewCacheStore(cfg.Cache)
	if err != nil {
		return errors.Wrap(err, "open account cache")
	}

	b, err := config.NewBroker(cfg.Broker)
	if err != nil {
		return errors.Wrap(err, "dial broker")
	}
	defer b.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	resultBlob, err := config.NewBlobStore(ctx, cfg.Blob)
	if err != nil {
		return errors.Wrap(err, "open result blob store")
	}
	pg := pagegetter.New(rq.New(ctx, cfg.RQ.ToRQConfig(), nil), resultBlob)

	registry := plugin.DefaultRegistry()
	inv := invoker.New(registry, invoker.WithResultStore(resultBlob), invoker.WithFastCache(accountKV), invoker.WithPageGetter(pg))

	pool := worker.New(cfg.Worker.ToWorkerConfig(), b, accountKV, store, registry, inv, resultBlob, cfg.Worker.ToArgMapping(), cfg.Worker.ToRemap())

	errCh := make(chan error, 1)
	go func() { errCh <- pool.Run(ctx) }()

	srv := &http.Server{Addr: cfg.Server.WorkerAddr, Handler: worker.NewServer(pool, b).Handler()}
	go func() { errCh <- srv.ListenAndServe() }()

	printStartupBanner("worker", cfg.Server.WorkerAddr)
	pterm.Success.Println("worker running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return errors.Wrap(err, "worker stopped")
	case <-sigCh:
		pterm.Info.Println("shutting down")
		cancel()
		return srv.Close()
	}
}
