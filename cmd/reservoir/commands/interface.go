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
	"github.com/fenwicklabs/reservoir/reservation"
	"github.com/fenwicklabs/reservoir/rq"
)

// InterfaceCmd runs the HTTP surface that creates reservations.
var InterfaceCmd = &cobra.Command{
	Use:   "interface",
	Short: "Run the Interface: the createReservation HTTP surface",
	RunE:  runInterface,
}

func runInterface(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return errors.Wrap(err, "load config")
	}

	store, err := config.NewCatalogStore(cfg.Database, nil)
	if err != nil {
		return errors.Wrap(err, "open catalog")
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	resultBlob, err := config.NewBlobStore(ctx, cfg.Blob)
	if err != nil {
		return errors.Wrap(err, "open result blob store")
	}

	pg := pagegetter.New(rq.New(ctx, cfg.RQ.ToRQConfig(), nil), resultBlob)

	registry := plugin.DefaultRegistry()
	inv := invoker.New(registry, invoker.WithResultStore(resultBlob), invoker.WithPageGetter(pg))

	srv := reservation.NewServer(reservation.Config{SchedulerURL: cfg.Server.SchedulerURL}, registry, inv, store)

	httpSrv := &http.Server{Addr: cfg.Server.InterfaceAddr, Handler: srv.Handler()}

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()

	printStartupBanner("interface", cfg.Server.InterfaceAddr)
	pterm.Success.Println("interface running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return errors.Wrap(err, "interface stopped")
	case <-sigCh:
		pterm.Info.Println("shutting down")
		return httpSrv.Close()
	}
}
