package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ftl/netcvadapter/adapter"
	"github.com/ftl/netcvadapter/netceiver"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Discover the NetCeiver tuners and stream them over HTTP",
	Run:   serve,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(cmd *cobra.Command, args []string) {
	cfg, log, err := setup()
	if err != nil {
		logrus.Fatal(err)
	}
	log.Info("NetCeiver Adapter")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	registry, table, err := discover(ctx, cfg, netceiver.NewMetrics(reg), log)
	if err != nil {
		log.Fatal(err)
	}
	defer func() {
		if err := table.Close(); err != nil {
			log.Warnf("closing adapters failed: %v", err)
		}
	}()
	log.Infof("%d adapters registered", table.Len())

	server, err := adapter.Listen(cfg.Server.Listen, registry, ctx.Done(), log)
	if err != nil {
		log.Error(err)
		return
	}
	if cfg.Server.Metrics != "" {
		go serveMetrics(ctx, cfg.Server.Metrics, reg, log)
	}

	server.Wait()
	log.Info("shutting down")
}

func serveMetrics(ctx context.Context, address string, reg *prometheus.Registry, log logrus.FieldLogger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	server := &http.Server{Addr: address, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Infof("metrics on %s/metrics", address)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Errorf("metrics endpoint failed: %v", err)
	}
}
