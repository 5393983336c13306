package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/glazyr/paygate"
	"github.com/glazyr/paygate/config"
	"github.com/glazyr/paygate/logger"
	"github.com/glazyr/paygate/metrics"
	"github.com/glazyr/paygate/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the paygate server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	log := logger.NewZapLogger(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := paygate.New(ctx, cfg,
		paygate.WithLogger(log),
		paygate.WithMetrics(metrics.NewPrometheusRecorder()),
	)
	if err != nil {
		return err
	}
	defer pg.Close()
	log.Info("ledger backend ready", map[string]any{"backend": cfg.LedgerBackend})

	srv, err := server.New(cfg, pg.Gate(), pg.Store(), pg.Tracker(),
		server.WithLogger(log),
		server.WithVersion(paygate.Version),
	)
	if err != nil {
		return err
	}

	httpSrv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info("server starting", map[string]any{
			"addr":    cfg.Addr(),
			"network": cfg.Network,
			"asset":   cfg.AssetAddress,
		})
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", map[string]any{"err": err.Error()})
			os.Exit(1)
		}
	}()

	<-sigCh
	log.Info("shutting down", nil)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	return httpSrv.Shutdown(shutdownCtx)
}
