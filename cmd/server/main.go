// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/valpere/ScrapeSentry/internal/config"
	"github.com/valpere/ScrapeSentry/internal/monitor"
	"github.com/valpere/ScrapeSentry/internal/monitoring"
	"github.com/valpere/ScrapeSentry/internal/notify"
	"github.com/valpere/ScrapeSentry/internal/storage"
	"github.com/valpere/ScrapeSentry/internal/utils"
)

// Version information (set by build flags)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version", "--version":
		printVersion()
		return
	case "help", "--help", "-h":
		printUsage()
		return
	}

	if err := run(os.Args[1]); err != nil {
		fail(err)
	}
}

// run starts the watch loop and serves the REST API until interrupted.
func run(configFile string) error {
	cfg, err := config.LoadFromFile(configFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	utils.SetDefaultLevel(utils.ParseLogLevel(cfg.Logging.Level))
	logger := utils.NewComponentLogger("server-main")

	store, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	dispatcher, err := notify.NewDispatcher(cfg.Notify)
	if err != nil {
		return err
	}
	defer dispatcher.Close()

	var metrics *monitoring.Metrics
	if cfg.Monitoring.Metrics.Enabled {
		metrics = monitoring.NewMetrics()
	}

	mon, err := monitor.New(cfg, store, &monitor.Options{
		Notifier: dispatcher,
		Metrics:  metrics,
	})
	if err != nil {
		return err
	}

	listen := cfg.Server.Listen
	if listen == "" {
		listen = ":8080"
	}

	srv := NewServer(cfg, store, mon)
	httpSrv := &http.Server{
		Addr:              listen,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := mon.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorf("watch loop stopped: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("server shutdown: %v", err)
		}
	}()

	logger.Infof("ScrapeSentry API listening on %s", listen)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("server stopped")
	return nil
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func printUsage() {
	fmt.Println("ScrapeSentry API server")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  scrapesentry-server <config.yaml>")
	fmt.Println("  scrapesentry-server version")
	fmt.Println("  scrapesentry-server help")
	fmt.Println()
	fmt.Println("The server runs the watch loop against the configured targets and")
	fmt.Println("exposes monitoring state over HTTP:")
	fmt.Println("  /health /ready /live     health probes")
	fmt.Println("  /metrics                 Prometheus metrics")
	fmt.Println("  /api/v1/...              executions, changes, patterns, stats,")
	fmt.Println("                           baselines, escalations, mappings")
}

func printVersion() {
	fmt.Printf("ScrapeSentry server %s\n", version)
	fmt.Printf("Build time: %s\n", buildTime)
	fmt.Printf("Git commit: %s\n", gitCommit)
}
