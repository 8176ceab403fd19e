// README: Ride simulator; runs rider and driver flows against an order store and prints a PASS/FAIL summary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"ridesync/internal/config"
	"ridesync/internal/logging"
)

type Config struct {
	config.Config
	Drivers     int
	Concurrency int
	Duration    time.Duration
	Timeout     time.Duration
	Strict      bool
}

func main() {
	cfg := loadConfig()

	logger, err := logging.New(cfg.Log.Level, "ridesim")
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Metrics.Addr != "" {
		go serveMetrics(cfg.Metrics.Addr, logger)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	sim, err := NewRunner(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("setup", zap.Error(err))
	}
	results := sim.RunAll(ctx)

	fmt.Println("\n== Summary ==")
	pass, fail, skipped := 0, 0, 0
	for _, r := range results {
		switch r.Status {
		case StatusPass:
			pass++
		case StatusFail:
			fail++
		case StatusSkip:
			skipped++
		}
	}
	fmt.Printf("PASS=%d FAIL=%d SKIP=%d\n", pass, fail, skipped)

	if fail > 0 || (cfg.Strict && skipped > 0) {
		os.Exit(1)
	}
}

func loadConfig() Config {
	base, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	cfg := Config{Config: base}
	flag.StringVar(&cfg.Store.BaseURL, "store-url", cfg.Store.BaseURL, "order store base URL (including /api)")
	flag.IntVar(&cfg.Drivers, "drivers", 3, "drivers racing for each order")
	flag.IntVar(&cfg.Concurrency, "concurrency", 10, "parallel pollers for the load case")
	flag.DurationVar(&cfg.Duration, "duration", 5*time.Second, "duration of the load case")
	flag.DurationVar(&cfg.Timeout, "timeout", 60*time.Second, "total timeout")
	flag.BoolVar(&cfg.Strict, "strict", false, "fail on skipped cases")
	flag.Parse()
	if cfg.Drivers < 1 {
		cfg.Drivers = 1
	}
	return cfg
}

func serveMetrics(addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	logger.Info("metrics listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server", zap.Error(err))
	}
}
