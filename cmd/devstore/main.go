// README: Entry point for the development order store; loads config, picks a repository, serves the REST contract.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"ridesync/internal/config"
	httptransport "ridesync/internal/http"
	"ridesync/internal/infra"
	"ridesync/internal/logging"
	"ridesync/internal/modules/orderstore"
	"ridesync/internal/modules/pricing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger, err := logging.New(cfg.Log.Level, "devstore")
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var repo orderstore.Repository
	if cfg.DB.DSN != "" {
		if err := orderstore.Migrate(cfg.DB.DSN, cfg.DB.Migrations, logger); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
		dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
		if err != nil {
			logger.Fatal("postgres", zap.Error(err))
		}
		defer dbPool.Close()
		repo = orderstore.NewPostgresRepository(dbPool)
		logger.Info("using postgres repository")
	} else {
		repo = orderstore.NewMemoryRepository()
		logger.Info("using in-memory repository; data is lost on exit")
	}

	svc := orderstore.NewService(repo, orderstore.ServiceConfig{
		JWTSecret: cfg.Auth.JWTSecret,
		Pricing:   pricing.New(cfg.Pricing.RatePerKm),
		Logger:    logger,
	})

	server := httptransport.NewServer(cfg.HTTP.Addr, httptransport.RouterDeps{Store: svc, Logger: logger})
	if err := server.Run(ctx); err != nil {
		logger.Fatal("http server", zap.Error(err))
	}
}
