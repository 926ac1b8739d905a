package main

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/example/lavash/internal/config"
	"github.com/example/lavash/internal/database"
	"github.com/example/lavash/internal/routes"
	"github.com/example/lavash/internal/verification"
)

func main() {
	cfg := config.Load()

	zlog, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer func() { _ = zlog.Sync() }()
	zap.ReplaceGlobals(zlog)

	db := database.Connect(cfg.DatabaseURL)

	store := verification.NewStore(zlog.Named("verification"))
	defer store.Stop()

	app := fiber.New(fiber.Config{
		AppName: "Lavash Backend",
	})

	app.Use(recover.New())
	app.Use(logger.New())

	routes.Register(app, db, cfg, store, zlog)

	zlog.Info("starting server", zap.String("port", cfg.AppPort))
	if err := app.Listen(":" + cfg.AppPort); err != nil {
		zlog.Fatal("fiber listen", zap.Error(err))
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
