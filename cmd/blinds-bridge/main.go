// Package main runs the Motionblinds bridge: it connects configured gateways,
// serves the REST API and relays service calls and push reports.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/starkillerOG/HA-motion-blinds/internal/app/runtime"
	"github.com/starkillerOG/HA-motion-blinds/internal/config"
	"github.com/starkillerOG/HA-motion-blinds/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config/bridge.yaml", "Path to the bridge configuration file")
	envFile := flag.String("env-file", "", "Optional .env file loaded before the configuration")
	flag.Parse()

	log := logger.NewDefault("blinds-bridge")

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			log.WithError(err).Fatalf("loading env file %s", *envFile)
		}
	} else {
		// Best effort; a missing .env in the working directory is fine.
		_ = godotenv.Load()
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("loading configuration")
	}

	application, err := runtime.NewApplication(cfg)
	if err != nil {
		log.WithError(err).Fatal("building application")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		log.WithError(err).Fatal("running bridge")
	}

	if err := application.Shutdown(context.Background()); err != nil {
		log.WithError(err).Error("shutdown incomplete")
		os.Exit(1)
	}
}
