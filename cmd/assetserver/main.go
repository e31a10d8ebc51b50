// Package main is the entry point for the objwatch asset server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Faultbox/objwatch/internal/assets"
	"github.com/Faultbox/objwatch/internal/config"
	"github.com/Faultbox/objwatch/internal/logger"
	"github.com/Faultbox/objwatch/internal/server"
)

func main() {
	// Parse CLI flags first
	config.ParseFlags()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	fileCfg := logger.FileConfig{}
	if cfg.Logging.LogFile != "" {
		fileCfg = logger.DefaultFileConfig(cfg.Logging.LogFile)
		fileCfg.JSON = cfg.Logging.JSON
	}
	if err := logger.InitWithFileConfig(cfg.Logging.Level, fileCfg, true); err != nil {
		fmt.Fprintf(os.Stderr, "Logger error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("=== objwatch asset server ===")
	logger.Sugar.Debugf("Config: %+v", cfg)

	manager, err := assets.NewManager(cfg.Assets, logger.Named("assets"))
	if err != nil {
		logger.Error("failed to start asset manager", zap.Error(err))
		os.Exit(1)
	}
	defer manager.Close()

	srv := server.New(cfg.Server, manager, logger.Named("server"))

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case s := <-sig:
		logger.Info("shutting down", zap.String("signal", s.String()))
	case err := <-errc:
		if err != nil {
			logger.Error("server error", zap.Error(err))
			manager.Close()
			logger.Sync()
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
	}

	logger.Info("server stopped")
}
