package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mithzak/are-you-dead/common/logger"
	"github.com/mithzak/are-you-dead/internal/config"
	"github.com/mithzak/are-you-dead/internal/service"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "safecheck: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var envFile, seedFile, addr string

	flagSet := pflag.NewFlagSet("safecheck", pflag.ContinueOnError)
	flagSet.StringVar(&envFile, "env-file", "", "load environment variables from this file (default: .env if present)")
	flagSet.StringVar(&seedFile, "seed", "", `register users from a YAML seed file ("demo" for the built-in demo user)`)
	flagSet.StringVar(&addr, "addr", "", "HTTP listen address (overrides HTTP_ADDR)")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		fmt.Fprintf(os.Stderr, "Usage: safecheck [flags]\n\n%s", flagSet.FlagUsages())
		return nil
	}

	// 1. environment
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	} else {
		// .env is optional
		_ = godotenv.Load()
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if addr != "" {
		cfg.HTTPAddr = addr
	}
	if seedFile != "" {
		cfg.SeedFile = seedFile
	}

	// 2. logger
	log, err := logger.NewLoggerWithFile(cfg.Log.Level, cfg.Log.Format, "safecheck", logger.FileConfig{
		Filename: cfg.Log.Filename,
	})
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	defer log.Sync()

	// 3. service
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := service.NewSafeCheckService(ctx, cfg, nil, log)
	if err != nil {
		log.Error("Failed to create safecheck service", zap.Error(err))
		return err
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		_ = svc.Stop(stopCtx)
	}()

	if cfg.SeedFile != "" {
		if err := svc.Seed(ctx, cfg.SeedFile); err != nil {
			log.Error("Failed to apply seed file", zap.String("seed_file", cfg.SeedFile), zap.Error(err))
			return err
		}
	}

	// 4. run
	srv := service.NewServer(cfg.HTTPAddr, svc.Handler(), log)
	errCh := make(chan error, 2)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		if err := svc.Start(ctx); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigCh:
		log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case runErr = <-errCh:
		log.Error("Service error", zap.Error(runErr))
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Error("Failed to stop HTTP server", zap.Error(err))
	}

	log.Info("Safecheck stopped")
	return runErr
}
