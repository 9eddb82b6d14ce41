package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/sirupsen/logrus"

	"github.com/danpilch/tubeboard/internal/api/tfl"
	"github.com/danpilch/tubeboard/internal/board"
	"github.com/danpilch/tubeboard/internal/catalog"
	"github.com/danpilch/tubeboard/internal/config"
	"github.com/danpilch/tubeboard/internal/notify"
	"github.com/danpilch/tubeboard/internal/push"
	"github.com/danpilch/tubeboard/internal/server"
)

var CLI struct {
	Config string `help:"Path to config file" default:"config.yaml" type:"path"`
	Listen string `help:"Listen address override" default:""`
}

func main() {
	kong.Parse(&CLI)

	// Setup structured logging with logfmt
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetLevel(logrus.DebugLevel)
	logger.SetFormatter(&logrus.TextFormatter{
		DisableColors: true,
		FullTimestamp: true,
	})

	// Load configuration
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		logger.WithField("error", err).Fatal("failed to load config")
	}
	if CLI.Listen != "" {
		cfg.Server.Listen = CLI.Listen
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.WithField("signal", sig).Info("received signal, shutting down")
		cancel()
	}()

	// Initialize the TfL client and load the catalog. A failed load is
	// fatal: the board never starts on a partial catalog.
	tflClient := tfl.NewClient(cfg.TfL.BaseURL, os.Getenv("TFL_APP_KEY"), logger)
	cat := catalog.New(tflClient, cfg.TfL.Mode, cfg.TfL.StopType, logger)
	if err := cat.Load(ctx); err != nil {
		logger.WithField("error", err).Fatal("failed to load transit catalog")
	}

	// Optional imminent-train alerts
	var alerts board.Notifier
	if cfg.Alerts.TrainApproaching {
		pushoverToken := os.Getenv("PUSHOVER_TOKEN")
		pushoverUser := os.Getenv("PUSHOVER_USER")
		if pushoverToken == "" || pushoverUser == "" {
			logger.Fatal("PUSHOVER_TOKEN and PUSHOVER_USER environment variables are required for alerts")
		}
		alerts = notify.NewNotifier(pushoverToken, pushoverUser, logger)
	}

	// Optional push feed; polling carries the board when it is absent or
	// the connection drops.
	var feed board.Subscriber
	var pushFeed *push.Feed
	if cfg.TfL.PushURL != "" {
		pushFeed = push.New(cfg.TfL.PushURL, cat, logger)
		if err := pushFeed.Connect(ctx); err != nil {
			logger.WithField("error", err).Warn("push feed unavailable, polling only")
			pushFeed = nil
		} else {
			feed = pushFeed
		}
	}

	controller := board.New(ctx, cat, feed, alerts, logger)
	if pushFeed != nil {
		pushFeed.SetCallback(controller.ApplyPush)
	}

	srv := &http.Server{
		Addr:    cfg.Server.Listen,
		Handler: server.New(cat, controller, cfg.Server.StaticDir, logger).Handler(),
	}

	go func() {
		logger.WithField("listen", cfg.Server.Listen).Info("starting tubeboard")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithField("error", err).Error("server failed")
			cancel()
		}
	}()

	// Wait for context cancellation
	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithField("error", err).Warn("error during graceful shutdown")
	}
	if pushFeed != nil {
		if err := pushFeed.Close(); err != nil {
			logger.WithField("error", err).Debug("closing push feed")
		}
	}
	logger.Info("tubeboard stopped")
}
