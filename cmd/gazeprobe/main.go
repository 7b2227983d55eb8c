package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/normanking/gazeprobe/internal/bus"
	"github.com/normanking/gazeprobe/internal/config"
	"github.com/normanking/gazeprobe/internal/detect"
	"github.com/normanking/gazeprobe/internal/logging"
	"github.com/normanking/gazeprobe/internal/probe"
	"github.com/normanking/gazeprobe/internal/surface"
)

func main() {
	autostart := flag.Bool("autostart", false, "Start a session immediately")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	syslog, err := logging.New(&logging.Config{
		LogDir:     cfg.Logging.Dir,
		Level:      cfg.Logging.Level,
		Console:    cfg.Logging.Console,
		MaxHistory: cfg.Logging.MaxHistory,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer syslog.Close()

	logger := syslog.Zerolog()
	mainLog := syslog.Component("main")
	mainLog.Info().Msg("========================================")
	mainLog.Info().Msg("GazeProbe starting")

	eventBus := bus.NewEventBus()

	frames := detect.NewFrames(eventBus, logger)
	frames.SetMaxAge(cfg.Detector.MaxFrameAge)

	detector := detect.NewStreamClient(cfg.Detector.ServerURL, cfg.Detector.Timeout, cfg.Detector.ReconnectDelay, eventBus, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := detector.Connect(ctx); err != nil {
		mainLog.Error().Err(err).Msg("Failed to start detector client")
		os.Exit(1)
	}
	defer detector.Disconnect()

	controller := probe.NewController(&probe.Config{
		DurationSeconds: cfg.Session.DurationSeconds,
		SampleInterval:  cfg.Session.SampleInterval,
		ReferenceWidth:  cfg.Session.ReferenceWidth,
		ScreenWidth:     cfg.Session.ScreenWidth,
	}, detector, frames, eventBus, logger)
	defer controller.Stop()

	server := surface.NewServer(cfg.Server.Host, cfg.Server.Port, controller, frames, eventBus, logger)
	server.AttachLogStream(syslog)
	if err := server.Start(); err != nil {
		mainLog.Error().Err(err).Msg("Failed to start surface server")
		os.Exit(1)
	}

	// Config edits apply to the next session
	watcher, err := config.NewWatcher(logger, func(next *config.Config) {
		controller.UpdateConfig(&probe.Config{
			DurationSeconds: next.Session.DurationSeconds,
			SampleInterval:  next.Session.SampleInterval,
			ReferenceWidth:  next.Session.ReferenceWidth,
			ScreenWidth:     next.Session.ScreenWidth,
		})
		frames.SetMaxAge(next.Detector.MaxFrameAge)
		eventBus.Publish(bus.Event{Type: bus.EventTypeConfigReloaded})
	})
	if err != nil {
		mainLog.Warn().Err(err).Msg("Config watcher unavailable, live reload disabled")
	} else {
		defer watcher.Close()
	}

	if *autostart {
		controller.Start()
	}

	mainLog.Info().Msg("GazeProbe ready")

	<-ctx.Done()
	mainLog.Info().Msg("Shutdown signal received")

	controller.Stop()
	detector.Disconnect()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		mainLog.Warn().Err(err).Msg("Surface server shutdown error")
	}

	mainLog.Info().Msg("GazeProbe stopped")
}
