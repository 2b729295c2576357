package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"

	"github.com/Bram-diederik/homeassistant-asterisk-assist/internal/config"
	"github.com/Bram-diederik/homeassistant-asterisk-assist/internal/logging"
	"github.com/Bram-diederik/homeassistant-asterisk-assist/internal/protocol"
	"github.com/Bram-diederik/homeassistant-asterisk-assist/internal/stubserver"
)

func main() {
	addr := pflag.String("listen", "127.0.0.1:10300", "Address to listen on")
	text := pflag.String("text", "ok", "Transcript returned for every stream")
	noTranscript := pflag.Bool("no-transcript", false, "Close the stream without a transcript")
	pings := pflag.Int("pings", 0, "Number of ping events sent before the transcript")
	delay := pflag.Duration("delay", 0, "Pause between audio-stop and the reply")
	statusAddr := pflag.String("status-addr", "", "Serve /health, /sessions and /metrics on this address")
	logLevel := pflag.String("log-level", "info", "Log level: debug, info, warn or error")
	pflag.Parse()

	logger, closeLog := logging.New(config.LoggingConfig{Level: *logLevel, Format: "text", Output: "stdout"}, os.Stdout, os.Stderr)
	defer closeLog()

	before := make([]*protocol.Event, 0, *pings)
	for i := 0; i < *pings; i++ {
		before = append(before, &protocol.Event{Type: "ping"})
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	server, err := stubserver.Listen(*addr, stubserver.Options{
		Transcript:   *text,
		Before:       before,
		NoTranscript: *noTranscript,
		Delay:        *delay,
		Logger:       logger,
		Metrics:      stubserver.NewMetrics(reg),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start stub server: %v\n", err)
		os.Exit(1)
	}

	var status *stubserver.StatusServer
	if *statusAddr != "" {
		status = stubserver.NewStatusServer(*statusAddr, server, reg, logger)
		status.Start()
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Serve()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case err := <-errChan:
		if err != nil {
			logger.Error("Server stopped", slog.String("error", err.Error()))
		}
	}

	start := time.Now()

	if status != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := status.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping status server", slog.String("error", err.Error()))
		}
		cancel()
	}

	if err := server.Close(); err != nil {
		logger.Warn("Error closing listener", slog.String("error", err.Error()))
	}

	logger.Info("Stub server stopped",
		slog.Int("sessions", len(server.Received())),
		slog.Duration("shutdown", time.Since(start)),
	)
}
