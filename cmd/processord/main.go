// Command processord runs one tracking event processor against a JetStream
// event stream. The processor writes every event it receives to the log,
// which makes it an audit trail of the stream. Start several instances with
// the same processor name for failover.
//
// Configuration is read from the file named by the first argument or
// $CQRS_CONFIG, overridden by CQRS_ prefixed environment variables.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/modelmycode/cqrs-framework/adapters/nats"
	"github.com/modelmycode/cqrs-framework/adapters/prometheus"
	"github.com/modelmycode/cqrs-framework/core/app"
	"github.com/modelmycode/cqrs-framework/core/processor"
	"github.com/modelmycode/cqrs-framework/internal/config"
)

func main() {
	if err := run(); err != nil {
		slog.Error("processord failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	path := os.Getenv("CQRS_CONFIG")
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connect := nats.ReuseConnection(nats.ConnectURL(cfg.NATS.URL, log))
	events, err := nats.NewEventStore(ctx, nats.EventStoreConfig{
		Connect:       connect,
		Log:           log,
		StreamName:    cfg.NATS.Stream,
		SubjectPrefix: cfg.NATS.SubjectPrefix,
	})
	if err != nil {
		return fmt.Errorf("event store: %w", err)
	}
	defer events.Close()

	tokens, closeTokens, err := newTokenStore(ctx, cfg.Tokens, connect, log)
	if err != nil {
		return fmt.Errorf("token store: %w", err)
	}
	defer closeTokens()

	reg := prom.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := prometheus.NewAllMetrics(reg)

	a, err := app.New(app.Config{
		Log:              log,
		Store:            events,
		Channel:          events,
		Tokens:           tokens,
		ESMetrics:        m.ES,
		ProcessorMetrics: m.Processor,
		ClientID:         cfg.Node.ClientID,
		Component:        cfg.Node.Component,
		Timings:          cfg.Processor.Timings(),
		ReplayHistory:    cfg.Processor.ReplayHistory,
		QueueHandlers:    cfg.Processor.QueueHandlers,
	})
	if err != nil {
		return err
	}
	p, err := a.AddProcessor(cfg.Processor.Name, nil,
		processor.WithPermits(cfg.Processor.Permits),
		processor.WithOverrideProcess(auditEvent(log)),
	)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           newMux(reg, p),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", slog.Any("error", err))
			stop()
		}
	}()
	log.Info("serving metrics", slog.String("addr", cfg.Metrics.Addr))

	runErr := a.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("metrics server shutdown", slog.Any("error", err))
	}
	return runErr
}

func newLogger(cfg config.LogConfig) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts)), nil
}
