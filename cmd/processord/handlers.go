package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/modelmycode/cqrs-framework/core/processor"
)

func auditEvent(log *slog.Logger) processor.OverrideFunc {
	log = log.With(slog.String("component", "audit"))
	return func(_ context.Context, eventName, aggregateID string, payload any) error {
		attrs := []any{slog.String("event", eventName), slog.String("aggregate_id", aggregateID)}
		if raw, ok := payload.(json.RawMessage); ok {
			attrs = append(attrs, slog.String("payload", string(raw)))
		}
		log.Info("event", attrs...)
		return nil
	}
}

type status struct {
	Processor string `json:"processor"`
	TokenID   string `json:"token_id"`
	ClientID  string `json:"client_id"`
	Active    bool   `json:"active"`
}

func newMux(reg *prom.Registry, p *processor.TrackingEventProcessor) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(status{
			Processor: p.Name(),
			TokenID:   p.TokenID(),
			ClientID:  p.ClientID(),
			Active:    p.IsActive(),
		})
	})
	return mux
}
