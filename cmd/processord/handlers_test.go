package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/modelmycode/cqrs-framework/core/es"
	"github.com/modelmycode/cqrs-framework/core/processor"
)

func TestMux(t *testing.T) {
	p, err := processor.New("audit", es.NewInMemoryStore(), processor.NewInMemoryTokenStore(nil), nil,
		processor.WithClientID("node-1"))
	require.NoError(t, err)
	srv := httptest.NewServer(newMux(prom.NewRegistry(), p))
	defer srv.Close()

	res, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	_ = res.Body.Close()

	res, err = http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer res.Body.Close()
	var got status
	require.NoError(t, json.NewDecoder(res.Body).Decode(&got))
	require.Equal(t, status{Processor: "audit", TokenID: "processor#audit", ClientID: "node-1"}, got)

	res, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	_ = res.Body.Close()
}

func TestAuditEvent(t *testing.T) {
	audit := auditEvent(slog.New(slog.DiscardHandler))
	require.NoError(t, audit(t.Context(), "OrderPlaced", "o-1", json.RawMessage(`{"id":"o-1"}`)))
}
