package test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ulfberto/zerocloud/internal/api"
	"github.com/ulfberto/zerocloud/internal/api/router"
	"github.com/ulfberto/zerocloud/internal/compute/transport"
	"github.com/ulfberto/zerocloud/internal/config"
)

// TestUnits is the model size used by test servers.
const TestUnits = 8

// NewTestConfig returns a config tuned for fast in-process clusters.
func NewTestConfig(id string, coordinator bool) config.Server {
	cfg := config.DefaultServiceConfigFromEnv()
	cfg.Node.ID = id
	cfg.Node.DisplayName = id
	cfg.Node.Coordinator = coordinator
	cfg.Redis.Addr = ""
	cfg.Heartbeat.Interval = 100 * time.Millisecond
	cfg.Heartbeat.SweepInterval = 100 * time.Millisecond
	cfg.Heartbeat.Timeout = time.Second
	cfg.Compute.TotalUnits = TestUnits
	cfg.Compute.EngineWidth = 8
	cfg.Compute.FallbackTimeout = 2 * time.Second
	cfg.Compute.StageTimeout = 2 * time.Second
	cfg.Compute.Vendor = "nvidia"
	cfg.Compute.RelayOnly = false
	return cfg
}

// NewTestServer wires a server on hub, mounts the router and joins the
// cluster. Nothing listens on a socket; use PerformRequest.
func NewTestServer(t *testing.T, hub *transport.Hub, cfg config.Server) *api.Server {
	t.Helper()

	tr := hub.Join(cfg.Node.ID)
	s, err := api.InitNewServerWithTransport(cfg, tr)
	require.NoError(t, err)
	router.Init(s)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Recorder.Run(ctx)
	}()
	s.Coordinator.Bootstrap(ctx)

	t.Cleanup(func() {
		s.Coordinator.Stop(context.Background())
		cancel()
		<-done
		hub.Disconnect(cfg.Node.ID)
	})
	return s
}

// WithTestServer runs closure against a lone coordinator node.
func WithTestServer(t *testing.T, closure func(s *api.Server)) {
	t.Helper()
	closure(NewTestServer(t, transport.NewHub(), NewTestConfig("node-a", true)))
}

// PerformRequest serves one request through the server's echo instance.
func PerformRequest(t *testing.T, s *api.Server, method string, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res := httptest.NewRecorder()
	s.Echo.ServeHTTP(res, req)
	return res
}

// ParseResponse decodes a JSON response body into v and checks the status.
func ParseResponse(t *testing.T, res *httptest.ResponseRecorder, status int, v interface{}) {
	t.Helper()
	require.Equal(t, status, res.Code, res.Body.String())
	if v != nil {
		require.NoError(t, json.Unmarshal(res.Body.Bytes(), v))
	}
}
