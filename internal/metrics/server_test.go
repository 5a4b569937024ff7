package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRouterServesHealthAndMetrics(t *testing.T) {
	Init()
	ts := httptest.NewServer(NewRouter())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", string(body))

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "http_requests_total")
}

func TestServerStartAndShutdown(t *testing.T) {
	srv := NewServer("127.0.0.1:0", zap.NewNop())
	require.NoError(t, srv.Start())
	require.NoError(t, srv.Shutdown(context.Background()))
}

func TestServerStartBadAddress(t *testing.T) {
	srv := NewServer("256.0.0.1:bad", zap.NewNop())
	require.Error(t, srv.Start())
}
