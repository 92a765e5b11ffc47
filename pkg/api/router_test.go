package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/tcpcmd/pkg/adapter"
	"github.com/marmos91/tcpcmd/pkg/extension"
	"github.com/marmos91/tcpcmd/pkg/metrics"
	"github.com/marmos91/tcpcmd/pkg/registry"
)

type staticStatus struct{}

func (staticStatus) Ready() bool { return true }
func (staticStatus) Ranges() []registry.Range {
	return []registry.Range{{Min: 1, Max: 1}, {Min: 2, Max: 2}, {Min: 10, Max: 20}}
}
func (staticStatus) Modules() []extension.ModuleInfo {
	return []extension.ModuleInfo{{Slot: 0, Path: "cmdso/echo.so"}}
}
func (staticStatus) Sessions() []adapter.ConnectionInfo { return nil }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestRouterRoutes(t *testing.T) {
	metrics.ResetRegistry()
	h := NewRouter(staticStatus{})

	assert.Equal(t, http.StatusOK, get(t, h, "/health").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/health/ready").Code)

	w := get(t, h, "/api/v1/commands")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `{"min":10,"max":20,"builtin":false}`)
	assert.Contains(t, w.Body.String(), `{"min":2,"max":2,"builtin":true}`)

	w = get(t, h, "/api/v1/extensions")
	assert.Contains(t, w.Body.String(), "cmdso/echo.so")

	assert.Equal(t, http.StatusNotFound, get(t, h, "/metrics").Code)
	assert.Equal(t, http.StatusTemporaryRedirect, get(t, h, "/").Code)
}

func TestRouterServesMetricsWhenEnabled(t *testing.T) {
	metrics.ResetRegistry()
	metrics.InitRegistry()
	t.Cleanup(metrics.ResetRegistry)

	w := get(t, NewRouter(nil), "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestServerStartStop(t *testing.T) {
	metrics.ResetRegistry()
	s := NewServer(APIConfig{BindAddress: "127.0.0.1"}, staticStatus{})
	s.server.Addr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	resp, err := http.Get("http://" + s.Addr().String() + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "tcpcmd")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestAPIConfigDefaults(t *testing.T) {
	var c APIConfig
	assert.True(t, c.IsEnabled())
	c.ApplyDefaults()
	assert.Equal(t, DefaultPort, c.Port)
	assert.Equal(t, 10*time.Second, c.ReadTimeout)

	off := false
	c.Enabled = &off
	assert.False(t, c.IsEnabled())
}
