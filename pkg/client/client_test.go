package client

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgelab/forge/internal/allocator"
	"github.com/forgelab/forge/internal/registry"
	"github.com/forgelab/forge/internal/server"
	"github.com/forgelab/forge/internal/supervisor"
)

func newTestServer(t *testing.T) *Client {
	t.Helper()
	gin.SetMode(gin.TestMode)
	sup := supervisor.New(registry.NewMemStore(), allocator.New(45900, 46000), supervisor.Config{
		ProbeTimeout: 100 * time.Millisecond,
		StopTimeout:  time.Second,
	})
	srv := httptest.NewServer(server.NewRouter(sup, "/api").Handler())
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL + "/api", Timeout: 2 * time.Second})
}

func TestClientRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newTestServer(t)

	require.True(t, c.IsReachable(ctx))

	rec, err := c.Ensure(ctx, EnsureRequest{Name: "web"})
	require.NoError(t, err)
	assert.NotZero(t, rec.Backend)
	assert.NotZero(t, rec.Frontend)

	st, err := c.Status(ctx, "web")
	require.NoError(t, err)
	assert.Equal(t, "web", st.Name)
	assert.False(t, st.Up)
	assert.Equal(t, "stopped", st.State)

	list, err := c.Slots(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, c.Stop(ctx, "web"))

	msg, err := c.LastAction(ctx)
	require.NoError(t, err)
	assert.Contains(t, msg, "web")

	require.NoError(t, c.Release(ctx, "web"))
	_, err = c.Status(ctx, "web")
	require.Error(t, err)
}

func TestClientSurfacesServerErrors(t *testing.T) {
	ctx := context.Background()
	c := newTestServer(t)

	_, err := c.Open(ctx, "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown slot")

	_, err = c.Ensure(ctx, EnsureRequest{Name: "../evil"})
	require.Error(t, err)
}
