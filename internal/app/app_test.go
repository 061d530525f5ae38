package app

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopnow/streamwh/internal/config"
	"github.com/shopnow/streamwh/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.GRPC.Addr = "127.0.0.1:0"
	return cfg
}

func TestNew_SQLiteAndLocalSink(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close(context.Background())

	assert.Equal(t, filepath.Join(cfg.DataDir, "warehouse.db"), cfg.Store.Path)
	assert.FileExists(t, cfg.Store.Path)

	out := a.Engine.Process(context.Background(), types.StreamVendors, []byte(`{"vendor_id":"V1"}`))
	assert.Equal(t, "stored", string(out.Disposition), out.Error)
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Type = "postgres"
	_, err := New(context.Background(), cfg, zerolog.Nop())
	assert.Error(t, err)
}

func TestStart_ServesHTTPAndGRPCHealth(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Type = "memory"

	a, err := New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))

	base := "http://" + a.HTTPAddr().String()
	resp, err := http.Post(base+"/v1/streams/vendors/events", "application/json",
		strings.NewReader(`{"vendor_id":"V9","vendor_name":"Nine"}`))
	require.NoError(t, err)
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	conn, err := grpc.NewClient(a.GRPCAddr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	hc, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, hc.Status)

	require.NoError(t, a.Close(context.Background()))

	_, err = http.Get(base + "/health")
	assert.Error(t, err, "listener is closed after shutdown")
}

func TestWait_ReturnsWhenContextEnds(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Type = "memory"
	cfg.GRPC.Enabled = false

	a, err := New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.NoError(t, a.Wait(ctx))
	assert.Nil(t, a.GRPCAddr())
}
