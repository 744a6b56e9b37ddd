package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// freeAddr резервирует свободный порт и сразу освобождает его для Run.
func freeAddr(t *testing.T) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())
	return addr
}

func testRunConfig(t *testing.T) Config {
	cfg := DefaultConfig()
	cfg.HTTPAddr = freeAddr(t)
	cfg.GRPCAddr = freeAddr(t)
	cfg.MetricsAddr = freeAddr(t)
	cfg.OutboxPollInterval = 20 * time.Millisecond
	cfg.FulfillmentBackoff = []time.Duration{10 * time.Millisecond}
	cfg.FulfillmentTimeout = 2 * time.Second
	return cfg
}

func waitReady(t *testing.T, url string) {
	t.Helper()
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 3*time.Second, 20*time.Millisecond)
}

func TestRun_MemoryOrderLifecycle(t *testing.T) {
	cfg := testRunConfig(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, cfg) }()

	waitReady(t, "http://"+cfg.MetricsAddr+"/readyz")

	req, err := http.NewRequest(http.MethodPost, "http://"+cfg.HTTPAddr+"/api/orders", strings.NewReader(`{"product_id":1,"quantity":2}`))
	require.NoError(t, err)
	req.Header.Set("X-User-ID", "7")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	var accepted struct {
		OrderPublicID string `json:"order_public_id"`
		Status        string `json:"status"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&accepted))
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Equal(t, "pending", accepted.Status)

	require.Eventually(t, func() bool {
		req, err := http.NewRequest(http.MethodGet, "http://"+cfg.HTTPAddr+"/api/orders/"+accepted.OrderPublicID, nil)
		if err != nil {
			return false
		}
		req.Header.Set("X-User-ID", "7")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var order struct {
			Status string `json:"status"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
			return false
		}
		return order.Status == "completed"
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestRun_InvalidStorageDriver(t *testing.T) {
	cfg := testRunConfig(t)
	cfg.StorageDriver = "invalid-driver"

	err := Run(context.Background(), cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported storage driver")
}

func TestRun_AddressInUse(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	cfg := testRunConfig(t)
	cfg.HTTPAddr = busy.Addr().String()

	err = Run(context.Background(), cfg)
	require.Error(t, err)
	require.False(t, errors.Is(err, context.Canceled))
	require.Contains(t, err.Error(), fmt.Sprintf("listen http %s", cfg.HTTPAddr))
}
