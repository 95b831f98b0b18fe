package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadyEndpoint_NotReadyByDefault(t *testing.T) {
	h := New()

	w := httptest.NewRecorder()
	h.ReadyEndpoint(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp statusResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "unhealthy", resp.Status)
	assert.Contains(t, resp.Checks, "_readiness")
}

func TestReadyEndpoint_ReadyAfterGate(t *testing.T) {
	h := New()
	h.SetReady(true)

	w := httptest.NewRecorder()
	h.ReadyEndpoint(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, h.IsReady())
}

func TestLiveEndpoint_HealthyByDefault(t *testing.T) {
	h := New()
	h.AddLivenessCheck("always-fails", time.Second, func(context.Context) error {
		return errors.New("boom")
	})

	// Probes start healthy until the failure threshold is crossed.
	w := httptest.NewRecorder()
	h.LiveEndpoint(w, httptest.NewRequest(http.MethodGet, "/livez", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestProbe_FailureThreshold(t *testing.T) {
	p := newProbe("db", time.Second, func(context.Context) error {
		return errors.New("connection refused")
	})

	ctx := context.Background()
	p.tick(ctx)
	p.tick(ctx)
	assert.True(t, p.healthy.Load(), "below threshold should stay healthy")

	p.tick(ctx)
	assert.False(t, p.healthy.Load(), "third consecutive failure flips unhealthy")

	msg, failed := p.failure()
	require.True(t, failed)
	assert.Equal(t, "connection refused", msg)
}

func TestProbe_RecoversAfterSuccess(t *testing.T) {
	fail := true
	p := newProbe("db", time.Second, func(context.Context) error {
		if fail {
			return errors.New("down")
		}
		return nil
	})

	ctx := context.Background()
	for range 3 {
		p.tick(ctx)
	}
	require.False(t, p.healthy.Load())

	fail = false
	p.tick(ctx)
	assert.True(t, p.healthy.Load(), "one success recovers with default threshold")
}

func TestIsReady_FailingReadinessProbe(t *testing.T) {
	h := New()
	h.SetReady(true)
	h.AddReadinessCheck("cache", time.Second, func(context.Context) error {
		return errors.New("down")
	})

	require.True(t, h.IsReady())

	h.mu.RLock()
	p := h.readyp[0]
	h.mu.RUnlock()
	for range 3 {
		p.tick(context.Background())
	}

	assert.False(t, h.IsReady())

	w := httptest.NewRecorder()
	h.ReadyEndpoint(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestStartStop(t *testing.T) {
	h := New()
	calls := make(chan struct{}, 10)
	h.AddLivenessCheck("ticker", time.Second, func(context.Context) error {
		select {
		case calls <- struct{}{}:
		default:
		}
		return nil
	})

	h.Start(context.Background(), 10*time.Millisecond)
	defer h.Stop()

	select {
	case <-calls:
	case <-time.After(time.Second):
		t.Fatal("probe never ran")
	}
}

func TestGoroutineCountCheck(t *testing.T) {
	assert.NoError(t, GoroutineCountCheck(1_000_000)(context.Background()))
	assert.Error(t, GoroutineCountCheck(0)(context.Background()))
}
