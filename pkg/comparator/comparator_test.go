package comparator

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/facegate/pkg/config"
	"github.com/pario-ai/facegate/pkg/metrics"
)

func TestGateway_PassThrough(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	g := NewGateway(Func(func(_ context.Context, a, b string) (float64, error) {
		assert.Equal(t, "sample", a)
		assert.Equal(t, "ref", b)
		return 0.91, nil
	}), zerolog.Nop(), m)

	score, err := g.Compare(context.Background(), "sample", "ref")
	require.NoError(t, err)
	assert.InDelta(t, 0.91, score, 1e-9)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Comparisons.WithLabelValues("ok")))
}

func TestGateway_Failure(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	calls := 0
	g := NewGateway(Func(func(context.Context, string, string) (float64, error) {
		calls++
		return 0, errors.New("model not loaded")
	}), zerolog.Nop(), m)

	_, err := g.Compare(context.Background(), "a", "b")
	assert.ErrorIs(t, err, ErrCompareFailed)
	assert.Equal(t, 1, calls, "no retries")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Comparisons.WithLabelValues("error")))
}

func TestGateway_InvalidScore(t *testing.T) {
	for _, score := range []float64{-0.1, 1.01, math.NaN()} {
		g := NewGateway(Func(func(context.Context, string, string) (float64, error) {
			return score, nil
		}), zerolog.Nop(), nil)

		_, err := g.Compare(context.Background(), "a", "b")
		assert.ErrorIs(t, err, ErrInvalidScore)
		assert.ErrorIs(t, err, ErrCompareFailed)
	}
}

func TestClient_Compare(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var req compareRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "c2FtcGxl", req.Source)
		assert.Equal(t, "cmVm", req.Target)
		_, _ = w.Write([]byte(`{"similarity":0.87}`))
	}))
	defer srv.Close()

	c := NewClient(config.ComparatorConfig{URL: srv.URL, APIKey: "secret", Timeout: time.Second}, zerolog.Nop())
	score, err := c.Compare(context.Background(), "c2FtcGxl", "cmVm")
	require.NoError(t, err)
	assert.InDelta(t, 0.87, score, 1e-9)
}

func TestClient_ServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"no face detected"}`))
	}))
	defer srv.Close()

	c := NewClient(config.ComparatorConfig{URL: srv.URL}, zerolog.Nop())
	_, err := c.Compare(context.Background(), "a", "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no face detected")
}

func TestClient_RejectedPairsDoNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req compareRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		switch req.Target {
		case "noface":
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"error":"no face in reference"}`))
		case "blurry":
			_, _ = w.Write([]byte(`{"error":"reference too blurry"}`))
		default:
			_, _ = w.Write([]byte(`{"similarity":0.93}`))
		}
	}))
	defer srv.Close()

	c := NewClient(config.ComparatorConfig{URL: srv.URL, BreakerFailures: 5, BreakerCooldown: time.Minute}, zerolog.Nop())
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := c.Compare(ctx, "sample", "noface")
		var rejected *RejectedError
		require.True(t, errors.As(err, &rejected), "call %d: %v", i, err)
		assert.Equal(t, http.StatusUnprocessableEntity, rejected.Status)
	}
	_, err := c.Compare(ctx, "sample", "blurry")
	assert.Contains(t, err.Error(), "reference too blurry")

	score, err := c.Compare(ctx, "sample", "goodref")
	require.NoError(t, err)
	assert.InDelta(t, 0.93, score, 1e-9)
}

func TestClient_ServerErrorsTripBreaker(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(config.ComparatorConfig{URL: srv.URL, BreakerFailures: 2, BreakerCooldown: time.Minute}, zerolog.Nop())
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := c.Compare(ctx, "a", "b")
		require.Error(t, err)
	}

	_, err := c.Compare(ctx, "a", "b")
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState), "expected open breaker, got %v", err)
	assert.Equal(t, int64(2), hits.Load())
}
