package dense

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/pkg/metrics"
)

func TestFromConfigWithoutURL(t *testing.T) {
	setup, err := FromConfig(config.DenseConfig{}, nil)
	require.NoError(t, err)
	assert.Nil(t, setup.Searcher)
	assert.Nil(t, setup.HTTP)
}

func TestFromConfigWiresCacheAndBreakerGauge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	reg := prometheus.NewRegistry()
	setup, err := FromConfig(config.DenseConfig{
		URL:              srv.URL,
		Timeout:          time.Second,
		CacheSize:        10,
		RetryAttempts:    1,
		FailureThreshold: 1,
		ResetTimeout:     time.Minute,
	}, metrics.NewWithRegistry(reg))
	require.NoError(t, err)
	require.NotNil(t, setup.Cache)
	assert.Same(t, setup.Cache, setup.Searcher)

	_, err = setup.Searcher.Search(context.Background(), "whale", 3)
	require.Error(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	var state float64 = -1
	for _, f := range families {
		if f.GetName() == "circuit_breaker_state" {
			state = f.GetMetric()[0].GetGauge().GetValue()
		}
	}
	assert.Equal(t, 1.0, state)
}
