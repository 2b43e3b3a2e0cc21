package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/internal/searcher/fusion"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Chapter-Retrieval/pkg/config"
)

type memoryBackend struct {
	mu   sync.Mutex
	data map[string][]byte
	err  error
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{data: make(map[string][]byte)}
}

func (m *memoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	v, ok := m.data[key]
	if !ok {
		return nil, goredis.Nil
	}
	return v, nil
}

func (m *memoryBackend) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memoryBackend) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var n int64
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

func response(ids ...string) *executor.Response {
	resp := &executor.Response{Query: "q", TopK: 5}
	for _, id := range ids {
		resp.Results = append(resp.Results, executor.EnrichedResult{DocumentID: id, CombinedScore: 1})
	}
	return resp
}

func TestGetOrComputeCaches(t *testing.T) {
	c := New(newMemoryBackend(), config.RedisConfig{CacheTTL: time.Minute}, nil)
	ctx := context.Background()
	req := executor.Request{Query: "white whale", TopK: 5}

	var calls atomic.Int32
	compute := func() (*executor.Response, error) {
		calls.Add(1)
		return response("d1", "d2"), nil
	}

	first, hit, err := c.GetOrCompute(ctx, req, compute)
	require.NoError(t, err)
	assert.False(t, hit)
	second, hit, err := c.GetOrCompute(ctx, req, compute)
	require.NoError(t, err)
	assert.True(t, hit)

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, first.Results, second.Results)
	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestDegradedResponsesNotCached(t *testing.T) {
	c := New(newMemoryBackend(), config.RedisConfig{}, nil)
	ctx := context.Background()
	req := executor.Request{Query: "whale"}

	var calls atomic.Int32
	compute := func() (*executor.Response, error) {
		calls.Add(1)
		resp := response("d1")
		resp.DenseDegraded = true
		return resp, nil
	}
	_, _, err := c.GetOrCompute(ctx, req, compute)
	require.NoError(t, err)
	_, hit, err := c.GetOrCompute(ctx, req, compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, int32(2), calls.Load())
}

func TestComputeErrorPropagates(t *testing.T) {
	c := New(newMemoryBackend(), config.RedisConfig{}, nil)
	boom := errors.New("boom")
	_, _, err := c.GetOrCompute(context.Background(), executor.Request{Query: "x"}, func() (*executor.Response, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestBackendFailureIsMiss(t *testing.T) {
	backend := newMemoryBackend()
	backend.err = errors.New("connection refused")
	c := New(backend, config.RedisConfig{}, nil)

	_, ok := c.Get(context.Background(), executor.Request{Query: "x"})
	assert.False(t, ok)
}

func TestInvalidate(t *testing.T) {
	backend := newMemoryBackend()
	backend.data["unrelated"] = []byte("keep")
	c := New(backend, config.RedisConfig{}, nil)
	ctx := context.Background()

	c.Set(ctx, executor.Request{Query: "a"}, response("d1"))
	c.Set(ctx, executor.Request{Query: "b"}, response("d2"))

	n, err := c.Invalidate(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	_, ok := c.Get(ctx, executor.Request{Query: "a"})
	assert.False(t, ok)
	assert.Contains(t, backend.data, "unrelated")
}

func TestBuildKey(t *testing.T) {
	base := executor.Request{Query: "White  Whale", TopK: 5}
	assert.Equal(t, BuildKey(base), BuildKey(executor.Request{Query: "white whale", TopK: 5}))
	assert.True(t, strings.HasPrefix(BuildKey(base), keyPrefix))

	withTokens := executor.Request{Query: "white whale", Tokens: []string{"whale", "white", "whale"}, TopK: 5}
	reordered := executor.Request{Query: "white whale", Tokens: []string{"white", "whale"}, TopK: 5}
	assert.Equal(t, BuildKey(withTokens), BuildKey(reordered))
	assert.NotEqual(t, BuildKey(base), BuildKey(withTokens))

	otherK := base
	otherK.TopK = 10
	assert.NotEqual(t, BuildKey(base), BuildKey(otherK))

	rrf := base
	rrf.Fusion = &fusion.Config{Mode: fusion.RRF, K: 60}
	assert.NotEqual(t, BuildKey(base), BuildKey(rrf))
}
