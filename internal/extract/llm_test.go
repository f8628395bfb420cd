package extract

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/labelmatch/internal/resilience"
)

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
	ttl  time.Duration
	err  error
}

func newMemCache() *memCache { return &memCache{data: map[string][]byte{}} }

func (m *memCache) GetCachedGeneration(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.data[key], nil
}

func (m *memCache) SetCachedGeneration(_ context.Context, key string, data []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.data[key] = data
	m.ttl = ttl
	return nil
}

func TestBuildAddressPrompt(t *testing.T) {
	p := BuildAddressPrompt("2821 carradale dr")
	assert.True(t, strings.HasPrefix(p, AddressPrompt))
	assert.True(t, strings.HasSuffix(p, "\nOCR TEXT:\n2821 carradale dr"))
	assert.Contains(t, p, `"recipient_address"`)
}

func TestLLMAddresses_ParsesOutput(t *testing.T) {
	var gotPrompt string
	gen := GeneratorFunc(func(_ context.Context, prompt string) (string, error) {
		gotPrompt = prompt
		return "```json\n{\"recipient_address\": \"2821 Carradale Dr, Roseville, CA 95661\"}\n```", nil
	})

	addr, err := NewLLMAddresses(gen).ExtractAddress(context.Background(), "2821 carradale dr roseville ca 95661")
	require.NoError(t, err)
	assert.Equal(t, "2821 Carradale Dr, Roseville, CA 95661", addr)
	assert.Equal(t, BuildAddressPrompt("2821 carradale dr roseville ca 95661"), gotPrompt)
}

func TestLLMAddresses_UnusableOutputIsAbsence(t *testing.T) {
	gen := GeneratorFunc(func(context.Context, string) (string, error) {
		return "no address here", nil
	})
	addr, err := NewLLMAddresses(gen).ExtractAddress(context.Background(), "x")
	require.NoError(t, err)
	assert.Empty(t, addr)
}

func TestLLMAddresses_ServiceFailure(t *testing.T) {
	gen := GeneratorFunc(func(context.Context, string) (string, error) {
		return "", errors.New("connection refused")
	})
	addr, err := NewLLMAddresses(gen).ExtractAddress(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extract: llm address")
	assert.Empty(t, addr)
}

func TestLLMAddresses_Cache(t *testing.T) {
	calls := 0
	gen := GeneratorFunc(func(context.Context, string) (string, error) {
		calls++
		return `{"recipient_address": "1 Main St, Springfield, IL 62701"}`, nil
	})
	cache := newMemCache()
	l := NewLLMAddresses(gen, WithCache(cache, time.Hour))

	for i := 0; i < 3; i++ {
		addr, err := l.ExtractAddress(context.Background(), "1 main st springfield il 62701")
		require.NoError(t, err)
		assert.Equal(t, "1 Main St, Springfield, IL 62701", addr)
	}
	assert.Equal(t, 1, calls)
	assert.Len(t, cache.data, 1)
	assert.Equal(t, time.Hour, cache.ttl)

	_, err := l.ExtractAddress(context.Background(), "other text")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestLLMAddresses_CacheFailureFallsThrough(t *testing.T) {
	calls := 0
	gen := GeneratorFunc(func(context.Context, string) (string, error) {
		calls++
		return `{"recipient_address": "1 Main St"}`, nil
	})
	cache := newMemCache()
	cache.err = errors.New("database is locked")

	addr, err := NewLLMAddresses(gen, WithCache(cache, time.Hour)).ExtractAddress(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "1 Main St", addr)
	assert.Equal(t, 1, calls)
}

func TestCacheKey_Stable(t *testing.T) {
	assert.Equal(t, cacheKey("abc"), cacheKey("abc"))
	assert.NotEqual(t, cacheKey("abc"), cacheKey("abd"))
	assert.Len(t, cacheKey("abc"), 64)
}

func TestGuard_OpenBreakerFailsFast(t *testing.T) {
	calls := 0
	gen := GeneratorFunc(func(context.Context, string) (string, error) {
		calls++
		return "", errors.New("timeout")
	})
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour})
	guarded := Guard(gen, cb, resilience.RetryConfig{MaxAttempts: 1})

	for i := 0; i < 2; i++ {
		_, err := guarded.Generate(context.Background(), "p")
		require.Error(t, err)
	}
	_, err := guarded.Generate(context.Background(), "p")
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, 2, calls)
}

func TestGuard_RetriesTransient(t *testing.T) {
	calls := 0
	gen := GeneratorFunc(func(context.Context, string) (string, error) {
		calls++
		if calls == 1 {
			return "", resilience.NewTransientError(errors.New("loading model"), 503)
		}
		return "ok", nil
	})
	guarded := Guard(gen, nil, resilience.RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond})

	out, err := guarded.Generate(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 2, calls)
}
