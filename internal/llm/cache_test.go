package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryCache struct {
	entries map[string]*CachedResponse
}

func (m *memoryCache) GetCachedResponse(_ context.Context, key string) (*CachedResponse, error) {
	return m.entries[key], nil
}

func (m *memoryCache) SetCachedResponse(_ context.Context, key string, resp *CachedResponse) error {
	m.entries[key] = resp
	return nil
}

func TestCachedBackend_HitSkipsInner(t *testing.T) {
	inner := &scriptedBackend{replies: []scriptedReply{{text: `{"a": 1}`}}}
	cache := &memoryCache{entries: map[string]*CachedResponse{}}
	cb := NewCachedBackend(inner, cache)

	req := Request{Prompt: "p", Images: []Image{{Data: []byte("img")}}}

	first, err := cb.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := cb.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, `{"a": 1}`, second.Text)
	assert.Equal(t, 1, inner.calls)
}

func TestCachedBackend_WebSearchBypassesCache(t *testing.T) {
	inner := &scriptedBackend{replies: []scriptedReply{{text: "x"}}}
	cache := &memoryCache{entries: map[string]*CachedResponse{}}
	cb := NewCachedBackend(inner, cache)

	req := Request{Prompt: "p", Options: Options{WebSearch: true}}
	_, _ = cb.Generate(context.Background(), req)
	_, _ = cb.Generate(context.Background(), req)

	assert.Equal(t, 2, inner.calls)
	assert.Empty(t, cache.entries)
}

func TestRequestHash_ImageBoundaries(t *testing.T) {
	a := Request{Prompt: "p", Images: []Image{{Data: []byte("ab")}, {Data: []byte("c")}}}
	b := Request{Prompt: "p", Images: []Image{{Data: []byte("a")}, {Data: []byte("bc")}}}
	assert.NotEqual(t, requestHash("x", a), requestHash("x", b))
	assert.Equal(t, requestHash("x", a), requestHash("x", a))
	assert.NotEqual(t, requestHash("x", a), requestHash("y", a))
}
