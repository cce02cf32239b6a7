package llm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedReply struct {
	text string
	err  error
}

// scriptedBackend returns replies in order and repeats the last one.
type scriptedBackend struct {
	mu      sync.Mutex
	replies []scriptedReply
	calls   int
	reqs    []Request
}

func (b *scriptedBackend) Name() string { return "scripted" }

func (b *scriptedBackend) Generate(_ context.Context, req Request) (*Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reqs = append(b.reqs, req)
	idx := b.calls
	if idx >= len(b.replies) {
		idx = len(b.replies) - 1
	}
	b.calls++
	r := b.replies[idx]
	if r.err != nil {
		return nil, r.err
	}
	return &Response{Text: r.text, Model: "test-model"}, nil
}

func testClient(b Backend, retries int) *Client {
	return NewClient(b, ClientConfig{
		MaxRetries:     retries,
		InitialBackoff: time.Millisecond,
		RequestTimeout: time.Second,
	})
}

func TestCall_RetriesTransportErrorThenSucceeds(t *testing.T) {
	b := &scriptedBackend{replies: []scriptedReply{
		{err: errors.New("connection refused")},
		{err: errors.New("503 service unavailable")},
		{text: "hello"},
	}}

	text, err := testClient(b, 3).Call(context.Background(), "prompt", nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
	assert.Equal(t, 3, b.calls)
}

func TestCall_RetriesEmptyResponse(t *testing.T) {
	b := &scriptedBackend{replies: []scriptedReply{{text: "   "}, {text: "ok"}}}

	text, err := testClient(b, 2).Call(context.Background(), "prompt", nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, 2, b.calls)
}

func TestCall_ExhaustsMaxRetriesPlusOne(t *testing.T) {
	b := &scriptedBackend{replies: []scriptedReply{{err: errors.New("boom")}}}

	_, err := testClient(b, 2).Call(context.Background(), "prompt", nil, Options{})
	require.Error(t, err)
	assert.Equal(t, 3, b.calls)

	var te *TransportError
	assert.True(t, errors.As(err, &te))
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestCall_OptionsOverrideRetries(t *testing.T) {
	b := &scriptedBackend{replies: []scriptedReply{{text: ""}}}

	_, err := testClient(b, 0).Call(context.Background(), "prompt", nil, Options{MaxRetries: Retries(1)})
	assert.ErrorIs(t, err, ErrEmptyResponse)
	assert.Equal(t, 2, b.calls)
}

func TestCall_OptionsDisableRetries(t *testing.T) {
	b := &scriptedBackend{replies: []scriptedReply{{err: errors.New("boom")}}}

	_, err := testClient(b, 3).Call(context.Background(), "prompt", nil, Options{MaxRetries: Retries(0)})
	require.Error(t, err)
	assert.Equal(t, 1, b.calls)
	assert.Contains(t, err.Error(), "after 1 attempts")
}

func TestCallAndParse_ParseErrorIsNotRetried(t *testing.T) {
	b := &scriptedBackend{replies: []scriptedReply{{text: "I cannot identify this item."}}}

	_, err := testClient(b, 3).CallAndParse(context.Background(), "prompt", nil, Options{})
	require.Error(t, err)

	var pe *JSONParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "I cannot identify this item.", pe.Raw)
	assert.Equal(t, 1, b.calls)
}

func TestCallAndParse_ReturnsFieldsAndRequestsJSON(t *testing.T) {
	b := &scriptedBackend{replies: []scriptedReply{{text: "```json\n{\"category\": \"fashion\", \"confidence\": \"88\",}\n```"}}}
	img := Image{URL: "file:///tmp/a.jpg", MIMEType: "image/jpeg", Data: []byte{1, 2, 3}}

	fields, err := testClient(b, 0).CallAndParse(context.Background(), "prompt", []Image{img}, Options{Stage: "category"})
	require.NoError(t, err)
	assert.Equal(t, "fashion", fields.String("category"))
	conf, ok := fields.Int("confidence")
	assert.True(t, ok)
	assert.Equal(t, 88, conf)

	require.Len(t, b.reqs, 1)
	assert.True(t, b.reqs[0].JSON)
	assert.Equal(t, []Image{img}, b.reqs[0].Images)
}

func TestCall_StopsWhenContextCanceled(t *testing.T) {
	b := &scriptedBackend{replies: []scriptedReply{{err: errors.New("boom")}}}
	c := NewClient(b, ClientConfig{MaxRetries: 5, InitialBackoff: time.Hour, RequestTimeout: time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Call(ctx, "prompt", nil, Options{})
	require.Error(t, err)
	assert.Equal(t, 1, b.calls)
}
