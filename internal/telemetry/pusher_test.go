package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePayload() UsagePayload {
	return BuildPayloadAt("1.0.0", time.Unix(0, 0), 1800, Window{ViewsBadges: 4, VisitorsBadges: 1, NewVisitors: 2}, time.Unix(3600, 0))
}

func TestLogPusher_WritesSummary(t *testing.T) {
	var buf bytes.Buffer
	l := zerolog.New(&buf)

	require.NoError(t, LogPusher{Logger: &l}.Push(context.Background(), samplePayload()))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "usage", line["message"])
	assert.EqualValues(t, 5, line["badges"])
	assert.EqualValues(t, 2, line["new_visitors"])
	assert.Equal(t, "1 hour", line["uptime"])
}

func TestWebhookPusher_PostsJSON(t *testing.T) {
	var got UsagePayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/hooks/usage", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer s3cret", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := NewWebhookPusher(WebhookConfig{URL: srv.URL + "/hooks/usage", Token: "s3cret"})
	require.NoError(t, p.Push(context.Background(), samplePayload()))
	assert.Equal(t, samplePayload(), got)
}

func TestWebhookPusher_NoTokenNoAuthHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, NewWebhookPusher(WebhookConfig{URL: srv.URL}).Push(context.Background(), samplePayload()))
}

func TestWebhookPusher_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewWebhookPusher(WebhookConfig{URL: srv.URL, Backoff: time.Millisecond})
	require.NoError(t, p.Push(context.Background(), samplePayload()))
	assert.EqualValues(t, 3, calls.Load())
}

func TestWebhookPusher_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewWebhookPusher(WebhookConfig{URL: srv.URL, Backoff: time.Millisecond})
	err := p.Push(context.Background(), samplePayload())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http 500")
	assert.EqualValues(t, webhookMaxRetries, calls.Load())
}

func TestWebhookPusher_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("bad token"))
	}))
	defer srv.Close()

	p := NewWebhookPusher(WebhookConfig{URL: srv.URL, Backoff: time.Millisecond})
	err := p.Push(context.Background(), samplePayload())
	require.ErrorIs(t, err, ErrWebhookRejected)
	assert.Contains(t, err.Error(), "bad token")
	assert.EqualValues(t, 1, calls.Load())
}

func TestWebhookPusher_ContextCanceledDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	p := NewWebhookPusher(WebhookConfig{URL: srv.URL, Backoff: time.Hour})
	err := p.Push(ctx, samplePayload())
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestSenderFlush_WebhookFailurePreservesCounter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	counter := NewCounter()
	counter.Add(Window{ViewsBadges: 5})
	s := NewSender("v2.0.0", time.Unix(1, 0).UTC(), time.Minute, counter, NewWebhookPusher(WebhookConfig{URL: srv.URL}))
	require.Error(t, s.Flush(context.Background()))
	assert.Equal(t, int64(5), counter.Current().ViewsBadges)
}
