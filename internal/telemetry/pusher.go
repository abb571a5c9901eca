package telemetry

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogPusher writes each usage window as a single log line. It is used when
// no webhook is configured.
type LogPusher struct {
	Logger *zerolog.Logger // nil = global logger
}

// Push implements Pusher.
func (p LogPusher) Push(_ context.Context, payload UsagePayload) error {
	l := p.Logger
	if l == nil {
		l = &log.Logger
	}
	l.Info().
		Str("version", payload.Version).
		Int64("window_s", payload.Meta.WindowSizeSeconds).
		Int64("badges", payload.Total("badges_served")).
		Int64("new_visitors", payload.Total("new_visitors")).
		Str("uptime", strings.TrimSpace(humanize.RelTime(
			time.Unix(payload.Meta.UtcStartupTimestamp, 0),
			time.Unix(payload.Meta.UtcNowTimestamp, 0),
			"", ""))).
		Msg("usage")
	return nil
}

// respBufPool reuses response body buffers across pushes.
var respBufPool = sync.Pool{
	New: func() any { return bytes.NewBuffer(make([]byte, 0, 1024)) },
}

const (
	webhookTimeout        = 10 * time.Second
	webhookMaxRetries     = 3
	webhookInitialBackoff = time.Second
)

// ErrWebhookRejected is returned when the webhook answers with a 4xx status.
// Client errors are not retried.
var ErrWebhookRejected = errors.New("usage webhook rejected payload")

// WebhookConfig holds configuration for WebhookPusher.
type WebhookConfig struct {
	URL     string
	Token   string        // sent as "Authorization: Bearer <token>" when set
	Backoff time.Duration // initial retry wait; 0 = 1s
}

// WebhookPusher POSTs usage payloads as JSON.
type WebhookPusher struct {
	url        string
	token      string
	backoff    time.Duration
	httpClient *http.Client
}

// Compile-time interface check.
var _ Pusher = (*WebhookPusher)(nil)

// NewWebhookPusher creates a pusher for cfg.URL.
func NewWebhookPusher(cfg WebhookConfig) *WebhookPusher {
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = webhookInitialBackoff
	}
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}
	return &WebhookPusher{
		url:     cfg.URL,
		token:   cfg.Token,
		backoff: backoff,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   webhookTimeout,
		},
	}
}

// Push implements Pusher. Network errors and 5xx responses are retried with
// exponential backoff.
func (p *WebhookPusher) Push(ctx context.Context, payload UsagePayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode usage payload: %w", err)
	}

	backoff := p.backoff
	for attempt := 1; attempt <= webhookMaxRetries; attempt++ {
		code, respBody, err := p.doPush(ctx, body)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if attempt == webhookMaxRetries {
				return fmt.Errorf("all %d attempts failed: %w", webhookMaxRetries, err)
			}
		case code >= 200 && code < 300:
			return nil
		case code >= 400 && code < 500:
			return fmt.Errorf("%w: http %d: %s", ErrWebhookRejected, code, respBody)
		default:
			if attempt == webhookMaxRetries {
				return fmt.Errorf("unexpected http %d after %d attempts", code, webhookMaxRetries)
			}
		}

		log.Warn().
			Int("attempt", attempt).
			Int("max", webhookMaxRetries).
			Dur("wait", backoff).
			Msg("usage push retry")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}

	return fmt.Errorf("all %d attempts exhausted", webhookMaxRetries)
}

func (p *WebhookPusher) doPush(ctx context.Context, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", serviceName)
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	buf := respBufPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer respBufPool.Put(buf)
	_, _ = io.Copy(buf, io.LimitReader(resp.Body, 512))
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return resp.StatusCode, out, nil
}
