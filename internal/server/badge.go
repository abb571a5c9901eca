package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/developingchet/view-count/internal/counter"
	"github.com/developingchet/view-count/internal/identity"
	"github.com/developingchet/view-count/internal/metrics"
)

const (
	missingPageMessage = "Missing Referer header. Use ?fallback-id=your-id for environments that strip Referer (e.g., GitHub READMEs)."
	internalMessage    = "Internal server error"

	requestIDHeader = "X-Request-ID"
	maxRequestIDLen = 128
)

// BadgeHandler serves /views and /visitors over any transport that provides
// a Request and a Response.
type BadgeHandler struct {
	counter      *counter.ViewCounter
	cacheControl string
}

// NewBadgeHandler builds a handler whose successful responses may be cached
// for ttl. With cdnBypass set, shared caches get s-maxage=0 so every edge
// request reaches the origin while browsers still cache locally.
func NewBadgeHandler(vc *counter.ViewCounter, ttl time.Duration, cdnBypass bool) *BadgeHandler {
	return &BadgeHandler{
		counter:      vc,
		cacheControl: cacheControl(ttl, cdnBypass),
	}
}

func cacheControl(ttl time.Duration, cdnBypass bool) string {
	maxAge := int64(ttl / time.Second)
	sMaxAge := maxAge
	if cdnBypass {
		sMaxAge = 0
	}
	return fmt.Sprintf("public, max-age=%d, s-maxage=%d", maxAge, sMaxAge)
}

// Serve handles one badge request for mode.
func (h *BadgeHandler) Serve(ctx context.Context, mode counter.Mode, req Request, resp Response) {
	reqID := requestID(req)
	resp.SetHeader(requestIDHeader, reqID)

	referrer := req.Header("Referer")
	if referrer == "" {
		referrer = req.Header("Referrer")
	}
	clientIP := req.ClientAddress()

	svg, res, err := h.counter.Hit(ctx, mode, counter.Visit{
		Referrer:   referrer,
		FallbackID: req.Query("fallback-id"),
		ClientIP:   clientIP,
		UserAgent:  req.Header("User-Agent"),
	}, req.Query("color"))
	if err != nil {
		if errors.Is(err, identity.ErrMissingPageIdentity) {
			metrics.RequestsRejected.WithLabelValues("missing_page").Inc()
			log.Debug().Str("request_id", reqID).Str("mode", string(mode)).Msg("badge request without page reference")
			writeText(resp, 400, missingPageMessage)
			return
		}
		metrics.RequestsRejected.WithLabelValues("store_error").Inc()
		log.Error().Err(err).Str("request_id", reqID).Str("mode", string(mode)).Msg("badge request failed")
		writeText(resp, 500, internalMessage)
		return
	}

	log.Debug().
		Str("request_id", reqID).
		Str("mode", string(mode)).
		Str("page", identity.Short(res.Page.Key)).
		Str("client_ip", clientIP).
		Uint64("count", mode.Pick(res.Counts)).
		Msg("badge served")

	resp.SetHeader("Content-Type", "image/svg+xml")
	resp.SetHeader("Cache-Control", h.cacheControl)
	resp.SetStatus(200)
	if err := resp.Write([]byte(svg)); err != nil {
		log.Debug().Err(err).Str("request_id", reqID).Msg("badge write failed")
	}
}

// requestID reuses a sane inbound X-Request-ID or mints a new one.
func requestID(req Request) string {
	if id := req.Header(requestIDHeader); id != "" && len(id) <= maxRequestIDLen {
		return id
	}
	return uuid.NewString()
}

func writeText(resp Response, status int, body string) {
	resp.SetHeader("Content-Type", "text/plain; charset=utf-8")
	resp.SetHeader("Cache-Control", "no-store")
	resp.SetStatus(status)
	_ = resp.Write([]byte(body))
}
