// Package counter is the request-independent core of the service: it turns a
// page reference and visitor signals into a committed view and a rendered
// badge.
package counter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/developingchet/view-count/internal/badge"
	"github.com/developingchet/view-count/internal/identity"
	"github.com/developingchet/view-count/internal/metrics"
	"github.com/developingchet/view-count/internal/storage"
	"github.com/developingchet/view-count/internal/telemetry"
)

// Mode selects which counter a badge displays.
type Mode string

const (
	ModeViews    Mode = "views"
	ModeVisitors Mode = "visitors"
)

// ErrUnknownMode is returned by ParseMode.
var ErrUnknownMode = errors.New("unknown badge mode")

// ParseMode maps "views" or "visitors" to a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeViews, ModeVisitors:
		return Mode(s), nil
	}
	return "", fmt.Errorf("%w %q (want views or visitors)", ErrUnknownMode, s)
}

// Pick returns the counter of c that m displays.
func (m Mode) Pick(c storage.Counts) uint64 {
	if m == ModeVisitors {
		return c.Visitors
	}
	return c.Views
}

// Visit carries the signals of one badge request.
type Visit struct {
	Referrer   string
	FallbackID string
	ClientIP   string // "" when unknown
	UserAgent  string
}

// Result is the outcome of a recorded visit.
type Result struct {
	Page       identity.Page
	VisitorID  string
	Counts     storage.Counts
	FirstVisit bool
}

// Options configures a ViewCounter. Zero styles fall back to the badge
// defaults with "Views" and "Visitors" labels.
type Options struct {
	ViewsStyle    badge.Style
	VisitorsStyle badge.Style
	Usage         *telemetry.Counter // nil = no usage accounting
}

// ViewCounter records views and renders badges. It is safe for concurrent
// use; all shared state lives in the Store.
type ViewCounter struct {
	store  storage.Store
	styles map[Mode]badge.Style
	usage  *telemetry.Counter
}

// New creates a ViewCounter backed by store.
func New(store storage.Store, opts Options) *ViewCounter {
	views := opts.ViewsStyle
	if views.Label == "" {
		views.Label = "Views"
	}
	visitors := opts.VisitorsStyle
	if visitors.Label == "" {
		visitors.Label = "Visitors"
	}
	return &ViewCounter{
		store: store,
		styles: map[Mode]badge.Style{
			ModeViews:    views.Merge(badge.DefaultStyle()),
			ModeVisitors: visitors.Merge(badge.DefaultStyle()),
		},
		usage: opts.Usage,
	}
}

// Record derives the page and visitor identities of v and commits one view.
// It returns identity.ErrMissingPageIdentity when v names no page and an
// error wrapping storage.ErrStoreUnavailable when the transaction failed.
func (c *ViewCounter) Record(ctx context.Context, v Visit) (Result, error) {
	page, err := identity.ResolvePage(v.Referrer, v.FallbackID)
	if err != nil {
		return Result{}, err
	}
	visitorID := identity.VisitorID(v.ClientIP, v.UserAgent)

	start := time.Now()
	counts, first, err := c.store.RecordView(ctx, page.Key, page.URL, visitorID)
	metrics.TxnDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.StoreErrors.WithLabelValues("record").Inc()
		return Result{}, fmt.Errorf("record view of %s: %w", identity.Short(page.Key), err)
	}

	metrics.ViewsRecorded.Inc()
	if first {
		metrics.NewVisitors.Inc()
		if c.usage != nil {
			c.usage.IncNewVisitor()
		}
	}

	log.Debug().
		Str("page", identity.Short(page.Key)).
		Str("visitor", identity.Short(visitorID)).
		Uint64("views", counts.Views).
		Uint64("visitors", counts.Visitors).
		Bool("first_visit", first).
		Msg("view recorded")

	return Result{Page: page, VisitorID: visitorID, Counts: counts, FirstVisit: first}, nil
}

// Hit records v and renders the badge for mode. color overrides the
// configured count colour when non-empty.
func (c *ViewCounter) Hit(ctx context.Context, mode Mode, v Visit, color string) (string, Result, error) {
	res, err := c.Record(ctx, v)
	if err != nil {
		return "", Result{}, err
	}
	svg := c.Render(mode.Pick(res.Counts), mode, color)

	metrics.BadgesServed.WithLabelValues(string(mode)).Inc()
	if c.usage != nil {
		if mode == ModeVisitors {
			c.usage.IncVisitorsBadge()
		} else {
			c.usage.IncViewsBadge()
		}
	}
	return svg, res, nil
}

// Stats reads the stored record of page without counting a view.
func (c *ViewCounter) Stats(ctx context.Context, page identity.Page) (storage.PageStats, error) {
	stats, err := c.store.GetStats(ctx, page.Key)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("stats").Inc()
		return storage.PageStats{}, fmt.Errorf("stats of %s: %w", identity.Short(page.Key), err)
	}
	return stats, nil
}

// Render draws a badge for count in the style of mode. It touches no state.
func (c *ViewCounter) Render(count uint64, mode Mode, color string) string {
	style, ok := c.styles[mode]
	if !ok {
		style = c.styles[ModeViews]
	}
	if color != "" {
		style.Color = color
	}
	return badge.Render(count, style)
}

// Preview renders a badge for an arbitrary count with the default look.
func Preview(count uint64, mode Mode, color string) string {
	label := "Views"
	if mode == ModeVisitors {
		label = "Visitors"
	}
	return badge.Render(count, badge.Style{Label: label, Color: color})
}
