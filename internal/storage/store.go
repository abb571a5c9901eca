package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrStoreUnavailable means the transaction could not be completed. The
	// store is left exactly as it was before the call.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrInvalidKey is returned for empty page keys or visitor ids.
	ErrInvalidKey = errors.New("invalid key")
)

// Counts is the (views, visitors) pair of a page.
type Counts struct {
	Views    uint64 `json:"views"`
	Visitors uint64 `json:"visitors"`
}

// PageStats is the persisted record of one page.
type PageStats struct {
	URL       string    `json:"url"`
	Views     uint64    `json:"views"`
	Visitors  uint64    `json:"visitors"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt,omitzero"`
}

// Counts returns the counters of s.
func (s PageStats) Counts() Counts {
	return Counts{Views: s.Views, Visitors: s.Visitors}
}

// VisitorRecord marks a visitor as counted for a page. Only its existence
// matters; it is written once and never updated.
type VisitorRecord struct {
	FirstSeen time.Time `json:"firstSeen"`
}

// Store is the persistence abstraction behind the counter. Implementations
// must be safe for concurrent use.
type Store interface {
	// RecordView counts one view of pageKey by visitorID in a single
	// serializable transaction and returns the committed counts. The
	// visitor count only moves the first time visitorID is seen for
	// pageKey, which is reported by firstVisit. pageURL is stored when the
	// page record is created.
	RecordView(ctx context.Context, pageKey, pageURL, visitorID string) (c Counts, firstVisit bool, err error)

	// GetStats reads a page record without a transaction. A page that was
	// never viewed yields a zero PageStats and no error.
	GetStats(ctx context.Context, pageKey string) (PageStats, error)

	// PageCount returns the number of tracked pages.
	PageCount(ctx context.Context) (int, error)

	// Ping reports whether the backend can serve requests.
	Ping(ctx context.Context) error

	// DBPath returns the filesystem path of the database file ("" for in-memory).
	DBPath() string

	Close() error
}

// nextStats applies one view to the current record. exists reports whether
// the page record was already present.
func nextStats(cur PageStats, exists, newVisitor bool, pageURL string, now time.Time) PageStats {
	next := cur
	next.Views++
	if newVisitor {
		next.Visitors++
	}
	if !exists {
		next.URL = pageURL
		next.CreatedAt = now
	} else {
		next.UpdatedAt = now
	}
	return next
}

func validateKeys(pageKey, visitorID string) error {
	if pageKey == "" {
		return fmt.Errorf("%w: empty page key", ErrInvalidKey)
	}
	if visitorID == "" {
		return fmt.Errorf("%w: empty visitor id", ErrInvalidKey)
	}
	return nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}
