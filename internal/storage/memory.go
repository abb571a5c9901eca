package storage

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/developingchet/view-count/internal/metrics"
)

var _ Store = (*MemStore)(nil)

const (
	DefaultMaxAttempts = 10
	initialBackoff     = time.Millisecond
	maxBackoff         = 100 * time.Millisecond
)

var errClosed = errors.New("store closed")

type memPage struct {
	version  uint64
	stats    PageStats
	visitors map[string]VisitorRecord
}

// snapshot is what one transaction attempt read.
type snapshot struct {
	version    uint64
	exists     bool
	stats      PageStats
	newVisitor bool
}

// MemStore is an in-memory Store that commits with optimistic concurrency:
// each attempt reads a versioned snapshot without holding the lock, computes
// the new record, then commits only if the page version is unchanged.
// Conflicting attempts back off and retry up to maxAttempts times before
// failing with ErrStoreUnavailable.
//
// The visitor set of a page is only written together with its stats, so the
// page version guards both reads.
type MemStore struct {
	mu          sync.Mutex
	pages       map[string]*memPage
	closed      bool
	maxAttempts int
	now         func() time.Time

	// beforeCommit runs between the read and the commit of every attempt.
	beforeCommit func()
}

// NewMemStore creates an empty in-memory store. maxAttempts < 1 selects
// DefaultMaxAttempts.
func NewMemStore(maxAttempts int) *MemStore {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	return &MemStore{
		pages:       make(map[string]*memPage),
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

func (m *MemStore) RecordView(ctx context.Context, pageKey, pageURL, visitorID string) (Counts, bool, error) {
	if err := validateKeys(pageKey, visitorID); err != nil {
		return Counts{}, false, err
	}

	backoff := initialBackoff
	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Counts{}, false, unavailable(err)
		}

		snap, err := m.read(pageKey, visitorID)
		if err != nil {
			return Counts{}, false, unavailable(err)
		}
		now := m.now().UTC()
		next := nextStats(snap.stats, snap.exists, snap.newVisitor, pageURL, now)

		if m.beforeCommit != nil {
			m.beforeCommit()
		}

		ok, err := m.commit(pageKey, visitorID, snap, next, now)
		if err != nil {
			return Counts{}, false, unavailable(err)
		}
		if ok {
			return next.Counts(), snap.newVisitor, nil
		}

		metrics.TxnConflicts.Inc()
		if attempt == m.maxAttempts {
			break
		}
		log.Debug().
			Int("attempt", attempt).
			Int("max", m.maxAttempts).
			Dur("wait", backoff).
			Msg("transaction conflict, retrying")

		timer := time.NewTimer(backoff + rand.N(backoff))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return Counts{}, false, unavailable(ctx.Err())
		}
		backoff = min(backoff*2, maxBackoff)
	}
	return Counts{}, false, unavailable(fmt.Errorf("transaction conflicted %d times", m.maxAttempts))
}

func (m *MemStore) read(pageKey, visitorID string) (snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return snapshot{}, errClosed
	}
	p, ok := m.pages[pageKey]
	if !ok {
		return snapshot{newVisitor: true}, nil
	}
	_, seen := p.visitors[visitorID]
	return snapshot{
		version:    p.version,
		exists:     true,
		stats:      p.stats,
		newVisitor: !seen,
	}, nil
}

// commit installs next if the page is still at the snapshot version.
func (m *MemStore) commit(pageKey, visitorID string, snap snapshot, next PageStats, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, errClosed
	}

	p, ok := m.pages[pageKey]
	var version uint64
	if ok {
		version = p.version
	}
	if version != snap.version {
		return false, nil
	}

	if !ok {
		p = &memPage{visitors: make(map[string]VisitorRecord)}
		m.pages[pageKey] = p
	}
	if snap.newVisitor {
		p.visitors[visitorID] = VisitorRecord{FirstSeen: now}
	}
	p.stats = next
	p.version++
	return true, nil
}

func (m *MemStore) GetStats(ctx context.Context, pageKey string) (PageStats, error) {
	if pageKey == "" {
		return PageStats{}, fmt.Errorf("%w: empty page key", ErrInvalidKey)
	}
	if err := ctx.Err(); err != nil {
		return PageStats{}, unavailable(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return PageStats{}, unavailable(errClosed)
	}
	if p, ok := m.pages[pageKey]; ok {
		return p.stats, nil
	}
	return PageStats{}, nil
}

func (m *MemStore) PageCount(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, unavailable(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, unavailable(errClosed)
	}
	return len(m.pages), nil
}

func (m *MemStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return unavailable(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return unavailable(errClosed)
	}
	return nil
}

// DBPath is always empty for the in-memory store.
func (m *MemStore) DBPath() string { return "" }

// Close discards all state.
func (m *MemStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.pages = nil
	return nil
}
