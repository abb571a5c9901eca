package storage

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/developingchet/view-count/internal/metrics"
)

// bumpVersion simulates a concurrent commit landing between an attempt's
// read and its commit.
func bumpVersion(m *MemStore, key string) {
	m.mu.Lock()
	m.pages[key].version++
	m.mu.Unlock()
}

func TestMemStore_RetriesOnConflict(t *testing.T) {
	m := NewMemStore(5)
	ctx := context.Background()
	_, _, err := m.RecordView(ctx, testPage, testURL, "a")
	require.NoError(t, err)

	conflicts := 2
	m.beforeCommit = func() {
		if conflicts > 0 {
			conflicts--
			bumpVersion(m, testPage)
		}
	}
	before := testutil.ToFloat64(metrics.TxnConflicts)

	c, _, err := m.RecordView(ctx, testPage, testURL, "b")
	require.NoError(t, err)
	assert.Equal(t, Counts{Views: 2, Visitors: 2}, c)
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.TxnConflicts)-before)
}

func TestMemStore_ExhaustedAttemptsLeaveStateUntouched(t *testing.T) {
	m := NewMemStore(3)
	ctx := context.Background()
	_, _, err := m.RecordView(ctx, testPage, testURL, "a")
	require.NoError(t, err)

	m.beforeCommit = func() { bumpVersion(m, testPage) }

	_, _, err = m.RecordView(ctx, testPage, testURL, "b")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Contains(t, err.Error(), "3 times")

	m.beforeCommit = nil
	stats, err := m.GetStats(ctx, testPage)
	require.NoError(t, err)
	assert.Equal(t, Counts{Views: 1, Visitors: 1}, stats.Counts())

	// "b" was never committed, so it still counts as new.
	c, _, err := m.RecordView(ctx, testPage, testURL, "b")
	require.NoError(t, err)
	assert.Equal(t, Counts{Views: 2, Visitors: 2}, c)
}

func TestMemStore_ConflictDuringFirstCreate(t *testing.T) {
	m := NewMemStore(3)
	ctx := context.Background()

	// Another transaction creates the page between our read and commit.
	m.beforeCommit = func() {
		m.beforeCommit = nil
		_, _, err := m.RecordView(ctx, testPage, testURL, "same")
		require.NoError(t, err)
	}

	c, _, err := m.RecordView(ctx, testPage, testURL, "same")
	require.NoError(t, err)
	assert.Equal(t, Counts{Views: 2, Visitors: 1}, c)
}

func TestMemStore_CancelDuringBackoff(t *testing.T) {
	m := NewMemStore(100)
	_, _, err := m.RecordView(context.Background(), testPage, testURL, "a")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	m.beforeCommit = func() {
		bumpVersion(m, testPage)
		cancel()
	}

	_, _, err = m.RecordView(ctx, testPage, testURL, "b")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemStore_Timestamps(t *testing.T) {
	m := NewMemStore(0)
	assert.Equal(t, DefaultMaxAttempts, m.maxAttempts)

	created := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return created }
	_, _, err := m.RecordView(context.Background(), testPage, testURL, "a")
	require.NoError(t, err)

	later := created.Add(time.Minute)
	m.now = func() time.Time { return later }
	_, _, err = m.RecordView(context.Background(), testPage, testURL, "a")
	require.NoError(t, err)

	stats, err := m.GetStats(context.Background(), testPage)
	require.NoError(t, err)
	assert.Equal(t, created, stats.CreatedAt)
	assert.Equal(t, later, stats.UpdatedAt)
	assert.Equal(t, created, m.pages[testPage].visitors["a"].FirstSeen)
	assert.Empty(t, m.DBPath())
}
