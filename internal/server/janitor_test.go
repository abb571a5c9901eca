package server

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/developingchet/view-count/internal/identity"
	"github.com/developingchet/view-count/internal/metrics"
	"github.com/developingchet/view-count/internal/storage"
)

func openJanitorStore(t *testing.T) *storage.BoltStore {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), DBFile), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// startJanitor starts runJanitor in a goroutine and returns a channel that
// is closed when it exits.
func startJanitor(ctx context.Context, store storage.Store, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		runJanitor(ctx, store, interval)
		close(done)
	}()
	return done
}

func TestJanitor_SetsStoreGauges(t *testing.T) {
	store := openJanitorStore(t)
	ctx := context.Background()
	for _, raw := range []string{"https://a.example/", "https://b.example/", "https://a.example/?x=1"} {
		page := identity.DerivePage(raw)
		_, _, err := store.RecordView(ctx, page.Key, page.URL, identity.VisitorID("192.0.2.1", "ua"))
		require.NoError(t, err)
	}

	jctx, cancel := context.WithCancel(ctx)
	done := startJanitor(jctx, store, time.Hour)

	// The first refresh runs before the first tick.
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.PagesTracked) == 2
	}, time.Second, 10*time.Millisecond)
	cancel()
	<-done

	assert.Greater(t, testutil.ToFloat64(metrics.BboltDBSizeBytes), float64(0))
}

func TestJanitor_MemoryStoreSkipsFileSize(t *testing.T) {
	store := storage.NewMemStore(storage.DefaultMaxAttempts)
	defer store.Close()
	page := identity.DerivePage("https://mem.example/")
	_, _, err := store.RecordView(context.Background(), page.Key, page.URL, identity.VisitorID("", ""))
	require.NoError(t, err)

	metrics.BboltDBSizeBytes.Set(-1)
	refreshStoreGauges(context.Background(), store)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.PagesTracked))
	assert.Equal(t, float64(-1), testutil.ToFloat64(metrics.BboltDBSizeBytes), "memory store has no file")
}

func TestJanitor_StopsOnContextCancel(t *testing.T) {
	store := openJanitorStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := startJanitor(ctx, store, time.Hour)

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("janitor did not stop within 1s of context cancellation")
	}
}

type pageCountErrorStore struct{ storage.Store }

func (pageCountErrorStore) DBPath() string { return "" }
func (pageCountErrorStore) PageCount(context.Context) (int, error) {
	return 0, errors.New("count failed")
}

func TestJanitor_PageCountErrorKeepsGauge(t *testing.T) {
	metrics.PagesTracked.Set(7)

	ctx, cancel := context.WithCancel(context.Background())
	done := startJanitor(ctx, pageCountErrorStore{}, 10*time.Millisecond)
	time.Sleep(25 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
	assert.Equal(t, float64(7), testutil.ToFloat64(metrics.PagesTracked))
}
