package server

import (
	"context"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"

	"github.com/developingchet/view-count/internal/metrics"
	"github.com/developingchet/view-count/internal/storage"
)

// runJanitor refreshes store gauges once immediately and then on every
// interval tick:
//   - BboltDBSizeBytes for on-disk stores.
//   - PagesTracked from the store's page count.
//
// It returns when ctx is cancelled.
func runJanitor(ctx context.Context, store storage.Store, interval time.Duration) {
	refreshStoreGauges(ctx, store)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refreshStoreGauges(ctx, store)
		}
	}
}

func refreshStoreGauges(ctx context.Context, store storage.Store) {
	if path := store.DBPath(); path != "" {
		if info, err := os.Stat(path); err == nil {
			metrics.BboltDBSizeBytes.Set(float64(info.Size()))
			log.Debug().Str("size", humanize.IBytes(uint64(info.Size()))).Msg("janitor: db size")
		} else {
			log.Warn().Err(err).Msg("janitor: stat db failed")
		}
	}

	n, err := store.PageCount(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn().Err(err).Msg("janitor: page count failed")
		}
		return
	}
	metrics.PagesTracked.Set(float64(n))
}
