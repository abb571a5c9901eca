// seed_state writes a page record and synthetic visitor records into a
// counts.db for smoke testing. It is a standalone tool and not part of the
// server binary.
//
// Usage:
//
//	go run ./scripts/seed_state --db /path/to/counts.db --url https://example.com/ --views 1234 --visitors 56
//	go run ./scripts/seed_state --db /path/to/counts.db --fallback-id my-readme --views 10 --visitors 3
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/developingchet/view-count/internal/identity"
	"github.com/developingchet/view-count/internal/storage"
)

// Bucket layout of internal/storage/bbolt.go.
var (
	bucketPages    = []byte("pages")
	bucketVisitors = []byte("visitors")
	keyStats       = []byte("stats")
)

// seedVisitorID returns the id of the i-th synthetic visitor. The addresses
// come from TEST-NET-2 so they never collide with real traffic.
func seedVisitorID(i uint64) string {
	return identity.VisitorID(fmt.Sprintf("198.51.%d.%d", (i/256)%256, i%256), "seed_state")
}

func validateCounts(views, visitors uint64) error {
	switch {
	case views == 0:
		return errors.New("--views must be at least 1")
	case visitors == 0:
		return errors.New("--visitors must be at least 1")
	case visitors > views:
		return errors.New("--visitors must not exceed --views")
	case visitors > 65536:
		return errors.New("--visitors must not exceed 65536")
	}
	return nil
}

// seed replaces the record of page with the given counters. Existing
// visitor records of the page are dropped.
func seed(db *bolt.DB, page identity.Page, views, visitors uint64, now time.Time) error {
	if err := validateCounts(views, visitors); err != nil {
		return err
	}
	now = now.UTC()

	return db.Update(func(tx *bolt.Tx) error {
		pages, err := tx.CreateBucketIfNotExists(bucketPages)
		if err != nil {
			return fmt.Errorf("create pages bucket: %w", err)
		}
		if pages.Bucket([]byte(page.Key)) != nil {
			if err := pages.DeleteBucket([]byte(page.Key)); err != nil {
				return fmt.Errorf("drop old page: %w", err)
			}
		}
		pb, err := pages.CreateBucket([]byte(page.Key))
		if err != nil {
			return fmt.Errorf("create page bucket: %w", err)
		}
		vb, err := pb.CreateBucket(bucketVisitors)
		if err != nil {
			return fmt.Errorf("create visitors bucket: %w", err)
		}

		rec, err := json.Marshal(storage.VisitorRecord{FirstSeen: now})
		if err != nil {
			return err
		}
		for i := uint64(0); i < visitors; i++ {
			if err := vb.Put([]byte(seedVisitorID(i)), rec); err != nil {
				return err
			}
		}

		stats, err := json.Marshal(storage.PageStats{
			URL:       page.URL,
			Views:     views,
			Visitors:  visitors,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			return err
		}
		return pb.Put(keyStats, stats)
	})
}

func main() {
	dbPath := flag.String("db", "", "Path to counts.db (required)")
	pageURL := flag.String("url", "", "Page URL to seed")
	fallbackID := flag.String("fallback-id", "", "Fallback id to seed when --url is empty")
	views := flag.Uint64("views", 1234, "Total views")
	visitors := flag.Uint64("visitors", 56, "Unique visitors")
	flag.Parse()

	if *dbPath == "" {
		log.Fatal("--db is required")
	}
	page, err := identity.ResolvePage(*pageURL, *fallbackID)
	if err != nil {
		log.Fatal("--url or --fallback-id is required")
	}

	db, err := bolt.Open(*dbPath, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		log.Fatalf("open %s: %v", *dbPath, err)
	}
	defer db.Close()

	if err := seed(db, page, *views, *visitors, time.Now()); err != nil {
		log.Fatalf("seed: %v", err)
	}
	fmt.Printf("[seed_state] page=%s key=%s views=%d visitors=%d\n", page.URL, page.Key, *views, *visitors)
	fmt.Println("[seed_state] done, start the server to observe the seeded counters")
}
