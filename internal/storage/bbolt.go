// Package storage persists page counters and visitor records.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Compile-time proof that BoltStore satisfies the Store interface.
var _ Store = (*BoltStore)(nil)

// Layout:
//
//	pages/<pageKey>/stats                -> PageStats JSON
//	pages/<pageKey>/visitors/<visitorID> -> VisitorRecord JSON
var (
	bucketPages    = []byte("pages")
	bucketVisitors = []byte("visitors")
	keyStats       = []byte("stats")
)

// BoltStore is an ACID bbolt-backed implementation of Store.
// It is safe for concurrent use. bbolt runs one read-write transaction at a
// time, so every RecordView observes the state committed by the previous
// one and no conflict retry is needed.
type BoltStore struct {
	db  *bolt.DB
	now func() time.Time
}

// Open opens (or creates) a bbolt database at path and initialises the
// root bucket. timeout bounds the wait for the file lock.
func Open(path string, timeout time.Duration) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketPages)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: init buckets: %w", err)
	}

	return &BoltStore{db: db, now: time.Now}, nil
}

func (s *BoltStore) RecordView(ctx context.Context, pageKey, pageURL, visitorID string) (Counts, bool, error) {
	if err := validateKeys(pageKey, visitorID); err != nil {
		return Counts{}, false, err
	}
	if err := ctx.Err(); err != nil {
		return Counts{}, false, unavailable(err)
	}

	var (
		counts     Counts
		firstVisit bool
	)
	err := s.db.Update(func(tx *bolt.Tx) error {
		page, err := tx.Bucket(bucketPages).CreateBucketIfNotExists([]byte(pageKey))
		if err != nil {
			return fmt.Errorf("page bucket: %w", err)
		}
		visitors, err := page.CreateBucketIfNotExists(bucketVisitors)
		if err != nil {
			return fmt.Errorf("visitors bucket: %w", err)
		}

		cur, exists, err := decodeStats(page.Get(keyStats))
		if err != nil {
			return err
		}
		newVisitor := visitors.Get([]byte(visitorID)) == nil
		now := s.now().UTC()

		if newVisitor {
			rec, err := json.Marshal(VisitorRecord{FirstSeen: now})
			if err != nil {
				return err
			}
			if err := visitors.Put([]byte(visitorID), rec); err != nil {
				return err
			}
		}

		next := nextStats(cur, exists, newVisitor, pageURL, now)
		data, err := json.Marshal(next)
		if err != nil {
			return err
		}
		if err := page.Put(keyStats, data); err != nil {
			return err
		}
		counts = next.Counts()
		firstVisit = newVisitor
		return nil
	})
	if err != nil {
		return Counts{}, false, unavailable(err)
	}
	return counts, firstVisit, nil
}

func (s *BoltStore) GetStats(ctx context.Context, pageKey string) (PageStats, error) {
	if pageKey == "" {
		return PageStats{}, fmt.Errorf("%w: empty page key", ErrInvalidKey)
	}
	if err := ctx.Err(); err != nil {
		return PageStats{}, unavailable(err)
	}

	var stats PageStats
	err := s.db.View(func(tx *bolt.Tx) error {
		page := tx.Bucket(bucketPages).Bucket([]byte(pageKey))
		if page == nil {
			return nil
		}
		var err error
		stats, _, err = decodeStats(page.Get(keyStats))
		return err
	})
	if err != nil {
		return PageStats{}, unavailable(err)
	}
	return stats, nil
}

func (s *BoltStore) PageCount(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, unavailable(err)
	}
	n := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPages).ForEach(func(_, _ []byte) error {
			n++
			return nil
		})
	})
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

// Ping opens a read transaction, which fails once the database is closed.
func (s *BoltStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return unavailable(err)
	}
	if err := s.db.View(func(*bolt.Tx) error { return nil }); err != nil {
		return unavailable(err)
	}
	return nil
}

// DBPath returns the filesystem path of the database file.
func (s *BoltStore) DBPath() string { return s.db.Path() }

// Close cleanly closes the underlying bbolt database.
func (s *BoltStore) Close() error { return s.db.Close() }

func decodeStats(data []byte) (PageStats, bool, error) {
	if data == nil {
		return PageStats{}, false, nil
	}
	var rec PageStats
	if err := json.Unmarshal(data, &rec); err != nil {
		return PageStats{}, false, errors.Join(errCorruptRecord, err)
	}
	return rec, true, nil
}

var errCorruptRecord = errors.New("corrupt page record")
