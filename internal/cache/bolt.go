package cache

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

const (
	boltBucket = "grove"
	boltKey    = "snapshot"
)

// BoltBlob stores the cache blob in a BoltDB file.
type BoltBlob struct {
	db *bbolt.DB
}

// OpenBolt opens (creating if needed) a BoltDB-backed blob at path.
func OpenBolt(path string) (*BoltBlob, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("cache path is required")
	}

	db, err := bbolt.Open(filepath.Clean(path), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(boltBucket)); err != nil {
			return fmt.Errorf("create cache bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &BoltBlob{db: db}, nil
}

// Close closes the underlying database.
func (b *BoltBlob) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func (b *BoltBlob) Get(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var data []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(boltBucket))
		if bucket == nil {
			return fmt.Errorf("cache bucket is missing")
		}
		// Bolt values are only valid inside the transaction.
		data = bytes.Clone(bucket.Get([]byte(boltKey)))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read cache blob: %w", err)
	}
	return data, nil
}

func (b *BoltBlob) Set(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(boltBucket))
		if bucket == nil {
			return fmt.Errorf("cache bucket is missing")
		}
		return bucket.Put([]byte(boltKey), data)
	})
	if err != nil {
		return fmt.Errorf("write cache blob: %w", err)
	}
	return nil
}

func (b *BoltBlob) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(boltBucket))
		if bucket == nil {
			return nil
		}
		return bucket.Delete([]byte(boltKey))
	})
	if err != nil {
		return fmt.Errorf("clear cache blob: %w", err)
	}
	return nil
}
