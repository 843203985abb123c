package tokenstore

import (
	"context"
	"os"
	"path/filepath"
	"time"

	storeerrors "github.com/jrsteele09/go-auth-session/internal/errors"
	bolt "go.etcd.io/bbolt"
)

const defaultBoltBucket = "tokens"

var _ Tier = (*BoltTier)(nil)

// BoltTier persists values in a bbolt file so they survive restarts.
// Every write or delete runs inside a single bbolt transaction.
type BoltTier struct {
	db     *bolt.DB
	bucket []byte
}

// OpenBoltTier opens (or creates) the database file and ensures the bucket exists.
func OpenBoltTier(path, bucket string) (*BoltTier, error) {
	if bucket == "" {
		bucket = defaultBoltBucket
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, storeerrors.Wrapf(err, "create token store directory %s", filepath.Dir(path))
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, storeerrors.Wrapf(err, "open token store %s", path)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucket))
		return err
	}); err != nil {
		db.Close()
		return nil, storeerrors.Wrapf(err, "create bucket %s", bucket)
	}

	return &BoltTier{
		db:     db,
		bucket: []byte(bucket),
	}, nil
}

func (b *BoltTier) Get(_ context.Context, key string) (string, error) {
	if b == nil || b.db == nil {
		return "", bolt.ErrDatabaseNotOpen
	}

	var value []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(b.bucket).Get([]byte(key))
		if v == nil {
			return storeerrors.ErrNotFound
		}
		value = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return "", err
	}
	return string(value), nil
}

func (b *BoltTier) SetMany(_ context.Context, values map[string]string) error {
	if b == nil || b.db == nil {
		return bolt.ErrDatabaseNotOpen
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(b.bucket)
		for k, v := range values {
			if err := bucket.Put([]byte(k), []byte(v)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BoltTier) DeleteMany(_ context.Context, keys ...string) error {
	if b == nil || b.db == nil {
		return bolt.ErrDatabaseNotOpen
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(b.bucket)
		for _, k := range keys {
			if err := bucket.Delete([]byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BoltTier) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}
