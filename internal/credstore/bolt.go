package credstore

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	apperrors "github.com/alexjbarnes/authgate/internal/errors"
)

const (
	// boltDirPerm is the permission mode for the store directory.
	boltDirPerm = fs.FileMode(0o700)

	// boltFilePerm is the permission mode for the database file. The file
	// holds raw session tokens, so it must not be group or world readable.
	boltFilePerm = fs.FileMode(0o600)

	// boltOpenTimeout is the maximum time to wait for the bolt file lock.
	boltOpenTimeout = 5 * time.Second
)

var credentialsBucket = []byte("credentials")

// Bolt is a bbolt-backed Store. All credentials live in a single bucket;
// values are stored as raw bytes under their plain string keys.
type Bolt struct {
	db *bolt.DB
}

// OpenBolt opens (or creates) a credential database at the given path.
// The parent directory is created with owner-only permissions.
func OpenBolt(path string) (*Bolt, error) {
	if err := os.MkdirAll(filepath.Dir(path), boltDirPerm); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	db, err := bolt.Open(path, boltFilePerm, &bolt.Options{Timeout: boltOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening credential db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(credentialsBucket)

		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing credential db: %w", err)
	}

	return &Bolt{db: db}, nil
}

// Close closes the database.
func (b *Bolt) Close() error {
	return b.db.Close()
}

// Get returns the value for key, or ErrKeyNotFound.
func (b *Bolt) Get(key string) (string, error) {
	var value string

	found := false

	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(credentialsBucket).Get([]byte(key))
		if v != nil {
			value = string(v)
			found = true
		}

		return nil
	})
	if err != nil {
		return "", fmt.Errorf("reading credential: %w", err)
	}

	if !found {
		return "", apperrors.ErrKeyNotFound
	}

	return value, nil
}

// Set persists the value for key.
func (b *Bolt) Set(key, value string) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(credentialsBucket).Put([]byte(key), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("writing credential: %w", err)
	}

	return nil
}

// Remove deletes the value for key. Removing an absent key is a no-op.
func (b *Bolt) Remove(key string) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(credentialsBucket).Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("removing credential: %w", err)
	}

	return nil
}
