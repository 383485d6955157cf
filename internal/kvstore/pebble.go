package kvstore

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// Pebble stores values in a local pebble database.
type Pebble struct {
	db *pebble.DB
}

// OpenPebble opens (or creates) a database in dir. A nil fs uses the OS filesystem.
func OpenPebble(dir string, fs vfs.FS) (*Pebble, error) {
	opts := &pebble.Options{}
	if fs != nil {
		opts.FS = fs
	} else if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating state dir: %w", err)
	}

	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("opening pebble at %s: %w", dir, err)
	}
	return &Pebble{db: db}, nil
}

func (s *Pebble) Get(_ context.Context, key string) ([]byte, error) {
	v, closer, err := s.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (s *Pebble) Put(_ context.Context, key string, value []byte) error {
	return s.db.Set([]byte(key), value, pebble.Sync)
}

func (s *Pebble) Delete(_ context.Context, key string) error {
	return s.db.Delete([]byte(key), pebble.Sync)
}

func (s *Pebble) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
