package store

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/cockroachdb/pebble"
)

// PebbleKV is a pebble-backed alternative to the sqlite cache database.
type PebbleKV struct {
	db *pebble.DB
}

// OpenPebble opens (or creates) a pebble store in dir.
func OpenPebble(dir string) (*PebbleKV, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	return &PebbleKV{db: db}, nil
}

// Get returns the value stored under key, or ErrNotFound.
func (p *PebbleKV) Get(_ context.Context, key string) ([]byte, error) {
	v, closer, err := p.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	out := slices.Clone(v)
	_ = closer.Close()
	return out, nil
}

// Write commits the batch atomically with fsync.
func (p *PebbleKV) Write(_ context.Context, b *Batch) error {
	pb := p.db.NewBatch()
	defer func() { _ = pb.Close() }()

	for _, op := range b.Ops() {
		var err error
		if op.Delete {
			err = pb.Delete([]byte(op.Key), nil)
		} else {
			err = pb.Set([]byte(op.Key), op.Value, nil)
		}
		if err != nil {
			return fmt.Errorf("batch %q: %w", op.Key, err)
		}
	}
	if err := pb.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Close closes the pebble database.
func (p *PebbleKV) Close() error {
	return p.db.Close()
}
