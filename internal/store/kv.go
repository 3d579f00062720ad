package store

import (
	"errors"
	"slices"
)

// ErrNotFound is returned by Get when the key has no value.
var ErrNotFound = errors.New("store: key not found")

// Op is one mutation inside a Batch.
type Op struct {
	Key    string
	Value  []byte
	Delete bool
}

// Batch collects puts and deletes that a backend applies atomically.
type Batch struct {
	ops []Op
}

// NewBatch returns an empty batch.
func NewBatch() *Batch {
	return &Batch{}
}

// Put records a write of value under key.
func (b *Batch) Put(key string, value []byte) *Batch {
	b.ops = append(b.ops, Op{Key: key, Value: slices.Clone(value)})
	return b
}

// Delete records removal of key. Deleting a missing key is not an error.
func (b *Batch) Delete(key string) *Batch {
	b.ops = append(b.ops, Op{Key: key, Delete: true})
	return b
}

// Ops returns the recorded operations in order.
func (b *Batch) Ops() []Op {
	return b.ops
}

// Len returns the number of recorded operations.
func (b *Batch) Len() int {
	return len(b.ops)
}
