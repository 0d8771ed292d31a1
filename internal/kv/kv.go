// Package kv defines the generic transactional ordered key-value store the
// graph layer is built on. The contract is five operations, so any store
// with ordered keys, conditional writes, and an atomic multi-item write can
// back the graph.
package kv

import (
	"context"
	"errors"
)

var (
	// ErrNotFound indicates the requested item does not exist.
	ErrNotFound = errors.New("kv: item not found")

	// ErrConditionFailed indicates a conditional write lost: the item
	// already exists (CreateIfAbsent) or the version guard no longer
	// matches (ConditionalUpdate). Callers treat this as a write conflict
	// and retry with a fresh read.
	ErrConditionFailed = errors.New("kv: condition failed")

	// ErrInvalidOp indicates a malformed operation in a multi-write batch.
	ErrInvalidOp = errors.New("kv: invalid operation")
)

// Item is one stored record. Keys are a (partition, sort) pair; sort keys
// are ordered within a partition, which is what makes prefix queries work.
type Item struct {
	Partition string
	Sort      string
	Value     []byte

	// Version increments on every write and is the guard for
	// ConditionalUpdate. Zero on items that have never been read.
	Version int64
}

// OpKind discriminates operations in an atomic multi-write batch.
type OpKind int

const (
	// OpPut writes the item unconditionally, creating or replacing it.
	OpPut OpKind = iota

	// OpPutIfAbsent writes the item only if no item exists at the key;
	// otherwise the whole batch fails with ErrConditionFailed.
	OpPutIfAbsent

	// OpUpdate replaces the item only if its current version equals
	// ExpectVersion; otherwise the whole batch fails.
	OpUpdate

	// OpDelete removes the item if present. Deleting a missing item is
	// not an error.
	OpDelete
)

// Op is a single operation inside an atomic multi-write.
type Op struct {
	Kind      OpKind
	Partition string
	Sort      string
	Value     []byte

	// ExpectVersion guards OpUpdate operations.
	ExpectVersion int64
}

// Put builds an unconditional put operation.
func Put(partition, sort string, value []byte) Op {
	return Op{Kind: OpPut, Partition: partition, Sort: sort, Value: value}
}

// PutIfAbsent builds a create-if-absent operation.
func PutIfAbsent(partition, sort string, value []byte) Op {
	return Op{Kind: OpPutIfAbsent, Partition: partition, Sort: sort, Value: value}
}

// Update builds a version-guarded replace operation.
func Update(partition, sort string, value []byte, expectVersion int64) Op {
	return Op{Kind: OpUpdate, Partition: partition, Sort: sort, Value: value, ExpectVersion: expectVersion}
}

// Delete builds a delete operation.
func Delete(partition, sort string) Op {
	return Op{Kind: OpDelete, Partition: partition, Sort: sort}
}

// Store is the five-operation contract every backend implements.
//
// AtomicMultiWrite applies all operations or none: a failed condition on
// any operation rolls back the whole batch and returns ErrConditionFailed.
// This is what keeps edge dual-writes and alias-index rewrites consistent.
type Store interface {
	// CreateIfAbsent writes the item only if the key is vacant.
	// Returns ErrConditionFailed if an item already exists.
	CreateIfAbsent(ctx context.Context, item Item) error

	// Get reads one item. Returns ErrNotFound if absent.
	Get(ctx context.Context, partition, sort string) (*Item, error)

	// ConditionalUpdate replaces the item's value only if its stored
	// version equals expectVersion. Returns ErrConditionFailed on a
	// version mismatch and ErrNotFound if the item does not exist.
	ConditionalUpdate(ctx context.Context, partition, sort string, value []byte, expectVersion int64) error

	// AtomicMultiWrite applies the batch in a single transaction.
	AtomicMultiWrite(ctx context.Context, ops []Op) error

	// QueryPrefix returns all items in the partition whose sort key starts
	// with prefix, in ascending sort order, up to limit (0 = no limit).
	QueryPrefix(ctx context.Context, partition, prefix string, limit int) ([]Item, error)

	// Close releases resources held by the store.
	Close() error
}
