package kv

import (
	bolt "go.etcd.io/bbolt"

	"github.com/logsift/logsift/kit/errors"
)

// Txn is a transaction over the environment. A read transaction holds a
// snapshot until Rollback; a write transaction must end in Commit or
// Rollback.
type Txn struct {
	tx *bolt.Tx
}

// Writable reports whether the transaction accepts writes.
func (t *Txn) Writable() bool { return t.tx.Writable() }

// Commit flushes the write transaction.
func (t *Txn) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return errors.Wrap(err, errors.EStorage, "kv.Commit")
	}
	return nil
}

// Rollback discards the transaction. On read transactions it releases the
// snapshot. Safe to call after Commit.
func (t *Txn) Rollback() error {
	if err := t.tx.Rollback(); err != nil && err != bolt.ErrTxClosed {
		return errors.Wrap(err, errors.EStorage, "kv.Rollback")
	}
	return nil
}

// Bucket navigates a nested bucket path, returning nil if any element is
// missing.
func (t *Txn) Bucket(path ...[]byte) *Bucket {
	if len(path) == 0 {
		return nil
	}
	b := t.tx.Bucket(path[0])
	for _, name := range path[1:] {
		if b == nil {
			return nil
		}
		b = b.Bucket(name)
	}
	if b == nil {
		return nil
	}
	return &Bucket{b: b}
}

// CreateBucketIfNotExists navigates a nested bucket path, creating any
// missing element.
func (t *Txn) CreateBucketIfNotExists(path ...[]byte) (*Bucket, error) {
	if len(path) == 0 {
		return nil, errors.New(errors.EInternal, "empty bucket path")
	}
	b, err := t.tx.CreateBucketIfNotExists(path[0])
	if err != nil {
		return nil, errors.Wrap(err, errors.EStorage, "kv.CreateBucket")
	}
	for _, name := range path[1:] {
		if b, err = b.CreateBucketIfNotExists(name); err != nil {
			return nil, errors.Wrap(err, errors.EStorage, "kv.CreateBucket")
		}
	}
	return &Bucket{b: b}, nil
}

// DeleteBucket removes the bucket named by the last path element.
func (t *Txn) DeleteBucket(path ...[]byte) error {
	if len(path) == 0 {
		return errors.New(errors.EInternal, "empty bucket path")
	}
	if len(path) == 1 {
		if err := t.tx.DeleteBucket(path[0]); err != nil && err != bolt.ErrBucketNotFound {
			return errors.Wrap(err, errors.EStorage, "kv.DeleteBucket")
		}
		return nil
	}
	parent := t.Bucket(path[:len(path)-1]...)
	if parent == nil {
		return nil
	}
	if err := parent.b.DeleteBucket(path[len(path)-1]); err != nil && err != bolt.ErrBucketNotFound {
		return errors.Wrap(err, errors.EStorage, "kv.DeleteBucket")
	}
	return nil
}

// Bucket is an ordered keyspace inside a transaction.
type Bucket struct {
	b *bolt.Bucket
}

// Get returns the value for key, or nil if absent. The returned slice is
// only valid for the lifetime of the transaction.
func (b *Bucket) Get(key []byte) []byte { return b.b.Get(key) }

// Put stores key → value.
func (b *Bucket) Put(key, value []byte) error {
	if err := b.b.Put(key, value); err != nil {
		return errors.Wrap(err, errors.EStorage, "kv.Put")
	}
	return nil
}

// Delete removes key.
func (b *Bucket) Delete(key []byte) error {
	if err := b.b.Delete(key); err != nil {
		return errors.Wrap(err, errors.EStorage, "kv.Delete")
	}
	return nil
}

// Len returns the number of keys in the bucket.
func (b *Bucket) Len() int { return b.b.Stats().KeyN }

// SubBucket returns a nested bucket, or nil if absent.
func (b *Bucket) SubBucket(name []byte) *Bucket {
	sub := b.b.Bucket(name)
	if sub == nil {
		return nil
	}
	return &Bucket{b: sub}
}

// SubBuckets calls fn for every nested bucket name in key order.
func (b *Bucket) SubBuckets(fn func(name []byte) error) error {
	return b.b.ForEachBucket(fn)
}

// Range returns an iterator over the inclusive key range. For forward
// iteration start <= end; for reverse iteration the bounds are swapped so
// that iteration begins at start and walks down to end.
func (b *Bucket) Range(start, end []byte, reverse bool) *Iterator {
	it := &Iterator{c: b.b.Cursor(), reverse: reverse}
	if reverse {
		it.lo, it.hi = end, start
	} else {
		it.lo, it.hi = start, end
	}
	return it
}

// EstimateRange returns the fraction of bucket keys falling inside the
// inclusive range [start, end], in [0, 1].
func (b *Bucket) EstimateRange(start, end []byte) float64 {
	total := b.Len()
	if total == 0 {
		return 0
	}
	n := 0
	it := b.Range(start, end, false)
	for k, _ := it.Next(); k != nil; k, _ = it.Next() {
		n++
	}
	return float64(n) / float64(total)
}
