package kv

import "bytes"

// Iterator walks an inclusive key range over a bucket cursor, forward or
// reverse. Returned slices are only valid until the transaction ends.
type Iterator struct {
	c       cursor
	lo, hi  []byte // inclusive bounds, lo <= hi
	reverse bool
	started bool
	done    bool
}

// cursor is the bidirectional bolt cursor surface the iterator needs.
type cursor interface {
	Seek(seek []byte) (key, value []byte)
	Next() (key, value []byte)
	Prev() (key, value []byte)
	Last() (key, value []byte)
}

// Next advances the iterator and returns the next entry, or (nil, nil) at
// the end of the range.
func (it *Iterator) Next() ([]byte, []byte) {
	if it.done {
		return nil, nil
	}
	var k, v []byte
	if !it.started {
		it.started = true
		if it.reverse {
			k, v = it.seekFloor(it.hi)
		} else {
			k, v = it.c.Seek(it.lo)
		}
	} else if it.reverse {
		k, v = it.c.Prev()
	} else {
		k, v = it.c.Next()
	}
	return it.clamp(k, v)
}

// Skip seeks to the first entry at or beyond target in the iteration
// direction. With strict set, an entry exactly equal to target is stepped
// over. Returns (nil, nil) when no such entry exists in the range.
func (it *Iterator) Skip(target []byte, strict bool) ([]byte, []byte) {
	if it.done {
		return nil, nil
	}
	it.started = true
	var k, v []byte
	if it.reverse {
		k, v = it.seekFloor(target)
		if strict && k != nil && bytes.Equal(k, target) {
			k, v = it.c.Prev()
		}
	} else {
		k, v = it.c.Seek(target)
		if strict && k != nil && bytes.Equal(k, target) {
			k, v = it.c.Next()
		}
	}
	return it.clamp(k, v)
}

// Reset restarts the iterator from its configured start.
func (it *Iterator) Reset() {
	it.started = false
	it.done = false
}

// seekFloor positions the cursor at the greatest key <= target.
func (it *Iterator) seekFloor(target []byte) ([]byte, []byte) {
	k, v := it.c.Seek(target)
	if k == nil {
		return it.c.Last()
	}
	if !bytes.Equal(k, target) {
		return it.c.Prev()
	}
	return k, v
}

func (it *Iterator) clamp(k, v []byte) ([]byte, []byte) {
	if k == nil {
		it.done = true
		return nil, nil
	}
	if it.reverse {
		if bytes.Compare(k, it.hi) > 0 {
			// Landed above the range; fall back to its upper bound.
			if k, v = it.seekFloor(it.hi); k == nil {
				it.done = true
				return nil, nil
			}
		}
		if bytes.Compare(k, it.lo) < 0 {
			it.done = true
			return nil, nil
		}
	} else {
		if bytes.Compare(k, it.lo) < 0 {
			if k, v = it.c.Seek(it.lo); k == nil {
				it.done = true
				return nil, nil
			}
		}
		if bytes.Compare(k, it.hi) > 0 {
			it.done = true
			return nil, nil
		}
	}
	return k, v
}
