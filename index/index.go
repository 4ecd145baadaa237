package index

import (
	"sort"
	"sync"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/logsift/logsift/evid"
	"github.com/logsift/logsift/field"
	"github.com/logsift/logsift/kit/errors"
	"github.com/logsift/logsift/kv"
	"github.com/logsift/logsift/models"
)

// Index is an ordered list of segments plus the current append segment.
type Index struct {
	env  *kv.Env
	name string
	gen  *evid.Generator
	reg  *field.Registry
	log  *zap.Logger
	clk  clock.Clock

	mu      sync.RWMutex
	segIDs  []int64
	current int64
	updates map[int64]models.LastUpdate
}

// Option configures an Index.
type Option func(*Index)

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) Option {
	return func(i *Index) { i.log = l }
}

// WithClock injects the time source used for segment metadata.
func WithClock(c clock.Clock) Option {
	return func(i *Index) { i.clk = c }
}

// WithRegistry overrides the field type registry.
func WithRegistry(r *field.Registry) Option {
	return func(i *Index) { i.reg = r }
}

// Open loads an index, creating it with a first segment when absent.
func Open(env *kv.Env, name string, gen *evid.Generator, opts ...Option) (*Index, error) {
	idx := &Index{
		env:     env,
		name:    name,
		gen:     gen,
		reg:     field.NewRegistry(),
		log:     zap.NewNop(),
		clk:     clock.New(),
		updates: map[int64]models.LastUpdate{},
	}
	for _, opt := range opts {
		opt(idx)
	}
	idx.log = idx.log.With(zap.String("index", name))

	err := env.Update(func(txn *kv.Txn) error {
		if _, err := txn.CreateBucketIfNotExists(bucketIndexes, []byte(name), bucketSchema); err != nil {
			return err
		}
		segments, err := txn.CreateBucketIfNotExists(bucketIndexes, []byte(name), bucketSegments)
		if err != nil {
			return err
		}
		meta, err := txn.CreateBucketIfNotExists(bucketIndexes, []byte(name), bucketMeta)
		if err != nil {
			return err
		}

		if err := segments.SubBuckets(func(key []byte) error {
			atoms, err := kv.DecodeTuple(key)
			if err != nil || len(atoms) != 1 {
				return errors.New(errors.EStorage, "malformed segment key")
			}
			id, ok := atoms[0].(int64)
			if !ok {
				return errors.New(errors.EStorage, "malformed segment key")
			}
			idx.segIDs = append(idx.segIDs, id)
			seg := openSegment(segments, id)
			u, err := seg.LastUpdate()
			if err != nil {
				return err
			}
			idx.updates[id] = u
			return nil
		}); err != nil {
			return err
		}
		sort.Slice(idx.segIDs, func(a, b int) bool { return idx.segIDs[a] < idx.segIDs[b] })

		if len(idx.segIDs) == 0 {
			if err := idx.createSegment(txn, meta, 1); err != nil {
				return err
			}
			return nil
		}

		if buf := meta.Get(metaCurrent); buf != nil {
			atoms, err := kv.DecodeTuple(buf)
			if err != nil || len(atoms) != 1 {
				return errors.New(errors.EStorage, "malformed current segment pointer")
			}
			idx.current = atoms[0].(int64)
		} else {
			idx.current = idx.segIDs[len(idx.segIDs)-1]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	stats := idx.Stats()
	idx.log.Debug("index opened",
		zap.Int("segments", len(idx.segIDs)),
		zap.Int64("size", stats.Size),
		zap.Stringer("last_id", stats.LastID))
	return idx, nil
}

// createSegment writes the buckets and metadata of a fresh segment and makes
// it current. Caller holds the write transaction.
func (i *Index) createSegment(txn *kv.Txn, meta *kv.Bucket, id int64) error {
	segKey := kv.MustTuple(id)
	for _, sub := range [][]byte{bucketEvents, bucketTerms, bucketPostings, bucketFields, bucketMeta} {
		if _, err := txn.CreateBucketIfNotExists(bucketIndexes, []byte(i.name), bucketSegments, segKey, sub); err != nil {
			return err
		}
	}
	segMeta := txn.Bucket(bucketIndexes, []byte(i.name), bucketSegments, segKey, bucketMeta)
	if err := segMeta.Put(metaCreated, kv.MustTuple(i.clk.Now().UTC().Unix())); err != nil {
		return err
	}
	if err := segMeta.Put(metaLastUpdate, models.LastUpdate{}.Encode()); err != nil {
		return err
	}
	if err := meta.Put(metaCurrent, kv.MustTuple(id)); err != nil {
		return err
	}
	i.segIDs = append(i.segIDs, id)
	i.current = id
	i.updates[id] = models.LastUpdate{}
	return nil
}

// Name returns the index name.
func (i *Index) Name() string { return i.name }

// NewEventID allocates the next event identifier at the given timestamp.
func (i *Index) NewEventID(ts uint32) (evid.EVID, error) { return i.gen.Allocate(ts) }

// SegmentIDs returns the segment sequence, oldest first.
func (i *Index) SegmentIDs() []int64 {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]int64, len(i.segIDs))
	copy(out, i.segIDs)
	return out
}

// CurrentSegment returns the append segment's identifier.
func (i *Index) CurrentSegment() int64 {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.current
}

// CurrentSize returns the stored byte size of the append segment.
func (i *Index) CurrentSize() int64 {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.updates[i.current].Size
}

// Stats aggregates the last-update summaries of every segment.
func (i *Index) Stats() models.LastUpdate {
	i.mu.RLock()
	defer i.mu.RUnlock()
	var out models.LastUpdate
	for _, u := range i.updates {
		out.Size += u.Size
		if evid.Compare(u.LastID, out.LastID) > 0 {
			out.LastID = u.LastID
		}
		if u.LastModified.After(out.LastModified) {
			out.LastModified = u.LastModified
		}
	}
	return out
}

// Rotate allocates a new segment and makes it the append target. The new
// segment becomes visible to searchers only after the commit.
func (i *Index) Rotate() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	next := i.segIDs[len(i.segIDs)-1] + 1
	err := i.env.Update(func(txn *kv.Txn) error {
		meta := txn.Bucket(bucketIndexes, []byte(i.name), bucketMeta)
		if meta == nil {
			return errors.New(errors.EStorage, "index %q has no metadata bucket", i.name)
		}
		return i.createSegment(txn, meta, next)
	})
	if err != nil {
		return err
	}
	i.log.Info("rotated segment", zap.Int64("segment", next))
	return nil
}

// DeleteSegment retires a non-current segment. Snapshots opened before the
// deletion still see it until they close.
func (i *Index) DeleteSegment(id int64) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if id == i.current {
		return errors.New(errors.EValidate, "cannot delete the current segment %d", id)
	}
	pos := -1
	for n, sid := range i.segIDs {
		if sid == id {
			pos = n
			break
		}
	}
	if pos < 0 {
		return errors.New(errors.ENotFound, "segment %d not in index %q", id, i.name)
	}
	err := i.env.Update(func(txn *kv.Txn) error {
		return txn.DeleteBucket(bucketIndexes, []byte(i.name), bucketSegments, kv.MustTuple(id))
	})
	if err != nil {
		return err
	}
	i.segIDs = append(i.segIDs[:pos], i.segIDs[pos+1:]...)
	delete(i.updates, id)
	i.log.Info("deleted segment", zap.Int64("segment", id))
	return nil
}

// setUpdate records a committed writer's segment summary.
func (i *Index) setUpdate(id int64, u models.LastUpdate) {
	i.mu.Lock()
	i.updates[id] = u
	i.mu.Unlock()
}
