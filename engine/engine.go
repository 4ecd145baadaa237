// Package engine owns the environment, the event identifier generator, and
// every index; it plans and executes queries across them.
package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/logsift/logsift/evid"
	"github.com/logsift/logsift/index"
	"github.com/logsift/logsift/kit/errors"
	"github.com/logsift/logsift/kv"
	"github.com/logsift/logsift/models"
)

const (
	// DefaultLimit caps a query batch when the request leaves it unset.
	DefaultLimit = 100
	// DefaultSegmentRotation is the segment byte size that triggers rotation.
	DefaultSegmentRotation = int64(256 << 20)
	// DefaultSegmentRetention is the number of segments kept per index.
	DefaultSegmentRetention = 8
)

var bucketIndexes = []byte("indexes")

// Engine is the top level of the store: one environment, one identifier
// generator, many indexes.
type Engine struct {
	env *kv.Env
	gen *evid.Generator
	log *zap.Logger
	clk clock.Clock

	rotation  int64
	retention int
	metrics   *engineMetrics
	registry  prometheus.Registerer

	mu      sync.RWMutex
	indexes map[string]*index.Index
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithClock injects the time source for event timestamps and tail cursors.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clk = c }
}

// WithSegmentRotation sets the byte size at which the current segment is
// rotated out. Zero disables rotation.
func WithSegmentRotation(n int64) Option {
	return func(e *Engine) { e.rotation = n }
}

// WithSegmentRetention sets how many segments an index keeps. Zero disables
// retirement.
func WithSegmentRetention(n int) Option {
	return func(e *Engine) { e.retention = n }
}

// WithPrometheusRegistry registers the engine metrics on reg.
func WithPrometheusRegistry(reg prometheus.Registerer) Option {
	return func(e *Engine) { e.registry = reg }
}

// Open opens the environment at dir, starts the identifier generator, and
// loads every existing index.
func Open(dir string, opts ...Option) (*Engine, error) {
	e := &Engine{
		log:       zap.NewNop(),
		clk:       clock.New(),
		rotation:  DefaultSegmentRotation,
		retention: DefaultSegmentRetention,
		registry:  prometheus.NewRegistry(),
		indexes:   map[string]*index.Index{},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.metrics = newEngineMetrics(e.registry)

	env, err := kv.Open(dir, kv.WithLogger(e.log))
	if err != nil {
		return nil, err
	}
	e.env = env

	e.gen = evid.NewGenerator(env.EnvPath("evid"))
	if err := e.gen.Start(); err != nil {
		env.Close()
		return nil, err
	}

	var names []string
	err = env.View(func(txn *kv.Txn) error {
		b := txn.Bucket(bucketIndexes)
		if b == nil {
			return nil
		}
		return b.SubBuckets(func(name []byte) error {
			names = append(names, string(name))
			return nil
		})
	})
	if err != nil {
		e.Close()
		return nil, err
	}
	for _, name := range names {
		idx, err := index.Open(env, name, e.gen,
			index.WithLogger(e.log), index.WithClock(e.clk))
		if err != nil {
			e.Close()
			return nil, err
		}
		e.indexes[name] = idx
	}

	var size int64
	for _, idx := range e.indexes {
		size += idx.Stats().Size
	}
	e.log.Info("engine opened",
		zap.String("dir", dir),
		zap.Int("indexes", len(e.indexes)),
		zap.String("size", humanize.Bytes(uint64(size))))
	return e, nil
}

// Close stops the generator and releases the environment.
func (e *Engine) Close() error {
	var err error
	if e.gen != nil {
		err = multierr.Append(err, e.gen.Stop())
	}
	if e.env != nil {
		err = multierr.Append(err, e.env.Close())
	}
	return err
}

// Index returns a loaded index by name.
func (e *Engine) Index(name string) (*index.Index, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	idx, ok := e.indexes[name]
	if !ok {
		return nil, errors.New(errors.EQueryExecution, "unknown index %q", name)
	}
	return idx, nil
}

// CreateIndex opens an index, creating it when absent.
func (e *Engine) CreateIndex(name string) (*index.Index, error) {
	if name == "" {
		return nil, errors.New(errors.EValidate, "index name must not be empty")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if idx, ok := e.indexes[name]; ok {
		return idx, nil
	}
	idx, err := index.Open(e.env, name, e.gen,
		index.WithLogger(e.log), index.WithClock(e.clk))
	if err != nil {
		return nil, err
	}
	e.indexes[name] = idx
	return idx, nil
}

// DeleteIndex drops an index and its stored data.
func (e *Engine) DeleteIndex(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.indexes[name]; !ok {
		return errors.New(errors.ENotFound, "unknown index %q", name)
	}
	err := e.env.Update(func(txn *kv.Txn) error {
		return txn.DeleteBucket(bucketIndexes, []byte(name))
	})
	if err != nil {
		return err
	}
	delete(e.indexes, name)
	e.log.Info("deleted index", zap.String("index", name))
	return nil
}

// IndexNames returns the loaded index names, sorted.
func (e *Engine) IndexNames() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.indexes))
	for name := range e.indexes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IndexStats describes one index on the listing surfaces.
type IndexStats struct {
	Name         string
	Size         int64
	LastID       evid.EVID
	LastModified time.Time
}

// ListIndices returns stats for every index, ordered by name.
func (e *Engine) ListIndices() []IndexStats {
	out := []IndexStats{}
	for _, name := range e.IndexNames() {
		idx, err := e.Index(name)
		if err != nil {
			continue
		}
		u := idx.Stats()
		out = append(out, IndexStats{
			Name:         name,
			Size:         u.Size,
			LastID:       u.LastID,
			LastModified: u.LastModified,
		})
	}
	return out
}

// FieldInfo is one schema entry on the listing surfaces.
type FieldInfo struct {
	Name string
	Type string
}

// ShowIndex returns an index's stats plus its schema fields.
func (e *Engine) ShowIndex(name string) (IndexStats, []FieldInfo, error) {
	idx, err := e.Index(name)
	if err != nil {
		return IndexStats{}, nil, err
	}
	u := idx.Stats()
	stats := IndexStats{Name: name, Size: u.Size, LastID: u.LastID, LastModified: u.LastModified}

	s, err := idx.NewSearcher()
	if err != nil {
		return IndexStats{}, nil, err
	}
	defer s.Close()
	qfs, err := s.Schema().List()
	if err != nil {
		return IndexStats{}, nil, err
	}
	fields := make([]FieldInfo, 0, len(qfs))
	for _, qf := range qfs {
		fields = append(fields, FieldInfo{Name: qf.Name, Type: qf.Type.Name()})
	}
	return stats, fields, nil
}

// WriteEvent appends one event to an index, creating the index on first use,
// then applies the rotation and retention policies.
func (e *Engine) WriteEvent(ctx context.Context, indexName string, fields []models.EventField) (evid.EVID, error) {
	if err := ctx.Err(); err != nil {
		return evid.EVID{}, errors.Wrap(err, errors.ECancelled, "engine.WriteEvent")
	}
	idx, err := e.CreateIndex(indexName)
	if err != nil {
		return evid.EVID{}, err
	}

	id, err := idx.NewEventID(uint32(e.clk.Now().UTC().Unix()))
	if err != nil {
		return evid.EVID{}, err
	}
	w, err := idx.NewWriter()
	if err != nil {
		return evid.EVID{}, err
	}
	if err := w.AddEvent(id, fields); err != nil {
		w.Abort()
		return evid.EVID{}, err
	}
	if err := w.Commit(); err != nil {
		return evid.EVID{}, err
	}
	e.metrics.eventsWritten.Inc()

	if err := e.applyRetention(idx); err != nil {
		return evid.EVID{}, err
	}
	return id, nil
}

// applyRetention rotates a full current segment and retires the oldest
// segments beyond the retention count.
func (e *Engine) applyRetention(idx *index.Index) error {
	if e.rotation > 0 && idx.CurrentSize() >= e.rotation {
		if err := idx.Rotate(); err != nil {
			return err
		}
	}
	if e.retention > 0 {
		for ids := idx.SegmentIDs(); len(ids) > e.retention; ids = idx.SegmentIDs() {
			if err := idx.DeleteSegment(ids[0]); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) resolveIndexes(names []string) ([]*index.Index, error) {
	if len(names) == 0 {
		names = e.IndexNames()
	}
	out := make([]*index.Index, 0, len(names))
	for _, name := range names {
		idx, err := e.Index(name)
		if err != nil {
			return nil, err
		}
		out = append(out, idx)
	}
	return out, nil
}
