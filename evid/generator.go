package evid

import (
	"encoding/hex"
	"os"
	"strconv"
	"sync"

	"github.com/logsift/logsift/kit/errors"
)

// DefaultCacheSize is the number of offsets reserved per backing-file write.
const DefaultCacheSize = 1024

// Generator hands out strictly increasing offsets, persisting a high-water
// mark to a small backing file before any reserved identifier is returned.
// The file holds exactly 16 lowercase hex digits: the next unused offset.
type Generator struct {
	mu        sync.Mutex
	path      string
	cacheSize uint64

	next    uint64 // next offset to hand out
	limit   uint64 // exclusive end of the reserved block
	started bool
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithCacheSize sets the size of the reserved offset block.
func WithCacheSize(n uint64) GeneratorOption {
	return func(g *Generator) { g.cacheSize = n }
}

// NewGenerator returns a generator backed by the file at path. The file is
// exclusively owned by this generator for its lifetime.
func NewGenerator(path string, opts ...GeneratorOption) *Generator {
	g := &Generator{path: path, cacheSize: DefaultCacheSize}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Start reads the backing file. A missing or empty file means no identifier
// has ever been handed out. A damaged file is fatal; the counter is never
// silently reset.
func (g *Generator) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.started {
		return nil
	}

	buf, err := os.ReadFile(g.path)
	if os.IsNotExist(err) {
		g.next, g.limit = 0, 0
		g.started = true
		return nil
	} else if err != nil {
		return errors.Wrap(err, errors.EStorage, "evid.Start")
	}

	if len(buf) == 0 {
		g.next, g.limit = 0, 0
		g.started = true
		return nil
	}
	if len(buf) != 16 {
		return errors.New(errors.EGeneratorCorrupt, "backing file %s holds %d bytes, want 16", g.path, len(buf))
	}
	if _, err := hex.DecodeString(string(buf)); err != nil {
		return errors.New(errors.EGeneratorCorrupt, "backing file %s is not hex: %q", g.path, buf)
	}
	v, err := strconv.ParseUint(string(buf), 16, 64)
	if err != nil {
		return errors.New(errors.EGeneratorCorrupt, "backing file %s is not hex: %q", g.path, buf)
	}
	if v == 0 {
		return errors.New(errors.EGeneratorCorrupt, "backing file %s holds zero high-water mark", g.path)
	}

	g.next, g.limit = v, v
	g.started = true
	return nil
}

// Stop flushes the next unused offset back to the backing file.
func (g *Generator) Stop() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.started {
		return nil
	}
	g.started = false
	if g.next == 0 {
		// Nothing was ever handed out; a zero mark would read as corruption.
		return nil
	}
	return g.persist(g.next)
}

// Allocate returns a fresh EVID at the given timestamp second. The offset is
// strictly larger than any offset previously returned by this process. An
// I/O failure during block refill fails the allocation.
func (g *Generator) Allocate(ts uint32) (EVID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.started {
		return EVID{}, errors.New(errors.EInternal, "evid generator is not started")
	}
	if g.next >= g.limit {
		if err := g.refill(); err != nil {
			return EVID{}, err
		}
	}
	id := EVID{TS: ts, Offset: g.next}
	g.next++
	return id, nil
}

// refill reserves the next block of offsets, persisting the new high-water
// mark before any identifier from the block is handed out.
func (g *Generator) refill() error {
	limit := g.next + g.cacheSize
	if err := g.persist(limit); err != nil {
		return err
	}
	g.limit = limit
	return nil
}

func (g *Generator) persist(mark uint64) error {
	f, err := os.OpenFile(g.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return errors.Wrap(err, errors.EStorage, "evid.persist")
	}
	buf := make([]byte, 0, 16)
	for i := 60; i >= 0; i -= 4 {
		buf = append(buf, "0123456789abcdef"[(mark>>uint(i))&0xf])
	}
	if _, err := f.Write(buf); err != nil {
		f.Close()
		return errors.Wrap(err, errors.EStorage, "evid.persist")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errors.Wrap(err, errors.EStorage, "evid.persist")
	}
	return f.Close()
}
