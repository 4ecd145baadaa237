package kv

import (
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/logsift/logsift/kit/errors"
)

const boltFile = "kv.bolt"

// Growing the mmap blocks until every open read transaction finishes, and
// searchers hold read snapshots for their whole life. Mapping generously up
// front keeps writers from waiting on them; the mapping is virtual, not
// resident.
const defaultInitialMmapSize = 1 << 30

// Env owns an on-disk environment directory: data/ holds the store, env/
// holds small auxiliary state (the event-id backing file), tmp/ is scratch.
// The directory is exclusively held via an advisory lock on <dir>/lock for
// the lifetime of the process.
type Env struct {
	dir      string
	db       *bolt.DB
	lockFile *os.File
	logger   *zap.Logger
}

// EnvOption configures an Env.
type EnvOption func(*envConfig)

type envConfig struct {
	logger          *zap.Logger
	openTimeout     time.Duration
	initialMmapSize int
	noSync          bool
}

// WithLogger attaches a logger to the environment.
func WithLogger(l *zap.Logger) EnvOption {
	return func(c *envConfig) { c.logger = l }
}

// WithInitialMmapSize sets the initial mmap size of the store.
func WithInitialMmapSize(n int) EnvOption {
	return func(c *envConfig) { c.initialMmapSize = n }
}

// WithNoSync disables fsync on commit. Only suitable for tests.
func WithNoSync() EnvOption {
	return func(c *envConfig) { c.noSync = true }
}

// Open acquires the directory lock, creates the standard subdirectories and
// opens the store.
func Open(dir string, opts ...EnvOption) (*Env, error) {
	cfg := envConfig{
		logger:          zap.NewNop(),
		openTimeout:     time.Second,
		initialMmapSize: defaultInitialMmapSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	for _, sub := range []string{"data", "env", "tmp"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o700); err != nil {
			return nil, errors.Wrap(err, errors.EStorage, "kv.Open")
		}
	}

	lockFile, err := os.OpenFile(filepath.Join(dir, "lock"), os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, errors.Wrap(err, errors.EStorage, "kv.Open")
	}
	if err := unix.Flock(int(lockFile.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		lockFile.Close()
		return nil, errors.New(errors.EStorage, "environment %s is locked by another process", dir)
	}

	db, err := bolt.Open(filepath.Join(dir, "data", boltFile), 0o600, &bolt.Options{
		Timeout:         cfg.openTimeout,
		InitialMmapSize: cfg.initialMmapSize,
	})
	if err != nil {
		unix.Flock(int(lockFile.Fd()), unix.LOCK_UN)
		lockFile.Close()
		return nil, errors.Wrap(err, errors.EStorage, "kv.Open")
	}
	db.NoSync = cfg.noSync

	cfg.logger.Info("opened kv environment", zap.String("dir", dir))
	return &Env{dir: dir, db: db, lockFile: lockFile, logger: cfg.logger}, nil
}

// Dir returns the environment directory.
func (e *Env) Dir() string { return e.dir }

// EnvPath returns the path of an auxiliary state file under env/.
func (e *Env) EnvPath(name string) string { return filepath.Join(e.dir, "env", name) }

// TmpDir returns the scratch directory.
func (e *Env) TmpDir() string { return filepath.Join(e.dir, "tmp") }

// Begin starts a transaction. Read transactions are snapshots and never
// block writers; write transactions serialize with each other.
func (e *Env) Begin(writable bool) (*Txn, error) {
	tx, err := e.db.Begin(writable)
	if err != nil {
		return nil, errors.Wrap(err, errors.EStorage, "kv.Begin")
	}
	return &Txn{tx: tx}, nil
}

// View runs fn inside a snapshot read transaction.
func (e *Env) View(fn func(*Txn) error) error {
	return e.db.View(func(tx *bolt.Tx) error { return fn(&Txn{tx: tx}) })
}

// Update runs fn inside a write transaction, committing on nil error.
func (e *Env) Update(fn func(*Txn) error) error {
	return e.db.Update(func(tx *bolt.Tx) error { return fn(&Txn{tx: tx}) })
}

// Close closes the store and releases the directory lock.
func (e *Env) Close() error {
	err := e.db.Close()
	if e.lockFile != nil {
		unix.Flock(int(e.lockFile.Fd()), unix.LOCK_UN)
		e.lockFile.Close()
		e.lockFile = nil
	}
	if err != nil {
		return errors.Wrap(err, errors.EStorage, "kv.Close")
	}
	return nil
}
