package kv

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEnv(t *testing.T) *Env {
	t.Helper()
	env, err := Open(t.TempDir(), WithNoSync())
	require.NoError(t, err)
	t.Cleanup(func() { env.Close() })
	return env
}

func TestOpenCreatesLayout(t *testing.T) {
	dir := t.TempDir()
	env, err := Open(dir, WithNoSync())
	require.NoError(t, err)
	defer env.Close()

	for _, sub := range []string{"data", "env", "tmp"} {
		fi, err := os.Stat(filepath.Join(dir, sub))
		require.NoError(t, err)
		assert.True(t, fi.IsDir())
	}
	_, err = os.Stat(filepath.Join(dir, "lock"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "data", boltFile))
	require.NoError(t, err)
}

func TestOpenLockContention(t *testing.T) {
	dir := t.TempDir()
	env, err := Open(dir, WithNoSync())
	require.NoError(t, err)
	defer env.Close()

	_, err = Open(dir, WithNoSync())
	require.Error(t, err)
}

func TestReopenAfterClose(t *testing.T) {
	dir := t.TempDir()
	env, err := Open(dir, WithNoSync())
	require.NoError(t, err)
	require.NoError(t, env.Close())

	env2, err := Open(dir, WithNoSync())
	require.NoError(t, err)
	require.NoError(t, env2.Close())
}

func TestSnapshotIsolation(t *testing.T) {
	env := newTestEnv(t)
	bucket := []byte("b")

	require.NoError(t, env.Update(func(tx *Txn) error {
		b, err := tx.CreateBucketIfNotExists(bucket)
		if err != nil {
			return err
		}
		return b.Put([]byte("k1"), []byte("v1"))
	}))

	// Open a snapshot, then write behind its back.
	read, err := env.Begin(false)
	require.NoError(t, err)
	defer read.Rollback()

	require.NoError(t, env.Update(func(tx *Txn) error {
		return tx.Bucket(bucket).Put([]byte("k2"), []byte("v2"))
	}))

	b := read.Bucket(bucket)
	assert.Equal(t, []byte("v1"), b.Get([]byte("k1")))
	assert.Nil(t, b.Get([]byte("k2")), "snapshot must not observe later writes")
}

func TestSubBuckets(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.Update(func(tx *Txn) error {
		for _, name := range []string{"b", "a", "c"} {
			if _, err := tx.CreateBucketIfNotExists([]byte("parent"), []byte(name)); err != nil {
				return err
			}
		}
		// Plain keys are not buckets and must not be enumerated.
		return tx.Bucket([]byte("parent")).Put([]byte("aa"), []byte("v"))
	}))

	var names []string
	require.NoError(t, env.View(func(tx *Txn) error {
		return tx.Bucket([]byte("parent")).SubBuckets(func(name []byte) error {
			names = append(names, string(name))
			return nil
		})
	}))
	assert.Equal(t, []string{"a", "b", "c"}, names)
}

// A writer growing the store must never wait on an open read snapshot.
func TestSnapshotDoesNotBlockWriters(t *testing.T) {
	env := newTestEnv(t)
	bucket := []byte("b")

	require.NoError(t, env.Update(func(tx *Txn) error {
		b, err := tx.CreateBucketIfNotExists(bucket)
		if err != nil {
			return err
		}
		return b.Put([]byte("k"), []byte("v"))
	}))

	read, err := env.Begin(false)
	require.NoError(t, err)
	defer read.Rollback()

	// Push the data file well past its initial size behind the snapshot.
	payload := bytes.Repeat([]byte("x"), 32<<10)
	for n := 0; n < 256; n++ {
		key := []byte(fmt.Sprintf("grow-%04d", n))
		require.NoError(t, env.Update(func(tx *Txn) error {
			return tx.Bucket(bucket).Put(key, payload)
		}))
	}

	b := read.Bucket(bucket)
	assert.Equal(t, []byte("v"), b.Get([]byte("k")))
	assert.Nil(t, b.Get([]byte("grow-0000")), "snapshot must not observe later writes")
}
