package kv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedBucket writes keys k01..k09 (odd numbers only) for gap testing.
func seedBucket(t *testing.T, env *Env) {
	t.Helper()
	require.NoError(t, env.Update(func(tx *Txn) error {
		b, err := tx.CreateBucketIfNotExists([]byte("it"))
		if err != nil {
			return err
		}
		for _, k := range []string{"k01", "k03", "k05", "k07", "k09"} {
			if err := b.Put([]byte(k), []byte("v"+k[1:])); err != nil {
				return err
			}
		}
		return nil
	}))
}

func collect(it *Iterator) []string {
	var keys []string
	for k, _ := it.Next(); k != nil; k, _ = it.Next() {
		keys = append(keys, string(k))
	}
	return keys
}

func TestIteratorForward(t *testing.T) {
	env := newTestEnv(t)
	seedBucket(t, env)

	require.NoError(t, env.View(func(tx *Txn) error {
		b := tx.Bucket([]byte("it"))
		assert.Equal(t, []string{"k01", "k03", "k05", "k07", "k09"},
			collect(b.Range([]byte("k00"), []byte("k99"), false)))
		assert.Equal(t, []string{"k03", "k05"},
			collect(b.Range([]byte("k02"), []byte("k05"), false)))
		assert.Empty(t, collect(b.Range([]byte("k91"), []byte("k99"), false)))
		return nil
	}))
}

func TestIteratorReverse(t *testing.T) {
	env := newTestEnv(t)
	seedBucket(t, env)

	require.NoError(t, env.View(func(tx *Txn) error {
		b := tx.Bucket([]byte("it"))
		assert.Equal(t, []string{"k09", "k07", "k05", "k03", "k01"},
			collect(b.Range([]byte("k99"), []byte("k00"), true)))
		// Upper bound between keys seeks to the floor.
		assert.Equal(t, []string{"k05", "k03"},
			collect(b.Range([]byte("k06"), []byte("k03"), true)))
		return nil
	}))
}

func TestIteratorSkip(t *testing.T) {
	env := newTestEnv(t)
	seedBucket(t, env)

	require.NoError(t, env.View(func(tx *Txn) error {
		b := tx.Bucket([]byte("it"))

		it := b.Range([]byte("k00"), []byte("k99"), false)
		k, _ := it.Skip([]byte("k04"), false)
		assert.Equal(t, "k05", string(k))
		k, _ = it.Skip([]byte("k05"), true)
		assert.Equal(t, "k07", string(k))
		k, _ = it.Next()
		assert.Equal(t, "k09", string(k))
		k, _ = it.Next()
		assert.Nil(t, k)

		// Reset restarts from the configured start.
		it.Reset()
		k, _ = it.Next()
		assert.Equal(t, "k01", string(k))

		// Reverse skip seeks to the greatest key <= target.
		rit := b.Range([]byte("k99"), []byte("k00"), true)
		k, _ = rit.Skip([]byte("k06"), false)
		assert.Equal(t, "k05", string(k))
		k, _ = rit.Skip([]byte("k05"), true)
		assert.Equal(t, "k03", string(k))
		k, _ = rit.Skip([]byte("k00"), false)
		assert.Nil(t, k)
		return nil
	}))
}

func TestEstimateRange(t *testing.T) {
	env := newTestEnv(t)
	seedBucket(t, env)

	require.NoError(t, env.View(func(tx *Txn) error {
		b := tx.Bucket([]byte("it"))
		assert.InDelta(t, 1.0, b.EstimateRange([]byte("k00"), []byte("k99")), 1e-9)
		assert.InDelta(t, 0.4, b.EstimateRange([]byte("k02"), []byte("k05")), 1e-9)
		assert.InDelta(t, 0.0, b.EstimateRange([]byte("k91"), []byte("k99")), 1e-9)
		return nil
	}))
}
