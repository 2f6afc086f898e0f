package eval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benediktbwimmer/job-search/internal/model"
)

func testPosting() model.Posting {
	return model.Posting{
		ID:          "feed:1",
		Source:      "feed",
		SourceType:  "remote",
		Title:       "Backend Engineer",
		Company:     "Acme",
		Location:    "Innsbruck",
		URL:         "https://example.com/jobs/1",
		Description: "Build Go services.",
		Published:   "2025-08-20",
	}
}

func TestCacheKey_Deterministic(t *testing.T) {
	p := testPosting()
	k1 := CacheKey(p, "model-a", "v3", 6000)
	k2 := CacheKey(p, "model-a", "v3", 6000)
	assert.Equal(t, k1, k2)
}

func TestCacheKey_ChangesWithInputs(t *testing.T) {
	p := testPosting()
	base := CacheKey(p, "model-a", "v3", 6000)

	changedDesc := p
	changedDesc.Description = "Build Rust services."
	assert.NotEqual(t, base, CacheKey(changedDesc, "model-a", "v3", 6000))

	assert.NotEqual(t, base, CacheKey(p, "model-b", "v3", 6000))
	assert.NotEqual(t, base, CacheKey(p, "model-a", "v4", 6000))
	assert.NotEqual(t, base, CacheKey(p, "model-a", "v3", 4000))
}

func TestCacheKey_IgnoresDescriptionBeyondLimit(t *testing.T) {
	p := testPosting()
	p.Description = "abcdefghij"
	base := CacheKey(p, "m", "v", 5)

	p.Description = "abcdetrailing-change"
	assert.Equal(t, base, CacheKey(p, "m", "v", 5), "text past the clip limit does not affect the key")
}

func TestCacheKeys_IncludesLegacyWhenDifferent(t *testing.T) {
	p := testPosting()
	keys := CacheKeys(p, "model-a", "v3", 6000)
	require.Len(t, keys, 2, "primary and legacy derivations differ")
	assert.Equal(t, CacheKey(p, "model-a", "v3", 6000), keys[0])
}

func TestCache_LookupFallsBackToLegacyKey(t *testing.T) {
	p := testPosting()
	cache := NewCache(nil)

	// Simulate an entry written under the old derivation.
	legacy := legacyCacheKey(p, "model-a", "v3", 6000)
	cache.entries[legacy] = model.EvalCacheEntry{
		Evaluation: model.Evaluation{Score: 66},
		Model:      "model-a",
	}

	entry, ok := cache.Lookup(p, "model-a", "v3", 6000)
	require.True(t, ok)
	assert.Equal(t, 66, entry.Evaluation.Score)
}

func TestCache_PutWritesPrimaryKeyOnly(t *testing.T) {
	p := testPosting()
	cache := NewCache(nil)
	cache.Put(p, "model-a", "v3", 6000, model.Evaluation{Score: 80})

	primary := CacheKey(p, "model-a", "v3", 6000)
	legacy := legacyCacheKey(p, "model-a", "v3", 6000)

	_, hasPrimary := cache.entries[primary]
	_, hasLegacy := cache.entries[legacy]
	assert.True(t, hasPrimary)
	assert.False(t, hasLegacy)
	assert.NotEmpty(t, cache.entries[primary].UpdatedAt)
}

type fakeCacheStore struct {
	entries   map[string]model.EvalCacheEntry
	saves     int
	failSaves bool
}

func (f *fakeCacheStore) LoadEvalCache(context.Context) (map[string]model.EvalCacheEntry, error) {
	out := make(map[string]model.EvalCacheEntry, len(f.entries))
	for k, v := range f.entries {
		out[k] = v
	}
	return out, nil
}

func (f *fakeCacheStore) SaveEvalCache(_ context.Context, entries map[string]model.EvalCacheEntry) error {
	if f.failSaves {
		return errors.New("disk full")
	}
	f.saves++
	f.entries = entries
	return nil
}

func TestCache_LoadAndSnapshot(t *testing.T) {
	ctx := context.Background()
	p := testPosting()
	store := &fakeCacheStore{entries: map[string]model.EvalCacheEntry{}}

	cache := NewCache(store)
	require.NoError(t, cache.Load(ctx))
	cache.Put(p, "model-a", "v3", 6000, model.Evaluation{Score: 71})
	require.NoError(t, cache.Snapshot(ctx))
	assert.Equal(t, 1, store.saves)

	// Clean cache: snapshot is a no-op.
	require.NoError(t, cache.Snapshot(ctx))
	assert.Equal(t, 1, store.saves)

	// A second cache loads the persisted entry back.
	reloaded := NewCache(store)
	require.NoError(t, reloaded.Load(ctx))
	entry, ok := reloaded.Lookup(p, "model-a", "v3", 6000)
	require.True(t, ok)
	assert.Equal(t, 71, entry.Evaluation.Score)
}

func TestCache_SnapshotFailureKeepsDirty(t *testing.T) {
	ctx := context.Background()
	store := &fakeCacheStore{failSaves: true}
	cache := NewCache(store)
	cache.Put(testPosting(), "m", "v", 6000, model.Evaluation{Score: 10})

	require.Error(t, cache.Snapshot(ctx))

	store.failSaves = false
	require.NoError(t, cache.Snapshot(ctx))
	assert.Equal(t, 1, store.saves)
}
