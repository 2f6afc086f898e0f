// Package eval runs LLM evaluation of postings: a content-addressed cache
// keyed on posting fingerprints, the evaluator that calls the model, and an
// adaptive scheduler that self-tunes concurrency under rate limiting.
package eval

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/benediktbwimmer/job-search/internal/model"
)

// trimText clips text to limit characters; a non-positive limit means no
// clipping.
func trimText(text string, limit int) string {
	if limit <= 0 || len(text) <= limit {
		return text
	}
	return text[:limit]
}

// CacheKey derives the primary cache key for a posting evaluated with the
// given model and prompt version. The description enters as a hash plus
// length rather than raw text to bound key size; the canonical blob is JSON
// with sorted keys so the fingerprint is stable.
func CacheKey(p model.Posting, modelID, promptVersion string, descriptionChars int) string {
	clipped := trimText(p.Description, descriptionChars)
	blob, _ := json.Marshal(map[string]any{
		"source":            p.Source,
		"source_type":       p.SourceType,
		"url":               p.URL,
		"title":             p.Title,
		"company":           p.Company,
		"location":          p.Location,
		"description_hash":  model.HashText(clipped),
		"description_len":   len(clipped),
		"published":         p.Published,
		"model":             modelID,
		"prompt_version":    promptVersion,
		"description_chars": descriptionChars,
	})
	return model.HashText(string(blob))
}

// legacyCacheKey is the pre-migration key derivation: it embeds the clipped
// description verbatim and clamps the limit to the old [600, 8000] window.
// Kept only as a fallback read path; delete this and CacheKeys once the
// stored cache has fully rolled over to primary keys.
func legacyCacheKey(p model.Posting, modelID, promptVersion string, descriptionChars int) string {
	limit := descriptionChars
	if limit < 600 {
		limit = 600
	}
	if limit > 8000 {
		limit = 8000
	}
	blob, _ := json.Marshal(map[string]any{
		"source":         p.Source,
		"source_type":    p.SourceType,
		"url":            p.URL,
		"title":          p.Title,
		"company":        p.Company,
		"location":       p.Location,
		"description":    trimText(p.Description, limit),
		"published":      p.Published,
		"model":          modelID,
		"prompt_version": promptVersion,
	})
	return model.HashText(string(blob))
}

// CacheKeys returns the lookup keys for a posting: the primary key, plus the
// legacy key when the two derivations differ.
func CacheKeys(p model.Posting, modelID, promptVersion string, descriptionChars int) []string {
	primary := CacheKey(p, modelID, promptVersion, descriptionChars)
	legacy := legacyCacheKey(p, modelID, promptVersion, descriptionChars)
	if legacy == primary {
		return []string{primary}
	}
	return []string{primary, legacy}
}

// CacheStore is the durable backing for the evaluation cache.
type CacheStore interface {
	LoadEvalCache(ctx context.Context) (map[string]model.EvalCacheEntry, error)
	SaveEvalCache(ctx context.Context, entries map[string]model.EvalCacheEntry) error
}

// Cache is the in-memory evaluation cache for one run, loaded from and
// periodically snapshotted to the store so a crashed run does not lose
// already-paid-for evaluations.
type Cache struct {
	store CacheStore

	mu      sync.Mutex
	entries map[string]model.EvalCacheEntry
	dirty   bool
}

// NewCache creates an empty cache backed by store. A nil store yields a
// purely in-memory cache.
func NewCache(store CacheStore) *Cache {
	return &Cache{
		store:   store,
		entries: make(map[string]model.EvalCacheEntry),
	}
}

// Load populates the cache from the store.
func (c *Cache) Load(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	entries, err := c.store.LoadEvalCache(ctx)
	if err != nil {
		return eris.Wrap(err, "eval: load cache")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if entries != nil {
		c.entries = entries
	}
	return nil
}

// Lookup returns the cached evaluation for a posting, trying the primary
// key first and falling back to the legacy key.
func (c *Cache) Lookup(p model.Posting, modelID, promptVersion string, descriptionChars int) (model.EvalCacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range CacheKeys(p, modelID, promptVersion, descriptionChars) {
		if entry, ok := c.entries[key]; ok {
			return entry, true
		}
	}
	return model.EvalCacheEntry{}, false
}

// Put stores an evaluation under the posting's primary key only. Legacy
// keys are read-only migration shims and are never written.
func (c *Cache) Put(p model.Posting, modelID, promptVersion string, descriptionChars int, evaluation model.Evaluation) {
	key := CacheKey(p, modelID, promptVersion, descriptionChars)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = model.EvalCacheEntry{
		Evaluation:    evaluation,
		UpdatedAt:     time.Now().UTC().Format(time.RFC3339),
		Model:         modelID,
		PromptVersion: promptVersion,
	}
	c.dirty = true
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Snapshot persists the cache to the store when there are unsaved writes.
func (c *Cache) Snapshot(ctx context.Context) error {
	if c.store == nil {
		return nil
	}

	c.mu.Lock()
	if !c.dirty {
		c.mu.Unlock()
		return nil
	}
	copied := make(map[string]model.EvalCacheEntry, len(c.entries))
	for k, v := range c.entries {
		copied[k] = v
	}
	c.dirty = false
	c.mu.Unlock()

	if err := c.store.SaveEvalCache(ctx, copied); err != nil {
		c.mu.Lock()
		c.dirty = true
		c.mu.Unlock()
		return eris.Wrap(err, "eval: snapshot cache")
	}
	return nil
}
