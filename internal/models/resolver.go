// Package models resolves voice models from human-readable search terms.
package models

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-proxy/internal/core"
)

const fallbackSearchTerm = "a"

// Searcher queries the provider for models matching a term.
type Searcher interface {
	SearchModels(ctx context.Context, term string) ([]core.VoiceModel, error)
}

// Options configures the cache. A zero TTL never expires entries; a zero
// MaxEntries leaves the cache unbounded.
type Options struct {
	DefaultTerm string
	TTL         time.Duration
	MaxEntries  int
}

type cacheEntry struct {
	models    []core.VoiceModel
	fetchedAt time.Time
}

// Resolver caches search results by term. It is safe for concurrent use and
// never holds its lock across a provider call.
type Resolver struct {
	searcher Searcher
	opts     Options
	log      *logger.Logger
	now      func() time.Time

	mu      sync.RWMutex
	entries map[string]cacheEntry
	order   []string
}

// NewResolver creates a Resolver backed by searcher.
func NewResolver(searcher Searcher, opts Options, log *logger.Logger) *Resolver {
	if strings.TrimSpace(opts.DefaultTerm) == "" {
		opts.DefaultTerm = fallbackSearchTerm
	}

	return &Resolver{
		searcher: searcher,
		opts:     opts,
		log:      log,
		now:      time.Now,
		entries:  make(map[string]cacheEntry),
	}
}

// Search returns the models matching term. Blank terms are replaced by the
// default broad query since the provider handles empty searches badly.
func (r *Resolver) Search(ctx context.Context, term string) ([]core.VoiceModel, error) {
	key := strings.TrimSpace(term)
	if key == "" {
		key = r.opts.DefaultTerm
	}

	cached, ok := r.lookup(key)
	if ok {
		return cached, nil
	}

	found, err := r.searcher.SearchModels(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("model search for %q failed: %w", key, err)
	}

	r.store(key, found)
	r.log.Info("Cached %d voice models for search %q", len(found), key)

	return clone(found), nil
}

// ByToken finds a model by its exact token. The provider has no lookup by
// token, so a miss in the cache falls back to a broad search and a scan.
func (r *Resolver) ByToken(ctx context.Context, token string) (core.VoiceModel, bool, error) {
	if strings.TrimSpace(token) == "" {
		return core.VoiceModel{}, false, fmt.Errorf("%w: model token is required", core.ErrValidation)
	}

	model, ok := r.scanCache(token)
	if ok {
		return model, true, nil
	}

	found, err := r.Search(ctx, r.opts.DefaultTerm)
	if err != nil {
		return core.VoiceModel{}, false, err
	}

	for _, candidate := range found {
		if candidate.Token == token {
			return candidate, true, nil
		}
	}

	return core.VoiceModel{}, false, nil
}

// FindByName picks one model for a name, case-insensitively: an exact title
// match, else the first title containing name, else the first result of the
// search. It reports false only when the search returned nothing.
func (r *Resolver) FindByName(ctx context.Context, name string) (core.VoiceModel, bool, error) {
	found, err := r.Search(ctx, name)
	if err != nil {
		return core.VoiceModel{}, false, err
	}

	if len(found) == 0 {
		return core.VoiceModel{}, false, nil
	}

	needle := strings.ToLower(strings.TrimSpace(name))

	for _, candidate := range found {
		if strings.ToLower(candidate.Title) == needle {
			return candidate, true, nil
		}
	}

	for _, candidate := range found {
		if strings.Contains(strings.ToLower(candidate.Title), needle) {
			return candidate, true, nil
		}
	}

	return found[0], true, nil
}

// Clear drops every cached search.
func (r *Resolver) Clear() {
	r.mu.Lock()
	r.entries = make(map[string]cacheEntry)
	r.order = nil
	r.mu.Unlock()
}

func (r *Resolver) lookup(key string) ([]core.VoiceModel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[key]
	if !ok || r.expired(entry) {
		return nil, false
	}

	return clone(entry.models), true
}

func (r *Resolver) scanCache(token string) (core.VoiceModel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, entry := range r.entries {
		if r.expired(entry) {
			continue
		}

		for _, candidate := range entry.models {
			if candidate.Token == token {
				return candidate, true
			}
		}
	}

	return core.VoiceModel{}, false
}

func (r *Resolver) store(key string, found []core.VoiceModel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[key]; !exists {
		r.order = append(r.order, key)
	}

	r.entries[key] = cacheEntry{models: clone(found), fetchedAt: r.now()}

	// Oldest search goes first once the cache is full.
	for r.opts.MaxEntries > 0 && len(r.order) > r.opts.MaxEntries {
		delete(r.entries, r.order[0])
		r.order = r.order[1:]
	}
}

func (r *Resolver) expired(entry cacheEntry) bool {
	return r.opts.TTL > 0 && r.now().Sub(entry.fetchedAt) > r.opts.TTL
}

func clone(models []core.VoiceModel) []core.VoiceModel {
	return append([]core.VoiceModel(nil), models...)
}
