package wayfind

import (
	"sort"
	"strings"
	"sync"
)

// LoadState tracks one fetch-once resource.
type LoadState int

const (
	NotRequested LoadState = iota
	Pending
	Loaded
	Failed
)

func (s LoadState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Loaded:
		return "loaded"
	case Failed:
		return "failed"
	default:
		return "not-requested"
	}
}

// Resource keys used by the controller.
const (
	poiKey      = "poi"
	levelPrefix = "level:"
	imagePrefix = "image:"
)

func levelKey(id string) string { return levelPrefix + id }
func imageKey(id string) string { return imagePrefix + id }

// LoadCache guards against duplicate fetches and duplicate source, layer and
// image registration. Entries only move forward for the lifetime of one map;
// Failed entries may be begun again so a later user action can retry.
type LoadCache struct {
	mu     sync.Mutex
	states map[string]LoadState
}

// NewLoadCache returns an empty cache.
func NewLoadCache() *LoadCache {
	return &LoadCache{states: make(map[string]LoadState)}
}

// State returns the state of key.
func (c *LoadCache) State(key string) LoadState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.states[key]
}

// Begin marks key Pending and returns true when the caller should fetch it.
// It returns false while a fetch is in flight or after it succeeded.
func (c *LoadCache) Begin(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.states[key] {
	case Pending, Loaded:
		return false
	}
	c.states[key] = Pending
	return true
}

// Complete marks key Loaded.
func (c *LoadCache) Complete(key string) {
	c.mu.Lock()
	c.states[key] = Loaded
	c.mu.Unlock()
}

// Fail marks key Failed.
func (c *LoadCache) Fail(key string) {
	c.mu.Lock()
	c.states[key] = Failed
	c.mu.Unlock()
}

// POIState returns the state of the POI dataset.
func (c *LoadCache) POIState() LoadState { return c.State(poiKey) }

// LevelState returns the state of a floor overlay.
func (c *LoadCache) LevelState(id string) LoadState { return c.State(levelKey(id)) }

// ImageState returns the state of a category icon image.
func (c *LoadCache) ImageState(id string) LoadState { return c.State(imageKey(id)) }

// LevelIDs returns the ids of floor overlays in state s, sorted.
func (c *LoadCache) LevelIDs(s LoadState) []string {
	return c.ids(levelPrefix, s)
}

// ImageIDs returns the ids of icon images in state s, sorted.
func (c *LoadCache) ImageIDs(s LoadState) []string {
	return c.ids(imagePrefix, s)
}

func (c *LoadCache) ids(prefix string, s LoadState) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for k, v := range c.states {
		if v == s && strings.HasPrefix(k, prefix) {
			out = append(out, strings.TrimPrefix(k, prefix))
		}
	}
	sort.Strings(out)
	return out
}
