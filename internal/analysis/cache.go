package analysis

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/austinkregel/local-media/jukeboxd/internal/jukebox"
	"github.com/austinkregel/local-media/jukeboxd/internal/remix"
)

// CacheDirName is the cache directory inside the data directory. Each
// analysis is stored in its own file, named by the hex-encoded catalog id.
const CacheDirName = "analysis_cache"

// DefaultCacheEntries bounds the cache; the least recently used analyses
// are evicted first.
const DefaultCacheEntries = 200

const entryExt = ".json"

// Cache keeps analyses from a slower provider on disk, keyed by catalog id.
// Tracks without an id pass straight through. Only last-use times are held
// in memory; a file's modification time carries its last use across
// restarts.
type Cache struct {
	mu         sync.Mutex
	dir        string
	maxEntries int
	used       map[string]time.Time
	next       jukebox.AnalysisProvider
	now        func() time.Time
	log        zerolog.Logger
}

// NewCache indexes the cache under dataDir, in front of next.
func NewCache(dataDir string, maxEntries int, next jukebox.AnalysisProvider) (*Cache, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultCacheEntries
	}
	c := &Cache{
		dir:        filepath.Join(dataDir, CacheDirName),
		maxEntries: maxEntries,
		used:       make(map[string]time.Time),
		next:       next,
		now:        time.Now,
		log:        log.With().Str("component", "analysis-cache").Logger(),
	}
	if err := os.MkdirAll(c.dir, 0700); err != nil {
		return nil, fmt.Errorf("create analysis cache: %w", err)
	}
	if err := c.load(); err != nil {
		return nil, fmt.Errorf("load analysis cache: %w", err)
	}
	return c, nil
}

func (c *Cache) load() error {
	files, err := os.ReadDir(c.dir)
	if err != nil {
		return err
	}
	for _, f := range files {
		name := f.Name()
		if f.IsDir() || filepath.Ext(name) != entryExt {
			continue
		}
		id, err := hex.DecodeString(strings.TrimSuffix(name, entryExt))
		if err != nil {
			continue
		}
		info, err := f.Info()
		if err != nil {
			continue
		}
		c.used[string(id)] = info.ModTime()
	}
	return nil
}

func (c *Cache) path(id string) string {
	return filepath.Join(c.dir, hex.EncodeToString([]byte(id))+entryExt)
}

// Len returns the number of cached analyses.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.used)
}

// Has reports whether id is cached.
func (c *Cache) Has(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.used[id]
	return ok
}

// Fetch serves from the cache, falling back to the wrapped provider and
// storing what it returns. Every call yields a fresh Analysis.
func (c *Cache) Fetch(ctx context.Context, track jukebox.Track) (*remix.Analysis, error) {
	if track.ID == "" {
		return c.next.Fetch(ctx, track)
	}

	if a, ok := c.lookup(track.ID); ok {
		return a, nil
	}

	a, err := c.next.Fetch(ctx, track)
	if err != nil {
		return nil, err
	}
	// Marshal before returning: the caller remixes a in place.
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encode analysis: %w", err)
	}
	c.store(track.ID, data)
	return a, nil
}

func (c *Cache) lookup(id string) (*remix.Analysis, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.used[id]; !ok {
		return nil, false
	}
	path := c.path(id)
	a, err := readEntry(path)
	if err != nil {
		c.log.Warn().Err(err).Str("track", id).Msg("dropping unreadable cache entry")
		c.removeLocked(id)
		return nil, false
	}
	c.touchLocked(id, path)
	return a, true
}

func readEntry(path string) (*remix.Analysis, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return remix.Parse(f)
}

// store writes a single entry; other entries are left untouched.
func (c *Cache) store(id string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	path := c.path(id)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		c.log.Error().Err(err).Str("track", id).Msg("failed to write cache entry")
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		c.log.Error().Err(err).Str("track", id).Msg("failed to write cache entry")
		return
	}
	c.touchLocked(id, path)
	c.evictLocked()
}

func (c *Cache) touchLocked(id, path string) {
	now := c.now()
	c.used[id] = now
	if err := os.Chtimes(path, now, now); err != nil {
		c.log.Debug().Err(err).Str("track", id).Msg("failed to update cache entry time")
	}
}

func (c *Cache) removeLocked(id string) {
	delete(c.used, id)
	if err := os.Remove(c.path(id)); err != nil && !os.IsNotExist(err) {
		c.log.Warn().Err(err).Str("track", id).Msg("failed to remove cache entry")
	}
}

// evictLocked drops the least recently used entries above maxEntries.
func (c *Cache) evictLocked() {
	if len(c.used) <= c.maxEntries {
		return
	}
	ids := make([]string, 0, len(c.used))
	for id := range c.used {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := c.used[ids[i]], c.used[ids[j]]
		if !a.Equal(b) {
			return a.Before(b)
		}
		return ids[i] < ids[j]
	})
	for _, id := range ids[:len(ids)-c.maxEntries] {
		c.removeLocked(id)
	}
}
