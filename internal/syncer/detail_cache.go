package syncer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"github.com/halvard/transbridge/internal/logging"
	"github.com/halvard/transbridge/internal/qbittorrent"
)

// DetailFetcher is the slice of the upstream client the detail cache needs.
type DetailFetcher interface {
	Files(ctx context.Context, hash string) ([]qbittorrent.TorrentFile, error)
	Trackers(ctx context.Context, hash string) ([]qbittorrent.TorrentTracker, error)
	Properties(ctx context.Context, hash string) (*qbittorrent.TorrentProperties, error)
}

// Details holds the per-torrent sub-records that sync/maindata does not
// carry. Each sub-record has its own presence flag; a record can hold files
// without trackers, and a later request tops up only what is missing.
type Details struct {
	Hash          string
	Files         []qbittorrent.TorrentFile
	HasFiles      bool
	Trackers      []qbittorrent.TorrentTracker
	HasTrackers   bool
	Properties    *qbittorrent.TorrentProperties
	HasProperties bool
}

// DetailCache caches expensive per-torrent detail lookups with a shared TTL.
// Topping up a record refreshes the whole record's expiry, so all three
// sub-records age out together.
type DetailCache struct {
	fetcher DetailFetcher
	cache   *gocache.Cache
	logger  *logging.Logger

	// mu serializes read-modify-write of cache entries, including
	// Invalidate, so a concurrent invalidation cannot be undone by a
	// write-back. It is never held while fetching.
	mu sync.Mutex
}

// NewDetailCache creates a detail cache with the given TTL.
func NewDetailCache(fetcher DetailFetcher, ttl, cleanupInterval time.Duration) *DetailCache {
	return &DetailCache{
		fetcher: fetcher,
		cache:   gocache.New(ttl, cleanupInterval),
		logger:  logging.GetCacheLogger(),
	}
}

// entry returns a copy of the cached record, or a fresh one. Caller holds mu.
func (d *DetailCache) entry(key string) *Details {
	if cached, found := d.cache.Get(key); found {
		copied := *cached.(*Details)
		return &copied
	}
	return &Details{Hash: key}
}

// Details returns the requested sub-records for a torrent, fetching only the
// ones the cached record is missing. Sub-records that were not requested are
// left empty in the returned record. No lock is held while fetching; after
// the fetch the cache entry is re-read and only the freshly-fetched
// sub-records are merged in, so an invalidation landing mid-fetch sticks.
func (d *DetailCache) Details(ctx context.Context, hash string, needFiles, needTrackers, needProps bool) (*Details, error) {
	key := strings.ToLower(hash)

	d.mu.Lock()
	cached := d.entry(key)
	d.mu.Unlock()

	var (
		files           []qbittorrent.TorrentFile
		trackers        []qbittorrent.TorrentTracker
		props           *qbittorrent.TorrentProperties
		fetchedFiles    bool
		fetchedTrackers bool
		fetchedProps    bool
	)

	if needFiles && !cached.HasFiles {
		var err error
		files, err = d.fetcher.Files(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("files fetch for %s failed: %w", key, err)
		}
		fetchedFiles = true
	}
	if needTrackers && !cached.HasTrackers {
		var err error
		trackers, err = d.fetcher.Trackers(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("trackers fetch for %s failed: %w", key, err)
		}
		fetchedTrackers = true
	}
	if needProps && !cached.HasProperties {
		var err error
		props, err = d.fetcher.Properties(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("properties fetch for %s failed: %w", key, err)
		}
		fetchedProps = true
	}

	fetched := 0
	if fetchedFiles {
		fetched++
	}
	if fetchedTrackers {
		fetched++
	}
	if fetchedProps {
		fetched++
	}

	if fetched > 0 {
		d.mu.Lock()
		// The entry may have changed (or been invalidated) during the
		// fetch; merge only what this call actually fetched.
		current := d.entry(key)
		if fetchedFiles {
			current.Files = files
			current.HasFiles = true
		}
		if fetchedTrackers {
			current.Trackers = trackers
			current.HasTrackers = true
		}
		if fetchedProps {
			current.Properties = props
			current.HasProperties = true
		}
		// Re-setting refreshes the record's TTL as a whole.
		d.cache.SetDefault(key, current)
		d.mu.Unlock()

		d.logger.WithFields(logrus.Fields{
			"hash":    key,
			"fetched": fetched,
		}).Debug("Refreshed detail record")
	}

	// The returned record holds only the requested sub-records: fresh
	// values for what this call fetched, the pre-fetch copies otherwise.
	result := &Details{Hash: key}
	if needFiles {
		if fetchedFiles {
			result.Files = files
		} else {
			result.Files = cached.Files
		}
		result.HasFiles = true
	}
	if needTrackers {
		if fetchedTrackers {
			result.Trackers = trackers
		} else {
			result.Trackers = cached.Trackers
		}
		result.HasTrackers = true
	}
	if needProps {
		if fetchedProps {
			result.Properties = props
		} else {
			result.Properties = cached.Properties
		}
		result.HasProperties = true
	}
	return result, nil
}

// Invalidate drops the cached record for one torrent. Mutating operations
// call this so the next read observes the change.
func (d *DetailCache) Invalidate(hash string) {
	d.mu.Lock()
	d.cache.Delete(strings.ToLower(hash))
	d.mu.Unlock()
}

// Clear drops every cached record.
func (d *DetailCache) Clear() {
	d.mu.Lock()
	d.cache.Flush()
	d.mu.Unlock()
}

// Len reports the number of cached records, expired entries included.
func (d *DetailCache) Len() int {
	return d.cache.ItemCount()
}
