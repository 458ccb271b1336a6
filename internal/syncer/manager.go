package syncer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/halvard/transbridge/internal/logging"
	"github.com/halvard/transbridge/internal/qbittorrent"
)

// MainDataFetcher is the slice of the upstream client the sync engine needs.
type MainDataFetcher interface {
	MainData(ctx context.Context, rid int64) (*qbittorrent.MainData, error)
}

// Manager maintains a local mirror of the qBittorrent session state by
// polling sync/maindata with the rid watermark. All read accessors serve
// from the mirror without touching the network.
type Manager struct {
	fetcher      MainDataFetcher
	pollInterval time.Duration
	errorBackoff time.Duration
	logger       *logging.Logger

	// syncMutex serializes whole Sync runs, fetch included, so merges
	// land in fetch order and the rid watermark never moves backwards.
	syncMutex sync.Mutex

	// mu guards the snapshot below. It is never held across network I/O.
	mu          sync.Mutex
	rid         int64
	torrents    map[string]qbittorrent.TorrentData
	serverState map[string]any
	categories  map[string]any
	tags        []string
	trackers    map[string][]string

	lastSync   time.Time
	syncCount  int64
	errorCount int64

	ready     chan struct{}
	readyOnce sync.Once

	runningMutex sync.Mutex
	running      bool
	stopChan     chan struct{}
	wg           sync.WaitGroup
}

// NewManager creates a sync manager polling with the given cadence.
func NewManager(fetcher MainDataFetcher, pollInterval, errorBackoff time.Duration) *Manager {
	return &Manager{
		fetcher:      fetcher,
		pollInterval: pollInterval,
		errorBackoff: errorBackoff,
		logger:       logging.GetSyncLogger(),
		torrents:     make(map[string]qbittorrent.TorrentData),
		serverState:  make(map[string]any),
		categories:   make(map[string]any),
		trackers:     make(map[string][]string),
		ready:        make(chan struct{}),
	}
}

// Start launches the background polling loop and waits up to startupTimeout
// for the first sync attempt to complete. A failed first attempt does not
// abort the loop; it keeps retrying in the background.
func (m *Manager) Start(ctx context.Context, startupTimeout time.Duration) error {
	m.runningMutex.Lock()
	if m.running {
		m.runningMutex.Unlock()
		m.logger.Warn("Sync manager already running, ignoring Start")
		return nil
	}
	m.running = true
	m.stopChan = make(chan struct{})
	m.runningMutex.Unlock()

	m.logger.WithFields(logrus.Fields{
		"poll_interval": m.pollInterval,
		"error_backoff": m.errorBackoff,
	}).Info("Starting sync manager")

	m.wg.Add(1)
	go m.pollLoop(ctx)

	select {
	case <-m.ready:
	case <-time.After(startupTimeout):
		m.logger.Warn("Timed out waiting for initial sync, continuing anyway")
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Stop terminates the polling loop and waits for it to exit.
func (m *Manager) Stop() {
	m.runningMutex.Lock()
	if !m.running {
		m.runningMutex.Unlock()
		return
	}
	m.running = false
	close(m.stopChan)
	m.runningMutex.Unlock()

	m.wg.Wait()
	m.logger.Info("Sync manager stopped")
}

func (m *Manager) pollLoop(ctx context.Context) {
	defer m.wg.Done()

	// First attempt right away so Start's wait has something to observe.
	m.syncOnce(ctx)

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.syncOnce(ctx)
		}
	}
}

// syncOnce runs one incremental sync and marks readiness regardless of the
// outcome, so startup waiters are never stranded by a flaky upstream.
func (m *Manager) syncOnce(ctx context.Context) {
	err := m.Sync(ctx, false)
	m.readyOnce.Do(func() { close(m.ready) })
	if err != nil {
		m.logger.WithError(err).Warn("Sync cycle failed, backing off")
		select {
		case <-time.After(m.errorBackoff):
		case <-m.stopChan:
		case <-ctx.Done():
		}
	}
}

// Sync fetches one maindata payload and merges it into the mirror. When full
// is true the rid watermark is reset first, forcing a complete snapshot.
func (m *Manager) Sync(ctx context.Context, full bool) error {
	m.syncMutex.Lock()
	defer m.syncMutex.Unlock()

	m.mu.Lock()
	rid := m.rid
	m.mu.Unlock()
	if full {
		rid = 0
	}

	data, err := m.fetcher.MainData(ctx, rid)
	if err != nil {
		m.mu.Lock()
		m.errorCount++
		m.mu.Unlock()
		return fmt.Errorf("maindata fetch failed: %w", err)
	}

	if data.IsEmpty() {
		m.logger.Debug("Empty maindata payload, skipping merge")
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if data.FullUpdate {
		m.applyFull(data)
	} else {
		m.applyIncremental(data)
	}

	m.rid = data.RID
	m.lastSync = time.Now()
	m.syncCount++

	m.logger.WithFields(logrus.Fields{
		"rid":         m.rid,
		"full_update": data.FullUpdate,
		"torrents":    len(m.torrents),
	}).Debug("Merged maindata payload")
	return nil
}

// applyFull wholesale-replaces the mirror with the payload's contents.
// Removal lists are meaningless on a full update and are ignored.
func (m *Manager) applyFull(data *qbittorrent.MainData) {
	m.torrents = make(map[string]qbittorrent.TorrentData, len(data.Torrents))
	for hash, torrent := range data.Torrents {
		m.torrents[strings.ToLower(hash)] = torrent.Clone()
	}

	m.serverState = make(map[string]any, len(data.ServerState))
	for k, v := range data.ServerState {
		m.serverState[k] = v
	}

	m.categories = make(map[string]any, len(data.Categories))
	for k, v := range data.Categories {
		m.categories[k] = v
	}

	m.tags = append([]string(nil), data.Tags...)

	m.trackers = make(map[string][]string, len(data.Trackers))
	for url, hashes := range data.Trackers {
		m.trackers[url] = append([]string(nil), hashes...)
	}
}

// applyIncremental overlays changed fields onto existing entries, inserts
// new entries, and drops removed ones.
func (m *Manager) applyIncremental(data *qbittorrent.MainData) {
	for hash, delta := range data.Torrents {
		key := strings.ToLower(hash)
		if existing, ok := m.torrents[key]; ok {
			m.torrents[key] = existing.Merge(delta)
		} else {
			m.torrents[key] = delta.Clone()
		}
	}
	for _, hash := range data.TorrentsRemoved {
		delete(m.torrents, strings.ToLower(hash))
	}

	for k, v := range data.ServerState {
		m.serverState[k] = v
	}

	for k, v := range data.Categories {
		m.categories[k] = v
	}
	for _, k := range data.CategoriesRemoved {
		delete(m.categories, k)
	}

	for _, tag := range data.Tags {
		if !containsString(m.tags, tag) {
			m.tags = append(m.tags, tag)
		}
	}
	for _, tag := range data.TagsRemoved {
		m.tags = removeString(m.tags, tag)
	}

	for url, hashes := range data.Trackers {
		m.trackers[url] = append([]string(nil), hashes...)
	}
	for _, url := range data.TrackersRemoved {
		delete(m.trackers, url)
	}
}

// Torrents returns a copy of the current torrent mirror keyed by info-hash.
func (m *Manager) Torrents() map[string]qbittorrent.TorrentData {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]qbittorrent.TorrentData, len(m.torrents))
	for hash, torrent := range m.torrents {
		out[hash] = torrent.Clone()
	}
	return out
}

// TorrentByHash looks up a single torrent. The lookup is case-insensitive.
func (m *Manager) TorrentByHash(hash string) (qbittorrent.TorrentData, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	torrent, ok := m.torrents[strings.ToLower(hash)]
	if !ok {
		return nil, false
	}
	return torrent.Clone(), true
}

// ServerState returns a copy of the merged server_state record.
func (m *Manager) ServerState() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]any, len(m.serverState))
	for k, v := range m.serverState {
		out[k] = v
	}
	return out
}

// Categories returns a copy of the known categories.
func (m *Manager) Categories() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]any, len(m.categories))
	for k, v := range m.categories {
		out[k] = v
	}
	return out
}

// Tags returns a copy of the known tags.
func (m *Manager) Tags() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.tags...)
}

// Trackers returns a copy of the tracker-to-hashes index.
func (m *Manager) Trackers() map[string][]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string][]string, len(m.trackers))
	for url, hashes := range m.trackers {
		out[url] = append([]string(nil), hashes...)
	}
	return out
}

// IsReady reports whether the first sync attempt has completed.
func (m *Manager) IsReady() bool {
	select {
	case <-m.ready:
		return true
	default:
		return false
	}
}

// Stats describes the sync engine's progress.
type Stats struct {
	RID          int64     `json:"rid"`
	TorrentCount int       `json:"torrent_count"`
	SyncCount    int64     `json:"sync_count"`
	ErrorCount   int64     `json:"error_count"`
	LastSync     time.Time `json:"last_sync"`
	Ready        bool      `json:"ready"`
}

// Stats returns a snapshot of the engine's counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Stats{
		RID:          m.rid,
		TorrentCount: len(m.torrents),
		SyncCount:    m.syncCount,
		ErrorCount:   m.errorCount,
		LastSync:     m.lastSync,
		Ready:        m.IsReady(),
	}
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, item := range list {
		if item != s {
			out = append(out, item)
		}
	}
	return out
}
