package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halvard/transbridge/internal/qbittorrent"
)

// fakeFetcher feeds a scripted sequence of maindata payloads.
type fakeFetcher struct {
	payloads []*qbittorrent.MainData
	errs     []error
	calls    int
	rids     []int64
}

func (f *fakeFetcher) MainData(_ context.Context, rid int64) (*qbittorrent.MainData, error) {
	f.rids = append(f.rids, rid)
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.payloads) {
		return f.payloads[i], nil
	}
	return &qbittorrent.MainData{}, nil
}

func newTestManager(fetcher *fakeFetcher) *Manager {
	return NewManager(fetcher, 10*time.Millisecond, 10*time.Millisecond)
}

func fullPayload() *qbittorrent.MainData {
	return &qbittorrent.MainData{
		RID:        1,
		FullUpdate: true,
		Torrents: map[string]qbittorrent.TorrentData{
			"aa11223344556677889900112233445566778899": {
				"name": "debian.iso", "progress": 0.25, "state": "downloading", "dlspeed": float64(1000),
			},
			"bb11223344556677889900112233445566778899": {
				"name": "arch.iso", "progress": 1.0, "state": "uploading",
			},
		},
		ServerState: map[string]any{"dl_info_speed": float64(1000), "connection_status": "connected"},
		Categories:  map[string]any{"linux": map[string]any{"savePath": "/dl/linux"}},
		Tags:        []string{"iso"},
	}
}

func TestFullUpdateReplacesSnapshot(t *testing.T) {
	fetcher := &fakeFetcher{payloads: []*qbittorrent.MainData{
		fullPayload(),
		{
			RID:        2,
			FullUpdate: true,
			Torrents: map[string]qbittorrent.TorrentData{
				"cc11223344556677889900112233445566778899": {"name": "fedora.iso"},
			},
			ServerState: map[string]any{"dl_info_speed": float64(0)},
		},
	}}
	m := newTestManager(fetcher)
	ctx := context.Background()

	require.NoError(t, m.Sync(ctx, false))
	assert.Len(t, m.Torrents(), 2)

	require.NoError(t, m.Sync(ctx, false))
	torrents := m.Torrents()
	require.Len(t, torrents, 1, "a full update must drop entries absent from it")
	_, ok := torrents["cc11223344556677889900112233445566778899"]
	assert.True(t, ok)
	assert.NotContains(t, m.ServerState(), "connection_status")
}

func TestIncrementalOverlay(t *testing.T) {
	fetcher := &fakeFetcher{payloads: []*qbittorrent.MainData{
		fullPayload(),
		{
			RID: 2,
			Torrents: map[string]qbittorrent.TorrentData{
				// Changed fields only; untouched fields must survive.
				"aa11223344556677889900112233445566778899": {"progress": 0.5, "dlspeed": float64(2000)},
				// New entry inserted as-is.
				"dd11223344556677889900112233445566778899": {"name": "mint.iso", "state": "queuedDL"},
			},
			TorrentsRemoved: []string{"bb11223344556677889900112233445566778899"},
			ServerState:     map[string]any{"dl_info_speed": float64(2000)},
		},
	}}
	m := newTestManager(fetcher)
	ctx := context.Background()

	require.NoError(t, m.Sync(ctx, false))
	require.NoError(t, m.Sync(ctx, false))

	torrents := m.Torrents()
	require.Len(t, torrents, 2)

	updated := torrents["aa11223344556677889900112233445566778899"]
	assert.Equal(t, 0.5, updated.Float("progress"))
	assert.Equal(t, "debian.iso", updated.Str("name"), "fields absent from the delta must be preserved")
	assert.Equal(t, "downloading", updated.Str("state"))

	_, removed := torrents["bb11223344556677889900112233445566778899"]
	assert.False(t, removed)

	state := m.ServerState()
	assert.Equal(t, float64(2000), state["dl_info_speed"])
	assert.Equal(t, "connected", state["connection_status"], "server_state merges key by key")
}

func TestRIDWatermark(t *testing.T) {
	fetcher := &fakeFetcher{payloads: []*qbittorrent.MainData{
		fullPayload(),
		{RID: 2, ServerState: map[string]any{"x": float64(1)}},
	}}
	m := newTestManager(fetcher)
	ctx := context.Background()

	require.NoError(t, m.Sync(ctx, false))
	require.NoError(t, m.Sync(ctx, false))
	require.NoError(t, m.Sync(ctx, true))

	assert.Equal(t, []int64{0, 1, 0}, fetcher.rids, "full sync resets the watermark to zero")
}

func TestEmptyPayloadSkipped(t *testing.T) {
	fetcher := &fakeFetcher{payloads: []*qbittorrent.MainData{
		fullPayload(),
		{},
	}}
	m := newTestManager(fetcher)
	ctx := context.Background()

	require.NoError(t, m.Sync(ctx, false))
	before := m.Stats()
	require.NoError(t, m.Sync(ctx, false))
	after := m.Stats()

	assert.Equal(t, before.RID, after.RID)
	assert.Equal(t, before.SyncCount, after.SyncCount, "an empty payload must not count as a sync")
	assert.Len(t, m.Torrents(), 2)
}

func TestFetchErrorLeavesSnapshotIntact(t *testing.T) {
	fetcher := &fakeFetcher{
		payloads: []*qbittorrent.MainData{fullPayload(), nil},
		errs:     []error{nil, errors.New("connection refused")},
	}
	m := newTestManager(fetcher)
	ctx := context.Background()

	require.NoError(t, m.Sync(ctx, false))
	require.Error(t, m.Sync(ctx, false))

	assert.Len(t, m.Torrents(), 2)
	assert.Equal(t, int64(1), m.Stats().ErrorCount)
}

func TestTorrentByHashCaseInsensitive(t *testing.T) {
	fetcher := &fakeFetcher{payloads: []*qbittorrent.MainData{fullPayload()}}
	m := newTestManager(fetcher)
	require.NoError(t, m.Sync(context.Background(), false))

	torrent, ok := m.TorrentByHash("AA11223344556677889900112233445566778899")
	require.True(t, ok)
	assert.Equal(t, "debian.iso", torrent.Str("name"))
}

func TestAccessorsReturnCopies(t *testing.T) {
	fetcher := &fakeFetcher{payloads: []*qbittorrent.MainData{fullPayload()}}
	m := newTestManager(fetcher)
	require.NoError(t, m.Sync(context.Background(), false))

	torrents := m.Torrents()
	torrents["aa11223344556677889900112233445566778899"]["name"] = "mutated"
	delete(torrents, "bb11223344556677889900112233445566778899")

	fresh := m.Torrents()
	require.Len(t, fresh, 2)
	assert.Equal(t, "debian.iso", fresh["aa11223344556677889900112233445566778899"].Str("name"))
}

func TestStartReleasesWaitersOnFailure(t *testing.T) {
	fetcher := &fakeFetcher{errs: []error{errors.New("upstream down")}}
	m := newTestManager(fetcher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	start := time.Now()
	require.NoError(t, m.Start(ctx, 5*time.Second))
	assert.Less(t, time.Since(start), time.Second, "a failed first sync must still release startup waiters")
	assert.True(t, m.IsReady())

	m.Stop()
}

func TestStartStopLifecycle(t *testing.T) {
	fetcher := &fakeFetcher{payloads: []*qbittorrent.MainData{fullPayload()}}
	m := newTestManager(fetcher)

	ctx := context.Background()
	require.NoError(t, m.Start(ctx, 5*time.Second))
	assert.True(t, m.IsReady())
	assert.Len(t, m.Torrents(), 2)

	// Starting twice is a warning, not an error.
	require.NoError(t, m.Start(ctx, time.Second))

	m.Stop()
	// Stopping twice is harmless.
	m.Stop()

	err := m.Start(ctx, time.Second)
	require.NoError(t, err)
	m.Stop()
}

func TestTagMerge(t *testing.T) {
	fetcher := &fakeFetcher{payloads: []*qbittorrent.MainData{
		fullPayload(),
		{RID: 2, Tags: []string{"iso", "seedbox"}, TagsRemoved: []string{"iso"}},
	}}
	m := newTestManager(fetcher)
	ctx := context.Background()

	require.NoError(t, m.Sync(ctx, false))
	require.NoError(t, m.Sync(ctx, false))

	assert.Equal(t, []string{"seedbox"}, m.Tags())
}

// slowFirstFetcher stalls its first fetch so a second Sync can be issued
// while the first is still in flight.
type slowFirstFetcher struct {
	mu    sync.Mutex
	rids  []int64
	calls int
}

func (f *slowFirstFetcher) MainData(_ context.Context, rid int64) (*qbittorrent.MainData, error) {
	f.mu.Lock()
	f.rids = append(f.rids, rid)
	call := f.calls
	f.calls++
	f.mu.Unlock()

	if call == 0 {
		time.Sleep(50 * time.Millisecond)
		return fullPayload(), nil
	}
	return &qbittorrent.MainData{
		RID: 2,
		Torrents: map[string]qbittorrent.TorrentData{
			"aa11223344556677889900112233445566778899": {"progress": 0.5},
		},
	}, nil
}

func TestConcurrentSyncsApplyInFetchOrder(t *testing.T) {
	fetcher := &slowFirstFetcher{}
	m := NewManager(fetcher, 10*time.Millisecond, 10*time.Millisecond)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- m.Sync(ctx, false) }()

	// Issue a second sync while the first fetch is still stalled. It must
	// wait for the first to merge, then fetch with the advanced watermark.
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, m.Sync(ctx, false))
	require.NoError(t, <-done)

	assert.Equal(t, []int64{0, 1}, fetcher.rids)
	assert.Equal(t, int64(2), m.Stats().RID, "a later merge must not rewind the watermark")
}
