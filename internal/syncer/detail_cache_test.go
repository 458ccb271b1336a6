package syncer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halvard/transbridge/internal/qbittorrent"
)

// fakeDetailFetcher counts fetches per sub-record. onTrackers, when set,
// runs during the trackers fetch so tests can interleave other operations.
type fakeDetailFetcher struct {
	fileCalls    int
	trackerCalls int
	propCalls    int
	onTrackers   func()
}

func (f *fakeDetailFetcher) Files(context.Context, string) ([]qbittorrent.TorrentFile, error) {
	f.fileCalls++
	return []qbittorrent.TorrentFile{{Name: "a/b.mkv", Size: 100, Priority: 1}}, nil
}

func (f *fakeDetailFetcher) Trackers(context.Context, string) ([]qbittorrent.TorrentTracker, error) {
	f.trackerCalls++
	if f.onTrackers != nil {
		f.onTrackers()
	}
	return []qbittorrent.TorrentTracker{{URL: "http://t.example/announce", Status: 2}}, nil
}

func (f *fakeDetailFetcher) Properties(context.Context, string) (*qbittorrent.TorrentProperties, error) {
	f.propCalls++
	return &qbittorrent.TorrentProperties{SavePath: "/dl", PiecesNum: 4}, nil
}

const testHash = "aa11223344556677889900112233445566778899"

func TestDetailsFetchesOnlyRequested(t *testing.T) {
	fetcher := &fakeDetailFetcher{}
	cache := NewDetailCache(fetcher, 30*time.Second, time.Minute)
	ctx := context.Background()

	record, err := cache.Details(ctx, testHash, true, false, false)
	require.NoError(t, err)

	assert.True(t, record.HasFiles)
	assert.False(t, record.HasTrackers)
	assert.False(t, record.HasProperties)
	assert.Equal(t, 1, fetcher.fileCalls)
	assert.Equal(t, 0, fetcher.trackerCalls)
	assert.Equal(t, 0, fetcher.propCalls)
}

func TestDetailsTopsUpMissingSubRecords(t *testing.T) {
	fetcher := &fakeDetailFetcher{}
	cache := NewDetailCache(fetcher, 30*time.Second, time.Minute)
	ctx := context.Background()

	_, err := cache.Details(ctx, testHash, true, false, false)
	require.NoError(t, err)

	// Files are served from cache; only trackers and properties are fetched.
	record, err := cache.Details(ctx, testHash, true, true, true)
	require.NoError(t, err)

	assert.True(t, record.HasFiles)
	assert.True(t, record.HasTrackers)
	assert.True(t, record.HasProperties)
	assert.Equal(t, 1, fetcher.fileCalls, "cached sub-record must not be refetched")
	assert.Equal(t, 1, fetcher.trackerCalls)
	assert.Equal(t, 1, fetcher.propCalls)
}

func TestDetailsTTLExpiry(t *testing.T) {
	fetcher := &fakeDetailFetcher{}
	cache := NewDetailCache(fetcher, 20*time.Millisecond, time.Minute)
	ctx := context.Background()

	_, err := cache.Details(ctx, testHash, true, false, false)
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)

	_, err = cache.Details(ctx, testHash, true, false, false)
	require.NoError(t, err)
	assert.Equal(t, 2, fetcher.fileCalls, "expired record must be refetched")
}

func TestInvalidate(t *testing.T) {
	fetcher := &fakeDetailFetcher{}
	cache := NewDetailCache(fetcher, 30*time.Second, time.Minute)
	ctx := context.Background()

	_, err := cache.Details(ctx, testHash, true, true, true)
	require.NoError(t, err)

	cache.Invalidate(testHash)

	_, err = cache.Details(ctx, testHash, true, false, false)
	require.NoError(t, err)
	assert.Equal(t, 2, fetcher.fileCalls)
}

func TestInvalidateCaseInsensitive(t *testing.T) {
	fetcher := &fakeDetailFetcher{}
	cache := NewDetailCache(fetcher, 30*time.Second, time.Minute)
	ctx := context.Background()

	_, err := cache.Details(ctx, testHash, true, false, false)
	require.NoError(t, err)

	cache.Invalidate("AA11223344556677889900112233445566778899")

	_, err = cache.Details(ctx, testHash, true, false, false)
	require.NoError(t, err)
	assert.Equal(t, 2, fetcher.fileCalls)
}

func TestInvalidateDuringFetchIsNotUndone(t *testing.T) {
	fetcher := &fakeDetailFetcher{}
	cache := NewDetailCache(fetcher, 30*time.Second, time.Minute)
	ctx := context.Background()

	_, err := cache.Details(ctx, testHash, true, false, false)
	require.NoError(t, err)
	require.Equal(t, 1, fetcher.fileCalls)

	// An invalidation landing while a tracker fetch is in flight must not
	// be undone by that fetch's write-back.
	fetcher.onTrackers = func() { cache.Invalidate(testHash) }
	_, err = cache.Details(ctx, testHash, false, true, false)
	require.NoError(t, err)
	fetcher.onTrackers = nil

	// Files were invalidated mid-fetch, so this must hit the fetcher
	// again instead of a resurrected pre-invalidation record.
	_, err = cache.Details(ctx, testHash, true, false, false)
	require.NoError(t, err)
	assert.Equal(t, 2, fetcher.fileCalls)
}

func TestDetailsReturnsOnlyRequestedSubRecords(t *testing.T) {
	fetcher := &fakeDetailFetcher{}
	cache := NewDetailCache(fetcher, 30*time.Second, time.Minute)
	ctx := context.Background()

	_, err := cache.Details(ctx, testHash, true, true, true)
	require.NoError(t, err)

	// A files-only request must not carry the cached trackers or
	// properties along.
	record, err := cache.Details(ctx, testHash, true, false, false)
	require.NoError(t, err)

	assert.True(t, record.HasFiles)
	assert.NotEmpty(t, record.Files)
	assert.False(t, record.HasTrackers)
	assert.Empty(t, record.Trackers)
	assert.False(t, record.HasProperties)
	assert.Nil(t, record.Properties)
}

func TestClear(t *testing.T) {
	fetcher := &fakeDetailFetcher{}
	cache := NewDetailCache(fetcher, 30*time.Second, time.Minute)
	ctx := context.Background()

	_, err := cache.Details(ctx, testHash, false, false, true)
	require.NoError(t, err)
	require.Equal(t, 1, cache.Len())

	cache.Clear()
	assert.Equal(t, 0, cache.Len())
}
