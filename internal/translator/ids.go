// Package translator converts between the Transmission RPC data model and
// the qBittorrent one: torrent identifiers, status codes, and torrent
// objects.
package translator

import (
	"sort"
	"strconv"
	"strings"

	"github.com/halvard/transbridge/internal/logging"
	"github.com/halvard/transbridge/internal/qbittorrent"
)

// ContentID derives the stable Transmission-style integer ID for an
// info-hash: the first 8 hex characters read as a base-16 number. It stays
// the same across restarts because it depends only on the hash.
func ContentID(hash string) (int64, bool) {
	if len(hash) < 8 {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.ToLower(hash[:8]), 16, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// SortedHashes returns the snapshot's info-hashes in lexicographic order,
// the canonical ordering used for positional IDs.
func SortedHashes(torrents map[string]qbittorrent.TorrentData) []string {
	hashes := make([]string, 0, len(torrents))
	for hash := range torrents {
		hashes = append(hashes, hash)
	}
	sort.Strings(hashes)
	return hashes
}

// AssignSequentialIDs maps each digest to its 1-based position in ascending
// digest order. The mapping is recomputed per request and never cached:
// snapshot membership can change between polls, so yesterday's position may
// be a different torrent today.
func AssignSequentialIDs(sortedHashes []string) map[string]int64 {
	ids := make(map[string]int64, len(sortedHashes))
	for i, hash := range sortedHashes {
		ids[hash] = int64(i + 1)
	}
	return ids
}

// ResolveIDs maps a Transmission "ids" argument onto info-hashes against the
// given snapshot. Returns nil when the argument selects all torrents (absent,
// empty, or "recently-active"). Entries that match nothing are dropped with
// a warning; the rest of the batch still resolves.
func ResolveIDs(ids any, torrents map[string]qbittorrent.TorrentData) []string {
	logger := logging.GetRPCLogger()

	var list []any
	switch v := ids.(type) {
	case nil:
		return nil
	case string:
		if v == "recently-active" {
			return nil
		}
		list = []any{v}
	case []any:
		if len(v) == 0 {
			return nil
		}
		list = v
	case []string:
		if len(v) == 0 {
			return nil
		}
		for _, s := range v {
			list = append(list, s)
		}
	default:
		list = []any{v}
	}

	sorted := SortedHashes(torrents)

	// A filter was supplied, so the result is never nil: a batch where
	// nothing resolves is an empty filter, not "all torrents".
	hashes := make([]string, 0, len(list))
	for _, raw := range list {
		hash, ok := resolveOne(raw, torrents, sorted)
		if !ok {
			logger.WithField("id", raw).Warn("Could not resolve torrent ID")
			continue
		}
		hashes = append(hashes, hash)
	}
	return hashes
}

func resolveOne(raw any, torrents map[string]qbittorrent.TorrentData, sorted []string) (string, bool) {
	switch v := raw.(type) {
	case string:
		if len(v) == 40 {
			// Already an info-hash; pass through lowercased.
			return strings.ToLower(v), true
		}
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return "", false
		}
		return resolveNumeric(id, sorted)
	case float64:
		return resolveNumeric(int64(v), sorted)
	case int64:
		return resolveNumeric(v, sorted)
	case int:
		return resolveNumeric(int64(v), sorted)
	}
	return "", false
}

// resolveNumeric tries the content-derived ID first, then falls back to a
// 1-based position in the sorted snapshot. The fallback keeps clients that
// enumerate torrents by index working.
func resolveNumeric(id int64, sorted []string) (string, bool) {
	for _, hash := range sorted {
		if contentID, ok := ContentID(hash); ok && contentID == id {
			return hash, true
		}
	}
	if id >= 1 && id <= int64(len(sorted)) {
		return sorted[id-1], true
	}
	return "", false
}
