package rpc

import (
	"context"
)

// bridgeVersion is the version string presented to Transmission clients.
const bridgeVersion = "4.0.6 (qBittorrent bridge)"

// handleSessionGet answers with a static session object shaped like a
// Transmission 4.x daemon. Most knobs have no upstream equivalent and are
// reported with Transmission's defaults.
func (s *Server) handleSessionGet(_ context.Context, _ map[string]any) (map[string]any, error) {
	return map[string]any{
		"alt-speed-down":                0,
		"alt-speed-enabled":             false,
		"alt-speed-time-begin":          0,
		"alt-speed-time-enabled":        false,
		"alt-speed-time-end":            0,
		"alt-speed-time-day":            0,
		"alt-speed-up":                  0,
		"blocklist-url":                 "",
		"blocklist-enabled":             false,
		"blocklist-size":                0,
		"cache-size-mb":                 4,
		"config-dir":                    "",
		"download-dir":                  "",
		"download-queue-size":           5,
		"download-queue-enabled":        true,
		"dht-enabled":                   true,
		"encryption":                    "preferred",
		"idle-seeding-limit":            30,
		"idle-seeding-limit-enabled":    false,
		"incomplete-dir":                "",
		"incomplete-dir-enabled":        false,
		"lpd-enabled":                   false,
		"peer-limit-global":             200,
		"peer-limit-per-torrent":        50,
		"pex-enabled":                   true,
		"peer-port":                     51413,
		"peer-port-random-on-start":     false,
		"port-forwarding-enabled":       true,
		"queue-stalled-enabled":         true,
		"queue-stalled-minutes":         30,
		"rename-partial-files":          true,
		"rpc-version":                   15,
		"rpc-version-minimum":           1,
		"script-torrent-done-filename":  "",
		"script-torrent-done-enabled":   false,
		"seedRatioLimit":                2.0,
		"seedRatioLimited":              false,
		"seed-queue-size":               10,
		"seed-queue-enabled":            false,
		"speed-limit-down":              100,
		"speed-limit-down-enabled":      false,
		"speed-limit-up":                100,
		"speed-limit-up-enabled":        false,
		"start-added-torrents":          true,
		"trash-original-torrent-files":  false,
		"units": map[string]any{
			"speed-units":  []string{"KB/s", "MB/s", "GB/s"},
			"speed-bytes":  1000,
			"size-units":   []string{"KB", "MB", "GB"},
			"size-bytes":   1000,
			"memory-units": []string{"KB", "MB", "GB"},
			"memory-bytes": 1024,
		},
		"utp-enabled": true,
		"version":     bridgeVersion,
	}, nil
}

// handleSessionStats builds session statistics from the mirrored server
// state and torrent counts; no upstream round-trip is needed.
func (s *Server) handleSessionStats(_ context.Context, _ map[string]any) (map[string]any, error) {
	state := s.sync.ServerState()
	torrents := s.sync.Torrents()

	var active, paused int
	for _, torrent := range torrents {
		switch torrent.Str("state") {
		case "pausedDL", "pausedUP", "stoppedDL", "stoppedUP":
			paused++
		case "downloading", "uploading", "stalledDL", "stalledUP", "metaDL", "queuedDL", "queuedUP":
			active++
		}
	}

	return map[string]any{
		"activeTorrentCount": active,
		"downloadSpeed":      stateInt(state, "dl_info_speed"),
		"pausedTorrentCount": paused,
		"torrentCount":       len(torrents),
		"uploadSpeed":        stateInt(state, "up_info_speed"),
		"cumulative-stats": map[string]any{
			"downloadedBytes": stateInt(state, "alltime_dl"),
			"filesAdded":      0,
			"secondsActive":   0,
			"sessionCount":    1,
			"uploadedBytes":   stateInt(state, "alltime_ul"),
		},
		"current-stats": map[string]any{
			"downloadedBytes": stateInt(state, "dl_info_data"),
			"filesAdded":      len(torrents),
			"secondsActive":   0,
			"sessionCount":    1,
			"uploadedBytes":   stateInt(state, "up_info_data"),
		},
	}, nil
}

// handleFreeSpace reports the upstream's free disk space for any path, since
// the WebUI exposes a single free_space_on_disk figure.
func (s *Server) handleFreeSpace(_ context.Context, args map[string]any) (map[string]any, error) {
	state := s.sync.ServerState()
	return map[string]any{
		"path":       argString(args, "path"),
		"size-bytes": stateInt(state, "free_space_on_disk"),
	}, nil
}

func stateInt(state map[string]any, key string) int64 {
	switch v := state[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}
