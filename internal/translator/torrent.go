package translator

import (
	"strings"

	"github.com/halvard/transbridge/internal/qbittorrent"
	"github.com/halvard/transbridge/internal/syncer"
)

// stateMap maps qBittorrent torrent states to Transmission status codes:
// 0 stopped, 2 checking, 3 queued, 4 downloading, 6 seeding.
var stateMap = map[string]int64{
	"downloading":        4,
	"stalledDL":          4,
	"metaDL":             4,
	"forcedDL":           4,
	"pausedDL":           0,
	"stoppedDL":          0,
	"queuedDL":           3,
	"uploading":          6,
	"stalledUP":          6,
	"forcedUP":           6,
	"pausedUP":           0,
	"stoppedUP":          0,
	"queuedUP":           3,
	"checkingUP":         2,
	"checkingDL":         2,
	"checkingResumeData": 2,
	"error":              0,
	"missingFiles":       0,
	"unknown":            0,
}

// StatusCode converts a qBittorrent state string to a Transmission status.
// Unrecognized states map to stopped.
func StatusCode(state string) int64 {
	if code, ok := stateMap[state]; ok {
		return code
	}
	return 0
}

// detail field sets, used to decide which expensive sub-records a request
// actually needs.
var (
	fileFields = map[string]bool{
		"files": true, "fileStats": true, "priorities": true, "wanted": true,
	}
	trackerFields = map[string]bool{
		"trackers": true, "trackerStats": true,
	}
	propertyFields = map[string]bool{
		"comment": true, "creator": true, "dateCreated": true,
		"isPrivate": true, "magnetLink": true, "pieceCount": true,
		"pieceSize": true, "secondsDownloading": true, "secondsSeeding": true,
		"activityDate": true, "addedDate": true, "startDate": true,
	}
)

// NeedsDetails reports which cached sub-records the requested field set
// touches. An empty field list means every field, so everything is needed.
func NeedsDetails(fields []string) (needFiles, needTrackers, needProps bool) {
	if len(fields) == 0 {
		return true, true, true
	}
	for _, field := range fields {
		if fileFields[field] {
			needFiles = true
		}
		if trackerFields[field] {
			needTrackers = true
		}
		if propertyFields[field] {
			needProps = true
		}
	}
	return needFiles, needTrackers, needProps
}

// BuildTorrent converts one mirrored torrent plus its optional detail record
// into a Transmission torrent object, filtered to the requested fields. An
// empty field list returns every field. The id is assigned by the caller,
// per request, from the sequential mapping.
func BuildTorrent(hash string, id int64, data qbittorrent.TorrentData, details *syncer.Details, fields []string) map[string]any {
	downloaded := data.Int("downloaded")
	uploaded := data.Int("uploaded")
	var ratio float64
	if downloaded > 0 {
		ratio = float64(uploaded) / float64(downloaded)
	}

	eta := data.Int("eta")
	if eta == 8640000 {
		// qBittorrent's "infinity" sentinel; Transmission uses -1.
		eta = -1
	}

	state := data.Str("state")
	leftUntilDone := data.Int("size") - data.Int("completed")
	peersConnected := data.Int("num_leechs") + data.Int("num_seeds")

	var labels []string
	if tags := data.Str("tags"); tags != "" {
		labels = strings.Split(tags, ", ")
	} else {
		labels = []string{}
	}

	var props qbittorrent.TorrentProperties
	if details != nil && details.HasProperties && details.Properties != nil {
		props = *details.Properties
	}

	fileStats := buildFileStats(details)
	trackerList, trackerStats := buildTrackers(details)

	torrent := map[string]any{
		"activityDate":            props.LastSeen,
		"addedDate":               props.AdditionDate,
		"bandwidthPriority":       int64(0),
		"comment":                 props.Comment,
		"corruptEver":             int64(0),
		"creator":                 props.CreatedBy,
		"dateCreated":             props.CreationDate,
		"desiredAvailable":        leftUntilDone,
		"doneDate":                data.Int("completion_on"),
		"downloadDir":             data.Str("save_path"),
		"downloadedEver":          downloaded,
		"downloadLimit":           data.Int("dl_limit"),
		"downloadLimited":         data.Int("dl_limit") > 0,
		"error":                   int64(0),
		"errorString":             "",
		"eta":                     eta,
		"files":                   fileStats,
		"fileStats":               fileStats,
		"hashString":              strings.ToLower(hash),
		"id":                      id,
		"haveUnchecked":           int64(0),
		"haveValid":               data.Int("completed"),
		"honorsSessionLimits":     true,
		"isFinished":              data.Float("progress") >= 1.0,
		"isPrivate":               props.IsPrivate,
		"isStalled":               strings.Contains(state, "stalled"),
		"labels":                  labels,
		"leftUntilDone":           leftUntilDone,
		"magnetLink":              "",
		"manualAnnounceTime":      int64(-1),
		"maxConnectedPeers":       int64(100),
		"metadataPercentComplete": metadataProgress(state),
		"name":                    data.Str("name"),
		"peer-limit":              int64(100),
		"peers":                   []any{},
		"peersConnected":          peersConnected,
		"peersFrom": map[string]any{
			"fromCache":    int64(0),
			"fromDht":      int64(0),
			"fromIncoming": int64(0),
			"fromLpd":      int64(0),
			"fromLtep":     int64(0),
			"fromPex":      int64(0),
			"fromTracker":  peersConnected,
		},
		"peersGettingFromUs": data.Int("num_leechs"),
		"peersSendingToUs":   data.Int("num_seeds"),
		"percentDone":        data.Float("progress"),
		"pieces":             "",
		"pieceCount":         props.PiecesNum,
		"pieceSize":          props.PieceSize,
		"priorities":         filePriorities(details),
		"queuePosition":      data.Int("priority"),
		"rateDownload":       data.Int("dlspeed"),
		"rateUpload":         data.Int("upspeed"),
		"recheckProgress":    float64(0),
		"secondsDownloading": props.TimeElapsed,
		"secondsSeeding":     props.SeedingTime,
		"seedIdleLimit":      int64(30),
		"seedIdleMode":       int64(0),
		"seedRatioLimit":     2.0,
		"seedRatioMode":      int64(0),
		"sizeWhenDone":       data.Int("size"),
		"startDate":          props.AdditionDate,
		"status":             StatusCode(state),
		"trackers":           trackerList,
		"trackerStats":       trackerStats,
		"totalSize":          data.Int("size"),
		"torrentFile":        "",
		"uploadedEver":       uploaded,
		"uploadLimit":        data.Int("up_limit"),
		"uploadLimited":      data.Int("up_limit") > 0,
		"uploadRatio":        ratio,
		"wanted":             fileWanted(details),
		"webseeds":           []any{},
		"webseedsSendingToUs": int64(0),
	}

	if len(fields) == 0 {
		return torrent
	}

	filtered := make(map[string]any, len(fields))
	for _, field := range fields {
		if value, ok := torrent[field]; ok {
			filtered[field] = value
		}
	}
	return filtered
}

func metadataProgress(state string) float64 {
	if strings.Contains(state, "meta") {
		return 0.0
	}
	return 1.0
}

func buildFileStats(details *syncer.Details) []map[string]any {
	out := []map[string]any{}
	if details == nil || !details.HasFiles {
		return out
	}
	for _, file := range details.Files {
		out = append(out, map[string]any{
			"bytesCompleted": int64(float64(file.Size) * file.Progress),
			"length":         file.Size,
			"name":           file.Name,
			"priority":       int64(0),
			"wanted":         file.Priority > 0,
		})
	}
	return out
}

func filePriorities(details *syncer.Details) []int64 {
	out := []int64{}
	if details == nil || !details.HasFiles {
		return out
	}
	for range details.Files {
		out = append(out, 0)
	}
	return out
}

func fileWanted(details *syncer.Details) []bool {
	out := []bool{}
	if details == nil || !details.HasFiles {
		return out
	}
	for _, file := range details.Files {
		out = append(out, file.Priority > 0)
	}
	return out
}

func buildTrackers(details *syncer.Details) ([]map[string]any, []map[string]any) {
	trackerList := []map[string]any{}
	trackerStats := []map[string]any{}
	if details == nil || !details.HasTrackers {
		return trackerList, trackerStats
	}

	for _, tracker := range details.Trackers {
		if tracker.URL == "" || tracker.IsPseudo() {
			continue
		}
		trackerList = append(trackerList, map[string]any{
			"announce": tracker.URL,
			"id":       tracker.Tier,
			"scrape":   "",
			"tier":     tracker.Tier,
		})
		announceState := int64(0)
		if tracker.Status == 2 {
			announceState = 1
		}
		trackerStats = append(trackerStats, map[string]any{
			"announce":              tracker.URL,
			"announceState":         announceState,
			"downloadCount":         int64(-1),
			"hasAnnounced":          tracker.NumDownloaded > 0,
			"hasScraped":            false,
			"host":                  trackerHost(tracker.URL),
			"id":                    tracker.Tier,
			"isBackup":              false,
			"lastAnnounceResult":    tracker.Msg,
			"lastAnnounceStartTime": int64(0),
			"lastAnnounceSucceeded": tracker.Status == 2,
			"lastAnnounceTime":      int64(0),
			"lastScrapeResult":      "",
			"lastScrapeStartTime":   int64(0),
			"lastScrapeSucceeded":   false,
			"lastScrapeTime":        int64(0),
			"leecherCount":          tracker.NumLeeches,
			"nextAnnounceTime":      int64(0),
			"nextScrapeTime":        int64(0),
			"scrape":                "",
			"scrapeState":           int64(0),
			"seederCount":           tracker.NumSeeds,
			"tier":                  tracker.Tier,
		})
	}
	return trackerList, trackerStats
}

func trackerHost(url string) string {
	parts := strings.Split(url, "/")
	if len(parts) > 2 {
		return parts[2]
	}
	return ""
}
