package qbittorrent

import (
	"fmt"
)

// TorrentData holds one torrent's fields from the sync endpoint. Incremental
// updates carry arbitrary field subsets, so entries stay as raw maps and are
// overlaid field by field; a struct could not tell an absent field from a
// zero value.
type TorrentData map[string]any

// Clone returns a shallow copy of the torrent data.
func (t TorrentData) Clone() TorrentData {
	out := make(TorrentData, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// Merge overlays the fields of delta onto a copy of t.
func (t TorrentData) Merge(delta TorrentData) TorrentData {
	out := t.Clone()
	for k, v := range delta {
		out[k] = v
	}
	return out
}

// Str returns the named field as a string, or "" when absent or mistyped.
func (t TorrentData) Str(key string) string {
	if v, ok := t[key].(string); ok {
		return v
	}
	return ""
}

// Int returns the named field as an int64. JSON numbers decode as float64,
// so both representations are accepted.
func (t TorrentData) Int(key string) int64 {
	switch v := t[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

// Float returns the named field as a float64, or 0 when absent.
func (t TorrentData) Float(key string) float64 {
	switch v := t[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	}
	return 0
}

// Bool returns the named field as a bool, or false when absent.
func (t TorrentData) Bool(key string) bool {
	if v, ok := t[key].(bool); ok {
		return v
	}
	return false
}

// MainData represents a response from the sync/maindata endpoint.
type MainData struct {
	RID               int64                  `json:"rid"`
	FullUpdate        bool                   `json:"full_update"`
	Torrents          map[string]TorrentData `json:"torrents"`
	TorrentsRemoved   []string               `json:"torrents_removed"`
	Categories        map[string]any         `json:"categories"`
	CategoriesRemoved []string               `json:"categories_removed"`
	Tags              []string               `json:"tags"`
	TagsRemoved       []string               `json:"tags_removed"`
	Trackers          map[string][]string    `json:"trackers"`
	TrackersRemoved   []string               `json:"trackers_removed"`
	ServerState       map[string]any         `json:"server_state"`
}

// IsEmpty reports whether the payload carries no usable data at all.
func (m *MainData) IsEmpty() bool {
	return m.RID == 0 && !m.FullUpdate &&
		len(m.Torrents) == 0 && len(m.TorrentsRemoved) == 0 &&
		len(m.Categories) == 0 && len(m.Tags) == 0 &&
		len(m.Trackers) == 0 && len(m.ServerState) == 0
}

// TorrentProperties represents detailed properties of a torrent
type TorrentProperties struct {
	SavePath               string  `json:"save_path"`
	CreationDate           int64   `json:"creation_date"`
	PieceSize              int64   `json:"piece_size"`
	Comment                string  `json:"comment"`
	TotalWasted            int64   `json:"total_wasted"`
	TotalUploaded          int64   `json:"total_uploaded"`
	TotalUploadedSession   int64   `json:"total_uploaded_session"`
	TotalDownloaded        int64   `json:"total_downloaded"`
	TotalDownloadedSession int64   `json:"total_downloaded_session"`
	UpLimit                int64   `json:"up_limit"`
	DlLimit                int64   `json:"dl_limit"`
	TimeElapsed            int64   `json:"time_elapsed"`
	SeedingTime            int64   `json:"seeding_time"`
	NbConnections          int64   `json:"nb_connections"`
	NbConnectionsLimit     int64   `json:"nb_connections_limit"`
	ShareRatio             float64 `json:"share_ratio"`
	AdditionDate           int64   `json:"addition_date"`
	CompletionDate         int64   `json:"completion_date"`
	CreatedBy              string  `json:"created_by"`
	DlSpeedAvg             int64   `json:"dl_speed_avg"`
	DlSpeed                int64   `json:"dl_speed"`
	ETA                    int64   `json:"eta"`
	LastSeen               int64   `json:"last_seen"`
	Peers                  int64   `json:"peers"`
	PeersTotal             int64   `json:"peers_total"`
	PiecesHave             int64   `json:"pieces_have"`
	PiecesNum              int64   `json:"pieces_num"`
	Reannounce             int64   `json:"reannounce"`
	Seeds                  int64   `json:"seeds"`
	SeedsTotal             int64   `json:"seeds_total"`
	TotalSize              int64   `json:"total_size"`
	UpSpeedAvg             int64   `json:"up_speed_avg"`
	UpSpeed                int64   `json:"up_speed"`
	IsPrivate              bool    `json:"is_private"`
}

// TorrentFile represents a file within a torrent
type TorrentFile struct {
	Index        int64   `json:"index"`
	Name         string  `json:"name"`
	Size         int64   `json:"size"`
	Progress     float64 `json:"progress"`
	Priority     int64   `json:"priority"`
	IsSeed       bool    `json:"is_seed"`
	PieceRange   []int64 `json:"piece_range"`
	Availability float64 `json:"availability"`
}

// TorrentTracker represents tracker information for a torrent
type TorrentTracker struct {
	URL           string `json:"url"`
	Status        int64  `json:"status"`
	Tier          int64  `json:"tier"`
	NumPeers      int64  `json:"num_peers"`
	NumSeeds      int64  `json:"num_seeds"`
	NumLeeches    int64  `json:"num_leeches"`
	NumDownloaded int64  `json:"num_downloaded"`
	Msg           string `json:"msg"`
}

// IsPseudo reports whether the entry is one of the DHT/PeX/LSD pseudo-tracker
// rows the WebUI includes alongside real trackers.
func (t TorrentTracker) IsPseudo() bool {
	switch t.URL {
	case "** [DHT] **", "** [PeX] **", "** [LSD] **":
		return true
	}
	return false
}

// AddTorrentRequest represents options for adding a torrent
type AddTorrentRequest struct {
	URLs        []string // magnet links or torrent URLs
	Torrents    [][]byte // raw .torrent file contents
	SavePath    string
	Category    string
	Tags        []string
	Paused      bool
	SkipCheck   bool
	RootFolder  *bool
	Rename      string
	UpLimit     int64
	DlLimit     int64
	RatioLimit  float64
	SeedingTime int64
	Cookie      string
}

// APIError represents an error returned by the qBittorrent WebUI API.
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("qbittorrent api error: %s returned %d: %s", e.Endpoint, e.StatusCode, e.Message)
}

// IsNotFound reports whether err is an APIError with HTTP 404. Endpoint
// fallback probing uses this to decide whether to try the next candidate.
func IsNotFound(err error) bool {
	if apiErr, ok := err.(*APIError); ok {
		return apiErr.StatusCode == 404
	}
	return false
}

// AuthError indicates a failed or expired WebUI login.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("qbittorrent auth error: %s", e.Message)
}
