// Package rpc implements the Transmission RPC endpoint: envelope decoding,
// method dispatch, and the thin handlers that call into the sync engine,
// detail cache, and upstream adapter.
package rpc

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/halvard/transbridge/internal/config"
	"github.com/halvard/transbridge/internal/logging"
	"github.com/halvard/transbridge/internal/qbittorrent"
	"github.com/halvard/transbridge/internal/syncer"
)

// SnapshotReader is the slice of the sync engine the handlers read from.
type SnapshotReader interface {
	Torrents() map[string]qbittorrent.TorrentData
	TorrentByHash(hash string) (qbittorrent.TorrentData, bool)
	ServerState() map[string]any
	Sync(ctx context.Context, full bool) error
}

// DetailReader is the slice of the detail cache the handlers use.
type DetailReader interface {
	Details(ctx context.Context, hash string, needFiles, needTrackers, needProps bool) (*syncer.Details, error)
	Invalidate(hash string)
}

// UpstreamClient covers the mutations the handlers forward to qBittorrent.
type UpstreamClient interface {
	Torrents(ctx context.Context) ([]qbittorrent.TorrentData, error)
	AddTorrent(ctx context.Context, req *qbittorrent.AddTorrentRequest) error
	StartTorrents(ctx context.Context, hashes []string) error
	StopTorrents(ctx context.Context, hashes []string) error
	DeleteTorrents(ctx context.Context, hashes []string, deleteFiles bool) error
	RecheckTorrents(ctx context.Context, hashes []string) error
	ReannounceTorrents(ctx context.Context, hashes []string) error
	SetLocation(ctx context.Context, hashes []string, location string) error
	AddTrackers(ctx context.Context, hash string, urls []string) error
	RemoveTrackers(ctx context.Context, hash string, urls []string) error
	EditTracker(ctx context.Context, hash, origURL, newURL string) error
	RenameTorrent(ctx context.Context, hash, name string) error
	RenameFile(ctx context.Context, hash, oldPath, newPath string) error
	SetFilePriority(ctx context.Context, hash string, fileIDs []int64, priority int64) error
}

// request is the Transmission RPC envelope.
type request struct {
	Method    string         `json:"method"`
	Arguments map[string]any `json:"arguments"`
	Tag       *int64         `json:"tag,omitempty"`
}

// handlerFunc implements one RPC method. A returned error becomes the
// envelope's error result.
type handlerFunc func(ctx context.Context, args map[string]any) (map[string]any, error)

// Server serves the Transmission RPC endpoint.
type Server struct {
	cfg      *config.BridgeConfig
	sync     SnapshotReader
	details  DetailReader
	upstream UpstreamClient
	logger   *logging.Logger

	router   *mux.Router
	handlers map[string]handlerFunc
	http     *http.Server
}

// NewServer wires the RPC endpoint onto its collaborators.
func NewServer(cfg *config.BridgeConfig, sync SnapshotReader, details DetailReader, upstream UpstreamClient) *Server {
	s := &Server{
		cfg:      cfg,
		sync:     sync,
		details:  details,
		upstream: upstream,
		logger:   logging.GetRPCLogger(),
	}

	s.handlers = map[string]handlerFunc{
		"torrent-get":             s.handleTorrentGet,
		"torrent-add":             s.handleTorrentAdd,
		"torrent-start":           s.handleTorrentStart,
		"torrent-start-now":       s.handleTorrentStart,
		"torrent-stop":            s.handleTorrentStop,
		"torrent-verify":          s.handleTorrentVerify,
		"torrent-reannounce":      s.handleTorrentReannounce,
		"torrent-set":             s.handleTorrentSet,
		"torrent-remove":          s.handleTorrentRemove,
		"torrent-set-location":    s.handleTorrentSetLocation,
		"torrent-tracker-add":     s.handleTrackerAdd,
		"torrent-tracker-remove":  s.handleTrackerRemove,
		"torrent-tracker-replace": s.handleTrackerReplace,
		"torrent-rename-path":     s.handleTorrentRenamePath,
		"session-get":             s.handleSessionGet,
		"session-stats":           s.handleSessionStats,
		"free-space":              s.handleFreeSpace,
	}

	s.router = mux.NewRouter()
	s.router.HandleFunc("/transmission/rpc", s.handleRPC).Methods(http.MethodPost)
	s.router.HandleFunc("/transmission/rpc/", s.handleRPC).Methods(http.MethodPost)

	return s
}

// Handler exposes the routing tree, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe runs the HTTP server until Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.http = &http.Server{
		Addr:         s.cfg.ListenAddr(),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	s.logger.WithField("addr", s.cfg.ListenAddr()).Info("Transmission RPC endpoint listening")
	return s.http.ListenAndServe()
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		w.Header().Set("WWW-Authenticate", `Basic realm="Transmission RPC"`)
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"result": "error",
			"error":  "Unauthorized",
		})
		return
	}

	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.logger.WithError(err).Error("Malformed RPC request body")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"result": err.Error()})
		return
	}

	s.logger.WithField("method", req.Method).Info("RPC request")

	handler, known := s.handlers[req.Method]
	if !known {
		s.logger.WithField("method", req.Method).Error("Unknown RPC method")
		response := map[string]any{"result": "error"}
		if req.Tag != nil {
			response["tag"] = *req.Tag
		}
		writeJSON(w, http.StatusOK, response)
		return
	}

	arguments, err := handler(r.Context(), req.Arguments)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"method": req.Method,
			"error":  err,
		}).Error("RPC handler failed")
		response := map[string]any{"result": err.Error()}
		if req.Tag != nil {
			response["tag"] = *req.Tag
		}
		writeJSON(w, http.StatusInternalServerError, response)
		return
	}

	if arguments == nil {
		arguments = map[string]any{}
	}
	response := map[string]any{
		"result":    "success",
		"arguments": arguments,
	}
	// Echo the tag only when the client sent one.
	if req.Tag != nil {
		response["tag"] = *req.Tag
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) authorized(r *http.Request) bool {
	if !s.cfg.AuthEnabled() {
		return true
	}
	username, password, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userMatch := subtle.ConstantTimeCompare([]byte(username), []byte(s.cfg.AuthUsername)) == 1
	passMatch := subtle.ConstantTimeCompare([]byte(password), []byte(s.cfg.AuthPassword)) == 1
	return userMatch && passMatch
}

func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.GetRPCLogger().WithError(err).Error("Failed to encode RPC response")
	}
}

// argString reads a string argument, tolerating absence.
func argString(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

// argBool reads a bool argument with a default.
func argBool(args map[string]any, key string, def bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return def
}

// argInt64Slice reads an array-of-numbers argument.
func argInt64Slice(args map[string]any, key string) []int64 {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]int64, 0, len(raw))
	for _, item := range raw {
		if n, ok := item.(float64); ok {
			out = append(out, int64(n))
		}
	}
	return out
}

// argStringSlice reads an array-of-strings argument.
func argStringSlice(args map[string]any, key string) []string {
	switch v := args[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
