package rpc

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/halvard/transbridge/internal/qbittorrent"
	"github.com/halvard/transbridge/internal/syncer"
	"github.com/halvard/transbridge/internal/translator"
)

// resolveIDs resolves the request's "ids" argument against the current
// snapshot. nil means "no filter" (all torrents).
func (s *Server) resolveIDs(args map[string]any) []string {
	return translator.ResolveIDs(args["ids"], s.sync.Torrents())
}

func (s *Server) handleTorrentGet(ctx context.Context, args map[string]any) (map[string]any, error) {
	fields := argStringSlice(args, "fields")
	torrents := s.sync.Torrents()
	hashes := translator.ResolveIDs(args["ids"], torrents)

	sorted := translator.SortedHashes(torrents)
	sequential := translator.AssignSequentialIDs(sorted)

	selected := make(map[string]bool, len(hashes))
	for _, hash := range hashes {
		selected[hash] = true
	}

	needFiles, needTrackers, needProps := translator.NeedsDetails(fields)

	result := []map[string]any{}
	for _, hash := range sorted {
		if hashes != nil && !selected[hash] {
			continue
		}

		var details *syncer.Details
		if needFiles || needTrackers || needProps {
			var err error
			details, err = s.details.Details(ctx, hash, needFiles, needTrackers, needProps)
			if err != nil {
				// Serve what the snapshot has rather than failing the
				// whole listing.
				s.logger.WithFields(logrus.Fields{
					"hash":  hash,
					"error": err,
				}).Warn("Detail fetch failed, serving snapshot fields only")
				details = nil
			}
		}

		result = append(result, translator.BuildTorrent(hash, sequential[hash], torrents[hash], details, fields))
	}

	return map[string]any{"torrents": result}, nil
}

func (s *Server) handleTorrentAdd(ctx context.Context, args map[string]any) (map[string]any, error) {
	req := &qbittorrent.AddTorrentRequest{
		SavePath: argString(args, "download-dir"),
		Paused:   argBool(args, "paused", false),
	}

	if filename := argString(args, "filename"); filename != "" {
		req.URLs = []string{filename}
	}
	if metainfo := argString(args, "metainfo"); metainfo != "" {
		raw, err := base64.StdEncoding.DecodeString(metainfo)
		if err != nil {
			return nil, fmt.Errorf("invalid metainfo: %w", err)
		}
		req.Torrents = [][]byte{raw}
	}
	if len(req.URLs) == 0 && len(req.Torrents) == 0 {
		return nil, fmt.Errorf("torrent-add requires filename or metainfo")
	}

	if err := s.upstream.AddTorrent(ctx, req); err != nil {
		return nil, fmt.Errorf("add failed: %w", err)
	}

	// The snapshot lags behind by up to one poll cycle; nudge it so the
	// next torrent-get already sees the new entry.
	if err := s.sync.Sync(ctx, false); err != nil {
		s.logger.WithError(err).Debug("Post-add sync failed")
	}

	// Ask the upstream directly for the newest torrent to answer with.
	torrents, err := s.upstream.Torrents(ctx)
	if err != nil || len(torrents) == 0 {
		return map[string]any{}, nil
	}
	newest := torrents[0]
	for _, torrent := range torrents[1:] {
		if torrent.Int("added_on") > newest.Int("added_on") {
			newest = torrent
		}
	}

	hash := newest.Str("hash")
	added := map[string]any{
		"hashString": hash,
		"name":       newest.Str("name"),
	}
	if id, ok := translator.ContentID(hash); ok {
		added["id"] = id
	}
	return map[string]any{"torrent-added": added}, nil
}

func (s *Server) handleTorrentStart(ctx context.Context, args map[string]any) (map[string]any, error) {
	hashes := s.resolveIDs(args)
	if len(hashes) == 0 {
		return map[string]any{}, nil
	}
	if err := s.upstream.StartTorrents(ctx, hashes); err != nil {
		return nil, err
	}
	return map[string]any{}, nil
}

func (s *Server) handleTorrentStop(ctx context.Context, args map[string]any) (map[string]any, error) {
	hashes := s.resolveIDs(args)
	if len(hashes) == 0 {
		return map[string]any{}, nil
	}
	if err := s.upstream.StopTorrents(ctx, hashes); err != nil {
		return nil, err
	}
	return map[string]any{}, nil
}

func (s *Server) handleTorrentVerify(ctx context.Context, args map[string]any) (map[string]any, error) {
	hashes := s.resolveIDs(args)
	if len(hashes) == 0 {
		return map[string]any{}, nil
	}
	if err := s.upstream.RecheckTorrents(ctx, hashes); err != nil {
		return nil, err
	}
	return map[string]any{}, nil
}

func (s *Server) handleTorrentReannounce(ctx context.Context, args map[string]any) (map[string]any, error) {
	hashes := s.resolveIDs(args)
	if len(hashes) == 0 {
		return map[string]any{}, nil
	}
	if err := s.upstream.ReannounceTorrents(ctx, hashes); err != nil {
		return nil, err
	}
	return map[string]any{}, nil
}

func (s *Server) handleTorrentRemove(ctx context.Context, args map[string]any) (map[string]any, error) {
	hashes := s.resolveIDs(args)
	if len(hashes) == 0 {
		s.logger.Warn("No valid torrent IDs for torrent-remove")
		return map[string]any{}, nil
	}
	deleteData := argBool(args, "delete-local-data", false)
	if err := s.upstream.DeleteTorrents(ctx, hashes, deleteData); err != nil {
		return nil, err
	}
	for _, hash := range hashes {
		s.details.Invalidate(hash)
	}
	return map[string]any{}, nil
}

func (s *Server) handleTorrentSetLocation(ctx context.Context, args map[string]any) (map[string]any, error) {
	hashes := s.resolveIDs(args)
	location := argString(args, "location")
	if len(hashes) == 0 || location == "" {
		s.logger.Warn("torrent-set-location missing ids or location")
		return map[string]any{}, nil
	}
	// qBittorrent's setLocation always moves files; move=false has no
	// upstream equivalent and is only reported.
	if !argBool(args, "move", true) {
		s.logger.Warn("move=false is not supported, files will be moved")
	}
	if err := s.upstream.SetLocation(ctx, hashes, location); err != nil {
		return nil, err
	}
	for _, hash := range hashes {
		s.details.Invalidate(hash)
	}
	return map[string]any{}, nil
}

func (s *Server) handleTorrentSet(ctx context.Context, args map[string]any) (map[string]any, error) {
	hashes := s.resolveIDs(args)
	if len(hashes) == 0 {
		s.logger.Warn("No valid torrent IDs for torrent-set")
		return map[string]any{}, nil
	}

	if trackers := argStringSlice(args, "trackerAdd"); len(trackers) > 0 {
		for _, hash := range hashes {
			if err := s.upstream.AddTrackers(ctx, hash, trackers); err != nil {
				return nil, err
			}
		}
	}
	if trackerIDs := argInt64Slice(args, "trackerRemove"); len(trackerIDs) > 0 {
		if err := s.removeTrackersByID(ctx, hashes, trackerIDs); err != nil {
			return nil, err
		}
	}
	if replace, ok := args["trackerReplace"].([]any); ok {
		if err := s.replaceTracker(ctx, hashes, replace); err != nil {
			return nil, err
		}
	}

	// File selection and priorities. qBittorrent has no "low", so both low
	// and normal map to priority 1.
	priorityGroups := []struct {
		key      string
		priority int64
	}{
		{"files-unwanted", 0},
		{"files-wanted", 1},
		{"priority-high", 6},
		{"priority-low", 1},
		{"priority-normal", 1},
	}
	for _, group := range priorityGroups {
		indices := argInt64Slice(args, group.key)
		if len(indices) == 0 {
			continue
		}
		for _, hash := range hashes {
			if err := s.upstream.SetFilePriority(ctx, hash, indices, group.priority); err != nil {
				return nil, err
			}
		}
	}

	for _, hash := range hashes {
		s.details.Invalidate(hash)
	}
	return map[string]any{}, nil
}

func (s *Server) handleTrackerAdd(ctx context.Context, args map[string]any) (map[string]any, error) {
	hashes := s.resolveIDs(args)
	trackers := argStringSlice(args, "trackerAdd")
	if len(hashes) == 0 || len(trackers) == 0 {
		s.logger.Warn("torrent-tracker-add missing ids or trackers")
		return map[string]any{}, nil
	}
	for _, hash := range hashes {
		if err := s.upstream.AddTrackers(ctx, hash, trackers); err != nil {
			return nil, err
		}
		s.details.Invalidate(hash)
	}
	return map[string]any{}, nil
}

func (s *Server) handleTrackerRemove(ctx context.Context, args map[string]any) (map[string]any, error) {
	hashes := s.resolveIDs(args)
	trackerIDs := argInt64Slice(args, "trackerRemove")
	if len(hashes) == 0 || len(trackerIDs) == 0 {
		s.logger.Warn("torrent-tracker-remove missing ids or tracker ids")
		return map[string]any{}, nil
	}
	if err := s.removeTrackersByID(ctx, hashes, trackerIDs); err != nil {
		return nil, err
	}
	return map[string]any{}, nil
}

func (s *Server) handleTrackerReplace(ctx context.Context, args map[string]any) (map[string]any, error) {
	hashes := s.resolveIDs(args)
	replace, _ := args["trackerReplace"].([]any)
	if len(hashes) == 0 {
		s.logger.Warn("torrent-tracker-replace missing ids")
		return map[string]any{}, nil
	}
	if err := s.replaceTracker(ctx, hashes, replace); err != nil {
		return nil, err
	}
	return map[string]any{}, nil
}

// removeTrackersByID maps Transmission tracker IDs (tiers) back to URLs via
// the cached tracker list, then removes them.
func (s *Server) removeTrackersByID(ctx context.Context, hashes []string, trackerIDs []int64) error {
	for _, hash := range hashes {
		details, err := s.details.Details(ctx, hash, false, true, false)
		if err != nil {
			return err
		}

		var urls []string
		for _, id := range trackerIDs {
			for _, tracker := range details.Trackers {
				if tracker.Tier == id && tracker.URL != "" && !tracker.IsPseudo() {
					urls = append(urls, tracker.URL)
					break
				}
			}
		}

		if len(urls) > 0 {
			if err := s.upstream.RemoveTrackers(ctx, hash, urls); err != nil {
				return err
			}
		}
		s.details.Invalidate(hash)
	}
	return nil
}

// replaceTracker applies a Transmission trackerReplace pair [tracker_id, url].
func (s *Server) replaceTracker(ctx context.Context, hashes []string, replace []any) error {
	if len(replace) < 2 {
		s.logger.Warn("Invalid trackerReplace, expected [tracker_id, new_url]")
		return nil
	}
	trackerID, ok := replace[0].(float64)
	if !ok {
		s.logger.Warn("Invalid trackerReplace tracker id")
		return nil
	}
	newURL, ok := replace[1].(string)
	if !ok {
		s.logger.Warn("Invalid trackerReplace url")
		return nil
	}

	for _, hash := range hashes {
		details, err := s.details.Details(ctx, hash, false, true, false)
		if err != nil {
			return err
		}
		for _, tracker := range details.Trackers {
			if tracker.Tier == int64(trackerID) && tracker.URL != "" && !tracker.IsPseudo() {
				if err := s.upstream.EditTracker(ctx, hash, tracker.URL, newURL); err != nil {
					return err
				}
				break
			}
		}
		s.details.Invalidate(hash)
	}
	return nil
}

func (s *Server) handleTorrentRenamePath(ctx context.Context, args map[string]any) (map[string]any, error) {
	hashes := s.resolveIDs(args)
	path := argString(args, "path")
	name := argString(args, "name")

	if len(hashes) == 0 {
		s.logger.Warn("No valid torrent IDs for torrent-rename-path")
		return map[string]any{}, nil
	}
	if name == "" {
		s.logger.Warn("No new name for torrent-rename-path")
		return map[string]any{}, nil
	}

	for _, hash := range hashes {
		torrent, found := s.sync.TorrentByHash(hash)
		if !found {
			s.logger.WithField("hash", hash).Warn("Torrent not in snapshot for rename")
			continue
		}

		// A path equal to the torrent's name (or empty, or ".") targets
		// the torrent itself; anything else is a file or folder inside it.
		if path == torrent.Str("name") || path == "" || path == "." {
			if err := s.upstream.RenameTorrent(ctx, hash, name); err != nil {
				return nil, err
			}
		} else {
			if err := s.upstream.RenameFile(ctx, hash, path, name); err != nil {
				return nil, err
			}
		}
		s.details.Invalidate(hash)
	}

	return map[string]any{"path": path, "name": name}, nil
}
