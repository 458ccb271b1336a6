package qbittorrent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/halvard/transbridge/internal/logging"
)

// Endpoint candidates for operations whose path changed across WebUI API
// generations. Probing walks the list in order and short-circuits on the
// first non-404 response.
var (
	startEndpoints = []string{
		"/api/v2/torrents/start",
		"/api/v2/torrents/resume",
		"/command/resume",
	}
	stopEndpoints = []string{
		"/api/v2/torrents/stop",
		"/api/v2/torrents/pause",
		"/command/pause",
	}
	setLocationEndpoints = []string{
		"/api/v2/torrents/setLocation",
		"/command/setLocation",
	}
	addTrackersEndpoints = []string{
		"/api/v2/torrents/addTrackers",
		"/command/addTrackers",
	}
)

// Client handles communication with the qBittorrent WebUI API
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
	logger     *logging.Logger

	loginMutex sync.Mutex
	loggedIn   bool

	// resolved endpoint per candidate list, so probing only happens once
	endpointMutex sync.Mutex
	endpoints     map[string]string
}

// ClientOption represents a configuration option for the client
type ClientOption func(*Client)

// WithTimeout sets the HTTP client timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// NewClient creates a new qBittorrent WebUI API client
func NewClient(baseURL, username, password string, options ...ClientOption) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	client := &Client{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		username: username,
		password: password,
		httpClient: &http.Client{
			Jar:     jar,
			Timeout: 30 * time.Second,
		},
		logger:    logging.GetQBittorrentLogger(),
		endpoints: make(map[string]string),
	}

	for _, option := range options {
		option(client)
	}

	return client, nil
}

// BaseURL returns the configured WebUI base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Login authenticates against the WebUI. Calling it while already logged in
// is a no-op, so every request path can call it unconditionally.
func (c *Client) Login(ctx context.Context) error {
	c.loginMutex.Lock()
	defer c.loginMutex.Unlock()

	if c.loggedIn {
		return nil
	}

	form := url.Values{}
	form.Set("username", c.username)
	form.Set("password", c.password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v2/auth/login", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Referer", c.baseURL)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("login request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read login response: %w", err)
	}

	// A correct login answers 200 with the literal body "Ok."; bad
	// credentials still answer 200 with "Fails.".
	if resp.StatusCode != http.StatusOK || strings.TrimSpace(string(body)) != "Ok." {
		return &AuthError{Message: fmt.Sprintf("login rejected (status %d, body %q)", resp.StatusCode, strings.TrimSpace(string(body)))}
	}

	c.loggedIn = true
	c.logger.WithField("url", c.baseURL).Info("Logged in to qBittorrent WebUI")
	return nil
}

// Logout ends the WebUI session. Safe to call when not logged in.
func (c *Client) Logout(ctx context.Context) error {
	c.loginMutex.Lock()
	defer c.loginMutex.Unlock()

	if !c.loggedIn {
		return nil
	}
	_, _, err := c.doOnce(ctx, http.MethodPost, "/api/v2/auth/logout", nil, url.Values{})
	c.loggedIn = false
	return err
}

// invalidateSession forces the next request to re-authenticate.
func (c *Client) invalidateSession() {
	c.loginMutex.Lock()
	c.loggedIn = false
	c.loginMutex.Unlock()
}

// do performs an authenticated request, re-logging in once if the session
// cookie has expired.
func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, form url.Values) ([]byte, error) {
	if err := c.Login(ctx); err != nil {
		return nil, err
	}

	body, status, err := c.doOnce(ctx, method, endpoint, query, form)
	if err != nil {
		return nil, err
	}
	if status == http.StatusForbidden {
		c.logger.Debug("Session expired, re-authenticating")
		c.invalidateSession()
		if err := c.Login(ctx); err != nil {
			return nil, err
		}
		body, status, err = c.doOnce(ctx, method, endpoint, query, form)
		if err != nil {
			return nil, err
		}
	}

	if status < 200 || status >= 300 {
		return nil, &APIError{
			StatusCode: status,
			Message:    strings.TrimSpace(string(body)),
			Endpoint:   endpoint,
		}
	}
	return body, nil
}

func (c *Client) doOnce(ctx context.Context, method, endpoint string, query url.Values, form url.Values) ([]byte, int, error) {
	fullURL := c.baseURL + endpoint
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var reqBody io.Reader
	if form != nil {
		reqBody = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request for %s: %w", endpoint, err)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Referer", c.baseURL)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request to %s failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read response from %s: %w", endpoint, err)
	}
	return body, resp.StatusCode, nil
}

// postWithFallback posts the form to the first candidate endpoint that does
// not answer 404, remembering the winner for subsequent calls.
func (c *Client) postWithFallback(ctx context.Context, candidates []string, form url.Values) error {
	key := candidates[0]

	c.endpointMutex.Lock()
	resolved, known := c.endpoints[key]
	c.endpointMutex.Unlock()

	if known {
		_, err := c.do(ctx, http.MethodPost, resolved, nil, form)
		return err
	}

	var lastErr error
	for _, endpoint := range candidates {
		_, err := c.do(ctx, http.MethodPost, endpoint, nil, form)
		if err == nil {
			c.endpointMutex.Lock()
			c.endpoints[key] = endpoint
			c.endpointMutex.Unlock()
			if endpoint != candidates[0] {
				c.logger.WithFields(logrus.Fields{
					"wanted": candidates[0],
					"using":  endpoint,
				}).Debug("Resolved fallback endpoint")
			}
			return nil
		}
		if !IsNotFound(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("no supported endpoint among %v: %w", candidates, lastErr)
}

// MainData fetches the sync/maindata payload for the given rid watermark.
func (c *Client) MainData(ctx context.Context, rid int64) (*MainData, error) {
	query := url.Values{}
	query.Set("rid", strconv.FormatInt(rid, 10))

	body, err := c.do(ctx, http.MethodGet, "/api/v2/sync/maindata", query, nil)
	if err != nil {
		return nil, err
	}

	var data MainData
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("failed to decode maindata response: %w", err)
	}
	return &data, nil
}

// Torrents lists all torrents via torrents/info.
func (c *Client) Torrents(ctx context.Context) ([]TorrentData, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/v2/torrents/info", nil, nil)
	if err != nil {
		return nil, err
	}

	var torrents []TorrentData
	if err := json.Unmarshal(body, &torrents); err != nil {
		return nil, fmt.Errorf("failed to decode torrents list: %w", err)
	}
	return torrents, nil
}

// Properties fetches detailed properties for a single torrent.
func (c *Client) Properties(ctx context.Context, hash string) (*TorrentProperties, error) {
	query := url.Values{}
	query.Set("hash", hash)

	body, err := c.do(ctx, http.MethodGet, "/api/v2/torrents/properties", query, nil)
	if err != nil {
		return nil, err
	}

	var props TorrentProperties
	if err := json.Unmarshal(body, &props); err != nil {
		return nil, fmt.Errorf("failed to decode torrent properties: %w", err)
	}
	return &props, nil
}

// Trackers fetches the tracker list for a single torrent.
func (c *Client) Trackers(ctx context.Context, hash string) ([]TorrentTracker, error) {
	query := url.Values{}
	query.Set("hash", hash)

	body, err := c.do(ctx, http.MethodGet, "/api/v2/torrents/trackers", query, nil)
	if err != nil {
		return nil, err
	}

	var trackers []TorrentTracker
	if err := json.Unmarshal(body, &trackers); err != nil {
		return nil, fmt.Errorf("failed to decode torrent trackers: %w", err)
	}
	return trackers, nil
}

// Files fetches the file list for a single torrent.
func (c *Client) Files(ctx context.Context, hash string) ([]TorrentFile, error) {
	query := url.Values{}
	query.Set("hash", hash)

	body, err := c.do(ctx, http.MethodGet, "/api/v2/torrents/files", query, nil)
	if err != nil {
		return nil, err
	}

	var files []TorrentFile
	if err := json.Unmarshal(body, &files); err != nil {
		return nil, fmt.Errorf("failed to decode torrent files: %w", err)
	}
	return files, nil
}

// TransferInfo fetches global transfer statistics.
func (c *Client) TransferInfo(ctx context.Context) (map[string]any, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/v2/transfer/info", nil, nil)
	if err != nil {
		return nil, err
	}

	var info map[string]any
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("failed to decode transfer info: %w", err)
	}
	return info, nil
}

// AppVersion returns the qBittorrent application version string.
func (c *Client) AppVersion(ctx context.Context) (string, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/v2/app/version", nil, nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

// AddTorrent adds torrents from magnet links, URLs, or raw .torrent data.
func (c *Client) AddTorrent(ctx context.Context, req *AddTorrentRequest) error {
	if err := c.Login(ctx); err != nil {
		return err
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if len(req.URLs) > 0 {
		if err := writer.WriteField("urls", strings.Join(req.URLs, "\n")); err != nil {
			return fmt.Errorf("failed to write urls field: %w", err)
		}
	}
	for i, torrent := range req.Torrents {
		part, err := writer.CreateFormFile("torrents", fmt.Sprintf("upload-%d.torrent", i))
		if err != nil {
			return fmt.Errorf("failed to create torrent form file: %w", err)
		}
		if _, err := part.Write(torrent); err != nil {
			return fmt.Errorf("failed to write torrent data: %w", err)
		}
	}

	if req.SavePath != "" {
		writer.WriteField("savepath", req.SavePath)
	}
	if req.Category != "" {
		writer.WriteField("category", req.Category)
	}
	if len(req.Tags) > 0 {
		writer.WriteField("tags", strings.Join(req.Tags, ","))
	}
	if req.Paused {
		// Older builds read "paused", newer read "stopped"; send both.
		writer.WriteField("paused", "true")
		writer.WriteField("stopped", "true")
	}
	if req.SkipCheck {
		writer.WriteField("skip_checking", "true")
	}
	if req.RootFolder != nil {
		writer.WriteField("root_folder", strconv.FormatBool(*req.RootFolder))
	}
	if req.Rename != "" {
		writer.WriteField("rename", req.Rename)
	}
	if req.UpLimit > 0 {
		writer.WriteField("upLimit", strconv.FormatInt(req.UpLimit, 10))
	}
	if req.DlLimit > 0 {
		writer.WriteField("dlLimit", strconv.FormatInt(req.DlLimit, 10))
	}
	if req.Cookie != "" {
		writer.WriteField("cookie", req.Cookie)
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v2/torrents/add", &buf)
	if err != nil {
		return fmt.Errorf("failed to create add request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	httpReq.Header.Set("Referer", c.baseURL)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("add request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
			Endpoint:   "/api/v2/torrents/add",
		}
	}
	if strings.TrimSpace(string(body)) == "Fails." {
		return fmt.Errorf("qbittorrent rejected the torrent")
	}
	return nil
}

// joinHashes builds the pipe-separated hashes value the torrents endpoints take.
func joinHashes(hashes []string) string {
	return strings.Join(hashes, "|")
}

// StartTorrents resumes the given torrents.
func (c *Client) StartTorrents(ctx context.Context, hashes []string) error {
	form := url.Values{}
	form.Set("hashes", joinHashes(hashes))
	return c.postWithFallback(ctx, startEndpoints, form)
}

// StopTorrents pauses the given torrents.
func (c *Client) StopTorrents(ctx context.Context, hashes []string) error {
	form := url.Values{}
	form.Set("hashes", joinHashes(hashes))
	return c.postWithFallback(ctx, stopEndpoints, form)
}

// DeleteTorrents removes the given torrents, optionally deleting their data.
func (c *Client) DeleteTorrents(ctx context.Context, hashes []string, deleteFiles bool) error {
	form := url.Values{}
	form.Set("hashes", joinHashes(hashes))
	form.Set("deleteFiles", strconv.FormatBool(deleteFiles))
	_, err := c.do(ctx, http.MethodPost, "/api/v2/torrents/delete", nil, form)
	return err
}

// RecheckTorrents re-verifies the given torrents.
func (c *Client) RecheckTorrents(ctx context.Context, hashes []string) error {
	form := url.Values{}
	form.Set("hashes", joinHashes(hashes))
	_, err := c.do(ctx, http.MethodPost, "/api/v2/torrents/recheck", nil, form)
	return err
}

// ReannounceTorrents forces a tracker reannounce for the given torrents.
func (c *Client) ReannounceTorrents(ctx context.Context, hashes []string) error {
	form := url.Values{}
	form.Set("hashes", joinHashes(hashes))
	_, err := c.do(ctx, http.MethodPost, "/api/v2/torrents/reannounce", nil, form)
	return err
}

// SetLocation moves the given torrents to a new save path.
func (c *Client) SetLocation(ctx context.Context, hashes []string, location string) error {
	form := url.Values{}
	form.Set("hashes", joinHashes(hashes))
	form.Set("location", location)
	return c.postWithFallback(ctx, setLocationEndpoints, form)
}

// AddTrackers adds tracker URLs to a torrent. The endpoint takes newline
// separated URLs.
func (c *Client) AddTrackers(ctx context.Context, hash string, urls []string) error {
	form := url.Values{}
	form.Set("hash", hash)
	form.Set("urls", strings.Join(urls, "\n"))
	return c.postWithFallback(ctx, addTrackersEndpoints, form)
}

// RemoveTrackers removes tracker URLs from a torrent. Unlike AddTrackers
// this endpoint takes pipe-separated URLs.
func (c *Client) RemoveTrackers(ctx context.Context, hash string, urls []string) error {
	form := url.Values{}
	form.Set("hash", hash)
	form.Set("urls", strings.Join(urls, "|"))
	_, err := c.do(ctx, http.MethodPost, "/api/v2/torrents/removeTrackers", nil, form)
	return err
}

// EditTracker replaces one tracker URL with another on a torrent.
func (c *Client) EditTracker(ctx context.Context, hash, origURL, newURL string) error {
	form := url.Values{}
	form.Set("hash", hash)
	form.Set("origUrl", origURL)
	form.Set("newUrl", newURL)
	_, err := c.do(ctx, http.MethodPost, "/api/v2/torrents/editTracker", nil, form)
	return err
}

// RenameTorrent changes a torrent's display name.
func (c *Client) RenameTorrent(ctx context.Context, hash, name string) error {
	form := url.Values{}
	form.Set("hash", hash)
	form.Set("name", name)
	_, err := c.do(ctx, http.MethodPost, "/api/v2/torrents/rename", nil, form)
	return err
}

// RenameFile renames a file within a torrent.
func (c *Client) RenameFile(ctx context.Context, hash, oldPath, newPath string) error {
	form := url.Values{}
	form.Set("hash", hash)
	form.Set("oldPath", oldPath)
	form.Set("newPath", newPath)
	_, err := c.do(ctx, http.MethodPost, "/api/v2/torrents/renameFile", nil, form)
	return err
}

// SetFilePriority sets the download priority for files within a torrent.
func (c *Client) SetFilePriority(ctx context.Context, hash string, fileIDs []int64, priority int64) error {
	ids := make([]string, len(fileIDs))
	for i, id := range fileIDs {
		ids[i] = strconv.FormatInt(id, 10)
	}
	form := url.Values{}
	form.Set("hash", hash)
	form.Set("id", strings.Join(ids, "|"))
	form.Set("priority", strconv.FormatInt(priority, 10))
	_, err := c.do(ctx, http.MethodPost, "/api/v2/torrents/filePrio", nil, form)
	return err
}
