// Package instagram is a thin Graph API client: profile and media lookups,
// media downloads, and best-effort direct replies.
package instagram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	logx "github.com/ARX-SOLUTION/instagram-bridge/pkg/logx"
)

const (
	graphFacebookBase  = "https://graph.facebook.com/v21.0"
	graphInstagramBase = "https://graph.instagram.com/v21.0"

	// downloadMax caps media downloads; Telegram rejects bigger uploads anyway.
	downloadMax = 50 << 20
)

type Config struct {
	AccessToken string
	IGUserID    string
	AutoReply   string

	// HTTPTimeout bounds every Graph call; 0 means 30s.
	HTTPTimeout time.Duration

	// BaseURLs overrides the Graph hosts, first entry tried first.
	// Empty means the real facebook/instagram pair. Tests point this at a
	// local server.
	BaseURLs []string
}

// UserInfo is the subset of a profile the bridge displays.
type UserInfo struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

// MediaInfo describes a media object enough to forward it.
type MediaInfo struct {
	ID           string `json:"id"`
	MediaType    string `json:"media_type"`
	MediaURL     string `json:"media_url"`
	ThumbnailURL string `json:"thumbnail_url"`
	Permalink    string `json:"permalink"`
	Caption      string `json:"caption"`
	Username     string `json:"username"`
	Timestamp    string `json:"timestamp"`
}

type Client struct {
	cfg  Config
	hc   *http.Client
	log  logx.Logger
	once sync.Once // missing-token warning
}

func NewClient(cfg Config, log logx.Logger) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg: cfg,
		hc:  &http.Client{Timeout: timeout},
		log: log,
	}
}

// OwnUserID returns the bridge's own Instagram account id ("" if unset).
func (c *Client) OwnUserID() string { return c.cfg.IGUserID }

// AutoReply returns the configured auto-reply text ("" disables it).
func (c *Client) AutoReply() string { return c.cfg.AutoReply }

func (c *Client) bases() []string {
	if len(c.cfg.BaseURLs) > 0 {
		return c.cfg.BaseURLs
	}
	return []string{graphFacebookBase, graphInstagramBase}
}

// instagramBase is the graph.instagram.com host (or the last test override).
// Profile lookups and DM replies only ever work there.
func (c *Client) instagramBase() string {
	b := c.bases()
	return b[len(b)-1]
}

func (c *Client) tokenOK() bool {
	if strings.TrimSpace(c.cfg.AccessToken) != "" {
		return true
	}
	c.once.Do(func() {
		c.log.Warn("instagram access token missing; profile/media lookups disabled")
	})
	return false
}

// GetUserInfo looks up a profile by id. Returns nil (no error) when the
// access token is missing, so callers fall back to the bare sender id.
func (c *Client) GetUserInfo(ctx context.Context, userID string) (*UserInfo, error) {
	if userID == "" {
		return nil, fmt.Errorf("instagram: empty user id")
	}
	if !c.tokenOK() {
		return nil, nil
	}
	var info UserInfo
	if err := c.getObject(ctx, []string{c.instagramBase()}, userID, "username,name", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetMediaInfo looks up a media object by id. Tries graph.facebook.com first
// and graph.instagram.com second; the working host depends on how the account
// token was issued.
func (c *Client) GetMediaInfo(ctx context.Context, mediaID string) (*MediaInfo, error) {
	if mediaID == "" {
		return nil, fmt.Errorf("instagram: empty media id")
	}
	if !c.tokenOK() {
		return nil, nil
	}
	var info MediaInfo
	fields := "id,media_type,media_url,thumbnail_url,permalink,caption,username,timestamp"
	if err := c.getObject(ctx, c.bases(), mediaID, fields, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) getObject(ctx context.Context, bases []string, id, fields string, out any) error {
	q := url.Values{}
	q.Set("fields", fields)
	q.Set("access_token", c.cfg.AccessToken)

	var lastErr error
	for _, base := range bases {
		u := base + "/" + url.PathEscape(id) + "?" + q.Encode()
		if err := c.getJSON(ctx, u, out); err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return err
			}
			continue
		}
		return nil
	}
	return fmt.Errorf("instagram: lookup %s: %w", id, lastErr)
}

func (c *Client) getJSON(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("graph api status %d: %s", resp.StatusCode, graphErrorMessage(body))
	}
	return json.Unmarshal(body, out)
}

// graphErrorMessage digs the human message out of a Graph error envelope.
func graphErrorMessage(body []byte) string {
	var env struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    int    `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err == nil && env.Error.Message != "" {
		return env.Error.Message
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

// Download fetches media bytes from a CDN url. The access token rides along
// as a Bearer header when present; public CDN urls ignore it.
func (c *Client) Download(ctx context.Context, mediaURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, "", err
	}
	if tok := strings.TrimSpace(c.cfg.AccessToken); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("media download status %d", resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, downloadMax))
	if err != nil {
		return nil, "", err
	}
	return b, resp.Header.Get("Content-Type"), nil
}

// SendDirectReply sends a DM back to a sender. Best-effort: the caller only
// logs failures, a broken reply never blocks forwarding.
func (c *Client) SendDirectReply(ctx context.Context, recipientID, text string) error {
	if recipientID == "" || strings.TrimSpace(text) == "" {
		return nil
	}
	if !c.tokenOK() {
		return nil
	}

	payload := map[string]any{
		"recipient": map[string]string{"id": recipientID},
		"message":   map[string]string{"text": text},
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	u := c.instagramBase() + "/me/messages?access_token=" + url.QueryEscape(c.cfg.AccessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return fmt.Errorf("direct reply status %d: %s", resp.StatusCode, graphErrorMessage(body))
	}
	return nil
}
