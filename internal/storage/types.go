package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl + snapshot)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// ForwardedPost records one media post/story already relayed to Telegram.
// Keep it compact and schema-stable.
type ForwardedPost struct {
	MediaID     string
	MediaType   string
	Username    string
	Caption     string
	Permalink   string
	TopicKey    string
	ForwardedAt time.Time
}
