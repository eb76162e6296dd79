package config

type Config struct {
	// ListenAddr is the webhook HTTP listen address (default ":3000").
	ListenAddr string `json:"listen_addr,omitempty"`

	Instagram InstagramConfig `json:"instagram"`
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
}

type InstagramConfig struct {
	// VerifyToken answers the Graph API subscription handshake.
	VerifyToken string `json:"verify_token"`
	// AppSecret signs webhook payloads. Empty disables signature checks.
	AppSecret   string `json:"app_secret,omitempty"`
	AccessToken string `json:"access_token,omitempty"`
	// IGUserID is the bridge's own Instagram account id; DMs echoed from it
	// are skipped.
	IGUserID string `json:"ig_user_id,omitempty"`
	// AutoReply, when set, is sent back to DM senders best-effort.
	AutoReply string `json:"auto_reply,omitempty"`
}

type TelegramConfig struct {
	BotToken string `json:"bot_token"`
	ChatID   int64  `json:"chat_id"`

	// EnableTopics routes notifications into forum topics when the chat
	// supports them.
	EnableTopics   bool   `json:"enable_topics"`
	TopicCachePath string `json:"topic_cache_path,omitempty"`

	RatePerSec int `json:"rate_per_sec,omitempty"`
	RetryMax   int `json:"retry_max,omitempty"`
	// RetryBase is a Go duration string (e.g. "1s"); attempt n waits n*base.
	RetryBase string `json:"retry_base,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./bridge_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}
