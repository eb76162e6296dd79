// Package topics maps notification categories to Telegram forum-topic
// threads, creating topics lazily and remembering them across restarts.
package topics

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/ARX-SOLUTION/instagram-bridge/internal/telegram"
	logx "github.com/ARX-SOLUTION/instagram-bridge/pkg/logx"
)

// titlePrefix labels every topic the bridge creates.
const titlePrefix = "IG | "

// maxTitleLen is Telegram's forum topic name limit.
const maxTitleLen = 120

// Creator is the one Telegram operation the router needs.
type Creator interface {
	CreateForumTopic(ctx context.Context, name string) (int, error)
}

type Config struct {
	Enabled   bool
	CachePath string
}

// Router resolves a topic key to a thread id.
//
// Cache values: >0 is a live thread; 0 means creation already failed for
// this key, don't try again this run. Once the chat turns out not to be a
// forum (or the bot lacks rights), the forumAvailable flag kills all further
// creation attempts for the process lifetime.
type Router struct {
	mu sync.Mutex

	cfg     Config
	creator Creator
	log     logx.Logger

	cache          map[string]int
	forumAvailable bool
	fallbackLogged bool
}

func NewRouter(cfg Config, creator Creator, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{
		cfg:            cfg,
		creator:        creator,
		log:            log,
		cache:          map[string]int{},
		forumAvailable: true,
	}
	r.loadCache()
	return r
}

// ResolveThread returns the thread id for topicKey, creating the forum topic
// on first use. 0 means "send to the chat's default stream": either topic
// routing is off, the chat has no forum, or creation failed for this key.
func (r *Router) ResolveThread(ctx context.Context, topicKey, topicTitle string) int {
	if topicKey == "" {
		return 0
	}

	r.mu.Lock()
	if !r.cfg.Enabled || !r.forumAvailable {
		r.mu.Unlock()
		return 0
	}
	if id, ok := r.cache[topicKey]; ok {
		r.mu.Unlock()
		return id
	}
	r.mu.Unlock()

	// Creation happens outside the lock; a concurrent resolve for the same
	// fresh key may race to create twice, which costs one spare topic at
	// worst and only on the very first event of a category.
	if topicTitle == "" {
		topicTitle = topicKey
	}
	threadID, err := r.creator.CreateForumTopic(ctx, topicName(topicTitle))

	r.mu.Lock()
	defer r.mu.Unlock()

	if err == nil && threadID > 0 {
		r.cache[topicKey] = threadID
		r.persistLocked()
		r.log.Info("forum topic created", logx.String("key", topicKey), logx.Int("thread_id", threadID))
		return threadID
	}

	if telegram.IsPermanentTopicError(err) {
		r.forumAvailable = false
		if !r.fallbackLogged {
			r.fallbackLogged = true
			r.log.Warn("chat does not support forum topics; falling back to plain chat", logx.Err(err))
		}
		r.cache[topicKey] = 0
		return 0
	}

	r.log.Error("forum topic creation failed", logx.String("key", topicKey), logx.Err(err))
	// Negative-cache so a persistently failing key doesn't hammer the API.
	r.cache[topicKey] = 0
	return 0
}

// ForumAvailable reports whether topic creation is still considered possible.
func (r *Router) ForumAvailable() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.forumAvailable
}

// Flush writes the cache to disk. Resolve already persists after each
// creation; this is the periodic safety save.
func (r *Router) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.persistLocked()
}

func topicName(title string) string {
	name := titlePrefix + title
	if len(name) <= maxTitleLen {
		return name
	}
	// Cut on a rune boundary; a split rune makes the API reject the name.
	cut := maxTitleLen
	for cut > 0 && !utf8.RuneStart(name[cut]) {
		cut--
	}
	return name[:cut]
}

func (r *Router) loadCache() {
	path := strings.TrimSpace(r.cfg.CachePath)
	if path == "" {
		return
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			r.log.Warn("topic cache read failed", logx.String("path", path), logx.Err(err))
		}
		return
	}
	var m map[string]int
	if err := json.Unmarshal(b, &m); err != nil {
		// Corrupt cache is never fatal; topics get recreated.
		r.log.Warn("topic cache malformed; starting empty", logx.String("path", path), logx.Err(err))
		return
	}
	for key, id := range m {
		// Only live threads survive a restart; negative entries are
		// per-process so a transient failure gets another chance.
		if id > 0 {
			r.cache[key] = id
		}
	}
}

// persistLocked rewrites the cache file wholesale (dozens of keys at most).
// Write-tmp-then-rename keeps a crash from leaving a torn file.
func (r *Router) persistLocked() {
	path := strings.TrimSpace(r.cfg.CachePath)
	if path == "" {
		return
	}
	b, err := json.MarshalIndent(r.cache, "", "  ")
	if err != nil {
		r.log.Error("topic cache marshal failed", logx.Err(err))
		return
	}
	if dir := filepath.Dir(path); dir != "." {
		_ = os.MkdirAll(dir, 0o700)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		r.log.Error("topic cache write failed", logx.String("path", tmp), logx.Err(err))
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		r.log.Error("topic cache rename failed", logx.String("path", path), logx.Err(err))
	}
}
