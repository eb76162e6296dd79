// Package telegram owns outbound delivery to the Telegram Bot API:
// bounded retry with backoff, a token-bucket rate limit, and a Result
// envelope so expected failures never panic through the pipeline.
package telegram

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"golang.org/x/time/rate"

	logx "github.com/ARX-SOLUTION/instagram-bridge/pkg/logx"
)

type Config struct {
	BotToken string
	ChatID   int64

	// RetryMax is the total number of attempts per send (default 3).
	RetryMax int
	// RetryBase scales the linear backoff: delay before attempt n+1 is n×RetryBase.
	RetryBase time.Duration

	RatePerSec  int
	SendTimeout time.Duration

	// APIURL overrides the Bot API endpoint (tests).
	APIURL string
}

// Result is the outcome of one delivery call. Expected failure modes
// (missing config, HTTP error, API rejection) land here instead of in an
// error return, so callers can fall back without unwinding a dispatch.
type Result struct {
	OK          bool
	Description string

	// Message is the opaque success payload for message sends.
	Message *tele.Message
}

func failure(desc string) Result { return Result{OK: false, Description: desc} }

// FileMethod selects the Bot API method used for a file upload.
type FileMethod string

const (
	SendPhoto    FileMethod = "sendPhoto"
	SendVideo    FileMethod = "sendVideo"
	SendVoice    FileMethod = "sendVoice"
	SendDocument FileMethod = "sendDocument"
)

type SendOptions struct {
	ThreadID           int
	ParseMode          string
	DisableLinkPreview bool
}

type FileOptions struct {
	ThreadID  int
	Caption   string
	ParseMode string
	Streaming bool
}

// Client wraps a telebot Bot with the delivery policy. The zero config
// (missing token or chat id) degrades to failed Results with a one-time
// warning; it never blocks or aborts the caller.
type Client struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	chat    *tele.Chat
	limiter *rate.Limiter

	warnOnce sync.Once
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 25
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	c := &Client{
		cfg:     cfg,
		log:     log,
		chat:    &tele.Chat{ID: cfg.ChatID},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}

	if strings.TrimSpace(cfg.BotToken) != "" {
		// Offline keeps construction network-free; misconfiguration surfaces
		// as failed sends, not a crashed process.
		b, err := tele.NewBot(tele.Settings{
			Token:   cfg.BotToken,
			URL:     cfg.APIURL,
			Offline: true,
			Client:  &http.Client{Timeout: cfg.SendTimeout},
		})
		if err != nil {
			return nil, err
		}
		c.bot = b
	}
	return c, nil
}

func (c *Client) configured() bool {
	return c.bot != nil && c.cfg.ChatID != 0
}

func (c *Client) warnMissingConfig() {
	c.warnOnce.Do(func() {
		c.log.Warn("telegram bot token or chat id missing; deliveries disabled")
	})
}

// SendMessage delivers an HTML (or plain) text message to the group chat,
// optionally into a forum topic thread.
func (c *Client) SendMessage(ctx context.Context, text string, opt SendOptions) Result {
	if !c.configured() {
		c.warnMissingConfig()
		return failure("telegram config missing")
	}
	sendOpt := &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisableLinkPreview,
		ThreadID:              opt.ThreadID,
	}
	return c.withRetry(ctx, "sendMessage", func() (*tele.Message, error) {
		return c.bot.Send(c.chat, text, sendOpt)
	})
}

// SendFile uploads bytes with the given method (photo/video/voice/document).
func (c *Client) SendFile(ctx context.Context, method FileMethod, data []byte, filename, contentType string, opt FileOptions) Result {
	if !c.configured() {
		c.warnMissingConfig()
		return failure("telegram config missing")
	}
	_ = contentType // telebot sniffs the part type from the payload

	sendOpt := &tele.SendOptions{ParseMode: opt.ParseMode, ThreadID: opt.ThreadID}
	return c.withRetry(ctx, string(method), func() (*tele.Message, error) {
		return c.bot.Send(c.chat, fileSendable(method, data, filename, opt), sendOpt)
	})
}

func fileSendable(method FileMethod, data []byte, filename string, opt FileOptions) tele.Sendable {
	file := tele.FromReader(bytes.NewReader(data))
	switch method {
	case SendPhoto:
		return &tele.Photo{File: file, Caption: opt.Caption}
	case SendVideo:
		return &tele.Video{File: file, Caption: opt.Caption, FileName: filename, Streaming: opt.Streaming}
	case SendVoice:
		return &tele.Voice{File: file, Caption: opt.Caption}
	default:
		return &tele.Document{File: file, Caption: opt.Caption, FileName: filename}
	}
}

// CreateForumTopic creates a forum topic and returns its thread id. Unlike
// the send paths this surfaces the error: the topic router needs the API
// description to classify permanent failures.
func (c *Client) CreateForumTopic(ctx context.Context, name string) (int, error) {
	if !c.configured() {
		c.warnMissingConfig()
		return 0, errMissingConfig
	}
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	topic, err := c.bot.CreateTopic(c.chat, &tele.Topic{Name: name})
	if err != nil {
		return 0, err
	}
	return topic.ThreadID, nil
}

// withRetry runs send up to RetryMax times with a linear backoff
// (attempt × RetryBase). Every error is treated as retryable; exhaustion is
// reported as a failed Result, never an error.
func (c *Client) withRetry(ctx context.Context, method string, send func() (*tele.Message, error)) Result {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.RetryMax; attempt++ {
		if err := c.wait(ctx); err != nil {
			return failure(err.Error())
		}
		msg, err := send()
		if err == nil {
			return Result{OK: true, Message: msg}
		}
		lastErr = err
		c.log.Debug("telegram send failed",
			logx.String("method", method),
			logx.Int("attempt", attempt),
			logx.Int("max", c.cfg.RetryMax),
			logx.Err(err),
		)
		if attempt == c.cfg.RetryMax {
			break
		}
		if err := c.sleep(ctx, time.Duration(attempt)*c.cfg.RetryBase); err != nil {
			return failure(err.Error())
		}
	}
	c.log.Error("telegram send exhausted retries", logx.String("method", method), logx.Err(lastErr))
	return failure(lastErr.Error())
}

func (c *Client) wait(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return c.limiter.Wait(ctx)
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
