package httpapi

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ARX-SOLUTION/instagram-bridge/internal/event"
	logx "github.com/ARX-SOLUTION/instagram-bridge/pkg/logx"
)

const (
	signatureHeader = "X-Hub-Signature-256"
	signaturePrefix = "sha256="

	// bodyMax bounds webhook payload size; Meta payloads are tiny.
	bodyMax = 2 << 20

	// processTimeout bounds one payload's background processing.
	processTimeout = 5 * time.Minute
)

// Processor consumes a validated payload in the background. ProcessRaw takes
// bodies that failed to decode into the payload shape.
type Processor interface {
	Process(ctx context.Context, p *event.Payload)
	ProcessRaw(ctx context.Context, body []byte)
}

// WebhookHandler implements the Meta webhook endpoints. POSTs are
// acknowledged immediately after signature validation; processing failures
// are invisible to Meta so its rapid at-least-once retries don't fire on
// slow handling.
type WebhookHandler struct {
	verifyToken string
	appSecret   string
	proc        Processor
	log         logx.Logger

	warnNoSecret sync.Once
	wg           sync.WaitGroup
}

func NewWebhookHandler(verifyToken, appSecret string, proc Processor, log logx.Logger) *WebhookHandler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &WebhookHandler{
		verifyToken: verifyToken,
		appSecret:   appSecret,
		proc:        proc,
		log:         log,
	}
}

// HandleVerify answers the subscription handshake.
func (h *WebhookHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if mode == "subscribe" && token == h.verifyToken && h.verifyToken != "" {
		h.log.Info("webhook verification ok")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(challenge))
		return
	}

	h.log.Warn("webhook verification failed", logx.String("mode", mode))
	http.Error(w, "Invalid verify token", http.StatusBadRequest)
}

// HandleEvent validates the signature, acks with 200, and processes the
// payload in the background.
func (h *WebhookHandler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, bodyMax))
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}

	if !h.validSignature(body, r.Header.Get(signatureHeader)) {
		h.log.Warn("webhook signature invalid",
			logx.String("remote", r.RemoteAddr),
			logx.Int("body_len", len(body)))
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	// Ack before processing so Meta never observes our latency.
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("EVENT_RECEIVED"))

	p := new(event.Payload)
	if err := json.Unmarshal(body, p); err != nil {
		// Unexpected shapes still reach Telegram as a diagnostic.
		h.log.Warn("webhook payload unparseable", logx.Err(err))
		p = nil
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				h.log.Error("webhook processing panic", logx.Any("panic", rec))
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
		defer cancel()
		if p == nil {
			h.proc.ProcessRaw(ctx, body)
			return
		}
		h.proc.Process(ctx, p)
	}()
}

// Drain waits for in-flight background processing; used on shutdown.
func (h *WebhookHandler) Drain() { h.wg.Wait() }

func (h *WebhookHandler) validSignature(body []byte, header string) bool {
	if h.appSecret == "" {
		h.warnNoSecret.Do(func() {
			h.log.Warn("app secret not configured; accepting unsigned webhooks")
		})
		return true
	}
	if !strings.HasPrefix(header, signaturePrefix) {
		return false
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, signaturePrefix))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.appSecret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
