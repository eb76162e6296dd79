// Package dispatch orchestrates a webhook payload end to end: classify,
// deduplicate, enrich via the Graph API, format, route to a forum topic and
// deliver to Telegram.
package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ARX-SOLUTION/instagram-bridge/internal/dedup"
	"github.com/ARX-SOLUTION/instagram-bridge/internal/event"
	"github.com/ARX-SOLUTION/instagram-bridge/internal/eventbus"
	"github.com/ARX-SOLUTION/instagram-bridge/internal/instagram"
	"github.com/ARX-SOLUTION/instagram-bridge/internal/storage"
	"github.com/ARX-SOLUTION/instagram-bridge/internal/telegram"
	logx "github.com/ARX-SOLUTION/instagram-bridge/pkg/logx"
	"github.com/ARX-SOLUTION/instagram-bridge/pkg/tgui"
)

// Sender is the Telegram surface the dispatcher needs.
type Sender interface {
	SendMessage(ctx context.Context, text string, opt telegram.SendOptions) telegram.Result
	SendFile(ctx context.Context, method telegram.FileMethod, data []byte, filename, contentType string, opt telegram.FileOptions) telegram.Result
}

// Topics resolves a notification category to a forum thread id (0 = none).
type Topics interface {
	ResolveThread(ctx context.Context, topicKey, topicTitle string) int
}

// Graph is the Instagram enrichment surface. All lookups are best-effort and
// may return (nil, nil).
type Graph interface {
	GetUserInfo(ctx context.Context, userID string) (*instagram.UserInfo, error)
	GetMediaInfo(ctx context.Context, mediaID string) (*instagram.MediaInfo, error)
	Download(ctx context.Context, url string) ([]byte, string, error)
	SendDirectReply(ctx context.Context, recipientID, text string) error
}

type Config struct {
	// OwnIGUserID is the bridge's own Instagram account id; DMs from it are
	// skipped so echoed sends don't loop back as notifications.
	OwnIGUserID string
	// AutoReply, when non-empty, is sent back to every new DM sender.
	AutoReply string
}

type Dispatcher struct {
	cfg    Config
	dedup  *dedup.Cache
	tg     Sender
	topics Topics
	graph  Graph
	store  storage.Store // nil when persistence is disabled
	bus    eventbus.Bus  // nil tolerated
	log    logx.Logger
}

func New(cfg Config, cache *dedup.Cache, tg Sender, topics Topics, graph Graph, store storage.Store, bus eventbus.Bus, log logx.Logger) *Dispatcher {
	if cache == nil {
		cache = dedup.New(0, 0)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		cfg:    cfg,
		dedup:  cache,
		tg:     tg,
		topics: topics,
		graph:  graph,
		store:  store,
		bus:    bus,
		log:    log,
	}
}

// Process handles one parsed webhook payload. It never returns an error:
// delivery failures are logged and published to the bus, the webhook caller
// already got its 200.
func (d *Dispatcher) Process(ctx context.Context, p *event.Payload) {
	if p == nil || p.Entry == nil {
		d.send(ctx, diagnosticMessage("Instagram Event", event.TypeEntryUnknown.String(), p),
			event.TypeEntryUnknown.String(), event.TypeEntryUnknown.String(), event.TypeEntryUnknown.String())
		return
	}
	if len(p.Entry) == 0 {
		// Meta redelivers; an empty entry list carries nothing worth a
		// diagnostic on every redelivery.
		d.log.Debug("payload with empty entry list skipped")
		return
	}

	for i := range p.Entry {
		entry := &p.Entry[i]

		if len(entry.Changes) == 0 && len(entry.Messaging) == 0 {
			key := event.EntryKey(entry)
			if d.duplicate(ctx, key, event.TypeEntryUnknown.String()) {
				continue
			}
			d.dedup.Cleanup()
			d.send(ctx, diagnosticMessage("Instagram Entry Event", event.TypeEntryUnknown.String(), entry),
				event.TypeEntryUnknown.String(), event.TypeEntryUnknown.String(), event.TypeEntryUnknown.String())
			continue
		}

		for j := range entry.Changes {
			d.processChange(ctx, &entry.Changes[j])
		}
		for j := range entry.Messaging {
			d.processMessaging(ctx, &entry.Messaging[j])
		}
	}
}

// ProcessRaw handles a webhook body that did not decode into the expected
// payload shape (entry not a list, wrong nesting). The raw JSON goes out as a
// diagnostic instead of vanishing into a log line.
func (d *Dispatcher) ProcessRaw(ctx context.Context, body []byte) {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		v = string(body)
	}
	d.send(ctx, diagnosticMessage("Instagram Event", event.TypeEntryUnknown.String(), v),
		event.TypeEntryUnknown.String(), event.TypeEntryUnknown.String(), event.TypeEntryUnknown.String())
}

// duplicate does the check-and-insert against the in-memory cache and, when a
// store is configured, against the persisted window that survives restarts.
func (d *Dispatcher) duplicate(ctx context.Context, key, eventType string) bool {
	if key == "" {
		return false
	}
	if d.dedup.Seen(key) {
		d.publish(eventbus.TypeEventDeduped, map[string]string{"key": key, "type": eventType})
		return true
	}
	if d.store == nil {
		return false
	}
	if until, ok, err := d.store.GetDedup(ctx, key); err == nil && ok && time.Now().Before(until) {
		d.publish(eventbus.TypeEventDeduped, map[string]string{"key": key, "type": eventType, "source": "store"})
		return true
	}
	if err := d.store.PutDedup(ctx, key, time.Now().Add(d.dedup.TTL())); err != nil {
		d.log.Debug("dedup persist failed", logx.String("key", key), logx.Err(err))
	}
	return false
}

func (d *Dispatcher) publish(typ string, data any) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(eventbus.Event{Type: typ, Data: data})
}

// send delivers a formatted HTML message to the group, routed to the topic
// for topicKey.
func (d *Dispatcher) send(ctx context.Context, text tgui.H, topicKey, topicTitle, eventType string) {
	threadID := 0
	if d.topics != nil {
		threadID = d.topics.ResolveThread(ctx, topicKey, topicTitle)
	}
	res := d.tg.SendMessage(ctx, text.String(), telegram.SendOptions{
		ThreadID:           threadID,
		ParseMode:          "HTML",
		DisableLinkPreview: true,
	})
	if !res.OK {
		d.log.Error("telegram delivery failed",
			logx.String("type", eventType),
			logx.String("topic", topicKey),
			logx.String("reason", res.Description))
		d.publish(eventbus.TypeDeliveryFailed, map[string]string{"type": eventType, "reason": res.Description})
		return
	}
	d.publish(eventbus.TypeEventForwarded, map[string]string{"type": eventType, "topic": topicKey})
}

// diagnosticMessage formats an unrecognized payload as a JSON dump.
func diagnosticMessage(header, typ string, v any) tgui.H {
	return tgui.B(header) +
		tgui.Raw("\nTuri: ") + tgui.Code(typ) +
		tgui.Raw("\n\n") + tgui.Pre(tgui.ShortJSON(v, 3000))
}
