package dispatch

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ARX-SOLUTION/instagram-bridge/internal/dedup"
	"github.com/ARX-SOLUTION/instagram-bridge/internal/event"
	"github.com/ARX-SOLUTION/instagram-bridge/internal/instagram"
	"github.com/ARX-SOLUTION/instagram-bridge/internal/telegram"
	logx "github.com/ARX-SOLUTION/instagram-bridge/pkg/logx"
)

type sentMessage struct {
	Text      string
	ThreadID  int
	NoPreview bool
}

type sentFile struct {
	Method   telegram.FileMethod
	Filename string
	ThreadID int
}

type fakeSender struct {
	mu       sync.Mutex
	messages []sentMessage
	files    []sentFile
	fileFail bool
}

func (f *fakeSender) SendMessage(_ context.Context, text string, opt telegram.SendOptions) telegram.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, sentMessage{Text: text, ThreadID: opt.ThreadID, NoPreview: opt.DisableLinkPreview})
	return telegram.Result{OK: true}
}

func (f *fakeSender) SendFile(_ context.Context, method telegram.FileMethod, _ []byte, filename, _ string, opt telegram.FileOptions) telegram.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files = append(f.files, sentFile{Method: method, Filename: filename, ThreadID: opt.ThreadID})
	if f.fileFail {
		return telegram.Result{OK: false, Description: "upload rejected"}
	}
	return telegram.Result{OK: true}
}

type fakeTopics struct {
	mu       sync.Mutex
	resolved []string
	threads  map[string]int
}

func (f *fakeTopics) ResolveThread(_ context.Context, topicKey, _ string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolved = append(f.resolved, topicKey)
	if f.threads == nil {
		return 0
	}
	return f.threads[topicKey]
}

type fakeGraph struct {
	mu      sync.Mutex
	users   map[string]*instagram.UserInfo
	media   map[string]*instagram.MediaInfo
	replies []string
	data    []byte
	ctype   string
	dlErr   error
}

func (f *fakeGraph) GetUserInfo(_ context.Context, userID string) (*instagram.UserInfo, error) {
	return f.users[userID], nil
}

func (f *fakeGraph) GetMediaInfo(_ context.Context, mediaID string) (*instagram.MediaInfo, error) {
	return f.media[mediaID], nil
}

func (f *fakeGraph) Download(_ context.Context, _ string) ([]byte, string, error) {
	if f.dlErr != nil {
		return nil, "", f.dlErr
	}
	return f.data, f.ctype, nil
}

func (f *fakeGraph) SendDirectReply(_ context.Context, recipientID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, recipientID)
	return nil
}

func mustPayload(t *testing.T, raw string) *event.Payload {
	t.Helper()
	var p event.Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	return &p
}

type harness struct {
	disp   *Dispatcher
	sender *fakeSender
	topics *fakeTopics
	graph  *fakeGraph
	cache  *dedup.Cache
}

func newHarness(cfg Config) *harness {
	sender := &fakeSender{}
	top := &fakeTopics{}
	graph := &fakeGraph{
		users: map[string]*instagram.UserInfo{},
		media: map[string]*instagram.MediaInfo{},
	}
	cache := dedup.New(time.Minute, 100)
	return &harness{
		disp:   New(cfg, cache, sender, top, graph, nil, nil, logx.Nop()),
		sender: sender,
		topics: top,
		graph:  graph,
		cache:  cache,
	}
}

const dmPayload = `{"object":"instagram","entry":[{"id":"P1","messaging":[{"sender":{"id":"U1"},"message":{"mid":"M1","text":"Hello"}}]}]}`

func TestDMMessageForwardedWithAutoReply(t *testing.T) {
	t.Parallel()

	h := newHarness(Config{OwnIGUserID: "SELF", AutoReply: "thanks"})
	h.graph.users["U1"] = &instagram.UserInfo{Name: "Alice", Username: "alice"}

	h.disp.Process(context.Background(), mustPayload(t, dmPayload))

	if len(h.sender.messages) != 1 {
		t.Fatalf("sent %d messages, want 1", len(h.sender.messages))
	}
	msg := h.sender.messages[0].Text
	if !strings.Contains(msg, "Hello") {
		t.Fatalf("message %q should contain the DM text", msg)
	}
	if !strings.Contains(msg, "alice") {
		t.Fatalf("message %q should reference the sender", msg)
	}
	if len(h.graph.replies) != 1 || h.graph.replies[0] != "U1" {
		t.Fatalf("auto-replies = %v, want [U1]", h.graph.replies)
	}
}

func TestDuplicatePayloadForwardedOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(Config{OwnIGUserID: "SELF", AutoReply: "thanks"})
	ctx := context.Background()

	h.disp.Process(ctx, mustPayload(t, dmPayload))
	h.disp.Process(ctx, mustPayload(t, dmPayload))

	if len(h.sender.messages) != 1 {
		t.Fatalf("sent %d messages, want 1 (redelivery must dedup)", len(h.sender.messages))
	}
	if len(h.graph.replies) != 1 {
		t.Fatalf("sent %d auto-replies, want 1", len(h.graph.replies))
	}
}

func TestStoryRoutedToStoryTopic(t *testing.T) {
	t.Parallel()

	h := newHarness(Config{})
	h.graph.media["77"] = &instagram.MediaInfo{
		MediaType: "STORY",
		Username:  "brand",
		Permalink: "https://instagram.com/p/x",
	}
	h.topics.threads = map[string]int{"story": 5}

	payload := `{"object":"instagram","entry":[{"id":"P1","changes":[{"field":"media","value":{"media_id":"77"}}]}]}`
	h.disp.Process(context.Background(), mustPayload(t, payload))

	if len(h.sender.messages) != 1 {
		t.Fatalf("sent %d messages, want 1", len(h.sender.messages))
	}
	if got := h.sender.messages[0]; got.ThreadID != 5 || !strings.Contains(got.Text, "Yangi Story (Instagram)") {
		t.Fatalf("message = %+v, want story title in thread 5", got)
	}
	if !h.sender.messages[0].NoPreview {
		t.Fatalf("permalink notifications must disable link previews")
	}
	for _, key := range h.topics.resolved {
		if key == "posts" {
			t.Fatalf("story must not touch the posts topic")
		}
	}
}

func TestPostRoutedToPostsTopicWithMedia(t *testing.T) {
	t.Parallel()

	h := newHarness(Config{})
	h.graph.media["88"] = &instagram.MediaInfo{
		MediaType: "IMAGE",
		Username:  "brand",
		Caption:   "new drop",
		MediaURL:  "https://cdn/img",
	}
	h.graph.data = []byte("jpegbytes")
	h.graph.ctype = "image/jpeg"

	payload := `{"object":"instagram","entry":[{"id":"P1","changes":[{"field":"media","value":{"media_id":"88"}}]}]}`
	h.disp.Process(context.Background(), mustPayload(t, payload))

	if len(h.sender.messages) != 1 || !strings.Contains(h.sender.messages[0].Text, "Yangi Post (Instagram)") {
		t.Fatalf("messages = %+v, want one post notification", h.sender.messages)
	}
	if len(h.sender.files) != 1 || h.sender.files[0].Method != telegram.SendPhoto {
		t.Fatalf("files = %+v, want one sendPhoto", h.sender.files)
	}
	if h.sender.files[0].Filename != "media.jpeg" {
		t.Fatalf("filename = %q, want media.jpeg", h.sender.files[0].Filename)
	}
}

func TestReadReceiptIgnoredButRecorded(t *testing.T) {
	t.Parallel()

	h := newHarness(Config{})
	payload := `{"object":"instagram","entry":[{"id":"P1","messaging":[{"sender":{"id":"U1"},"read":{"watermark":123}}]}]}`
	ctx := context.Background()

	h.disp.Process(ctx, mustPayload(t, payload))
	if len(h.sender.messages) != 0 {
		t.Fatalf("read receipt must not produce messages, got %+v", h.sender.messages)
	}
	if h.cache.Len() != 1 {
		t.Fatalf("dedup size = %d, want 1 (key recorded despite ignore)", h.cache.Len())
	}
	if !h.cache.Seen("dm:read:U1:123") {
		t.Fatalf("expected key dm:read:U1:123 to be recorded")
	}

	// Redelivered receipt stays silent and doesn't grow the cache.
	h.disp.Process(ctx, mustPayload(t, payload))
	if len(h.sender.messages) != 0 || h.cache.Len() != 1 {
		t.Fatalf("redelivered receipt changed state: msgs=%d size=%d", len(h.sender.messages), h.cache.Len())
	}
}

func TestOwnEchoSkipped(t *testing.T) {
	t.Parallel()

	h := newHarness(Config{OwnIGUserID: "SELF"})
	payload := `{"object":"instagram","entry":[{"id":"P1","messaging":[{"sender":{"id":"SELF"},"message":{"mid":"M9","text":"me"}}]}]}`

	h.disp.Process(context.Background(), mustPayload(t, payload))
	if len(h.sender.messages) != 0 {
		t.Fatalf("own messages must be skipped, got %+v", h.sender.messages)
	}
}

func TestEmptyDMSkipped(t *testing.T) {
	t.Parallel()

	h := newHarness(Config{AutoReply: "thanks"})
	payload := `{"object":"instagram","entry":[{"id":"P1","messaging":[{"sender":{"id":"U1"},"message":{"mid":"M1"}}]}]}`

	h.disp.Process(context.Background(), mustPayload(t, payload))
	if len(h.sender.messages) != 0 {
		t.Fatalf("DM without text or attachments must be skipped")
	}
	if len(h.graph.replies) != 0 {
		t.Fatalf("skipped DM must not trigger an auto-reply")
	}
}

func TestNoEntryPayloadDiagnostic(t *testing.T) {
	t.Parallel()

	h := newHarness(Config{})
	h.disp.Process(context.Background(), mustPayload(t, `{"object":"instagram"}`))

	if len(h.sender.messages) != 1 {
		t.Fatalf("sent %d messages, want 1 diagnostic", len(h.sender.messages))
	}
	if !strings.Contains(h.sender.messages[0].Text, "entry.unknown") {
		t.Fatalf("diagnostic %q should carry entry.unknown", h.sender.messages[0].Text)
	}
}

func TestEmptyEntryListSkipped(t *testing.T) {
	t.Parallel()

	h := newHarness(Config{})
	ctx := context.Background()
	payload := `{"object":"instagram","entry":[]}`

	h.disp.Process(ctx, mustPayload(t, payload))
	h.disp.Process(ctx, mustPayload(t, payload))

	if len(h.sender.messages) != 0 {
		t.Fatalf("empty entry list must stay silent, got %+v", h.sender.messages)
	}
}

func TestRawPayloadDiagnostic(t *testing.T) {
	t.Parallel()

	h := newHarness(Config{})
	h.disp.ProcessRaw(context.Background(), []byte(`{"object":"instagram","entry":"weird"}`))

	if len(h.sender.messages) != 1 {
		t.Fatalf("sent %d messages, want 1 diagnostic", len(h.sender.messages))
	}
	msg := h.sender.messages[0].Text
	if !strings.Contains(msg, "entry.unknown") || !strings.Contains(msg, "weird") {
		t.Fatalf("diagnostic %q should carry entry.unknown and the raw payload", msg)
	}
}

func TestCommentChangeNotification(t *testing.T) {
	t.Parallel()

	h := newHarness(Config{})
	payload := `{"object":"instagram","entry":[{"id":"P1","changes":[{"field":"comments","value":{"comment_id":"C1","from":{"id":"U2","username":"bob"},"text":"nice"}}]}]}`

	h.disp.Process(context.Background(), mustPayload(t, payload))
	if len(h.sender.messages) != 1 {
		t.Fatalf("sent %d messages, want 1", len(h.sender.messages))
	}
	msg := h.sender.messages[0].Text
	if !strings.Contains(msg, "Yangi bildirishnoma (Instagram)") || !strings.Contains(msg, "bob") || !strings.Contains(msg, "nice") {
		t.Fatalf("unexpected comment notification: %q", msg)
	}
}

func TestAttachmentFallsBackToDocumentThenLink(t *testing.T) {
	t.Parallel()

	h := newHarness(Config{})
	h.graph.users["U1"] = &instagram.UserInfo{Name: "Alice", Username: "alice"}
	h.graph.data = []byte("payload")
	h.graph.ctype = "image/png"
	h.sender.fileFail = true

	payload := `{"object":"instagram","entry":[{"id":"P1","messaging":[{"sender":{"id":"U1"},"message":{"mid":"M1","attachments":[{"type":"image","payload":{"url":"https://cdn/file"}}]}}]}]}`
	h.disp.Process(context.Background(), mustPayload(t, payload))

	if len(h.sender.files) != 2 {
		t.Fatalf("file attempts = %d, want 2 (photo then document)", len(h.sender.files))
	}
	if h.sender.files[0].Method != telegram.SendPhoto || h.sender.files[1].Method != telegram.SendDocument {
		t.Fatalf("methods = %+v, want sendPhoto then sendDocument", h.sender.files)
	}
	// Both uploads failed: a link-only fallback message goes out.
	last := h.sender.messages[len(h.sender.messages)-1].Text
	if !strings.Contains(last, "https://cdn/file") {
		t.Fatalf("fallback %q should carry the attachment URL", last)
	}
}

func TestShareAttachmentLinkOnly(t *testing.T) {
	t.Parallel()

	h := newHarness(Config{})
	h.graph.users["U1"] = &instagram.UserInfo{Username: "alice"}

	payload := `{"object":"instagram","entry":[{"id":"P1","messaging":[{"sender":{"id":"U1"},"message":{"mid":"M1","attachments":[{"type":"share","payload":{"url":"https://instagram.com/p/xyz","title":"A post"}}]}}]}]}`
	h.disp.Process(context.Background(), mustPayload(t, payload))

	if len(h.sender.files) != 0 {
		t.Fatalf("share attachments must not upload files")
	}
	if len(h.sender.messages) != 1 {
		t.Fatalf("sent %d messages, want 1", len(h.sender.messages))
	}
	msg := h.sender.messages[0].Text
	if !strings.Contains(msg, "instagram.com/p/xyz") || !strings.Contains(msg, "A post") {
		t.Fatalf("share message %q missing url or title", msg)
	}
}

func TestReactionNotification(t *testing.T) {
	t.Parallel()

	h := newHarness(Config{})
	h.graph.users["U1"] = &instagram.UserInfo{Username: "alice"}

	payload := `{"object":"instagram","entry":[{"id":"P1","messaging":[{"sender":{"id":"U1"},"reaction":{"mid":"M1","action":"react","reaction":"❤️"}}]}]}`
	h.disp.Process(context.Background(), mustPayload(t, payload))

	if len(h.sender.messages) != 1 {
		t.Fatalf("sent %d messages, want 1", len(h.sender.messages))
	}
	msg := h.sender.messages[0].Text
	if !strings.Contains(msg, "Reaction") || !strings.Contains(msg, "❤️") || !strings.Contains(msg, "alice") {
		t.Fatalf("unexpected reaction message: %q", msg)
	}
}
