package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	logx "github.com/ARX-SOLUTION/instagram-bridge/pkg/logx"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Config{
		BotToken:   "TEST:TOKEN",
		ChatID:     -100123,
		RetryMax:   3,
		RetryBase:  time.Millisecond,
		RatePerSec: 1000,
		APIURL:     srv.URL,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestSendMessageRetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/sendMessage") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"ok":false,"error_code":502,"description":"Bad Gateway"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":7,"chat":{"id":-100123}}}`))
	}))

	res := c.SendMessage(context.Background(), "hello", SendOptions{ParseMode: "HTML"})
	if !res.OK {
		t.Fatalf("send failed: %s", res.Description)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("server saw %d calls, want 3", got)
	}
	if res.Message == nil || res.Message.ID != 7 {
		t.Fatalf("unexpected message payload: %+v", res.Message)
	}
}

func TestSendMessageExhaustsRetries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":429,"description":"Too Many Requests"}`))
	}))

	res := c.SendMessage(context.Background(), "hello", SendOptions{})
	if res.OK {
		t.Fatalf("send should have failed")
	}
	if res.Description == "" {
		t.Fatalf("failure should carry a description")
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("server saw %d calls, want 3", got)
	}
}

func TestSendMessageMissingConfig(t *testing.T) {
	t.Parallel()

	c, err := New(Config{}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res := c.SendMessage(context.Background(), "hello", SendOptions{})
	if res.OK {
		t.Fatalf("unconfigured client should fail the send")
	}
	if res.Description == "" {
		t.Fatalf("failure should carry a description")
	}
}

func TestSendFile(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/sendPhoto") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":9,"chat":{"id":-100123},"photo":[{"file_id":"f","file_unique_id":"u","width":1,"height":1}]}}`))
	}))

	res := c.SendFile(context.Background(), SendPhoto, []byte("fakejpeg"), "media.jpg", "image/jpeg", FileOptions{Caption: "c"})
	if !res.OK {
		t.Fatalf("send failed: %s", res.Description)
	}
}

func TestCreateForumTopic(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_thread_id":42,"name":"IG | Posts"}}`))
	}))

	id, err := c.CreateForumTopic(context.Background(), "IG | Posts")
	if err != nil {
		t.Fatalf("CreateForumTopic: %v", err)
	}
	if id != 42 {
		t.Fatalf("thread id = %d, want 42", id)
	}
}

func TestCreateForumTopicSurfacesError(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: the chat is not a forum"}`))
	}))

	_, err := c.CreateForumTopic(context.Background(), "IG | Posts")
	if err == nil {
		t.Fatalf("expected an error")
	}
	if !IsPermanentTopicError(err) {
		t.Fatalf("error %q should classify as permanent", err)
	}
}

func TestIsPermanentTopicError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		desc string
		want bool
	}{
		{"Bad Request: the chat is not a forum", true},
		{"Bad Request: not enough rights to manage topics", true},
		{"TOPIC_DELETED", true},
		{"Too Many Requests: retry after 3", false},
		{"connection refused", false},
	}
	for _, tc := range cases {
		err := &apiErr{tc.desc}
		if got := IsPermanentTopicError(err); got != tc.want {
			t.Fatalf("%q: got %v, want %v", tc.desc, got, tc.want)
		}
	}
	if IsPermanentTopicError(nil) {
		t.Fatalf("nil error must not be permanent")
	}
}

type apiErr struct{ msg string }

func (e *apiErr) Error() string { return e.msg }
