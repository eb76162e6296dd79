package instagram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	logx "github.com/ARX-SOLUTION/instagram-bridge/pkg/logx"
)

func TestGetUserInfo(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/U1" {
			t.Errorf("path = %q, want /U1", r.URL.Path)
		}
		if r.URL.Query().Get("access_token") != "tok" {
			t.Errorf("missing access token")
		}
		_ = json.NewEncoder(w).Encode(UserInfo{ID: "U1", Username: "alice", Name: "Alice"})
	}))
	defer srv.Close()

	c := NewClient(Config{AccessToken: "tok", BaseURLs: []string{srv.URL}}, logx.Nop())
	info, err := c.GetUserInfo(context.Background(), "U1")
	if err != nil {
		t.Fatalf("GetUserInfo: %v", err)
	}
	if info.Username != "alice" || info.Name != "Alice" {
		t.Fatalf("info = %+v", info)
	}
}

func TestGetUserInfoNoToken(t *testing.T) {
	t.Parallel()

	c := NewClient(Config{}, logx.Nop())
	info, err := c.GetUserInfo(context.Background(), "U1")
	if err != nil {
		t.Fatalf("missing token must not error, got %v", err)
	}
	if info != nil {
		t.Fatalf("missing token should return nil info")
	}
}

func TestGetUserInfoSkipsFacebookHost(t *testing.T) {
	t.Parallel()

	var wrongHost atomic.Int32
	facebook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrongHost.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer facebook.Close()
	ig := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(UserInfo{ID: "U1", Username: "alice"})
	}))
	defer ig.Close()

	c := NewClient(Config{AccessToken: "tok", BaseURLs: []string{facebook.URL, ig.URL}}, logx.Nop())
	info, err := c.GetUserInfo(context.Background(), "U1")
	if err != nil {
		t.Fatalf("GetUserInfo: %v", err)
	}
	if info.Username != "alice" {
		t.Fatalf("info = %+v", info)
	}
	if wrongHost.Load() != 0 {
		t.Fatalf("profile lookup hit the facebook host %d times, want 0", wrongHost.Load())
	}
}

func TestGetMediaInfoFallsBackToSecondHost(t *testing.T) {
	t.Parallel()

	var primaryCalls, fallbackCalls atomic.Int32
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		primaryCalls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Unsupported get request","code":100}}`))
	}))
	defer primary.Close()
	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fallbackCalls.Add(1)
		_ = json.NewEncoder(w).Encode(MediaInfo{ID: "77", MediaType: "STORY", Username: "brand"})
	}))
	defer fallback.Close()

	c := NewClient(Config{AccessToken: "tok", BaseURLs: []string{primary.URL, fallback.URL}}, logx.Nop())
	info, err := c.GetMediaInfo(context.Background(), "77")
	if err != nil {
		t.Fatalf("GetMediaInfo: %v", err)
	}
	if info.MediaType != "STORY" {
		t.Fatalf("info = %+v", info)
	}
	if primaryCalls.Load() != 1 || fallbackCalls.Load() != 1 {
		t.Fatalf("calls = %d/%d, want 1/1", primaryCalls.Load(), fallbackCalls.Load())
	}
}

func TestGetMediaInfoAllHostsFail(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"message":"token expired"}}`))
	}))
	defer srv.Close()

	c := NewClient(Config{AccessToken: "tok", BaseURLs: []string{srv.URL, srv.URL}}, logx.Nop())
	if _, err := c.GetMediaInfo(context.Background(), "77"); err == nil {
		t.Fatalf("expected an error when every host fails")
	}
}

func TestDownload(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpegbytes"))
	}))
	defer srv.Close()

	c := NewClient(Config{AccessToken: "tok"}, logx.Nop())
	data, ctype, err := c.Download(context.Background(), srv.URL+"/media")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if string(data) != "jpegbytes" || ctype != "image/jpeg" {
		t.Fatalf("data=%q ctype=%q", data, ctype)
	}
}

func TestDownloadNon2xx(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(Config{}, logx.Nop())
	if _, _, err := c.Download(context.Background(), srv.URL); err == nil {
		t.Fatalf("non-2xx download should error")
	}
}

func TestSendDirectReply(t *testing.T) {
	t.Parallel()

	var got struct {
		Recipient map[string]string `json:"recipient"`
		Message   map[string]string `json:"message"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/me/messages" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_, _ = w.Write([]byte(`{"recipient_id":"U1","message_id":"m"}`))
	}))
	defer srv.Close()

	c := NewClient(Config{AccessToken: "tok", BaseURLs: []string{srv.URL}}, logx.Nop())
	if err := c.SendDirectReply(context.Background(), "U1", "thanks"); err != nil {
		t.Fatalf("SendDirectReply: %v", err)
	}
	if got.Recipient["id"] != "U1" || got.Message["text"] != "thanks" {
		t.Fatalf("payload = %+v", got)
	}
}

func TestSendDirectReplyNoops(t *testing.T) {
	t.Parallel()

	c := NewClient(Config{AccessToken: "tok"}, logx.Nop())
	if err := c.SendDirectReply(context.Background(), "", "text"); err != nil {
		t.Fatalf("empty recipient should noop, got %v", err)
	}
	if err := c.SendDirectReply(context.Background(), "U1", "  "); err != nil {
		t.Fatalf("blank text should noop, got %v", err)
	}
}
