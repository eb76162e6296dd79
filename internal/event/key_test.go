package event

import (
	"strings"
	"testing"
)

func TestMessagingKey(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"mid wins", `{"sender":{"id":"U1"},"message":{"mid":"M1","text":"hi"}}`, "dm:mid:M1"},
		{"reaction", `{"sender":{"id":"U1"},"reaction":{"mid":"M2","action":"react"}}`, "dm:reaction:M2:react"},
		{"read watermark", `{"sender":{"id":"U1"},"read":{"watermark":123}}`, "dm:read:U1:123"},
		{"delivery watermark", `{"sender":{"id":"U1"},"delivery":{"watermark":"456"}}`, "dm:delivery:U1:456"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := MessagingKey(mustMessaging(t, tc.raw)); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestMessagingKeyHashFallback(t *testing.T) {
	t.Parallel()

	m := mustMessaging(t, `{"sender":{"id":"U1"},"postback":{"payload":"x"}}`)
	key := MessagingKey(m)
	if !strings.HasPrefix(key, "dm:dm.postback:") {
		t.Fatalf("unexpected key %q", key)
	}
	if len(key) != len("dm:dm.postback:")+24 {
		t.Fatalf("hash suffix has wrong length in %q", key)
	}
}

func TestChangeKey(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"media id wins", `{"field":"media","value":{"media_id":"77","id":"ignored"}}`, "change:media:77"},
		{"comment id", `{"field":"comments","value":{"comment_id":"C9"}}`, "change:comments:C9"},
		{"numeric id coerced", `{"field":"comments","value":{"id":42}}`, "change:comments:42"},
		{"target id", `{"field":"mentions","value":{"target_id":"T3"}}`, "change:mentions:T3"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := ChangeKey(mustChange(t, tc.raw)); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestChangeKeyHashFallback(t *testing.T) {
	t.Parallel()

	c := mustChange(t, `{"field":"story_insights","value":{"impressions":5}}`)
	key := ChangeKey(c)
	if !strings.HasPrefix(key, "change:story_insights:") {
		t.Fatalf("unexpected key %q", key)
	}

	// Same content, different field order: must collapse to the same key.
	c2 := mustChange(t, `{"value":{"impressions":5},"field":"story_insights"}`)
	if got := ChangeKey(c2); got != key {
		t.Fatalf("reordered payload hashed differently: %q vs %q", got, key)
	}
}

func TestHashJSONCanonical(t *testing.T) {
	t.Parallel()

	a := HashJSON([]byte(`{"b":2,"a":{"y":1,"x":[1,2]}}`))
	b := HashJSON([]byte(`{"a":{"x":[1,2],"y":1},"b":2}`))
	if a != b {
		t.Fatalf("key-order variants hashed differently: %q vs %q", a, b)
	}

	c := HashJSON([]byte(`{"b":2,"a":{"y":1,"x":[2,1]}}`))
	if c == a {
		t.Fatalf("different content hashed identically")
	}

	if got := HashJSON([]byte("not json")); len(got) != 24 {
		t.Fatalf("invalid JSON should still hash, got %q", got)
	}
}
