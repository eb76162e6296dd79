package event

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// hashHexLen truncates the SHA-256 hex digest to ~96 bits, enough for a
// non-adversarial dedup key.
const hashHexLen = 24

// MessagingKey derives the idempotency key of a DM sub-event. A natural
// identifier wins over the content hash so retried deliveries that differ in
// unrelated fields (timestamps) still collapse to one key.
func MessagingKey(m *Messaging) string {
	if m.Message != nil && m.Message.MID != "" {
		return "dm:mid:" + m.Message.MID
	}
	if m.Reaction != nil && m.Reaction.MID != "" {
		return "dm:reaction:" + m.Reaction.MID + ":" + m.Reaction.Action
	}
	if m.Read != nil && m.Read.Watermark != "" {
		return "dm:read:" + m.SenderID().String() + ":" + m.Read.Watermark.String()
	}
	if m.Delivery != nil && m.Delivery.Watermark != "" {
		return "dm:delivery:" + m.SenderID().String() + ":" + m.Delivery.Watermark.String()
	}
	return "dm:" + ClassifyMessaging(m).String() + ":" + HashJSON(m.Raw)
}

// ChangeKey derives the idempotency key of a change sub-event, scoped by
// field name so ids from different field namespaces never collide.
func ChangeKey(c *Change) string {
	field := "unknown"
	if c.Field != "" {
		field = c.Field
	}
	if id := c.Value.StableID(); id != "" {
		return "change:" + field + ":" + id.String()
	}
	return "change:" + field + ":" + HashJSON(c.Raw)
}

// EntryKey derives the key of an entry with neither changes nor messaging.
func EntryKey(e *Entry) string {
	return "entry:unknown:" + HashJSON(e.Raw)
}

// HashJSON returns the truncated SHA-256 of the canonical form of raw JSON:
// object keys are sorted recursively, so two payloads that differ only in
// field order hash identically. Invalid JSON hashes as raw bytes.
func HashJSON(raw []byte) string {
	canon, err := canonicalJSON(raw)
	if err != nil {
		canon = raw
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:])[:hashHexLen]
}

func canonicalJSON(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	// Preserve number text; float round-tripping would make equal payloads
	// hash differently.
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	// encoding/json marshals map keys in sorted order, which is exactly the
	// canonicalization needed here.
	return json.Marshal(v)
}
