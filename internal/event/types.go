// Package event models the Instagram webhook payload and derives the
// semantic type and idempotency key of each sub-event.
package event

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ID accepts both JSON strings and numbers; Meta is inconsistent about which
// one a given field carries (media ids arrive as numbers, message ids as
// strings).
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*id = ""
		return nil
	}
	if len(s) > 0 && s[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*id = ID(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// Payload is the parsed body of one webhook POST.
type Payload struct {
	Object string  `json:"object,omitempty"`
	Entry  []Entry `json:"entry,omitempty"`
}

// Entry is one page-level entry. Raw keeps the bytes as they arrived so the
// hash-fallback key covers fields the typed view doesn't model.
type Entry struct {
	ID        ID          `json:"id,omitempty"`
	Time      int64       `json:"time,omitempty"`
	Changes   []Change    `json:"changes,omitempty"`
	Messaging []Messaging `json:"messaging,omitempty"`

	Raw json.RawMessage `json:"-"`
}

func (e *Entry) UnmarshalJSON(b []byte) error {
	type plain Entry
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*e = Entry(p)
	e.Raw = append(json.RawMessage(nil), b...)
	return nil
}

// Change is a field-change sub-event (comments, mentions, media, ...).
type Change struct {
	Field string      `json:"field,omitempty"`
	Value ChangeValue `json:"value,omitempty"`

	Raw json.RawMessage `json:"-"`
}

func (c *Change) UnmarshalJSON(b []byte) error {
	type plain Change
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*c = Change(p)
	c.Raw = append(json.RawMessage(nil), b...)
	return nil
}

type ChangeValue struct {
	From *Identity `json:"from,omitempty"`
	Text string    `json:"text,omitempty"`

	MediaID   ID `json:"media_id,omitempty"`
	CommentID ID `json:"comment_id,omitempty"`
	ID        ID `json:"id,omitempty"`
	TargetID  ID `json:"target_id,omitempty"`
	EventID   ID `json:"event_id,omitempty"`
}

// StableID returns the first natural identifier present on the value,
// in the priority order dedup keys are derived from.
func (v ChangeValue) StableID() ID {
	for _, id := range []ID{v.MediaID, v.CommentID, v.ID, v.TargetID, v.EventID} {
		if id != "" {
			return id
		}
	}
	return ""
}

type Identity struct {
	ID       ID     `json:"id,omitempty"`
	Username string `json:"username,omitempty"`
}

// Messaging is a DM sub-event. Exactly one of the body pointers is normally
// set; the classifier resolves which one wins when several are.
type Messaging struct {
	Sender    *Identity `json:"sender,omitempty"`
	Recipient *Identity `json:"recipient,omitempty"`
	Timestamp int64     `json:"timestamp,omitempty"`

	Message  *Message  `json:"message,omitempty"`
	Reaction *Reaction `json:"reaction,omitempty"`
	Read     *Receipt  `json:"read,omitempty"`
	Delivery *Receipt  `json:"delivery,omitempty"`

	Postback json.RawMessage `json:"postback,omitempty"`
	Optin    json.RawMessage `json:"optin,omitempty"`
	Referral json.RawMessage `json:"referral,omitempty"`

	Raw json.RawMessage `json:"-"`
}

func (m *Messaging) UnmarshalJSON(b []byte) error {
	type plain Messaging
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*m = Messaging(p)
	m.Raw = append(json.RawMessage(nil), b...)
	return nil
}

func (m *Messaging) SenderID() ID {
	if m == nil || m.Sender == nil {
		return ""
	}
	return m.Sender.ID
}

type Message struct {
	MID         string       `json:"mid,omitempty"`
	Text        string       `json:"text,omitempty"`
	IsEcho      bool         `json:"is_echo,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

type Reaction struct {
	MID    string `json:"mid,omitempty"`
	Action string `json:"action,omitempty"`
	Emoji  string `json:"reaction,omitempty"`
}

type Receipt struct {
	Watermark ID `json:"watermark,omitempty"`
}

type Attachment struct {
	Type    string            `json:"type,omitempty"`
	Payload AttachmentPayload `json:"payload,omitempty"`

	Raw json.RawMessage `json:"-"`
}

func (a *Attachment) UnmarshalJSON(b []byte) error {
	type plain Attachment
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*a = Attachment(p)
	a.Raw = append(json.RawMessage(nil), b...)
	return nil
}

type AttachmentPayload struct {
	URL           string `json:"url,omitempty"`
	Link          string `json:"link,omitempty"`
	Src           string `json:"src,omitempty"`
	AttachmentURL string `json:"attachment_url,omitempty"`
	PermalinkURL  string `json:"permalink_url,omitempty"`
	Title         string `json:"title,omitempty"`
}

// FileURL returns the first downloadable URL on the attachment.
func (a Attachment) FileURL() string {
	for _, u := range []string{a.Payload.URL, a.Payload.Link, a.Payload.Src, a.Payload.AttachmentURL} {
		if u != "" {
			return u
		}
	}
	return ""
}

// ShareURL returns the link target of a "share" attachment.
func (a Attachment) ShareURL() string {
	for _, u := range []string{a.Payload.URL, a.Payload.Link, a.Payload.PermalinkURL} {
		if u != "" {
			return u
		}
	}
	return ""
}
