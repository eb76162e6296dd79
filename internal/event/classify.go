package event

// Type tags the semantic kind of a sub-event. It doubles as the topic key
// for categories without an explicit route.
type Type string

const (
	TypeDMMessage     Type = "dm.message"
	TypeDMMessageEcho Type = "dm.message_echo"
	TypeDMRead        Type = "dm.read"
	TypeDMReaction    Type = "dm.reaction"
	TypeDMDelivery    Type = "dm.delivery"
	TypeDMPostback    Type = "dm.postback"
	TypeDMOptin       Type = "dm.optin"
	TypeDMReferral    Type = "dm.referral"
	TypeDMOther       Type = "dm.other"

	TypeEntryUnknown Type = "entry.unknown"
)

func (t Type) String() string { return string(t) }

// Ignored reports whether the type is classified but never forwarded
// (read/delivery receipts, our own echoed sends, unrecognized DM shapes).
func (t Type) Ignored() bool {
	switch t {
	case TypeDMRead, TypeDMDelivery, TypeDMMessageEcho, TypeDMOther:
		return true
	}
	return false
}

// ClassifyMessaging maps a DM sub-event to its type. First match wins;
// an echo-flagged message is an echo even if other bodies are present.
func ClassifyMessaging(m *Messaging) Type {
	switch {
	case m == nil:
		return TypeDMOther
	case m.Message != nil && m.Message.IsEcho:
		return TypeDMMessageEcho
	case m.Message != nil:
		return TypeDMMessage
	case m.Read != nil:
		return TypeDMRead
	case m.Reaction != nil:
		return TypeDMReaction
	case m.Delivery != nil:
		return TypeDMDelivery
	case m.Postback != nil:
		return TypeDMPostback
	case m.Optin != nil:
		return TypeDMOptin
	case m.Referral != nil:
		return TypeDMReferral
	default:
		return TypeDMOther
	}
}

// ClassifyChange maps a change sub-event to "change.<field>".
func ClassifyChange(c *Change) Type {
	field := "unknown"
	if c != nil && c.Field != "" {
		field = c.Field
	}
	return Type("change." + field)
}
