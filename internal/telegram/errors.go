package telegram

import (
	"errors"
	"strings"
)

var errMissingConfig = errors.New("telegram config missing")

// Phrases Telegram uses when a chat cannot host forum topics at all.
// Matching is a case-insensitive substring check on the API description.
var permanentTopicErrors = []string{
	"not a forum",
	"chat is not a forum",
	"not enough rights",
	"topic_deleted",
}

// IsPermanentTopicError reports whether err means topic creation can never
// succeed in this chat (not a forum, missing rights, topic deleted) as
// opposed to a transient failure.
func IsPermanentTopicError(err error) bool {
	if err == nil {
		return false
	}
	desc := strings.ToLower(err.Error())
	for _, phrase := range permanentTopicErrors {
		if strings.Contains(desc, phrase) {
			return true
		}
	}
	return false
}
