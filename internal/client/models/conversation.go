// Package models defines the chat data types shared by the client
// components: conversation keys, messages, unread records, and the wire
// shapes delivered by the push transport.
package models

import (
	"fmt"
	"strings"
)

// ConversationKey identifies a conversation: either a channel or a direct
// message between two users. For DMs the pair is unordered; NewDMKey
// normalizes the two ids so that keys compare equal regardless of who is
// "first". The zero value is not a valid key.
type ConversationKey struct {
	ChannelID string
	// DM participants, normalized so DMUser1 <= DMUser2.
	DMUser1 string
	DMUser2 string
}

// NewChannelKey returns the key of a channel conversation.
func NewChannelKey(channelID string) ConversationKey {
	return ConversationKey{ChannelID: channelID}
}

// NewDMKey returns the key of a direct conversation between a and b.
// The argument order does not matter.
func NewDMKey(a, b string) ConversationKey {
	if a > b {
		a, b = b, a
	}
	return ConversationKey{DMUser1: a, DMUser2: b}
}

// IsDM reports whether the key names a direct conversation.
func (k ConversationKey) IsDM() bool {
	return k.ChannelID == "" && k.DMUser1 != ""
}

// IsZero reports whether the key is the zero value.
func (k ConversationKey) IsZero() bool {
	return k.ChannelID == "" && k.DMUser1 == "" && k.DMUser2 == ""
}

// Involves reports whether userID participates in a DM conversation.
// Channel keys always return true: channel membership is not tracked here.
func (k ConversationKey) Involves(userID string) bool {
	if !k.IsDM() {
		return true
	}
	return k.DMUser1 == userID || k.DMUser2 == userID
}

// DMPartner returns the other participant of a DM from self's point of view.
// Returns "" for channel keys and for DMs self is not part of.
func (k ConversationKey) DMPartner(self string) string {
	switch {
	case !k.IsDM():
		return ""
	case k.DMUser1 == self:
		return k.DMUser2
	case k.DMUser2 == self:
		return k.DMUser1
	}
	return ""
}

// String renders the key in topic form: "channel:<id>" or "dm:<u1>:<u2>".
// The result is stable and usable as a subscription topic or map key.
func (k ConversationKey) String() string {
	if k.IsDM() {
		return fmt.Sprintf("dm:%s:%s", k.DMUser1, k.DMUser2)
	}
	return "channel:" + k.ChannelID
}

// ParseConversationKey is the inverse of String. It accepts "channel:<id>"
// and "dm:<u1>:<u2>" forms.
func ParseConversationKey(s string) (ConversationKey, error) {
	switch {
	case strings.HasPrefix(s, "channel:"):
		id := strings.TrimPrefix(s, "channel:")
		if id == "" {
			return ConversationKey{}, fmt.Errorf("empty channel id in %q", s)
		}
		return NewChannelKey(id), nil
	case strings.HasPrefix(s, "dm:"):
		rest := strings.TrimPrefix(s, "dm:")
		a, b, found := strings.Cut(rest, ":")
		if !found || a == "" || b == "" {
			return ConversationKey{}, fmt.Errorf("malformed dm key %q", s)
		}
		return NewDMKey(a, b), nil
	}
	return ConversationKey{}, fmt.Errorf("unknown conversation key form %q", s)
}
