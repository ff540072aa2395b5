package models

import (
	"time"
)

// Attachment describes a file linked to a message. The file itself lives in
// external storage; only the descriptor travels with the message.
type Attachment struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	FileName string `json:"file_name"`
}

// Author carries the display metadata of a message author, resolved through
// the user directory.
type Author struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarRef   string `json:"avatar_ref"`
}

// UnknownAuthor is the sentinel used when a directory lookup fails. The
// message is kept; only its display metadata degrades.
func UnknownAuthor(userID string) Author {
	return Author{ID: userID, DisplayName: "Unknown User"}
}

// Message is one chat entry as held by the synchronizer.
//
// A message is either provisional (created locally on submit, id generated
// by the client) or confirmed (delivered by a snapshot fetch or a push
// event). A provisional entry is replaced in place, never duplicated, once
// its confirmed counterpart arrives.
type Message struct {
	ID             string
	Provisional    bool
	CorrelationID  string // client-generated; echoed back by the backend
	Conversation   ConversationKey
	Author         Author
	CreatedAt      time.Time
	Content        string
	ThreadParentID string
	Attachment     *Attachment
}

// IsThreadReply reports whether the message belongs to a thread rather than
// the parent conversation view.
func (m Message) IsThreadReply() bool {
	return m.ThreadParentID != ""
}

// UnreadRecord is the per-conversation unread state of one identity. At most
// one record exists per (identity, conversation); the count only returns to
// zero through an explicit mark-read.
type UnreadRecord struct {
	UserID         string    `json:"user_id"`
	ChannelID      string    `json:"channel_id,omitempty"`
	DMUserID       string    `json:"dm_user_id,omitempty"`
	Count          int       `json:"count"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Key derives the conversation key of the record from the perspective of the
// owning identity.
func (r UnreadRecord) Key() ConversationKey {
	if r.ChannelID != "" {
		return NewChannelKey(r.ChannelID)
	}
	return NewDMKey(r.UserID, r.DMUserID)
}
