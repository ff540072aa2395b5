package models

import "time"

// MessageRow is the wire shape of one messages-table row as delivered by
// snapshot fetches and push events. Exactly one of ChannelID or ReceiverID
// is set: channel messages carry ChannelID, direct messages carry the pair
// (SenderID, ReceiverID).
type MessageRow struct {
	ID             string    `json:"id"`
	ChannelID      string    `json:"channel_id,omitempty"`
	SenderID       string    `json:"sender_id"`
	ReceiverID     string    `json:"receiver_id,omitempty"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
	ThreadParentID string    `json:"thread_parent_id,omitempty"`
	CorrelationID  string    `json:"correlation_id,omitempty"`
	FileURL        string    `json:"file_url,omitempty"`
	FileType       string    `json:"file_type,omitempty"`
	FileName       string    `json:"file_name,omitempty"`
}

// Key derives the conversation the row belongs to.
func (r MessageRow) Key() ConversationKey {
	if r.ChannelID != "" {
		return NewChannelKey(r.ChannelID)
	}
	return NewDMKey(r.SenderID, r.ReceiverID)
}

// IsThreadReply reports whether the row is a reply inside a thread.
func (r MessageRow) IsThreadReply() bool {
	return r.ThreadParentID != ""
}

// Message normalizes the row into a confirmed Message with the given
// resolved author metadata.
func (r MessageRow) Message(author Author) Message {
	m := Message{
		ID:             r.ID,
		CorrelationID:  r.CorrelationID,
		Conversation:   r.Key(),
		Author:         author,
		CreatedAt:      r.CreatedAt,
		Content:        r.Content,
		ThreadParentID: r.ThreadParentID,
	}
	if r.FileURL != "" {
		m.Attachment = &Attachment{URL: r.FileURL, MimeType: r.FileType, FileName: r.FileName}
	}
	return m
}
