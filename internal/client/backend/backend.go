// Package backend declares the external collaborators the sync engine
// consumes: the push channel, the snapshot fetcher, the message sender, the
// mark-read RPC, and the user directory. Concrete adapters live in the rest
// and ws subpackages; tests supply fakes.
package backend

import (
	"context"

	"github.com/anthonyharley32/chatsync/internal/client/models"
)

// Push event tables and operations as emitted by the transport.
const (
	TableMessages = "messages"
	TableUnread   = "unread_tracking"

	OpInsert = "INSERT"
	OpUpdate = "UPDATE"
)

// PushEvent is one typed event from the push transport. Delivery is
// at-least-once and unordered; consumers must dedupe and reorder. Exactly
// one of Message or Unread is set, matching Table.
type PushEvent struct {
	Table   string
	Op      string
	Message *models.MessageRow
	Unread  *models.UnreadRecord
}

// Subscription is a live push subscription. Events is closed after
// Unsubscribe returns or when the transport drops the subscription.
type Subscription interface {
	Events() <-chan PushEvent
	Unsubscribe()
}

// PushChannel hands out subscriptions filtered by topic. Topics follow the
// conversation key form ("channel:<id>", "dm:<a>:<b>") plus "unread:<user>"
// for unread-tracking rows.
type PushChannel interface {
	Subscribe(ctx context.Context, topic string) (Subscription, error)
}

// SnapshotFetcher reads authoritative state from the backing store. Results
// are ordered by CreatedAt ascending for messages and by LastActivityAt
// descending for unread records.
type SnapshotFetcher interface {
	// FetchMessages returns the confirmed messages of a conversation.
	// When excludeThreadReplies is set, rows with a thread parent are
	// omitted (the parent view hides them).
	FetchMessages(ctx context.Context, key models.ConversationKey, excludeThreadReplies bool) ([]models.MessageRow, error)

	// FetchThreadReplies returns the replies under one thread root.
	FetchThreadReplies(ctx context.Context, rootID string) ([]models.MessageRow, error)

	// FetchUnread returns the unread records of one identity.
	FetchUnread(ctx context.Context, userID string) ([]models.UnreadRecord, error)
}

// SendRequest carries one outbound message.
type SendRequest struct {
	Conversation   models.ConversationKey
	SenderID       string
	Content        string
	ThreadParentID string
	Attachment     *models.Attachment
	// CorrelationID is generated by the client and echoed back on the
	// confirmed row so optimistic entries reconcile without guessing.
	CorrelationID string
}

// Sender performs the external message send. The returned id is the
// server-assigned permanent message id.
type Sender interface {
	SendMessage(ctx context.Context, req SendRequest) (string, error)
}

// MarkReadRPC resets the unread count of one conversation for one identity.
type MarkReadRPC interface {
	ResetUnread(ctx context.Context, userID string, key models.ConversationKey) error
}

// UserDirectory resolves author display metadata. Implementations should
// return common.ErrNotFound for unknown users; callers fall back to
// models.UnknownAuthor.
type UserDirectory interface {
	LookupDisplayInfo(ctx context.Context, userID string) (models.Author, error)
}

// UnreadTopic is the push topic carrying unread-tracking rows of one
// identity.
func UnreadTopic(userID string) string {
	return "unread:" + userID
}
