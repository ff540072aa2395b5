package cli

import (
	"context"
	"fmt"

	"github.com/anthonyharley32/chatsync/internal/client/models"
)

var errLoginFirst = fmt.Errorf("log in first")
var errNoConversation = fmt.Errorf("no conversation open, use open/dm/thread")

// OpenChannel switches the view to a channel.
func (a *App) OpenChannel(ctx context.Context, name string) error {
	if !a.isLoggedIn() {
		return errLoginFirst
	}
	if err := a.openScope(ctx, models.NewChannelKey(name), ""); err != nil {
		return err
	}
	return a.ShowMessages(ctx)
}

// OpenDM switches the view to the direct conversation with userID.
func (a *App) OpenDM(ctx context.Context, userID string) error {
	if !a.isLoggedIn() {
		return errLoginFirst
	}
	if err := a.openScope(ctx, models.NewDMKey(a.self.ID, userID), ""); err != nil {
		return err
	}
	return a.ShowMessages(ctx)
}

// OpenThread switches the view to the replies under rootID in the current
// conversation.
func (a *App) OpenThread(ctx context.Context, rootID string) error {
	if !a.isLoggedIn() {
		return errLoginFirst
	}
	if a.conv == nil {
		return errNoConversation
	}
	if err := a.openScope(ctx, a.convKey, rootID); err != nil {
		return err
	}
	return a.ShowMessages(ctx)
}

// ShowMessages prints the current view.
func (a *App) ShowMessages(ctx context.Context) error {
	if a.conv == nil {
		return errNoConversation
	}
	msgs := a.conv.Messages()
	if len(msgs) == 0 {
		fmt.Println("(no messages)")
		return a.conv.Err()
	}
	for _, m := range msgs {
		marker := ""
		if m.Provisional {
			marker = " (sending...)"
		}
		fmt.Printf("[%s] %s: %s%s\n", m.CreatedAt.Local().Format("15:04"), m.Author.DisplayName, renderContent(m), marker)
	}
	return a.conv.Err()
}

func renderContent(m models.Message) string {
	if m.Attachment != nil {
		if m.Content == "" {
			return fmt.Sprintf("<file: %s>", m.Attachment.FileName)
		}
		return fmt.Sprintf("%s <file: %s>", m.Content, m.Attachment.FileName)
	}
	return m.Content
}

// Send submits a message into the current conversation. The provisional
// copy shows up immediately; confirmation arrives via push.
func (a *App) Send(ctx context.Context, text string) error {
	if a.conv == nil {
		return errNoConversation
	}
	_, err := a.conv.Submit(ctx, text, nil)
	return err
}

// ShowUnread prints the per-conversation unread counts.
func (a *App) ShowUnread(ctx context.Context) error {
	if a.agg == nil {
		return errLoginFirst
	}
	counts := a.agg.Counts()
	if len(counts) == 0 {
		fmt.Println("All caught up.")
		return nil
	}
	for key, n := range counts {
		label := key.String()
		if key.IsDM() {
			label = "dm with " + key.DMPartner(a.self.ID)
		}
		fmt.Printf("%s: %d unread\n", label, n)
	}
	return nil
}

// MarkRead clears the unread count of the current conversation.
func (a *App) MarkRead(ctx context.Context) error {
	if a.agg == nil {
		return errLoginFirst
	}
	if a.conv == nil {
		return errNoConversation
	}
	return a.agg.MarkRead(ctx, a.convKey)
}
