// Package cache is the local sqlite snapshot cache. It keeps the last-known
// message list per scope and the last unread snapshot per identity so a
// fresh session or a reopened conversation renders before the first
// authoritative fetch returns. The cache is an optimization: every read
// path tolerates it being cold or missing.
package cache

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"

	"github.com/anthonyharley32/chatsync/internal/client/cache/migrations"
	"github.com/anthonyharley32/chatsync/internal/client/models"
	"github.com/anthonyharley32/chatsync/internal/dbx"
)

// Cache wraps the sqlite handle. It implements convsync.MessageStore and
// unread.Store.
type Cache struct {
	db *sql.DB
}

// Open opens (or creates) the cache at dsn and applies pending migrations.
func Open(ctx context.Context, dsn string) (*Cache, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate cache: %w", err)
	}
	return &Cache{db: db}, nil
}

// New wraps an already-migrated handle. Used by tests.
func New(db *sql.DB) *Cache {
	return &Cache{db: db}
}

// RunMigrations applies the embedded schema to db.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, ".")
}

func (c *Cache) Close() error {
	return c.db.Close()
}

// SaveMessages replaces the cached list of one scope. Provisional entries
// are skipped: only confirmed state is worth replaying into a new session.
func (c *Cache) SaveMessages(ctx context.Context, scopeKey string, msgs []models.Message) error {
	return dbx.WithTx(ctx, c.db, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE scope_key = ?`, scopeKey); err != nil {
			return fmt.Errorf("clear scope: %w", err)
		}

		const insert = `INSERT INTO messages
			(scope_key, id, correlation_id, conversation, author_id, author_name, author_avatar,
			 created_at, content, thread_parent_id, file_url, file_type, file_name, position)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

		pos := 0
		for _, m := range msgs {
			if m.Provisional {
				continue
			}
			var fileURL, fileType, fileName string
			if m.Attachment != nil {
				fileURL, fileType, fileName = m.Attachment.URL, m.Attachment.MimeType, m.Attachment.FileName
			}
			_, err := tx.ExecContext(ctx, insert,
				scopeKey, m.ID, m.CorrelationID, m.Conversation.String(),
				m.Author.ID, m.Author.DisplayName, m.Author.AvatarRef,
				m.CreatedAt, m.Content, m.ThreadParentID,
				fileURL, fileType, fileName, pos)
			if err != nil {
				return fmt.Errorf("insert message: %w", err)
			}
			pos++
		}
		return nil
	})
}

// LoadMessages returns the cached list of one scope in display order.
// A cold cache yields an empty list and no error.
func (c *Cache) LoadMessages(ctx context.Context, scopeKey string) ([]models.Message, error) {
	const query = `SELECT id, correlation_id, conversation, author_id, author_name, author_avatar,
			created_at, content, thread_parent_id, file_url, file_type, file_name
		FROM messages WHERE scope_key = ? ORDER BY position`

	rows, err := c.db.QueryContext(ctx, query, scopeKey)
	if err != nil {
		return nil, fmt.Errorf("select messages: %w", err)
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var m models.Message
		var conv, fileURL, fileType, fileName string
		if err := rows.Scan(&m.ID, &m.CorrelationID, &conv,
			&m.Author.ID, &m.Author.DisplayName, &m.Author.AvatarRef,
			&m.CreatedAt, &m.Content, &m.ThreadParentID,
			&fileURL, &fileType, &fileName); err != nil {
			return nil, err
		}
		if m.Conversation, err = models.ParseConversationKey(conv); err != nil {
			return nil, fmt.Errorf("corrupt conversation key: %w", err)
		}
		if fileURL != "" {
			m.Attachment = &models.Attachment{URL: fileURL, MimeType: fileType, FileName: fileName}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SaveUnread replaces the cached unread snapshot of one identity.
func (c *Cache) SaveUnread(ctx context.Context, userID string, records []models.UnreadRecord) error {
	return dbx.WithTx(ctx, c.db, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM unread WHERE user_id = ?`, userID); err != nil {
			return fmt.Errorf("clear unread: %w", err)
		}
		const insert = `INSERT INTO unread (user_id, channel_id, dm_user_id, count, last_activity_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(user_id, channel_id, dm_user_id) DO UPDATE SET
				count = excluded.count, last_activity_at = excluded.last_activity_at`
		for _, r := range records {
			if _, err := tx.ExecContext(ctx, insert,
				userID, r.ChannelID, r.DMUserID, r.Count, r.LastActivityAt); err != nil {
				return fmt.Errorf("insert unread: %w", err)
			}
		}
		return nil
	})
}

// LoadUnread returns the cached unread snapshot of one identity, most
// recent activity first, matching the fetch ordering.
func (c *Cache) LoadUnread(ctx context.Context, userID string) ([]models.UnreadRecord, error) {
	const query = `SELECT channel_id, dm_user_id, count, last_activity_at
		FROM unread WHERE user_id = ? ORDER BY last_activity_at DESC`

	rows, err := c.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("select unread: %w", err)
	}
	defer rows.Close()

	var out []models.UnreadRecord
	for rows.Next() {
		r := models.UnreadRecord{UserID: userID}
		if err := rows.Scan(&r.ChannelID, &r.DMUserID, &r.Count, &r.LastActivityAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
