package devserver

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anthonyharley32/chatsync/internal/client/models"
	"github.com/anthonyharley32/chatsync/internal/common"
)

// User is a dev-server account.
type User struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	DisplayName  string `json:"display_name"`
	AvatarRef    string `json:"avatar_ref"`
	PasswordHash []byte `json:"-"`
}

// Store is the in-memory backing state of the dev server. It stands in for
// the hosted database; everything is lost on restart, which is the point.
type Store struct {
	mu       sync.Mutex
	users    map[string]User   // by id
	byEmail  map[string]string // email -> id
	messages []models.MessageRow
	unread   map[string]map[models.ConversationKey]models.UnreadRecord
}

func NewStore() *Store {
	return &Store{
		users:   make(map[string]User),
		byEmail: make(map[string]string),
		unread:  make(map[string]map[models.ConversationKey]models.UnreadRecord),
	}
}

func (s *Store) CreateUser(email, displayName string, hash []byte) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email = strings.ToLower(email)
	if _, exists := s.byEmail[email]; exists {
		return User{}, common.ErrValidation
	}
	u := User{ID: uuid.NewString(), Email: email, DisplayName: displayName, PasswordHash: hash}
	s.users[u.ID] = u
	s.byEmail[email] = u.ID
	return u, nil
}

func (s *Store) UserByEmail(email string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return User{}, common.ErrNotFound
	}
	return s.users[id], nil
}

func (s *Store) UserByID(id string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, common.ErrNotFound
	}
	return u, nil
}

// AddMessage stores one row, assigns id and timestamp, and bumps the unread
// counters of everyone but the sender. It returns the stored row and the
// unread records it touched.
func (s *Store) AddMessage(row models.MessageRow) (models.MessageRow, []models.UnreadRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row.ID = uuid.NewString()
	row.CreatedAt = time.Now().UTC()
	s.messages = append(s.messages, row)

	var touched []models.UnreadRecord
	key := row.Key()
	if key.IsDM() {
		partner := key.DMPartner(row.SenderID)
		if partner != "" {
			touched = append(touched, s.bumpUnreadLocked(partner, key, row.SenderID, row.CreatedAt))
		}
	} else {
		for id := range s.users {
			if id != row.SenderID {
				touched = append(touched, s.bumpUnreadLocked(id, key, "", row.CreatedAt))
			}
		}
	}
	return row, touched
}

func (s *Store) bumpUnreadLocked(userID string, key models.ConversationKey, dmUserID string, at time.Time) models.UnreadRecord {
	perUser := s.unread[userID]
	if perUser == nil {
		perUser = make(map[models.ConversationKey]models.UnreadRecord)
		s.unread[userID] = perUser
	}
	rec, ok := perUser[key]
	if !ok {
		rec = models.UnreadRecord{UserID: userID, ChannelID: key.ChannelID, DMUserID: dmUserID}
	}
	rec.Count++
	rec.LastActivityAt = at
	perUser[key] = rec
	return rec
}

// Messages returns the rows of one conversation in CreatedAt order.
func (s *Store) Messages(key models.ConversationKey, excludeThreadReplies bool) []models.MessageRow {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.MessageRow
	for _, row := range s.messages {
		if row.Key() != key {
			continue
		}
		if excludeThreadReplies && row.IsThreadReply() {
			continue
		}
		out = append(out, row)
	}
	sortRows(out)
	return out
}

// ThreadReplies returns the replies under one root in CreatedAt order.
func (s *Store) ThreadReplies(rootID string) []models.MessageRow {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.MessageRow
	for _, row := range s.messages {
		if row.ThreadParentID == rootID {
			out = append(out, row)
		}
	}
	sortRows(out)
	return out
}

// Unread returns one identity's records, most recent activity first.
func (s *Store) Unread(userID string) []models.UnreadRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.UnreadRecord, 0, len(s.unread[userID]))
	for _, rec := range s.unread[userID] {
		if rec.Count == 0 {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivityAt.After(out[j].LastActivityAt)
	})
	return out
}

// ResetUnread zeroes one record; missing records are already zero.
func (s *Store) ResetUnread(userID string, key models.ConversationKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.unread[userID][key]
	if !ok {
		return
	}
	rec.Count = 0
	s.unread[userID][key] = rec
}

func sortRows(rows []models.MessageRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].CreatedAt.Before(rows[j].CreatedAt)
	})
}
