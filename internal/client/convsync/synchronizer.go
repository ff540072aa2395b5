// Package convsync maintains the ordered message list of the currently open
// conversation. It merges optimistic local inserts with confirmed events
// from the push transport, filters events to the open scope, and discards
// stale asynchronous results after a conversation switch via a generation
// counter.
package convsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anthonyharley32/chatsync/internal/client/backend"
	"github.com/anthonyharley32/chatsync/internal/client/dedup"
	"github.com/anthonyharley32/chatsync/internal/client/models"
	"github.com/anthonyharley32/chatsync/internal/common"
	"github.com/anthonyharley32/chatsync/internal/logging"
)

// State of the synchronizer's lifecycle.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateSynced
	StateError
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateSynced:
		return "synced"
	case StateError:
		return "error"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// ErrNotOpen is returned by Submit outside the Synced state.
var ErrNotOpen = errors.New("conversation not open")

// scope is what the synchronizer is currently looking at: a conversation
// view, or a thread view nested under one root message.
type scope struct {
	key    models.ConversationKey
	rootID string // thread root; "" for the parent view
}

func (sc scope) thread() bool { return sc.rootID != "" }

// cacheKey is the store key of the scope.
func (sc scope) cacheKey() string {
	if sc.thread() {
		return "thread:" + sc.rootID
	}
	return sc.key.String()
}

// MessageStore persists the last-known list per scope so a reopened
// conversation renders instantly while the authoritative snapshot loads.
// Optional; nil disables warm opens.
type MessageStore interface {
	SaveMessages(ctx context.Context, scopeKey string, msgs []models.Message) error
	LoadMessages(ctx context.Context, scopeKey string) ([]models.Message, error)
}

// Config wires a Synchronizer. SelfID, Fetcher and Sender are required.
// Without Push the view degrades to snapshot-only; without Directory every
// author renders as the unknown sentinel.
type Config struct {
	SelfID    string
	Fetcher   backend.SnapshotFetcher
	Sender    backend.Sender
	Directory backend.UserDirectory
	Push      backend.PushChannel
	Store     MessageStore
	Log       logging.Logger
	// Match overrides the provisional-match strategy. Defaults to
	// dedup.DefaultMatch (correlation id, content fallback).
	Match dedup.MatchFunc
}

// Synchronizer owns one conversation view. All mutable state is private;
// the UI observes it through Messages/State/Err snapshots and the Updates
// channel. Safe for concurrent use.
type Synchronizer struct {
	cfg Config
	log logging.Logger

	mu         sync.Mutex
	state      State
	err        error
	scope      scope
	messages   []models.Message
	generation uint64
	sub        backend.Subscription

	authMu  sync.Mutex
	authors map[string]models.Author

	updates chan struct{}
	now     func() time.Time
	newID   func() string
}

func New(cfg Config) (*Synchronizer, error) {
	if cfg.SelfID == "" || cfg.Fetcher == nil || cfg.Sender == nil {
		return nil, fmt.Errorf("convsync: SelfID, Fetcher and Sender are required")
	}
	if cfg.Log == nil {
		cfg.Log = logging.Discard()
	}
	if cfg.Match == nil {
		cfg.Match = dedup.DefaultMatch
	}
	return &Synchronizer{
		cfg:     cfg,
		log:     cfg.Log.With("component", "convsync", "self", cfg.SelfID),
		authors: make(map[string]models.Author),
		updates: make(chan struct{}, 1),
		now:     time.Now,
		newID:   uuid.NewString,
	}, nil
}

// Open switches the view to the given conversation: the previous
// subscription is dropped synchronously, the cached list (if any) is shown
// while Loading, then the snapshot replaces it and a filtered push
// subscription goes live. A snapshot failure surfaces StateError with an
// empty list; a subscribe failure degrades to snapshot-only.
func (s *Synchronizer) Open(ctx context.Context, key models.ConversationKey) error {
	return s.open(ctx, scope{key: key})
}

// OpenThread switches to the thread view rooted at rootID inside the given
// conversation. Only events whose thread parent equals rootID pass the
// filter.
func (s *Synchronizer) OpenThread(ctx context.Context, key models.ConversationKey, rootID string) error {
	if rootID == "" {
		return fmt.Errorf("convsync: empty thread root: %w", common.ErrValidation)
	}
	return s.open(ctx, scope{key: key, rootID: rootID})
}

func (s *Synchronizer) open(ctx context.Context, sc scope) error {
	if sc.key.IsZero() {
		return fmt.Errorf("convsync: empty conversation key: %w", common.ErrValidation)
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return common.ErrClosed
	}
	// Unsubscribe before resubscribe, and advance the generation so any
	// late event or snapshot from the old scope is discarded even if the
	// transport delivers after this point.
	s.dropSubscriptionLocked()
	s.generation++
	gen := s.generation
	s.scope = sc
	s.state = StateLoading
	s.err = nil
	s.messages = nil
	s.mu.Unlock()
	s.notify()

	if s.cfg.Store != nil {
		if cached, err := s.cfg.Store.LoadMessages(ctx, sc.cacheKey()); err != nil {
			s.log.Warn(ctx, "message cache load failed", "scope", sc.cacheKey(), "error", err)
		} else if len(cached) > 0 {
			s.applyList(gen, cached, StateLoading)
		}
	}

	// Warm the directory cache for the signed-in identity so provisional
	// entries carry proper display metadata.
	s.resolveAuthor(ctx, s.cfg.SelfID)

	rows, err := s.fetchScope(ctx, sc)
	if err != nil {
		s.log.Error(ctx, "snapshot fetch failed", "scope", sc.cacheKey(), "error", err)
		s.failGeneration(gen, fmt.Errorf("snapshot fetch: %w: %v", common.ErrTransport, err))
		return fmt.Errorf("snapshot fetch: %w", err)
	}

	msgs := make([]models.Message, 0, len(rows))
	for _, row := range rows {
		msgs = append(msgs, row.Message(s.resolveAuthor(ctx, row.SenderID)))
	}
	if !s.applyList(gen, msgs, StateSynced) {
		// A later Open won the race; nothing else to do for this one.
		return nil
	}
	s.persist(ctx, sc, msgs)

	s.subscribe(ctx, sc, gen)
	return nil
}

func (s *Synchronizer) fetchScope(ctx context.Context, sc scope) ([]models.MessageRow, error) {
	if sc.thread() {
		return s.cfg.Fetcher.FetchThreadReplies(ctx, sc.rootID)
	}
	return s.cfg.Fetcher.FetchMessages(ctx, sc.key, true)
}

func (s *Synchronizer) subscribe(ctx context.Context, sc scope, gen uint64) {
	if s.cfg.Push == nil {
		return
	}
	sub, err := s.cfg.Push.Subscribe(ctx, sc.key.String())
	if err != nil {
		s.log.Warn(ctx, "push subscribe failed, live updates disabled", "scope", sc.cacheKey(), "error", err)
		return
	}

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		sub.Unsubscribe()
		return
	}
	s.sub = sub
	s.mu.Unlock()

	go func() {
		for {
			select {
			case ev, ok := <-sub.Events():
				if !ok {
					return
				}
				s.handlePush(ctx, gen, ev)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// handlePush applies one pushed event to the open view. Events from a
// stale generation or failing the scope filter are discarded without
// touching state.
func (s *Synchronizer) handlePush(ctx context.Context, gen uint64, ev backend.PushEvent) {
	if ev.Table != backend.TableMessages || ev.Message == nil {
		return
	}

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	sc := s.scope
	s.mu.Unlock()

	if !s.accepts(sc, *ev.Message) {
		return
	}

	// The directory lookup may block; resolve outside the lock and
	// re-check the generation when applying.
	msg := ev.Message.Message(s.resolveAuthor(ctx, ev.Message.SenderID))

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	s.messages = dedup.Reconcile(s.messages, msg, s.cfg.Match)
	snapshot := s.snapshotLocked()
	s.mu.Unlock()
	s.notify()

	s.persist(ctx, sc, snapshot)
}

// accepts is the push filter of spec'd view semantics: DM events must
// involve the signed-in identity and the open partner; channel events must
// match the open channel and stay out of the parent view when they are
// thread replies; the thread view accepts only its own replies.
func (s *Synchronizer) accepts(sc scope, row models.MessageRow) bool {
	if row.Key() != sc.key {
		return false
	}
	if sc.key.IsDM() && !sc.key.Involves(s.cfg.SelfID) {
		return false
	}
	if sc.thread() {
		return row.ThreadParentID == sc.rootID
	}
	return !row.IsThreadReply()
}

// Submit optimistically appends a provisional message and performs the
// external send. On success nothing more happens here: the eventual push
// event materializes the entry via reconciliation. On failure the
// provisional entry is removed and the error returned. The provisional id
// is returned for caller reference.
func (s *Synchronizer) Submit(ctx context.Context, content string, attachment *models.Attachment) (string, error) {
	if content == "" && attachment == nil {
		return "", fmt.Errorf("empty message: %w", common.ErrValidation)
	}

	s.mu.Lock()
	if s.state != StateSynced {
		s.mu.Unlock()
		return "", ErrNotOpen
	}
	sc := s.scope
	gen := s.generation

	prov := models.Message{
		ID:             s.newID(),
		Provisional:    true,
		CorrelationID:  s.newID(),
		Conversation:   sc.key,
		Author:         s.cachedAuthor(s.cfg.SelfID),
		CreatedAt:      s.now(),
		Content:        content,
		ThreadParentID: sc.rootID,
		Attachment:     attachment,
	}
	s.messages = append(s.messages, prov)
	s.mu.Unlock()
	s.notify()

	_, err := s.cfg.Sender.SendMessage(ctx, backend.SendRequest{
		Conversation:   sc.key,
		SenderID:       s.cfg.SelfID,
		Content:        content,
		ThreadParentID: sc.rootID,
		Attachment:     attachment,
		CorrelationID:  prov.CorrelationID,
	})
	if err != nil {
		s.mu.Lock()
		if gen == s.generation {
			s.messages = dedup.RemoveProvisional(s.messages, prov.ID)
		}
		s.mu.Unlock()
		s.notify()
		return prov.ID, fmt.Errorf("send: %w: %v", common.ErrTransport, err)
	}
	return prov.ID, nil
}

// Close tears the view down: subscription dropped, state Closed, pending
// asynchronous results fenced off by the advanced generation.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	s.dropSubscriptionLocked()
	s.generation++
	s.state = StateClosed
	s.scope = scope{}
	s.messages = nil
	s.mu.Unlock()
	s.notify()
}

// Messages returns a copy of the current ordered list.
func (s *Synchronizer) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// State returns the current lifecycle state.
func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the surfaced error of the last failed transition, if any.
func (s *Synchronizer) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Updates signals (coalesced) whenever the observable state changes.
func (s *Synchronizer) Updates() <-chan struct{} {
	return s.updates
}

func (s *Synchronizer) snapshotLocked() []models.Message {
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// applyList installs msgs for the given generation, reporting whether the
// generation was still current.
func (s *Synchronizer) applyList(gen uint64, msgs []models.Message, state State) bool {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return false
	}
	s.messages = msgs
	s.state = state
	s.mu.Unlock()
	s.notify()
	return true
}

func (s *Synchronizer) failGeneration(gen uint64, err error) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	s.messages = nil
	s.state = StateError
	s.err = err
	s.mu.Unlock()
	s.notify()
}

func (s *Synchronizer) dropSubscriptionLocked() {
	if s.sub != nil {
		s.sub.Unsubscribe()
		s.sub = nil
	}
}

func (s *Synchronizer) persist(ctx context.Context, sc scope, msgs []models.Message) {
	if s.cfg.Store == nil {
		return
	}
	if err := s.cfg.Store.SaveMessages(ctx, sc.cacheKey(), msgs); err != nil {
		s.log.Warn(ctx, "message cache save failed", "scope", sc.cacheKey(), "error", err)
	}
}

// resolveAuthor returns display metadata for userID, consulting the
// directory at most once per user. Lookup failure degrades to the unknown
// sentinel and is not cached, so a later event can retry.
func (s *Synchronizer) resolveAuthor(ctx context.Context, userID string) models.Author {
	s.authMu.Lock()
	if a, ok := s.authors[userID]; ok {
		s.authMu.Unlock()
		return a
	}
	s.authMu.Unlock()

	if s.cfg.Directory == nil {
		return models.UnknownAuthor(userID)
	}
	a, err := s.cfg.Directory.LookupDisplayInfo(ctx, userID)
	if err != nil {
		s.log.Warn(ctx, "author lookup failed", "user", userID, "error", err)
		return models.UnknownAuthor(userID)
	}

	s.authMu.Lock()
	s.authors[userID] = a
	s.authMu.Unlock()
	return a
}

func (s *Synchronizer) cachedAuthor(userID string) models.Author {
	s.authMu.Lock()
	defer s.authMu.Unlock()
	if a, ok := s.authors[userID]; ok {
		return a
	}
	return models.UnknownAuthor(userID)
}

func (s *Synchronizer) notify() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}
