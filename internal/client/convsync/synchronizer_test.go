package convsync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/anthonyharley32/chatsync/internal/client/backend"
	"github.com/anthonyharley32/chatsync/internal/client/models"
	"github.com/anthonyharley32/chatsync/internal/common"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeFetcher struct {
	backend.SnapshotFetcher

	mu      sync.Mutex
	fetch   func(key models.ConversationKey) ([]models.MessageRow, error)
	threads map[string][]models.MessageRow
}

func (f *fakeFetcher) FetchMessages(ctx context.Context, key models.ConversationKey, excludeThreadReplies bool) ([]models.MessageRow, error) {
	f.mu.Lock()
	fn := f.fetch
	f.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(key)
}

func (f *fakeFetcher) FetchThreadReplies(ctx context.Context, rootID string) ([]models.MessageRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.threads[rootID], nil
}

type fakeSender struct {
	mu   sync.Mutex
	err  error
	reqs []backend.SendRequest
}

func (f *fakeSender) SendMessage(ctx context.Context, req backend.SendRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return "", f.err
	}
	return "srv-id", nil
}

type fakeDirectory struct {
	mu      sync.Mutex
	authors map[string]models.Author
	err     error
	lookups int
}

func (f *fakeDirectory) LookupDisplayInfo(ctx context.Context, userID string) (models.Author, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if f.err != nil {
		return models.Author{}, f.err
	}
	if a, ok := f.authors[userID]; ok {
		return a, nil
	}
	return models.Author{}, common.ErrNotFound
}

type fakeSub struct {
	events chan backend.PushEvent
	mu     sync.Mutex
	closed bool
}

func (s *fakeSub) Events() <-chan backend.PushEvent { return s.events }

func (s *fakeSub) Unsubscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
}

func (s *fakeSub) unsubscribed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakePush struct {
	mu     sync.Mutex
	err    error
	subs   []*fakeSub
	topics []string
}

func (p *fakePush) Subscribe(ctx context.Context, topic string) (backend.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	sub := &fakeSub{events: make(chan backend.PushEvent, 16)}
	p.subs = append(p.subs, sub)
	p.topics = append(p.topics, topic)
	return sub, nil
}

func (p *fakePush) last() *fakeSub {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.subs) == 0 {
		return nil
	}
	return p.subs[len(p.subs)-1]
}

func channelRow(id, sender, content string, at time.Time) models.MessageRow {
	return models.MessageRow{ID: id, ChannelID: "general", SenderID: sender, Content: content, CreatedAt: at}
}

type deps struct {
	fetcher *fakeFetcher
	sender  *fakeSender
	dir     *fakeDirectory
	push    *fakePush
}

func newTestSync(t *testing.T) (*Synchronizer, *deps) {
	t.Helper()
	d := &deps{
		fetcher: &fakeFetcher{},
		sender:  &fakeSender{},
		dir: &fakeDirectory{authors: map[string]models.Author{
			"me": {ID: "me", DisplayName: "Me"},
			"u2": {ID: "u2", DisplayName: "Bob"},
		}},
		push: &fakePush{},
	}
	s, err := New(Config{
		SelfID:    "me",
		Fetcher:   d.fetcher,
		Sender:    d.sender,
		Directory: d.dir,
		Push:      d.push,
	})
	require.NoError(t, err)
	return s, d
}

func pushAndSettle(t *testing.T, s *Synchronizer, sub *fakeSub, ev backend.PushEvent, want int) {
	t.Helper()
	sub.events <- ev
	require.Eventually(t, func() bool { return len(s.Messages()) == want }, time.Second, 2*time.Millisecond)
}

func TestOpen_LoadsSnapshotAndResolvesAuthors(t *testing.T) {
	s, d := newTestSync(t)
	d.fetcher.fetch = func(models.ConversationKey) ([]models.MessageRow, error) {
		return []models.MessageRow{
			channelRow("m1", "u2", "hi", base),
			channelRow("m2", "ghost", "boo", base.Add(time.Second)),
		}, nil
	}

	require.NoError(t, s.Open(context.Background(), models.NewChannelKey("general")))

	require.Equal(t, StateSynced, s.State())
	msgs := s.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "Bob", msgs[0].Author.DisplayName)
	require.Equal(t, "Unknown User", msgs[1].Author.DisplayName)
	require.Equal(t, []string{"channel:general"}, d.push.topics)
}

func TestOpen_SnapshotFailureSurfacesErrorState(t *testing.T) {
	s, d := newTestSync(t)
	d.fetcher.fetch = func(models.ConversationKey) ([]models.MessageRow, error) {
		return nil, errors.New("fetch down")
	}

	err := s.Open(context.Background(), models.NewChannelKey("general"))
	require.Error(t, err)
	require.Equal(t, StateError, s.State())
	require.ErrorIs(t, s.Err(), common.ErrTransport)
	require.Empty(t, s.Messages())
}

func TestOpen_SubscribeFailureDegradesToSnapshotOnly(t *testing.T) {
	s, d := newTestSync(t)
	d.push.err = errors.New("subscribe down")

	require.NoError(t, s.Open(context.Background(), models.NewChannelKey("general")))
	require.Equal(t, StateSynced, s.State())
}

func TestPush_DuplicateConfirmedEventIsIdempotent(t *testing.T) {
	s, d := newTestSync(t)
	require.NoError(t, s.Open(context.Background(), models.NewChannelKey("general")))
	sub := d.push.last()

	ev := backend.PushEvent{Table: backend.TableMessages, Op: backend.OpInsert, Message: ptr(channelRow("m1", "u2", "hi", base))}
	pushAndSettle(t, s, sub, ev, 1)
	sub.events <- ev

	time.Sleep(30 * time.Millisecond)
	require.Len(t, s.Messages(), 1)
}

func TestPush_OutOfOrderDeliveryKeepsCreatedAtOrder(t *testing.T) {
	s, d := newTestSync(t)
	require.NoError(t, s.Open(context.Background(), models.NewChannelKey("general")))
	sub := d.push.last()

	pushAndSettle(t, s, sub, backend.PushEvent{Table: backend.TableMessages, Message: ptr(channelRow("m2", "u2", "second", base.Add(time.Minute)))}, 1)
	pushAndSettle(t, s, sub, backend.PushEvent{Table: backend.TableMessages, Message: ptr(channelRow("m1", "u2", "first", base))}, 2)

	msgs := s.Messages()
	require.Equal(t, "m1", msgs[0].ID)
	require.Equal(t, "m2", msgs[1].ID)
}

func TestSubmit_OptimisticInsertThenConfirmedReconciles(t *testing.T) {
	s, d := newTestSync(t)
	require.NoError(t, s.Open(context.Background(), models.NewChannelKey("general")))
	sub := d.push.last()

	provID, err := s.Submit(context.Background(), "hello", nil)
	require.NoError(t, err)

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	require.True(t, msgs[0].Provisional)
	require.Equal(t, provID, msgs[0].ID)
	require.Equal(t, "Me", msgs[0].Author.DisplayName)

	d.sender.mu.Lock()
	corr := d.sender.reqs[0].CorrelationID
	d.sender.mu.Unlock()
	require.NotEmpty(t, corr)

	confirmed := channelRow("srv-id", "me", "hello", base.Add(time.Hour))
	confirmed.CorrelationID = corr
	sub.events <- backend.PushEvent{Table: backend.TableMessages, Message: &confirmed}

	require.Eventually(t, func() bool {
		m := s.Messages()
		return len(m) == 1 && !m[0].Provisional && m[0].ID == "srv-id"
	}, time.Second, 2*time.Millisecond)
}

func TestSubmit_EmptyMessageRejectedBeforeIO(t *testing.T) {
	s, d := newTestSync(t)
	require.NoError(t, s.Open(context.Background(), models.NewChannelKey("general")))

	_, err := s.Submit(context.Background(), "", nil)
	require.ErrorIs(t, err, common.ErrValidation)
	d.sender.mu.Lock()
	defer d.sender.mu.Unlock()
	require.Empty(t, d.sender.reqs)
}

func TestSubmit_AttachmentOnlyIsValid(t *testing.T) {
	s, _ := newTestSync(t)
	require.NoError(t, s.Open(context.Background(), models.NewChannelKey("general")))

	_, err := s.Submit(context.Background(), "", &models.Attachment{URL: "https://files/x.png"})
	require.NoError(t, err)
	require.Len(t, s.Messages(), 1)
}

func TestSubmit_SendFailureRemovesProvisional(t *testing.T) {
	s, d := newTestSync(t)
	require.NoError(t, s.Open(context.Background(), models.NewChannelKey("general")))
	d.sender.err = errors.New("send down")

	_, err := s.Submit(context.Background(), "hello", nil)
	require.ErrorIs(t, err, common.ErrTransport)
	require.Empty(t, s.Messages())
}

func TestSubmit_RequiresSyncedState(t *testing.T) {
	s, _ := newTestSync(t)
	_, err := s.Submit(context.Background(), "hello", nil)
	require.ErrorIs(t, err, ErrNotOpen)
}

func TestPush_FiltersForeignAndThreadEvents(t *testing.T) {
	s, d := newTestSync(t)
	require.NoError(t, s.Open(context.Background(), models.NewChannelKey("general")))
	sub := d.push.last()

	other := channelRow("m1", "u2", "hi", base)
	other.ChannelID = "random"
	sub.events <- backend.PushEvent{Table: backend.TableMessages, Message: &other}

	reply := channelRow("m2", "u2", "threaded", base)
	reply.ThreadParentID = "root-1"
	sub.events <- backend.PushEvent{Table: backend.TableMessages, Message: &reply}

	dm := models.MessageRow{ID: "m3", SenderID: "u7", ReceiverID: "u8", Content: "psst", CreatedAt: base}
	sub.events <- backend.PushEvent{Table: backend.TableMessages, Message: &dm}

	time.Sleep(30 * time.Millisecond)
	require.Empty(t, s.Messages())
}

func TestOpenThread_AcceptsOnlyItsOwnReplies(t *testing.T) {
	s, d := newTestSync(t)
	d.fetcher.threads = map[string][]models.MessageRow{"root-1": {}}

	require.NoError(t, s.OpenThread(context.Background(), models.NewChannelKey("general"), "root-1"))
	sub := d.push.last()

	parent := channelRow("m1", "u2", "top level", base)
	sub.events <- backend.PushEvent{Table: backend.TableMessages, Message: &parent}

	wrongThread := channelRow("m2", "u2", "elsewhere", base)
	wrongThread.ThreadParentID = "root-2"
	sub.events <- backend.PushEvent{Table: backend.TableMessages, Message: &wrongThread}

	mine := channelRow("m3", "u2", "in thread", base)
	mine.ThreadParentID = "root-1"
	pushAndSettle(t, s, sub, backend.PushEvent{Table: backend.TableMessages, Message: &mine}, 1)

	require.Equal(t, "m3", s.Messages()[0].ID)
}

func TestOpen_StaleSnapshotDiscardedAfterSwitch(t *testing.T) {
	s, d := newTestSync(t)

	release := make(chan struct{})
	d.fetcher.fetch = func(key models.ConversationKey) ([]models.MessageRow, error) {
		if key.ChannelID == "a" {
			<-release
			return []models.MessageRow{{ID: "a1", ChannelID: "a", SenderID: "u2", Content: "stale", CreatedAt: base}}, nil
		}
		return []models.MessageRow{{ID: "b1", ChannelID: "b", SenderID: "u2", Content: "fresh", CreatedAt: base}}, nil
	}

	done := make(chan error, 1)
	go func() { done <- s.Open(context.Background(), models.NewChannelKey("a")) }()

	// Let A reach its (blocked) fetch, then switch to B.
	require.Eventually(t, func() bool { return s.State() == StateLoading }, time.Second, time.Millisecond)
	require.NoError(t, s.Open(context.Background(), models.NewChannelKey("b")))

	close(release)
	require.NoError(t, <-done)

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "b1", msgs[0].ID)
}

func TestOpen_UnsubscribesOldBeforeSubscribingNew(t *testing.T) {
	s, d := newTestSync(t)
	require.NoError(t, s.Open(context.Background(), models.NewChannelKey("a")))
	old := d.push.last()

	require.NoError(t, s.Open(context.Background(), models.NewChannelKey("b")))
	require.True(t, old.unsubscribed())
	require.Equal(t, []string{"channel:a", "channel:b"}, d.push.topics)
}

func TestClose_TearsDown(t *testing.T) {
	s, d := newTestSync(t)
	require.NoError(t, s.Open(context.Background(), models.NewChannelKey("a")))
	sub := d.push.last()

	s.Close()
	require.Equal(t, StateClosed, s.State())
	require.True(t, sub.unsubscribed())

	require.ErrorIs(t, s.Open(context.Background(), models.NewChannelKey("b")), common.ErrClosed)
}

type memMessageStore struct {
	mu    sync.Mutex
	lists map[string][]models.Message
}

func (m *memMessageStore) SaveMessages(ctx context.Context, scopeKey string, msgs []models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lists == nil {
		m.lists = make(map[string][]models.Message)
	}
	m.lists[scopeKey] = msgs
	return nil
}

func (m *memMessageStore) LoadMessages(ctx context.Context, scopeKey string) ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lists[scopeKey], nil
}

func TestOpen_WarmStartFromStoreWhileLoading(t *testing.T) {
	d := &deps{
		fetcher: &fakeFetcher{},
		sender:  &fakeSender{},
		dir:     &fakeDirectory{},
		push:    &fakePush{},
	}
	store := &memMessageStore{lists: map[string][]models.Message{
		"channel:general": {{ID: "cached-1", Content: "from cache", CreatedAt: base}},
	}}
	s, err := New(Config{
		SelfID:  "me",
		Fetcher: d.fetcher,
		Sender:  d.sender,
		Push:    d.push,
		Store:   store,
	})
	require.NoError(t, err)

	release := make(chan struct{})
	d.fetcher.fetch = func(models.ConversationKey) ([]models.MessageRow, error) {
		<-release
		return []models.MessageRow{channelRow("m1", "u2", "fresh", base)}, nil
	}

	done := make(chan error, 1)
	go func() { done <- s.Open(context.Background(), models.NewChannelKey("general")) }()

	require.Eventually(t, func() bool {
		m := s.Messages()
		return len(m) == 1 && m[0].ID == "cached-1" && s.State() == StateLoading
	}, time.Second, time.Millisecond)

	close(release)
	require.NoError(t, <-done)
	require.Eventually(t, func() bool {
		m := s.Messages()
		return len(m) == 1 && m[0].ID == "m1" && s.State() == StateSynced
	}, time.Second, time.Millisecond)
}

func ptr[T any](v T) *T { return &v }
