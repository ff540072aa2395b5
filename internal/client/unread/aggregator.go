// Package unread aggregates the raw stream of "unread changed" push events
// into a debounced, quota-limited, per-conversation count feed for the
// sidebar badge display.
//
// The push transport can emit bursts of near-duplicate notifications when
// several messages land within milliseconds. Re-fetching per event would be
// redundant work and visible jitter, so the aggregator collapses each burst
// into one authoritative snapshot fetch per quiescent period.
package unread

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/anthonyharley32/chatsync/internal/client/backend"
	"github.com/anthonyharley32/chatsync/internal/client/models"
	"github.com/anthonyharley32/chatsync/internal/client/sched"
	"github.com/anthonyharley32/chatsync/internal/logging"
)

const (
	// DefaultBatchDelay is the trailing-edge debounce window.
	DefaultBatchDelay = 2 * time.Second
	// DefaultMaxPerDay caps accepted activity events per day.
	DefaultMaxPerDay = 10
	// DefaultResetCron fires at local midnight.
	DefaultResetCron = "0 0 * * *"
)

// Store persists last-known unread state so a fresh session shows counts
// before the first snapshot returns. Optional; a nil Store disables it.
type Store interface {
	SaveUnread(ctx context.Context, userID string, records []models.UnreadRecord) error
	LoadUnread(ctx context.Context, userID string) ([]models.UnreadRecord, error)
}

// Config wires an Aggregator. UserID, Fetcher and MarkRead are required;
// Push and Store are optional (no live updates / no warm start without
// them). Zero timing fields fall back to the defaults above.
type Config struct {
	UserID     string
	Fetcher    backend.SnapshotFetcher
	MarkRead   backend.MarkReadRPC
	Push       backend.PushChannel
	Store      Store
	Log        logging.Logger
	BatchDelay time.Duration
	MaxPerDay  int
	ResetCron  string
}

// Aggregator owns the per-conversation unread counts of one identity. All
// state is private to the instance; callers interact only through methods
// and the Updates channel. Safe for concurrent use.
type Aggregator struct {
	cfg Config
	log logging.Logger

	mu        sync.Mutex
	counts    map[models.ConversationKey]models.UnreadRecord
	lastEvent map[models.ConversationKey]time.Time
	accepted  int

	deb     *sched.Debouncer
	updates chan struct{}
	now     func() time.Time
}

func New(cfg Config) (*Aggregator, error) {
	if cfg.UserID == "" || cfg.Fetcher == nil || cfg.MarkRead == nil {
		return nil, fmt.Errorf("unread: UserID, Fetcher and MarkRead are required")
	}
	if cfg.BatchDelay <= 0 {
		cfg.BatchDelay = DefaultBatchDelay
	}
	if cfg.MaxPerDay <= 0 {
		cfg.MaxPerDay = DefaultMaxPerDay
	}
	if cfg.ResetCron == "" {
		cfg.ResetCron = DefaultResetCron
	}
	if cfg.Log == nil {
		cfg.Log = logging.Discard()
	}

	a := &Aggregator{
		cfg:       cfg,
		log:       cfg.Log.With("component", "unread", "user", cfg.UserID),
		counts:    make(map[models.ConversationKey]models.UnreadRecord),
		lastEvent: make(map[models.ConversationKey]time.Time),
		updates:   make(chan struct{}, 1),
		now:       time.Now,
	}
	a.deb = sched.NewDebouncer(cfg.BatchDelay, func() { a.Refresh(context.Background()) })
	return a, nil
}

// Start warms the counts from the store, fetches the first authoritative
// snapshot, subscribes to the push topic, and arms the daily quota reset.
// A push subscription failure degrades to snapshot-only and is not fatal.
// Start returns once the initial state is in place; background work stops
// when ctx is cancelled.
func (a *Aggregator) Start(ctx context.Context) error {
	if a.cfg.Store != nil {
		if cached, err := a.cfg.Store.LoadUnread(ctx, a.cfg.UserID); err != nil {
			a.log.Warn(ctx, "unread cache load failed", "error", err)
		} else if len(cached) > 0 {
			a.apply(cached, false)
		}
	}

	a.Refresh(ctx)

	if err := sched.RunCron(ctx, a.cfg.ResetCron, a.resetQuota); err != nil {
		return fmt.Errorf("unread: quota reset schedule: %w", err)
	}

	if a.cfg.Push != nil {
		sub, err := a.cfg.Push.Subscribe(ctx, backend.UnreadTopic(a.cfg.UserID))
		if err != nil {
			a.log.Warn(ctx, "push subscribe failed, live updates disabled", "error", err)
		} else {
			go a.consume(ctx, sub)
		}
	}

	go func() {
		<-ctx.Done()
		a.deb.Stop()
	}()
	return nil
}

func (a *Aggregator) consume(ctx context.Context, sub backend.Subscription) {
	defer sub.Unsubscribe()
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			a.HandleActivity(ev)
		case <-ctx.Done():
			return
		}
	}
}

// HandleActivity ingests one push event. Events for other identities or
// other tables are discarded. Once the daily quota is exhausted the event is
// ignored outright: no state mutation, no fetch.
func (a *Aggregator) HandleActivity(ev backend.PushEvent) {
	if ev.Table != backend.TableUnread || ev.Unread == nil {
		return
	}
	if ev.Unread.UserID != a.cfg.UserID {
		return
	}

	a.mu.Lock()
	if a.accepted >= a.cfg.MaxPerDay {
		a.mu.Unlock()
		return
	}
	a.accepted++
	a.lastEvent[ev.Unread.Key()] = a.now()
	a.mu.Unlock()

	// One refresh per quiescent period; triggers during a pending cycle
	// are absorbed and the trailing fetch captures the latest state.
	a.deb.Trigger()
}

// Refresh performs one authoritative snapshot fetch. On failure the prior
// counts stay untouched: stale-but-consistent beats empty-but-wrong.
func (a *Aggregator) Refresh(ctx context.Context) {
	records, err := a.cfg.Fetcher.FetchUnread(ctx, a.cfg.UserID)
	if err != nil {
		a.log.Error(ctx, "unread snapshot fetch failed", "error", err)
		return
	}

	a.apply(records, true)

	if a.cfg.Store != nil {
		if err := a.cfg.Store.SaveUnread(ctx, a.cfg.UserID, a.dedupe(records)); err != nil {
			a.log.Warn(ctx, "unread cache save failed", "error", err)
		}
	}
}

// dedupe collapses duplicate rows per (channel, dm-user) pair, which the
// backing store can return during eventual-consistency windows. The row
// with the latest LastActivityAt wins regardless of snapshot order.
func (a *Aggregator) dedupe(records []models.UnreadRecord) []models.UnreadRecord {
	byKey := make(map[models.ConversationKey]models.UnreadRecord, len(records))
	order := make([]models.ConversationKey, 0, len(records))
	for _, r := range records {
		key := r.Key()
		prev, seen := byKey[key]
		if !seen {
			byKey[key] = r
			order = append(order, key)
			continue
		}
		if r.LastActivityAt.After(prev.LastActivityAt) {
			byKey[key] = r
		}
	}

	out := make([]models.UnreadRecord, 0, len(order))
	for _, key := range order {
		out = append(out, byKey[key])
	}
	return out
}

func (a *Aggregator) apply(records []models.UnreadRecord, authoritative bool) {
	deduped := a.dedupe(records)

	a.mu.Lock()
	if authoritative {
		a.counts = make(map[models.ConversationKey]models.UnreadRecord, len(deduped))
	}
	for _, r := range deduped {
		a.counts[r.Key()] = r
	}
	a.mu.Unlock()

	a.notify()
}

// Count returns the unread count of one conversation (zero if unknown).
func (a *Aggregator) Count(key models.ConversationKey) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counts[key].Count
}

// LastActivity reports when the most recent accepted activity event for
// the conversation arrived. The zero time means no event has been accepted
// since the session (or the daily reset) began.
func (a *Aggregator) LastActivity(key models.ConversationKey) time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastEvent[key]
}

// Counts returns a copy of the full count map.
func (a *Aggregator) Counts() map[models.ConversationKey]int {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[models.ConversationKey]int, len(a.counts))
	for key, r := range a.counts {
		out[key] = r.Count
	}
	return out
}

// MarkRead zeroes the local count immediately so the badge reacts before
// the RPC resolves, then issues the external reset. On RPC failure one
// authoritative re-fetch self-corrects; the error is still returned for
// caller messaging.
func (a *Aggregator) MarkRead(ctx context.Context, key models.ConversationKey) error {
	a.mu.Lock()
	if r, ok := a.counts[key]; ok {
		r.Count = 0
		a.counts[key] = r
	}
	a.mu.Unlock()
	a.notify()

	if err := a.cfg.MarkRead.ResetUnread(ctx, a.cfg.UserID, key); err != nil {
		a.log.Warn(ctx, "mark read rpc failed, re-fetching", "key", key.String(), "error", err)
		a.Refresh(ctx)
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// Updates signals (coalesced) whenever the count map changes.
func (a *Aggregator) Updates() <-chan struct{} {
	return a.updates
}

func (a *Aggregator) notify() {
	select {
	case a.updates <- struct{}{}:
	default:
	}
}

func (a *Aggregator) resetQuota() {
	a.mu.Lock()
	a.accepted = 0
	a.mu.Unlock()
}
