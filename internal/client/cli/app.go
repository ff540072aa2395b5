// Package cli is the interactive terminal frontend. It wires the REST and
// WebSocket adapters, the local cache, the conversation synchronizer and
// the unread aggregator into a small REPL.
package cli

import (
	"bufio"
	"context"
	"os"
	"strings"

	"github.com/anthonyharley32/chatsync/internal/client/backend/rest"
	"github.com/anthonyharley32/chatsync/internal/client/backend/ws"
	"github.com/anthonyharley32/chatsync/internal/client/cache"
	"github.com/anthonyharley32/chatsync/internal/client/config"
	"github.com/anthonyharley32/chatsync/internal/client/convsync"
	"github.com/anthonyharley32/chatsync/internal/client/models"
	"github.com/anthonyharley32/chatsync/internal/client/ratelimit"
	"github.com/anthonyharley32/chatsync/internal/client/unread"
	"github.com/anthonyharley32/chatsync/internal/logging"

	_ "modernc.org/sqlite"
)

// App holds the client session: unauthenticated it carries only the API
// client and the cache; login fills in the identity, the push channel and
// the unread aggregator, and opening a conversation creates a synchronizer.
type App struct {
	cfg     *config.Config
	log     logging.Logger
	api     *rest.Client
	store   *cache.Cache
	limiter *ratelimit.Limiter
	reader  *bufio.Reader

	self      rest.User
	push      *ws.Channel
	agg       *unread.Aggregator
	aggCancel context.CancelFunc
	conv      *convsync.Synchronizer
	convKey   models.ConversationKey
	convRoot  string
}

func NewApp(cfg *config.Config, log logging.Logger) (*App, error) {
	if log == nil {
		log = logging.Discard()
	}

	store, err := cache.Open(context.Background(), cfg.CacheDSN)
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:     cfg,
		log:     log.With("component", "cli"),
		api:     rest.New(cfg.ServerURL),
		store:   store,
		limiter: ratelimit.New(),
		reader:  bufio.NewReader(os.Stdin),
	}, nil
}

func (a *App) isLoggedIn() bool {
	return a.self.ID != ""
}

// pushURL resolves the socket endpoint: the configured one, or the REST
// base with the scheme swapped and /ws appended.
func (a *App) pushURL() string {
	if a.cfg.WSURL != "" {
		return a.cfg.WSURL
	}
	u := a.cfg.ServerURL
	if strings.HasPrefix(u, "https") {
		u = "wss" + strings.TrimPrefix(u, "https")
	} else {
		u = "ws" + strings.TrimPrefix(u, "http")
	}
	return strings.TrimSuffix(u, "/") + "/ws"
}

// connect brings up the session after authentication: dials the push
// socket and starts the unread aggregator. A socket failure is logged and
// tolerated; the session then runs snapshot-only.
func (a *App) connect(ctx context.Context, user rest.User) {
	a.self = user

	push, err := ws.Dial(ctx, a.pushURL(), a.api.Token(), a.log)
	if err != nil {
		a.log.Warn(ctx, "push socket unavailable, running snapshot-only", "error", err)
		push = nil
	}
	a.push = push

	cfg := unread.Config{
		UserID:     user.ID,
		Fetcher:    a.api,
		MarkRead:   a.api,
		Store:      a.store,
		Log:        a.log,
		BatchDelay: a.cfg.BatchDelay,
		MaxPerDay:  a.cfg.MaxUnreadPerDay,
		ResetCron:  a.cfg.UnreadResetCron,
	}
	if push != nil {
		cfg.Push = push
	}
	agg, err := unread.New(cfg)
	if err != nil {
		a.log.Error(ctx, "unread aggregator init failed", "error", err)
		return
	}

	aggCtx, cancel := context.WithCancel(ctx)
	if err := agg.Start(aggCtx); err != nil {
		a.log.Warn(ctx, "unread aggregator start degraded", "error", err)
	}
	a.agg = agg
	a.aggCancel = cancel
}

// openScope replaces the current conversation view.
func (a *App) openScope(ctx context.Context, key models.ConversationKey, rootID string) error {
	if a.conv != nil {
		a.conv.Close()
	}

	cfg := convsync.Config{
		SelfID:    a.self.ID,
		Fetcher:   a.api,
		Sender:    a.api,
		Directory: a.api,
		Store:     a.store,
		Log:       a.log,
	}
	if a.push != nil {
		cfg.Push = a.push
	}
	conv, err := convsync.New(cfg)
	if err != nil {
		return err
	}

	if rootID != "" {
		err = conv.OpenThread(ctx, key, rootID)
	} else {
		err = conv.Open(ctx, key)
	}
	if err != nil {
		return err
	}
	a.conv = conv
	a.convKey = key
	a.convRoot = rootID
	return nil
}

// Shutdown tears the session down: the open conversation, the aggregator,
// the push socket and the cache handle.
func (a *App) Shutdown() {
	if a.conv != nil {
		a.conv.Close()
		a.conv = nil
	}
	if a.aggCancel != nil {
		a.aggCancel()
		a.aggCancel = nil
	}
	if a.push != nil {
		_ = a.push.Close()
		a.push = nil
	}
	_ = a.store.Close()
}

func (a *App) Run(ctx context.Context) {
	defer a.Shutdown()
	scanner := bufio.NewScanner(os.Stdin)
	runREPL(ctx, a, a.status, scanner)
}

// status renders the prompt suffix: the logged-in display name and the
// open conversation, if any.
func (a *App) status() string {
	if !a.isLoggedIn() {
		return "logged out"
	}
	s := a.self.DisplayName
	if a.conv != nil {
		s += " @ " + a.convKey.String()
		if a.convRoot != "" {
			s += " [thread]"
		}
	}
	return s
}
