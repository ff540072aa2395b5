// Package ws implements backend.PushChannel over a single multiplexed
// WebSocket. Subscriptions are registered with the server through
// subscribe/unsubscribe frames; inbound frames carry typed table rows and
// are fanned out to the matching subscriptions.
//
// Delivery is best effort: the transport gives no guarantee across
// disconnects, and a slow consumer loses events rather than stalling the
// read loop. Consumers treat pushed rows as hints, never as truth — the
// snapshot fetched on open, refresh and mark-read failure is what settles
// the state.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/anthonyharley32/chatsync/internal/client/backend"
	"github.com/anthonyharley32/chatsync/internal/client/models"
	"github.com/anthonyharley32/chatsync/internal/common"
	"github.com/anthonyharley32/chatsync/internal/logging"
)

const eventBuffer = 32

// Frame is the wire shape in both directions. Outbound frames carry Action
// and Topic; inbound frames carry Topic, Table, Op and Row.
type Frame struct {
	Action string          `json:"action,omitempty"`
	Topic  string          `json:"topic"`
	Table  string          `json:"table,omitempty"`
	Op     string          `json:"op,omitempty"`
	Row    json.RawMessage `json:"row,omitempty"`
}

// Channel is one multiplexed push connection. Safe for concurrent use.
type Channel struct {
	conn *websocket.Conn
	log  logging.Logger

	writeMu sync.Mutex

	mu     sync.Mutex
	subs   map[string]map[*subscription]struct{}
	closed bool
}

// Dial connects the push socket, authenticating with the given bearer
// token, and starts the read loop.
func Dial(ctx context.Context, url, token string, log logging.Logger) (*Channel, error) {
	if log == nil {
		log = logging.Discard()
	}
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial push socket: %w: %v", common.ErrTransport, err)
	}

	c := &Channel{
		conn: conn,
		log:  log.With("component", "ws"),
		subs: make(map[string]map[*subscription]struct{}),
	}
	go c.readLoop()
	return c, nil
}

type subscription struct {
	parent *Channel
	topic  string
	events chan backend.PushEvent
	once   sync.Once
}

func (s *subscription) Events() <-chan backend.PushEvent { return s.events }

func (s *subscription) Unsubscribe() {
	s.once.Do(func() { s.parent.remove(s) })
}

// Subscribe registers interest in one topic. The first subscription of a
// topic sends the subscribe frame; further ones share the stream.
func (c *Channel) Subscribe(ctx context.Context, topic string) (backend.Subscription, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, common.ErrClosed
	}
	sub := &subscription{parent: c, topic: topic, events: make(chan backend.PushEvent, eventBuffer)}
	first := c.subs[topic] == nil
	if first {
		c.subs[topic] = make(map[*subscription]struct{})
	}
	c.subs[topic][sub] = struct{}{}
	c.mu.Unlock()

	if first {
		if err := c.write(Frame{Action: "subscribe", Topic: topic}); err != nil {
			c.remove(sub)
			return nil, err
		}
	}
	return sub, nil
}

func (c *Channel) remove(sub *subscription) {
	c.mu.Lock()
	set := c.subs[sub.topic]
	_, present := set[sub]
	if present {
		delete(set, sub)
		if len(set) == 0 {
			delete(c.subs, sub.topic)
		}
		// Closing under the lock keeps dispatch from racing a send against
		// it. A sub that is gone from the registry was already closed by
		// Close or the read loop; closing again would panic.
		close(sub.events)
	}
	last := present && len(set) == 0
	closed := c.closed
	c.mu.Unlock()

	if last && !closed {
		// Best effort; the server also drops topics on disconnect.
		_ = c.write(Frame{Action: "unsubscribe", Topic: sub.topic})
	}
}

// Close tears the connection down and closes all subscription streams.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	for _, sub := range c.drainLocked() {
		close(sub.events)
	}
	c.mu.Unlock()

	return c.conn.Close()
}

func (c *Channel) drainLocked() []*subscription {
	var all []*subscription
	for _, set := range c.subs {
		for sub := range set {
			all = append(all, sub)
		}
	}
	c.subs = make(map[string]map[*subscription]struct{})
	return all
}

func (c *Channel) write(f Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(f); err != nil {
		return fmt.Errorf("push socket write: %w: %v", common.ErrTransport, err)
	}
	return nil
}

func (c *Channel) readLoop() {
	ctx := context.Background()
	for {
		var f Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			c.mu.Lock()
			wasClosed := c.closed
			c.closed = true
			for _, sub := range c.drainLocked() {
				close(sub.events)
			}
			c.mu.Unlock()

			if !wasClosed {
				c.log.Warn(ctx, "push socket read failed, live updates stopped", "error", err)
				_ = c.conn.Close()
			}
			return
		}

		ev, err := decodeEvent(f)
		if err != nil {
			c.log.Warn(ctx, "discarding malformed push frame", "topic", f.Topic, "table", f.Table, "error", err)
			continue
		}

		c.dispatch(ctx, f.Topic, ev)
	}
}

// dispatch fans one event out to the topic's subscriptions. The send is
// non-blocking, so holding the lock here is cheap and rules out a send
// racing an Unsubscribe close.
func (c *Channel) dispatch(ctx context.Context, topic string, ev backend.PushEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for sub := range c.subs[topic] {
		select {
		case sub.events <- ev:
		default:
			c.log.Warn(ctx, "slow consumer, dropping push event", "topic", topic)
		}
	}
}

func decodeEvent(f Frame) (backend.PushEvent, error) {
	ev := backend.PushEvent{Table: f.Table, Op: f.Op}
	switch f.Table {
	case backend.TableMessages:
		var row models.MessageRow
		if err := json.Unmarshal(f.Row, &row); err != nil {
			return backend.PushEvent{}, fmt.Errorf("decode message row: %w", err)
		}
		ev.Message = &row
	case backend.TableUnread:
		var row models.UnreadRecord
		if err := json.Unmarshal(f.Row, &row); err != nil {
			return backend.PushEvent{}, fmt.Errorf("decode unread row: %w", err)
		}
		ev.Unread = &row
	default:
		return backend.PushEvent{}, fmt.Errorf("unknown table %q", f.Table)
	}
	return ev, nil
}
