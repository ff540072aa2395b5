// Package dedup reconciles incoming confirmed events against an ordered
// message list that may contain provisional (optimistic) entries. Reconcile
// is pure: it never mutates its input and performs no I/O, which keeps the
// merge behavior testable in isolation.
package dedup

import (
	"github.com/anthonyharley32/chatsync/internal/client/models"
)

// MatchFunc decides whether a provisional entry corresponds to an incoming
// confirmed message. Strategies are pluggable; see MatchByCorrelationID and
// MatchByContent.
type MatchFunc func(provisional, incoming models.Message) bool

// MatchByCorrelationID matches a provisional entry whose correlation id was
// echoed back on the confirmed row. This is the reliable strategy: two
// identical messages sent in quick succession cannot be confused.
func MatchByCorrelationID(provisional, incoming models.Message) bool {
	return incoming.CorrelationID != "" && provisional.CorrelationID == incoming.CorrelationID
}

// MatchByContent matches a provisional entry by same author, same
// conversation, and byte-equal content. This mirrors the legacy heuristic;
// it can misattribute when the same content is sent twice before either
// confirms, so it is only the fallback for rows without a correlation id.
func MatchByContent(provisional, incoming models.Message) bool {
	return provisional.Author.ID == incoming.Author.ID &&
		provisional.Conversation == incoming.Conversation &&
		provisional.Content == incoming.Content
}

// DefaultMatch prefers the correlation id when the incoming row carries one
// and falls back to content equality otherwise.
func DefaultMatch(provisional, incoming models.Message) bool {
	if incoming.CorrelationID != "" {
		return MatchByCorrelationID(provisional, incoming)
	}
	return MatchByContent(provisional, incoming)
}

// Reconcile merges one incoming confirmed message into list and returns the
// resulting list. Three outcomes:
//
//   - the confirmed id is already present: list is returned unchanged, so
//     re-applying the same event is a no-op;
//   - a provisional entry matches: it is materialized in place, keeping its
//     display position;
//   - the message is new: it is inserted preserving CreatedAt order, ties
//     broken by arrival (the newcomer goes after equal timestamps).
func Reconcile(list []models.Message, incoming models.Message, match MatchFunc) []models.Message {
	if match == nil {
		match = DefaultMatch
	}

	for _, m := range list {
		if !m.Provisional && m.ID == incoming.ID {
			return list
		}
	}

	// Oldest unmatched provisional candidate wins.
	for i, m := range list {
		if m.Provisional && match(m, incoming) {
			out := make([]models.Message, len(list))
			copy(out, list)
			out[i] = incoming
			return out
		}
	}

	at := len(list)
	for i, m := range list {
		if m.CreatedAt.After(incoming.CreatedAt) {
			at = i
			break
		}
	}

	out := make([]models.Message, 0, len(list)+1)
	out = append(out, list[:at]...)
	out = append(out, incoming)
	out = append(out, list[at:]...)
	return out
}

// RemoveProvisional drops the provisional entry with the given id, if
// present. Used when a send fails. Pure like Reconcile.
func RemoveProvisional(list []models.Message, id string) []models.Message {
	for i, m := range list {
		if m.Provisional && m.ID == id {
			out := make([]models.Message, 0, len(list)-1)
			out = append(out, list[:i]...)
			out = append(out, list[i+1:]...)
			return out
		}
	}
	return list
}
