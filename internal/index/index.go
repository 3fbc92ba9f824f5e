// Package index maintains the ordered conversation-id -> summary mapping.
// It is mutated only from the engine's dispatch path; every read hands out
// a snapshot, never shared state.
package index

import (
	"strings"
	"sync"
	"time"

	"github.com/merchantdesk/chatsync/internal/chat"
)

// Patch is a shallow merge applied by Upsert: nil fields preserve the
// existing value, non-nil fields win.
type Patch struct {
	CounterpartyName  *string
	CounterpartyEmail *string
	LastMessage       *string
	LastMessageAt     *int64
	MessageCount      *int
	UnreadCount       *int
}

// Index is the conversation list, most-recently-inserted first.
type Index struct {
	mu   sync.RWMutex
	rows []chat.Conversation
	pos  map[int64]int
}

// New creates an empty index.
func New() *Index {
	return &Index{pos: make(map[int64]int)}
}

// ApplyBulkList replaces the entire index wholesale. The list is
// authoritative: rows absent from it are dropped. Duplicate ids within the
// list keep their first occurrence.
func (ix *Index) ApplyBulkList(list []chat.Conversation) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.rows = ix.rows[:0]
	ix.pos = make(map[int64]int, len(list))
	for _, c := range list {
		if _, seen := ix.pos[c.ID]; seen {
			continue
		}
		ix.pos[c.ID] = len(ix.rows)
		ix.rows = append(ix.rows, c)
	}
}

// ApplyUpsert merges patch over an existing row, preserving its position,
// or prepends a new row when the id is unseen. New rows default the message
// count to 1 and the timestamp to now, so a conversation first reported by
// a push event still renders sensibly.
func (ix *Index) ApplyUpsert(conversationID int64, patch Patch) chat.Conversation {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if i, ok := ix.pos[conversationID]; ok {
		merge(&ix.rows[i], patch)
		return ix.rows[i]
	}

	row := chat.Conversation{
		ID:            conversationID,
		LastMessageAt: time.Now().UnixMilli(),
		MessageCount:  1,
	}
	merge(&row, patch)

	ix.rows = append(ix.rows, chat.Conversation{})
	copy(ix.rows[1:], ix.rows)
	ix.rows[0] = row
	for id, i := range ix.pos {
		ix.pos[id] = i + 1
	}
	ix.pos[conversationID] = 0
	return row
}

// Get returns a copy of one row.
func (ix *Index) Get(conversationID int64) (chat.Conversation, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	i, ok := ix.pos[conversationID]
	if !ok {
		return chat.Conversation{}, false
	}
	return ix.rows[i], true
}

// Snapshot returns a copy of all rows in iteration order.
func (ix *Index) Snapshot() []chat.Conversation {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]chat.Conversation, len(ix.rows))
	copy(out, ix.rows)
	return out
}

// Filter returns the rows whose counterparty name or email contains the
// query, case-insensitive. A pure query: the index is not touched.
func (ix *Index) Filter(query string) []chat.Conversation {
	q := strings.ToLower(query)
	if q == "" {
		return ix.Snapshot()
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()
	var out []chat.Conversation
	for _, c := range ix.rows {
		if strings.Contains(strings.ToLower(c.CounterpartyName), q) ||
			strings.Contains(strings.ToLower(c.CounterpartyEmail), q) {
			out = append(out, c)
		}
	}
	return out
}

// Len returns the number of rows.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.rows)
}

func merge(row *chat.Conversation, p Patch) {
	if p.CounterpartyName != nil {
		row.CounterpartyName = *p.CounterpartyName
	}
	if p.CounterpartyEmail != nil {
		row.CounterpartyEmail = *p.CounterpartyEmail
	}
	if p.LastMessage != nil {
		row.LastMessage = *p.LastMessage
	}
	if p.LastMessageAt != nil {
		row.LastMessageAt = *p.LastMessageAt
	}
	if p.MessageCount != nil {
		row.MessageCount = *p.MessageCount
	}
	if p.UnreadCount != nil {
		row.UnreadCount = *p.UnreadCount
	}
}

// Ptr is a convenience for building patches.
func Ptr[T any](v T) *T { return &v }
