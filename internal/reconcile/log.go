// Package reconcile merges the three writers of the open conversation log —
// bulk history fetch, server push, local optimistic send — into one
// duplicate-free, ordered sequence. It is pure state: no transport, no
// logging, so every merge rule is unit-testable without a socket.
package reconcile

import (
	"fmt"
	"sync"
	"time"

	"github.com/merchantdesk/chatsync/internal/chat"
)

// HeuristicWindowMillis bounds the timestamp delta of the duplicate-echo
// match for pushes that carry no server id. Wide enough for a slow echo,
// narrow enough that two deliberate identical messages sent seconds apart
// both survive. Two identical messages inside the window still collapse;
// that is an accepted limitation of the protocol, not a bug here.
const HeuristicWindowMillis = 2000

// State of the open log with respect to its history fetch.
type State string

const (
	Empty   State = "EMPTY"
	Loading State = "LOADING"
	Loaded  State = "LOADED"
)

// Outcome reports what ApplyPush did with an event.
type Outcome int

const (
	// Appended: the event was new and is now in the log.
	Appended Outcome = iota
	// DuplicateID: an entry with the same server id already exists.
	DuplicateID
	// DuplicateEcho: the event matched an existing entry by body, sender
	// and timestamp proximity (the id-less self-echo case).
	DuplicateEcho
	// Buffered: a history load for this conversation is in flight; the
	// event is queued and replayed once the load resolves.
	Buffered
	// Ignored: the event is not for the open conversation, or no
	// conversation is open.
	Ignored
)

// Log is the per-open-conversation message log.
type Log struct {
	mu      sync.RWMutex
	state   State
	openID  int64
	entries []chat.Message

	// pending holds pushes that arrived while the history fetch for the
	// open conversation was in flight.
	pending []chat.Message

	lastProvisional int64
}

// NewLog creates an empty log with no open conversation.
func NewLog() *Log {
	return &Log{state: Empty}
}

// Open switches the log to a new conversation: previous entries are
// discarded and the log enters Loading until the history for exactly this
// conversation id arrives.
func (l *Log) Open(conversationID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.openID = conversationID
	l.state = Loading
	l.entries = nil
	l.pending = nil
}

// Clear empties the log and forgets the open conversation.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.openID = 0
	l.state = Empty
	l.entries = nil
	l.pending = nil
}

// LoadHistory replaces the log wholesale with the fetched history. The
// conversation id is the staleness guard: a response for a conversation
// that is no longer open is discarded, whatever order responses arrive in.
// Pushes buffered during the load are replayed on top, in arrival order.
// Returns false when the response was stale and dropped.
func (l *Log) LoadHistory(conversationID int64, msgs []chat.Message) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != Loading || l.openID != conversationID {
		return false
	}

	l.entries = make([]chat.Message, len(msgs))
	copy(l.entries, msgs)
	l.state = Loaded

	for _, m := range l.pending {
		l.applyLocked(m)
	}
	l.pending = nil
	return true
}

// ApplyOptimistic appends a locally-originated message before any server
// acknowledgment, under a provisional id. The returned copy carries the
// assigned id so the caller can correlate a later resolution.
func (l *Log) ApplyOptimistic(msg chat.Message) (chat.Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != Loaded {
		return chat.Message{}, fmt.Errorf("no loaded conversation (state %s)", l.state)
	}
	if msg.ConversationID != l.openID {
		return chat.Message{}, fmt.Errorf("message for conversation %d, open is %d", msg.ConversationID, l.openID)
	}

	msg.ID = l.nextProvisionalLocked()
	msg.FromMe = true
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	l.entries = append(l.entries, msg)
	return msg, nil
}

// ApplyPush merges a server-pushed message. Identity resolution precedence:
// exact server-id match discards, then the heuristic echo match discards,
// otherwise the message is appended. During a same-conversation history
// load the push is buffered instead.
func (l *Log) ApplyPush(msg chat.Message) Outcome {
	l.mu.Lock()
	defer l.mu.Unlock()

	if msg.ConversationID != l.openID {
		return Ignored
	}
	switch l.state {
	case Loading:
		l.pending = append(l.pending, msg)
		return Buffered
	case Loaded:
		return l.applyLocked(msg)
	default:
		return Ignored
	}
}

// ResolveAck rebinds the newest provisional entry to a server-assigned id.
// Preferred over the echo heuristic whenever the acknowledgment carries an
// id. The ack must name the open conversation: a stale ack arriving after a
// conversation switch must not rebind the new conversation's entries.
// conversationID 0 matches the open conversation, for backends that omit it.
// Returns false when the ack is stale, there is nothing to resolve, or the
// id is already present (the push beat the ack).
func (l *Log) ResolveAck(conversationID, serverID int64) bool {
	if serverID <= 0 {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if conversationID != 0 && conversationID != l.openID {
		return false
	}

	for _, m := range l.entries {
		if m.ID == serverID {
			return false
		}
	}
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].Provisional() {
			l.entries[i].ID = serverID
			return true
		}
	}
	return false
}

// Snapshot returns a copy of the log entries in order.
func (l *Log) Snapshot() []chat.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]chat.Message, len(l.entries))
	copy(out, l.entries)
	return out
}

// State returns the load state of the open log.
func (l *Log) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// OpenID returns the open conversation id, 0 when none.
func (l *Log) OpenID() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.openID
}

func (l *Log) applyLocked(msg chat.Message) Outcome {
	if msg.ID > 0 {
		for _, m := range l.entries {
			if m.ID == msg.ID {
				return DuplicateID
			}
		}
	} else {
		for _, m := range l.entries {
			if m.Body == msg.Body && m.SenderEmail == msg.SenderEmail && absDelta(m.Timestamp, msg.Timestamp) < HeuristicWindowMillis {
				return DuplicateEcho
			}
		}
	}
	l.entries = append(l.entries, msg)
	return Appended
}

// Provisional ids are strictly decreasing negatives derived from the local
// clock, so they are unique within a session and can never collide with the
// server's positive id space.
func (l *Log) nextProvisionalLocked() int64 {
	id := -time.Now().UnixMilli()
	if id >= l.lastProvisional {
		id = l.lastProvisional - 1
	}
	l.lastProvisional = id
	return id
}

func absDelta(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}
