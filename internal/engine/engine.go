// Package engine is the single writer over the synchronized state. The
// connection manager delivers parsed frames into HandleFrame; control
// surfaces call the command methods. Both funnel into the same index, open
// log and presence set, so observers always see a consistent snapshot.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/merchantdesk/chatsync/internal/bus"
	"github.com/merchantdesk/chatsync/internal/chat"
	"github.com/merchantdesk/chatsync/internal/identity"
	"github.com/merchantdesk/chatsync/internal/index"
	"github.com/merchantdesk/chatsync/internal/presence"
	"github.com/merchantdesk/chatsync/internal/reconcile"
	"github.com/merchantdesk/chatsync/internal/wire"
)

// refreshTimeout bounds the REST refresh a notification triggers.
const refreshTimeout = 10 * time.Second

// Bus event kinds published by the engine.
const (
	EventIndexUpdated    = "index.updated"
	EventLogUpdated      = "log.updated"
	EventPresenceChanged = "presence.changed"
)

// Sender pushes outbound commands onto the realtime transport.
type Sender interface {
	Send(ctx context.Context, cmd any) error
}

// API is the REST collaborator subset the engine uses. May be left nil when
// the deployment has no REST endpoint; the realtime stream alone then keeps
// the index current.
type API interface {
	Conversations(ctx context.Context) ([]chat.Conversation, error)
	MarkRead(ctx context.Context, conversationID int64) error
}

// Engine owns the conversation index, the open message log and the presence
// set, and applies every mutation to them.
type Engine struct {
	self   identity.Identity
	sender Sender
	api    API
	idx    *index.Index
	log    *reconcile.Log
	pres   *presence.Set
	bus    *bus.Bus
	logger *zap.Logger
}

// New creates an engine for the given identity. api may be nil.
func New(self identity.Identity, sender Sender, api API, b *bus.Bus, logger *zap.Logger) *Engine {
	return &Engine{
		self:   self,
		sender: sender,
		api:    api,
		idx:    index.New(),
		log:    reconcile.NewLog(),
		pres:   presence.New(),
		bus:    b,
		logger: logger,
	}
}

// HandleFrame dispatches one parsed inbound event. Called synchronously by
// the connection read loop, so events mutate state in arrival order.
func (e *Engine) HandleFrame(evt any) {
	switch ev := evt.(type) {
	case wire.ConversationsList:
		e.applyConversationsList(ev)
	case wire.ConversationMessages:
		e.applyConversationMessages(ev)
	case wire.NewMessage:
		e.applyNewMessage(ev)
	case wire.MessageSent:
		e.applyMessageSent(ev)
	case wire.ChatMessage:
		e.applyChatMessage(ev)
	case wire.NewMessageNotification:
		e.applyNotification(ev)
	case wire.Presence:
		e.applyPresence(ev)
	case wire.Info:
		e.logger.Info("server notice", zap.String("info", ev.Info))
	default:
		e.logger.Debug("unhandled event", zap.Any("event", evt))
	}
}

func (e *Engine) applyConversationsList(ev wire.ConversationsList) {
	rows := make([]chat.Conversation, 0, len(ev.Data))
	for _, s := range ev.Data {
		rows = append(rows, s.ToConversation())
	}
	e.idx.ApplyBulkList(rows)
	e.publish(EventIndexUpdated, nil)
}

func (e *Engine) applyConversationMessages(ev wire.ConversationMessages) {
	msgs := make([]chat.Message, 0, len(ev.Data))
	for _, h := range ev.Data {
		msgs = append(msgs, h.ToChatMessage(ev.ConversationID, e.self.Email))
	}
	if !e.log.LoadHistory(ev.ConversationID, msgs) {
		e.logger.Debug("discarding stale history",
			zap.Int64("conversation", ev.ConversationID),
			zap.Int64("open", e.log.OpenID()))
		return
	}
	e.publish(EventLogUpdated, ev.ConversationID)
}

func (e *Engine) applyNewMessage(ev wire.NewMessage) {
	msg := ev.ToChatMessage(e.self.Email)

	patch := index.Patch{
		LastMessage:   index.Ptr(msg.Body),
		LastMessageAt: index.Ptr(msg.Timestamp),
	}
	if ev.UserName != "" {
		patch.CounterpartyName = index.Ptr(ev.UserName)
	}
	if ev.UserEmail != "" {
		patch.CounterpartyEmail = index.Ptr(ev.UserEmail)
	}
	if row, ok := e.idx.Get(msg.ConversationID); ok {
		patch.MessageCount = index.Ptr(row.MessageCount + 1)
		if !msg.FromMe && e.log.OpenID() != msg.ConversationID {
			patch.UnreadCount = index.Ptr(row.UnreadCount + 1)
		}
	}
	e.idx.ApplyUpsert(msg.ConversationID, patch)
	e.publish(EventIndexUpdated, msg.ConversationID)

	outcome := e.log.ApplyPush(msg)
	switch outcome {
	case reconcile.Appended, reconcile.Buffered:
		e.publish(EventLogUpdated, msg.ConversationID)
	case reconcile.DuplicateID, reconcile.DuplicateEcho:
		e.logger.Debug("coalesced duplicate push",
			zap.Int64("conversation", msg.ConversationID),
			zap.Int64("id", msg.ID))
	}
}

func (e *Engine) applyMessageSent(ev wire.MessageSent) {
	if ev.ID == 0 {
		// Ack without a server id. The eventual echo is coalesced by the
		// body/sender/time heuristic instead.
		return
	}
	if e.log.ResolveAck(ev.ConversationID, ev.ID) {
		e.publish(EventLogUpdated, ev.ConversationID)
	}
}

// applyChatMessage handles the customer-flow framing, where every frame is
// already scoped to the single thread the connection was opened for. A
// history frame arriving while the log still loads completes the load; both
// framings then merge through the usual push precedence.
func (e *Engine) applyChatMessage(ev wire.ChatMessage) {
	if e.log.State() == reconcile.Empty {
		e.logger.Debug("chat frame with no open conversation", zap.String("type", ev.Type))
		return
	}
	open := e.log.OpenID()
	if e.log.State() == reconcile.Loading {
		e.log.LoadHistory(open, nil)
	}
	msg := ev.ToChatMessage(open)
	if out := e.log.ApplyPush(msg); out == reconcile.Appended {
		e.publish(EventLogUpdated, open)
	}
}

// applyNotification refreshes the conversation list: activity in a thread
// other than the open one changed counts the stream did not carry. The
// refresh runs on the dispatch path so the index keeps a single writer; the
// read loop pauses for at most the REST timeout.
func (e *Engine) applyNotification(ev wire.NewMessageNotification) {
	e.logger.Info("message notification",
		zap.String("from", ev.FromUsername),
		zap.String("user_id", ev.FromUserID))
	if e.api == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()
	if err := e.RefreshConversations(ctx); err != nil {
		e.logger.Warn("refresh after notification", zap.Error(err))
	}
}

func (e *Engine) applyPresence(ev wire.Presence) {
	var changed bool
	switch ev.Type {
	case wire.TypeUserOnline:
		changed = e.pres.Add(ev.UserID)
	case wire.TypeUserOffline:
		changed = e.pres.Remove(ev.UserID)
	}
	if changed {
		e.publish(EventPresenceChanged, ev.UserID)
	}
}

// OpenConversation switches the open log to the given conversation: clears
// it, marks it loading and requests history. The unread count resets locally
// and, when a REST endpoint is configured, on the server.
func (e *Engine) OpenConversation(ctx context.Context, conversationID int64) error {
	e.log.Open(conversationID)
	e.publish(EventLogUpdated, conversationID)

	if err := e.sender.Send(ctx, wire.NewGetMessages(conversationID)); err != nil {
		return fmt.Errorf("request history: %w", err)
	}

	if _, ok := e.idx.Get(conversationID); ok {
		e.idx.ApplyUpsert(conversationID, index.Patch{UnreadCount: index.Ptr(0)})
		e.publish(EventIndexUpdated, conversationID)
	}
	if e.api != nil {
		if err := e.api.MarkRead(ctx, conversationID); err != nil {
			e.logger.Warn("mark read", zap.Int64("conversation", conversationID), zap.Error(err))
		}
	}
	return nil
}

// CloseConversation clears the open log.
func (e *Engine) CloseConversation() {
	e.log.Clear()
	e.publish(EventLogUpdated, 0)
}

// Send submits a message to the open conversation. The returned message is
// the optimistic local entry under its provisional id; the transport command
// carries a correlation id for the acknowledgment.
func (e *Engine) Send(ctx context.Context, text string) (chat.Message, error) {
	open := e.log.OpenID()
	msg, err := e.log.ApplyOptimistic(chat.Message{
		ConversationID: open,
		Body:           text,
		SenderEmail:    e.self.Email,
		SenderName:     e.self.Name,
	})
	if err != nil {
		return chat.Message{}, err
	}
	e.publish(EventLogUpdated, open)

	if err := e.sender.Send(ctx, wire.NewSendMessage(open, text, uuid.NewString())); err != nil {
		return chat.Message{}, fmt.Errorf("send message: %w", err)
	}

	patch := index.Patch{
		LastMessage:   index.Ptr(text),
		LastMessageAt: index.Ptr(msg.Timestamp),
	}
	if row, ok := e.idx.Get(open); ok {
		patch.MessageCount = index.Ptr(row.MessageCount + 1)
	}
	e.idx.ApplyUpsert(open, patch)
	e.publish(EventIndexUpdated, open)
	return msg, nil
}

// RefreshConversations replaces the index from the REST conversation list.
func (e *Engine) RefreshConversations(ctx context.Context) error {
	if e.api == nil {
		return fmt.Errorf("no rest endpoint configured")
	}
	rows, err := e.api.Conversations(ctx)
	if err != nil {
		return err
	}
	e.idx.ApplyBulkList(rows)
	e.publish(EventIndexUpdated, nil)
	return nil
}

// Conversations returns the index rows matching the filter; an empty filter
// returns everything.
func (e *Engine) Conversations(filter string) []chat.Conversation {
	if filter == "" {
		return e.idx.Snapshot()
	}
	return e.idx.Filter(filter)
}

// Messages returns a copy of the open log.
func (e *Engine) Messages() []chat.Message { return e.log.Snapshot() }

// OpenID returns the open conversation id, 0 when none.
func (e *Engine) OpenID() int64 { return e.log.OpenID() }

// LogState returns the open log state.
func (e *Engine) LogState() reconcile.State { return e.log.State() }

// Presence returns the sorted online identity set.
func (e *Engine) Presence() []string { return e.pres.Snapshot() }

// Online reports whether an identity is in the presence set.
func (e *Engine) Online(userID string) bool { return e.pres.Online(userID) }

func (e *Engine) publish(kind string, payload any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
