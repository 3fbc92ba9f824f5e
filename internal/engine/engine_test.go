package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/merchantdesk/chatsync/internal/bus"
	"github.com/merchantdesk/chatsync/internal/chat"
	"github.com/merchantdesk/chatsync/internal/identity"
	"github.com/merchantdesk/chatsync/internal/reconcile"
	"github.com/merchantdesk/chatsync/internal/wire"
	"go.uber.org/zap"
)

var self = identity.Identity{ID: "1", Email: "me@example.com", Name: "Me"}

type fakeSender struct {
	mu   sync.Mutex
	cmds []any
}

func (f *fakeSender) Send(_ context.Context, cmd any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cmds = append(f.cmds, cmd)
	return nil
}

func (f *fakeSender) sent() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.cmds...)
}

type fakeAPI struct {
	mu        sync.Mutex
	convs     []chat.Conversation
	markRead  []int64
	listCalls int
}

func (f *fakeAPI) Conversations(context.Context) ([]chat.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	return append([]chat.Conversation(nil), f.convs...), nil
}

func (f *fakeAPI) MarkRead(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markRead = append(f.markRead, id)
	return nil
}

func newTestEngine(t *testing.T) (*Engine, *fakeSender, *fakeAPI) {
	t.Helper()
	s := &fakeSender{}
	api := &fakeAPI{}
	return New(self, s, api, bus.New(), zap.NewNop()), s, api
}

func listFrame(rows ...wire.ConversationSummary) wire.ConversationsList {
	return wire.ConversationsList{Type: wire.TypeConversationsList, Data: rows}
}

func TestConversationsListReplacesIndex(t *testing.T) {
	e, _, _ := newTestEngine(t)

	e.HandleFrame(listFrame(
		wire.ConversationSummary{ID: 1, UserName: "Ana", LastMessage: "hi"},
		wire.ConversationSummary{ID: 2, UserName: "Bob", LastMessage: "yo"},
	))

	convs := e.Conversations("")
	if len(convs) != 2 {
		t.Fatalf("len = %d, want 2", len(convs))
	}
	if convs[0].ID != 1 || convs[1].ID != 2 {
		t.Errorf("order = %d, %d", convs[0].ID, convs[1].ID)
	}

	e.HandleFrame(listFrame(wire.ConversationSummary{ID: 3, UserName: "Cid"}))
	convs = e.Conversations("")
	if len(convs) != 1 || convs[0].ID != 3 {
		t.Errorf("replace failed: %+v", convs)
	}
}

func TestNewMessageUpdatesExistingRow(t *testing.T) {
	e, _, _ := newTestEngine(t)
	e.HandleFrame(listFrame(wire.ConversationSummary{
		ID: 1, UserName: "Ana", LastMessage: "hi", MessageCount: 3,
	}))

	e.HandleFrame(wire.NewMessage{
		Type: wire.TypeNewMessage, ConversationID: 1,
		Message: "yo", SenderEmail: "ana@example.com",
	})

	row, ok := e.idx.Get(1)
	if !ok {
		t.Fatal("row disappeared")
	}
	if row.LastMessage != "yo" {
		t.Errorf("last message = %q, want yo", row.LastMessage)
	}
	if row.MessageCount != 4 {
		t.Errorf("message count = %d, want 4", row.MessageCount)
	}
	if row.UnreadCount != 1 {
		t.Errorf("unread = %d, want 1 (conversation not open)", row.UnreadCount)
	}
	if row.CounterpartyName != "Ana" {
		t.Errorf("name = %q, shallow merge must preserve it", row.CounterpartyName)
	}
}

func TestNewMessagePrependsUnseenConversation(t *testing.T) {
	e, _, _ := newTestEngine(t)
	e.HandleFrame(listFrame(wire.ConversationSummary{ID: 1, UserName: "Ana"}))

	e.HandleFrame(wire.NewMessage{
		Type: wire.TypeNewMessage, ConversationID: 7,
		Message: "first contact", SenderEmail: "new@example.com", UserName: "New",
	})

	convs := e.Conversations("")
	if len(convs) != 2 {
		t.Fatalf("len = %d, want 2", len(convs))
	}
	if convs[0].ID != 7 {
		t.Errorf("unseen conversation must be prepended, got head %d", convs[0].ID)
	}
	if convs[0].MessageCount != 1 {
		t.Errorf("message count = %d, want 1", convs[0].MessageCount)
	}
}

func TestOpenConversation(t *testing.T) {
	e, s, api := newTestEngine(t)
	e.HandleFrame(listFrame(wire.ConversationSummary{ID: 5, UserName: "Ana", UnreadCount: 3}))

	if err := e.OpenConversation(context.Background(), 5); err != nil {
		t.Fatal(err)
	}
	if e.LogState() != reconcile.Loading {
		t.Errorf("state = %s, want LOADING", e.LogState())
	}

	cmds := s.sent()
	if len(cmds) != 1 {
		t.Fatalf("sent %d commands, want 1", len(cmds))
	}
	gm, ok := cmds[0].(wire.GetMessages)
	if !ok || gm.ConversationID != 5 {
		t.Errorf("command = %+v, want get_messages for 5", cmds[0])
	}

	if row, _ := e.idx.Get(5); row.UnreadCount != 0 {
		t.Errorf("unread = %d after open, want 0", row.UnreadCount)
	}
	if len(api.markRead) != 1 || api.markRead[0] != 5 {
		t.Errorf("markRead calls = %v, want [5]", api.markRead)
	}
}

func TestHistoryLoadAndLiveAppend(t *testing.T) {
	e, _, _ := newTestEngine(t)
	if err := e.OpenConversation(context.Background(), 5); err != nil {
		t.Fatal(err)
	}

	e.HandleFrame(wire.ConversationMessages{
		Type: wire.TypeConversationMessages, ConversationID: 5,
		Data: []wire.HistoryMessage{
			{ID: 10, Message: "old", SenderEmail: "ana@example.com", CreatedAt: "2026-08-29T09:00:00Z"},
			{ID: 11, Message: "mine", SenderEmail: self.Email, CreatedAt: "2026-08-29T09:01:00Z"},
		},
	})

	if e.LogState() != reconcile.Loaded {
		t.Fatalf("state = %s, want LOADED", e.LogState())
	}
	msgs := e.Messages()
	if len(msgs) != 2 {
		t.Fatalf("len = %d, want 2", len(msgs))
	}
	if msgs[0].FromMe || !msgs[1].FromMe {
		t.Error("FromMe must come from the sender email")
	}

	e.HandleFrame(wire.NewMessage{
		Type: wire.TypeNewMessage, ConversationID: 5,
		ID: 12, Message: "live", SenderEmail: "ana@example.com",
	})
	msgs = e.Messages()
	if len(msgs) != 3 || msgs[2].Body != "live" {
		t.Errorf("live push not appended: %+v", msgs)
	}
}

func TestStaleHistoryDiscarded(t *testing.T) {
	e, _, _ := newTestEngine(t)
	e.OpenConversation(context.Background(), 5)
	e.OpenConversation(context.Background(), 6)

	e.HandleFrame(wire.ConversationMessages{
		Type: wire.TypeConversationMessages, ConversationID: 5,
		Data: []wire.HistoryMessage{{ID: 1, Message: "stale"}},
	})

	if e.LogState() != reconcile.Loading {
		t.Errorf("stale history must not resolve the load, state = %s", e.LogState())
	}
	if len(e.Messages()) != 0 {
		t.Error("stale history leaked into the log")
	}
}

func TestPushToOtherConversationLeavesLogAlone(t *testing.T) {
	e, _, _ := newTestEngine(t)
	e.OpenConversation(context.Background(), 5)
	e.HandleFrame(wire.ConversationMessages{
		Type: wire.TypeConversationMessages, ConversationID: 5,
	})

	e.HandleFrame(wire.NewMessage{
		Type: wire.TypeNewMessage, ConversationID: 9, Message: "elsewhere",
		SenderEmail: "x@example.com",
	})

	if len(e.Messages()) != 0 {
		t.Error("push for another conversation must not enter the open log")
	}
	if row, ok := e.idx.Get(9); !ok || row.LastMessage != "elsewhere" {
		t.Error("push must still upsert the index row")
	}
}

func TestSendOptimisticAndAck(t *testing.T) {
	e, s, _ := newTestEngine(t)
	e.HandleFrame(listFrame(wire.ConversationSummary{ID: 5, UserName: "Ana", MessageCount: 2}))
	e.OpenConversation(context.Background(), 5)
	e.HandleFrame(wire.ConversationMessages{
		Type: wire.TypeConversationMessages, ConversationID: 5,
	})

	msg, err := e.Send(context.Background(), "hello there")
	if err != nil {
		t.Fatal(err)
	}
	if !msg.Provisional() {
		t.Errorf("id = %d, want provisional (negative)", msg.ID)
	}
	if !msg.FromMe || msg.Body != "hello there" {
		t.Errorf("optimistic entry = %+v", msg)
	}

	var sm wire.SendMessage
	found := false
	for _, cmd := range s.sent() {
		if c, ok := cmd.(wire.SendMessage); ok {
			sm, found = c, true
		}
	}
	if !found {
		t.Fatal("send_message never hit the transport")
	}
	if sm.ConversationID != 5 || sm.Message != "hello there" {
		t.Errorf("command = %+v", sm)
	}
	if sm.RequestID == "" {
		t.Error("request id missing")
	}

	if row, _ := e.idx.Get(5); row.LastMessage != "hello there" || row.MessageCount != 3 {
		t.Errorf("index row after send = %+v", row)
	}

	// Ack with a server id rebinds the provisional entry.
	e.HandleFrame(wire.MessageSent{Type: wire.TypeMessageSent, ConversationID: 5, ID: 77})
	msgs := e.Messages()
	if len(msgs) != 1 || msgs[0].ID != 77 {
		t.Errorf("after ack: %+v, want single entry with id 77", msgs)
	}
}

func TestStaleAckAfterConversationSwitch(t *testing.T) {
	e, _, _ := newTestEngine(t)
	e.OpenConversation(context.Background(), 5)
	e.HandleFrame(wire.ConversationMessages{
		Type: wire.TypeConversationMessages, ConversationID: 5,
	})
	if _, err := e.Send(context.Background(), "for five"); err != nil {
		t.Fatal(err)
	}

	// Switch to 6 and send there before 5's ack arrives.
	e.OpenConversation(context.Background(), 6)
	e.HandleFrame(wire.ConversationMessages{
		Type: wire.TypeConversationMessages, ConversationID: 6,
	})
	sent, err := e.Send(context.Background(), "for six")
	if err != nil {
		t.Fatal(err)
	}

	e.HandleFrame(wire.MessageSent{Type: wire.TypeMessageSent, ConversationID: 5, ID: 77})

	msgs := e.Messages()
	if len(msgs) != 1 {
		t.Fatalf("log length = %d, want 1", len(msgs))
	}
	if msgs[0].ID != sent.ID || !msgs[0].Provisional() {
		t.Errorf("entry id = %d, want provisional %d untouched by the stale ack", msgs[0].ID, sent.ID)
	}

	// 6's own ack still resolves its entry, and the echo carrying that id
	// is then a duplicate.
	e.HandleFrame(wire.MessageSent{Type: wire.TypeMessageSent, ConversationID: 6, ID: 78})
	e.HandleFrame(wire.NewMessage{
		Type: wire.TypeNewMessage, ConversationID: 6,
		ID: 78, Message: "for six", SenderEmail: self.Email,
	})
	msgs = e.Messages()
	if len(msgs) != 1 || msgs[0].ID != 78 {
		t.Errorf("log after ack and echo = %+v, want one entry with id 78", msgs)
	}
}

func TestSendWithoutOpenConversation(t *testing.T) {
	e, _, _ := newTestEngine(t)
	if _, err := e.Send(context.Background(), "nope"); err == nil {
		t.Error("send with no open conversation must fail")
	}
}

func TestEchoCoalescedAfterSend(t *testing.T) {
	e, _, _ := newTestEngine(t)
	e.OpenConversation(context.Background(), 5)
	e.HandleFrame(wire.ConversationMessages{
		Type: wire.TypeConversationMessages, ConversationID: 5,
	})

	if _, err := e.Send(context.Background(), "ping"); err != nil {
		t.Fatal(err)
	}

	// Server echoes the send as an id-less push.
	e.HandleFrame(wire.NewMessage{
		Type: wire.TypeNewMessage, ConversationID: 5,
		Message: "ping", SenderEmail: self.Email,
	})

	if got := len(e.Messages()); got != 1 {
		t.Errorf("log has %d entries, want 1 (echo coalesced)", got)
	}
}

func TestBufferedPushReplayedAfterLoad(t *testing.T) {
	e, _, _ := newTestEngine(t)
	e.OpenConversation(context.Background(), 5)

	e.HandleFrame(wire.NewMessage{
		Type: wire.TypeNewMessage, ConversationID: 5,
		ID: 20, Message: "raced the load", SenderEmail: "ana@example.com",
	})
	if len(e.Messages()) != 0 {
		t.Fatal("push must be buffered while loading")
	}

	e.HandleFrame(wire.ConversationMessages{
		Type: wire.TypeConversationMessages, ConversationID: 5,
		Data: []wire.HistoryMessage{{ID: 19, Message: "old", SenderEmail: "ana@example.com"}},
	})

	msgs := e.Messages()
	if len(msgs) != 2 || msgs[1].ID != 20 {
		t.Errorf("buffered push not replayed: %+v", msgs)
	}
}

func TestCustomerFlowHistoryAndChat(t *testing.T) {
	e, _, _ := newTestEngine(t)
	e.OpenConversation(context.Background(), 1)

	e.HandleFrame(wire.ChatMessage{
		Type: wire.TypeHistory, ID: 1, Data: "earlier", SenderID: "9",
		SenderUsername: "ana", Timestamp: "2026-08-29T09:00:00Z",
	})
	if e.LogState() != reconcile.Loaded {
		t.Fatalf("first history frame must complete the load, state = %s", e.LogState())
	}

	e.HandleFrame(wire.ChatMessage{
		Type: wire.TypeChat, ID: 2, Data: "now", SenderID: "9",
		SenderUsername: "ana", IsMe: false,
	})

	msgs := e.Messages()
	if len(msgs) != 2 {
		t.Fatalf("len = %d, want 2", len(msgs))
	}
	if msgs[0].Body != "earlier" || msgs[1].Body != "now" {
		t.Errorf("bodies = %q, %q", msgs[0].Body, msgs[1].Body)
	}
}

func TestChatFrameWithNothingOpen(t *testing.T) {
	e, _, _ := newTestEngine(t)
	e.HandleFrame(wire.ChatMessage{Type: wire.TypeChat, Data: "orphan"})
	if len(e.Messages()) != 0 {
		t.Error("chat frame with no open conversation must be dropped")
	}
}

func TestPresenceTracking(t *testing.T) {
	e, _, _ := newTestEngine(t)

	e.HandleFrame(wire.Presence{Type: wire.TypeUserOnline, UserID: "9"})
	e.HandleFrame(wire.Presence{Type: wire.TypeUserOnline, UserID: "4"})
	if !e.Online("9") || !e.Online("4") {
		t.Error("online users missing from the set")
	}

	e.HandleFrame(wire.Presence{Type: wire.TypeUserOffline, UserID: "9"})
	if e.Online("9") {
		t.Error("user 9 must be offline")
	}
	if got := e.Presence(); len(got) != 1 || got[0] != "4" {
		t.Errorf("presence snapshot = %v, want [4]", got)
	}
}

func TestNotificationTriggersRefresh(t *testing.T) {
	e, _, api := newTestEngine(t)
	api.mu.Lock()
	api.convs = []chat.Conversation{{ID: 8, CounterpartyName: "Eve", LastMessage: "psst"}}
	api.mu.Unlock()

	e.HandleFrame(wire.NewMessageNotification{
		Type: wire.TypeNewMessageNotification, FromUserID: "8", FromUsername: "eve",
	})

	// The refresh completes on the dispatch path, so it is visible as soon
	// as HandleFrame returns, and a later push cannot be rolled back by it.
	convs := e.Conversations("")
	if len(convs) != 1 || convs[0].ID != 8 {
		t.Fatalf("index after notification = %+v, want the refreshed row 8", convs)
	}

	e.HandleFrame(wire.NewMessage{
		Type: wire.TypeNewMessage, ConversationID: 8,
		Message: "after refresh", SenderEmail: "eve@example.com",
	})
	if row, _ := e.idx.Get(8); row.LastMessage != "after refresh" {
		t.Errorf("row 8 = %+v, push applied after the refresh must stick", row)
	}
}

func TestBusEventsPublished(t *testing.T) {
	s := &fakeSender{}
	b := bus.New()
	ch, unsub := b.Subscribe("index.", 16)
	defer unsub()

	e := New(self, s, nil, b, zap.NewNop())
	e.HandleFrame(listFrame(wire.ConversationSummary{ID: 1}))

	select {
	case evt := <-ch:
		if evt.Kind != EventIndexUpdated {
			t.Errorf("kind = %q, want %q", evt.Kind, EventIndexUpdated)
		}
	case <-time.After(time.Second):
		t.Fatal("no index.updated event")
	}
}

func TestConversationsFilter(t *testing.T) {
	e, _, _ := newTestEngine(t)
	e.HandleFrame(listFrame(
		wire.ConversationSummary{ID: 1, UserName: "Ana Silva", UserEmail: "ana@example.com"},
		wire.ConversationSummary{ID: 2, UserName: "Bob", UserEmail: "bob@example.com"},
	))

	got := e.Conversations("ANA")
	if len(got) != 1 || got[0].ID != 1 {
		t.Errorf("filter ANA = %+v", got)
	}
	if got := e.Conversations(""); len(got) != 2 {
		t.Errorf("empty filter must return all, got %d", len(got))
	}
}
