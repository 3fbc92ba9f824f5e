package wire

import (
	"time"

	"github.com/merchantdesk/chatsync/internal/chat"
)

// ToConversation normalizes a summary row for the index.
func (s ConversationSummary) ToConversation() chat.Conversation {
	return chat.Conversation{
		ID:                s.ID,
		CounterpartyName:  s.UserName,
		CounterpartyEmail: s.UserEmail,
		LastMessage:       s.LastMessage,
		LastMessageAt:     ParseTime(s.LastMessageTime),
		MessageCount:      s.MessageCount,
		UnreadCount:       s.UnreadCount,
	}
}

// ToChatMessage normalizes a history entry. selfEmail decides the FromMe flag.
func (h HistoryMessage) ToChatMessage(conversationID int64, selfEmail string) chat.Message {
	return chat.Message{
		ID:             h.ID,
		ConversationID: conversationID,
		Body:           h.Message,
		Attachment:     h.Attachment.toChat(),
		SenderEmail:    h.SenderEmail,
		SenderName:     h.SenderName,
		FromMe:         h.SenderEmail == selfEmail,
		Timestamp:      orNow(ParseTime(h.CreatedAt)),
	}
}

// ToChatMessage normalizes a pushed live message.
func (n NewMessage) ToChatMessage(selfEmail string) chat.Message {
	return chat.Message{
		ID:             n.ID,
		ConversationID: n.ConversationID,
		Body:           n.Message,
		Attachment:     n.Attachment.toChat(),
		SenderEmail:    n.SenderEmail,
		SenderName:     n.SenderName,
		FromMe:         n.SenderEmail == selfEmail,
		Timestamp:      orNow(ParseTime(n.CreatedAt)),
	}
}

// ToChatMessage normalizes a customer-flow history/chat frame, which is
// already scoped to the single open conversation.
func (c ChatMessage) ToChatMessage(conversationID int64) chat.Message {
	return chat.Message{
		ID:             c.ID,
		ConversationID: conversationID,
		Body:           c.Data,
		SenderEmail:    c.SenderID,
		SenderName:     c.SenderUsername,
		FromMe:         c.IsMe,
		Timestamp:      orNow(ParseTime(c.Timestamp)),
	}
}

func (a *Attachment) toChat() *chat.Attachment {
	if a == nil {
		return nil
	}
	return &chat.Attachment{
		FileURL:  a.FileURL,
		Filename: a.Filename,
		MimeType: a.MimeType,
	}
}

func orNow(ms int64) int64 {
	if ms != 0 {
		return ms
	}
	return time.Now().UnixMilli()
}
