// Package chat holds the domain types shared by the index, the open log and
// the surfaces that read them.
package chat

// Conversation is one row of the conversation index. The counterparty is
// the other participant; unread and message counts come from the server and
// are adjusted locally as pushes arrive.
type Conversation struct {
	ID                int64
	CounterpartyName  string
	CounterpartyEmail string
	LastMessage       string
	LastMessageAt     int64 // unix millis
	MessageCount      int
	UnreadCount       int
}

// Attachment is file metadata attached to a message. Content is never
// synchronized, only the reference.
type Attachment struct {
	FileURL  string
	Filename string
	MimeType string
}

// Message is one entry of a conversation's log. A negative ID marks a
// provisional local entry that no server acknowledgment has confirmed yet;
// server ids are always positive.
type Message struct {
	ID             int64
	ConversationID int64
	Body           string
	Attachment     *Attachment
	SenderEmail    string
	SenderName     string
	FromMe         bool
	Timestamp      int64 // unix millis
}

// Provisional reports whether the message is a local optimistic entry still
// awaiting server confirmation.
func (m *Message) Provisional() bool { return m.ID < 0 }
