package wire

// Inbound frame types. The merchant console framing is conversation-level
// (conversations_list / conversation_messages / new_message / message_sent);
// the customer widget framing is message-level (history / chat / info plus
// presence and notification events). Both arrive on the same connection
// contract and both are UTF-8 JSON objects with a "type" discriminator.
const (
	TypeConversationsList       = "conversations_list"
	TypeConversationMessages    = "conversation_messages"
	TypeNewMessage              = "new_message"
	TypeMessageSent             = "message_sent"
	TypeHistory                 = "history"
	TypeChat                    = "chat"
	TypeNewMessageNotification  = "new_message_notification"
	TypeUserOnline              = "user_online"
	TypeUserOffline             = "user_offline"
	TypeInfo                    = "info"
)

// Attachment is the wire form of a file reference. Metadata only.
type Attachment struct {
	FileURL  string `json:"file_url"`
	Filename string `json:"file_name"`
	MimeType string `json:"mime_type"`
}

// ConversationSummary is one row of a conversations_list payload.
type ConversationSummary struct {
	ID              int64  `json:"id"`
	UserName        string `json:"user_name"`
	UserEmail       string `json:"user_email"`
	LastMessage     string `json:"last_message"`
	LastMessageTime string `json:"last_message_time"`
	MessageCount    int    `json:"message_count"`
	UnreadCount     int    `json:"unread_count"`
}

// HistoryMessage is one entry of a conversation_messages payload.
type HistoryMessage struct {
	ID          int64       `json:"id"`
	Message     string      `json:"message"`
	Attachment  *Attachment `json:"attachment,omitempty"`
	SenderEmail string      `json:"sender_email"`
	SenderName  string      `json:"sender_name"`
	CreatedAt   string      `json:"created_at"`
}

// ConversationsList replaces the whole conversation index.
type ConversationsList struct {
	Type string                `json:"type"`
	Data []ConversationSummary `json:"data"`
}

// ConversationMessages replaces the open log for one conversation.
type ConversationMessages struct {
	Type           string           `json:"type"`
	ConversationID int64            `json:"conversation_id"`
	Data           []HistoryMessage `json:"data"`
}

// NewMessage is a pushed live message. ID is 0 when the server did not echo
// a stable id (the common case for self-sent echoes).
type NewMessage struct {
	Type           string      `json:"type"`
	ConversationID int64       `json:"conversation_id"`
	ID             int64       `json:"id,omitempty"`
	Message        string      `json:"message"`
	Attachment     *Attachment `json:"attachment,omitempty"`
	SenderEmail    string      `json:"sender_email"`
	SenderName     string      `json:"sender_name"`
	UserName       string      `json:"user_name"`
	UserEmail      string      `json:"user_email"`
	CreatedAt      string      `json:"created_at"`
}

// MessageSent acknowledges a send_message command. ID is the server id of
// the stored message when the backend provides one, 0 otherwise.
type MessageSent struct {
	Type           string `json:"type"`
	ConversationID int64  `json:"conversation_id"`
	ID             int64  `json:"id,omitempty"`
	RequestID      string `json:"request_id,omitempty"`
}

// ChatMessage is the customer-flow analog of NewMessage ("chat") and of a
// history entry ("history"): one message, already scoped to the single open
// thread the connection was established for.
type ChatMessage struct {
	Type           string `json:"type"`
	ID             int64  `json:"id,omitempty"`
	Data           string `json:"data"`
	IsMe           bool   `json:"isMe"`
	SenderID       string `json:"senderId"`
	SenderUsername string `json:"senderUsername"`
	Timestamp      string `json:"timestamp"`
}

// NewMessageNotification signals activity in a conversation other than the
// open one.
type NewMessageNotification struct {
	Type         string `json:"type"`
	FromUserID   string `json:"fromUserId"`
	FromUsername string `json:"fromUsername"`
	Message      string `json:"message"`
}

// Presence marks an identity going online or offline.
type Presence struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

// Info is a server-side informational notice. Logged, never acted on.
type Info struct {
	Type string `json:"type"`
	Info string `json:"info"`
}
