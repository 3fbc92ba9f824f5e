package wire

// Outbound command types.
const (
	TypeGetMessages = "get_messages"
	TypeSendMessage = "send_message"
)

// GetMessages requests the history of one conversation. The server answers
// with a conversation_messages frame scoped to the same id.
type GetMessages struct {
	Type           string `json:"type"`
	ConversationID int64  `json:"conversation_id"`
}

// SendMessage submits a new message. RequestID correlates the eventual
// message_sent acknowledgment with the optimistic local entry.
type SendMessage struct {
	Type           string `json:"type"`
	ConversationID int64  `json:"conversation_id"`
	Message        string `json:"message"`
	RequestID      string `json:"request_id,omitempty"`
}

// NewGetMessages builds a get_messages command.
func NewGetMessages(conversationID int64) GetMessages {
	return GetMessages{Type: TypeGetMessages, ConversationID: conversationID}
}

// NewSendMessage builds a send_message command.
func NewSendMessage(conversationID int64, message, requestID string) SendMessage {
	return SendMessage{
		Type:           TypeSendMessage,
		ConversationID: conversationID,
		Message:        message,
		RequestID:      requestID,
	}
}
