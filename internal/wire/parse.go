package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrUnknownType is returned by ParseFrame for frames whose type
// discriminator we do not recognize. Callers ignore these; an unknown type
// is never fatal.
var ErrUnknownType = errors.New("unknown frame type")

type envelope struct {
	Type string `json:"type"`
}

// ParseFrame decodes one inbound frame into its typed event. A decode
// failure means the frame is dropped by the caller; the connection stays up.
func ParseFrame(data []byte) (any, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	switch env.Type {
	case TypeConversationsList:
		return decode[ConversationsList](data)
	case TypeConversationMessages:
		return decode[ConversationMessages](data)
	case TypeNewMessage:
		return decode[NewMessage](data)
	case TypeMessageSent:
		return decode[MessageSent](data)
	case TypeHistory, TypeChat:
		return decode[ChatMessage](data)
	case TypeNewMessageNotification:
		return decode[NewMessageNotification](data)
	case TypeUserOnline, TypeUserOffline:
		return decode[Presence](data)
	case TypeInfo:
		return decode[Info](data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

func decode[T any](data []byte) (any, error) {
	var evt T
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return evt, nil
}

// ParseTime converts a server timestamp string to unix millis. The backend
// emits RFC3339; anything unparseable (including empty) maps to 0 and the
// caller substitutes the local clock.
func ParseTime(s string) int64 {
	if s == "" {
		return 0
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		if t, err = time.Parse(time.RFC3339, s); err != nil {
			return 0
		}
	}
	return t.UnixMilli()
}

// FormatTime renders unix millis as RFC3339 for outbound JSON surfaces.
func FormatTime(ms int64) string {
	if ms == 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
