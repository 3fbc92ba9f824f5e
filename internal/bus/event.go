package bus

import (
	"strings"
	"time"
)

// Event is one state-change notice flowing through the daemon: a connection
// status transition, an index or log mutation, or a presence change. Kind
// carries a dotted namespace prefix ("conn.", "index.", "log.",
// "presence.") that subscribers filter on.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// In reports whether the event falls under the given namespace prefix.
func (e Event) In(namespace string) bool {
	return strings.HasPrefix(e.Kind, namespace)
}
