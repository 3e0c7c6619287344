package bus

import "time"

// Event is a single entry on the change bus. Kind is a dot-separated name
// ("store.messages_appended", "transport.state_changed", ...); subscribers
// filter by namespace prefix.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
