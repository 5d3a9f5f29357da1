package types

// RelayList represents a user's NIP-65 relay list
type RelayList struct {
	Read  []string
	Write []string
}

// RelayInfo is a row of the local relay table.
type RelayInfo struct {
	URL       string `json:"url"`
	Read      bool   `json:"read"`
	Write     bool   `json:"write"`
	Status    string `json:"status,omitempty"`
	UpdatedAt int64  `json:"updated_at"`
}

// Relay connection states reported by the relay pool.
const (
	RelayConnecting   = "connecting"
	RelayConnected    = "connected"
	RelayDisconnected = "disconnected"
)

// RelayMessage is something a relay connection delivered. The set is closed:
// EventMessage, OKMessage, EOSEMessage, StatusMessage and NoticeMessage.
type RelayMessage interface {
	Origin() string
	isRelayMessage()
}

// EventMessage carries an EVENT frame.
type EventMessage struct {
	Relay          string
	SubscriptionID string
	Event          Event
}

// OKMessage carries a relay's answer to a published event.
type OKMessage struct {
	Relay    string
	EventID  string
	Accepted bool
	Message  string
}

// EOSEMessage marks the end of stored events for a subscription.
type EOSEMessage struct {
	Relay          string
	SubscriptionID string
}

// StatusMessage reports a connection state change.
type StatusMessage struct {
	Relay  string
	Status string
	Err    error
}

// NoticeMessage carries a NOTICE frame.
type NoticeMessage struct {
	Relay   string
	Message string
}

func (m EventMessage) Origin() string  { return m.Relay }
func (m OKMessage) Origin() string     { return m.Relay }
func (m EOSEMessage) Origin() string   { return m.Relay }
func (m StatusMessage) Origin() string { return m.Relay }
func (m NoticeMessage) Origin() string { return m.Relay }

func (EventMessage) isRelayMessage()  {}
func (OKMessage) isRelayMessage()     {}
func (EOSEMessage) isRelayMessage()   {}
func (StatusMessage) isRelayMessage() {}
func (NoticeMessage) isRelayMessage() {}
