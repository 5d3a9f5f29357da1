package types

// Intent is a request issued by the UI. The set is closed; see the
// IntentXxx types below.
type Intent interface {
	IntentName() string
}

// IntentSendDM sends an encrypted direct message.
type IntentSendDM struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

// IntentUpdateProfile publishes new kind 0 metadata.
type IntentUpdateProfile struct {
	Profile ProfileInfo `json:"profile"`
}

// IntentAddContact adds or updates a contact and republishes the contact list.
type IntentAddContact struct {
	PubKey   string `json:"pubkey"`
	Petname  string `json:"petname,omitempty"`
	RelayURL string `json:"relay_url,omitempty"`
}

// IntentDeleteContact removes a contact and republishes the contact list.
type IntentDeleteContact struct {
	PubKey string `json:"pubkey"`
}

// IntentConnectToRelay adds a relay and connects to it.
type IntentConnectToRelay struct {
	URL string `json:"url"`
}

// IntentCreateChannel creates a public channel.
type IntentCreateChannel struct {
	Metadata ChannelMetadata `json:"metadata"`
}

// IntentUpdateChannel publishes new metadata for a channel the user created.
type IntentUpdateChannel struct {
	ChannelID string          `json:"channel_id"`
	Metadata  ChannelMetadata `json:"metadata"`
}

// IntentSendChannelMessage posts to a channel.
type IntentSendChannelMessage struct {
	ChannelID string `json:"channel_id"`
	Text      string `json:"text"`
	ReplyTo   string `json:"reply_to,omitempty"`
}

// IntentResetUnseen clears the unseen counter of a contact.
type IntentResetUnseen struct {
	PubKey string `json:"pubkey"`
}

// IntentSyncClock measures the clock offset against the trusted time source.
type IntentSyncClock struct{}

func (IntentSendDM) IntentName() string             { return "send_dm" }
func (IntentUpdateProfile) IntentName() string      { return "update_profile" }
func (IntentAddContact) IntentName() string         { return "add_contact" }
func (IntentDeleteContact) IntentName() string      { return "delete_contact" }
func (IntentConnectToRelay) IntentName() string     { return "connect_to_relay" }
func (IntentCreateChannel) IntentName() string      { return "create_channel" }
func (IntentUpdateChannel) IntentName() string      { return "update_channel" }
func (IntentSendChannelMessage) IntentName() string { return "send_channel_message" }
func (IntentResetUnseen) IntentName() string        { return "reset_unseen" }
func (IntentSyncClock) IntentName() string          { return "sync_clock" }
