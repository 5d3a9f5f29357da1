package types

// Contact is an entry of the local user's contact list.
type Contact struct {
	PubKey         string       `json:"pubkey"`
	Petname        *string      `json:"petname,omitempty"`
	RelayURL       *string      `json:"relay_url,omitempty"`
	Profile        *ProfileInfo `json:"profile,omitempty"`
	UnseenMessages int64        `json:"unseen_messages"`
	CreatedAt      int64        `json:"created_at"`
	UpdatedAt      int64        `json:"updated_at"`
}

// NewContact builds a contact with the optional fields set only when non-empty.
func NewContact(pubkey, relayURL, petname string) Contact {
	c := Contact{PubKey: pubkey}
	if relayURL != "" {
		c.RelayURL = &relayURL
	}
	if petname != "" {
		c.Petname = &petname
	}
	return c
}

// DirectMessage is a decrypted kind 4 message between the local user and a contact.
type DirectMessage struct {
	EventID       string `json:"event_id"`
	ContactPubKey string `json:"contact_pubkey"`
	FromPubKey    string `json:"from_pubkey"`
	ToPubKey      string `json:"to_pubkey"`
	IsFromUser    bool   `json:"is_from_user"`
	Content       string `json:"content"`
	CreatedAt     int64  `json:"created_at"` // ms
}
