package types

// ChannelMetadata is the content of kind 40 and kind 41 events (NIP-28).
type ChannelMetadata struct {
	Name    string `json:"name,omitempty"`
	About   string `json:"about,omitempty"`
	Picture string `json:"picture,omitempty"`
}

// ChannelCache is the latest known state of a public channel.
// ChannelID is the id of the creation event.
type ChannelCache struct {
	ChannelID        string          `json:"channel_id"`
	CreatorPubKey    string          `json:"creator_pubkey"`
	CreatedAt        int64           `json:"created_at"` // ms
	Metadata         ChannelMetadata `json:"metadata"`
	UpdatedEventHash *string         `json:"updated_event_hash,omitempty"`
	UpdatedAt        int64           `json:"updated_at"` // ms
}

// ChannelMessage is a kind 42 message posted to a channel.
type ChannelMessage struct {
	EventID    string `json:"event_id"`
	ChannelID  string `json:"channel_id"`
	AuthorKey  string `json:"author"`
	IsFromUser bool   `json:"is_from_user"`
	ReplyTo    string `json:"reply_to,omitempty"`
	Content    string `json:"content"`
	CreatedAt  int64  `json:"created_at"` // ms
}
