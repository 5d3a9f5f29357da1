package types

// ProfileInfo contains user profile metadata (kind 0)
type ProfileInfo struct {
	Name        string `json:"name,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Picture     string `json:"picture,omitempty"`
	Nip05       string `json:"nip05,omitempty"`
	About       string `json:"about,omitempty"`
	Banner      string `json:"banner,omitempty"`
	Lud16       string `json:"lud16,omitempty"`
	Website     string `json:"website,omitempty"`
}

// ProfileCache is the latest known kind 0 state for a pubkey.
type ProfileCache struct {
	PubKey    string      `json:"pubkey"`
	Metadata  ProfileInfo `json:"metadata"`
	EventHash string      `json:"event_hash"`
	UpdatedAt int64       `json:"updated_at"` // created_at of EventHash, ms
}
