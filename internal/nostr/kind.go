package nostr

// Wire kind numbers handled by the client.
const (
	KindNumMetadata      = 0
	KindNumContactList   = 3
	KindNumEncryptedDM   = 4
	KindNumChannelCreate = 40
	KindNumChannelMeta   = 41
	KindNumChannelMsg    = 42
	KindNumRelayList     = 10002
)

// Kind is the closed set of event categories the reconciler distinguishes.
type Kind int

const (
	KindOther Kind = iota
	KindMetadata
	KindContactList
	KindEncryptedDirectMessage
	KindChannelCreation
	KindChannelMetadata
	KindChannelMessage
	KindRelayList
)

// ClassifyKind maps a wire kind number to its category.
func ClassifyKind(kind int) Kind {
	switch kind {
	case KindNumMetadata:
		return KindMetadata
	case KindNumContactList:
		return KindContactList
	case KindNumEncryptedDM:
		return KindEncryptedDirectMessage
	case KindNumChannelCreate:
		return KindChannelCreation
	case KindNumChannelMeta:
		return KindChannelMetadata
	case KindNumChannelMsg:
		return KindChannelMessage
	case KindNumRelayList:
		return KindRelayList
	default:
		return KindOther
	}
}

func (k Kind) String() string {
	switch k {
	case KindMetadata:
		return "metadata"
	case KindContactList:
		return "contact_list"
	case KindEncryptedDirectMessage:
		return "encrypted_dm"
	case KindChannelCreation:
		return "channel_creation"
	case KindChannelMetadata:
		return "channel_metadata"
	case KindChannelMessage:
		return "channel_message"
	case KindRelayList:
		return "relay_list"
	default:
		return "other"
	}
}
