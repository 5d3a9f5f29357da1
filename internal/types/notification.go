package types

// NotificationType represents the type of notification sent to the UI
type NotificationType string

const (
	NotificationProfileUpdated      NotificationType = "profile_updated"
	NotificationContactCreated      NotificationType = "contact_created"
	NotificationContactUpdated      NotificationType = "contact_updated"
	NotificationContactDeleted      NotificationType = "contact_deleted"
	NotificationReceivedContactList NotificationType = "received_contact_list"
	NotificationReceivedDM          NotificationType = "received_dm"
	NotificationPendingDM           NotificationType = "pending_dm"
	NotificationConfirmedDM         NotificationType = "confirmed_dm"
	NotificationReceivedChannelMsg  NotificationType = "received_channel_message"
	NotificationPendingChannelMsg   NotificationType = "pending_channel_message"
	NotificationConfirmedChannelMsg NotificationType = "confirmed_channel_message"
	NotificationChannelCacheUpdated NotificationType = "channel_cache_updated"
	NotificationRelayListUpdated    NotificationType = "relay_list_updated"
	NotificationRelayStatusChanged  NotificationType = "relay_status_changed"
	NotificationEndOfStoredEvents   NotificationType = "end_of_stored_events"
	NotificationConfirmedPublish    NotificationType = "confirmed_publish"
	NotificationClockSynced         NotificationType = "clock_synced"
	NotificationError               NotificationType = "error"
)

// Notification is one entry of the ordered stream the backend sends to the UI.
// Only the fields relevant to Type are set.
type Notification struct {
	Type           NotificationType `json:"type"`
	Relay          string           `json:"relay,omitempty"`
	PubKey         string           `json:"pubkey,omitempty"`
	EventID        string           `json:"event_id,omitempty"`
	SubscriptionID string           `json:"subscription_id,omitempty"`
	Profile        *ProfileInfo     `json:"profile,omitempty"`
	Contact        *Contact         `json:"contact,omitempty"`
	Contacts       []Contact        `json:"contacts,omitempty"`
	Message        *DirectMessage   `json:"message,omitempty"`
	ChannelMessage *ChannelMessage  `json:"channel_message,omitempty"`
	Channel        *ChannelCache    `json:"channel,omitempty"`
	Relays         []RelayInfo      `json:"relays,omitempty"`
	Status         string           `json:"status,omitempty"`
	OffsetMillis   int64            `json:"offset_ms,omitempty"`
	Error          string           `json:"error,omitempty"`
}

// ErrorNotification builds the generic error entry shown to the user.
func ErrorNotification(summary string) Notification {
	return Notification{Type: NotificationError, Error: summary}
}

// Sink receives notifications in emission order.
type Sink interface {
	Notify(n Notification)
}

// ChanSink delivers notifications on a channel. Sends block, so the consumer
// must keep draining it.
type ChanSink chan Notification

func (s ChanSink) Notify(n Notification) { s <- n }

// SliceSink collects notifications; used in tests and one-shot commands.
type SliceSink struct {
	Items []Notification
}

func (s *SliceSink) Notify(n Notification) { s.Items = append(s.Items, n) }

// Types returns the notification types collected so far.
func (s *SliceSink) Types() []NotificationType {
	out := make([]NotificationType, len(s.Items))
	for i, n := range s.Items {
		out[i] = n.Type
	}
	return out
}

// Reset drops the collected notifications.
func (s *SliceSink) Reset() { s.Items = nil }
