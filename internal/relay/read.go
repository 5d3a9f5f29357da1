package relay

import (
	"nostr-desk/internal/nostr"
	"nostr-desk/internal/types"
)

// readLoop reads frames until the connection fails, enqueueing one
// RelayMessage per frame in arrival order.
func (rc *Conn) readLoop() {
	defer rc.pool.wg.Done()

	var readErr error
	defer func() {
		wasClosed := rc.isClosed()
		rc.markClosed(nil)
		status := types.StatusMessage{Relay: rc.url, Status: types.RelayDisconnected}
		if !wasClosed {
			status.Err = readErr
		}
		rc.pool.emit(status, nil)
	}()

	for {
		var frame []interface{}
		if err := rc.conn.ReadJSON(&frame); err != nil {
			if !rc.isClosed() {
				rc.pool.log.Info("relay pool: read error", "relay", rc.url, "error", err)
			}
			readErr = err
			return
		}

		msg, ok := rc.parseFrame(frame)
		if !ok {
			continue
		}
		rc.pool.emit(msg, rc.done)
	}
}

// parseFrame converts a relay frame into a RelayMessage.
func (rc *Conn) parseFrame(frame []interface{}) (types.RelayMessage, bool) {
	if len(frame) < 2 {
		return nil, false
	}
	msgType, ok := frame[0].(string)
	if !ok {
		return nil, false
	}

	switch msgType {
	case "EVENT":
		if len(frame) < 3 {
			return nil, false
		}
		subID, ok := frame[1].(string)
		if !ok {
			return nil, false
		}
		evt, ok := nostr.ParseEventFromInterface(frame[2])
		if !ok {
			rc.pool.log.Debug("relay pool: unparseable event", "relay", rc.url)
			return nil, false
		}
		evt.RelaysSeen = []string{rc.url}
		return types.EventMessage{Relay: rc.url, SubscriptionID: subID, Event: evt}, true

	case "OK":
		if len(frame) < 3 {
			return nil, false
		}
		id, _ := frame[1].(string)
		accepted, _ := frame[2].(bool)
		var message string
		if len(frame) > 3 {
			message, _ = frame[3].(string)
		}
		return types.OKMessage{Relay: rc.url, EventID: id, Accepted: accepted, Message: message}, true

	case "EOSE":
		subID, ok := frame[1].(string)
		if !ok {
			return nil, false
		}
		return types.EOSEMessage{Relay: rc.url, SubscriptionID: subID}, true

	case "CLOSED":
		subID, _ := frame[1].(string)
		var reason string
		if len(frame) > 2 {
			reason, _ = frame[2].(string)
		}
		rc.mu.Lock()
		delete(rc.subscriptions, subID)
		rc.mu.Unlock()
		return types.NoticeMessage{Relay: rc.url, Message: "subscription " + subID + " closed: " + reason}, true

	case "NOTICE":
		notice, _ := frame[1].(string)
		return types.NoticeMessage{Relay: rc.url, Message: notice}, true
	}
	return nil, false
}
