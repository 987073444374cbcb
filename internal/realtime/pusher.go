package realtime

import (
	"context"
	"errors"

	"github.com/charlesng35/parkpal/internal/geofence"
)

// EventPushRequested is the event name of push messages.
const EventPushRequested = "push.requested"

// HubPusher delivers geofence push requests to the user's websocket clients.
// Delivery is best effort: users without a connected client miss the push.
type HubPusher struct {
	hub *Hub
}

// NewHubPusher wraps hub as a geofence.Pusher.
func NewHubPusher(hub *Hub) (*HubPusher, error) {
	if hub == nil {
		return nil, errors.New("realtime: hub is required")
	}
	return &HubPusher{hub: hub}, nil
}

// Push implements geofence.Pusher.
func (p *HubPusher) Push(ctx context.Context, userID string, request geofence.PushRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if userID == "" {
		return errors.New("realtime: push requires a user id")
	}
	p.hub.BroadcastToUser(StreamPush, userID, Message{
		Event: EventPushRequested,
		Data:  request,
	})
	return nil
}

var _ geofence.Pusher = (*HubPusher)(nil)
