package realtime

// Named realtime streams.
const (
	// StreamPush carries push notification requests for the subscribed user.
	StreamPush = "push"
	// StreamNotifications carries notification history changes.
	StreamNotifications = "notifications"
	// StreamReports carries full report snapshots to every subscriber.
	StreamReports = "reports"
)

// KnownStreams lists the streams a client may subscribe to.
var KnownStreams = map[string]struct{}{
	StreamPush:          {},
	StreamNotifications: {},
	StreamReports:       {},
}
