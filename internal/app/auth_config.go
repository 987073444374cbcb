package app

import (
	"strings"

	"github.com/charlesng35/parkpal/internal/auth"
	"github.com/charlesng35/parkpal/internal/geofence"
	"github.com/charlesng35/parkpal/internal/realtime"
)

// JWTServiceConfig converts AuthConfig into the parameters expected by the JWT service.
func (c AuthConfig) JWTServiceConfig() auth.JWTConfig {
	ttl := c.JWT.TTL
	if ttl <= 0 {
		ttl = auth.DefaultAccessTokenTTL
	}
	leeway := c.JWT.Leeway
	if leeway <= 0 {
		leeway = auth.DefaultLeeway
	}

	return auth.JWTConfig{
		Secret:         c.JWT.Secret,
		Issuer:         c.JWT.Issuer,
		Audience:       c.JWT.Audience,
		AccessTokenTTL: ttl,
		Leeway:         leeway,
	}
}

// ManagerConfig converts GeofenceConfig into the settings shared by every session.
func (c GeofenceConfig) ManagerConfig() geofence.ManagerConfig {
	retry := geofence.DefaultRetryOptions()
	if c.Retry.MaxRetries > 0 {
		retry.MaxRetries = c.Retry.MaxRetries
	}
	if c.Retry.InitialInterval > 0 {
		retry.InitialInterval = c.Retry.InitialInterval
	}
	if c.Retry.MaxInterval > 0 {
		retry.MaxInterval = c.Retry.MaxInterval
	}
	if c.Retry.MaxElapsedTime > 0 {
		retry.MaxElapsedTime = c.Retry.MaxElapsedTime
	}

	retention := c.RetentionWindow
	if retention <= 0 {
		retention = geofence.RetentionWindow
	}

	return geofence.ManagerConfig{
		RetentionWindow: retention,
		PushConcurrency: c.PushConcurrency,
		Retry:           retry,
		MinMoveMeters:   c.MinMoveMeters,
	}
}

// AllowedStreams returns the configured realtime streams that the hub knows,
// or every known stream when none are configured.
func (c RealtimeConfig) AllowedStreams() []string {
	var out []string
	for _, stream := range c.Streams {
		stream = strings.ToLower(strings.TrimSpace(stream))
		if _, ok := realtime.KnownStreams[stream]; ok {
			out = append(out, stream)
		}
	}
	if len(out) == 0 {
		for stream := range realtime.KnownStreams {
			out = append(out, stream)
		}
	}
	return out
}
