package httpapi

import (
	"context"
	"net/http"
	"strings"
)

type authContextKey string

const (
	bridgeKey      authContextKey = "bridge"
	participantKey authContextKey = "participant"
)

// Bridge identifies the platform bridge that made the request.
type Bridge struct {
	Name          string
	Authenticated bool
}

func withBridge(ctx context.Context, b *Bridge) context.Context {
	if b == nil {
		return ctx
	}
	return context.WithValue(ctx, bridgeKey, b)
}

func bridgeFromContext(ctx context.Context) *Bridge {
	val := ctx.Value(bridgeKey)
	if v, ok := val.(*Bridge); ok {
		return v
	}
	return nil
}

func withParticipant(ctx context.Context, participant string) context.Context {
	if participant == "" {
		return ctx
	}
	return context.WithValue(ctx, participantKey, participant)
}

func participantFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(participantKey).(string); ok {
		return v
	}
	return ""
}

// participantFromRequest returns the acting participant: the body value when
// set, else the X-Participant-ID header.
func participantFromRequest(r *http.Request, fromBody string) string {
	if p := strings.TrimSpace(fromBody); p != "" {
		return p
	}
	return participantFromContext(r.Context())
}
