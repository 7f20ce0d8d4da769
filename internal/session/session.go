package session

import (
	"context"
	"fmt"
	"strings"
)

// Role selects which protocol a server speaks.
type Role string

const (
	RoleHandshake Role = "handshake"
	RoleReceiver  Role = "receiver"
)

// ParseRole normalizes a configured role name.
func ParseRole(raw string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleHandshake:
		return RoleHandshake, nil
	case RoleReceiver:
		return RoleReceiver, nil
	default:
		return "", fmt.Errorf("session: unknown role %q", raw)
	}
}

// Session handles the inbound frames of one connection in arrival order.
//
// HandleFrame returns the envelope to send back, or nil when the frame gets no
// reply. A non-nil error means the frame was rejected; the reply is nil and the
// connection stays open.
type Session interface {
	ID() string
	Role() Role
	HandleFrame(ctx context.Context, raw []byte) (any, error)
}

// Factory creates the session for a newly accepted connection.
type Factory func(connID string) Session
