// Package notify delivers out-of-band user notifications, distinct from the
// chat event stream: notifications address a user wherever they are connected,
// not a particular chat room.
package notify

import (
	"context"

	"cirvia/pkg/domain"
)

// Notifier pushes a payload to a single user.
type Notifier interface {
	NotifyUser(ctx context.Context, userID domain.UserID, payload any) error
}
