// Package sink persists bus-delivered chat events exactly-once-effective:
// at-least-once delivery in, one row per unique message identity out.
package sink

import (
	"context"

	"github.com/you/chatzzk/internal/core"
)

// Store is a conflict-tolerant chat log. InsertChat reports inserted=false
// when the message id was already present; a repeat delivery is a no-op, not
// an error.
type Store interface {
	InsertChat(ctx context.Context, row core.ChatRow) (inserted bool, err error)
	Ping(ctx context.Context) error
	Close() error
}
