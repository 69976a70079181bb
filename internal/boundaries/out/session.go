package out

import (
	"context"

	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/domain"
)

// SessionProvider resolves the authenticated caller. Session returns nil when
// no session exists.
type SessionProvider interface {
	Session(ctx context.Context) (*domain.Session, error)
}

// SubscriptionLookup resolves a user's subscription tier. Callers default to
// the free tier when the lookup fails.
type SubscriptionLookup interface {
	Tier(ctx context.Context, userID string) (domain.Tier, error)
}
