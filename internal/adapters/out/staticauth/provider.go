// Package staticauth provides a fixed-identity session provider for local
// mode, where no remote authentication service exists.
package staticauth

import (
	"context"

	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/domain"
)

// Provider always returns the same session.
type Provider struct {
	session domain.Session
}

// New creates a provider for the given identity.
func New(userID, email string) *Provider {
	return &Provider{session: domain.Session{UserID: userID, Email: email}}
}

// Session returns the fixed session.
func (p *Provider) Session(ctx context.Context) (*domain.Session, error) {
	s := p.session
	return &s, nil
}
