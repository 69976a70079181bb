package out

import (
	"context"

	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/domain"
)

// MetadataPatch is a partial update applied to a registry record. Nil fields
// are left untouched.
type MetadataPatch struct {
	Title       *string
	Description *string
	Visibility  *domain.Visibility
	StorageURL  *string
	UserTags    []string
}

// ListFilters narrows ListByUser results.
type ListFilters struct {
	Platform        domain.Platform
	Visibility      domain.Visibility
	IncludeArchived bool
}

// RegistryStore defines the contract for the remote registry database.
// Rows are validated at this boundary; loosely-typed responses never leak
// past it.
type RegistryStore interface {
	// FindByChecksum returns the non-archived package owned by userID with
	// the given content checksum, or nil if none exists.
	FindByChecksum(ctx context.Context, checksum, userID string) (*domain.PackageMetadata, error)

	// Insert records a newly published package.
	Insert(ctx context.Context, meta *domain.PackageMetadata) error

	// Update applies a partial update to the package identified by configID.
	Update(ctx context.Context, configID string, patch MetadataPatch) error

	// SoftDelete archives the package identified by configID.
	SoftDelete(ctx context.Context, configID string) error

	// ListByUser returns the user's packages, newest first.
	ListByUser(ctx context.Context, userID string, filters ListFilters) ([]domain.PackageMetadata, error)
}
