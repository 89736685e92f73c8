// Package directory talks to the external identity directory that stores
// each agent's group memberships as metadata on that agent's own profile
// record. The directory offers no cross-profile transactions and is rate
// limited, so callers keep round trips to a minimum and defer what they
// cannot write synchronously.
package directory

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/crewsync/backend/internal/models"
)

// ErrNotFound is returned when a profile does not exist in the directory.
var ErrNotFound = errors.New("directory: profile not found")

// Client is the boundary with the identity directory. Search calls match
// any embedded reference to an entity (entity lists, membership markers,
// pending invitations, rsvps).
type Client interface {
	// GetProfile fetches a single profile by directory identifier.
	GetProfile(ctx context.Context, id string) (*models.Profile, error)

	// GetProfileByEmail fetches a single profile by email, or ErrNotFound.
	GetProfileByEmail(ctx context.Context, email string) (*models.Profile, error)

	// SearchByEntityID returns every profile whose metadata references the
	// entity, including team entries affiliated with an organization id.
	SearchByEntityID(ctx context.Context, entityType string, id uuid.UUID) ([]*models.Profile, error)

	// SearchByEntityName returns every profile holding an entity of the
	// given type with exactly the given name. Used for uniqueness checks.
	SearchByEntityName(ctx context.Context, entityType, name string) ([]*models.Profile, error)

	// CreateProfile provisions a profile for an agent that has never
	// authenticated (e.g. a net-new invitee).
	CreateProfile(ctx context.Context, email, name string) (*models.Profile, error)

	// UpdateMetadata merge-writes the metadata block onto the profile and
	// returns the resulting profile.
	UpdateMetadata(ctx context.Context, id string, md models.Metadata) (*models.Profile, error)
}
