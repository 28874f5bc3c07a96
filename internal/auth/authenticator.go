package auth

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/triviarena/triviarena/internal/models"
)

// Authenticator resolves a transport-level credential to a profile. A nil
// profile with a nil error means anonymous; callers allow that.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*models.UserProfile, error)
}

// ProfileRepository is the storage surface needed to load profiles.
type ProfileRepository interface {
	GetProfile(ctx context.Context, id uuid.UUID) (*models.UserProfile, error)
}

// StoreAuthenticator authenticates against the injected session store.
// The wallet-signature challenge flow that issues tokens lives in the
// identity service; this side only consumes its sessions.
type StoreAuthenticator struct {
	store    *SessionStore
	profiles ProfileRepository
}

// NewStoreAuthenticator creates a StoreAuthenticator.
func NewStoreAuthenticator(store *SessionStore, profiles ProfileRepository) *StoreAuthenticator {
	return &StoreAuthenticator{store: store, profiles: profiles}
}

// Authenticate implements Authenticator.
func (a *StoreAuthenticator) Authenticate(ctx context.Context, token string) (*models.UserProfile, error) {
	if token == "" {
		return nil, nil
	}
	profileID, ok := a.store.Get(token)
	if !ok {
		return nil, nil
	}
	profile, err := a.profiles.GetProfile(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("load profile %s: %w", profileID, err)
	}
	return profile, nil
}
