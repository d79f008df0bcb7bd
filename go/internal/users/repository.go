package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/militapp/militapp/go/internal/docstore"
	"github.com/militapp/militapp/go/internal/models"
)

// Repository implements profile data access on the document store
type Repository struct {
	store docstore.Store
}

// NewRepository creates a new users repository
func NewRepository(store docstore.Store) *Repository {
	return &Repository{
		store: store,
	}
}

// GetProfile retrieves a profile by user ID
func (r *Repository) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	doc, err := r.store.Get(ctx, models.UserProfilePath(userID))
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	return models.UserProfileFromFields(userID, doc.Fields)
}

// StoredRank returns the raw rank stored on the user's document, valid or not.
// present is false when the document has no rank field.
func (r *Repository) StoredRank(ctx context.Context, userID string) (rank models.Rank, present bool, err error) {
	doc, err := r.store.Get(ctx, models.UserProfilePath(userID))
	if errors.Is(err, docstore.ErrNotFound) {
		return "", false, ErrProfileNotFound
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get profile: %w", err)
	}

	raw, present := doc.Fields["rango"]
	s, _ := raw.(string)
	return models.Rank(s), present, nil
}

// SaveProfile merges the profile fields into the user's document, keeping
// fields this module does not own (image, email)
func (r *Repository) SaveProfile(ctx context.Context, profile models.UserProfile) error {
	err := r.store.Set(ctx, models.UserProfilePath(profile.UserID), profile.Fields(), docstore.WithMerge())
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}
