package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/militapp/militapp/go/internal/models"
	"github.com/rs/zerolog/log"
)

// ProfileRepository defines what the app layer needs from the repository
type ProfileRepository interface {
	GetProfile(ctx context.Context, userID string) (*models.UserProfile, error)
	StoredRank(ctx context.Context, userID string) (models.Rank, bool, error)
	SaveProfile(ctx context.Context, profile models.UserProfile) error
}

// App handles users business logic
type App struct {
	repo       ProfileRepository
	privileged map[models.Rank]bool
}

// NewApp creates a new users App. Ranks in privileged may start countdowns;
// an empty set falls back to DefaultPrivilegedRanks.
func NewApp(repo ProfileRepository, privileged []models.Rank) *App {
	if len(privileged) == 0 {
		privileged = DefaultPrivilegedRanks
	}
	set := make(map[models.Rank]bool, len(privileged))
	for _, r := range privileged {
		set[r] = true
	}
	return &App{
		repo:       repo,
		privileged: set,
	}
}

// GetProfile retrieves a user's profile
func (a *App) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	if userID == "" {
		return nil, ErrProfileNotFound
	}
	profile, err := a.repo.GetProfile(ctx, userID)
	if errors.Is(err, ErrProfileNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return profile, nil
}

// Register creates or updates a user's profile with validation. The rank of an
// existing profile cannot be changed this way.
func (a *App) Register(ctx context.Context, req RegisterRequest) (*models.UserProfile, error) {
	if err := a.validateRegisterRequest(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	stored, present, err := a.repo.StoredRank(ctx, req.UserID)
	switch {
	case err == nil:
		if present && stored != req.Rank {
			return nil, fmt.Errorf("%w: rank cannot be changed from %q", ErrInvalidProfile, stored)
		}
	case errors.Is(err, ErrProfileNotFound):
	default:
		return nil, fmt.Errorf("failed to read existing profile: %w", err)
	}

	profile := models.UserProfile{
		UserID: req.UserID,
		Name:   strings.TrimSpace(req.Name),
		Rank:   req.Rank,
		Zone:   strings.TrimSpace(req.Zone),
	}
	if err := a.repo.SaveProfile(ctx, profile); err != nil {
		return nil, fmt.Errorf("failed to register profile: %w", err)
	}

	log.Info().
		Str("user_id", profile.UserID).
		Str("rank", string(profile.Rank)).
		Str("zone", profile.Zone).
		Msg("registered profile")
	return &profile, nil
}

// StoredRank returns the raw rank on a user's document, which may not be a
// valid rank. present is false when the document carries no rank.
func (a *App) StoredRank(ctx context.Context, userID string) (models.Rank, bool, error) {
	if userID == "" {
		return "", false, ErrProfileNotFound
	}
	return a.repo.StoredRank(ctx, userID)
}

// IsPrivileged reports whether rank may start a countdown
func (a *App) IsPrivileged(rank models.Rank) bool {
	return a.privileged[rank]
}

// PrivilegedRanks returns the configured privileged ranks in rank order
func (a *App) PrivilegedRanks() []models.Rank {
	var ranks []models.Rank
	for _, r := range models.Ranks {
		if a.privileged[r] {
			ranks = append(ranks, r)
		}
	}
	return ranks
}

func (a *App) validateRegisterRequest(req RegisterRequest) error {
	if req.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidProfile)
	}
	if strings.Contains(req.UserID, "/") {
		return fmt.Errorf("%w: user id cannot contain '/'", ErrInvalidProfile)
	}
	if !req.Rank.Valid() {
		return fmt.Errorf("%w: unknown rank %q", ErrInvalidProfile, req.Rank)
	}
	if strings.TrimSpace(req.Zone) == "" {
		return fmt.Errorf("%w: zone is required", ErrInvalidProfile)
	}
	return nil
}
