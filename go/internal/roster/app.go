package roster

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/militapp/militapp/go/internal/models"
	"github.com/rs/zerolog/log"
)

// ListRepository defines what the app layer needs from the repository
type ListRepository interface {
	GetList(ctx context.Context, zone, id string) (*models.RosterList, error)
	ListByZone(ctx context.Context, zone string) ([]models.RosterList, error)
}

// App answers list lookups for list-scoped countdowns
type App struct {
	repo ListRepository
}

func NewApp(repo ListRepository) *App {
	return &App{
		repo: repo,
	}
}

// GetList returns a list of the zone
func (a *App) GetList(ctx context.Context, zone, id string) (*models.RosterList, error) {
	if strings.TrimSpace(id) == "" || strings.Contains(id, "/") {
		return nil, ErrListNotFound
	}
	list, err := a.repo.GetList(ctx, zone, id)
	if err != nil {
		if !errors.Is(err, ErrListNotFound) {
			log.Error().Err(err).Str("zone", zone).Str("list_id", id).Msg("failed to get roster list")
		}
		return nil, err
	}
	return list, nil
}

// ListByZone returns every list created in the zone
func (a *App) ListByZone(ctx context.Context, zone string) ([]models.RosterList, error) {
	if strings.TrimSpace(zone) == "" {
		return nil, fmt.Errorf("zone is required")
	}
	return a.repo.ListByZone(ctx, zone)
}
