package roster

import (
	"context"
	"errors"
	"fmt"

	"github.com/militapp/militapp/go/internal/docstore"
	"github.com/militapp/militapp/go/internal/models"
)

// Repository reads the lists created in each zone. Lists are managed elsewhere;
// this package never writes them.
type Repository struct {
	store docstore.Store
}

func NewRepository(store docstore.Store) *Repository {
	return &Repository{
		store: store,
	}
}

func (r *Repository) GetList(ctx context.Context, zone, id string) (*models.RosterList, error) {
	doc, err := r.store.Get(ctx, models.RosterListPath(zone, id))
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, ErrListNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get roster list: %w", err)
	}

	list := models.RosterListFromFields(zone, doc.ID(), doc.Fields)
	return &list, nil
}

func (r *Repository) ListByZone(ctx context.Context, zone string) ([]models.RosterList, error) {
	docs, err := r.store.List(ctx, models.RosterListsCollection(zone))
	if err != nil {
		return nil, fmt.Errorf("failed to list roster lists: %w", err)
	}

	lists := make([]models.RosterList, 0, len(docs))
	for _, doc := range docs {
		lists = append(lists, models.RosterListFromFields(zone, doc.ID(), doc.Fields))
	}
	return lists, nil
}
