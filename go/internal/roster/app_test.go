package roster

import (
	"context"
	"errors"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/militapp/militapp/go/internal/docstore"
	"github.com/militapp/militapp/go/internal/models"
)

func newTestApp(t *testing.T) (*App, docstore.Store) {
	t.Helper()
	store := docstore.NewMemoryStore(clockwork.NewFakeClock())
	t.Cleanup(func() { store.Close() })
	return NewApp(NewRepository(store)), store
}

func TestGetList(t *testing.T) {
	ctx := context.Background()
	app, store := newTestApp(t)
	_ = store.Set(ctx, models.RosterListPath("Norte", "l1"), map[string]any{"name": "Guardia", "creator": "u1"})

	list, err := app.GetList(ctx, "Norte", "l1")
	if err != nil {
		t.Fatalf("get list: %v", err)
	}
	if list.ID != "l1" || list.Name != "Guardia" || list.Zone != "Norte" {
		t.Fatalf("unexpected list %+v", list)
	}

	if _, err := app.GetList(ctx, "Sur", "l1"); !errors.Is(err, ErrListNotFound) {
		t.Fatalf("list from another zone should not be found, got %v", err)
	}
	if _, err := app.GetList(ctx, "Norte", ""); !errors.Is(err, ErrListNotFound) {
		t.Fatalf("empty id should not be found, got %v", err)
	}
}

func TestListByZone(t *testing.T) {
	ctx := context.Background()
	app, store := newTestApp(t)
	_ = store.Set(ctx, models.RosterListPath("Norte", "b"), map[string]any{"name": "B"})
	_ = store.Set(ctx, models.RosterListPath("Norte", "a"), map[string]any{"name": "A"})
	_ = store.Set(ctx, models.RosterListPath("Sur", "c"), map[string]any{"name": "C"})

	lists, err := app.ListByZone(ctx, "Norte")
	if err != nil {
		t.Fatalf("list by zone: %v", err)
	}
	if len(lists) != 2 || lists[0].Name != "A" || lists[1].Name != "B" {
		t.Fatalf("unexpected lists %+v", lists)
	}

	if _, err := app.ListByZone(ctx, ""); err == nil {
		t.Fatal("expected error for empty zone")
	}
}
