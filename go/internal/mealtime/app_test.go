package mealtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/militapp/militapp/go/internal/docstore"
	"github.com/militapp/militapp/go/internal/models"
)

// failingStore fails every read
type failingStore struct {
	docstore.Store
}

func (failingStore) Get(ctx context.Context, path string) (*docstore.Document, error) {
	return nil, errors.New("unavailable")
}

func newTestApp(t *testing.T, clock clockwork.Clock) (*App, docstore.Store) {
	t.Helper()
	store := docstore.NewMemoryStore(clock)
	t.Cleanup(func() { store.Close() })
	return NewApp(store, clock, Config{Location: time.UTC}), store
}

func TestResolveReadsStoredValues(t *testing.T) {
	ctx := context.Background()
	app, store := newTestApp(t, clockwork.NewFakeClock())
	_ = store.Set(ctx, models.DayDurationsPath("Norte", "lunes"), map[string]any{
		"Cabo":     "45",
		"Sargento": float64(50),
		"Teniente": " 90 ",
	})

	cases := map[models.Rank]int{
		models.RankCabo:     45,
		models.RankSargento: 50,
		models.RankTeniente: 90,
		models.RankCoronel:  90,
	}
	for rank, want := range cases {
		if got := app.Resolve(ctx, rank, "Norte", "lunes"); got != want {
			t.Errorf("%s: got %d want %d", rank, got, want)
		}
	}
}

func TestResolveMissingFieldFallsBack(t *testing.T) {
	ctx := context.Background()
	app, store := newTestApp(t, clockwork.NewFakeClock())
	_ = store.Set(ctx, models.DayDurationsPath("Norte", "lunes"), map[string]any{
		"Cabo":     "45",
		"Teniente": "90",
	})

	if got := app.Resolve(ctx, models.RankSargento, "Norte", "lunes"); got != 60 {
		t.Fatalf("got %d want 60", got)
	}
}

func TestResolveUnusableValuesFallBack(t *testing.T) {
	ctx := context.Background()
	app, store := newTestApp(t, clockwork.NewFakeClock())
	_ = store.Set(ctx, models.DayDurationsPath("Norte", "martes"), map[string]any{
		"Cabo":     "abc",
		"Sargento": "0",
		"Teniente": float64(-5),
	})

	if got := app.Resolve(ctx, models.RankCabo, "Norte", "martes"); got != 60 {
		t.Errorf("non-numeric: got %d want 60", got)
	}
	if got := app.Resolve(ctx, models.RankSargento, "Norte", "martes"); got != 60 {
		t.Errorf("zero: got %d want 60", got)
	}
	if got := app.Resolve(ctx, models.RankTeniente, "Norte", "martes"); got != 120 {
		t.Errorf("negative: got %d want 120", got)
	}
}

func TestResolveMissingDocumentAndFailures(t *testing.T) {
	ctx := context.Background()
	app, _ := newTestApp(t, clockwork.NewFakeClock())

	if got := app.Resolve(ctx, models.RankTeniente, "Norte", "lunes"); got != 120 {
		t.Errorf("missing doc: got %d want 120", got)
	}
	if got := app.Resolve(ctx, models.RankCabo, "", "lunes"); got != 60 {
		t.Errorf("empty zone: got %d want 60", got)
	}

	clock := clockwork.NewFakeClock()
	broken := NewApp(failingStore{}, clock, Config{})
	if got := broken.Resolve(ctx, models.RankCoronel, "Norte", "lunes"); got != 120 {
		t.Errorf("read failure: got %d want 120", got)
	}
}

func TestConfiguredDefaults(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := docstore.NewMemoryStore(clock)
	defer store.Close()

	app := NewApp(store, clock, Config{Defaults: map[models.Rank]int{
		models.RankCabo:     30,
		models.RankTeniente: 0,
	}})
	if got := app.Default(models.RankCabo); got != 30 {
		t.Errorf("cabo default: got %d want 30", got)
	}
	if got := app.Default(models.RankTeniente); got != 120 {
		t.Errorf("non-positive override must be ignored: got %d", got)
	}
}

func TestResolveTodayUsesLocation(t *testing.T) {
	ctx := context.Background()
	// Monday 02:00 UTC is still Sunday in Bogotá
	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 2, 2, 0, 0, 0, time.UTC))
	store := docstore.NewMemoryStore(clock)
	defer store.Close()
	_ = store.Set(ctx, models.DayDurationsPath("Norte", "domingo"), map[string]any{"Cabo": "33"})
	_ = store.Set(ctx, models.DayDurationsPath("Norte", "lunes"), map[string]any{"Cabo": "44"})

	bogota := time.FixedZone("COT", -5*60*60)
	app := NewApp(store, clock, Config{Location: bogota})
	if app.Today() != "domingo" {
		t.Fatalf("today: %s", app.Today())
	}
	if got := app.ResolveToday(ctx, models.RankCabo, "Norte"); got != 33 {
		t.Fatalf("got %d want 33", got)
	}

	utc := NewApp(store, clock, Config{Location: time.UTC})
	if got := utc.ResolveToday(ctx, models.RankCabo, "Norte"); got != 44 {
		t.Fatalf("got %d want 44", got)
	}
}

func TestTable(t *testing.T) {
	ctx := context.Background()
	app, store := newTestApp(t, clockwork.NewFakeClock())
	_ = store.Set(ctx, models.DayDurationsPath("Norte", "miércoles"), map[string]any{"Sargento": "75"})

	table := app.Table(ctx, "Norte", "miércoles")
	want := models.ResolvedDurations{Zone: "Norte", Day: "miércoles", Cabo: 60, Sargento: 75, Teniente: 120}
	if table != want {
		t.Fatalf("got %+v want %+v", table, want)
	}

	empty := app.Table(ctx, "Sur", "jueves")
	if empty.Cabo != 60 || empty.Sargento != 60 || empty.Teniente != 120 {
		t.Fatalf("unexpected defaults %+v", empty)
	}
}
