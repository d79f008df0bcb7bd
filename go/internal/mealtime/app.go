package mealtime

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/militapp/militapp/go/internal/docstore"
	"github.com/militapp/militapp/go/internal/models"
	"github.com/rs/zerolog/log"
)

// DefaultDurations are used when a zone has no usable value for a rank
var DefaultDurations = map[models.Rank]int{
	models.RankCabo:     60,
	models.RankSargento: 60,
	models.RankTeniente: 120,
}

type Config struct {
	// Defaults override DefaultDurations per rank. Non-positive entries are ignored.
	Defaults map[models.Rank]int
	// Location decides which day of the week "today" is. Defaults to time.Local.
	Location *time.Location
}

// App resolves how long a rank's meal countdown lasts in a zone on a given day
type App struct {
	store    docstore.Store
	clock    clockwork.Clock
	loc      *time.Location
	defaults map[models.Rank]int
}

func NewApp(store docstore.Store, clock clockwork.Clock, cfg Config) *App {
	defaults := make(map[models.Rank]int, len(DefaultDurations))
	for r, d := range DefaultDurations {
		defaults[r] = d
	}
	for r, d := range cfg.Defaults {
		if d > 0 {
			defaults[r] = d
		}
	}

	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}

	return &App{
		store:    store,
		clock:    clock,
		loc:      loc,
		defaults: defaults,
	}
}

// column maps a rank onto the duration table column it reads. Coronel has no
// column of its own and shares the highest one.
func column(rank models.Rank) models.Rank {
	switch rank {
	case models.RankCoronel:
		return models.RankTeniente
	case models.RankCabo, models.RankSargento, models.RankTeniente:
		return rank
	default:
		return models.RankCabo
	}
}

// Default returns the fallback duration in seconds for rank
func (a *App) Default(rank models.Rank) int {
	return a.defaults[column(rank)]
}

// Today returns the day name of the current instant in the configured location
func (a *App) Today() string {
	return models.DayName(a.clock.Now().In(a.loc))
}

// Resolve returns the countdown duration in seconds for rank in zone on day.
// It never fails: any missing, unreadable or non-positive value resolves to the
// rank's default.
func (a *App) Resolve(ctx context.Context, rank models.Rank, zone, day string) int {
	durations, ok := a.load(ctx, zone, day)
	if !ok {
		return a.Default(rank)
	}
	return a.pick(durations, rank)
}

// ResolveToday resolves the duration for the current day
func (a *App) ResolveToday(ctx context.Context, rank models.Rank, zone string) int {
	return a.Resolve(ctx, rank, zone, a.Today())
}

// Table resolves every column of a zone's day document
func (a *App) Table(ctx context.Context, zone, day string) models.ResolvedDurations {
	durations, ok := a.load(ctx, zone, day)
	if !ok {
		durations = models.DayDurations{Zone: zone, Day: day}
	}
	return models.ResolvedDurations{
		Zone:     zone,
		Day:      day,
		Cabo:     a.pick(durations, models.RankCabo),
		Sargento: a.pick(durations, models.RankSargento),
		Teniente: a.pick(durations, models.RankTeniente),
	}
}

func (a *App) load(ctx context.Context, zone, day string) (models.DayDurations, bool) {
	if zone == "" || day == "" {
		return models.DayDurations{}, false
	}

	doc, err := a.store.Get(ctx, models.DayDurationsPath(zone, day))
	if errors.Is(err, docstore.ErrNotFound) {
		log.Debug().Str("zone", zone).Str("day", day).Msg("no duration table, using defaults")
		return models.DayDurations{}, false
	}
	if err != nil {
		log.Error().Err(err).Str("zone", zone).Str("day", day).Msg("failed to read duration table, using defaults")
		return models.DayDurations{}, false
	}
	return models.DayDurationsFromFields(zone, day, doc.Fields), true
}

func (a *App) pick(durations models.DayDurations, rank models.Rank) int {
	col := column(rank)
	raw, ok := durations.Values[col]
	if !ok {
		return a.defaults[col]
	}

	n, ok := models.ToInt64(raw)
	if !ok || n <= 0 || n > maxDurationSec {
		log.Warn().
			Str("zone", durations.Zone).
			Str("day", durations.Day).
			Str("rank", string(col)).
			Interface("value", raw).
			Msg("unusable duration value, using default")
		return a.defaults[col]
	}
	return int(n)
}

// maxDurationSec bounds stored values to one day
const maxDurationSec = 24 * 60 * 60
