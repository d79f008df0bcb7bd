package timercontrol

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/militapp/militapp/go/internal/docstore"
	"github.com/militapp/militapp/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Delays between publishing a start and the countdown beginning on every device
const (
	HomeStartDelay = 5 * time.Second
	ListStartDelay = 5 * time.Second
	RestartDelay   = 15 * time.Second
)

// Channel reads, writes and observes the shared StartTimeRecord
type Channel struct {
	store docstore.Store
	clock clockwork.Clock
}

func NewChannel(store docstore.Store, clock clockwork.Clock) *Channel {
	return &Channel{
		store: store,
		clock: clock,
	}
}

// Publish overwrites the shared record with a start time delay from now.
// The previous record, list included, is discarded. Callers are responsible
// for checking the publisher's privilege.
func (c *Channel) Publish(ctx context.Context, delay time.Duration, listID string) (models.StartTimeRecord, error) {
	if delay <= 0 {
		return models.StartTimeRecord{}, fmt.Errorf("start delay must be positive, got %s", delay)
	}

	record := models.StartTimeRecord{
		StartTime: c.clock.Now().Add(delay).UnixMilli(),
		List:      listID,
	}
	if err := c.store.Set(ctx, models.StartTimePath, record.Fields()); err != nil {
		return models.StartTimeRecord{}, fmt.Errorf("failed to publish start time: %w", err)
	}

	log.Info().
		Int64("start_time", record.StartTime).
		Str("list", listID).
		Dur("delay", delay).
		Msg("published start time")
	return record, nil
}

// FetchCurrent reads the shared record once. Any failure is logged and
// reported as no active record.
func (c *Channel) FetchCurrent(ctx context.Context) (*models.StartTimeRecord, bool) {
	doc, err := c.store.Get(ctx, models.StartTimePath)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, false
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to fetch start time")
		return nil, false
	}

	record, err := models.StartTimeRecordFromFields(doc.Fields)
	if err != nil {
		log.Warn().Err(err).Interface("fields", doc.Fields).Msg("ignoring malformed start time")
		return nil, false
	}
	return &record, true
}

// Subscribe delivers every decoded record, starting with the current one.
// Malformed snapshots are skipped.
func (c *Channel) Subscribe(ctx context.Context, onChange func(models.StartTimeRecord)) (docstore.Unsubscribe, error) {
	unsub, err := c.store.Subscribe(ctx, models.StartTimePath, func(doc *docstore.Document) {
		record, err := models.StartTimeRecordFromFields(doc.Fields)
		if err != nil {
			log.Warn().Err(err).Interface("fields", doc.Fields).Msg("ignoring malformed start time")
			return
		}
		onChange(record)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to start time: %w", err)
	}
	return unsub, nil
}
