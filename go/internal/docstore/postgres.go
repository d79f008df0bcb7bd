package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/sqlc-dev/pqtype"
)

// DocumentsSchema creates the table every postgres-backed store reads and writes
const DocumentsSchema = `
CREATE TABLE IF NOT EXISTS documents (
    path       TEXT PRIMARY KEY,
    parent     TEXT NOT NULL,
    data       JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS documents_parent_idx ON documents (parent);
`

const (
	getDocumentSQL = `SELECT path, data, updated_at FROM documents WHERE path = $1`

	listDocumentsSQL = `SELECT path, data, updated_at FROM documents WHERE parent = $1 ORDER BY path`

	replaceDocumentSQL = `
INSERT INTO documents (path, parent, data, updated_at)
VALUES ($1, $2, $3::jsonb, clock_timestamp())
ON CONFLICT (path) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`

	mergeDocumentSQL = `
INSERT INTO documents (path, parent, data, updated_at)
VALUES ($1, $2, $3::jsonb, clock_timestamp())
ON CONFLICT (path) DO UPDATE SET data = documents.data || EXCLUDED.data, updated_at = EXCLUDED.updated_at`

	notifySQL = `SELECT pg_notify($1, $2)`
)

type PostgresConfig struct {
	DatabaseURL      string        // Postgres DSN for LISTEN/NOTIFY
	NotifyChannel    string        // Channel name to LISTEN on
	FallbackInterval time.Duration // How often to re-read subscribed documents
	PingInterval     time.Duration
}

func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		NotifyChannel:    "militapp_documents",
		FallbackInterval: 30 * time.Second,
		PingInterval:     90 * time.Second,
	}
}

// PostgresStore keeps documents as JSONB rows and fans out changes with LISTEN/NOTIFY
type PostgresStore struct {
	db       *sql.DB
	listener *pq.Listener
	cfg      PostgresConfig

	subs *subscriberSet

	// last update delivered per path, so fallback polling skips unchanged rows
	seenMu sync.Mutex
	seen   map[string]time.Time

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// NewPostgresStore listens on the notify channel and starts the change loop
func NewPostgresStore(ctx context.Context, db *sql.DB, cfg PostgresConfig) (*PostgresStore, error) {
	l := pq.NewListener(
		cfg.DatabaseURL,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().
		Str("channel", cfg.NotifyChannel).
		Msg("listening for document notifications")

	loopCtx, cancel := context.WithCancel(ctx)
	s := &PostgresStore{
		db:       db,
		listener: l,
		cfg:      cfg,
		subs:     newSubscriberSet(),
		seen:     make(map[string]time.Time),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go s.run(loopCtx)

	return s, nil
}

// EnsureSchema creates the documents table when it does not exist
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, DocumentsSchema); err != nil {
		return fmt.Errorf("failed to create documents schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, path string) (*Document, error) {
	if err := validatePath(path); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, getDocumentSQL, path)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return doc, nil
}

func (s *PostgresStore) Set(ctx context.Context, path string, fields map[string]any, opts ...SetOption) error {
	if err := validatePath(path); err != nil {
		return err
	}
	o := applySetOptions(opts)

	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to marshal document fields: %w", err)
	}

	query := replaceDocumentSQL
	if o.merge {
		query = mergeDocumentSQL
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	raw := pqtype.NullRawMessage{RawMessage: data, Valid: true}
	if _, err := tx.ExecContext(ctx, query, path, Parent(path), raw); err != nil {
		return fmt.Errorf("failed to write document: %w", err)
	}
	// NOTIFY is delivered on commit, so listeners never read ahead of the write
	if _, err := tx.ExecContext(ctx, notifySQL, s.cfg.NotifyChannel, path); err != nil {
		return fmt.Errorf("failed to notify document change: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit document write: %w", err)
	}
	return nil
}

func (s *PostgresStore) Subscribe(ctx context.Context, path string, fn func(*Document)) (Unsubscribe, error) {
	if err := validatePath(path); err != nil {
		return nil, err
	}

	sub := newSubscriber(path, fn)
	s.subs.add(sub)

	doc, err := s.Get(ctx, path)
	switch {
	case err == nil:
		sub.push(doc)
	case errors.Is(err, ErrNotFound):
	default:
		s.subs.remove(sub)
		sub.close()
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if s.subs.remove(sub) {
				s.seenMu.Lock()
				delete(s.seen, path)
				s.seenMu.Unlock()
			}
			sub.close()
		})
	}, nil
}

func (s *PostgresStore) List(ctx context.Context, collection string) ([]*Document, error) {
	if err := validatePath(collection); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, listDocumentsSQL, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate documents: %w", err)
	}
	return docs, nil
}

func (s *PostgresStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
		s.subs.closeAll()
		err = s.listener.Close()
	})
	return err
}

func (s *PostgresStore) run(ctx context.Context) {
	defer close(s.done)

	log.Info().
		Str("channel", s.cfg.NotifyChannel).
		Dur("ping_interval", s.cfg.PingInterval).
		Dur("fallback_interval", s.cfg.FallbackInterval).
		Msg("document listener started")

	pingTicker := time.NewTicker(s.cfg.PingInterval)
	fallbackTicker := time.NewTicker(s.cfg.FallbackInterval)
	defer pingTicker.Stop()
	defer fallbackTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("document listener shutting down")
			return
		case note := <-s.listener.Notify:
			if note == nil {
				// connection was re-established, notifications may have been missed
				s.refreshAll(ctx)
				continue
			}
			if err := s.refresh(ctx, note.Extra, true); err != nil {
				log.Error().Err(err).Str("path", note.Extra).Msg("failed to handle notification")
			}
		case <-fallbackTicker.C:
			s.refreshAll(ctx)
		case <-pingTicker.C:
			if err := s.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

func (s *PostgresStore) refreshAll(ctx context.Context) {
	for _, path := range s.subs.paths() {
		if err := s.refresh(ctx, path, false); err != nil {
			log.Error().Err(err).Str("path", path).Msg("failed to refresh document")
		}
	}
}

// refresh re-reads path and fans it out. A notified write is always delivered;
// a polled one only when its update time moved forward.
func (s *PostgresStore) refresh(ctx context.Context, path string, notified bool) error {
	doc, err := s.Get(ctx, path)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	s.seenMu.Lock()
	last, ok := s.seen[path]
	stale := ok && !doc.UpdateTime.After(last)
	if !stale {
		s.seen[path] = doc.UpdateTime
	}
	s.seenMu.Unlock()

	if stale && !notified {
		return nil
	}
	s.subs.publish(doc)
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var (
		path      string
		data      pqtype.NullRawMessage
		updatedAt time.Time
	)
	if err := row.Scan(&path, &data, &updatedAt); err != nil {
		return nil, err
	}

	fields := make(map[string]any)
	if data.Valid {
		if err := json.Unmarshal(data.RawMessage, &fields); err != nil {
			return nil, fmt.Errorf("failed to unmarshal document %s: %w", path, err)
		}
	}
	return &Document{Path: path, Fields: fields, UpdateTime: updatedAt}, nil
}
