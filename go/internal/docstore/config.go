package docstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/jonboulle/clockwork"
	_ "github.com/lib/pq"
	"github.com/militapp/militapp/go/internal/dbconfig"
	"github.com/rs/zerolog/log"
)

type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendPostgres Backend = "postgres"
	BackendRedis    Backend = "redis"
	BackendNATS     Backend = "nats"
	BackendRemote   Backend = "remote"
)

// Config selects and configures a Store backend
type Config struct {
	Backend  Backend
	Postgres PostgresConfig
	Redis    RedisConfig
	NATS     NATSConfig
	Remote   RemoteConfig
}

// ConfigFromEnv reads DOCSTORE_BACKEND and the settings of every backend
func ConfigFromEnv() Config {
	pg := DefaultPostgresConfig()
	pg.DatabaseURL = dbconfig.NewConfigFromEnv().DSN()

	rd := DefaultRedisConfig()
	rd.URL = getEnv("REDIS_URL", rd.URL)

	nc := DefaultNATSConfig()
	nc.URL = getEnv("NATS_URL", nc.URL)
	nc.Bucket = getEnv("NATS_BUCKET", nc.Bucket)

	rm := DefaultRemoteConfig()
	rm.URL = getEnv("GATEWAY_URL", rm.URL)
	rm.UserID = os.Getenv("MILITAPP_USER_ID")

	return Config{
		Backend:  Backend(getEnv("DOCSTORE_BACKEND", string(BackendMemory))),
		Postgres: pg,
		Redis:    rd,
		NATS:     nc,
		Remote:   rm,
	}
}

// Open connects the configured backend
func Open(ctx context.Context, cfg Config) (Store, error) {
	log.Info().Str("backend", string(cfg.Backend)).Msg("opening document store")

	switch cfg.Backend {
	case BackendMemory, "":
		return NewMemoryStore(clockwork.NewRealClock()), nil
	case BackendPostgres:
		db, err := sql.Open("postgres", cfg.Postgres.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		if err := EnsureSchema(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		store, err := NewPostgresStore(ctx, db, cfg.Postgres)
		if err != nil {
			db.Close()
			return nil, err
		}
		return &ownedDBStore{PostgresStore: store, db: db}, nil
	case BackendRedis:
		return NewRedisStore(ctx, cfg.Redis)
	case BackendNATS:
		return NewNATSStore(ctx, cfg.NATS)
	case BackendRemote:
		return NewRemoteStore(cfg.Remote), nil
	default:
		return nil, fmt.Errorf("unknown document store backend %q", cfg.Backend)
	}
}

// ownedDBStore closes the database handle Open created
type ownedDBStore struct {
	*PostgresStore
	db *sql.DB
}

func (s *ownedDBStore) Close() error {
	err := s.PostgresStore.Close()
	if cerr := s.db.Close(); err == nil {
		err = cerr
	}
	return err
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
