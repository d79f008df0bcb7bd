package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/militapp/militapp/go/internal/appconfig"
	"github.com/militapp/militapp/go/internal/docstore"
)

// setupStore opens the configured document store. The gateway owns the data,
// so the remote backend is refused.
func setupStore(ctx context.Context, config *appconfig.Config) (docstore.Store, error) {
	storeCfg := docstore.ConfigFromEnv()
	storeCfg.Backend = docstore.Backend(config.Docstore.Backend)
	if storeCfg.Backend == docstore.BackendRemote {
		return nil, fmt.Errorf("gateway cannot use the %q backend", storeCfg.Backend)
	}

	store, err := docstore.Open(ctx, storeCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open document store: %w", err)
	}

	log.Info().Str("backend", string(storeCfg.Backend)).Msg("document store ready")
	return store, nil
}
