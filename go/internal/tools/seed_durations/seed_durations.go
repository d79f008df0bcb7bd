package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/militapp/militapp/go/internal/dbconfig"
	"github.com/militapp/militapp/go/internal/docstore"
	"github.com/militapp/militapp/go/internal/models"
)

// Snapshot mirrors the seed JSON: profiles by user id, duration tables by
// zone and day, lists by zone and id
type Snapshot struct {
	Profiles  map[string]map[string]any            `json:"profiles"`
	Durations map[string]map[string]map[string]any `json:"durations"`
	Lists     map[string]map[string]map[string]any `json:"lists"`
}

type seedDocument struct {
	path   string
	fields map[string]any
}

const upsertDocumentSQL = `
INSERT INTO documents (path, parent, data, updated_at)
VALUES ($1, $2, $3::jsonb, clock_timestamp())
ON CONFLICT (path) DO UPDATE SET data = documents.data || EXCLUDED.data, updated_at = EXCLUDED.updated_at
RETURNING (xmax = 0) AS inserted`

func main() {
	path := "go/internal/assets/militapp_seed.json"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	// 1) Load the JSON snapshot
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read JSON: %v\n", err)
		os.Exit(1)
	}
	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		fmt.Fprintf(os.Stderr, "unmarshal JSON: %v\n", err)
		os.Exit(1)
	}

	docs, err := snapshot.documents()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid snapshot: %v\n", err)
		os.Exit(1)
	}

	// 2) Connect using shared dbconfig
	ctx := context.Background()
	cfg := dbconfig.NewConfigFromEnv()
	fmt.Printf("connecting to %s\n", cfg.Redacted())
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, docstore.DocumentsSchema); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create schema: %v\n", err)
		os.Exit(1)
	}

	// 3) Upsert and count, notifying running gateways of each document
	var (
		total    = len(docs)
		inserted int
		updated  int
		errs     int
		channel  = docstore.DefaultPostgresConfig().NotifyChannel
	)

	for _, doc := range docs {
		payload, err := json.Marshal(doc.fields)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error encoding %s: %v\n", doc.path, err)
			errs++
			continue
		}

		var isNew bool
		err = pool.QueryRow(ctx, upsertDocumentSQL, doc.path, docstore.Parent(doc.path), string(payload)).Scan(&isNew)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error upserting %s: %v\n", doc.path, err)
			errs++
			continue
		}
		if _, err := pool.Exec(ctx, "SELECT pg_notify($1, $2)", channel, doc.path); err != nil {
			fmt.Fprintf(os.Stderr, "error notifying %s: %v\n", doc.path, err)
		}

		if isNew {
			inserted++
		} else {
			updated++
		}
	}

	// 4) Print summary
	fmt.Printf(
		"Documents seed complete: %d total, %d inserted, %d updated, %d errors\n",
		total, inserted, updated, errs,
	)
}

// documents flattens the snapshot into document writes, validating ranks and day names
func (s Snapshot) documents() ([]seedDocument, error) {
	var docs []seedDocument

	for uid, fields := range s.Profiles {
		if _, err := models.UserProfileFromFields(uid, fields); err != nil {
			return nil, err
		}
		docs = append(docs, seedDocument{path: models.UserProfilePath(uid), fields: fields})
	}

	for zone, days := range s.Durations {
		for day, fields := range days {
			if !models.ValidDayName(day) {
				return nil, fmt.Errorf("unknown day %q in zone %s", day, zone)
			}
			docs = append(docs, seedDocument{path: models.DayDurationsPath(zone, day), fields: fields})
		}
	}

	for zone, lists := range s.Lists {
		for id, fields := range lists {
			docs = append(docs, seedDocument{path: models.RosterListPath(zone, id), fields: fields})
		}
	}

	return docs, nil
}
