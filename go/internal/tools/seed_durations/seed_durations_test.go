package main

import (
	"sort"
	"testing"

	"github.com/militapp/militapp/go/internal/models"
)

func TestSnapshotDocuments(t *testing.T) {
	snapshot := Snapshot{
		Profiles: map[string]map[string]any{
			"u1": {"nombre": "Ana", "rango": "Teniente", "zona": "Norte"},
		},
		Durations: map[string]map[string]map[string]any{
			"Norte": {"lunes": {"Cabo": "45", "Sargento": "60", "Teniente": "90"}},
		},
		Lists: map[string]map[string]map[string]any{
			"Norte": {"guardia": {"name": "Guardia", "creator": "u1"}},
		},
	}

	docs, err := snapshot.documents()
	if err != nil {
		t.Fatalf("documents: %v", err)
	}

	var paths []string
	for _, doc := range docs {
		paths = append(paths, doc.path)
	}
	sort.Strings(paths)

	want := []string{
		models.DayDurationsPath("Norte", "lunes"),
		models.UserProfilePath("u1"),
		models.RosterListPath("Norte", "guardia"),
	}
	sort.Strings(want)
	if len(paths) != len(want) {
		t.Fatalf("expected %v, got %v", want, paths)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, paths)
		}
	}
}

func TestSnapshotRejectsInvalidEntries(t *testing.T) {
	badRank := Snapshot{Profiles: map[string]map[string]any{"u1": {"rango": "General"}}}
	if _, err := badRank.documents(); err == nil {
		t.Fatal("expected error for unknown rank")
	}

	badDay := Snapshot{Durations: map[string]map[string]map[string]any{"Norte": {"someday": {"Cabo": "45"}}}}
	if _, err := badDay.documents(); err == nil {
		t.Fatal("expected error for unknown day")
	}
}
