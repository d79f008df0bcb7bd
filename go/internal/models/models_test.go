package models

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"
)

func TestRemainingAt(t *testing.T) {
	record := StartTimeRecord{StartTime: time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC).UnixMilli()}
	start := record.StartInstant()

	tests := []struct {
		name string
		now  time.Time
		want int
	}{
		{"before start", start.Add(-3 * time.Second), 60},
		{"at start", start, 60},
		{"partial second truncates", start.Add(1500 * time.Millisecond), 59},
		{"mid countdown", start.Add(45 * time.Second), 15},
		{"at target", start.Add(60 * time.Second), 0},
		{"after target", start.Add(5 * time.Minute), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := record.RemainingAt(tt.now, 60); got != tt.want {
				t.Fatalf("RemainingAt = %d, want %d", got, tt.want)
			}
		})
	}

	if got := record.TargetInstant(60); !got.Equal(start.Add(time.Minute)) {
		t.Fatalf("unexpected target %s", got)
	}
}

func TestToInt64(t *testing.T) {
	tests := []struct {
		in   any
		want int64
		ok   bool
	}{
		{60, 60, true},
		{int64(90), 90, true},
		{float64(120), 120, true},
		{1.5, 0, false},
		{math.NaN(), 0, false},
		{json.Number("45"), 45, true},
		{" 30 ", 30, true},
		{"abc", 0, false},
		{true, 0, false},
		{nil, 0, false},
	}
	for _, tt := range tests {
		got, ok := ToInt64(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ToInt64(%v) = %d, %v; want %d, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestStartTimeRecordFromFields(t *testing.T) {
	record, err := StartTimeRecordFromFields(map[string]any{"startTime": float64(1748865605000), "list": "guardia"})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if record.StartTime != 1748865605000 || record.List != "guardia" {
		t.Fatalf("unexpected record %+v", record)
	}

	for _, fields := range []map[string]any{
		{},
		{"startTime": "soon"},
		{"startTime": 0},
		{"startTime": -5},
	} {
		if _, err := StartTimeRecordFromFields(fields); !errors.Is(err, ErrMalformedStartTime) {
			t.Errorf("fields %v: expected ErrMalformedStartTime, got %v", fields, err)
		}
	}

	if _, ok := (StartTimeRecord{StartTime: 1}).Fields()["list"]; ok {
		t.Error("empty list should not be written")
	}
}

func TestUserProfileFromFields(t *testing.T) {
	profile, err := UserProfileFromFields("u1", map[string]any{"nombre": "Ana", "rango": "Coronel", "zona": "Sur", "imagen": "a.png"})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if profile.UserID != "u1" || profile.Rank != RankCoronel || profile.Zone != "Sur" {
		t.Fatalf("unexpected profile %+v", profile)
	}

	_, err = UserProfileFromFields("u2", map[string]any{"rango": "General"})
	if !errors.Is(err, ErrInvalidRank) {
		t.Fatalf("expected ErrInvalidRank, got %v", err)
	}
}

func TestDayName(t *testing.T) {
	monday := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	if got := DayName(monday); got != "lunes" {
		t.Fatalf("expected lunes, got %s", got)
	}
	if !ValidDayName("miércoles") || ValidDayName("Lunes") {
		t.Fatal("day names are lowercase with accents")
	}
}
