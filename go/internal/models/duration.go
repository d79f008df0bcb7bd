package models

import "time"

// DayNames maps time.Weekday to the lowercase day names used as document ids
var DayNames = [7]string{"domingo", "lunes", "martes", "miércoles", "jueves", "viernes", "sábado"}

// DayName returns the lowercase day name for t in its own location
func DayName(t time.Time) string {
	return DayNames[t.Weekday()]
}

// ValidDayName reports whether day is one of DayNames
func ValidDayName(day string) bool {
	for _, d := range DayNames {
		if d == day {
			return true
		}
	}
	return false
}

// DayDurations holds the raw per-rank values of one zone/day duration document.
// Values are kept as stored because the editing flow writes them as text.
type DayDurations struct {
	Zone   string       `json:"zone"`
	Day    string       `json:"day"`
	Values map[Rank]any `json:"values"`
}

// DayDurationsFromFields decodes a stored duration document
func DayDurationsFromFields(zone, day string, fields map[string]any) DayDurations {
	values := make(map[Rank]any, 3)
	for _, r := range []Rank{RankCabo, RankSargento, RankTeniente} {
		if v, ok := fields[string(r)]; ok {
			values[r] = v
		}
	}
	return DayDurations{Zone: zone, Day: day, Values: values}
}

// ResolvedDurations is a duration table row after defaults were applied
type ResolvedDurations struct {
	Zone     string `json:"zone"`
	Day      string `json:"day"`
	Cabo     int    `json:"Cabo"`
	Sargento int    `json:"Sargento"`
	Teniente int    `json:"Teniente"`
}
