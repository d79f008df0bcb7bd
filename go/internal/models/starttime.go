package models

import (
	"errors"
	"time"
)

// ErrMalformedStartTime is returned when a start time document has no usable startTime field
var ErrMalformedStartTime = errors.New("malformed start time record")

// StartTimeRecord is the shared value every device counts down from.
// StartTime is the epoch time in milliseconds at which the countdown begins.
type StartTimeRecord struct {
	StartTime int64  `json:"startTime"`
	List      string `json:"list,omitempty"`
}

// StartInstant returns the start time as a time.Time
func (r StartTimeRecord) StartInstant() time.Time {
	return time.UnixMilli(r.StartTime)
}

// TargetInstant returns the instant a countdown of durationSec reaches zero
func (r StartTimeRecord) TargetInstant(durationSec int) time.Time {
	return r.StartInstant().Add(time.Duration(durationSec) * time.Second)
}

// RemainingAt calculates the whole seconds left at now for a countdown of durationSec
func (r StartTimeRecord) RemainingAt(now time.Time, durationSec int) int {
	start := r.StartInstant()
	if now.Before(start) {
		return durationSec
	}

	remaining := durationSec - int(now.Sub(start)/time.Second)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Fields returns the document representation of the record
func (r StartTimeRecord) Fields() map[string]any {
	fields := map[string]any{
		"startTime": r.StartTime,
	}
	if r.List != "" {
		fields["list"] = r.List
	}
	return fields
}

// StartTimeRecordFromFields decodes a stored start time document
func StartTimeRecordFromFields(fields map[string]any) (StartTimeRecord, error) {
	startTime, ok := Int64Field(fields, "startTime")
	if !ok || startTime <= 0 {
		return StartTimeRecord{}, ErrMalformedStartTime
	}

	list, _ := fields["list"].(string)
	return StartTimeRecord{StartTime: startTime, List: list}, nil
}
