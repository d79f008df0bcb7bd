package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jonboulle/clockwork"

	"github.com/militapp/militapp/go/internal/models"
	"github.com/militapp/militapp/go/internal/users"
)

// Profiles resolves callers for access decisions
type Profiles interface {
	GetProfile(ctx context.Context, userID string) (*models.UserProfile, error)
	StoredRank(ctx context.Context, userID string) (models.Rank, bool, error)
	IsPrivileged(rank models.Rank) bool
}

// AccessRules decides which documents a caller may read and write. Writes are
// only allowed to the documents the app owns:
//   - the start time record, by privileged ranks, as a full overwrite holding
//     only startTime and list with startTime in the future
//   - a zone's duration tables, by privileged ranks of that zone
//   - a zone's lists, by members of that zone
//   - a user's own profile, without changing or dropping a stored rank
type AccessRules struct {
	profiles Profiles
	clock    clockwork.Clock
}

func NewAccessRules(profiles Profiles, clock clockwork.Clock) *AccessRules {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &AccessRules{profiles: profiles, clock: clock}
}

// CanRead allows any identified caller to read
func (a *AccessRules) CanRead(ctx context.Context, userID, path string) error {
	if userID == "" {
		return ErrUnauthenticated
	}
	return nil
}

// CanWrite checks a write of fields to path by userID. merge reports whether
// fields are merged into the stored document instead of replacing it.
func (a *AccessRules) CanWrite(ctx context.Context, userID, path string, fields map[string]any, merge bool) error {
	if userID == "" {
		return ErrUnauthenticated
	}

	if path == models.StartTimePath {
		caller, err := a.caller(ctx, userID)
		if err != nil {
			return err
		}
		if !a.profiles.IsPrivileged(caller.Rank) {
			return fmt.Errorf("%w: %s may not start countdowns", ErrPermissionDenied, caller.Rank)
		}
		return a.checkStartTime(fields, merge)
	}

	if uid, ok := strings.CutPrefix(path, models.UserDataCollection()+"/"); ok && !strings.Contains(uid, "/") {
		return a.canWriteProfile(ctx, userID, uid, fields, merge)
	}

	if zone, day, ok := durationsTarget(path); ok && models.ValidDayName(day) {
		caller, err := a.caller(ctx, userID)
		if err != nil {
			return err
		}
		if !a.profiles.IsPrivileged(caller.Rank) || caller.Zone != zone {
			return fmt.Errorf("%w: durations of %s", ErrPermissionDenied, zone)
		}
		return nil
	}

	if zone, _, ok := listTarget(path); ok {
		caller, err := a.caller(ctx, userID)
		if err != nil {
			return err
		}
		if caller.Zone != zone {
			return fmt.Errorf("%w: lists of %s", ErrPermissionDenied, zone)
		}
		return nil
	}

	return fmt.Errorf("%w: %s is read-only", ErrPermissionDenied, path)
}

func (a *AccessRules) checkStartTime(fields map[string]any, merge bool) error {
	if merge {
		return fmt.Errorf("%w: the start time must be overwritten", ErrPermissionDenied)
	}
	for key, value := range fields {
		switch key {
		case "startTime":
		case "list":
			if _, ok := value.(string); !ok {
				return fmt.Errorf("%w: list must be a string", models.ErrMalformedStartTime)
			}
		default:
			return fmt.Errorf("%w: unexpected field %q", models.ErrMalformedStartTime, key)
		}
	}

	record, err := models.StartTimeRecordFromFields(fields)
	if err != nil {
		return err
	}
	if now := a.clock.Now().UnixMilli(); record.StartTime <= now {
		return fmt.Errorf("%w: start time %d is not after %d", ErrPermissionDenied, record.StartTime, now)
	}
	return nil
}

// canWriteProfile pins the rank of an existing document. A replacing write
// must carry the stored rank; a rank may only be chosen for a new document.
func (a *AccessRules) canWriteProfile(ctx context.Context, userID, uid string, fields map[string]any, merge bool) error {
	if uid != userID {
		return fmt.Errorf("%w: profile of another user", ErrPermissionDenied)
	}

	stored, present, err := a.profiles.StoredRank(ctx, userID)
	if errors.Is(err, users.ErrProfileNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	rawRank, setsRank := fields["rango"]
	if !setsRank {
		if merge || !present {
			return nil
		}
		return fmt.Errorf("%w: rank %q must be kept", ErrPermissionDenied, stored)
	}
	if rank, ok := rawRank.(string); !ok || !present || models.Rank(rank) != stored {
		return fmt.Errorf("%w: rank cannot be changed", ErrPermissionDenied)
	}
	return nil
}

func (a *AccessRules) caller(ctx context.Context, userID string) (*models.UserProfile, error) {
	profile, err := a.profiles.GetProfile(ctx, userID)
	if errors.Is(err, users.ErrProfileNotFound) {
		return nil, fmt.Errorf("%w: no profile for %s", ErrPermissionDenied, userID)
	}
	if err != nil {
		return nil, err
	}
	return profile, nil
}

// durationsTarget matches "(default)/Zone/{zone}/{day}"
func durationsTarget(path string) (zone, day string, ok bool) {
	parts := strings.Split(path, "/")
	if len(parts) != 4 || parts[0] != "(default)" || parts[1] != "Zone" || parts[2] == "" {
		return "", "", false
	}
	return parts[2], parts[3], true
}

// listTarget matches "Zone/{zone}/listas/{id}"
func listTarget(path string) (zone, id string, ok bool) {
	parts := strings.Split(path, "/")
	if len(parts) != 4 || parts[0] != "Zone" || parts[2] != "listas" || parts[1] == "" || parts[3] == "" {
		return "", "", false
	}
	return parts[1], parts[3], true
}
