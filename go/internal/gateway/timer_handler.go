package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/militapp/militapp/go/internal/docstore"
	"github.com/militapp/militapp/go/internal/models"
	"github.com/militapp/militapp/go/internal/roster"
	"github.com/militapp/militapp/go/internal/timercontrol"
	"github.com/militapp/militapp/go/internal/users"
)

// StartChannel is the shared start time record
type StartChannel interface {
	Publish(ctx context.Context, delay time.Duration, listID string) (models.StartTimeRecord, error)
	FetchCurrent(ctx context.Context) (*models.StartTimeRecord, bool)
}

// DurationTable resolves a zone's duration table for a day
type DurationTable interface {
	Table(ctx context.Context, zone, day string) models.ResolvedDurations
	Today() string
}

// Lists looks up a zone's lists
type Lists interface {
	GetList(ctx context.Context, zone, id string) (*models.RosterList, error)
}

// TimerConfig holds the delays applied by the start endpoint
type TimerConfig struct {
	HomeDelay    time.Duration
	ListDelay    time.Duration
	RestartDelay time.Duration
}

func DefaultTimerConfig() TimerConfig {
	return TimerConfig{
		HomeDelay:    timercontrol.HomeStartDelay,
		ListDelay:    timercontrol.ListStartDelay,
		RestartDelay: timercontrol.RestartDelay,
	}
}

// Start kinds accepted by POST /api/timer/start
const (
	StartKindHome    = "home"
	StartKindList    = "list"
	StartKindRestart = "restart"
)

// TimerResponse describes the shared countdown
type TimerResponse struct {
	Active     bool   `json:"active"`
	StartTime  int64  `json:"start_time,omitempty"`
	List       string `json:"list,omitempty"`
	ServerTime int64  `json:"server_time"`
}

// StartRequest is the body of POST /api/timer/start
type StartRequest struct {
	Kind string `json:"kind"`
	List string `json:"list,omitempty"`
}

// TimerHandler serves the countdown over plain HTTP for clients without a document store
type TimerHandler struct {
	profiles  Profiles
	channel   StartChannel
	durations DurationTable
	lists     Lists
	limiter   *RateLimiter
	clock     clockwork.Clock
	config    TimerConfig
}

func NewTimerHandler(profiles Profiles, channel StartChannel, durations DurationTable, lists Lists, limiter *RateLimiter, clock clockwork.Clock, config TimerConfig) *TimerHandler {
	return &TimerHandler{
		profiles:  profiles,
		channel:   channel,
		durations: durations,
		lists:     lists,
		limiter:   limiter,
		clock:     clock,
		config:    config,
	}
}

// HandleGetTimer handles GET /api/timer
func (h *TimerHandler) HandleGetTimer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := TimerResponse{ServerTime: h.clock.Now().UnixMilli()}
	if record, ok := h.channel.FetchCurrent(r.Context()); ok {
		resp.Active = true
		resp.StartTime = record.StartTime
		resp.List = record.List
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleStart handles POST /api/timer/start
func (h *TimerHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := callerID(r)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing user id")
		return
	}

	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
		return
	}

	profile, err := h.profiles.GetProfile(r.Context(), userID)
	if errors.Is(err, users.ErrProfileNotFound) || (err == nil && !h.profiles.IsPrivileged(profile.Rank)) {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "not allowed to start countdowns")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("failed to load caller profile")
		writeError(w, http.StatusInternalServerError, "INTERNAL", "failed to load profile")
		return
	}

	var delay time.Duration
	switch req.Kind {
	case StartKindHome, "":
		delay, req.List = h.config.HomeDelay, ""
	case StartKindRestart:
		delay, req.List = h.config.RestartDelay, ""
	case StartKindList:
		delay = h.config.ListDelay
		if _, err := h.lists.GetList(r.Context(), profile.Zone, req.List); err != nil {
			if errors.Is(err, roster.ErrListNotFound) {
				writeError(w, http.StatusNotFound, "LIST_NOT_FOUND", "list not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "INTERNAL", "failed to load list")
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "INVALID_KIND", "unknown start kind")
		return
	}

	if !h.limiter.Allow(userID) {
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, "RATE_LIMIT", "too many requests")
		return
	}

	record, err := h.channel.Publish(r.Context(), delay, req.List)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("failed to publish start time")
		writeError(w, http.StatusInternalServerError, "INTERNAL", "failed to start countdown")
		return
	}

	log.Info().
		Str("user_id", userID).
		Str("kind", req.Kind).
		Int64("start_time", record.StartTime).
		Msg("countdown started over http")

	writeJSON(w, http.StatusOK, TimerResponse{
		Active:     true,
		StartTime:  record.StartTime,
		List:       record.List,
		ServerTime: h.clock.Now().UnixMilli(),
	})
}

// HandleGetDurations handles GET /api/durations?zone=&day=
func (h *TimerHandler) HandleGetDurations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	zone := r.URL.Query().Get("zone")
	if zone == "" {
		writeError(w, http.StatusBadRequest, "INVALID_ZONE", "zone is required")
		return
	}
	day := r.URL.Query().Get("day")
	if day == "" {
		day = h.durations.Today()
	}
	if !models.ValidDayName(day) {
		writeError(w, http.StatusBadRequest, "INVALID_DAY", "unknown day")
		return
	}

	writeJSON(w, http.StatusOK, h.durations.Table(r.Context(), zone, day))
}

// RegisterRoutes registers the timer routes
func (h *TimerHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/timer", h.HandleGetTimer)
	mux.HandleFunc("/api/timer/start", h.HandleStart)
	mux.HandleFunc("/api/durations", h.HandleGetDurations)
}

func callerID(r *http.Request) string {
	return r.Header.Get(docstore.UserIDHeader)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}
