package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/militapp/militapp/go/internal/countdown"
	"github.com/militapp/militapp/go/internal/docstore"
	"github.com/militapp/militapp/go/internal/models"
	"github.com/militapp/militapp/go/internal/timercontrol"
	"github.com/militapp/militapp/go/internal/users"
	"github.com/rs/zerolog/log"
)

// Profiles resolves the user behind the device
type Profiles interface {
	GetProfile(ctx context.Context, userID string) (*models.UserProfile, error)
	IsPrivileged(rank models.Rank) bool
}

// Durations resolves the countdown length of a rank for today
type Durations interface {
	ResolveToday(ctx context.Context, rank models.Rank, zone string) int
}

// StartChannel is the shared start-time record
type StartChannel interface {
	Publish(ctx context.Context, delay time.Duration, listID string) (models.StartTimeRecord, error)
	FetchCurrent(ctx context.Context) (*models.StartTimeRecord, bool)
	Subscribe(ctx context.Context, onChange func(models.StartTimeRecord)) (docstore.Unsubscribe, error)
}

// Lists looks up the lists a countdown can be scoped to
type Lists interface {
	GetList(ctx context.Context, zone, id string) (*models.RosterList, error)
}

type Config struct {
	UserID    string
	Clock     clockwork.Clock
	Alarm     countdown.Alarm
	Navigator Navigator

	HomeDelay    time.Duration
	ListDelay    time.Duration
	RestartDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Alarm == nil {
		c.Alarm = countdown.NopAlarm{}
	}
	if c.Navigator == nil {
		c.Navigator = NopNavigator{}
	}
	if c.HomeDelay <= 0 {
		c.HomeDelay = timercontrol.HomeStartDelay
	}
	if c.ListDelay <= 0 {
		c.ListDelay = timercontrol.ListStartDelay
	}
	if c.RestartDelay <= 0 {
		c.RestartDelay = timercontrol.RestartDelay
	}
	return c
}

// Controller binds the shared start time, the duration resolver and a countdown
// engine into one device session.
//
// A start time counts as a new countdown only when it differs from both the
// value read at mount (baseline) and the last value this device saw, so the
// subscription's replay and this device's own publish echo never restart it.
type Controller struct {
	profiles  Profiles
	durations Durations
	channel   StartChannel
	lists     Lists
	cfg       Config

	mu         sync.Mutex
	mounted    bool
	gen        uint64
	screen     string
	profile    *models.UserProfile
	privileged bool
	duration   int
	baseline   int64
	lastSeen   int64
	current    *models.StartTimeRecord
	engine     *countdown.Engine
	unsub      docstore.Unsubscribe

	// viewMu guards the render state only. It is taken by engine observers and
	// never held while calling into the engine.
	viewMu     sync.Mutex
	view       State
	viewEngine *countdown.Engine
	listeners  []func(State)
}

func NewController(profiles Profiles, durations Durations, channel StartChannel, lists Lists, cfg Config) *Controller {
	return &Controller{
		profiles:  profiles,
		durations: durations,
		channel:   channel,
		lists:     lists,
		cfg:       cfg.withDefaults(),
	}
}

// OnStateChange registers a render callback. Callbacks may call State but no
// other controller method.
func (c *Controller) OnStateChange(fn func(State)) {
	c.viewMu.Lock()
	c.listeners = append(c.listeners, fn)
	c.viewMu.Unlock()
}

// State returns the current render state
func (c *Controller) State() State {
	c.viewMu.Lock()
	defer c.viewMu.Unlock()
	return c.view
}

// Mount starts a session on screen: it resolves the user's privilege and
// duration, records the current start time as baseline and subscribes to the
// channel. On the countdown screen it joins a countdown that is still running.
func (c *Controller) Mount(ctx context.Context, screen string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mounted {
		return ErrAlreadyMounted
	}

	profile, err := c.profiles.GetProfile(ctx, c.cfg.UserID)
	switch {
	case err == nil:
	case errors.Is(err, users.ErrProfileNotFound):
		log.Warn().Str("user_id", c.cfg.UserID).Msg("no profile, using defaults")
	default:
		log.Error().Err(err).Str("user_id", c.cfg.UserID).Msg("failed to load profile, using defaults")
	}

	var (
		rank models.Rank
		zone string
	)
	if profile != nil {
		rank, zone = profile.Rank, profile.Zone
	}

	c.gen++
	c.mounted = true
	c.screen = screen
	c.profile = profile
	c.privileged = profile != nil && c.profiles.IsPrivileged(rank)
	c.duration = c.durations.ResolveToday(ctx, rank, zone)
	c.baseline, c.lastSeen, c.current = 0, 0, nil

	if record, ok := c.channel.FetchCurrent(ctx); ok {
		c.baseline = record.StartTime
		c.lastSeen = record.StartTime
		c.current = record
	}

	c.updateView(func(v *State) {
		*v = State{
			Screen:     screen,
			Privileged: c.privileged,
			Duration:   c.duration,
		}
		if c.current != nil {
			v.StartTime = c.current.StartTime
			v.List = c.current.List
		}
	})

	gen := c.gen
	unsub, err := c.channel.Subscribe(ctx, func(record models.StartTimeRecord) {
		c.onStartTime(gen, record)
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to subscribe to start time, live starts disabled until remount")
	}
	c.unsub = unsub

	log.Info().
		Str("user_id", c.cfg.UserID).
		Str("screen", screen).
		Bool("privileged", c.privileged).
		Int("duration", c.duration).
		Int64("baseline", c.baseline).
		Msg("session mounted")

	if screen == ScreenTimer {
		c.startEngine(c.current)
	}
	return nil
}

// Unmount unsubscribes and tears down any running countdown. Safe to call twice.
func (c *Controller) Unmount() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.mounted {
		return
	}
	c.mounted = false
	c.gen++

	if c.unsub != nil {
		c.unsub()
		c.unsub = nil
	}
	c.stopEngine()

	log.Info().Str("user_id", c.cfg.UserID).Msg("session unmounted")
}

// Start publishes a new start time delay from now. Non-privileged users get a
// silent no-op.
func (c *Controller) Start(ctx context.Context, delay time.Duration) (bool, error) {
	return c.publish(ctx, delay, "")
}

// StartHome publishes with the home screen delay
func (c *Controller) StartHome(ctx context.Context) (bool, error) {
	return c.publish(ctx, c.cfg.HomeDelay, "")
}

// Restart publishes with the mid-countdown restart delay
func (c *Controller) Restart(ctx context.Context) (bool, error) {
	return c.publish(ctx, c.cfg.RestartDelay, "")
}

// StartForList publishes a countdown scoped to a list of the user's zone
func (c *Controller) StartForList(ctx context.Context, listID string) (bool, error) {
	c.mu.Lock()
	privileged, profile := c.privileged, c.profile
	c.mu.Unlock()

	if !privileged || profile == nil {
		return c.publish(ctx, c.cfg.ListDelay, listID)
	}
	if _, err := c.lists.GetList(ctx, profile.Zone, listID); err != nil {
		return false, fmt.Errorf("failed to start countdown for list %s: %w", listID, err)
	}
	return c.publish(ctx, c.cfg.ListDelay, listID)
}

func (c *Controller) publish(ctx context.Context, delay time.Duration, listID string) (bool, error) {
	c.mu.Lock()
	if !c.mounted {
		c.mu.Unlock()
		return false, ErrNotMounted
	}
	if !c.privileged {
		c.mu.Unlock()
		log.Debug().Str("user_id", c.cfg.UserID).Msg("ignoring start from non-privileged user")
		return false, nil
	}

	record, err := c.channel.Publish(ctx, delay, listID)
	if err != nil {
		c.mu.Unlock()
		return false, err
	}

	// our own write comes back through the subscription and must not restart us
	c.lastSeen = record.StartTime
	nav := c.beginCountdown(record)
	c.mu.Unlock()

	nav()
	return true, nil
}

// onStartTime handles a channel delivery for the session generation gen
func (c *Controller) onStartTime(gen uint64, record models.StartTimeRecord) {
	c.mu.Lock()
	if !c.mounted || gen != c.gen {
		c.mu.Unlock()
		return
	}
	if record.StartTime == c.baseline || record.StartTime == c.lastSeen {
		c.mu.Unlock()
		log.Debug().Int64("start_time", record.StartTime).Msg("ignoring replayed start time")
		return
	}

	log.Info().
		Int64("start_time", record.StartTime).
		Str("list", record.List).
		Str("screen", c.screen).
		Msg("new countdown started")

	c.lastSeen = record.StartTime
	nav := c.beginCountdown(record)
	c.mu.Unlock()

	nav()
}

// beginCountdown makes record the active start, moves to the countdown screen
// and runs a fresh engine session. The returned navigation must run after c.mu
// is released.
func (c *Controller) beginCountdown(record models.StartTimeRecord) func() {
	c.current = &record
	c.updateView(func(v *State) {
		v.StartTime = record.StartTime
		v.List = record.List
	})

	nav := func() {}
	if c.screen != ScreenTimer {
		c.screen = ScreenTimer
		c.updateView(func(v *State) { v.Screen = ScreenTimer })
		params := map[string]any{"startTime": record.StartTime}
		if record.List != "" {
			params["list"] = record.List
		}
		nav = func() {
			c.cfg.Navigator.NavigateTo(ScreenTimer, params)
		}
	}

	c.startEngine(&record)
	return nav
}

// Show records a navigation the host performed. Leaving the countdown screen
// tears the countdown down; entering it joins the active countdown if any.
func (c *Controller) Show(ctx context.Context, screen string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.mounted {
		return ErrNotMounted
	}
	if screen == c.screen {
		return nil
	}

	previous := c.screen
	c.screen = screen
	c.updateView(func(v *State) { v.Screen = screen })

	switch {
	case previous == ScreenTimer:
		c.stopEngine()
	case screen == ScreenTimer:
		c.startEngine(c.current)
	}
	return nil
}

// Return handles the "back" action shown after expiry
func (c *Controller) Return(ctx context.Context) error {
	if !c.State().ReturnVisible {
		return nil
	}
	if err := c.Show(ctx, ScreenHome); err != nil {
		return err
	}
	c.cfg.Navigator.ResetTo(ScreenHome)
	return nil
}

// startEngine replaces the running engine with a fresh session armed with the
// resolved duration, started at record when it is still running
func (c *Controller) startEngine(record *models.StartTimeRecord) {
	c.stopEngine()

	engine := countdown.NewEngine(c.cfg.Clock, c.cfg.Alarm, !c.privileged)
	engine.OnChange(func(snap countdown.Snapshot) {
		c.onEngineChange(engine, snap)
	})

	c.viewMu.Lock()
	c.viewEngine = engine
	c.viewMu.Unlock()
	c.engine = engine

	if err := engine.Arm(c.duration); err != nil {
		log.Error().Err(err).Int("duration", c.duration).Msg("failed to arm countdown")
		return
	}
	if record == nil {
		return
	}

	err := engine.Start(record.StartInstant())
	if errors.Is(err, countdown.ErrStale) {
		log.Info().Int64("start_time", record.StartTime).Msg("countdown already finished, waiting for a new start")
		return
	}
	if err != nil {
		log.Error().Err(err).Int64("start_time", record.StartTime).Msg("failed to start countdown")
	}
}

func (c *Controller) stopEngine() {
	if c.engine == nil {
		return
	}
	c.viewMu.Lock()
	c.viewEngine = nil
	c.viewMu.Unlock()

	c.engine.Stop()
	c.engine = nil

	c.updateView(func(v *State) {
		v.applySnapshot(countdown.Snapshot{Status: countdown.StatusIdle})
	})
}

func (c *Controller) onEngineChange(engine *countdown.Engine, snap countdown.Snapshot) {
	c.viewMu.Lock()
	if c.viewEngine != engine {
		c.viewMu.Unlock()
		return
	}
	c.view.applySnapshot(snap)
	view, listeners := c.view, c.listeners
	c.viewMu.Unlock()

	for _, fn := range listeners {
		fn(view)
	}
}

func (c *Controller) updateView(mutate func(*State)) {
	c.viewMu.Lock()
	mutate(&c.view)
	view, listeners := c.view, c.listeners
	c.viewMu.Unlock()

	for _, fn := range listeners {
		fn(view)
	}
}
