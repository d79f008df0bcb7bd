package countdown

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Status is the lifecycle position of a countdown
type Status int

const (
	StatusIdle Status = iota
	StatusReady
	StatusTicking
	StatusExpired
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusReady:
		return "ready"
	case StatusTicking:
		return "ticking"
	case StatusExpired:
		return "expired"
	}
	return "unknown"
}

// Snapshot is the observable state of an engine
type Snapshot struct {
	Status        Status    `json:"status"`
	Duration      int       `json:"duration"`
	Remaining     int       `json:"remaining"`
	StartAt       time.Time `json:"start_at"`
	ReturnVisible bool      `json:"return_visible"`
}

// Expired reports whether the countdown reached zero
func (s Snapshot) Expired() bool {
	return s.Status == StatusExpired
}

// Engine counts one session down from a duration, one second per tick, with
// ticks aligned on the shared start instant. A session is not restartable:
// callers tear it down with Stop and build a new engine for the next start.
type Engine struct {
	clock      clockwork.Clock
	alarm      Alarm
	showReturn bool

	mu        sync.Mutex
	state     Snapshot
	observers []func(Snapshot)
	cancel    context.CancelFunc
	done      chan struct{}
	sound     Sound

	// emitMu keeps observer calls in state-change order
	emitMu sync.Mutex
}

// NewEngine creates an idle engine. showReturn marks the "back" affordance
// visible once the countdown expires.
func NewEngine(clock clockwork.Clock, alarm Alarm, showReturn bool) *Engine {
	if alarm == nil {
		alarm = NopAlarm{}
	}
	return &Engine{
		clock:      clock,
		alarm:      alarm,
		showReturn: showReturn,
	}
}

// OnChange registers an observer for every state change. Observers run on the
// engine's goroutines and must not call back into the engine.
func (e *Engine) OnChange(fn func(Snapshot)) {
	e.mu.Lock()
	e.observers = append(e.observers, fn)
	e.mu.Unlock()
}

// Snapshot returns the current state
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Arm moves an idle or ready engine to Ready with the full duration remaining
func (e *Engine) Arm(durationSec int) error {
	if durationSec <= 0 {
		return ErrInvalidDuration
	}

	e.emitMu.Lock()
	defer e.emitMu.Unlock()

	e.mu.Lock()
	if e.state.Status != StatusIdle && e.state.Status != StatusReady {
		e.mu.Unlock()
		return ErrNotReady
	}
	e.state = Snapshot{
		Status:    StatusReady,
		Duration:  durationSec,
		Remaining: durationSec,
	}
	snap, observers := e.state, e.observers
	e.mu.Unlock()

	emit(observers, snap)
	return nil
}

// Start begins ticking toward startAt + duration. A start in the future keeps the
// full duration until its first boundary; a late join drops the whole seconds
// already elapsed. When the target instant has passed the engine stays Ready
// and ErrStale is returned.
func (e *Engine) Start(startAt time.Time) error {
	e.emitMu.Lock()
	defer e.emitMu.Unlock()

	e.mu.Lock()
	if e.state.Status != StatusReady {
		e.mu.Unlock()
		return ErrNotReady
	}

	now := e.clock.Now()
	duration := e.state.Duration
	target := startAt.Add(time.Duration(duration) * time.Second)
	if !now.Before(target) {
		e.mu.Unlock()
		log.Debug().
			Time("start_at", startAt).
			Time("target", target).
			Msg("countdown already over, staying ready")
		return ErrStale
	}

	remaining := duration
	var elapsed time.Duration
	if now.After(startAt) {
		elapsed = now.Sub(startAt).Truncate(time.Second)
		remaining -= int(elapsed / time.Second)
	}
	firstTick := startAt.Add(elapsed + time.Second).Sub(now)

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})
	e.state.Status = StatusTicking
	e.state.StartAt = startAt
	e.state.Remaining = remaining
	snap, observers := e.state, e.observers
	done := e.done
	e.mu.Unlock()

	emit(observers, snap)

	log.Debug().
		Time("start_at", startAt).
		Int("remaining", remaining).
		Dur("first_tick", firstTick).
		Msg("countdown started")

	go e.run(ctx, done, firstTick)
	return nil
}

// Stop cancels any pending tick, waits for the tick loop to exit and releases
// the alarm sound. It is safe to call in any state and more than once.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	e.emitMu.Lock()
	defer e.emitMu.Unlock()

	e.mu.Lock()
	sound := e.sound
	e.sound = nil
	changed := e.state.Status != StatusIdle
	e.state = Snapshot{Status: StatusIdle, Duration: e.state.Duration}
	snap, observers := e.state, e.observers
	e.mu.Unlock()

	if sound != nil {
		sound.Release()
	}
	if changed {
		emit(observers, snap)
	}
}

func (e *Engine) run(ctx context.Context, done chan struct{}, firstTick time.Duration) {
	defer close(done)

	timer := e.clock.NewTimer(firstTick)
	select {
	case <-ctx.Done():
		stopAndDrainTimer(timer)
		return
	case <-timer.Chan():
	}

	if e.tick(ctx) {
		return
	}

	ticker := e.clock.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if e.tick(ctx) {
				return
			}
		}
	}
}

// tick decrements the countdown by one second and reports whether it expired
func (e *Engine) tick(ctx context.Context) bool {
	e.emitMu.Lock()
	defer e.emitMu.Unlock()

	e.mu.Lock()
	if e.state.Status != StatusTicking {
		e.mu.Unlock()
		return true
	}
	e.state.Remaining--
	expired := e.state.Remaining <= 0
	if expired {
		e.state.Remaining = 0
		e.state.Status = StatusExpired
		e.state.ReturnVisible = e.showReturn
	}
	snap, observers := e.state, e.observers
	e.mu.Unlock()

	emit(observers, snap)

	if expired {
		e.ring(ctx)
	}
	return expired
}

// ring loads and plays the alarm, keeping the sound until Stop releases it
func (e *Engine) ring(ctx context.Context) {
	sound, err := e.alarm.Load(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to load alarm")
		return
	}

	e.mu.Lock()
	previous := e.sound
	e.sound = sound
	e.mu.Unlock()
	if previous != nil {
		previous.Release()
	}

	if err := sound.Play(ctx); err != nil {
		log.Error().Err(err).Msg("failed to play alarm")
	}
}

func emit(observers []func(Snapshot), snap Snapshot) {
	for _, fn := range observers {
		fn(snap)
	}
}

// stopAndDrainTimer stops a timer and drains its channel if it already fired
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
