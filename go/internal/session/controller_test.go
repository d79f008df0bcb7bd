package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/militapp/militapp/go/internal/countdown"
	"github.com/militapp/militapp/go/internal/docstore"
	"github.com/militapp/militapp/go/internal/mealtime"
	"github.com/militapp/militapp/go/internal/models"
	"github.com/militapp/militapp/go/internal/roster"
	"github.com/militapp/militapp/go/internal/timercontrol"
	"github.com/militapp/militapp/go/internal/users"
)

// Monday
var t0 = time.Date(2025, 6, 2, 13, 0, 0, 0, time.UTC)

type recordingNavigator struct {
	mu     sync.Mutex
	navs   []string
	resets []string
}

func (n *recordingNavigator) NavigateTo(screen string, params map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.navs = append(n.navs, screen)
}

func (n *recordingNavigator) ResetTo(screen string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.resets = append(n.resets, screen)
}

func (n *recordingNavigator) navigations() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.navs...)
}

type countingAlarm struct {
	mu       sync.Mutex
	plays    int
	releases int
}

func (a *countingAlarm) Load(ctx context.Context) (countdown.Sound, error) {
	return &countingSound{alarm: a}, nil
}

func (a *countingAlarm) counts() (int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.plays, a.releases
}

type countingSound struct {
	alarm *countingAlarm
}

func (s *countingSound) Play(ctx context.Context) error {
	s.alarm.mu.Lock()
	defer s.alarm.mu.Unlock()
	s.alarm.plays++
	return nil
}

func (s *countingSound) Release() {
	s.alarm.mu.Lock()
	defer s.alarm.mu.Unlock()
	s.alarm.releases++
}

type env struct {
	t         *testing.T
	clock     *clockwork.FakeClock
	store     docstore.Store
	profiles  *users.App
	durations *mealtime.App
	channel   *timercontrol.Channel
	lists     *roster.App
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(t0)
	store := docstore.NewMemoryStore(clock)
	t.Cleanup(func() { store.Close() })

	e := &env{
		t:         t,
		clock:     clock,
		store:     store,
		profiles:  users.NewApp(users.NewRepository(store), nil),
		durations: mealtime.NewApp(store, clock, mealtime.Config{Location: time.UTC}),
		channel:   timercontrol.NewChannel(store, clock),
		lists:     roster.NewApp(roster.NewRepository(store)),
	}

	for uid, rank := range map[string]models.Rank{
		"teniente-1": models.RankTeniente,
		"teniente-2": models.RankTeniente,
		"coronel":    models.RankCoronel,
		"cabo":       models.RankCabo,
		"sargento":   models.RankSargento,
	} {
		profile := models.UserProfile{UserID: uid, Name: uid, Rank: rank, Zone: "Norte"}
		if err := store.Set(ctx, models.UserProfilePath(uid), profile.Fields()); err != nil {
			t.Fatalf("seed profile: %v", err)
		}
	}
	_ = store.Set(ctx, models.DayDurationsPath("Norte", "lunes"), map[string]any{
		"Cabo": "3", "Sargento": "4", "Teniente": "120",
	})
	_ = store.Set(ctx, models.RosterListPath("Norte", "guardia"), map[string]any{"name": "Guardia"})
	return e
}

type device struct {
	ctrl  *Controller
	nav   *recordingNavigator
	alarm *countingAlarm
}

func (e *env) device(userID string) *device {
	d := &device{nav: &recordingNavigator{}, alarm: &countingAlarm{}}
	d.ctrl = NewController(e.profiles, e.durations, e.channel, e.lists, Config{
		UserID:    userID,
		Clock:     e.clock,
		Alarm:     d.alarm,
		Navigator: d.nav,
	})
	e.t.Cleanup(d.ctrl.Unmount)
	return d
}

func (e *env) mount(d *device, screen string) {
	e.t.Helper()
	if err := d.ctrl.Mount(context.Background(), screen); err != nil {
		e.t.Fatalf("mount: %v", err)
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// settle gives asynchronous channel deliveries time to arrive
func settle() {
	time.Sleep(50 * time.Millisecond)
}

// tick advances the shared clock once the given number of engines are parked
func (e *env) tick(engines int, d time.Duration) {
	e.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.clock.BlockUntilContext(ctx, engines); err != nil {
		e.t.Fatalf("engines never parked: %v", err)
	}
	e.clock.Advance(d)
}

func TestReplayOfBaselineDoesNotNavigate(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	existing := models.StartTimeRecord{StartTime: t0.Add(-time.Hour).UnixMilli()}
	_ = e.store.Set(ctx, models.StartTimePath, existing.Fields())

	cabo := e.device("cabo")
	e.mount(cabo, ScreenHome)
	settle()

	// the same value written again is still the baseline
	_ = e.store.Set(ctx, models.StartTimePath, existing.Fields())
	settle()

	if navs := cabo.nav.navigations(); len(navs) != 0 {
		t.Fatalf("replay caused navigation: %v", navs)
	}
	state := cabo.ctrl.State()
	if state.Screen != ScreenHome || state.Status != countdown.StatusIdle {
		t.Fatalf("unexpected state %+v", state)
	}
	if state.StartTime != existing.StartTime {
		t.Fatalf("baseline not exposed: %+v", state)
	}
}

func TestDuplicateDeliveryNavigatesOnce(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	cabo := e.device("cabo")
	e.mount(cabo, ScreenHome)

	record := models.StartTimeRecord{StartTime: t0.Add(5 * time.Second).UnixMilli()}
	_ = e.store.Set(ctx, models.StartTimePath, record.Fields())
	_ = e.store.Set(ctx, models.StartTimePath, record.Fields())

	eventually(t, "navigation", func() bool { return len(cabo.nav.navigations()) > 0 })
	settle()

	if navs := cabo.nav.navigations(); len(navs) != 1 || navs[0] != ScreenTimer {
		t.Fatalf("expected one navigation to Timer, got %v", navs)
	}
}

func TestPublishedStartSynchronizesDevices(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	publisher := e.device("teniente-1")
	follower := e.device("teniente-2")
	e.mount(publisher, ScreenHome)
	e.mount(follower, ScreenHome)
	settle()

	started, err := publisher.ctrl.StartHome(ctx)
	if err != nil || !started {
		t.Fatalf("start: started=%v err=%v", started, err)
	}
	want := t0.Add(timercontrol.HomeStartDelay).UnixMilli()

	eventually(t, "follower on timer", func() bool {
		s := follower.ctrl.State()
		return s.Screen == ScreenTimer && s.Status == countdown.StatusTicking && s.StartTime == want
	})
	if s := follower.ctrl.State(); s.Remaining != 120 || s.Duration != 120 {
		t.Fatalf("follower should hold 120 before start, got %+v", s)
	}

	// before the start instant nothing moves
	e.tick(2, 5*time.Second)
	settle()
	if s := follower.ctrl.State(); s.Remaining != 120 {
		t.Fatalf("ticked before start: %+v", s)
	}

	for remaining := 119; remaining >= 0; remaining-- {
		e.tick(2, time.Second)
		r := remaining
		eventually(t, "both devices ticked", func() bool {
			return follower.ctrl.State().Remaining == r && publisher.ctrl.State().Remaining == r
		})
	}

	final := follower.ctrl.State()
	if !final.Expired || final.ReturnVisible {
		t.Fatalf("unexpected final state %+v", final)
	}
	if plays, _ := follower.alarm.counts(); plays != 1 {
		t.Fatalf("alarm played %d times", plays)
	}

	// own echo must not have restarted the publisher
	if navs := publisher.nav.navigations(); len(navs) != 1 {
		t.Fatalf("publisher navigated %d times", len(navs))
	}
	if navs := follower.nav.navigations(); len(navs) != 1 {
		t.Fatalf("follower navigated %d times", len(navs))
	}

	follower.ctrl.Unmount()
	if _, releases := follower.alarm.counts(); releases != 1 {
		t.Fatalf("alarm released %d times", releases)
	}
}

func TestLastWriteWins(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	first := e.device("teniente-1")
	second := e.device("coronel")
	watcher := e.device("sargento")
	e.mount(first, ScreenHome)
	e.mount(second, ScreenHome)
	e.mount(watcher, ScreenHome)
	settle()

	if _, err := first.ctrl.StartHome(ctx); err != nil {
		t.Fatalf("first start: %v", err)
	}
	e.clock.Advance(200 * time.Millisecond)
	if _, err := second.ctrl.StartHome(ctx); err != nil {
		t.Fatalf("second start: %v", err)
	}
	want := t0.Add(200*time.Millisecond + timercontrol.HomeStartDelay).UnixMilli()

	for name, d := range map[string]*device{"first": first, "second": second, "watcher": watcher} {
		d := d
		eventually(t, name+" converged", func() bool {
			s := d.ctrl.State()
			return s.StartTime == want && s.Screen == ScreenTimer && s.Status == countdown.StatusTicking
		})
	}

	current, ok := e.channel.FetchCurrent(ctx)
	if !ok || current.StartTime != want {
		t.Fatalf("store holds %+v", current)
	}
	if navs := watcher.nav.navigations(); len(navs) != 1 {
		t.Fatalf("a restart on the countdown screen must not navigate again: %v", navs)
	}
}

func TestNonPrivilegedStartIsNoop(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	cabo := e.device("cabo")
	e.mount(cabo, ScreenHome)

	started, err := cabo.ctrl.StartHome(ctx)
	if err != nil || started {
		t.Fatalf("expected silent no-op, got started=%v err=%v", started, err)
	}
	if started, err := cabo.ctrl.StartForList(ctx, "guardia"); err != nil || started {
		t.Fatalf("expected silent no-op for list, got started=%v err=%v", started, err)
	}
	if _, ok := e.channel.FetchCurrent(ctx); ok {
		t.Fatal("non-privileged start wrote a record")
	}
	if cabo.ctrl.State().Privileged {
		t.Fatal("cabo must not be privileged")
	}
}

func TestStartBeforeMount(t *testing.T) {
	e := newEnv(t)
	d := e.device("teniente-1")
	if _, err := d.ctrl.StartHome(context.Background()); !errors.Is(err, ErrNotMounted) {
		t.Fatalf("expected ErrNotMounted, got %v", err)
	}
}

func TestStartForList(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	d := e.device("teniente-1")
	e.mount(d, ScreenListSelection)

	if _, err := d.ctrl.StartForList(ctx, "missing"); !errors.Is(err, roster.ErrListNotFound) {
		t.Fatalf("expected ErrListNotFound, got %v", err)
	}

	started, err := d.ctrl.StartForList(ctx, "guardia")
	if err != nil || !started {
		t.Fatalf("start for list: started=%v err=%v", started, err)
	}
	current, ok := e.channel.FetchCurrent(ctx)
	if !ok || current.List != "guardia" || current.StartTime != t0.Add(timercontrol.ListStartDelay).UnixMilli() {
		t.Fatalf("unexpected record %+v", current)
	}
	if s := d.ctrl.State(); s.Screen != ScreenTimer || s.List != "guardia" {
		t.Fatalf("unexpected state %+v", s)
	}
}

func TestRestartWhileTicking(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	d := e.device("teniente-1")
	e.mount(d, ScreenHome)
	if _, err := d.ctrl.StartHome(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	e.tick(1, 6*time.Second)
	eventually(t, "first tick", func() bool { return d.ctrl.State().Remaining == 119 })

	if _, err := d.ctrl.Restart(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
	s := d.ctrl.State()
	if s.StartTime != t0.Add(6*time.Second+timercontrol.RestartDelay).UnixMilli() || s.Remaining != 120 {
		t.Fatalf("restart should begin a fresh countdown, got %+v", s)
	}
}

func TestMountOnTimerJoinsRunningCountdown(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	record := models.StartTimeRecord{StartTime: t0.Add(-30 * time.Second).UnixMilli()}
	_ = e.store.Set(ctx, models.StartTimePath, record.Fields())

	d := e.device("teniente-2")
	e.mount(d, ScreenTimer)

	s := d.ctrl.State()
	if s.Status != countdown.StatusTicking || s.Remaining != 90 {
		t.Fatalf("expected late join at 90, got %+v", s)
	}
	settle()
	if navs := d.nav.navigations(); len(navs) != 0 {
		t.Fatalf("replay navigated: %v", navs)
	}
}

func TestMountOnTimerWithFinishedCountdownStaysReady(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	record := models.StartTimeRecord{StartTime: t0.Add(-10 * time.Minute).UnixMilli()}
	_ = e.store.Set(ctx, models.StartTimePath, record.Fields())

	d := e.device("cabo")
	e.mount(d, ScreenTimer)

	s := d.ctrl.State()
	if s.Status != countdown.StatusReady || s.Remaining != 3 {
		t.Fatalf("expected ready at full duration, got %+v", s)
	}
}

func TestMissingProfileUsesDefaults(t *testing.T) {
	e := newEnv(t)
	d := e.device("stranger")
	e.mount(d, ScreenTimer)

	s := d.ctrl.State()
	if s.Privileged || s.Duration != 60 || s.Status != countdown.StatusReady {
		t.Fatalf("unexpected state %+v", s)
	}
}

func TestExpiryShowsReturnForNonPrivileged(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	leader := e.device("teniente-1")
	cabo := e.device("cabo")
	e.mount(leader, ScreenHome)
	e.mount(cabo, ScreenHome)
	settle()

	if _, err := leader.ctrl.StartHome(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	eventually(t, "cabo ticking", func() bool { return cabo.ctrl.State().Status == countdown.StatusTicking })

	// leave the leader's screen so only the cabo engine keeps ticking
	if err := leader.ctrl.Show(ctx, ScreenHome); err != nil {
		t.Fatalf("show: %v", err)
	}

	e.tick(1, 6*time.Second)
	for remaining := 2; remaining >= 0; remaining-- {
		r := remaining
		eventually(t, "cabo tick", func() bool { return cabo.ctrl.State().Remaining == r })
		if r > 0 {
			e.tick(1, time.Second)
		}
	}

	s := cabo.ctrl.State()
	if !s.Expired || !s.ReturnVisible {
		t.Fatalf("expected expired with return, got %+v", s)
	}

	if err := cabo.ctrl.Return(ctx); err != nil {
		t.Fatalf("return: %v", err)
	}
	if s := cabo.ctrl.State(); s.Screen != ScreenHome || s.Status != countdown.StatusIdle {
		t.Fatalf("unexpected state after return %+v", s)
	}
	cabo.nav.mu.Lock()
	resets := append([]string(nil), cabo.nav.resets...)
	cabo.nav.mu.Unlock()
	if len(resets) != 1 || resets[0] != ScreenHome {
		t.Fatalf("expected reset to Home, got %v", resets)
	}
	if plays, releases := cabo.alarm.counts(); plays != 1 || releases != 1 {
		t.Fatalf("alarm plays=%d releases=%d", plays, releases)
	}
}

func TestUnmountStopsEverything(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	leader := e.device("teniente-1")
	cabo := e.device("cabo")
	e.mount(leader, ScreenHome)
	e.mount(cabo, ScreenHome)
	settle()

	if _, err := leader.ctrl.StartHome(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	eventually(t, "cabo ticking", func() bool { return cabo.ctrl.State().Status == countdown.StatusTicking })

	cabo.ctrl.Unmount()
	cabo.ctrl.Unmount()
	if s := cabo.ctrl.State(); s.Status != countdown.StatusIdle {
		t.Fatalf("engine still running: %+v", s)
	}

	e.clock.Advance(time.Second)
	if _, err := leader.ctrl.Restart(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
	settle()
	if navs := cabo.nav.navigations(); len(navs) != 1 {
		t.Fatalf("unmounted device reacted: %v", navs)
	}
	if err := cabo.ctrl.Show(ctx, ScreenTimer); !errors.Is(err, ErrNotMounted) {
		t.Fatalf("expected ErrNotMounted, got %v", err)
	}
}
