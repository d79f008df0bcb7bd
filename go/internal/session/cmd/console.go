package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/militapp/militapp/go/internal/countdown"
	"github.com/militapp/militapp/go/internal/session"
)

// console renders session state as lines and acts as the navigation host
type console struct {
	mu   sync.Mutex
	out  io.Writer
	last string
}

func newConsole(out io.Writer) *console {
	return &console{out: out}
}

func (c *console) NavigateTo(screen string, params map[string]any) {
	c.printf("-> %s %v", screen, params)
}

func (c *console) ResetTo(screen string) {
	c.printf("-> %s", screen)
}

// render prints state when its visible text changed
func (c *console) render(state session.State) {
	line := formatState(state)

	c.mu.Lock()
	defer c.mu.Unlock()
	if line == c.last {
		return
	}
	c.last = line
	fmt.Fprintln(c.out, line)
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format+"\n", args...)
}

// reportStart explains a start that was ignored for lack of privilege
func (c *console) reportStart(started bool, err error) error {
	if err != nil {
		return err
	}
	if !started {
		c.printf("only privileged ranks can start the countdown")
	}
	return nil
}

func (c *console) help() {
	c.printf("commands: start, restart, list <id>, lists, home, timer, back, status, quit")
}

func formatState(state session.State) string {
	switch {
	case state.Screen != session.ScreenTimer:
		return fmt.Sprintf("[%s] duration %s", state.Screen, formatClock(state.Duration))
	case state.Status == countdown.StatusExpired && state.ReturnVisible:
		return fmt.Sprintf("[%s] 00:00 time is up (type back)", state.Screen)
	case state.Status == countdown.StatusExpired:
		return fmt.Sprintf("[%s] 00:00 time is up", state.Screen)
	case state.Status == countdown.StatusTicking:
		return fmt.Sprintf("[%s] %s", state.Screen, formatClock(state.Remaining))
	default:
		return fmt.Sprintf("[%s] %s waiting for start", state.Screen, formatClock(state.Duration))
	}
}

// formatClock renders seconds as mm:ss
func formatClock(sec int) string {
	if sec < 0 {
		sec = 0
	}
	return fmt.Sprintf("%02d:%02d", sec/60, sec%60)
}
