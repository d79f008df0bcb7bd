package countdown

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog/log"
)

// Alarm loads the sound played when a countdown expires
type Alarm interface {
	Load(ctx context.Context) (Sound, error)
}

// Sound is a loaded alarm. Release must be called exactly once when done with it.
type Sound interface {
	Play(ctx context.Context) error
	Release()
}

// BellAlarm rings the terminal bell
type BellAlarm struct {
	Out io.Writer
}

func (b BellAlarm) Load(ctx context.Context) (Sound, error) {
	out := b.Out
	if out == nil {
		out = os.Stdout
	}
	return &bellSound{out: out}, nil
}

type bellSound struct {
	mu       sync.Mutex
	out      io.Writer
	released bool
}

func (s *bellSound) Play(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil
	}
	log.Info().Msg("meal time is over")
	_, err := io.WriteString(s.out, "\a")
	return err
}

func (s *bellSound) Release() {
	s.mu.Lock()
	s.released = true
	s.mu.Unlock()
}

// NopAlarm plays nothing
type NopAlarm struct{}

func (NopAlarm) Load(ctx context.Context) (Sound, error) {
	return nopSound{}, nil
}

type nopSound struct{}

func (nopSound) Play(ctx context.Context) error { return nil }
func (nopSound) Release()                       {}
