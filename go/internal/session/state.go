package session

import "github.com/militapp/militapp/go/internal/countdown"

// State is everything a screen needs to render the session
type State struct {
	Screen        string           `json:"screen"`
	Privileged    bool             `json:"privileged"`
	StartTime     int64            `json:"start_time,omitempty"`
	List          string           `json:"list,omitempty"`
	Duration      int              `json:"duration"`
	Status        countdown.Status `json:"status"`
	Remaining     int              `json:"remaining"`
	Expired       bool             `json:"expired"`
	ReturnVisible bool             `json:"return_visible"`
}

func (s *State) applySnapshot(snap countdown.Snapshot) {
	s.Status = snap.Status
	s.Remaining = snap.Remaining
	s.Expired = snap.Expired()
	s.ReturnVisible = snap.ReturnVisible
}
