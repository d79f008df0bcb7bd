package models

import (
	"errors"
	"fmt"
)

// Rank represents a user's military rank within a zone
type Rank string

const (
	RankCabo     Rank = "Cabo"
	RankSargento Rank = "Sargento"
	RankTeniente Rank = "Teniente"
	RankCoronel  Rank = "Coronel"
)

// ErrInvalidRank is returned for rank values outside the known ranks
var ErrInvalidRank = errors.New("unknown rank")

// Ranks lists every rank from lowest to highest
var Ranks = []Rank{RankCabo, RankSargento, RankTeniente, RankCoronel}

// Valid reports whether the rank is one of the known ranks
func (r Rank) Valid() bool {
	switch r {
	case RankCabo, RankSargento, RankTeniente, RankCoronel:
		return true
	}
	return false
}

// ParseRank converts a stored rank value into a Rank
func ParseRank(s string) (Rank, error) {
	r := Rank(s)
	if !r.Valid() {
		return "", fmt.Errorf("%w %q", ErrInvalidRank, s)
	}
	return r, nil
}
