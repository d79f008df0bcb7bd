package users

import "github.com/militapp/militapp/go/internal/models"

// RegisterRequest represents the data needed to create or replace a profile
type RegisterRequest struct {
	UserID string      `json:"user_id"`
	Name   string      `json:"nombre"`
	Rank   models.Rank `json:"rango"`
	Zone   string      `json:"zona"`
}

// DefaultPrivilegedRanks are the ranks allowed to start a countdown
var DefaultPrivilegedRanks = []models.Rank{models.RankTeniente, models.RankCoronel}
