package models

import "fmt"

// UserProfile is the part of a user's data the timer depends on.
// Field names on the stored document follow the mobile app (nombre, rango, zona).
type UserProfile struct {
	UserID string `json:"user_id"`
	Name   string `json:"nombre"`
	Rank   Rank   `json:"rango"`
	Zone   string `json:"zona"`
}

// Fields returns the document representation of the profile
func (p UserProfile) Fields() map[string]any {
	return map[string]any{
		"nombre": p.Name,
		"rango":  string(p.Rank),
		"zona":   p.Zone,
	}
}

// UserProfileFromFields decodes a stored user document
func UserProfileFromFields(userID string, fields map[string]any) (*UserProfile, error) {
	rawRank, _ := fields["rango"].(string)
	rank, err := ParseRank(rawRank)
	if err != nil {
		return nil, fmt.Errorf("invalid profile for user %s: %w", userID, err)
	}

	name, _ := fields["nombre"].(string)
	zone, _ := fields["zona"].(string)

	return &UserProfile{
		UserID: userID,
		Name:   name,
		Rank:   rank,
		Zone:   zone,
	}, nil
}
