package models

// RosterList is a named group of users within a zone that a countdown can be scoped to
type RosterList struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Creator string `json:"creator"`
	Zone    string `json:"zone"`
}

// RosterListFromFields decodes a stored list document
func RosterListFromFields(zone, id string, fields map[string]any) RosterList {
	name, _ := fields["name"].(string)
	creator, _ := fields["creator"].(string)
	if storedID, ok := fields["id"].(string); ok && storedID != "" {
		id = storedID
	}
	return RosterList{ID: id, Name: name, Creator: creator, Zone: zone}
}
