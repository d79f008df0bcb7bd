package models

// Document locations shared by every device
const (
	// StartTimePath is the singleton StartTimeRecord document
	StartTimePath = "(default)/MilitApp/TimerControl/startTime"

	userDataCollection = "(default)/MilitApp/UserData"
)

// UserProfilePath returns the document path of a user's profile
func UserProfilePath(userID string) string {
	return userDataCollection + "/" + userID
}

// UserDataCollection returns the collection holding every profile
func UserDataCollection() string {
	return userDataCollection
}

// DurationsCollection returns the collection of day documents of a zone
func DurationsCollection(zone string) string {
	return "(default)/Zone/" + zone
}

// DayDurationsPath returns the duration table document of a zone and day
func DayDurationsPath(zone, day string) string {
	return DurationsCollection(zone) + "/" + day
}

// RosterListsCollection returns the collection of lists created in a zone
func RosterListsCollection(zone string) string {
	return "Zone/" + zone + "/listas"
}

// RosterListPath returns the document path of a list
func RosterListPath(zone, id string) string {
	return RosterListsCollection(zone) + "/" + id
}
