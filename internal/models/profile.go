package models

// UnknownUserName is shown for participants whose profile cannot be found.
const UnknownUserName = "Unknown User"

// Profile is the read-only projection of a user used for display.
type Profile struct {
	ID        string `db:"id" json:"id"`
	Name      string `db:"name" json:"name"`
	AvatarURL string `db:"avatar_url" json:"avatar_url,omitempty"`
	Role      string `db:"role" json:"role,omitempty"`
}

// UnknownProfile is the fallback for ids missing from a resolved profile set.
func UnknownProfile(id string) Profile {
	return Profile{ID: id, Name: UnknownUserName}
}
