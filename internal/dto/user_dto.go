package dto

import "github.com/mentorlink/mentorlink-api/internal/models"

// UserSummary is the public slice of a directory record joined onto chat
// payloads: identity, username, and the profile snapshot (bio, headline,
// avatar URL and similar display fields).
type UserSummary struct {
	ID       string            `json:"id"`
	Username string            `json:"username"`
	Role     string            `json:"role,omitempty"`
	Profile  map[string]string `json:"profile,omitempty"`
}

// NewUserSummary converts a directory model into its public summary.
func NewUserSummary(user models.User) UserSummary {
	summary := UserSummary{
		ID:       user.ID,
		Username: user.Username,
		Role:     user.Role,
	}
	if user.Profile != nil {
		summary.Profile = make(map[string]string)
		for key, value := range user.Profile {
			if str, ok := value.(string); ok {
				summary.Profile[key] = str
			}
		}
	}
	return summary
}
