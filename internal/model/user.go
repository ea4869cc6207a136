package model

// User is the identity issued by the credential provider. The CRM only keeps
// the handle and the display fields it needs to seed a profile.
type User struct {
	ID        string  `json:"id"`
	Email     string  `json:"email"`
	FullName  string  `json:"full_name"`
	AvatarURL *string `json:"avatar_url,omitempty"`
}
