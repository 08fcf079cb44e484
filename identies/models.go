package identies

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

const DefaultThemePreference = "system"

//nolint:tagliatelle
type UserResponse struct {
	ID              uuid.UUID  `json:"id"`
	Email           string     `json:"email,omitempty"`
	Username        string     `json:"username,omitempty"`
	AvatarURL       string     `json:"avatar_url,omitempty"`
	AvatarAssetID   string     `json:"avatar_asset_id,omitempty"`
	FirstName       string     `json:"first_name"`
	LastName        string     `json:"last_name"`
	Provider        string     `json:"provider,omitempty"`
	ConfirmedAt     *time.Time `json:"confirmed_at,omitempty"`
	Verified        bool       `json:"verified"`
	VerifiedAt      *time.Time `json:"verified_at,omitempty"`
	ThemePreference string     `json:"theme_preference,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// FullName joins the first and last name, skipping empty parts.
func (u *UserResponse) FullName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	default:
		return u.FirstName + " " + u.LastName
	}
}

//nolint:tagliatelle
type IntrospectResponse struct {
	Active    bool          `json:"active"`
	User      *UserResponse `json:"user,omitempty"`
	UserID    *uuid.UUID    `json:"user_id,omitempty"`
	KeyID     string        `json:"key_id,omitempty"`
	Scopes    []string      `json:"scopes,omitempty"`
	ExpiresAt *time.Time    `json:"expires_at,omitempty"`
}

// HasScope reports whether the introspected key was granted scope.
func (r *IntrospectResponse) HasScope(scope string) bool {
	return slices.Contains(r.Scopes, scope)
}
