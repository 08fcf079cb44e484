// Package users holds the local user record mirrored from Identies and the
// service contract the onboarding middleware depends on.
package users

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/andyle182810/tessera-sdk/identies"
	"github.com/google/uuid"
)

var (
	ErrUserNotFound      = errors.New("users: user not found")
	ErrMissingExternalID = errors.New("users: external id is required")
	ErrEmailTaken        = errors.New("users: email is already in use")
)

type User struct {
	ID             uuid.UUID  `json:"id"`
	ExternalID     string     `json:"external_id"`
	Email          *string    `json:"email,omitempty"`
	FirstName      string     `json:"first_name"`
	LastName       string     `json:"last_name"`
	AvatarURL      *string    `json:"avatar_url,omitempty"`
	Provider       *string    `json:"provider,omitempty"`
	ConfirmedAt    *time.Time `json:"confirmed_at,omitempty"`
	Verified       bool       `json:"verified"`
	VerifiedAt     *time.Time `json:"verified_at,omitempty"`
	ServiceAccount bool       `json:"service_account"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Onboard is the data used to create a local user on first sight.
// ID, when set, is reused as the local primary key.
type Onboard struct {
	ExternalID  string     `json:"external_id" validate:"notblank"`
	ID          *uuid.UUID `json:"id,omitempty"`
	Email       *string    `json:"email,omitempty" validate:"omitempty,email"`
	FirstName   string     `json:"first_name"`
	LastName    string     `json:"last_name"`
	AvatarURL   *string    `json:"avatar_url,omitempty"`
	Provider    *string    `json:"provider,omitempty"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	Verified    bool       `json:"verified"`
	VerifiedAt  *time.Time `json:"verified_at,omitempty"`
}

// NewOnboard builds the creation record from an Identies profile.
func NewOnboard(externalID string, profile *identies.UserResponse) *Onboard {
	onboard := &Onboard{ExternalID: externalID} //nolint:exhaustruct
	if profile == nil {
		return onboard
	}

	id := profile.ID
	onboard.ID = &id
	onboard.FirstName = profile.FirstName
	onboard.LastName = profile.LastName
	onboard.ConfirmedAt = profile.ConfirmedAt
	onboard.Verified = profile.Verified
	onboard.VerifiedAt = profile.VerifiedAt

	if profile.Email != "" {
		email := profile.Email
		onboard.Email = &email
	}

	if profile.AvatarURL != "" {
		avatarURL := profile.AvatarURL
		onboard.AvatarURL = &avatarURL
	}

	if profile.Provider != "" {
		provider := profile.Provider
		onboard.Provider = &provider
	}

	return onboard
}

// NeedsOnboarding marks a verified principal with no local user yet.
type NeedsOnboarding struct {
	ExternalID string `json:"external_id"`
}

type Service interface {
	// GetUserByExternalID returns ErrUserNotFound when no user matches.
	GetUserByExternalID(ctx context.Context, externalID string) (*User, error)
	OnboardUser(ctx context.Context, onboard *Onboard) (*User, error)
}
