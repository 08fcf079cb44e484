// Package welcome sends the welcome email for users created by the
// onboarding middleware.
package welcome

import (
	"context"
	"errors"
	"fmt"

	"github.com/andyle182810/tessera-sdk/events"
	"github.com/andyle182810/tessera-sdk/sendly"
	"github.com/andyle182810/tessera-sdk/users"
	"github.com/andyle182810/tessera-sdk/validator"
	"github.com/rs/zerolog"
)

const templateName = "welcome"

const body = `<p>Hi {{first_name}},</p><p>Welcome to Tessera. Your account is ready.</p>`

type Mailer interface {
	SendEmail(ctx context.Context, req *sendly.SendEmailRequest) (*sendly.SendEmailResponse, error)
}

type Config struct {
	FromEmail string
	TenantID  string
}

type Sender struct {
	mailer Mailer
	config Config
	logger zerolog.Logger
}

func New(mailer Mailer, config Config, logger zerolog.Logger) *Sender {
	return &Sender{
		mailer: mailer,
		config: config,
		logger: logger.With().Str("component", "welcome").Logger(),
	}
}

// Handle is an events.Handler for user.onboarded. Undecodable payloads,
// users without an email and invalid requests are acknowledged. Sendly
// failures are returned so the subscriber retries them.
func (s *Sender) Handle(ctx context.Context, event *events.Event) error {
	var user users.User

	if err := event.DecodeData(&user); err != nil {
		s.logger.Error().
			Err(err).
			Str("event_id", event.ID).
			Msg("The onboarded event payload could not be decoded and is dropped")

		return nil
	}

	if user.Email == nil || *user.Email == "" {
		s.logger.Info().
			Str("user_id", user.ID.String()).
			Msg("The onboarded user has no email, skipping the welcome email")

		return nil
	}

	resp, err := s.mailer.SendEmail(ctx, &sendly.SendEmailRequest{
		Name:      templateName,
		TenantID:  s.config.TenantID,
		FromEmail: s.config.FromEmail,
		Subject:   "Welcome to Tessera",
		HTML:      body,
		To:        []string{*user.Email},
		TemplateVariables: map[string]any{
			"first_name": firstName(&user),
			"user_id":    user.ID.String(),
		},
	})
	if err != nil {
		if errors.Is(err, validator.ErrInvalidRequest) {
			s.logger.Error().
				Err(err).
				Str("user_id", user.ID.String()).
				Msg("The welcome email request is invalid and will not be retried")

			return nil
		}

		return fmt.Errorf("welcome: failed to send email to user %s: %w", user.ID, err)
	}

	s.logger.Info().
		Str("user_id", user.ID.String()).
		Str("email_id", resp.ID).
		Str("status", resp.Status).
		Msg("The welcome email has been sent")

	return nil
}

func firstName(user *users.User) string {
	if user.FirstName != "" {
		return user.FirstName
	}

	return "there"
}
