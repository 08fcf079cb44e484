package users

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/andyle182810/tessera-sdk/postgres"
	"github.com/andyle182810/tessera-sdk/validator"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	uniqueViolation      = "23505"
	emailUniqueIndexName = "users_email_key"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrations returns the schema required by Repository.
func Migrations() postgres.Migrations {
	return postgres.Migrations{FS: migrationFS, Dir: "migrations"}
}

type attributes struct {
	AvatarURL      *string    `json:"avatar_url,omitempty"`
	FirstName      string     `json:"first_name"`
	LastName       string     `json:"last_name"`
	Provider       *string    `json:"provider,omitempty"`
	ConfirmedAt    *time.Time `json:"confirmed_at,omitempty"`
	Verified       bool       `json:"verified"`
	VerifiedAt     *time.Time `json:"verified_at,omitempty"`
	ServiceAccount bool       `json:"service_account"`
}

type userRow struct {
	ID         uuid.UUID  `db:"id"`
	Email      *string    `db:"email"`
	ExternalID string     `db:"external_id"`
	Attributes attributes `db:"attributes"`
	CreatedAt  time.Time  `db:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at"`
}

func (r *userRow) toUser() *User {
	return &User{
		ID:             r.ID,
		ExternalID:     r.ExternalID,
		Email:          r.Email,
		FirstName:      r.Attributes.FirstName,
		LastName:       r.Attributes.LastName,
		AvatarURL:      r.Attributes.AvatarURL,
		Provider:       r.Attributes.Provider,
		ConfirmedAt:    r.Attributes.ConfirmedAt,
		Verified:       r.Attributes.Verified,
		VerifiedAt:     r.Attributes.VerifiedAt,
		ServiceAccount: r.Attributes.ServiceAccount,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

// Repository is a Postgres backed Service.
type Repository struct {
	db *postgres.Postgres
}

var _ Service = (*Repository)(nil)

func NewRepository(db *postgres.Postgres) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetUserByExternalID(ctx context.Context, externalID string) (*User, error) {
	if externalID == "" {
		return nil, ErrMissingExternalID
	}

	query := `
		SELECT id, email, external_id, attributes, created_at, updated_at
		FROM users
		WHERE external_id = $1
		LIMIT 1
	`

	var row userRow

	err := pgxscan.Get(ctx, r.db, &row, query, externalID)
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, ErrUserNotFound
		}

		return nil, fmt.Errorf("users: failed to get user by external id: %w", err)
	}

	return row.toUser(), nil
}

func (r *Repository) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	query := `
		SELECT id, email, external_id, attributes, created_at, updated_at
		FROM users
		WHERE id = $1
		LIMIT 1
	`

	var row userRow

	err := pgxscan.Get(ctx, r.db, &row, query, id)
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, ErrUserNotFound
		}

		return nil, fmt.Errorf("users: failed to get user by id: %w", err)
	}

	return row.toUser(), nil
}

// ListUsers returns one page of users ordered by creation time, newest first,
// and the total number of users.
func (r *Repository) ListUsers(ctx context.Context, limit, offset int) ([]*User, int, error) {
	var total int

	if err := pgxscan.Get(ctx, r.db, &total, `SELECT COUNT(*) FROM users`); err != nil {
		return nil, 0, fmt.Errorf("users: failed to count users: %w", err)
	}

	query := `
		SELECT id, email, external_id, attributes, created_at, updated_at
		FROM users
		ORDER BY created_at DESC, id
		LIMIT $1 OFFSET $2
	`

	var rows []*userRow

	if err := pgxscan.Select(ctx, r.db, &rows, query, limit, offset); err != nil {
		return nil, 0, fmt.Errorf("users: failed to list users: %w", err)
	}

	list := make([]*User, 0, len(rows))
	for _, row := range rows {
		list = append(list, row.toUser())
	}

	return list, total, nil
}

// OnboardUser inserts the user or returns the existing row for the same
// external id, so concurrent first requests converge on one record.
func (r *Repository) OnboardUser(ctx context.Context, onboard *Onboard) (*User, error) {
	if onboard == nil {
		return nil, ErrMissingExternalID
	}

	if err := validator.Struct(onboard); err != nil {
		return nil, fmt.Errorf("users: %w", err)
	}

	id := uuid.New()
	if onboard.ID != nil {
		id = *onboard.ID
	}

	attrs := attributes{
		AvatarURL:      onboard.AvatarURL,
		FirstName:      onboard.FirstName,
		LastName:       onboard.LastName,
		Provider:       onboard.Provider,
		ConfirmedAt:    onboard.ConfirmedAt,
		Verified:       onboard.Verified,
		VerifiedAt:     onboard.VerifiedAt,
		ServiceAccount: false,
	}

	query := `
		INSERT INTO users (id, email, external_id, attributes)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (external_id) DO UPDATE SET external_id = EXCLUDED.external_id
		RETURNING id, email, external_id, attributes, created_at, updated_at
	`

	var row userRow

	err := r.db.WithRetryTxDefault(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return pgxscan.Get(ctx, tx, &row, query, id, onboard.Email, onboard.ExternalID, attrs)
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == emailUniqueIndexName {
			return nil, ErrEmailTaken
		}

		return nil, fmt.Errorf("users: failed to onboard user: %w", err)
	}

	return row.toUser(), nil
}
