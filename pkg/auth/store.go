package auth

import (
	"context"
	"database/sql"
	"fmt"
)

// UserStore persists platform users.
type UserStore struct {
	db *sql.DB
}

// NewUserStore creates a user repository over the given database
// handle.
func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

const userColumns = `id, organization_id, email, first_name, last_name, display_name,
	role, is_active, email_verified, sso_provider, sso_subject_id,
	created_at, updated_at, last_login_at`

// FindByEmail returns the user with the given email in the
// organization, or nil when none exists. Email matching is
// case-insensitive.
func (s *UserStore) FindByEmail(ctx context.Context, email, organizationID string) (*User, error) {
	user := &User{}
	err := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE LOWER(email) = LOWER($1) AND organization_id = $2
	`, email, organizationID).Scan(
		&user.ID, &user.OrganizationID, &user.Email, &user.FirstName,
		&user.LastName, &user.DisplayName, &user.Role, &user.IsActive,
		&user.EmailVerified, &user.SSOProvider, &user.SSOSubjectID,
		&user.CreatedAt, &user.UpdatedAt, &user.LastLoginAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// Get returns the user by id, or nil when none exists.
func (s *UserStore) Get(ctx context.Context, id string) (*User, error) {
	user := &User{}
	err := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1
	`, id).Scan(
		&user.ID, &user.OrganizationID, &user.Email, &user.FirstName,
		&user.LastName, &user.DisplayName, &user.Role, &user.IsActive,
		&user.EmailVerified, &user.SSOProvider, &user.SSOSubjectID,
		&user.CreatedAt, &user.UpdatedAt, &user.LastLoginAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// Create inserts a new user.
func (s *UserStore) Create(ctx context.Context, user *User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (
			id, organization_id, email, first_name, last_name, display_name,
			role, is_active, email_verified, sso_provider, sso_subject_id,
			created_at, updated_at, last_login_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, user.ID, user.OrganizationID, user.Email, user.FirstName,
		user.LastName, user.DisplayName, user.Role, user.IsActive,
		user.EmailVerified, user.SSOProvider, user.SSOSubjectID,
		user.CreatedAt, user.UpdatedAt, user.LastLoginAt)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// Update rewrites the user's mutable fields.
func (s *UserStore) Update(ctx context.Context, user *User) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET email = $2, first_name = $3, last_name = $4, display_name = $5,
			role = $6, is_active = $7, email_verified = $8,
			sso_provider = $9, sso_subject_id = $10,
			updated_at = $11, last_login_at = $12
		WHERE id = $1
	`, user.ID, user.Email, user.FirstName, user.LastName, user.DisplayName,
		user.Role, user.IsActive, user.EmailVerified,
		user.SSOProvider, user.SSOSubjectID, user.UpdatedAt, user.LastLoginAt)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	return nil
}
