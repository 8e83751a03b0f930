package store

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/autoguard/backend/internal/core"
)

const userColumns = `id, email, password_hash, role, status, created_at, updated_at`

func scanUser(row scanner) (*core.User, error) {
	var u core.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.Status, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser hashes the password and inserts the account. Emails compare
// case-insensitively, so Alice@x.com after alice@x.com is a Conflict.
func (s *Store) CreateUser(ctx context.Context, email, password, role string) (*core.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, core.Validationf("invalid email")
	}
	if len(password) < 8 {
		return nil, core.Validationf("password must be at least 8 characters")
	}
	if role == "" {
		role = "user"
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO users (email, password_hash, role)
		VALUES ($1, $2, $3)
		RETURNING `+userColumns,
		email, string(hash), role)
	u, err := scanUser(row)
	if err != nil {
		return nil, mapError(err, "create user")
	}
	return u, nil
}

// GetUser fetches one account by id.
func (s *Store) GetUser(ctx context.Context, id int64) (*core.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if err != nil {
		return nil, mapError(err, fmt.Sprintf("user %d", id))
	}
	return u, nil
}

// GetUserByEmail fetches one account by email, case-insensitively.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*core.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1)`, strings.TrimSpace(email))
	u, err := scanUser(row)
	if err != nil {
		return nil, mapError(err, fmt.Sprintf("user %s", email))
	}
	return u, nil
}

// VerifyPassword checks credentials and returns the account, or Forbidden
// when the email is unknown or the password does not match. The two cases
// are deliberately indistinguishable to the caller.
func (s *Store) VerifyPassword(ctx context.Context, email, password string) (*core.User, error) {
	u, err := s.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, core.Forbiddenf("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, core.Forbiddenf("invalid credentials")
	}
	return u, nil
}

// DeleteUser removes the account. Offers and their pages go with it
// through the FK cascade; cloak logs and daily stats have no FK and stay
// until the retention sweep prunes them.
func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return mapError(err, fmt.Sprintf("delete user %d", id))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.NotFoundf("user %d", id)
	}
	return nil
}
