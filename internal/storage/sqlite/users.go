package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"kanban/internal/errs"
	"kanban/internal/models"
)

// CreateUser registers a new account. The email is unique, case-insensitively.
func (s *Store) CreateUser(ctx context.Context, email, name, passwordHash string) (models.User, error) {
	u := models.User{
		ID:        uuid.NewString(),
		Email:     strings.TrimSpace(email),
		Name:      strings.TrimSpace(name),
		CreatedAt: s.now(),
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO users(id, email, name, password_hash, created_at) VALUES(?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.Name, passwordHash, u.CreatedAt)
	if isUniqueViolation(err) {
		return models.User{}, errs.NewConflict("email already registered")
	}
	if err != nil {
		return models.User{}, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// GetUser fetches a single user by id.
func (s *Store) GetUser(ctx context.Context, id string) (models.User, error) {
	var u models.User
	err := s.db.QueryRowContext(ctx, `SELECT id, email, name, created_at FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, errs.NewNotFound("user")
	}
	if err != nil {
		return models.User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// GetUserByEmail fetches a user and their password hash for login.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (models.User, string, error) {
	var (
		u    models.User
		hash string
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, email, name, created_at, password_hash FROM users WHERE email = ?`, strings.TrimSpace(email)).
		Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, "", errs.NewNotFound("user")
	}
	if err != nil {
		return models.User{}, "", fmt.Errorf("get user by email: %w", err)
	}
	return u, hash, nil
}

// resolveUsers loads the given ids, failing with InvalidRequest on the first
// id that does not exist. Duplicates collapse.
func resolveUsers(ctx context.Context, q querier, ids []string) ([]models.User, error) {
	seen := make(map[string]struct{}, len(ids))
	users := make([]models.User, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		var u models.User
		err := q.QueryRowContext(ctx, `SELECT id, email, name, created_at FROM users WHERE id = ?`, id).
			Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.NewInvalidField("assigneeIds", fmt.Sprintf("user %s does not exist", id))
		}
		if err != nil {
			return nil, fmt.Errorf("resolve user: %w", err)
		}
		users = append(users, u)
	}
	return users, nil
}
