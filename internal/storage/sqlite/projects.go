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

// CreateProject persists a new project owned by ownerID, who also becomes its
// first member.
func (s *Store) CreateProject(ctx context.Context, name, description, ownerID string) (models.Project, error) {
	if strings.TrimSpace(name) == "" {
		return models.Project{}, errs.NewMissingRequiredField("name")
	}

	id := uuid.NewString()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO projects(id, name, description, owner_id, created_at) VALUES(?, ?, ?, ?, ?)`,
			id, strings.TrimSpace(name), strings.TrimSpace(description), ownerID, s.now()); err != nil {
			return fmt.Errorf("insert project: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO project_members(project_id, user_id) VALUES(?, ?)`, id, ownerID); err != nil {
			return fmt.Errorf("insert owner membership: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.Project{}, err
	}
	return s.GetProject(ctx, id)
}

// GetProject fetches a project, then its owner, then its members.
func (s *Store) GetProject(ctx context.Context, id string) (models.Project, error) {
	var (
		p       models.Project
		ownerID string
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, name, description, owner_id, created_at FROM projects WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &p.Description, &ownerID, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Project{}, errs.NewNotFound("project")
	}
	if err != nil {
		return models.Project{}, fmt.Errorf("get project: %w", err)
	}

	owner, err := s.GetUser(ctx, ownerID)
	if err != nil {
		return models.Project{}, fmt.Errorf("project owner: %w", err)
	}
	p.Owner = owner

	members, err := s.listMembers(ctx, id)
	if err != nil {
		return models.Project{}, err
	}
	p.Members = members
	return p, nil
}

// ListOwnedProjects returns projects owned by userID, newest first.
func (s *Store) ListOwnedProjects(ctx context.Context, userID string) ([]models.Project, error) {
	return s.listProjects(ctx, `SELECT id FROM projects WHERE owner_id = ? ORDER BY created_at DESC, id`, userID)
}

// ListInvitedProjects returns projects userID is a member of without owning,
// newest first.
func (s *Store) ListInvitedProjects(ctx context.Context, userID string) ([]models.Project, error) {
	return s.listProjects(ctx, `SELECT p.id FROM projects p
        JOIN project_members m ON m.project_id = p.id
        WHERE m.user_id = ? AND p.owner_id <> m.user_id
        ORDER BY p.created_at DESC, p.id`, userID)
}

func (s *Store) listProjects(ctx context.Context, query, userID string) ([]models.Project, error) {
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan project: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	projects := make([]models.Project, 0, len(ids))
	for _, id := range ids {
		p, err := s.GetProject(ctx, id)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, nil
}

func (s *Store) listMembers(ctx context.Context, projectID string) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT u.id, u.email, u.name, u.created_at FROM users u
        JOIN project_members m ON m.user_id = u.id
        WHERE m.project_id = ? ORDER BY u.name, u.id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	members := []models.User{}
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, u)
	}
	return members, rows.Err()
}

// AddMember grants userID access to the project.
func (s *Store) AddMember(ctx context.Context, projectID, userID string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO project_members(project_id, user_id) VALUES(?, ?)`, projectID, userID)
	if isUniqueViolation(err) {
		return errs.NewForbidden("user is already a member of this project")
	}
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

// RemoveMember revokes userID's access to the project.
func (s *Store) RemoveMember(ctx context.Context, projectID, userID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM project_members WHERE project_id = ? AND user_id = ?`, projectID, userID)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errs.NewNotFound("member")
	}
	return nil
}

// DeleteProject removes a project along with its cards and memberships.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errs.NewNotFound("project")
	}
	return nil
}

// IsMember reports whether userID may read and write the project's cards.
// An absent project yields a NotFound error.
func (s *Store) IsMember(ctx context.Context, projectID, userID string) (bool, error) {
	var member bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM project_members WHERE project_id = p.id AND user_id = ?)
        FROM projects p WHERE p.id = ?`, userID, projectID).Scan(&member)
	if errors.Is(err, sql.ErrNoRows) {
		return false, errs.NewNotFound("project")
	}
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return member, nil
}

// OwnerOf returns the owner's user id.
func (s *Store) OwnerOf(ctx context.Context, projectID string) (string, error) {
	var owner string
	err := s.db.QueryRowContext(ctx, `SELECT owner_id FROM projects WHERE id = ?`, projectID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", errs.NewNotFound("project")
	}
	if err != nil {
		return "", fmt.Errorf("project owner: %w", err)
	}
	return owner, nil
}
