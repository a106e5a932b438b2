// Package projects manages projects and who may see them.
package projects

import (
	"context"
	"log/slog"
	"strings"

	"kanban/internal/errs"
	"kanban/internal/models"
)

type Store interface {
	CreateProject(ctx context.Context, name, description, ownerID string) (models.Project, error)
	GetProject(ctx context.Context, id string) (models.Project, error)
	ListOwnedProjects(ctx context.Context, userID string) ([]models.Project, error)
	ListInvitedProjects(ctx context.Context, userID string) ([]models.Project, error)
	AddMember(ctx context.Context, projectID, userID string) error
	RemoveMember(ctx context.Context, projectID, userID string) error
	DeleteProject(ctx context.Context, id string) error
	IsMember(ctx context.Context, projectID, userID string) (bool, error)
	OwnerOf(ctx context.Context, projectID string) (string, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, string, error)
}

// Rooms drops realtime subscriptions that lose access.
type Rooms interface {
	Evict(projectID, userID string)
	CloseRoom(projectID string)
}

type Service struct {
	store  Store
	rooms  Rooms
	logger *slog.Logger
}

func NewService(store Store, rooms Rooms, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, rooms: rooms, logger: logger}
}

// Create makes a new project owned by ownerID.
func (s *Service) Create(ctx context.Context, name, description, ownerID string) (models.Project, error) {
	p, err := s.store.CreateProject(ctx, name, description, ownerID)
	if err != nil {
		return models.Project{}, s.failed("create project", err)
	}
	s.logger.Info("project created", slog.String("project_id", p.ID), slog.String("owner_id", ownerID))
	return p, nil
}

// Mine lists the projects userID owns.
func (s *Service) Mine(ctx context.Context, userID string) ([]models.Project, error) {
	list, err := s.store.ListOwnedProjects(ctx, userID)
	if err != nil {
		return nil, s.failed("list projects", err)
	}
	return list, nil
}

// Invited lists projects userID belongs to without owning.
func (s *Service) Invited(ctx context.Context, userID string) ([]models.Project, error) {
	list, err := s.store.ListInvitedProjects(ctx, userID)
	if err != nil {
		return nil, s.failed("list projects", err)
	}
	return list, nil
}

// Get returns the project if requesterID is a member.
func (s *Service) Get(ctx context.Context, projectID, requesterID string) (models.Project, error) {
	member, err := s.store.IsMember(ctx, projectID, requesterID)
	if err != nil {
		return models.Project{}, s.failed("check membership", err)
	}
	if !member {
		return models.Project{}, errs.NewForbidden("you do not have access to this project")
	}
	p, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return models.Project{}, s.failed("get project", err)
	}
	return p, nil
}

// AddMemberByEmail invites the account registered under email.
func (s *Service) AddMemberByEmail(ctx context.Context, projectID, email, requesterID string) (models.Project, error) {
	if strings.TrimSpace(email) == "" {
		return models.Project{}, errs.NewMissingRequiredField("email")
	}
	if err := s.requireOwner(ctx, projectID, requesterID); err != nil {
		return models.Project{}, err
	}
	user, _, err := s.store.GetUserByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return models.Project{}, s.failed("find user", err)
	}
	if err := s.store.AddMember(ctx, projectID, user.ID); err != nil {
		return models.Project{}, s.failed("add member", err)
	}
	s.logger.Info("member added", slog.String("project_id", projectID), slog.String("user_id", user.ID))
	return s.Get(ctx, projectID, requesterID)
}

// RemoveMember revokes a member's access and unsubscribes their connections.
// The owner cannot be removed.
func (s *Service) RemoveMember(ctx context.Context, projectID, userID, requesterID string) (models.Project, error) {
	if err := s.requireOwner(ctx, projectID, requesterID); err != nil {
		return models.Project{}, err
	}
	if userID == requesterID {
		return models.Project{}, errs.NewForbidden("the owner cannot be removed from the project")
	}
	if err := s.store.RemoveMember(ctx, projectID, userID); err != nil {
		return models.Project{}, s.failed("remove member", err)
	}
	s.rooms.Evict(projectID, userID)
	s.logger.Info("member removed", slog.String("project_id", projectID), slog.String("user_id", userID))
	return s.Get(ctx, projectID, requesterID)
}

// Delete removes the project with its cards and closes its realtime room.
func (s *Service) Delete(ctx context.Context, projectID, requesterID string) error {
	if err := s.requireOwner(ctx, projectID, requesterID); err != nil {
		return err
	}
	if err := s.store.DeleteProject(ctx, projectID); err != nil {
		return s.failed("delete project", err)
	}
	s.rooms.CloseRoom(projectID)
	s.logger.Info("project deleted", slog.String("project_id", projectID))
	return nil
}

func (s *Service) requireOwner(ctx context.Context, projectID, requesterID string) error {
	owner, err := s.store.OwnerOf(ctx, projectID)
	if err != nil {
		return s.failed("find project", err)
	}
	if owner != requesterID {
		return errs.NewForbidden("only the project owner can do this")
	}
	return nil
}

func (s *Service) failed(op string, err error) error {
	if errs.IsKnown(err) {
		return err
	}
	s.logger.Error("project operation failed", slog.String("op", op), slog.String("error", err.Error()))
	return errs.NewOperationFailed(op, err)
}
