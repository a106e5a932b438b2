// Package cards implements the card store: every card read and write goes
// through here so membership is checked, inputs are validated, mutations of
// one project are serialized, and a realtime event follows each commit.
package cards

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"kanban/internal/errs"
	"kanban/internal/ledger"
	"kanban/internal/metrics"
	"kanban/internal/models"
)

// Store is the persistence the service drives. Each mutating call must apply
// its position changes atomically.
type Store interface {
	ListCards(ctx context.Context, projectID string) ([]models.Card, error)
	GetCard(ctx context.Context, id string) (models.Card, error)
	CardProject(ctx context.Context, id string) (string, error)
	InsertCard(ctx context.Context, projectID string, fields models.CardFields, assigneeIDs []string) (models.Card, error)
	UpdateCard(ctx context.Context, id string, fields models.CardFields, assigneeIDs []string) (models.Card, error)
	MoveCard(ctx context.Context, id string, to ledger.Placement) (models.Card, error)
	DeleteCard(ctx context.Context, id string) (models.Card, error)
}

// Membership is the access oracle for projects.
type Membership interface {
	IsMember(ctx context.Context, projectID, userID string) (bool, error)
}

// Broadcaster receives one event per committed mutation.
type Broadcaster interface {
	Publish(ev models.Event)
}

// Service is the card store.
type Service struct {
	store       Store
	members     Membership
	broadcaster Broadcaster
	locks       *projectLocks
	logger      *slog.Logger
}

// NewService wires the card store. broadcaster may be nil.
func NewService(store Store, members Membership, broadcaster Broadcaster, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:       store,
		members:     members,
		broadcaster: broadcaster,
		locks:       newProjectLocks(),
		logger:      logger,
	}
}

// List returns every card of a project the requester belongs to.
func (s *Service) List(ctx context.Context, projectID, requesterID string) ([]models.Card, error) {
	if err := s.authorizeProject(ctx, projectID, requesterID); err != nil {
		return nil, err
	}
	cards, err := s.store.ListCards(ctx, projectID)
	if err != nil {
		return nil, s.failed("list cards", err)
	}
	return cards, nil
}

// Get returns one card. Cards in projects the requester cannot see are
// reported as not found.
func (s *Service) Get(ctx context.Context, cardID, requesterID string) (models.Card, error) {
	if _, err := s.authorizeCard(ctx, cardID, requesterID); err != nil {
		return models.Card{}, err
	}
	card, err := s.store.GetCard(ctx, cardID)
	if err != nil {
		return models.Card{}, s.failed("get card", err)
	}
	return card, nil
}

// Create appends a new card to the end of the project's backlog.
func (s *Service) Create(ctx context.Context, projectID string, fields models.CardFields, assigneeIDs []string, requesterID string) (card models.Card, err error) {
	defer observe("create", &err)
	if err := validateFields(fields); err != nil {
		return models.Card{}, err
	}
	if err := s.authorizeProject(ctx, projectID, requesterID); err != nil {
		return models.Card{}, err
	}

	unlock := s.locks.lock(projectID)
	defer unlock()

	card, err = s.store.InsertCard(ctx, projectID, fields, assigneeIDs)
	if err != nil {
		return models.Card{}, s.failed("create card", err)
	}
	s.publish(models.CardEvent(models.EventCardCreated, card))
	return card, nil
}

// Update replaces the card's title, description, link and assignees.
func (s *Service) Update(ctx context.Context, cardID string, fields models.CardFields, assigneeIDs []string, requesterID string) (card models.Card, err error) {
	defer observe("update", &err)
	if err := validateFields(fields); err != nil {
		return models.Card{}, err
	}
	projectID, err := s.authorizeCard(ctx, cardID, requesterID)
	if err != nil {
		return models.Card{}, err
	}

	unlock := s.locks.lock(projectID)
	defer unlock()

	card, err = s.store.UpdateCard(ctx, cardID, fields, assigneeIDs)
	if err != nil {
		return models.Card{}, s.failed("update card", err)
	}
	s.publish(models.CardEvent(models.EventCardUpdated, card))
	return card, nil
}

// Move places the card at position within status, shifting siblings in the
// affected bucket(s) so positions stay contiguous.
func (s *Service) Move(ctx context.Context, cardID string, status models.Status, position int, requesterID string) (card models.Card, err error) {
	defer observe("move", &err)
	if !status.Valid() {
		return models.Card{}, errs.NewInvalidField("status", fmt.Sprintf("unknown status %q", status))
	}
	if position < 0 {
		return models.Card{}, errs.NewInvalidField("position", "must not be negative")
	}
	projectID, err := s.authorizeCard(ctx, cardID, requesterID)
	if err != nil {
		return models.Card{}, err
	}

	unlock := s.locks.lock(projectID)
	defer unlock()

	card, err = s.store.MoveCard(ctx, cardID, ledger.Placement{Status: status, Position: position})
	if err != nil {
		return models.Card{}, s.failed("move card", err)
	}
	s.publish(models.CardEvent(models.EventCardMoved, card))
	return card, nil
}

// Delete removes the card and closes the gap it leaves.
func (s *Service) Delete(ctx context.Context, cardID, requesterID string) (err error) {
	defer observe("delete", &err)
	projectID, err := s.authorizeCard(ctx, cardID, requesterID)
	if err != nil {
		return err
	}

	unlock := s.locks.lock(projectID)
	defer unlock()

	card, err := s.store.DeleteCard(ctx, cardID)
	if err != nil {
		return s.failed("delete card", err)
	}
	s.publish(models.DeletedEvent(card.ProjectID, card.ID))
	return nil
}

// authorizeProject checks access to a caller-supplied project: absent is
// NotFound, present but not a member is Forbidden.
func (s *Service) authorizeProject(ctx context.Context, projectID, requesterID string) error {
	if strings.TrimSpace(projectID) == "" {
		return errs.NewMissingRequiredField("projectId")
	}
	member, err := s.members.IsMember(ctx, projectID, requesterID)
	if err != nil {
		return s.failed("check membership", err)
	}
	if !member {
		return errs.NewForbidden("you do not have access to this project")
	}
	return nil
}

// authorizeCard resolves the card's current project and checks membership
// there. A card outside the requester's projects is reported as not found.
func (s *Service) authorizeCard(ctx context.Context, cardID, requesterID string) (string, error) {
	projectID, err := s.store.CardProject(ctx, cardID)
	if err != nil {
		return "", s.failed("find card", err)
	}
	member, err := s.members.IsMember(ctx, projectID, requesterID)
	if err != nil {
		return "", s.failed("check membership", err)
	}
	if !member {
		return "", errs.NewNotFound("card")
	}
	return projectID, nil
}

func (s *Service) publish(ev models.Event) {
	if s.broadcaster == nil {
		return
	}
	s.broadcaster.Publish(ev)
}

// failed passes taxonomy errors through and hides everything else behind a
// generic operation failure.
func (s *Service) failed(op string, err error) error {
	if errs.IsKnown(err) {
		return err
	}
	s.logger.Error("card operation failed", slog.String("op", op), slog.String("error", err.Error()))
	return errs.NewOperationFailed(op, err)
}

func validateFields(fields models.CardFields) error {
	if strings.TrimSpace(fields.Title) == "" {
		return errs.NewMissingRequiredField("title")
	}
	return nil
}

func observe(op string, err *error) {
	metrics.CardMutations.WithLabelValues(op, metrics.Result(*err)).Inc()
}
