package models

import (
	"fmt"
	"time"
)

// Status identifies the board column a card belongs to.
type Status string

const (
	StatusBacklog    Status = "backlog"
	StatusPlanned    Status = "planned"
	StatusInProgress Status = "in_progress"
	StatusTesting    Status = "testing"
	StatusFinished   Status = "finished"
)

// Statuses lists the board columns in display order.
var Statuses = []Status{
	StatusBacklog,
	StatusPlanned,
	StatusInProgress,
	StatusTesting,
	StatusFinished,
}

// ValidCardStatuses enumerates the statuses supported by the board columns.
var ValidCardStatuses = map[Status]struct{}{
	StatusBacklog:    {},
	StatusPlanned:    {},
	StatusInProgress: {},
	StatusTesting:    {},
	StatusFinished:   {},
}

// Valid reports whether s is one of the board columns.
func (s Status) Valid() bool {
	_, ok := ValidCardStatuses[s]
	return ok
}

// ParseStatus converts raw input into a Status, rejecting unknown values.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown status %q", raw)
	}
	return s, nil
}

// User is the public view of an account.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Project groups cards and the users allowed to see them.
type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Owner       User      `json:"owner"`
	Members     []User    `json:"members"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Card represents a single card on the board.
type Card struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"projectId"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Link        string    `json:"link"`
	Status      Status    `json:"status"`
	Position    int       `json:"position"`
	Assignees   []User    `json:"assignees"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// CardFields carries the editable, non-positional card attributes.
type CardFields struct {
	Title       string
	Description string
	Link        string
}

// EventType names a realtime message.
type EventType string

const (
	EventCardCreated EventType = "cardCreated"
	EventCardUpdated EventType = "cardUpdated"
	EventCardDeleted EventType = "cardDeleted"
	EventCardMoved   EventType = "cardMoved"
)

// Event is a card lifecycle notification fanned out to project subscribers.
type Event struct {
	Type      EventType `json:"type"`
	ProjectID string    `json:"projectId"`
	Card      *Card     `json:"card,omitempty"`
	CardID    string    `json:"cardId,omitempty"`
}

// CardEvent builds a created, updated or moved event carrying the full card.
func CardEvent(t EventType, card Card) Event {
	return Event{Type: t, ProjectID: card.ProjectID, Card: &card, CardID: card.ID}
}

// DeletedEvent builds the notification for a removed card.
func DeletedEvent(projectID, cardID string) Event {
	return Event{Type: EventCardDeleted, ProjectID: projectID, CardID: cardID}
}
