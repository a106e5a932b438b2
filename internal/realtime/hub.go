// Package realtime fans card events out to websocket subscribers grouped by
// project.
//
// Rooms live in process memory, which is enough for a single instance. Running
// several instances would need a shared subscription registry in front of
// Publish.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"kanban/internal/errs"
	"kanban/internal/metrics"
	"kanban/internal/models"
)

// maxJoinAttempts bounds how often Join re-checks membership while evictions
// for the same project keep landing.
const maxJoinAttempts = 3

// Membership answers whether a user may observe a project.
type Membership interface {
	IsMember(ctx context.Context, projectID, userID string) (bool, error)
}

// Hub tracks which connections are subscribed to which projects.
type Hub struct {
	mu      sync.Mutex
	rooms   map[string]map[*Client]struct{}
	clients map[*Client]map[string]struct{}
	// epochs counts evictions per project. Join only subscribes when no
	// eviction landed between its membership check and taking mu.
	epochs  map[string]uint64
	members Membership
	logger  *slog.Logger
}

// NewHub creates an empty hub. Joins are checked against members.
func NewHub(members Membership, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		rooms:   make(map[string]map[*Client]struct{}),
		clients: make(map[*Client]map[string]struct{}),
		epochs:  make(map[string]uint64),
		members: members,
		logger:  logger,
	}
}

// Register makes the client eligible to join rooms and receive replies.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		return
	}
	h.clients[c] = make(map[string]struct{})
	metrics.RealtimeConnections.Inc()
}

// Join subscribes c to projectID after checking membership. A membership
// check that races an Evict or CloseRoom for the project is repeated.
func (h *Hub) Join(ctx context.Context, c *Client, projectID string) error {
	if projectID == "" {
		return errs.NewMissingRequiredField("projectId")
	}
	for attempt := 0; attempt < maxJoinAttempts; attempt++ {
		h.mu.Lock()
		epoch := h.epochs[projectID]
		h.mu.Unlock()

		member, err := h.members.IsMember(ctx, projectID, c.UserID)
		if err != nil {
			return err
		}
		if !member {
			return errs.NewForbidden("not a member of this project")
		}

		done, err := h.subscribe(c, projectID, epoch)
		if done || err != nil {
			return err
		}
		h.logger.Debug("membership changed during join, checking again",
			slog.String("client", c.ID), slog.String("project_id", projectID))
	}
	return errs.NewConflict("project membership is changing, try again")
}

// subscribe adds c to projectID's room unless the project's eviction epoch
// moved past epoch, in which case it reports false.
func (h *Hub) subscribe(c *Client, projectID string, epoch uint64) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.epochs[projectID] != epoch {
		return false, nil
	}
	joined, ok := h.clients[c]
	if !ok {
		return false, errs.NewNotFound("connection")
	}
	if _, already := joined[projectID]; already {
		return true, nil
	}
	room := h.rooms[projectID]
	if room == nil {
		room = make(map[*Client]struct{})
		h.rooms[projectID] = room
	}
	room[c] = struct{}{}
	joined[projectID] = struct{}{}
	metrics.RealtimeSubscriptions.Inc()
	h.logger.Debug("client joined project", slog.String("client", c.ID), slog.String("project_id", projectID))
	return true, nil
}

// Leave unsubscribes c from projectID. It reports whether c was subscribed.
func (h *Hub) Leave(c *Client, projectID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.leaveLocked(c, projectID)
}

func (h *Hub) leaveLocked(c *Client, projectID string) bool {
	joined, ok := h.clients[c]
	if !ok {
		return false
	}
	if _, subscribed := joined[projectID]; !subscribed {
		return false
	}
	delete(joined, projectID)
	if room := h.rooms[projectID]; room != nil {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, projectID)
		}
	}
	metrics.RealtimeSubscriptions.Dec()
	return true
}

// Disconnect removes c from every room it joined and closes its send queue.
func (h *Hub) Disconnect(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnectLocked(c)
}

func (h *Hub) disconnectLocked(c *Client) {
	joined, ok := h.clients[c]
	if !ok {
		return
	}
	for projectID := range joined {
		h.leaveLocked(c, projectID)
	}
	delete(h.clients, c)
	close(c.send)
	metrics.RealtimeConnections.Dec()
}

// Publish enqueues ev for every subscriber of its project, the originating
// connection included. It never blocks: a subscriber whose queue is full is
// disconnected instead.
//
// Callers that need per-project ordering must serialize their Publish calls
// per project; each subscriber then sees events in that order.
func (h *Hub) Publish(ev models.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("encode event", slog.String("type", string(ev.Type)), slog.String("error", err.Error()))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	var slow []*Client
	for c := range h.rooms[ev.ProjectID] {
		select {
		case c.send <- payload:
			metrics.RealtimeEvents.WithLabelValues(string(ev.Type)).Inc()
		default:
			slow = append(slow, c)
		}
	}
	for _, c := range slow {
		h.logger.Warn("dropping slow subscriber",
			slog.String("client", c.ID), slog.String("project_id", ev.ProjectID), slog.String("event", string(ev.Type)))
		metrics.RealtimeDropped.Inc()
		h.disconnectLocked(c)
	}
}

// Evict removes every connection of userID from projectID's room and tells
// them so.
func (h *Hub) Evict(projectID, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.epochs[projectID]++
	for c := range h.rooms[projectID] {
		if c.UserID != userID {
			continue
		}
		h.leaveLocked(c, projectID)
		h.replyLocked(c, notice{Type: msgLeft, ProjectID: projectID})
	}
}

// CloseRoom drops every subscription to projectID.
func (h *Hub) CloseRoom(projectID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.epochs[projectID]++
	for c := range h.rooms[projectID] {
		h.leaveLocked(c, projectID)
		h.replyLocked(c, notice{Type: msgLeft, ProjectID: projectID})
	}
}

// Subscribers returns how many connections are subscribed to projectID.
func (h *Hub) Subscribers(projectID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[projectID])
}

// reply sends a direct message to one connection if it is still registered.
func (h *Hub) reply(c *Client, n notice) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.replyLocked(c, n)
}

func (h *Hub) replyLocked(c *Client, n notice) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return
	}
	select {
	case c.send <- payload:
	default:
		metrics.RealtimeDropped.Inc()
		h.disconnectLocked(c)
	}
}
