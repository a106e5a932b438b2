package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"kanban/internal/models"
)

type cardRequest struct {
	ProjectID   string   `json:"projectId"`
	Title       string   `json:"title" binding:"required,max=500"`
	Description string   `json:"description" binding:"max=10000"`
	Link        string   `json:"link" binding:"max=2048"`
	AssigneeIDs []string `json:"assigneeIds" binding:"omitempty,dive,required"`
}

func (r cardRequest) fields() models.CardFields {
	return models.CardFields{Title: r.Title, Description: r.Description, Link: r.Link}
}

type moveRequest struct {
	Status   string `json:"status" binding:"required,cardstatus"`
	Position *int   `json:"position" binding:"required,min=0"`
}

// handleListCards fetches every card of a project.
func (s *Server) handleListCards(c *gin.Context) {
	projectID, err := pathParam(c, "projectId")
	if err != nil {
		s.respondError(c, err)
		return
	}

	list, err := s.cards.List(c.Request.Context(), projectID, currentUser(c).ID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"cards": list})
}

func (s *Server) handleGetCard(c *gin.Context) {
	id, err := pathParam(c, "id")
	if err != nil {
		s.respondError(c, err)
		return
	}
	card, err := s.cards.Get(c.Request.Context(), id, currentUser(c).ID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"card": card})
}

// handleCreateCard appends a card to the end of the project's backlog.
func (s *Server) handleCreateCard(c *gin.Context) {
	var req cardRequest
	if err := bindJSON(c, &req); err != nil {
		s.respondError(c, err)
		return
	}

	card, err := s.cards.Create(c.Request.Context(), req.ProjectID, req.fields(), req.AssigneeIDs, currentUser(c).ID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusCreated, gin.H{"card": card})
}

// handleUpdateCard replaces the card's fields and assignees. Status and
// position only change through handleMoveCard.
func (s *Server) handleUpdateCard(c *gin.Context) {
	id, err := pathParam(c, "id")
	if err != nil {
		s.respondError(c, err)
		return
	}
	var req cardRequest
	if err := bindJSON(c, &req); err != nil {
		s.respondError(c, err)
		return
	}

	card, err := s.cards.Update(c.Request.Context(), id, req.fields(), req.AssigneeIDs, currentUser(c).ID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"card": card})
}

// handleMoveCard runs the repositioning protocol.
func (s *Server) handleMoveCard(c *gin.Context) {
	id, err := pathParam(c, "id")
	if err != nil {
		s.respondError(c, err)
		return
	}
	var req moveRequest
	if err := bindJSON(c, &req); err != nil {
		s.respondError(c, err)
		return
	}

	card, err := s.cards.Move(c.Request.Context(), id, models.Status(req.Status), *req.Position, currentUser(c).ID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"card": card})
}

func (s *Server) handleDeleteCard(c *gin.Context) {
	id, err := pathParam(c, "id")
	if err != nil {
		s.respondError(c, err)
		return
	}
	if err := s.cards.Delete(c.Request.Context(), id, currentUser(c).ID); err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"status": "deleted"})
}
