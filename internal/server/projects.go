package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type projectRequest struct {
	Name        string `json:"name" binding:"required,max=200"`
	Description string `json:"description" binding:"max=2000"`
}

type memberRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// handleCreateProject creates a project owned by the caller.
func (s *Server) handleCreateProject(c *gin.Context) {
	var req projectRequest
	if err := bindJSON(c, &req); err != nil {
		s.respondError(c, err)
		return
	}

	project, err := s.projects.Create(c.Request.Context(), req.Name, req.Description, currentUser(c).ID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusCreated, gin.H{"project": project})
}

// handleMyProjects lists the projects the caller owns.
func (s *Server) handleMyProjects(c *gin.Context) {
	list, err := s.projects.Mine(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"projects": list})
}

// handleInvitedProjects lists the projects the caller was added to.
func (s *Server) handleInvitedProjects(c *gin.Context) {
	list, err := s.projects.Invited(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"projects": list})
}

func (s *Server) handleGetProject(c *gin.Context) {
	id, err := pathParam(c, "id")
	if err != nil {
		s.respondError(c, err)
		return
	}
	project, err := s.projects.Get(c.Request.Context(), id, currentUser(c).ID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"project": project})
}

// handleAddMember invites a registered user by email.
func (s *Server) handleAddMember(c *gin.Context) {
	id, err := pathParam(c, "id")
	if err != nil {
		s.respondError(c, err)
		return
	}
	var req memberRequest
	if err := bindJSON(c, &req); err != nil {
		s.respondError(c, err)
		return
	}

	project, err := s.projects.AddMemberByEmail(c.Request.Context(), id, req.Email, currentUser(c).ID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"project": project})
}

func (s *Server) handleRemoveMember(c *gin.Context) {
	id, err := pathParam(c, "id")
	if err != nil {
		s.respondError(c, err)
		return
	}
	userID, err := pathParam(c, "userId")
	if err != nil {
		s.respondError(c, err)
		return
	}

	project, err := s.projects.RemoveMember(c.Request.Context(), id, userID, currentUser(c).ID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"project": project})
}

// handleDeleteProject removes a project and all related cards.
func (s *Server) handleDeleteProject(c *gin.Context) {
	id, err := pathParam(c, "id")
	if err != nil {
		s.respondError(c, err)
		return
	}
	if err := s.projects.Delete(c.Request.Context(), id, currentUser(c).ID); err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"status": "deleted"})
}
