package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"kanban/internal/models"
)

type registerRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
	Name     string `json:"name" binding:"required,max=200"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// handleRegister creates an account and starts a session.
func (s *Server) handleRegister(c *gin.Context) {
	var req registerRequest
	if err := bindJSON(c, &req); err != nil {
		s.respondError(c, err)
		return
	}
	user, token, err := s.auth.Register(c.Request.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.startSession(c, http.StatusCreated, user, token)
}

// handleLogin exchanges credentials for a session.
func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := bindJSON(c, &req); err != nil {
		s.respondError(c, err)
		return
	}
	user, token, err := s.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.startSession(c, http.StatusOK, user, token)
}

// handleLogout clears the session cookie.
func (s *Server) handleLogout(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(tokenCookie, "", -1, "/", "", s.cfg.SecureCookies, true)
	respondSuccess(c, http.StatusOK, gin.H{"status": "logged out"})
}

// handleMe returns the authenticated user.
func (s *Server) handleMe(c *gin.Context) {
	respondSuccess(c, http.StatusOK, gin.H{"user": currentUser(c)})
}

func (s *Server) startSession(c *gin.Context, status int, user models.User, token string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(tokenCookie, token, int(s.auth.TTL().Seconds()), "/", "", s.cfg.SecureCookies, true)
	respondSuccess(c, status, gin.H{"user": user, "accessToken": token})
}
