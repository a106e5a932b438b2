package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"kanban/internal/errs"
	"kanban/internal/models"
)

const (
	tokenCookie = "access_token"
	userKey     = "user"
)

// requireUser authenticates the request from the access_token cookie or a
// Bearer header and stores the user in the context.
func (s *Server) requireUser(c *gin.Context) {
	user, err := s.auth.Authenticate(c.Request.Context(), requestToken(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.Set(userKey, user)
	c.Next()
}

func requestToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if token, err := c.Cookie(tokenCookie); err == nil {
		return token
	}
	return ""
}

// currentUser returns the user set by requireUser.
func currentUser(c *gin.Context) models.User {
	v, ok := c.Get(userKey)
	if !ok {
		return models.User{}
	}
	user, _ := v.(models.User)
	return user
}

// corsPolicy allows credentialed requests from the configured origins. "*"
// echoes any origin back.
func corsPolicy(allowed []string) gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOriginFunc:  originMatcher(allowed),
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           10 * time.Minute,
	})
}

func originMatcher(allowed []string) func(string) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		set[origin] = struct{}{}
	}
	_, wildcard := set["*"]
	return func(origin string) bool {
		if wildcard {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// originAllowed is used by the websocket upgrader. Same-host origins and
// clients that send none are always let through.
func originAllowed(allowed []string, r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || originMatcher(allowed)(origin) {
		return true
	}
	return strings.EqualFold(strings.TrimPrefix(strings.TrimPrefix(origin, "https://"), "http://"), r.Host)
}

// pathParam rejects empty identifiers before they reach a service.
func pathParam(c *gin.Context, name string) (string, error) {
	v := strings.TrimSpace(c.Param(name))
	if v == "" {
		return "", errs.NewMissingRequiredField(name)
	}
	return v, nil
}
