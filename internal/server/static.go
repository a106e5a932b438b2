package server

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"kanban/internal/errs"
)

// mountStatic serves the built board frontend, falling back to index.html for
// client-side routes. Unknown /api paths always answer with a JSON 404.
func (s *Server) mountStatic() {
	index := ""
	defer func() {
		s.engine.NoRoute(func(c *gin.Context) {
			if index == "" || strings.HasPrefix(c.Request.URL.Path, "/api/") {
				s.respondError(c, errs.NewNotFound("endpoint"))
				return
			}
			c.File(index)
		})
	}()

	if s.cfg.StaticDir == "" {
		s.logger.Warn("static directory not configured; API only mode")
		return
	}
	info, err := os.Stat(s.cfg.StaticDir)
	if err != nil || !info.IsDir() {
		s.logger.Warn("static directory missing", slog.String("path", s.cfg.StaticDir))
		return
	}

	indexPath := filepath.Join(s.cfg.StaticDir, "index.html")
	if _, err := os.Stat(indexPath); err != nil {
		s.logger.Warn("index.html not found", slog.String("path", indexPath))
	} else {
		index = indexPath
		s.engine.GET("/", func(c *gin.Context) {
			c.File(indexPath)
		})
	}

	assetsDir := filepath.Join(s.cfg.StaticDir, "assets")
	if _, err := os.Stat(assetsDir); err == nil {
		s.engine.StaticFS("/assets", gin.Dir(assetsDir, false))
	}

	favicon := filepath.Join(s.cfg.StaticDir, "favicon.ico")
	if _, err := os.Stat(favicon); err == nil {
		s.engine.StaticFile("/favicon.ico", favicon)
	}
}
