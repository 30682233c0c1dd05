package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/MrWong99/reelsonar/internal/observe"
)

func (s *Server) verifySystem(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Library.Verify(c.Request.Context()))
}

func (s *Server) rebuildIndex(c *gin.Context) {
	if s.deps.Rebuild == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "rebuild not available"})
		return
	}
	if err := s.deps.Rebuild(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	observe.Logger(c.Request.Context()).Info("vector index rebuilt")
	c.JSON(http.StatusOK, gin.H{"status": "rebuilt"})
}
