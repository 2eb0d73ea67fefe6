package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Medard-prog/web-whisperer-sub001/internal/apperr"
	"github.com/Medard-prog/web-whisperer-sub001/internal/logger"
	"github.com/Medard-prog/web-whisperer-sub001/internal/services"
	"github.com/Medard-prog/web-whisperer-sub001/internal/utils"
)

// RestProjectHandler serves project detail pages.
type RestProjectHandler struct {
	projects services.IProjectService
}

func NewRestProjectHandler(projects services.IProjectService) *RestProjectHandler {
	return &RestProjectHandler{projects: projects}
}

// GetProjectByID handles GET /v1/projects/:id. Clients that do not own the
// project get 404, not 403, so ids cannot be probed.
func (h *RestProjectHandler) GetProjectByID(c *gin.Context) {
	id, err := utils.ParseSixID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid project ID format"})
		return
	}
	sess := currentSession(c)
	if sess == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Sign in required"})
		return
	}

	p, err := h.projects.FindForActor(c.Request.Context(), sess.Actor(), id)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, p)
	case errors.Is(err, apperr.ErrNotFound), errors.Is(err, apperr.ErrForbidden):
		c.JSON(http.StatusNotFound, gin.H{"error": "Project not found"})
	default:
		logger.Errorf("Failed to load project %s: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve project"})
	}
}
