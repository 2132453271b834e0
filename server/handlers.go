package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/existflow/taskmirror/internal/model"
)

// handleStatus returns the full job-table snapshot.
func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.engine.Status())
}

// handleSync triggers a sync for one entity type (or "all"). Admission is
// decided synchronously, so a busy engine always surfaces as 409; the run
// itself happens in the background and callers poll /status for the outcome.
func (s *Server) handleSync(c echo.Context) error {
	name := c.Param("type")

	if name == "all" {
		if err := s.engine.StartSyncAll(); err != nil {
			return s.syncConflict(c, err)
		}
		return c.JSON(http.StatusAccepted, map[string]string{"status": "queued", "type": "all"})
	}

	t := model.EntityType(name)
	if !t.Valid() {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unknown entity type"})
	}

	if err := s.engine.StartSync(t); err != nil {
		return s.syncConflict(c, err)
	}

	return c.JSON(http.StatusAccepted, map[string]string{"status": "queued", "type": name})
}

func (s *Server) syncConflict(c echo.Context, err error) error {
	return c.JSON(http.StatusConflict, map[string]string{
		"error":   err.Error(),
		"current": string(s.engine.Status().Current),
	})
}

// handleCancel requests cooperative cancellation of the running job.
func (s *Server) handleCancel(c echo.Context) error {
	t := model.EntityType(c.Param("type"))
	if !t.Valid() {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unknown entity type"})
	}

	if !s.engine.RequestCancel(t) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "no running sync for " + string(t)})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "cancelling", "type": string(t)})
}

// handleEntities lists the locally stored entities of one type.
func (s *Server) handleEntities(c echo.Context) error {
	t := model.EntityType(c.Param("type"))
	if !t.Valid() {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unknown entity type"})
	}

	entities, err := s.engine.Store().List(c.Request().Context(), t)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if entities == nil {
		entities = []model.Entity{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"type":     t,
		"count":    len(entities),
		"entities": entities,
	})
}
