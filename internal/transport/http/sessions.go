package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// ListSessions lists live sessions, oldest first.
// GET /api/sessions
func (h *Handler) ListSessions(c echo.Context) error {
	sessions, err := h.service.ListSessions(c.Request().Context())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// GetSession returns a session with its transcript.
// GET /api/sessions/:sessionId
func (h *Handler) GetSession(c echo.Context) error {
	session, err := h.service.GetSession(c.Request().Context(), c.Param("sessionId"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, session)
}

// DeleteSession removes a session.
// DELETE /api/sessions/:sessionId
func (h *Handler) DeleteSession(c echo.Context) error {
	if err := h.service.DeleteSession(c.Request().Context(), c.Param("sessionId")); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// GetJob returns the status of a paid job.
// GET /api/jobs/:jobId
func (h *Handler) GetJob(c echo.Context) error {
	job, err := h.service.GetJob(c.Request().Context(), c.Param("jobId"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, job)
}
