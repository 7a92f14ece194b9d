package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Upload stores a multipart file, optionally attaching it to a session.
// POST /api/upload
func (h *Handler) Upload(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return badRequest(c, "file", "file is required")
		}
		return badRequest(c, "file", "invalid multipart body")
	}
	src, err := fh.Open()
	if err != nil {
		return h.fail(c, err)
	}
	defer src.Close()

	upload, err := h.service.SaveUpload(c.Request().Context(), c.FormValue("sessionId"), fh.Filename, src)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, upload)
}

// Download serves the report produced by a job.
// GET /api/download/:jobId
func (h *Handler) Download(c echo.Context) error {
	jobID := c.Param("jobId")
	path, err := h.service.ReportPath(jobID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Attachment(path, jobID+".md")
}
