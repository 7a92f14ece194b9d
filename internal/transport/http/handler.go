package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/xiaot623/paygate/internal/domain"
	"github.com/xiaot623/paygate/internal/log"
	"github.com/xiaot623/paygate/internal/service"
)

// Handler handles HTTP requests.
type Handler struct {
	service *service.Service
	logger  zerolog.Logger
}

// NewHandler creates a new handler.
func NewHandler(service *service.Service) *Handler {
	return &Handler{
		service: service,
		logger:  log.WithComponent("http"),
	}
}

// RegisterRoutes registers the public API with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	api := e.Group("/api")

	// Chat and payment
	api.POST("/chat", h.Chat)
	api.GET("/chat/ws", h.ChatSocket)
	api.POST("/chat/confirm-payment", h.ConfirmPayment)

	// Files
	api.POST("/upload", h.Upload)
	api.GET("/download/:jobId", h.Download)

	// Sessions and jobs
	api.GET("/sessions", h.ListSessions)
	api.GET("/sessions/:sessionId", h.GetSession)
	api.DELETE("/sessions/:sessionId", h.DeleteSession)
	api.GET("/jobs/:jobId", h.GetJob)

	// Discovery
	api.GET("/agent", h.Agent)
	api.GET("/health", h.Health)
	api.GET("/capabilities", h.Capabilities)
}

// Agent returns the agent profile and pricing.
// GET /api/agent
func (h *Handler) Agent(c echo.Context) error {
	return c.JSON(http.StatusOK, h.service.AgentProfile())
}

// Health returns health status.
// GET /api/health
func (h *Handler) Health(c echo.Context) error {
	report := h.service.Health(c.Request().Context())
	status := http.StatusOK
	if report.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, report)
}

// errorStatus maps a service error onto a status code and a body that is safe to
// show the caller.
func errorStatus(err error) (int, domain.ErrorResponse) {
	var (
		validation   *domain.ValidationError
		verification *domain.VerificationError
		notFound     *domain.NotFoundError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, domain.ErrorResponse{Error: validation.Message, Field: validation.Field}
	case errors.As(err, &verification):
		return http.StatusBadRequest, domain.ErrorResponse{Error: "payment verification failed", TxStatus: verification.Status}
	case errors.As(err, &notFound):
		return http.StatusNotFound, domain.ErrorResponse{Error: notFound.Error()}
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, domain.ErrorResponse{Error: "not found"}
	default:
		return http.StatusInternalServerError, domain.ErrorResponse{Error: "internal error"}
	}
}

func (h *Handler) fail(c echo.Context, err error) error {
	status, body := errorStatus(err)
	event := h.logger.Debug()
	if status >= http.StatusInternalServerError {
		event = h.logger.Error()
	}
	event.Err(err).
		Str("method", c.Request().Method).
		Str("path", c.Path()).
		Int("status", status).
		Msg("request failed")
	return c.JSON(status, body)
}

func badRequest(c echo.Context, field, message string) error {
	return c.JSON(http.StatusBadRequest, domain.ErrorResponse{Error: message, Field: field})
}
