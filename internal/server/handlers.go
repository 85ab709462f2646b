// Package server provides the HTTP endpoints that expose log entry state.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// Counter reports how many log entries are stored.
type Counter interface {
	Count(ctx context.Context) (int64, error)
}

// Handler holds the HTTP handlers
type Handler struct {
	counter Counter
	logger  *slog.Logger
}

// NewHandler creates a new handler backed by counter
func NewHandler(counter Counter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		counter: counter,
		logger:  logger,
	}
}

// Health handles GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// LogIndex handles GET /log/
func (h *Handler) LogIndex(c echo.Context) error {
	return c.Redirect(http.StatusFound, "/log/count/")
}

// LogCount handles GET /log/count/ and writes the entry count as plain text.
func (h *Handler) LogCount(c echo.Context) error {
	n, err := h.counter.Count(c.Request().Context())
	if err != nil {
		h.logger.Error("failed to count log entries", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to count log entries")
	}
	return c.String(http.StatusOK, strconv.FormatInt(n, 10))
}
