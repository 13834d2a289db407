// Package server exposes the extraction pipeline over HTTP: a multipart
// upload endpoint for extraction runs plus read-only template listing for
// the confirmation UI.
package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/duncanmillerza/hadada-intake/internal/common"
	"github.com/duncanmillerza/hadada-intake/internal/pipeline"
	"github.com/duncanmillerza/hadada-intake/internal/template"
)

// ExtractionRunner runs one extraction attempt end to end.
type ExtractionRunner interface {
	Process(ctx context.Context, req pipeline.Request) (*pipeline.Response, error)
}

// TemplateSource serves template documents and their listing.
type TemplateSource interface {
	Load(ctx context.Context, version string) (*template.FormTemplate, error)
	List(ctx context.Context) ([]template.Info, error)
}

// userRefHeader carries the operator reference for the audit trail. The
// value is hashed before storage and must never be logged.
const userRefHeader = "X-User-Ref"

type errorBody struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

type templatesResponse struct {
	Templates []template.Info `json:"templates"`
}

// Handler serves the intake API routes.
type Handler struct {
	runner    ExtractionRunner
	templates TemplateSource
	logger    *slog.Logger
}

func NewHandler(runner ExtractionRunner, templates TemplateSource, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{runner: runner, templates: templates, logger: logger}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	api := e.Group("/api/v1")
	api.POST("/extractions", h.handleExtract)
	api.GET("/templates", h.handleListTemplates)
	api.GET("/templates/:version", h.handleGetTemplate)
	e.GET("/healthz", h.handleHealth)
}

func (h *Handler) handleExtract(c echo.Context) error {
	file, err := c.FormFile("image")
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{
			Code:  "INVALID_INPUT",
			Error: `multipart field "image" is required`,
		})
	}
	src, err := file.Open()
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Code: "INVALID_INPUT", Error: "open uploaded image"})
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Code: "INVALID_INPUT", Error: "read uploaded image"})
	}

	version := c.FormValue("template_version")
	if version == "" {
		version = c.QueryParam("template_version")
	}

	requestID := c.Response().Header().Get(echo.HeaderXRequestID)
	ctx := common.WithRequestID(c.Request().Context(), requestID)

	resp, err := h.runner.Process(ctx, pipeline.Request{
		ImageData:       data,
		TemplateVersion: version,
		UserIdentifier:  c.Request().Header.Get(userRefHeader),
	})
	if err != nil {
		h.logger.Warn("server.extract.failed",
			"request_id", requestID,
			"template_version", version,
			"error", err,
		)
		return h.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) handleListTemplates(c echo.Context) error {
	infos, err := h.templates.List(c.Request().Context())
	if err != nil {
		h.logger.Warn("server.templates.list.failed", "error", err)
		return h.errorResponse(c, err)
	}
	if infos == nil {
		infos = []template.Info{}
	}
	return c.JSON(http.StatusOK, templatesResponse{Templates: infos})
}

func (h *Handler) handleGetTemplate(c echo.Context) error {
	tpl, err := h.templates.Load(c.Request().Context(), c.Param("version"))
	if err != nil {
		return h.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, tpl)
}

func (h *Handler) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// errorResponse maps pipeline errors onto the status taxonomy. Internal
// failures get an opaque message; their detail stays in the logs.
func (h *Handler) errorResponse(c echo.Context, err error) error {
	status := common.HTTPStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "extraction failed"
	}
	return c.JSON(status, errorBody{Code: common.ErrorCode(err), Error: msg})
}
