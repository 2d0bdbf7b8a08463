package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"wplaunch/internal/notify"
	"wplaunch/internal/services"
	"wplaunch/internal/store"
)

type Handler struct {
	jobs      *services.JobService
	creds     *services.CredentialService
	orch      *services.Orchestrator
	templates *services.TemplateRegistry
	hub       *notify.Hub
	log       *zap.Logger

	upgrader  websocket.Upgrader
	heartbeat time.Duration
	started   time.Time
}

type Deps struct {
	Jobs         *services.JobService
	Credentials  *services.CredentialService
	Orchestrator *services.Orchestrator
	Templates    *services.TemplateRegistry
	Hub          *notify.Hub
	Gatherer     prometheus.Gatherer
	Log          *zap.Logger
}

func RegisterRoutes(e *echo.Echo, d Deps) *Handler {
	h := &Handler{
		jobs:      d.Jobs,
		creds:     d.Credentials,
		orch:      d.Orchestrator,
		templates: d.Templates,
		hub:       d.Hub,
		log:       d.Log.Named("http"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		heartbeat: 15 * time.Second,
		started:   time.Now(),
	}

	e.GET("/health", h.Health)
	if d.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	e.POST("/deploy", h.Deploy)
	e.GET("/jobs", h.ListJobs)
	e.GET("/jobs/:jobId", h.GetJob)
	e.DELETE("/jobs/:jobId", h.DeleteJob)
	e.POST("/jobs/:jobId/cancel", h.CancelJob)
	e.GET("/jobs/:jobId/ws", h.WatchJob)

	e.POST("/upload/:jobId", h.Upload)
	e.POST("/upload/:jobId/stream", h.UploadStream)
	e.POST("/api/resume-deploy/:jobId", h.ResumeDeploy)

	e.POST("/validate-credentials", h.ValidateCredentials)
	e.POST("/validate-credentials-stream", h.ValidateCredentialsStream)
	e.POST("/save-credentials", h.SaveCredentials)
	e.GET("/credentials", h.ListCredentials)
	e.DELETE("/credentials/:id", h.DeleteCredential)

	e.GET("/templates", h.ListTemplates)
	e.POST("/upload-template", h.UploadTemplate)
	e.DELETE("/templates/:templateId", h.DeleteTemplate)

	return h
}

func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
		"uptime":    time.Since(h.started).Round(time.Second).String(),
	})
}

// errorStatus maps service errors to HTTP status codes.
func errorStatus(err error) int {
	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrInvalidState), errors.Is(err, services.ErrJobBusy):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) respondError(c echo.Context, err error) error {
	status := errorStatus(err)
	body := map[string]any{"success": false, "error": err.Error()}
	var verr *services.ValidationError
	if errors.As(err, &verr) {
		body["fields"] = verr.Fields
	}
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
	}
	return c.JSON(status, body)
}
