package handlers

import (
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"wplaunch/internal/models"
	"wplaunch/internal/notify"
	"wplaunch/internal/services"
)

func (h *Handler) Deploy(c echo.Context) error {
	req := services.NewJobRequest{
		Template: c.FormValue("template"),
		Domain:   c.FormValue("domain"),
		Email:    c.FormValue("email"),
		Phone:    c.FormValue("phone"),
		Address:  c.FormValue("address"),
	}

	fh, err := c.FormFile("logo")
	switch {
	case err == nil:
		var f multipart.File
		f, err = fh.Open()
		if err != nil {
			return h.respondError(c, err)
		}
		defer f.Close()
		req.LogoName, req.Logo = fh.Filename, f
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
	default:
		return h.respondError(c, err)
	}

	job, err := h.jobs.Create(c.Request().Context(), req)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]any{
		"success":  true,
		"jobId":    job.ID,
		"jobData":  job,
		"nextStep": "Validate hosting credentials, then POST /upload/" + job.ID + " with a credentialId",
	})
}

func (h *Handler) ListJobs(c echo.Context) error {
	jobs, err := h.jobs.List(c.Request().Context())
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, jobs)
}

func (h *Handler) GetJob(c echo.Context) error {
	job, err := h.jobs.Get(c.Request().Context(), c.Param("jobId"))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, job)
}

func (h *Handler) DeleteJob(c echo.Context) error {
	if err := h.jobs.Delete(c.Request().Context(), c.Param("jobId")); err != nil {
		return h.respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) CancelJob(c echo.Context) error {
	jobID := c.Param("jobId")
	if !h.orch.Cancel(jobID) {
		return c.JSON(http.StatusConflict, map[string]string{"error": "job is not running"})
	}
	return c.JSON(http.StatusAccepted, map[string]any{"success": true, "jobId": jobID})
}

// WatchJob attaches a websocket subscriber to the job's progress stream.
func (h *Handler) WatchJob(c echo.Context) error {
	jobID := c.Param("jobId")
	if _, err := h.jobs.Get(c.Request().Context(), jobID); err != nil {
		return h.respondError(c, err)
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return nil
	}
	client := notify.NewWSClient(conn, h.log)
	h.hub.Register(jobID, client)
	defer func() {
		h.hub.Unregister(jobID, client)
		client.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return nil
		}
	}
}

type uploadRequest struct {
	CredentialID string `json:"credentialId" form:"credentialId"`
}

func (h *Handler) bindUpload(c echo.Context) (string, error) {
	var req uploadRequest
	if err := c.Bind(&req); err != nil {
		return "", &services.ValidationError{Fields: map[string]string{"credentialId": "could not read request body"}}
	}
	id := strings.TrimSpace(req.CredentialID)
	if id == "" {
		return "", &services.ValidationError{Fields: map[string]string{"credentialId": "is required"}}
	}
	return id, nil
}

// Upload runs the deployment and answers once it has finished or paused.
func (h *Handler) Upload(c echo.Context) error {
	credID, err := h.bindUpload(c)
	if err != nil {
		return h.respondError(c, err)
	}
	jobID := c.Param("jobId")
	rep := notify.NewReporter(h.hub, h.log, jobID)
	res, err := h.orch.StartUpload(c.Request().Context(), jobID, credID, rep)
	return h.deployResponse(c, res, err)
}

func (h *Handler) ResumeDeploy(c echo.Context) error {
	jobID := c.Param("jobId")
	rep := notify.NewReporter(h.hub, h.log, jobID)
	res, err := h.orch.Resume(c.Request().Context(), jobID, rep)
	return h.deployResponse(c, res, err)
}

func (h *Handler) deployResponse(c echo.Context, res *services.DeployResult, err error) error {
	if err != nil {
		if res == nil {
			return h.respondError(c, err)
		}
		return c.JSON(http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   "Deployment failed",
			"details": err.Error(),
			"job":     res.Job,
		})
	}
	return c.JSON(http.StatusOK, deployPayload(res))
}

func deployPayload(res *services.DeployResult) map[string]any {
	body := map[string]any{
		"success":       true,
		"status":        res.Status,
		"job":           res.Job,
		"manualDbSetup": res.ManualDBSetup,
	}
	if res.Status == models.JobWaitingForDB {
		body["dbInstructions"] = res.DBInstructions
		body["message"] = "Automatic database creation is unavailable. Create the database as described, then resume the deployment."
	}
	if res.InstallURL != "" {
		body["installUrl"] = res.InstallURL
	}
	return body
}

// UploadStream runs the deployment while streaming its progress.
func (h *Handler) UploadStream(c echo.Context) error {
	credID, err := h.bindUpload(c)
	if err != nil {
		return h.respondError(c, err)
	}
	jobID := c.Param("jobId")
	return h.stream(c, jobID, func(ctx context.Context, rep *notify.Reporter) {
		res, err := h.orch.StartUpload(ctx, jobID, credID, rep)
		if err != nil && res == nil {
			// rejected before the run started, nothing was reported yet
			rep.Error(err.Error())
			rep.Complete(map[string]any{"success": false, "error": err.Error(), "status": errorStatus(err)})
		}
	})
}
