package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"wplaunch/internal/notify"
	"wplaunch/internal/services"
)

func bindCredentials(c echo.Context) (services.CredentialInput, error) {
	var in services.CredentialInput
	if err := c.Bind(&in); err != nil {
		return in, &services.ValidationError{Fields: map[string]string{"body": "could not read request body"}}
	}
	return in, nil
}

func validationPayload(report *services.ValidationReport) (int, map[string]any) {
	if !report.Valid() {
		return http.StatusBadRequest, map[string]any{"success": false, "cpanel": report.CPanel}
	}
	return http.StatusOK, map[string]any{"success": true, "cpanel": report.CPanel, "ftp": report.FTP}
}

func (h *Handler) ValidateCredentials(c echo.Context) error {
	in, err := bindCredentials(c)
	if err != nil {
		return h.respondError(c, err)
	}
	rep := notify.NewReporter(nil, h.log, "validate-"+uuid.NewString())
	report, err := h.creds.Validate(c.Request().Context(), in, rep)
	if err != nil {
		return h.respondError(c, err)
	}
	status, body := validationPayload(report)
	return c.JSON(status, body)
}

func (h *Handler) ValidateCredentialsStream(c echo.Context) error {
	in, err := bindCredentials(c)
	if err != nil {
		return h.respondError(c, err)
	}
	topic := "validate-" + uuid.NewString()
	return h.stream(c, topic, func(ctx context.Context, rep *notify.Reporter) {
		report, err := h.creds.Validate(ctx, in, rep)
		if err != nil {
			rep.Error(err.Error())
			rep.Complete(map[string]any{"success": false, "error": err.Error()})
			return
		}
		_, body := validationPayload(report)
		rep.Complete(body)
	})
}

func (h *Handler) SaveCredentials(c echo.Context) error {
	in, err := bindCredentials(c)
	if err != nil {
		return h.respondError(c, err)
	}
	rep := notify.NewReporter(nil, h.log, "save-"+uuid.NewString())
	cred, report, err := h.creds.Save(c.Request().Context(), in, rep)
	if err != nil {
		return h.respondError(c, err)
	}
	if cred == nil {
		return c.JSON(http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "credentials failed validation",
			"cpanel":  report.CPanel,
		})
	}
	return c.JSON(http.StatusCreated, map[string]any{
		"success":      true,
		"credentialId": cred.ID,
		"credential":   cred.Summary(),
	})
}

func (h *Handler) ListCredentials(c echo.Context) error {
	creds, err := h.creds.List(c.Request().Context())
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, creds)
}

func (h *Handler) DeleteCredential(c echo.Context) error {
	if err := h.creds.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return h.respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
