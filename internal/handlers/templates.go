package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"wplaunch/internal/services"
)

func (h *Handler) ListTemplates(c echo.Context) error {
	templates, err := h.templates.List(c.Request().Context())
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, templates)
}

func (h *Handler) UploadTemplate(c echo.Context) error {
	fh, err := c.FormFile("template")
	if err != nil {
		return h.respondError(c, &services.ValidationError{Fields: map[string]string{"template": "file is required"}})
	}
	f, err := fh.Open()
	if err != nil {
		return h.respondError(c, err)
	}
	defer f.Close()

	tpl, err := h.templates.Save(fh.Filename, f)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]any{"success": true, "template": tpl})
}

func (h *Handler) DeleteTemplate(c echo.Context) error {
	if err := h.templates.Delete(c.Param("templateId")); err != nil {
		return h.respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
