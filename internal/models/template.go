package models

import "time"

type TemplateKind string

const (
	TemplateCustom TemplateKind = "custom" // local .wpress archive
	TemplateTheme  TemplateKind = "theme"  // WordPress.org theme package
)

type Template struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Kind          TemplateKind `json:"kind"`
	Size          int64        `json:"size,omitempty"`
	Path          string       `json:"-"`
	DownloadURL   string       `json:"downloadUrl,omitempty"`
	PreviewURL    string       `json:"previewUrl,omitempty"`
	ScreenshotURL string       `json:"screenshotUrl,omitempty"`
	UploadedAt    *time.Time   `json:"uploadedAt,omitempty"`
}
