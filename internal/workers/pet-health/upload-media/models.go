// internal/workers/pet-health/upload-media/models.go
package uploadmedia

import "pet-health-workers/internal/models"

type Input struct {
	MediaPath   string `json:"mediaPath"`
	MimeType    string `json:"mimeType,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

// Output always carries a status. Media is set only when the status is attached.
type Output struct {
	MediaStatus string        `json:"mediaStatus"`
	Media       *models.Media `json:"media,omitempty"`
	MediaError  string        `json:"mediaError,omitempty"`
}

var extensionTypes = map[string]string{
	".mp4": "video/mp4",
	".mov": "video/quicktime",
	".avi": "video/x-msvideo",
}
