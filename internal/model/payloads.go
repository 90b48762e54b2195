package model

// UploadProgress is the payload of an upload_progress update.
type UploadProgress struct {
	ID      string  `json:"id"`
	Pct     float64 `json:"pct"`
	Message string  `json:"message,omitempty"`
}

// ImageProcessed is the payload of an image_processed update.
type ImageProcessed struct {
	ID           string         `json:"id"`
	URL          string         `json:"url"`
	ThumbnailURL string         `json:"thumbnailUrl,omitempty"`
	Title        string         `json:"title,omitempty"`
	PromptText   string         `json:"promptText,omitempty"`
	Status       string         `json:"status,omitempty"` // processing, completed, failed
	Tags         []string       `json:"tags,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// StatusUpdate is the payload of a status_update update.
type StatusUpdate struct {
	ID           string `json:"id"`
	Status       string `json:"status"` // pending, processing, completed, failed
	ErrorMessage string `json:"errorMessage,omitempty"`
}
