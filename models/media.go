package models

import "time"

// MediaItem is the agent's view of a host attachment.
// Path and Variants are relative to the uploads root, slash separated.
type MediaItem struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	MimeType  string    `json:"mime_type"`
	Variants  []string  `json:"variants,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
