package models

import "time"

// FileItem is a read-only projection of a single filesystem entry, built
// fresh for every listing request.
type FileItem struct {
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	IsDir    bool      `json:"is_dir"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
	MimeType string    `json:"mime_type,omitempty"`
}

// DirectoryListing holds the ordered contents of one directory. Parent is
// nil for the storage root and "" when the parent is the root itself.
type DirectoryListing struct {
	Path   string     `json:"path"`
	Parent *string    `json:"parent"`
	Items  []FileItem `json:"items"`
}

// ChangeEvent describes a filesystem change beneath the storage root,
// pushed to WebSocket clients as it happens.
type ChangeEvent struct {
	Type      string    `json:"type"`
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
}

// Change event types.
const (
	ChangeCreated  = "created"
	ChangeModified = "modified"
	ChangeDeleted  = "deleted"
	ChangeRenamed  = "renamed"
)
