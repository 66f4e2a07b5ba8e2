package api

import (
	"errors"
	"fmt"
	"log"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gpscal/web-ftp-server/internal/storage"
)

// createFolderRequest is the body of POST /api/files/folder. Parent must be
// present; the empty string names the storage root.
type createFolderRequest struct {
	Parent *string `json:"parent" binding:"required"`
	Name   string  `json:"name" binding:"required"`
}

// renameRequest is the body of PATCH /api/files/rename.
type renameRequest struct {
	CurrentPath string `json:"current_path" binding:"required"`
	NewPath     string `json:"new_path" binding:"required"`
}

func (s *Server) handleList(c *gin.Context) {
	listing, err := s.store.List(c.Request.Context(), c.Query("path"))
	if err != nil {
		s.writeStorageError(c, err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

func (s *Server) handleUpload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid multipart form."})
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No files provided."})
		return
	}
	destination := c.PostForm("destination")

	// Files already written stay on disk when a later one fails.
	uploaded := make([]string, 0, len(files))
	for _, header := range files {
		name, err := s.saveUpload(c, destination, header)
		if err != nil {
			s.writeStorageError(c, err)
			return
		}
		uploaded = append(uploaded, name)
	}
	c.JSON(http.StatusCreated, gin.H{"uploaded": uploaded})
}

// saveUpload streams one multipart file into the store.
func (s *Server) saveUpload(c *gin.Context, destination string, header *multipart.FileHeader) (string, error) {
	src, err := header.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open upload %s: %w", header.Filename, err)
	}
	defer src.Close()
	return s.store.Save(c.Request.Context(), destination, header.Filename, src)
}

func (s *Server) handleDownload(c *gin.Context) {
	path, ok := c.GetQuery("path")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Query parameter 'path' is required."})
		return
	}
	item, reader, err := s.store.Open(c.Request.Context(), path)
	if err != nil {
		s.writeStorageError(c, err)
		return
	}
	defer reader.Close()

	contentType := item.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	extraHeaders := map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", item.Name),
	}
	c.DataFromReader(http.StatusOK, item.Size, contentType, reader, extraHeaders)
}

func (s *Server) handleCreateFolder(c *gin.Context) {
	var req createFolderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body."})
		return
	}
	created, err := s.store.CreateFolder(c.Request.Context(), *req.Parent, req.Name)
	if err != nil {
		s.writeStorageError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"created": created})
}

func (s *Server) handleRename(c *gin.Context) {
	var req renameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body."})
		return
	}
	renamed, err := s.store.Rename(c.Request.Context(), req.CurrentPath, req.NewPath)
	if err != nil {
		s.writeStorageError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"renamed": renamed})
}

func (s *Server) handleDelete(c *gin.Context) {
	path, ok := c.GetQuery("path")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Query parameter 'path' is required."})
		return
	}
	deleted, err := s.store.Delete(c.Request.Context(), path)
	if err != nil {
		s.writeStorageError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

// writeStorageError maps a storage error onto an HTTP status and a JSON
// error body.
func (s *Server) writeStorageError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrInvalidPath):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid path."})
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Path not found."})
	case errors.Is(err, storage.ErrNotDirectory):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Path is not a directory."})
	case errors.Is(err, storage.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "Target already exists."})
	case errors.Is(err, storage.ErrTooLarge):
		message := fmt.Sprintf("File exceeds the maximum size of %d MB.", s.settings.MaxUploadSizeMB)
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": message})
	default:
		log.Printf("Unhandled storage error: %v\n", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error."})
	}
}
