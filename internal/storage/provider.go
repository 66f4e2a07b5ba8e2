package storage

import (
	"context"
	"io"

	"github.com/gpscal/web-ftp-server/internal/models"
)

// Defines the interface for file manager storage backends.
type Provider interface {
	List(ctx context.Context, path string) (models.DirectoryListing, error)
	Open(ctx context.Context, path string) (models.FileItem, io.ReadSeekCloser, error)
	Save(ctx context.Context, destination, filename string, contents io.Reader) (string, error)
	CreateFolder(ctx context.Context, parent, name string) (string, error)
	Rename(ctx context.Context, currentPath, newPath string) (string, error)
	Delete(ctx context.Context, path string) (string, error)
	Root() string
}
