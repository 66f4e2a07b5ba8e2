package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"mime"
	"os"
	"path"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/afero"

	"github.com/gpscal/web-ftp-server/internal/models"
	"github.com/gpscal/web-ftp-server/internal/pathutil"
)

// Uploads are streamed in fixed-size chunks so large files never have to
// fit in memory.
const uploadChunkSize = 1 << 20

// FileStore implements Provider over a single directory tree.
type FileStore struct {
	fs       afero.Fs
	resolver *Resolver
	maxBytes int64
}

var _ Provider = (*FileStore)(nil)

// NewFileStore canonicalizes root, creating it if needed, and returns a
// store whose operations are confined to it.
func NewFileStore(root string, maxUploadBytes int64) (*FileStore, error) {
	resolver, err := NewResolver(root)
	if err != nil {
		return nil, err
	}
	return &FileStore{
		fs:       afero.NewBasePathFs(afero.NewOsFs(), resolver.Root()),
		resolver: resolver,
		maxBytes: maxUploadBytes,
	}, nil
}

// NewFileStoreWithFs returns a store backed by the given filesystem, for
// tests running against afero.NewMemMapFs. Paths are normalized lexically
// only; a memory filesystem has no symlinks to chase.
func NewFileStoreWithFs(fsys afero.Fs, maxUploadBytes int64) *FileStore {
	return &FileStore{fs: fsys, maxBytes: maxUploadBytes}
}

// Root returns the canonical storage root, or "" for an in-memory store.
func (s *FileStore) Root() string {
	if s.resolver == nil {
		return ""
	}
	return s.resolver.Root()
}

// List returns the entries of the directory at the given path, directories
// first, each group ordered case-insensitively by name.
func (s *FileStore) List(ctx context.Context, raw string) (models.DirectoryListing, error) {
	rel, err := s.locate(raw)
	if err != nil {
		return models.DirectoryListing{}, err
	}
	info, err := s.fs.Stat(rel)
	if err != nil {
		return models.DirectoryListing{}, asNotFound(err, rel)
	}
	if !info.IsDir() {
		return models.DirectoryListing{}, fmt.Errorf("%w: %q", ErrNotDirectory, rel)
	}
	entries, err := afero.ReadDir(s.fs, rel)
	if err != nil {
		return models.DirectoryListing{}, fmt.Errorf("failed to read directory %q: %w", rel, err)
	}
	items := make([]models.FileItem, 0, len(entries))
	for _, entry := range entries {
		items = append(items, fileItem(pathutil.Join(rel, entry.Name()), entry))
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].IsDir != items[j].IsDir {
			return items[i].IsDir
		}
		return strings.ToLower(items[i].Name) < strings.ToLower(items[j].Name)
	})
	listing := models.DirectoryListing{Path: rel, Items: items}
	if parent, ok := pathutil.Parent(rel); ok {
		listing.Parent = &parent
	}
	return listing, nil
}

// Open returns the metadata and contents of the file at the given path.
// The caller owns the returned reader. Directories cannot be opened.
func (s *FileStore) Open(ctx context.Context, raw string) (models.FileItem, io.ReadSeekCloser, error) {
	rel, err := s.locate(raw)
	if err != nil {
		return models.FileItem{}, nil, err
	}
	info, err := s.fs.Stat(rel)
	if err != nil {
		return models.FileItem{}, nil, asNotFound(err, rel)
	}
	if info.IsDir() {
		return models.FileItem{}, nil, fmt.Errorf("%w: %q is a directory", ErrNotFound, rel)
	}
	f, err := s.fs.Open(rel)
	if err != nil {
		return models.FileItem{}, nil, asNotFound(err, rel)
	}
	return fileItem(rel, info), f, nil
}

// Save streams contents into destination under the given filename, which is
// reduced to its final path segment. Missing destination directories are
// created, an existing file is overwritten, and a transfer that exceeds the
// size cap is aborted with nothing left behind. It returns the stored name.
func (s *FileStore) Save(ctx context.Context, destination, filename string, contents io.Reader) (string, error) {
	destRel, err := s.locate(destination)
	if err != nil {
		return "", err
	}
	if info, err := s.fs.Stat(destRel); err == nil && !info.IsDir() {
		return "", fmt.Errorf("%w: %q", ErrNotDirectory, destRel)
	}
	name := pathutil.BaseName(filename)
	if name == "" {
		return "", fmt.Errorf("%w: unusable filename %q", ErrInvalidPath, filename)
	}
	if err := s.fs.MkdirAll(destRel, 0o755); err != nil {
		return "", fmt.Errorf("failed to create destination %q: %w", destRel, err)
	}
	// The name may sit on a symlink, so the full target goes through the
	// resolver like every other client path.
	target, err := s.locate(pathutil.Join(destRel, name))
	if err != nil {
		return "", err
	}
	if err := s.writeCapped(ctx, target, contents); err != nil {
		return "", err
	}
	return name, nil
}

// writeCapped copies contents to target, enforcing the upload size cap
// before each chunk is committed. On failure the partial file is removed.
func (s *FileStore) writeCapped(ctx context.Context, target string, contents io.Reader) error {
	out, err := s.fs.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create file %q: %w", target, err)
	}
	var written int64
	buf := make([]byte, uploadChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			s.discardPartial(out, target)
			return err
		}
		n, readErr := contents.Read(buf)
		if n > 0 {
			written += int64(n)
			if written > s.maxBytes {
				s.discardPartial(out, target)
				return fmt.Errorf("%w: %q exceeds %d bytes", ErrTooLarge, target, s.maxBytes)
			}
			if _, err := out.Write(buf[:n]); err != nil {
				s.discardPartial(out, target)
				return fmt.Errorf("failed to write %q: %w", target, err)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			s.discardPartial(out, target)
			return fmt.Errorf("failed to read upload for %q: %w", target, readErr)
		}
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to finalize %q: %w", target, err)
	}
	return nil
}

// discardPartial closes and removes an interrupted upload. A target that
// never made it to disk is fine; any other cleanup failure is logged.
func (s *FileStore) discardPartial(out afero.File, target string) {
	_ = out.Close()
	if err := s.fs.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("Failed to remove partial upload %q: %v\n", target, err)
	}
}

// CreateFolder creates a single new directory under parent. The name must
// be one path segment and the target must not already exist. It returns
// the path of the new folder relative to the root.
func (s *FileStore) CreateFolder(ctx context.Context, parent, name string) (string, error) {
	parentRel, err := s.locate(parent)
	if err != nil {
		return "", err
	}
	cleanName := pathutil.Normalize(name)
	if cleanName == "" || strings.Contains(cleanName, "/") {
		return "", fmt.Errorf("%w: folder name %q", ErrInvalidPath, name)
	}
	if info, err := s.fs.Stat(parentRel); err == nil && !info.IsDir() {
		return "", fmt.Errorf("%w: %q", ErrNotDirectory, parentRel)
	}
	if err := s.fs.MkdirAll(parentRel, 0o755); err != nil {
		return "", fmt.Errorf("failed to create parent %q: %w", parentRel, err)
	}
	target := pathutil.Join(parentRel, cleanName)
	if s.exists(target) {
		return "", fmt.Errorf("%w: %q", ErrConflict, target)
	}
	if err := s.fs.Mkdir(target, 0o755); err != nil {
		return "", fmt.Errorf("failed to create folder %q: %w", target, err)
	}
	return target, nil
}

// Rename moves the file or directory at currentPath to newPath, creating
// missing parents of the destination. The destination must not already
// exist. It returns the destination path relative to the root.
func (s *FileStore) Rename(ctx context.Context, currentPath, newPath string) (string, error) {
	srcRel, err := s.locate(currentPath)
	if err != nil {
		return "", err
	}
	dstRel, err := s.locate(newPath)
	if err != nil {
		return "", err
	}
	if _, err := s.fs.Stat(srcRel); err != nil {
		return "", asNotFound(err, srcRel)
	}
	if parent, ok := pathutil.Parent(dstRel); ok && parent != "" {
		if err := s.fs.MkdirAll(parent, 0o755); err != nil {
			return "", fmt.Errorf("failed to create destination parent %q: %w", parent, err)
		}
	}
	if _, err := s.fs.Stat(dstRel); err == nil {
		return "", fmt.Errorf("%w: %q", ErrConflict, dstRel)
	}
	if err := s.fs.Rename(srcRel, dstRel); err != nil {
		return "", fmt.Errorf("failed to rename %q to %q: %w", srcRel, dstRel, err)
	}
	return dstRel, nil
}

// Delete removes the file or directory at the given path, recursively for
// directories. The storage root itself cannot be deleted. It returns the
// deleted path relative to the root.
func (s *FileStore) Delete(ctx context.Context, raw string) (string, error) {
	rel, err := s.locate(raw)
	if err != nil {
		return "", err
	}
	if rel == "" {
		return "", fmt.Errorf("%w: cannot delete the storage root", ErrInvalidPath)
	}
	if _, err := s.fs.Stat(rel); err != nil {
		return "", asNotFound(err, rel)
	}
	if err := s.fs.RemoveAll(rel); err != nil {
		return "", fmt.Errorf("failed to delete %q: %w", rel, err)
	}
	return rel, nil
}

// locate maps a client path to a root-relative one, via the resolver when
// the store sits on the real filesystem.
func (s *FileStore) locate(raw string) (string, error) {
	if s.resolver == nil {
		return pathutil.Normalize(raw), nil
	}
	return s.resolver.Resolve(raw)
}

// exists reports whether anything occupies the path, counting a symlink
// whose target is gone.
func (s *FileStore) exists(rel string) bool {
	if lstater, ok := s.fs.(afero.Lstater); ok {
		_, _, err := lstater.LstatIfPossible(rel)
		return err == nil
	}
	_, err := s.fs.Stat(rel)
	return err == nil
}

// fileItem builds the listing entry for one directory member.
func fileItem(itemPath string, info os.FileInfo) models.FileItem {
	item := models.FileItem{
		Name:     info.Name(),
		Path:     itemPath,
		IsDir:    info.IsDir(),
		Modified: info.ModTime().UTC(),
	}
	if !info.IsDir() {
		item.Size = info.Size()
		item.MimeType = mime.TypeByExtension(path.Ext(info.Name()))
	}
	return item
}

// asNotFound converts a missing-target error into ErrNotFound, leaving
// anything else untouched.
func asNotFound(err error, rel string) error {
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
		return fmt.Errorf("%w: %q", ErrNotFound, rel)
	}
	return err
}
