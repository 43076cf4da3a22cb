// uploads.go - Storage for publication attachments.
//
// Files are written under a server-chosen name "<unix-millis>-<original>"
// and served back read-only from /uploads/{name}. The disk backend is the
// default; minio.go provides an S3-compatible alternative.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"trifix-backend/internal/config"
)

// UploadsPrefix is the URL prefix under which stored files are served. It
// is also the prefix of every path recorded in the attachments table.
const UploadsPrefix = "uploads/"

// StoredFile describes a file accepted by a FileStore.
type StoredFile struct {
	Name string // stored name, unique per process
	Path string // UploadsPrefix + Name
	Size int64
}

// FileStore persists uploaded attachments and reads them back.
type FileStore interface {
	Save(ctx context.Context, originalName, contentType string, r io.Reader) (StoredFile, error)
	// Remove deletes a file by its recorded path. Missing files are not an
	// error.
	Remove(ctx context.Context, path string) error
	// Open returns ErrNotFound for unknown names.
	Open(ctx context.Context, name string) (io.ReadSeekCloser, time.Time, error)
}

// NewFileStore builds the backend selected by cfg.Backend.
func NewFileStore(ctx context.Context, cfg config.StorageConfig) (FileStore, error) {
	switch cfg.Backend {
	case "", config.StorageDisk:
		return NewDiskStore(cfg.UploadDir)
	case config.StorageMinio:
		return NewMinioStore(ctx, cfg.Minio)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// fileNamer hands out "<millis>-<name>" names whose millisecond prefix is
// strictly increasing within the process.
type fileNamer struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

func newFileNamer() *fileNamer {
	return &fileNamer{now: time.Now}
}

func (n *fileNamer) next(original string) string {
	n.mu.Lock()
	ms := n.now().UnixMilli()
	if ms <= n.last {
		ms = n.last + 1
	}
	n.last = ms
	n.mu.Unlock()

	return fmt.Sprintf("%d-%s", ms, SanitizeFilename(original))
}

// validStoredName rejects anything that could escape the upload directory
// or name a directory.
func validStoredName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, "/\\\x00") {
		return false
	}
	return !strings.HasPrefix(name, ".")
}

// storedNameFromPath maps a recorded attachment path back to its stored name.
func storedNameFromPath(path string) (string, error) {
	name := strings.TrimPrefix(path, UploadsPrefix)
	if !validStoredName(name) {
		return "", fmt.Errorf("invalid stored path %q", path)
	}
	return name, nil
}

// DiskStore keeps uploads in a single flat directory.
type DiskStore struct {
	dir   string
	namer *fileNamer
}

// NewDiskStore creates dir if needed.
func NewDiskStore(dir string) (*DiskStore, error) {
	if dir == "" {
		return nil, errors.New("upload dir is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &DiskStore{dir: dir, namer: newFileNamer()}, nil
}

func (d *DiskStore) Save(ctx context.Context, originalName, _ string, r io.Reader) (StoredFile, error) {
	var (
		f    *os.File
		name string
		err  error
	)
	// O_EXCL guards against another process writing the same name.
	for attempt := 0; attempt < 5; attempt++ {
		name = d.namer.next(originalName)
		f, err = os.OpenFile(filepath.Join(d.dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil || !errors.Is(err, os.ErrExist) {
			break
		}
	}
	if err != nil {
		return StoredFile{}, fmt.Errorf("create upload file: %w", err)
	}

	n, err := io.Copy(f, contextReader{ctx: ctx, r: r})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(f.Name())
		return StoredFile{}, fmt.Errorf("write upload file: %w", err)
	}

	return StoredFile{Name: name, Path: UploadsPrefix + name, Size: n}, nil
}

func (d *DiskStore) Remove(_ context.Context, path string) error {
	name, err := storedNameFromPath(path)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(d.dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove upload file: %w", err)
	}
	return nil
}

func (d *DiskStore) Open(_ context.Context, name string) (io.ReadSeekCloser, time.Time, error) {
	if !validStoredName(name) {
		return nil, time.Time{}, ErrNotFound
	}
	f, err := os.Open(filepath.Join(d.dir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, time.Time{}, ErrNotFound
		}
		return nil, time.Time{}, fmt.Errorf("open upload file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, time.Time{}, fmt.Errorf("stat upload file: %w", err)
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, time.Time{}, ErrNotFound
	}
	return f, info.ModTime(), nil
}

// contextReader stops a copy once the request is cancelled.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// uploadsHandler serves GET /uploads/{name}. The content type comes from the
// file extension; there is no directory listing.
func uploadsHandler(files FileStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		rc, modTime, err := files.Open(r.Context(), name)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				writeError(w, r, http.StatusNotFound, errorResponse{Error: "Archivo no encontrado", Code: codeNotFound}, nil)
				return
			}
			writeInternal(w, r, "Error al leer el archivo", err)
			return
		}
		defer func() { _ = rc.Close() }()

		w.Header().Set("X-Content-Type-Options", "nosniff")
		http.ServeContent(w, r, name, modTime, rc)
	}
}
