package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"trifix-backend/internal/config"
)

func normaliseEndpoint(raw string) (endpoint string, secure bool, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("empty endpoint")
	}

	// Accept either "minio:9000" or "http://minio:9000" / "https://minio:9000".
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", false, err
		}
		if u.Host == "" {
			return "", false, fmt.Errorf("invalid endpoint")
		}
		if u.Path != "" && u.Path != "/" {
			return "", false, fmt.Errorf("endpoint must not contain a path")
		}
		secure = (u.Scheme == "https")
		return u.Host, secure, nil
	}

	// No scheme provided, treat as host:port (insecure by default for local MinIO).
	return raw, false, nil
}

func newMinioClient(ctx context.Context, cfg config.MinioConfig) (*minio.Client, error) {
	if cfg.Endpoint == "" || cfg.AccessKey == "" || cfg.SecretKey == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("minio configuration incomplete")
	}

	endpoint, secure, err := normaliseEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, err
	}

	// Sanity check: bucket must exist.
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("minio bucket does not exist: %s", cfg.Bucket)
	}

	return client, nil
}

// minioPartSize bounds the buffer used for uploads of unknown length.
const minioPartSize = 16 << 20

// MinioStore keeps uploads as objects in a single bucket, keyed by stored
// name.
type MinioStore struct {
	client *minio.Client
	bucket string
	namer  *fileNamer
}

func NewMinioStore(ctx context.Context, cfg config.MinioConfig) (*MinioStore, error) {
	client, err := newMinioClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("minio: %w", err)
	}
	return &MinioStore{client: client, bucket: cfg.Bucket, namer: newFileNamer()}, nil
}

func (m *MinioStore) Save(ctx context.Context, originalName, contentType string, r io.Reader) (StoredFile, error) {
	name := m.namer.next(originalName)
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	src := &readErrRecorder{r: r}
	info, err := m.client.PutObject(ctx, m.bucket, name, src, -1, minio.PutObjectOptions{
		ContentType: contentType,
		PartSize:    minioPartSize,
	})
	if err != nil {
		// The client does not always wrap reader failures; the body limit
		// must stay visible to errors.As.
		if src.err != nil {
			return StoredFile{}, fmt.Errorf("put object: read upload: %w", src.err)
		}
		return StoredFile{}, fmt.Errorf("put object: %w", err)
	}
	return StoredFile{Name: name, Path: UploadsPrefix + name, Size: info.Size}, nil
}

func (m *MinioStore) Remove(ctx context.Context, path string) error {
	name, err := storedNameFromPath(path)
	if err != nil {
		return err
	}
	if err := m.client.RemoveObject(ctx, m.bucket, name, minio.RemoveObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			return nil
		}
		return fmt.Errorf("remove object: %w", err)
	}
	return nil
}

func (m *MinioStore) Open(ctx context.Context, name string) (io.ReadSeekCloser, time.Time, error) {
	if !validStoredName(name) {
		return nil, time.Time{}, ErrNotFound
	}
	obj, err := m.client.GetObject(ctx, m.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("get object: %w", err)
	}
	// GetObject is lazy; Stat surfaces a missing key.
	info, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		if isNoSuchKey(err) {
			return nil, time.Time{}, ErrNotFound
		}
		return nil, time.Time{}, fmt.Errorf("stat object: %w", err)
	}
	return obj, info.LastModified, nil
}

func isNoSuchKey(err error) bool {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
	}
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

// readErrRecorder remembers the first non-EOF error returned by r.
type readErrRecorder struct {
	r   io.Reader
	err error
}

func (e *readErrRecorder) Read(p []byte) (int, error) {
	n, err := e.r.Read(p)
	if err != nil && err != io.EOF && e.err == nil {
		e.err = err
	}
	return n, err
}
