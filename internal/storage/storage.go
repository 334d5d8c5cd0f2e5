package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/rewear/apiserver/config"
	"github.com/rewear/apiserver/internal/metrics"
)

// KeyPrefix is the object prefix every uploaded media file is stored under.
const KeyPrefix = "media/"

// CacheControl is set on every stored media object and on media served by the
// API.
const CacheControl = "public, max-age=86400"

// ErrObjectNotFound is returned by ObjectStorage.Get for unknown keys.
var ErrObjectNotFound = errors.New("object not found")

// Object is an open stored object. Callers close it.
type Object struct {
	io.ReadCloser
	ContentType string
	Size        int64
}

// ObjectStorage defines common object operations across backends.
type ObjectStorage interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (Object, error)
	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error
	Bucket() string
}

// Storage is the media host: it stores uploads in an ObjectStorage backend
// and hands out public URLs for them.
type Storage struct {
	backend ObjectStorage
	baseURL string
}

// NewStorage constructs a Storage for the backend. Public URLs are baseURL
// joined with the object key.
func NewStorage(backend ObjectStorage, baseURL string) *Storage {
	return &Storage{
		backend: backend,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Open builds the backend selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StorageConfig) (*Storage, error) {
	var backend ObjectStorage
	switch cfg.Backend {
	case config.StorageBackendMinio:
		client, err := NewMinioClient(cfg.Minio)
		if err != nil {
			return nil, err
		}
		backend = client
	case config.StorageBackendGCS:
		client, err := NewGCSClient(ctx, cfg.GCS)
		if err != nil {
			return nil, err
		}
		backend = client
	case config.StorageBackendMemory:
		backend = NewMemoryBackend("rewear-media")
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}

	if err := backend.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket %s: %w", backend.Bucket(), err)
	}
	return NewStorage(backend, cfg.PublicBaseURL), nil
}

// Upload stores the content under a fresh key that keeps the extension of
// filename, and returns its public URL.
func (s *Storage) Upload(ctx context.Context, filename string, r io.Reader, size int64, contentType string) (string, error) {
	key := KeyPrefix + uuid.NewString() + strings.ToLower(path.Ext(filename))
	err := s.backend.Put(ctx, key, r, size, contentType)
	metrics.MediaOperations.WithLabelValues("upload", metrics.Result(err)).Inc()
	if err != nil {
		return "", err
	}
	return s.URL(key), nil
}

// Delete releases the object behind ref, which may be a public URL or a bare
// object key.
func (s *Storage) Delete(ctx context.Context, ref string) error {
	key, err := s.Key(ref)
	if err != nil {
		return err
	}
	err = s.backend.Delete(ctx, key)
	metrics.MediaOperations.WithLabelValues("delete", metrics.Result(err)).Inc()
	return err
}

// Get opens the object behind ref.
func (s *Storage) Get(ctx context.Context, ref string) (Object, error) {
	key, err := s.Key(ref)
	if err != nil {
		return Object{}, err
	}
	obj, err := s.backend.Get(ctx, key)
	if !errors.Is(err, ErrObjectNotFound) {
		metrics.MediaOperations.WithLabelValues("get", metrics.Result(err)).Inc()
	}
	return obj, err
}

// URL returns the public URL for key.
func (s *Storage) URL(key string) string {
	return s.baseURL + "/" + strings.TrimLeft(key, "/")
}

// Key extracts the object key from a public URL or returns a bare key as is.
func (s *Storage) Key(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", errors.New("empty media reference")
	}
	if s.baseURL != "" && strings.HasPrefix(ref, s.baseURL+"/") {
		return strings.TrimPrefix(ref, s.baseURL+"/"), nil
	}

	u, err := url.Parse(ref)
	if err != nil || u.Scheme == "" {
		return strings.TrimLeft(ref, "/"), nil
	}
	// Foreign URL: fall back to the part from the media prefix on.
	if i := strings.Index(u.Path, "/"+KeyPrefix); i >= 0 {
		return u.Path[i+1:], nil
	}
	return "", fmt.Errorf("media reference %q is not hosted here", ref)
}

// Bucket returns the configured bucket name.
func (s *Storage) Bucket() string {
	return s.backend.Bucket()
}
