// Package gcs implements storage.BlobStore on Google Cloud Storage through
// the JSON API.
package gcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/poiesic/recall/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	storagev1 "google.golang.org/api/storage/v1"
)

// maxUpdateAttempts bounds optimistic-concurrency retries in Update.
const maxUpdateAttempts = 5

// Store keeps objects in one bucket, optionally below a key prefix.
type Store struct {
	svc    *storagev1.Service
	bucket string
	prefix string
	logger *slog.Logger
}

// New connects to bucket. Keys are stored below prefix when it is not empty.
// Credentials and endpoints are taken from opts, for example
// option.WithCredentialsFile.
func New(ctx context.Context, bucket, prefix string, logger *slog.Logger, opts ...option.ClientOption) (*Store, error) {
	if bucket == "" {
		return nil, fmt.Errorf("gcs: bucket is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	svc, err := storagev1.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs: create service: %w", err)
	}
	return &Store{
		svc:    svc,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		logger: logger.With("component", "gcs-store", "bucket", bucket),
	}, nil
}

func (s *Store) objectName(key string) (string, error) {
	cleaned, err := storage.CleanKey(key)
	if err != nil {
		return "", fmt.Errorf("%w: %q", err, key)
	}
	if s.prefix == "" {
		return cleaned, nil
	}
	return path.Join(s.prefix, cleaned), nil
}

func (s *Store) keyOf(name string) string {
	if s.prefix == "" {
		return name
	}
	return strings.TrimPrefix(name, s.prefix+"/")
}

// Put uploads data under key. Object writes in GCS are atomic.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	name, err := s.objectName(key)
	if err != nil {
		return err
	}
	_, err = s.svc.Objects.Insert(s.bucket, &storagev1.Object{Name: name}).
		Media(bytes.NewReader(data)).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("gcs: put %s: %w", key, err)
	}
	return nil
}

// Get downloads the object stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	name, err := s.objectName(key)
	if err != nil {
		return nil, err
	}
	data, err := s.download(ctx, name, 0)
	if isStatus(err, http.StatusNotFound) {
		return nil, fmt.Errorf("%w: %s", storage.ErrObjectNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("gcs: get %s: %w", key, err)
	}
	return data, nil
}

// Delete removes key. A missing object is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	name, err := s.objectName(key)
	if err != nil {
		return err
	}
	err = s.svc.Objects.Delete(s.bucket, name).Context(ctx).Do()
	if err != nil && !isStatus(err, http.StatusNotFound) {
		return fmt.Errorf("gcs: delete %s: %w", key, err)
	}
	return nil
}

// List returns every key starting with prefix, in lexical order.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	full := prefix
	if s.prefix != "" {
		full = s.prefix + "/" + prefix
	}

	var keys []string
	err := s.svc.Objects.List(s.bucket).Prefix(full).Pages(ctx, func(objs *storagev1.Objects) error {
		for _, obj := range objs.Items {
			keys = append(keys, s.keyOf(obj.Name))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("gcs: list %s: %w", prefix, err)
	}
	return keys, nil
}

// Update performs an optimistic read-modify-write using generation
// preconditions. A lost race is retried with a fresh read.
func (s *Store) Update(ctx context.Context, key string, fn storage.UpdateFunc) error {
	name, err := s.objectName(key)
	if err != nil {
		return err
	}

	for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
		var (
			generation int64
			current    []byte
			exists     bool
		)

		obj, err := s.svc.Objects.Get(s.bucket, name).Context(ctx).Do()
		switch {
		case err == nil:
			generation = obj.Generation
			exists = true
			if current, err = s.download(ctx, name, generation); err != nil {
				if isStatus(err, http.StatusNotFound) {
					continue
				}
				return fmt.Errorf("gcs: update %s: %w", key, err)
			}
		case isStatus(err, http.StatusNotFound):
		default:
			return fmt.Errorf("gcs: update %s: %w", key, err)
		}

		next, err := fn(current, exists)
		if err != nil {
			return err
		}

		_, err = s.svc.Objects.Insert(s.bucket, &storagev1.Object{Name: name}).
			Media(bytes.NewReader(next)).
			IfGenerationMatch(generation).
			Context(ctx).
			Do()
		if err == nil {
			return nil
		}
		if !isStatus(err, http.StatusPreconditionFailed) {
			return fmt.Errorf("gcs: update %s: %w", key, err)
		}
		s.logger.Debug("update lost race, retrying", "key", key, "attempt", attempt)
	}
	return fmt.Errorf("gcs: update %s: %w", key, storage.ErrConflict)
}

func (s *Store) download(ctx context.Context, name string, generation int64) ([]byte, error) {
	call := s.svc.Objects.Get(s.bucket, name).Context(ctx)
	if generation != 0 {
		call = call.Generation(generation)
	}
	resp, err := call.Download()
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func isStatus(err error, code int) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == code
}

var _ storage.BlobStore = (*Store)(nil)
