package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// GCSStore keeps blobs in a Cloud Storage bucket. References have the form
// gs://bucket/object.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

func NewGCSStore(client *storage.Client, bucket, prefix string) *GCSStore {
	return &GCSStore{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (s *GCSStore) objectName(key string) string {
	if s.prefix == "" {
		return key
	}
	return path.Join(s.prefix, key)
}

// Put writes only if the object does not exist yet.
func (s *GCSStore) Put(ctx context.Context, key string, r io.Reader) (string, error) {
	name := s.objectName(key)
	writer := s.client.Bucket(s.bucket).Object(name).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)

	if _, err := io.Copy(writer, r); err != nil {
		_ = writer.Close()
		return "", fmt.Errorf("write gcs object %s: %w", name, err)
	}
	if err := writer.Close(); err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
			return "", ErrExists
		}
		return "", fmt.Errorf("finalize gcs object %s: %w", name, err)
	}
	return s.ref(name), nil
}

func (s *GCSStore) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	bucket, name, err := parseRef(ref)
	if err != nil {
		return nil, err
	}
	rc, err := s.client.Bucket(bucket).Object(name).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open gcs object: %w", err)
	}
	return rc, nil
}

func (s *GCSStore) Delete(ctx context.Context, ref string) error {
	bucket, name, err := parseRef(ref)
	if err != nil {
		return err
	}
	if err := s.client.Bucket(bucket).Object(name).Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("delete gcs object: %w", err)
	}
	return nil
}

func (s *GCSStore) ref(name string) string {
	return "gs://" + s.bucket + "/" + name
}

func parseRef(ref string) (bucket, name string, err error) {
	rest, ok := strings.CutPrefix(ref, "gs://")
	if !ok {
		return "", "", fmt.Errorf("invalid gcs reference %q", ref)
	}
	bucket, name, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || name == "" {
		return "", "", fmt.Errorf("invalid gcs reference %q", ref)
	}
	return bucket, name, nil
}
