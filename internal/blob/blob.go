package blob

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when a reference does not resolve to stored bytes.
var ErrNotFound = errors.New("blob not found")

// ErrExists is returned by Put when bytes are already stored under the key.
// Put never replaces an existing blob.
var ErrExists = errors.New("blob already exists")

// Store persists page bytes under a key and hands back an opaque reference.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader) (string, error)
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
	Delete(ctx context.Context, ref string) error
}

// ReadAll opens ref and returns its contents.
func ReadAll(ctx context.Context, s Store, ref string) ([]byte, error) {
	rc, err := s.Open(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
