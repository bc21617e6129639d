package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// URIScheme marks key material that lives in object storage.
const URIScheme = "s3://"

// ObjectStore is the minimal object storage surface the broker needs to read
// key material and publish diagnostics.
type ObjectStore interface {
	// GetObject returns the object body. The caller closes it.
	GetObject(ctx context.Context, key string) (io.ReadCloser, error)

	// PutObject creates or replaces an object.
	PutObject(ctx context.Context, key string, data []byte) error

	// Ping checks if the storage backend is available
	Ping(ctx context.Context) error
}

// ErrNotFound is returned when an object does not exist
type ErrNotFound struct {
	Key string
}

func (e *ErrNotFound) Error() string {
	return "object not found: " + e.Key
}

// IsObjectURI reports whether location points into object storage.
func IsObjectURI(location string) bool {
	return strings.HasPrefix(strings.TrimSpace(location), URIScheme)
}

// ParseObjectURI splits "s3://bucket/path/to/key" into bucket and key.
func ParseObjectURI(location string) (bucket, key string, err error) {
	location = strings.TrimSpace(location)
	if !strings.HasPrefix(location, URIScheme) {
		return "", "", fmt.Errorf("not an object URI: %q", location)
	}
	rest := strings.TrimPrefix(location, URIScheme)
	bucket, key, found := strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return "", "", fmt.Errorf("object URI must be %sbucket/key: %q", URIScheme, location)
	}
	return bucket, key, nil
}
