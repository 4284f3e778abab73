package storage

import (
	"errors"
	"io"
)

var ErrBadKey = errors.New("storage: invalid key")

// BlobStore holds exported grade book artifacts such as CSV transcripts.
type BlobStore interface {
	Put(key string, r io.Reader) (string, error) // returns canonical key
	Get(key string) (io.ReadCloser, error)
	SignedURL(key string) (string, error) // fs returns "file://..." for dev
}
