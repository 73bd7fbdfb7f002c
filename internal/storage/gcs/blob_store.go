// Package gcs archives rendered pages in Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/JakeFAU/wikigames-crawler/internal/crawler"
)

// DefaultCacheControl marks archived pages as immutable: object names are
// content hashes, so a name never points at different bytes.
const DefaultCacheControl = "public, max-age=31536000, immutable"

//nolint:gochecknoglobals // shared checksum table
var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Config captures the archive bucket and object settings.
type Config struct {
	Bucket string
	// CacheControl is set on every archived object; DefaultCacheControl when empty.
	CacheControl string
}

// BlobStore writes archived pages to a GCS bucket. Objects are created once:
// re-archiving identical html finds the object already present and succeeds.
type BlobStore struct {
	client       *storage.Client
	bucket       string
	cacheControl string
}

var _ crawler.BlobStore = (*BlobStore)(nil)

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	cacheControl := cfg.CacheControl
	if cacheControl == "" {
		cacheControl = DefaultCacheControl
	}
	return &BlobStore{
		client:       client,
		bucket:       cfg.Bucket,
		cacheControl: cacheControl,
	}, nil
}

// PutObject uploads data under name unless the object already exists and
// returns its gs:// URI either way. The upload carries a CRC32C checksum so
// GCS rejects corrupted bodies.
func (s *BlobStore) PutObject(ctx context.Context, name string, contentType string, data []byte) (string, error) {
	name = strings.TrimLeft(strings.TrimSpace(name), "/")
	if name == "" {
		return "", fmt.Errorf("object name is required")
	}
	uri := fmt.Sprintf("gs://%s/%s", s.bucket, name)

	obj := s.client.Bucket(s.bucket).Object(name).If(storage.Conditions{DoesNotExist: true})
	writer := obj.NewWriter(ctx)
	writer.ContentType = contentType
	writer.CacheControl = s.cacheControl
	writer.CRC32C = crc32.Checksum(data, castagnoli)
	writer.SendCRC32C = true

	if _, err := writer.Write(data); err != nil {
		closeErr := writer.Close()
		if alreadyExists(err) || alreadyExists(closeErr) {
			return uri, nil
		}
		if closeErr != nil {
			return "", fmt.Errorf("write %s: %w (close writer: %v)", uri, err, closeErr)
		}
		return "", fmt.Errorf("write %s: %w", uri, err)
	}
	if err := writer.Close(); err != nil {
		if alreadyExists(err) {
			return uri, nil
		}
		return "", fmt.Errorf("close %s: %w", uri, err)
	}
	return uri, nil
}

// alreadyExists reports a failed DoesNotExist precondition.
func alreadyExists(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed
}
