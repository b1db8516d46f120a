// Package objectstore is the durable storage used for buffer backups,
// warehouse staging and CSV sources/sinks.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"dataflow/internal/common"
)

var ErrObjectNotFound = errors.New("object not found")

type FileInfo struct {
	Path         string
	Size         int64
	LastModified time.Time
}

type Storage interface {
	Upload(ctx context.Context, path string, reader io.Reader) error
	// Download returns a reader the caller must close.
	Download(ctx context.Context, path string) (io.ReadCloser, error)
	// Delete is a no-op for missing objects.
	Delete(ctx context.Context, path string) error
	Exists(ctx context.Context, path string) (bool, error)
	List(ctx context.Context, prefix string) ([]FileInfo, error)
}

const (
	ProviderLocal = "local"
	ProviderS3    = "s3"
)

// New picks the provider named in the process config.
func New(ctx context.Context, conf common.Config) (Storage, error) {
	switch conf.StorageProvider {
	case ProviderLocal, "":
		return NewLocal(conf.StorageLocalPath)
	case ProviderS3:
		return NewS3(ctx, S3Config{
			Bucket:         conf.S3Bucket,
			Region:         conf.S3Region,
			Endpoint:       conf.S3Endpoint,
			AccessKey:      conf.S3AccessKey,
			SecretKey:      conf.S3SecretKey,
			ForcePathStyle: conf.S3ForcePathStyle,
		})
	default:
		return nil, fmt.Errorf("%w: unknown storage provider %q", common.ErrConfiguration, conf.StorageProvider)
	}
}
