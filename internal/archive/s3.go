// Package archive optionally uploads a table file's components to S3
// before the tidier unlinks them, giving an operator a cold-storage copy
// of every table a compaction or flush ever made obsolete. Archival is
// opt-in (config.ArchiveBucket empty disables it) and never blocks
// deletion on a failed upload.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3API is the subset of the S3 client archive.Archiver depends on, so
// tests can substitute an in-memory fake instead of a real AWS endpoint.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

var _ S3API = (*s3.Client)(nil)

// Archiver uploads table file components to S3 under a fixed key layout:
// <prefix>/<base>/<suffix-without-dot>.
type Archiver struct {
	client S3API
	bucket string
	prefix string
}

// New constructs an Archiver using the default AWS credential chain.
func New(ctx context.Context, bucket, prefix string) (*Archiver, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return &Archiver{client: s3.NewFromConfig(awsCfg), bucket: bucket, prefix: prefix}, nil
}

// NewWithClient constructs an Archiver around a caller-supplied client,
// for tests and for wiring a non-default region/endpoint.
func NewWithClient(client S3API, bucket, prefix string) *Archiver {
	return &Archiver{client: client, bucket: bucket, prefix: prefix}
}

// ArchiveComponent uploads one component file's current content to S3.
// The caller is expected to do this before the tidier removes the file;
// a failure here is logged by the caller and never blocks deletion, so a
// missing archive upload degrades to "no cold-storage copy", not "table
// file retained forever."
func (a *Archiver) ArchiveComponent(ctx context.Context, absPath, baseName, suffix string) error {
	data, err := os.ReadFile(absPath)
	if err != nil {
		return fmt.Errorf("read %s for archival: %w", absPath, err)
	}

	key := a.key(baseName, suffix)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:   aws.String(a.bucket),
		Key:      aws.String(key),
		Body:     bytes.NewReader(data),
		Metadata: map[string]string{"archived-at": time.Now().UTC().Format(time.RFC3339)},
	})
	if err != nil {
		return fmt.Errorf("put object %s/%s: %w", a.bucket, key, err)
	}
	return nil
}

func (a *Archiver) key(baseName, suffix string) string {
	return path.Join(a.prefix, baseName, suffix[1:]) // drop the leading dot
}
