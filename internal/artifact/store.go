// Package artifact publishes converter output to an S3-compatible bucket
// with public read access.
package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/kuini-1/table-editor-1.0-sub001/internal/config"
)

// MetaChecksum is the user metadata key carrying the artifact's BLAKE3 digest.
const MetaChecksum = "Checksum-Blake3"

var (
	// ErrTooLarge means the file exceeds the bucket's per-object ceiling.
	ErrTooLarge = errors.New("artifact exceeds maximum object size")
	// ErrBucket wraps failures to provision the bucket or its policy.
	ErrBucket = errors.New("bucket unavailable")
)

// objectAPI is the subset of *minio.Client the store uses.
type objectAPI interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	SetBucketPolicy(ctx context.Context, bucketName, policy string) error
	FPutObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

// Object is a local file to publish under Key.
type Object struct {
	Key       string
	LocalPath string
	Checksum  string
}

// Store is a bucket-backed artifact store.
type Store struct {
	api    objectAPI
	cfg    config.StorageConfig
	base   string
	logger *slog.Logger
}

// New connects to the configured endpoint. It does not touch the bucket;
// call EnsureBucket for that.
func New(cfg config.StorageConfig, logger *slog.Logger) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return newStore(client, cfg, logger), nil
}

func newStore(api objectAPI, cfg config.StorageConfig, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	base := strings.TrimRight(cfg.PublicBaseURL, "/")
	if base == "" {
		scheme := "http"
		if cfg.Secure {
			scheme = "https"
		}
		base = scheme + "://" + cfg.Endpoint
	}
	return &Store{api: api, cfg: cfg, base: base, logger: logger}
}

func (s *Store) Bucket() string { return s.cfg.Bucket }

// EnsureBucket creates the bucket when missing and (re)applies the public-read
// policy. A bucket that already exists is not an error.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.api.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("%w: check %s: %w", ErrBucket, s.cfg.Bucket, err)
	}
	if !exists {
		err := s.api.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{Region: s.cfg.Region})
		if err != nil && !alreadyExists(err) {
			return fmt.Errorf("%w: create %s: %w", ErrBucket, s.cfg.Bucket, err)
		}
		if err == nil {
			s.logger.Info("created artifact bucket", "bucket", s.cfg.Bucket)
		}
	}

	policy, err := publicReadPolicy(s.cfg.Bucket)
	if err != nil {
		return err
	}
	if err := s.api.SetBucketPolicy(ctx, s.cfg.Bucket, policy); err != nil {
		return fmt.Errorf("%w: set policy on %s: %w", ErrBucket, s.cfg.Bucket, err)
	}
	return nil
}

// Upload stores obj, overwriting any object already at its key, and returns
// the public URL.
func (s *Store) Upload(ctx context.Context, obj Object) (string, error) {
	info, err := os.Stat(obj.LocalPath)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", obj.LocalPath, err)
	}
	if s.cfg.MaxObjectBytes > 0 && info.Size() > s.cfg.MaxObjectBytes {
		return "", fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, info.Size(), s.cfg.MaxObjectBytes)
	}

	opts := minio.PutObjectOptions{ContentType: s.cfg.ContentType}
	if obj.Checksum != "" {
		opts.UserMetadata = map[string]string{MetaChecksum: obj.Checksum}
	}

	uploaded, err := s.api.FPutObject(ctx, s.cfg.Bucket, obj.Key, obj.LocalPath, opts)
	if err != nil {
		return "", fmt.Errorf("put %s/%s: %w", s.cfg.Bucket, obj.Key, err)
	}

	s.logger.Debug("artifact uploaded", "bucket", s.cfg.Bucket, "key", obj.Key, "size", uploaded.Size, "etag", uploaded.ETag)
	return s.PublicURL(obj.Key), nil
}

// PublicURL is the unauthenticated download URL for key.
func (s *Store) PublicURL(key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return s.base + "/" + url.PathEscape(s.cfg.Bucket) + "/" + strings.Join(segments, "/")
}

// PurgePrefix removes every object whose key starts with prefix and returns
// how many were removed.
func (s *Store) PurgePrefix(ctx context.Context, prefix string) (int, error) {
	if strings.TrimSpace(prefix) == "" || prefix == "/" {
		return 0, fmt.Errorf("refusing to purge empty prefix")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	removed := 0
	for obj := range s.api.ListObjects(ctx, s.cfg.Bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return removed, fmt.Errorf("list %s/%s: %w", s.cfg.Bucket, prefix, obj.Err)
		}
		if err := s.api.RemoveObject(ctx, s.cfg.Bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return removed, fmt.Errorf("remove %s/%s: %w", s.cfg.Bucket, obj.Key, err)
		}
		removed++
	}
	return removed, nil
}

// Ping checks that the bucket is reachable.
func (s *Store) Ping(ctx context.Context) error {
	exists, err := s.api.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", s.cfg.Bucket)
	}
	return nil
}

func alreadyExists(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "BucketAlreadyOwnedByYou", "BucketAlreadyExists":
		return true
	}
	return false
}

type policyStatement struct {
	Effect    string              `json:"Effect"`
	Principal map[string][]string `json:"Principal"`
	Action    []string            `json:"Action"`
	Resource  []string            `json:"Resource"`
}

type bucketPolicy struct {
	Version   string            `json:"Version"`
	Statement []policyStatement `json:"Statement"`
}

func publicReadPolicy(bucket string) (string, error) {
	p := bucketPolicy{
		Version: "2012-10-17",
		Statement: []policyStatement{{
			Effect:    "Allow",
			Principal: map[string][]string{"AWS": {"*"}},
			Action:    []string{"s3:GetObject"},
			Resource:  []string{"arn:aws:s3:::" + bucket + "/*"},
		}},
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode bucket policy: %w", err)
	}
	return string(b), nil
}
