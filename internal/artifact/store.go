package artifact

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/gridsight/utility-bill-worker/internal/config"
)

// Store uploads the artifacts of one run and returns the object keys written.
type Store interface {
	Upload(ctx context.Context, runID string, set *Set) ([]string, error)
}

// S3Store persists artifacts to an S3-compatible bucket under the run-id
// prefix. Keys are deterministic per run, so re-uploads overwrite in place.
type S3Store struct {
	client *s3.Client
	bucket string
	logger *zap.Logger
}

// NewS3Store creates an artifact store for the configured bucket.
func NewS3Store(ctx context.Context, cfg config.ArtifactConfig, logger *zap.Logger) (*S3Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if cfg.Endpoint != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.Endpoint)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// Path-style addressing for MinIO and other S3-compatible endpoints
		if cfg.Endpoint != "" {
			o.UsePathStyle = true
		}
	})

	return &S3Store{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

// Upload implements Store.
func (s *S3Store) Upload(ctx context.Context, runID string, set *Set) ([]string, error) {
	keys := make([]string, 0, set.Len())
	for _, a := range set.Items() {
		key := Key(runID, a)
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(a.Data),
		})
		if err != nil {
			return keys, fmt.Errorf("failed to upload artifact %s: %w", key, err)
		}
		keys = append(keys, key)
	}

	if len(keys) > 0 {
		s.logger.Info("uploaded run artifacts",
			zap.String("run_id", runID),
			zap.String("bucket", s.bucket),
			zap.Int("count", len(keys)),
		)
	}
	return keys, nil
}

// NopStore discards artifacts. Used when no bucket is configured.
type NopStore struct {
	logger *zap.Logger
}

// NewNopStore creates a store that drops all artifacts.
func NewNopStore(logger *zap.Logger) *NopStore {
	return &NopStore{logger: logger}
}

// Upload implements Store.
func (n *NopStore) Upload(ctx context.Context, runID string, set *Set) ([]string, error) {
	if set.Len() > 0 {
		n.logger.Warn("artifact bucket not configured, dropping artifacts",
			zap.String("run_id", runID),
			zap.Int("count", set.Len()),
		)
	}
	return nil, nil
}
