package clusterstate

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"ndbctl/internal/config"
	"ndbctl/internal/logging"
)

// Static credentials for the mirror. When unset the default AWS chain is used.
const (
	EnvAccessKey = "NDBCTL_ARTIFACT_ACCESS_KEY"
	EnvSecretKey = "NDBCTL_ARTIFACT_SECRET_KEY"
)

// ObjectPutter is the subset of the S3 client used by the mirror.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Mirror copies artifacts to an S3 bucket.
type Mirror struct {
	bucket string
	client ObjectPutter
}

// NewMirror returns a mirror writing to bucket through client.
func NewMirror(bucket string, client ObjectPutter) *Mirror {
	return &Mirror{bucket: bucket, client: client}
}

// MirrorFromConfig builds a mirror from the deployment settings. It returns
// nil when no bucket is configured. An endpoint selects an S3-compatible
// store addressed in path style.
func MirrorFromConfig(ctx context.Context, d config.DeploymentConfig) (*Mirror, error) {
	if d.ArtifactBucket == "" {
		return nil, nil
	}

	var opts []func(*awsconfig.LoadOptions) error
	if d.ArtifactRegion != "" {
		opts = append(opts, awsconfig.WithRegion(d.ArtifactRegion))
	}
	if ak, sk := os.Getenv(EnvAccessKey), os.Getenv(EnvSecretKey); ak != "" && sk != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(ak, sk, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if d.ArtifactEndpoint != "" {
			o.BaseEndpoint = aws.String(d.ArtifactEndpoint)
			o.UsePathStyle = true
		}
	})
	return NewMirror(d.ArtifactBucket, client), nil
}

// Upload puts the file at path under its base name and returns the key.
func (m *Mirror) Upload(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	key := filepath.Base(path)
	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(m.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/yaml"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s to s3://%s: %w", key, m.bucket, err)
	}

	logging.L().Infow("mirrored resolved cluster", "bucket", m.bucket, "key", key)
	return key, nil
}
