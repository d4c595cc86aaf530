package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// s3Backend stores the identity document as a single object in Amazon S3 or a
// compatible service. Useful for headless deployments that share one identity
// across restarts without local disk.
type s3Backend struct {
	client *s3.S3
	bucket string
	key    string
	log    *slog.Logger
}

// NewS3Store creates an S3-backed identity store. If accessKey and secretKey
// are empty the default AWS credential chain is used.
func NewS3Store(bucket, prefix, region, endpoint, accessKey, secretKey string, log *slog.Logger) (*DocStore, error) {
	cfg := aws.Config{
		Region: aws.String(region),
	}
	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
	}
	if accessKey != "" && secretKey != "" {
		cfg.Credentials = credentials.NewStaticCredentials(accessKey, secretKey, "")
	}

	sess, err := session.NewSession(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	key := path.Join(strings.Trim(prefix, "/"), "identity.json")

	return newDocStore(&s3Backend{
		client: s3.New(sess),
		bucket: bucket,
		key:    key,
		log:    log,
	}), nil
}

func (b *s3Backend) read(ctx context.Context) ([]byte, error) {
	result, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key),
	})
	if err != nil {
		if strings.Contains(err.Error(), "NoSuchKey") || strings.Contains(err.Error(), "404") {
			return nil, ErrNotFound
		}
		b.log.Error("Failed to get identity object from S3",
			slog.String("bucket", b.bucket),
			slog.String("key", b.key),
			"err", err)
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer result.Body.Close()

	doc, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object body: %w", err)
	}

	b.log.Debug("Read identity document from S3",
		slog.String("bucket", b.bucket),
		slog.String("key", b.key),
		slog.Int("size", len(doc)))
	return doc, nil
}

func (b *s3Backend) write(ctx context.Context, doc []byte) error {
	_, err := b.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key),
		Body:   bytes.NewReader(doc),
	})
	if err != nil {
		b.log.Error("Failed to put identity object to S3",
			slog.String("bucket", b.bucket),
			slog.String("key", b.key),
			"err", err)
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	b.log.Debug("Stored identity document in S3",
		slog.String("bucket", b.bucket),
		slog.String("key", b.key))
	return nil
}

func (b *s3Backend) Name() string {
	return fmt.Sprintf("s3-%s/%s", b.bucket, b.key)
}
