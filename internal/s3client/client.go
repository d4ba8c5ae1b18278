package s3client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/adbfs-fuse/adbfs-go/internal/credentials"
)

var (
	// ErrNotInitialized is returned when the SDK client could not be configured.
	ErrNotInitialized = errors.New("S3 client not initialized")
	// ErrNotFound is returned by GetObject and HeadObject for a missing key.
	ErrNotFound = fmt.Errorf("object not found: %w", os.ErrNotExist)
)

// isNotFound recognises the error codes S3 and compatible services use for
// a missing key. HEAD responses carry no body, so they only say NotFound.
func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "NoSuchKey", "NotFound":
		return true
	}
	return false
}

// Client is a bucket-scoped S3 client
type Client struct {
	bucket   string
	region   string
	endpoint string
	s3Client *s3.Client
}

// NewClient creates a new S3 client. With nil creds the SDK's default
// credential chain is used. A non-empty endpoint switches to path-style
// addressing for S3-compatible services.
func NewClient(ctx context.Context, bucket, region, endpoint string, creds *credentials.Credentials) (*Client, error) {
	client := &Client{
		bucket:   bucket,
		region:   region,
		endpoint: endpoint,
	}

	cfgOptions := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}
	if creds != nil && creds.IsValid() {
		cfgOptions = append(cfgOptions, config.WithCredentialsProvider(awscreds.NewStaticCredentialsProvider(
			creds.AccessKeyID,
			creds.SecretAccessKey,
			creds.SessionToken,
		)))
	}

	cfg, err := config.LoadDefaultConfig(ctx, cfgOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Options := []func(*s3.Options){}
	if endpoint != "" {
		s3Options = append(s3Options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	}
	client.s3Client = s3.NewFromConfig(cfg, s3Options...)

	return client, nil
}

// Bucket returns the bucket name
func (c *Client) Bucket() string {
	return c.bucket
}

// ListObjects lists objects with the given prefix, following continuation tokens
func (c *Client) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	if c.s3Client == nil {
		return nil, ErrNotInitialized
	}

	var keys []string
	paginator := s3.NewListObjectsV2Paginator(c.s3Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
	}

	return keys, nil
}

// GetObject retrieves an object
func (c *Client) GetObject(ctx context.Context, key string) ([]byte, error) {
	if c.s3Client == nil {
		return nil, ErrNotInitialized
	}

	result, err := c.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object body: %w", err)
	}

	return data, nil
}

// PutObjectWithMetadata uploads an object with metadata
func (c *Client) PutObjectWithMetadata(ctx context.Context, key string, data []byte, metadata map[string]string) error {
	if c.s3Client == nil {
		return ErrNotInitialized
	}

	// The SDK adds the x-amz-meta- prefix itself
	cleanMetadata := make(map[string]string, len(metadata))
	for k, v := range metadata {
		cleanMetadata[strings.TrimPrefix(k, "x-amz-meta-")] = v
	}

	_, err := c.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:   aws.String(c.bucket),
		Key:      aws.String(key),
		Body:     bytes.NewReader(data),
		Metadata: cleanMetadata,
	})
	if err != nil {
		return fmt.Errorf("failed to put object: %w", err)
	}

	return nil
}

// HeadObject retrieves object metadata
func (c *Client) HeadObject(ctx context.Context, key string) (map[string]string, error) {
	if c.s3Client == nil {
		return nil, ErrNotInitialized
	}

	result, err := c.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to head object: %w", err)
	}

	metadata := make(map[string]string, len(result.Metadata))
	for k, v := range result.Metadata {
		metadata[k] = v
	}

	return metadata, nil
}
