package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/kohakuhub/server/internal/shared/config"
)

// Storage errors.
var (
	ErrObjectNotFound = errors.New("object not found")
)

const (
	maxRetries   = 5
	baseBackoff  = 200 * time.Millisecond
	maxBackoff   = 5 * time.Second
	deleteChunk  = 1000
	listPageSize = 1000
)

// Client wraps the S3 client for gateway operations. It carries no business
// logic; callers decide key layout via the helpers in keys.go.
type Client struct {
	client         *s3.Client
	presigner      *s3.PresignClient
	bucket         string
	publicEndpoint string
}

// New creates a new storage gateway client.
func New(cfg *config.S3Config) (*Client, error) {
	if cfg.Endpoint == "" || cfg.AccessKey == "" || cfg.SecretKey == "" || cfg.Bucket == "" {
		return nil, errors.New("incomplete S3 configuration")
	}

	creds := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithCredentialsProvider(creds),
		awsconfig.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = cfg.ForcePathStyle
	})

	var presignClient *s3.Client
	if cfg.PublicEndpoint != "" && cfg.PublicEndpoint != cfg.Endpoint {
		// Presigned URLs are handed to external clients; sign against the
		// public endpoint so the signature stays valid.
		presignClient = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.PublicEndpoint)
			o.UsePathStyle = cfg.ForcePathStyle
		})
	} else {
		presignClient = client
	}

	return &Client{
		client:         client,
		presigner:      s3.NewPresignClient(presignClient),
		bucket:         cfg.Bucket,
		publicEndpoint: cfg.PublicEndpoint,
	}, nil
}

// Bucket returns the configured bucket name.
func (c *Client) Bucket() string {
	return c.bucket
}

// S3URI returns the s3:// address for a key, as handed to the version store.
func (c *Client) S3URI(key string) string {
	return "s3://" + c.bucket + "/" + key
}

// PresignedURL represents a presigned URL response.
type PresignedURL struct {
	URL       string
	Method    string
	ExpiresAt time.Time
}

// PresignPut generates a presigned URL for uploading an object.
func (c *Client) PresignPut(ctx context.Context, key string, size int64, expiry time.Duration) (*PresignedURL, error) {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		ContentLength: aws.Int64(size),
	}

	req, err := c.presigner.PresignPutObject(ctx, input, func(opts *s3.PresignOptions) {
		opts.Expires = expiry
	})
	if err != nil {
		return nil, fmt.Errorf("presign put: %w", err)
	}

	return &PresignedURL{
		URL:       req.URL,
		Method:    req.Method,
		ExpiresAt: time.Now().Add(expiry),
	}, nil
}

// PresignGet generates a presigned URL for downloading an object.
func (c *Client) PresignGet(ctx context.Context, key string, expiry time.Duration) (*PresignedURL, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}

	req, err := c.presigner.PresignGetObject(ctx, input, func(opts *s3.PresignOptions) {
		opts.Expires = expiry
	})
	if err != nil {
		return nil, fmt.Errorf("presign get: %w", err)
	}

	return &PresignedURL{
		URL:       req.URL,
		Method:    req.Method,
		ExpiresAt: time.Now().Add(expiry),
	}, nil
}

// ObjectInfo represents object metadata.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified *time.Time
}

// Head checks if an object exists and returns its metadata.
func (c *Client) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	var info *ObjectInfo
	err := withRetry(ctx, func() error {
		result, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			if isNotFound(err) {
				return ErrObjectNotFound
			}
			return fmt.Errorf("head object: %w", err)
		}

		info = &ObjectInfo{Key: key, LastModified: result.LastModified}
		if result.ContentLength != nil {
			info.Size = *result.ContentLength
		}
		if result.ETag != nil {
			info.ETag = strings.Trim(*result.ETag, `"`)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// Exists checks if an object exists.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.Head(ctx, key)
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// GetObject retrieves an object.
func (c *Client) GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	result, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, 0, ErrObjectNotFound
		}
		return nil, 0, fmt.Errorf("get object: %w", err)
	}

	size := int64(0)
	if result.ContentLength != nil {
		size = *result.ContentLength
	}
	return result.Body, size, nil
}

// PutObject uploads an object directly (used for seeded repo files).
func (c *Client) PutObject(ctx context.Context, key string, body io.Reader, size int64) error {
	_, err := c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

// Copy performs a server-side copy within the bucket.
func (c *Client) Copy(ctx context.Context, srcKey, dstKey string) error {
	return withRetry(ctx, func() error {
		_, err := c.client.CopyObject(ctx, &s3.CopyObjectInput{
			Bucket:     aws.String(c.bucket),
			CopySource: aws.String(c.bucket + "/" + srcKey),
			Key:        aws.String(dstKey),
		})
		if err != nil {
			return fmt.Errorf("copy object: %w", err)
		}
		return nil
	})
}

// Delete removes an object. Missing objects count as success.
func (c *Client) Delete(ctx context.Context, key string) error {
	return withRetry(ctx, func() error {
		_, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(key),
		})
		if err != nil && !isNotFound(err) {
			return fmt.Errorf("delete object: %w", err)
		}
		return nil
	})
}

// List returns keys under a prefix.
func (c *Client) List(ctx context.Context, prefix string) ([]*ObjectInfo, error) {
	var objects []*ObjectInfo
	var token *string

	for {
		result, err := c.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(c.bucket),
			Prefix:            aws.String(prefix),
			MaxKeys:           aws.Int32(listPageSize),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}

		for _, obj := range result.Contents {
			info := &ObjectInfo{LastModified: obj.LastModified}
			if obj.Key != nil {
				info.Key = *obj.Key
			}
			if obj.Size != nil {
				info.Size = *obj.Size
			}
			objects = append(objects, info)
		}

		if result.IsTruncated == nil || !*result.IsTruncated {
			break
		}
		token = result.NextContinuationToken
	}

	return objects, nil
}

// DeletePrefix removes every object under a prefix with bounded parallelism.
// Idempotent: missing keys count as deleted.
func (c *Client) DeletePrefix(ctx context.Context, prefix string, maxParallel int) error {
	if maxParallel <= 0 {
		maxParallel = 4
	}

	objects, err := c.List(ctx, prefix)
	if err != nil {
		return err
	}
	if len(objects) == 0 {
		return nil
	}

	var chunks [][]types.ObjectIdentifier
	var current []types.ObjectIdentifier
	for _, obj := range objects {
		current = append(current, types.ObjectIdentifier{Key: aws.String(obj.Key)})
		if len(current) == deleteChunk {
			chunks = append(chunks, current)
			current = nil
		}
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}

	sem := make(chan struct{}, maxParallel)
	var wg sync.WaitGroup
	errCh := make(chan error, len(chunks))

	for _, chunk := range chunks {
		wg.Add(1)
		sem <- struct{}{}
		go func(ids []types.ObjectIdentifier) {
			defer wg.Done()
			defer func() { <-sem }()

			err := withRetry(ctx, func() error {
				_, err := c.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
					Bucket: aws.String(c.bucket),
					Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
				})
				return err
			})
			if err != nil {
				errCh <- fmt.Errorf("delete objects: %w", err)
			}
		}(chunk)
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		return err
	}
	return nil
}

// isNotFound reports whether the S3 error indicates a missing object.
func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}

// withRetry retries transient faults with jittered exponential backoff.
// Not-found results are returned immediately.
func withRetry(ctx context.Context, fn func() error) error {
	var err error
	backoff := baseBackoff

	for attempt := 0; attempt < maxRetries; attempt++ {
		err = fn()
		if err == nil || errors.Is(err, ErrObjectNotFound) {
			return err
		}

		sleep := backoff/2 + time.Duration(rand.Int63n(int64(backoff/2)+1))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return err
}
