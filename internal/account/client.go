// Package account implements pool accounts: one S3-compatible backend
// per account, a per-account health tracker, and a Redis-backed rate
// limiter/health cache shared across processes. Client adapted from
// the teacher's internal/s3/client.go, re-themed from "the gateway's
// single S3 backend" to "one member of a striped account pool".
package account

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// BackendConfig describes how to reach one account's object storage
// backend, mirroring the teacher's config.BackendConfig shape.
type BackendConfig struct {
	ID        uint8
	Provider  string
	Region    string
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
}

// Client is the object-storage surface a pool account exposes. Each
// stripe block is stored as one object, keyed by its block id.
type Client interface {
	PutBlock(ctx context.Context, key string, data []byte) error
	GetBlock(ctx context.Context, key string) ([]byte, error)
	DeleteBlock(ctx context.Context, key string) error
	HeadBlock(ctx context.Context, key string) (bool, error)
}

type s3Client struct {
	client *s3.Client
	bucket string
}

// NewClient constructs an S3-compatible client for one account,
// following the teacher's NewClient: static credentials, optional
// custom endpoint for non-AWS providers via the providers table.
func NewClient(ctx context.Context, cfg BackendConfig) (Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey, cfg.SecretKey, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config for account %d: %w", cfg.ID, err)
	}

	var opts []func(*s3.Options)
	if cfg.Endpoint != "" && cfg.Provider != "aws" {
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = RequiresPathStyleAddressing(cfg.Provider)
		})
	}

	return &s3Client{client: s3.NewFromConfig(awsCfg, opts...), bucket: cfg.Bucket}, nil
}

func (c *s3Client) PutBlock(ctx context.Context, key string, data []byte) error {
	_, err := c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("putting block %s: %w", key, err)
	}
	return nil
}

func (c *s3Client) GetBlock(ctx context.Context, key string) ([]byte, error) {
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("getting block %s: %w", key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading block %s: %w", key, err)
	}
	return data, nil
}

func (c *s3Client) DeleteBlock(ctx context.Context, key string) error {
	_, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("deleting block %s: %w", key, err)
	}
	return nil
}

// HeadBlock reports whether key exists. A 404/403 response from the
// backend means "absent" and is not an error (so a 403 caused by auth
// misconfiguration also reads as absent); any other transport or
// service failure (timeouts, 5xx) is returned to the caller instead of
// being silently treated as a miss.
func (c *s3Client) HeadBlock(ctx context.Context, key string) (bool, error) {
	_, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var respErr *smithyhttp.ResponseError
		if errors.As(err, &respErr) {
			switch respErr.HTTPStatusCode() {
			case http.StatusNotFound, http.StatusForbidden:
				return false, nil
			}
		}
		return false, fmt.Errorf("heading block %s: %w", key, err)
	}
	return true, nil
}
