package presign

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectPresigner presigns S3 object operations through the SDK's own
// request builders.
type ObjectPresigner struct {
	client *awss3.PresignClient
	expiry time.Duration
}

// NewObjectPresigner creates an ObjectPresigner. Expiry defaults to 15 minutes.
func NewObjectPresigner(ctx context.Context, cfg Config) (*ObjectPresigner, error) {
	provider, err := credentialsFor(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Expiry <= 0 {
		cfg.Expiry = 15 * time.Minute
	}
	if cfg.Expiry > MaxExpiry {
		return nil, fmt.Errorf("expiry %s exceeds %s", cfg.Expiry, MaxExpiry)
	}

	options := awss3.Options{
		Region:       cfg.Region,
		Credentials:  provider,
		UsePathStyle: cfg.UsePathStyle,
	}
	if cfg.Endpoint != "" {
		options.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return &ObjectPresigner{
		client: awss3.NewPresignClient(awss3.New(options)),
		expiry: cfg.Expiry,
	}, nil
}

// GetObject presigns a download.
func (p *ObjectPresigner) GetObject(ctx context.Context, bucket, key string) (Presigned, error) {
	if bucket == "" || key == "" {
		return Presigned{}, errors.New("bucket and key are required")
	}
	req, err := p.client.PresignGetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, awss3.WithPresignExpires(p.expiry))
	if err != nil {
		return Presigned{}, fmt.Errorf("presign get object: %w", err)
	}
	return Presigned{Method: req.Method, URL: req.URL, Header: headersToSend(req.SignedHeader)}, nil
}

// PutObject presigns an upload of contentLength bytes of contentType.
func (p *ObjectPresigner) PutObject(ctx context.Context, bucket, key, contentType string, contentLength int64) (Presigned, error) {
	if bucket == "" || key == "" {
		return Presigned{}, errors.New("bucket and key are required")
	}
	input := &awss3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if contentLength > 0 {
		input.ContentLength = aws.Int64(contentLength)
	}
	req, err := p.client.PresignPutObject(ctx, input, awss3.WithPresignExpires(p.expiry))
	if err != nil {
		return Presigned{}, fmt.Errorf("presign put object: %w", err)
	}
	return Presigned{Method: req.Method, URL: req.URL, Header: headersToSend(req.SignedHeader)}, nil
}
