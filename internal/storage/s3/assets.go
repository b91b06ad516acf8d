package s3

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Config contains the bucket settings. Region and Endpoint are optional and
// fall back to the standard AWS configuration chain.
type Config struct {
	Bucket        string
	Prefix        string
	Region        string
	Endpoint      string
	PublicBaseURL string
	UsePathStyle  bool
}

// putter is the part of the S3 client the asset store needs.
type putter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// AssetStore uploads images as S3 objects. The asset id is the object key.
type AssetStore struct {
	client        putter
	bucket        string
	prefix        string
	publicBaseURL string
}

func NewAssetStore(ctx context.Context, cfg Config) (*AssetStore, error) {
	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	publicBase := cfg.PublicBaseURL
	if publicBase == "" {
		publicBase = fmt.Sprintf("https://%s.s3.amazonaws.com", cfg.Bucket)
	}

	return newAssetStore(client, cfg.Bucket, cfg.Prefix, publicBase), nil
}

func newAssetStore(client putter, bucket, prefix, publicBaseURL string) *AssetStore {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix = prefix + "/"
	}
	return &AssetStore{
		client:        client,
		bucket:        bucket,
		prefix:        prefix,
		publicBaseURL: strings.TrimSuffix(publicBaseURL, "/"),
	}
}

// UploadImage puts data under prefix+filename and returns the key and its
// public URL.
func (s *AssetStore) UploadImage(ctx context.Context, data []byte, contentType, filename string) (string, string, error) {
	key := s.prefix + filename

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
		CacheControl:  aws.String("public, max-age=31536000, immutable"),
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to upload object to S3: %w", err)
	}

	return key, s.publicBaseURL + "/" + key, nil
}
