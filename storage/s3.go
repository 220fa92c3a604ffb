package storage

import (
	"context"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
)

// S3Options configures an S3Store.
type S3Options struct {
	Bucket string
	Region string
	// Endpoint overrides the service endpoint, e.g. for a local MinIO.
	Endpoint  string
	PathStyle bool
	// AccessKey and SecretKey are optional; without them the default
	// credential chain is used.
	AccessKey  string
	SecretKey  string
	Expiration time.Duration
}

// S3Store presigns requests against a single bucket.
type S3Store struct {
	bucket     string
	expiration time.Duration
	presigner  *s3.PresignClient
}

func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, errors.New("bucket name must be specified")
	}
	if opts.Expiration <= 0 {
		return nil, errors.New("URL expiration must be positive")
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(opts.Region)}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "loading AWS config")
	}
	otelaws.AppendMiddlewares(&cfg.APIOptions)

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = opts.PathStyle
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	})

	return &S3Store{
		bucket:     opts.Bucket,
		expiration: opts.Expiration,
		presigner:  s3.NewPresignClient(client),
	}, nil
}

func (s *S3Store) DownloadURL(ctx context.Context, key string) (SignedURL, error) {
	expiresAt := time.Now().Add(s.expiration)
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.expiration))
	if err != nil {
		return SignedURL{}, errors.Wrapf(err, "presigning download of '%s'", key)
	}

	return SignedURL{Key: key, URL: req.URL, Method: http.MethodGet, ExpiresAt: expiresAt}, nil
}

func (s *S3Store) UploadURL(ctx context.Context, key string) (SignedURL, error) {
	expiresAt := time.Now().Add(s.expiration)
	req, err := s.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.expiration))
	if err != nil {
		return SignedURL{}, errors.Wrapf(err, "presigning upload of '%s'", key)
	}

	return SignedURL{Key: key, URL: req.URL, Method: http.MethodPut, ExpiresAt: expiresAt}, nil
}
