package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"

	"github.com/local/markersplit/internal/config"
)

// ErrNotFound is returned for keys that do not exist.
var ErrNotFound = errors.New("object not found")

// Options configures the S3 client.
type Options struct {
	Bucket          string
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	MaxRetries      uint
	RetryDelay      time.Duration
}

// OptionsFrom maps loaded configuration onto client options.
func OptionsFrom(cfg config.StorageConfig) Options {
	return Options{
		Bucket:          cfg.Bucket,
		Endpoint:        cfg.Endpoint,
		Region:          cfg.Region,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		MaxRetries:      cfg.MaxRetries,
	}
}

// S3Client wraps AWS S3 with transparent encryption of stored objects.
type S3Client struct {
	client     *s3.Client
	uploader   *manager.Uploader
	downloader *manager.Downloader
	bucketName string
	attempts   uint
	delay      time.Duration
}

// NewS3Client creates a new S3 client. Static credentials are used when
// given, otherwise the default AWS chain. A custom endpoint switches to
// path-style addressing for S3-compatible stores.
func NewS3Client(ctx context.Context, opts Options) (*S3Client, error) {
	if opts.Bucket == "" {
		return nil, errors.New("s3 bucket not configured")
	}
	loadOpts := []func(*awscfg.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awscfg.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")))
	}
	cfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	cli := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 500 * time.Millisecond
	}
	return &S3Client{
		client:     cli,
		uploader:   manager.NewUploader(cli),
		downloader: manager.NewDownloader(cli),
		bucketName: opts.Bucket,
		attempts:   opts.MaxRetries,
		delay:      opts.RetryDelay,
	}, nil
}

// Bucket returns the configured bucket name.
func (s *S3Client) Bucket() string { return s.bucketName }

// Get downloads an object and decrypts it when it carries the encryption
// header. Encrypted objects require the password they were stored with.
func (s *S3Client) Get(ctx context.Context, key, password string) ([]byte, error) {
	var data []byte
	err := s.retry(ctx, "get", key, func() error {
		buf := manager.NewWriteAtBuffer(nil)
		_, err := s.downloader.Download(ctx, buf, &s3.GetObjectInput{
			Bucket: aws.String(s.bucketName),
			Key:    aws.String(key),
		})
		if err != nil {
			return mapErr(err)
		}
		data = buf.Bytes()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", key, err)
	}
	if !IsEncrypted(data) {
		log.Debug().Str("key", key).Int("size", len(data)).Msg("downloaded object from S3")
		return data, nil
	}
	plain, err := Open(data, password)
	if err != nil {
		return nil, fmt.Errorf("decrypt %s: %w", key, err)
	}
	log.Debug().Str("key", key).Int("size", len(plain)).Str("encryption_format", string(magic)).Msg("downloaded and decrypted object from S3")
	return plain, nil
}

// Put uploads data, encrypting it first when password is non-empty.
func (s *S3Client) Put(ctx context.Context, key string, data []byte, password, contentType string) error {
	body := data
	meta := map[string]string{}
	if password != "" {
		sealed, err := Seal(data, password)
		if err != nil {
			return fmt.Errorf("encrypt %s: %w", key, err)
		}
		body = sealed
		meta["encrypted"] = "true"
		meta["encryption-format"] = string(magic)
	}
	err := s.retry(ctx, "put", key, func() error {
		_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.bucketName),
			Key:         aws.String(key),
			Body:        bytes.NewReader(body),
			ContentType: aws.String(contentType),
			Metadata:    meta,
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	log.Info().Str("key", key).Int("size", len(data)).Bool("encrypted", password != "").Msg("uploaded object to S3")
	return nil
}

// Ping checks that the bucket is reachable.
func (s *S3Client) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucketName)})
	return err
}

func (s *S3Client) retry(ctx context.Context, op, key string, fn func() error) error {
	return retry.Do(fn,
		retry.Context(ctx),
		retry.Attempts(s.attempts),
		retry.Delay(s.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(Retryable),
		retry.OnRetry(func(n uint, err error) {
			log.Warn().Err(err).Str("op", op).Str("key", key).Uint("attempt", n+1).Msg("S3 call failed; retrying")
		}),
	)
}

// Retryable reports whether err may succeed on a later attempt.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, ErrNotFound) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var nsb *s3types.NoSuchBucket
	return !errors.As(err, &nsb)
}

func mapErr(err error) error {
	var nsk *s3types.NoSuchKey
	var nf *s3types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}
