package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"rvcworker/internal/config"
	"rvcworker/internal/logging"
	"rvcworker/internal/services"
)

// objectAPI is the subset of *s3.Client the store uses.
type objectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Store reads job inputs from and writes results to an S3-compatible bucket.
type S3Store struct {
	client        objectAPI
	bucket        string
	region        string
	endpoint      string
	usePathStyle  bool
	publicBaseURL string
	timeout       time.Duration
	logger        *slog.Logger
}

// NewS3Store builds a store from the storage configuration section. Static
// credentials are used when configured; otherwise the SDK default chain applies.
func NewS3Store(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*S3Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Storage.Region),
	}
	if cfg.Storage.AccessKeyID != "" && cfg.Storage.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.Storage.AccessKeyID, cfg.Storage.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "storage", "load aws config", "", err)
	}

	endpoint := strings.TrimRight(cfg.Storage.Endpoint, "/")
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = cfg.Storage.UsePathStyle
	})
	return newS3Store(client, cfg, logger), nil
}

func newS3Store(client objectAPI, cfg *config.Config, logger *slog.Logger) *S3Store {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &S3Store{
		client:        client,
		bucket:        cfg.Storage.Bucket,
		region:        cfg.Storage.Region,
		endpoint:      strings.TrimRight(cfg.Storage.Endpoint, "/"),
		usePathStyle:  cfg.Storage.UsePathStyle,
		publicBaseURL: cfg.Storage.PublicBaseURL,
		timeout:       time.Duration(cfg.Storage.RequestTimeout) * time.Second,
		logger:        logging.NewComponentLogger(logger, "storage"),
	}
}

// Fetch downloads rawURL into dest. When dest is an existing directory, the
// object's file name is appended. The file appears at its final path only once
// the download has completed.
func (s *S3Store) Fetch(ctx context.Context, rawURL, dest string) (string, error) {
	stage, _ := services.StageFromContext(ctx)
	loc, err := ParseURL(rawURL, s.bucket)
	if err != nil {
		return "", services.Wrap(services.ErrDownload, stage, "resolve object", rawURL, err)
	}
	if info, statErr := os.Stat(dest); statErr == nil && info.IsDir() {
		dest = filepath.Join(dest, path.Base(loc.Key))
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", services.Wrap(services.ErrDownload, stage, "create destination", filepath.Dir(dest), err)
	}

	reqCtx, cancel := s.requestContext(ctx)
	defer cancel()
	out, err := s.client.GetObject(reqCtx, &s3.GetObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(loc.Key),
	})
	if err != nil {
		return "", services.Wrap(services.ErrDownload, stage, "get object", loc.Bucket+"/"+loc.Key, err)
	}
	defer out.Body.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*.part")
	if err != nil {
		return "", services.Wrap(services.ErrDownload, stage, "create temp file", dest, err)
	}
	tmpName := tmp.Name()
	written, copyErr := io.Copy(tmp, out.Body)
	closeErr := tmp.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(tmpName)
		return "", services.Wrap(services.ErrDownload, stage, "write object", dest, err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		_ = os.Remove(tmpName)
		return "", services.Wrap(services.ErrDownload, stage, "finalize object", dest, err)
	}

	logging.WithContext(ctx, s.logger).Info("object downloaded",
		logging.String(logging.FieldEventType, "object_downloaded"),
		logging.String("bucket", loc.Bucket),
		logging.String("key", loc.Key),
		logging.String("path", dest),
		logging.Int64("bytes", written),
	)
	return dest, nil
}

// Store uploads localPath to key in the configured bucket and returns its URL.
func (s *S3Store) Store(ctx context.Context, localPath, key string) (string, error) {
	stage, _ := services.StageFromContext(ctx)
	key = strings.TrimPrefix(key, "/")
	if s.bucket == "" {
		return "", services.Wrap(services.ErrUpload, stage, "put object", "storage bucket is not configured", nil)
	}
	file, err := os.Open(localPath)
	if err != nil {
		return "", services.Wrap(services.ErrUpload, stage, "open result", localPath, err)
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return "", services.Wrap(services.ErrUpload, stage, "stat result", localPath, err)
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          file,
		ContentLength: aws.Int64(info.Size()),
	}
	if ct := contentType(localPath); ct != "" {
		input.ContentType = aws.String(ct)
	}

	reqCtx, cancel := s.requestContext(ctx)
	defer cancel()
	if _, err := s.client.PutObject(reqCtx, input); err != nil {
		return "", services.Wrap(services.ErrUpload, stage, "put object", s.bucket+"/"+key, err)
	}

	remote := s.ObjectURL(key)
	logging.WithContext(ctx, s.logger).Info("object uploaded",
		logging.String(logging.FieldEventType, "object_uploaded"),
		logging.String("bucket", s.bucket),
		logging.String("key", key),
		logging.Int64("bytes", info.Size()),
	)
	return remote, nil
}

// Check verifies the bucket is reachable with the configured credentials.
func (s *S3Store) Check(ctx context.Context) error {
	reqCtx, cancel := s.requestContext(ctx)
	defer cancel()
	if _, err := s.client.HeadBucket(reqCtx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return fmt.Errorf("head bucket %s: %w", s.bucket, err)
	}
	return nil
}

// ObjectURL returns the public URL reported to callers for key.
func (s *S3Store) ObjectURL(key string) string {
	switch {
	case s.publicBaseURL != "":
		return s.publicBaseURL + "/" + key
	case s.endpoint != "" && s.usePathStyle:
		return s.endpoint + "/" + s.bucket + "/" + key
	case s.endpoint != "":
		if scheme, host, ok := strings.Cut(s.endpoint, "://"); ok {
			return scheme + "://" + s.bucket + "." + host + "/" + key
		}
		return s.endpoint + "/" + s.bucket + "/" + key
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
	}
}

var audioTypes = map[string]string{
	".wav":  "audio/wav",
	".mp3":  "audio/mpeg",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
}

func contentType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ct, ok := audioTypes[ext]; ok {
		return ct
	}
	return mime.TypeByExtension(ext)
}

func (s *S3Store) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}
