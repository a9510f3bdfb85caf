package tradelog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Uploader stores one archived file under key.
type Uploader interface {
	Upload(ctx context.Context, key string, body *os.File) error
}

type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string // empty for AWS; set for MinIO, R2 and friends
	AccessKey string
	SecretKey string
}

type S3Uploader struct {
	client *s3.Client
	bucket string
}

func NewS3Uploader(ctx context.Context, cfg S3Config) (*S3Uploader, error) {
	if cfg.Bucket == "" || cfg.Region == "" {
		return nil, errors.New("tradelog: archive bucket and region are required")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("tradelog: load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}
	return &S3Uploader{client: s3.NewFromConfig(awsCfg, s3Opts...), bucket: cfg.Bucket}, nil
}

func (u *S3Uploader) Upload(ctx context.Context, key string, body *os.File) error {
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType(key)),
	})
	if err != nil {
		return fmt.Errorf("tradelog: put %s: %w", key, err)
	}
	return nil
}

func contentType(key string) string {
	switch {
	case strings.HasSuffix(key, ".gz"):
		return "application/gzip"
	case strings.HasSuffix(key, ".csv"):
		return "text/csv"
	}
	return "application/octet-stream"
}

// Archiver compresses old log files and ships them off the box.
type Archiver struct {
	root          string
	prefix        string
	retentionDays int
	up            Uploader
}

func NewArchiver(root, prefix string, retentionDays int, up Uploader) *Archiver {
	return &Archiver{root: root, prefix: prefix, retentionDays: retentionDays, up: up}
}

// Run gzips files past retention, uploads every .gz under root and removes
// the local copy of each one uploaded. It returns the uploaded keys.
func (a *Archiver) Run(ctx context.Context, now time.Time) ([]string, error) {
	if _, err := CompressOlder(a.root, a.retentionDays, now); err != nil {
		return nil, err
	}

	var gz []string
	err := filepath.WalkDir(a.root, func(p string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() && strings.HasSuffix(p, ".gz") {
			gz = append(gz, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var (
		keys []string
		errs []error
	)
	for _, p := range gz {
		key, err := a.key(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := a.upload(ctx, key, p); err != nil {
			errs = append(errs, err)
			continue
		}
		_ = os.Remove(p)
		keys = append(keys, key)
	}
	return keys, errors.Join(errs...)
}

// UploadFile ships one file without removing it, used for the daily
// summary.
func (a *Archiver) UploadFile(ctx context.Context, p string) (string, error) {
	key, err := a.key(p)
	if err != nil {
		return "", err
	}
	return key, a.upload(ctx, key, p)
}

func (a *Archiver) key(p string) (string, error) {
	rel, err := filepath.Rel(a.root, p)
	if err != nil {
		return "", err
	}
	return path.Join(a.prefix, filepath.ToSlash(rel)), nil
}

func (a *Archiver) upload(ctx context.Context, key, p string) error {
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	defer f.Close()
	return a.up.Upload(ctx, key, f)
}
