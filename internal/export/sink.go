package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/ppiankov/bsmeter/internal/model"
)

// Sink is where an export document is stored
type Sink interface {
	Put(ctx context.Context, data []byte) error
	Get(ctx context.Context) ([]byte, error)
	String() string
}

// FileSink stores the document on disk
type FileSink struct {
	Path string
}

// Put writes the file atomically
func (s FileSink) Put(_ context.Context, data []byte) error {
	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create export directory: %w", err)
	}
	f, err := os.CreateTemp(dir, ".export-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, s.Path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// Get reads the file
func (s FileSink) Get(context.Context) ([]byte, error) {
	return os.ReadFile(s.Path)
}

func (s FileSink) String() string { return s.Path }

// S3Sink stores the document as an object in an S3-compatible bucket
type S3Sink struct {
	client *minio.Client
	bucket string
	key    string
}

// NewS3Sink builds a sink for bucket/key using the export credentials
func NewS3Sink(cfg model.ExportConfig, bucket, key string) (*S3Sink, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("export.endpoint is required for S3 export")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("export access key and secret key are required")
	}
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("S3 target needs both bucket and key")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}
	return &S3Sink{client: client, bucket: bucket, key: key}, nil
}

// Put uploads the document
func (s *S3Sink) Put(ctx context.Context, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("upload s3://%s/%s: %w", s.bucket, s.key, err)
	}
	return nil
}

// Get downloads the document
func (s *S3Sink) Get(ctx context.Context) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = obj.Close() }()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("download s3://%s/%s: %w", s.bucket, s.key, err)
	}
	return data, nil
}

func (s *S3Sink) String() string { return "s3://" + s.bucket + "/" + s.key }

// ParseS3Target splits "bucket/path/to/key.json" (optionally prefixed with s3://)
func ParseS3Target(target string) (bucket, key string, err error) {
	target = strings.TrimPrefix(strings.TrimSpace(target), "s3://")
	bucket, key, ok := strings.Cut(target, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("invalid S3 target %q, expected bucket/key", target)
	}
	return bucket, key, nil
}

// Save encodes doc and writes it to sink
func Save(ctx context.Context, doc *Document, sink Sink) error {
	var buf bytes.Buffer
	if err := Encode(&buf, doc); err != nil {
		return err
	}
	return sink.Put(ctx, buf.Bytes())
}

// Load reads a document from a sink
func Load(ctx context.Context, sink Sink) (*Document, error) {
	data, err := sink.Get(ctx)
	if err != nil {
		return nil, err
	}
	return Decode(bytes.NewReader(data))
}
