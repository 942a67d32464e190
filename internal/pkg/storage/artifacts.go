package storage

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gofiber/fiber/v2/log"
)

// Artifact describes a stored generation output.
type Artifact struct {
	Key         string `json:"key"`
	URL         string `json:"url"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

// ToMap returns the artifact as a job result map.
func (a *Artifact) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"key":         a.Key,
		"url":         a.URL,
		"contentType": a.ContentType,
		"size":        a.Size,
	}
}

// ArtifactStore persists binary generation outputs.
type ArtifactStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) (*Artifact, error)
}

// S3Store stores artifacts in an S3 compatible bucket.
type S3Store struct {
	client *s3.Client
	cfg    *Config
}

// NewS3Store creates the client and checks the bucket. Outside prod a missing
// bucket is created.
func NewS3Store(ctx context.Context, cfg *Config) (*S3Store, error) {
	if !cfg.IsEnabled() {
		return nil, ErrNotConfigured
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsConfig, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			o.UsePathStyle = true
			o.UseAccelerate = false
		}
	})

	store := &S3Store{client: client, cfg: cfg}
	if err := store.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to S3: %w", err)
	}

	log.Infof("[Storage] Artifact bucket ready: %s", cfg.BucketName)
	return store, nil
}

func (s *S3Store) ensureBucket(ctx context.Context) error {
	err := s.Ping(ctx)
	if err == nil {
		return nil
	}
	if s.cfg.AppEnv == "prod" {
		return fmt.Errorf("bucket %s not accessible: %w", s.cfg.BucketName, err)
	}

	log.Warnf("[Storage] Bucket %s not found, attempting to create it", s.cfg.BucketName)
	input := &s3.CreateBucketInput{Bucket: aws.String(s.cfg.BucketName)}
	if s.cfg.EndpointURL == "" && s.cfg.Region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(s.cfg.Region),
		}
	}
	if _, err := s.client.CreateBucket(ctx, input); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.cfg.BucketName, err)
	}
	return nil
}

// Ping checks that the bucket is reachable.
func (s *S3Store) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.cfg.BucketName),
	})
	return err
}

func (s *S3Store) Put(ctx context.Context, key, contentType string, data []byte) (*Artifact, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.cfg.BucketName),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
		Metadata: map[string]string{
			"upload-source": "creditforge-worker",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload %s: %w", key, err)
	}

	log.Infof("[Storage] Stored artifact s3://%s/%s (%d bytes)", s.cfg.BucketName, key, len(data))
	return &Artifact{
		Key:         key,
		URL:         s.cfg.ObjectURL(key),
		ContentType: contentType,
		Size:        int64(len(data)),
	}, nil
}

// MemoryStore keeps artifacts in process.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func (m *MemoryStore) Put(_ context.Context, key, contentType string, data []byte) (*Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	m.objects[key] = buf
	return &Artifact{Key: key, URL: "memory://" + key, ContentType: contentType, Size: int64(len(data))}, nil
}

// Object returns the stored bytes of key.
func (m *MemoryStore) Object(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[key]
	return b, ok
}
