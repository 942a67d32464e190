package storage

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

var ErrNotConfigured = errors.New("artifact storage is not configured")

// Config holds the S3 artifact bucket settings.
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	EndpointURL     string // Optional for S3-compatible services
	PublicURL       string // Optional CDN or bucket URL used for artifact links
	AppEnv          string
}

// IsEnabled returns true if a bucket is configured
func (c *Config) IsEnabled() bool {
	return c != nil && c.BucketName != ""
}

func (c *Config) Validate() error {
	if !c.IsEnabled() {
		return nil
	}
	if c.AccessKeyID == "" {
		return errors.New("S3_ACCESS_KEY_ID is required when S3_BUCKET_NAME is set")
	}
	if c.SecretAccessKey == "" {
		return errors.New("S3_SECRET_ACCESS_KEY is required when S3_BUCKET_NAME is set")
	}
	return nil
}

// ObjectURL returns the public link of key.
func (c *Config) ObjectURL(key string) string {
	if c.PublicURL != "" {
		return strings.TrimRight(c.PublicURL, "/") + "/" + key
	}
	if c.EndpointURL != "" {
		return fmt.Sprintf("%s/%s/%s", strings.TrimRight(c.EndpointURL, "/"), c.BucketName, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", c.BucketName, c.Region, key)
}

// ArtifactKey builds the object key of a generated artifact.
// Format: artifacts/<service>/YYYY/MM/<requestId><ext>
func ArtifactKey(service, requestID, contentType string, now time.Time) string {
	return path.Join("artifacts", service,
		fmt.Sprintf("%04d", now.Year()), fmt.Sprintf("%02d", int(now.Month())),
		requestID+ExtensionFor(contentType))
}

// ExtensionFor returns the file extension of a content type.
func ExtensionFor(contentType string) string {
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	switch ct {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "audio/mpeg":
		return ".mp3"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "audio/ogg":
		return ".ogg"
	case "video/mp4":
		return ".mp4"
	case "video/webm":
		return ".webm"
	case "application/json":
		return ".json"
	case "text/plain":
		return ".txt"
	default:
		return ".bin"
	}
}
