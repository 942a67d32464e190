package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArtifactKey(t *testing.T) {
	now := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "artifacts/graphics/2026/03/req-1.png", ArtifactKey("graphics", "req-1", "image/png", now))
	assert.Equal(t, "artifacts/audio/2026/03/req-2.mp3", ArtifactKey("audio", "req-2", "audio/mpeg; charset=binary", now))
	assert.Equal(t, "artifacts/video/2026/03/req-3.bin", ArtifactKey("video", "req-3", "", now))
}

func TestObjectURL(t *testing.T) {
	cfg := &Config{BucketName: "artifacts", Region: "eu-central-1"}
	assert.Equal(t, "https://artifacts.s3.eu-central-1.amazonaws.com/a/b.png", cfg.ObjectURL("a/b.png"))

	cfg.EndpointURL = "https://s3.us-west-001.backblazeb2.com/"
	assert.Equal(t, "https://s3.us-west-001.backblazeb2.com/artifacts/a/b.png", cfg.ObjectURL("a/b.png"))

	cfg.PublicURL = "https://cdn.example.com/"
	assert.Equal(t, "https://cdn.example.com/a/b.png", cfg.ObjectURL("a/b.png"))
}

func TestConfigValidation(t *testing.T) {
	var disabled *Config
	assert.False(t, disabled.IsEnabled())

	cfg := &Config{BucketName: "b"}
	assert.Error(t, cfg.Validate())
	cfg.AccessKeyID, cfg.SecretAccessKey = "id", "secret"
	assert.NoError(t, cfg.Validate())

	_, err := NewS3Store(context.Background(), &Config{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	a, err := store.Put(context.Background(), "k.png", "image/png", []byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, int64(3), a.Size)
	assert.Equal(t, "memory://k.png", a.URL)

	b, ok := store.Object("k.png")
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, b)
	assert.Equal(t, "k.png", a.ToMap()["key"])
}
