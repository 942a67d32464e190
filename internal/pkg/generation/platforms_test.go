package generation

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/CreditForge/internal/pkg/jobqueue"
	"github.com/ManuelReschke/CreditForge/internal/pkg/storage"
)

func TestEmbeddedPlatforms(t *testing.T) {
	assert.Equal(t, []string{"facebook", "instagram", "linkedin", "tiktok", "twitter", "youtube"}, PlatformNames())

	twitter, ok := LookupPlatform(" Twitter ")
	require.True(t, ok)
	assert.Equal(t, "twitter", twitter.Name)
	assert.Equal(t, 280, twitter.Text.MaxLength)
	assert.Equal(t, uint64(5<<20), twitter.Image.maxBytes)

	tiktok, ok := LookupPlatform("tiktok")
	require.True(t, ok)
	assert.Nil(t, tiktok.Image)

	_, ok = LookupPlatform("myspace")
	assert.False(t, ok)
}

func TestLoadPlatformsRejectsBadSizes(t *testing.T) {
	_, err := loadPlatforms([]byte(`{"x":{"text":{"maxLength":10},"image":{"maxFileSize":"lots","formats":["png"]}}}`))
	assert.Error(t, err)

	_, err = loadPlatforms([]byte(`{"x":{"text":{"maxLength":0}}}`))
	assert.Error(t, err)
}

func TestPlatformChecks(t *testing.T) {
	twitter, _ := LookupPlatform("twitter")

	assert.NoError(t, twitter.CheckText(strings.Repeat("é", 280)))
	assert.ErrorIs(t, twitter.CheckText(strings.Repeat("a", 281)), ErrPlatformLimit)

	assert.NoError(t, twitter.CheckDuration(140))
	assert.ErrorIs(t, twitter.CheckDuration(141), ErrPlatformLimit)

	assert.NoError(t, twitter.CheckArtifact("image/png", 1024))
	assert.ErrorIs(t, twitter.CheckArtifact("image/png", 6<<20), ErrPlatformLimit)
	assert.ErrorIs(t, twitter.CheckArtifact("image/tiff", 1024), ErrPlatformLimit)
	assert.NoError(t, twitter.CheckArtifact("audio/mpeg", 1<<30), "audio is not platform bound")

	youtube, _ := LookupPlatform("youtube")
	assert.ErrorIs(t, youtube.CheckArtifact("image/png", 10), ErrPlatformLimit)
}

func TestParseRequestAppliesPlatformLimits(t *testing.T) {
	payload, err := ParseRequest("copy", []byte(`{"text":"launch","targetPlatform":"LinkedIn"}`))
	require.NoError(t, err)
	assert.Equal(t, "linkedin", payload["targetPlatform"])

	_, err = ParseRequest("video", []byte(`{"script":"x","duration":30,"targetPlatform":"instagram"}`))
	assert.NoError(t, err)

	tests := []struct {
		name    string
		service string
		body    string
	}{
		{"unknown platform", "copy", `{"text":"x","targetPlatform":"myspace"}`},
		{"video too long for instagram", "video", `{"script":"x","duration":120,"targetPlatform":"instagram"}`},
		{"video too short for tiktok", "video", `{"script":"x","duration":2,"targetPlatform":"tiktok"}`},
		{"image for a video platform", "graphics", `{"prompt":"x","targetPlatform":"youtube"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRequest(tt.service, []byte(tt.body))
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestHTTPProviderRejectsCopyOverPlatformLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"` + strings.Repeat("a", 300) + `"}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider("openai", "copy", srv.URL, "", nil)
	_, err := p.Generate(context.Background(), &jobqueue.Job{
		RequestID: "req-1",
		Payload:   map[string]interface{}{"text": "sale", "targetPlatform": "twitter"},
	})
	assert.ErrorIs(t, err, ErrPlatformLimit)

	out, err := p.Generate(context.Background(), &jobqueue.Job{
		RequestID: "req-2",
		Payload:   map[string]interface{}{"text": "sale", "targetPlatform": "linkedin"},
	})
	require.NoError(t, err)
	assert.Len(t, out["text"], 300)
}

func TestHTTPProviderRejectsArtifactFormatForPlatform(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/webm")
		_, _ = w.Write(bytes.Repeat([]byte{0x1a}, 64))
	}))
	defer srv.Close()

	artifacts := storage.NewMemoryStore()
	p := NewHTTPProvider("runway", "video", srv.URL, "", artifacts)

	_, err := p.Generate(context.Background(), &jobqueue.Job{
		RequestID: "req-1",
		Payload:   map[string]interface{}{"script": "x", "targetPlatform": "linkedin"},
	})
	assert.ErrorIs(t, err, ErrPlatformLimit)

	out, err := p.Generate(context.Background(), &jobqueue.Job{
		RequestID: "req-2",
		Payload:   map[string]interface{}{"script": "x", "targetPlatform": "tiktok"},
	})
	require.NoError(t, err)
	assert.Equal(t, "runway", out["provider"])
}
