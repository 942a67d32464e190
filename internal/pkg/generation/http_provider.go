package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/CreditForge/app/models"
	"github.com/ManuelReschke/CreditForge/internal/pkg/jobqueue"
	"github.com/ManuelReschke/CreditForge/internal/pkg/storage"
)

const (
	maxErrorBody    = 1 << 10
	maxResponseBody = 256 << 20
)

// HTTPProvider forwards jobs to an upstream generation endpoint. JSON answers
// become the job result; binary answers are stored as artifacts.
type HTTPProvider struct {
	ProviderName string
	Service      string
	Endpoint     string
	APIKey       string
	HTTPClient   *http.Client
	Artifacts    storage.ArtifactStore
	now          func() time.Time
}

func NewHTTPProvider(name, service, endpoint, apiKey string, artifacts storage.ArtifactStore) *HTTPProvider {
	return &HTTPProvider{
		ProviderName: name,
		Service:      service,
		Endpoint:     endpoint,
		APIKey:       apiKey,
		HTTPClient:   &http.Client{Timeout: 5 * time.Minute},
		Artifacts:    artifacts,
		now:          time.Now,
	}
}

func (p *HTTPProvider) Name() string { return p.ProviderName }

func (p *HTTPProvider) Generate(ctx context.Context, job *jobqueue.Job) (map[string]interface{}, error) {
	payload, err := json.Marshal(job.ToMap())
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, image/*, audio/*, video/*")
	if p.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.APIKey)
	}

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("%s request failed: status=%d body=%s", p.ProviderName, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("%s response unreadable: %w", p.ProviderName, err)
	}

	contentType := resp.Header.Get("Content-Type")
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType == "" || mediaType == "application/json" {
		out, err := p.decodeJSON(body)
		if err != nil {
			return nil, err
		}
		if platform, ok := targetPlatform(job.Payload); ok {
			if text, ok := out["text"].(string); ok {
				if err := platform.CheckText(text); err != nil {
					return nil, fmt.Errorf("%s: %w", p.ProviderName, err)
				}
			}
		}
		return out, nil
	}
	return p.storeBinary(ctx, job, mediaType, body)
}

func (p *HTTPProvider) decodeJSON(body []byte) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%s returned invalid json: %w", p.ProviderName, err)
	}
	if out == nil {
		return nil, fmt.Errorf("%s returned an empty result", p.ProviderName)
	}
	if msg, ok := out["error"].(string); ok && msg != "" {
		return nil, errors.New(msg)
	}
	if _, ok := out["provider"]; !ok {
		out["provider"] = p.ProviderName
	}
	return out, nil
}

func (p *HTTPProvider) storeBinary(ctx context.Context, job *jobqueue.Job, mediaType string, body []byte) (map[string]interface{}, error) {
	if p.Artifacts == nil {
		return nil, fmt.Errorf("%s returned %s but no artifact storage is configured", p.ProviderName, mediaType)
	}

	if p.Service == models.SERVICE_GRAPHICS && strings.HasPrefix(mediaType, "image/") {
		if w, h, ok := requestedSize(job.Payload, "size"); ok {
			resized, err := resizeImage(body, w, h)
			if err != nil {
				log.Warnf("[Provider %s] Keeping original image of job %s: %v", p.ProviderName, job.RequestID, err)
			} else {
				body, mediaType = resized, "image/png"
			}
		}
	}

	if platform, ok := targetPlatform(job.Payload); ok {
		if err := platform.CheckArtifact(mediaType, len(body)); err != nil {
			return nil, fmt.Errorf("%s: %w", p.ProviderName, err)
		}
	}

	key := storage.ArtifactKey(p.Service, job.RequestID, mediaType, p.now().UTC())
	artifact, err := p.Artifacts.Put(ctx, key, mediaType, body)
	if err != nil {
		return nil, err
	}
	out := artifact.ToMap()
	out["provider"] = p.ProviderName
	return out, nil
}

// resizeImage scales and crops the image to exactly w x h and encodes it as PNG.
func resizeImage(data []byte, w, h int) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	if b := img.Bounds(); b.Dx() == w && b.Dy() == h {
		return encodePNG(img)
	}
	return encodePNG(imaging.Fill(img, w, h, imaging.Center, imaging.Lanczos))
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}

func requestedSize(payload map[string]interface{}, key string) (int, int, bool) {
	raw, ok := payload[key].(map[string]interface{})
	if !ok {
		return 0, 0, false
	}
	w, wok := toInt(raw["width"])
	h, hok := toInt(raw["height"])
	if !wok || !hok || w <= 0 || h <= 0 {
		return 0, 0, false
	}
	return w, h, true
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case uint64:
		return int(n), true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	default:
		return 0, false
	}
}
