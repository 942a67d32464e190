package generation

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
)

// ErrPlatformLimit is returned when a request or a generated artifact does not
// fit the target platform.
var ErrPlatformLimit = errors.New("platform limit exceeded")

//go:embed platforms.json
var platformsJSON []byte

// MediaLimits bounds the artifacts a platform accepts. Formats are media type
// subtypes (png, mp4, quicktime).
type MediaLimits struct {
	MinDuration int      `json:"minDuration,omitempty"`
	MaxDuration int      `json:"maxDuration,omitempty"`
	MaxFileSize string   `json:"maxFileSize"`
	Formats     []string `json:"formats"`

	maxBytes uint64
}

// Platform holds what a social platform accepts for posted content.
type Platform struct {
	Name string `json:"-"`
	Text struct {
		MaxLength int `json:"maxLength"`
	} `json:"text"`
	Video *MediaLimits `json:"video,omitempty"`
	Image *MediaLimits `json:"image,omitempty"`
}

var platforms = mustLoadPlatforms(platformsJSON)

func mustLoadPlatforms(raw []byte) map[string]*Platform {
	out, err := loadPlatforms(raw)
	if err != nil {
		panic(fmt.Sprintf("generation: embedded platforms.json: %v", err))
	}
	return out
}

func loadPlatforms(raw []byte) (map[string]*Platform, error) {
	var parsed map[string]*Platform
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, err
	}
	for name, p := range parsed {
		p.Name = name
		if p.Text.MaxLength <= 0 {
			return nil, fmt.Errorf("%s: text maxLength must be positive", name)
		}
		for _, m := range []*MediaLimits{p.Video, p.Image} {
			if m == nil {
				continue
			}
			n, err := humanize.ParseBytes(m.MaxFileSize)
			if err != nil {
				return nil, fmt.Errorf("%s: maxFileSize %q: %w", name, m.MaxFileSize, err)
			}
			m.maxBytes = n
		}
	}
	return parsed, nil
}

// LookupPlatform returns the limits of a platform by case-insensitive name.
func LookupPlatform(name string) (*Platform, bool) {
	p, ok := platforms[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// PlatformNames lists the known platforms in order.
func PlatformNames() []string {
	names := make([]string, 0, len(platforms))
	for name := range platforms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CheckText rejects copy longer than the platform allows, counted in runes.
func (p *Platform) CheckText(text string) error {
	if n := utf8.RuneCountInString(text); n > p.Text.MaxLength {
		return fmt.Errorf("%w: %s text is %d characters, at most %d allowed", ErrPlatformLimit, p.Name, n, p.Text.MaxLength)
	}
	return nil
}

// CheckDuration rejects a requested video duration in seconds outside the
// platform window.
func (p *Platform) CheckDuration(seconds int) error {
	if p.Video == nil {
		return fmt.Errorf("%w: %s does not take video", ErrPlatformLimit, p.Name)
	}
	if seconds < p.Video.MinDuration || seconds > p.Video.MaxDuration {
		return fmt.Errorf("%w: %s videos run %d to %d seconds", ErrPlatformLimit, p.Name, p.Video.MinDuration, p.Video.MaxDuration)
	}
	return nil
}

// CheckArtifact rejects an image or video the platform would refuse because
// of its size or format. Other media types pass.
func (p *Platform) CheckArtifact(mediaType string, size int) error {
	kind, subtype, _ := strings.Cut(mediaType, "/")
	var limits *MediaLimits
	switch kind {
	case "image":
		limits = p.Image
	case "video":
		limits = p.Video
	default:
		return nil
	}
	if limits == nil {
		return fmt.Errorf("%w: %s does not take %s", ErrPlatformLimit, p.Name, kind)
	}
	if uint64(size) > limits.maxBytes {
		return fmt.Errorf("%w: %s %s is %s, at most %s allowed", ErrPlatformLimit, p.Name, kind,
			humanize.IBytes(uint64(size)), limits.MaxFileSize)
	}
	for _, f := range limits.Formats {
		if f == subtype {
			return nil
		}
	}
	return fmt.Errorf("%w: %s does not take %s, supported: %s", ErrPlatformLimit, p.Name, mediaType, strings.Join(limits.Formats, ", "))
}

// targetPlatform returns the platform a job payload asks for, if any.
func targetPlatform(payload map[string]interface{}) (*Platform, bool) {
	name, _ := payload["targetPlatform"].(string)
	if name == "" {
		return nil, false
	}
	return LookupPlatform(name)
}
