package generation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ManuelReschke/CreditForge/app/models"
)

var (
	ErrUnknownService = errors.New("unknown generation service")
	ErrInvalidRequest = errors.New("invalid generation request")
)

var validate = validator.New()

// Size is a pixel size, used for images and video resolutions.
type Size struct {
	Width  int `json:"width" validate:"required,min=1,max=4096"`
	Height int `json:"height" validate:"required,min=1,max=4096"`
}

type CopyRequest struct {
	Text           string `json:"text" validate:"required,min=1,max=1000"`
	Tone           string `json:"tone,omitempty" validate:"omitempty,oneof=professional casual friendly formal"`
	Length         string `json:"length,omitempty" validate:"omitempty,oneof=short medium long"`
	TargetPlatform string `json:"targetPlatform,omitempty" validate:"omitempty,max=100"`
}

type GraphicsRequest struct {
	Prompt         string `json:"prompt" validate:"required,min=1,max=500"`
	Style          string `json:"style,omitempty" validate:"omitempty,max=100"`
	Size           *Size  `json:"size,omitempty"`
	TargetPlatform string `json:"targetPlatform,omitempty" validate:"omitempty,max=100"`
}

type VideoRequest struct {
	Script         string `json:"script" validate:"required,min=1,max=2000"`
	Style          string `json:"style,omitempty" validate:"omitempty,max=100"`
	Duration       int    `json:"duration,omitempty" validate:"omitempty,min=1,max=600"`
	Resolution     *Size  `json:"resolution,omitempty"`
	TargetPlatform string `json:"targetPlatform,omitempty" validate:"omitempty,max=100"`
}

type AudioRequest struct {
	Text     string `json:"text" validate:"required,min=1,max=1000"`
	Voice    string `json:"voice,omitempty" validate:"omitempty,max=100"`
	Provider string `json:"provider,omitempty" validate:"omitempty,oneof=elevenlabs aws"`
}

func newRequest(service string) (interface{}, error) {
	switch service {
	case models.SERVICE_COPY:
		return &CopyRequest{}, nil
	case models.SERVICE_GRAPHICS:
		return &GraphicsRequest{}, nil
	case models.SERVICE_VIDEO:
		return &VideoRequest{}, nil
	case models.SERVICE_AUDIO:
		return &AudioRequest{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownService, service)
	}
}

// ParseRequest decodes and validates a generation request body and returns
// the job payload for service.
func ParseRequest(service string, body []byte) (map[string]interface{}, error) {
	req, err := newRequest(service)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(body, req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRequest, describeValidation(err))
	}
	if err := checkPlatform(req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	// Convert to map via JSON
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// checkPlatform resolves targetPlatform to its canonical name and applies the
// limits known before generation.
func checkPlatform(req interface{}) error {
	var name *string
	switch r := req.(type) {
	case *CopyRequest:
		name = &r.TargetPlatform
	case *GraphicsRequest:
		name = &r.TargetPlatform
	case *VideoRequest:
		name = &r.TargetPlatform
	default:
		return nil
	}
	if *name == "" {
		return nil
	}
	platform, ok := LookupPlatform(*name)
	if !ok {
		return fmt.Errorf("targetPlatform must be one of %s", strings.Join(PlatformNames(), ", "))
	}
	*name = platform.Name

	switch r := req.(type) {
	case *GraphicsRequest:
		if platform.Image == nil {
			return fmt.Errorf("%w: %s does not take images", ErrPlatformLimit, platform.Name)
		}
	case *VideoRequest:
		if r.Duration > 0 {
			return platform.CheckDuration(r.Duration)
		}
		if platform.Video == nil {
			return fmt.Errorf("%w: %s does not take video", ErrPlatformLimit, platform.Name)
		}
	}
	return nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}
