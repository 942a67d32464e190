package generation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/CreditForge/app/models"
	"github.com/ManuelReschke/CreditForge/internal/pkg/jobqueue"
	"github.com/ManuelReschke/CreditForge/internal/pkg/storage"
)

// MockProviderName selects the built-in echo provider.
const MockProviderName = "mock"

// DefaultChains is the provider order per service.
var DefaultChains = map[string][]string{
	models.SERVICE_COPY:     {"openai", "cohere", "anthropic"},
	models.SERVICE_GRAPHICS: {"stability", "openai"},
	models.SERVICE_VIDEO:    {"runway", "pika"},
	models.SERVICE_AUDIO:    {"elevenlabs", "polly"},
}

// ProviderNames returns the configured chain of service. override is a comma
// separated list (PROVIDERS_<SERVICE>) and wins when set.
func ProviderNames(service, override string) []string {
	if strings.TrimSpace(override) != "" {
		var names []string
		for _, n := range strings.Split(override, ",") {
			if n = strings.ToLower(strings.TrimSpace(n)); n != "" {
				names = append(names, n)
			}
		}
		return names
	}
	return DefaultChains[service]
}

// Lookup reads a configuration value such as PROVIDER_OPENAI_URL.
type Lookup func(key string) string

func providerKey(name, suffix string) string {
	return "PROVIDER_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_")) + "_" + suffix
}

// BuildChain assembles the provider chain of service. Providers without an
// endpoint are skipped; a chain without any provider is an error.
func BuildChain(service string, lookup Lookup, artifacts storage.ArtifactStore, timeout time.Duration) (*jobqueue.Chain, error) {
	if _, ok := DefaultChains[service]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownService, service)
	}

	names := ProviderNames(service, lookup("PROVIDERS_"+strings.ToUpper(service)))
	var providers []jobqueue.Provider
	for _, name := range names {
		if name == MockProviderName {
			providers = append(providers, NewMockProvider(service))
			continue
		}
		endpoint := strings.TrimSpace(lookup(providerKey(name, "URL")))
		if endpoint == "" {
			log.Warnf("[Generation] Provider %s has no %s, skipping", name, providerKey(name, "URL"))
			continue
		}
		providers = append(providers, NewHTTPProvider(name, service, endpoint, strings.TrimSpace(lookup(providerKey(name, "API_KEY"))), artifacts))
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("no providers configured for %s (tried %v)", service, names)
	}
	return jobqueue.NewChain(service, timeout, providers...), nil
}

// MockProvider answers every job locally. It is meant for development.
type MockProvider struct {
	service string
}

func NewMockProvider(service string) *MockProvider {
	return &MockProvider{service: service}
}

func (m *MockProvider) Name() string { return MockProviderName }

func (m *MockProvider) Generate(ctx context.Context, job *jobqueue.Job) (map[string]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := map[string]interface{}{"provider": MockProviderName}
	switch m.service {
	case models.SERVICE_COPY:
		text, _ := job.Payload["text"].(string)
		out["text"] = "Generated copy: " + text
	default:
		out["url"] = fmt.Sprintf("memory://artifacts/%s/%s", m.service, job.RequestID)
	}
	return out, nil
}
