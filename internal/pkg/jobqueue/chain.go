package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

// Provider is one upstream generation backend.
type Provider interface {
	Name() string
	Generate(ctx context.Context, job *Job) (map[string]interface{}, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc struct {
	ProviderName string
	Fn           func(ctx context.Context, job *Job) (map[string]interface{}, error)
}

func (p ProviderFunc) Name() string { return p.ProviderName }

func (p ProviderFunc) Generate(ctx context.Context, job *Job) (map[string]interface{}, error) {
	return p.Fn(ctx, job)
}

const DefaultProviderTimeout = 60 * time.Second

// ExhaustedError reports that every provider of a chain failed. Its message
// is the last provider's failure.
type ExhaustedError struct {
	Attempts int
	Provider string
	Last     error
}

func (e *ExhaustedError) Error() string {
	return e.Last.Error()
}

func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrAllProvidersFailed, e.Last}
}

// Chain tries its providers in order and returns the first success.
type Chain struct {
	service   string
	providers []Provider
	timeout   time.Duration
}

func NewChain(service string, timeout time.Duration, providers ...Provider) *Chain {
	if timeout <= 0 {
		timeout = DefaultProviderTimeout
	}
	return &Chain{service: service, providers: providers, timeout: timeout}
}

func (c *Chain) Service() string { return c.service }

func (c *Chain) Providers() []string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return names
}

// Run returns the first successful result and the provider that produced it.
func (c *Chain) Run(ctx context.Context, job *Job) (map[string]interface{}, string, error) {
	if len(c.providers) == 0 {
		return nil, "", ErrNoProviders
	}

	var last error
	var lastName string
	for i, p := range c.providers {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}
		res, err := c.attempt(ctx, p, job)
		if err == nil {
			if i > 0 {
				log.Infof("[Chain %s] Job %s served by fallback %s", c.service, job.RequestID, p.Name())
			}
			return res, p.Name(), nil
		}
		log.Warnf("[Chain %s] Provider %s failed for job %s: %v", c.service, p.Name(), job.RequestID, err)
		last, lastName = err, p.Name()
	}
	return nil, "", &ExhaustedError{Attempts: len(c.providers), Provider: lastName, Last: last}
}

type attemptResult struct {
	res map[string]interface{}
	err error
}

// attempt bounds a single provider call even if the provider ignores ctx.
func (c *Chain) attempt(ctx context.Context, p Provider, job *Job) (map[string]interface{}, error) {
	actx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	done := make(chan attemptResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- attemptResult{err: fmt.Errorf("provider %s panicked: %v", p.Name(), r)}
			}
		}()
		res, err := p.Generate(actx, job)
		done <- attemptResult{res: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err == nil && out.res == nil {
			return nil, fmt.Errorf("provider %s returned no result", p.Name())
		}
		return out.res, out.err
	case <-actx.Done():
		if errors.Is(actx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("provider %s timed out after %s", p.Name(), c.timeout)
		}
		return nil, actx.Err()
	}
}
