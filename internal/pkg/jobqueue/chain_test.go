package jobqueue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okProvider(name string, calls *int32) Provider {
	return ProviderFunc{ProviderName: name, Fn: func(ctx context.Context, job *Job) (map[string]interface{}, error) {
		if calls != nil {
			atomic.AddInt32(calls, 1)
		}
		return map[string]interface{}{"provider": name}, nil
	}}
}

func failingProvider(name, msg string, calls *int32) Provider {
	return ProviderFunc{ProviderName: name, Fn: func(ctx context.Context, job *Job) (map[string]interface{}, error) {
		if calls != nil {
			atomic.AddInt32(calls, 1)
		}
		return nil, errors.New(msg)
	}}
}

func hangingProvider(name string) Provider {
	return ProviderFunc{ProviderName: name, Fn: func(ctx context.Context, job *Job) (map[string]interface{}, error) {
		time.Sleep(time.Second)
		return map[string]interface{}{"late": true}, nil
	}}
}

func TestChainFirstSuccessWins(t *testing.T) {
	var primary, fallback, last int32
	chain := NewChain("copy", time.Second,
		failingProvider("openai", "rate limited", &primary),
		okProvider("cohere", &fallback),
		okProvider("anthropic", &last),
	)

	res, provider, err := chain.Run(context.Background(), &Job{RequestID: "r1"})
	require.NoError(t, err)
	assert.Equal(t, "cohere", provider)
	assert.Equal(t, "cohere", res["provider"])
	assert.Equal(t, int32(1), primary)
	assert.Equal(t, int32(1), fallback)
	assert.Equal(t, int32(0), last)
}

func TestChainExhaustionReportsLastFailure(t *testing.T) {
	chain := NewChain("audio", time.Second,
		failingProvider("elevenlabs", "quota exceeded", nil),
		failingProvider("polly", "voice not found", nil),
	)

	_, _, err := chain.Run(context.Background(), &Job{RequestID: "r1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllProvidersFailed)
	assert.Equal(t, "voice not found", err.Error())

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 2, exhausted.Attempts)
	assert.Equal(t, "polly", exhausted.Provider)
}

func TestChainTimesOutHungProvider(t *testing.T) {
	chain := NewChain("video", 50*time.Millisecond,
		hangingProvider("runway"),
		okProvider("pika", nil),
	)

	start := time.Now()
	res, provider, err := chain.Run(context.Background(), &Job{RequestID: "r1"})
	require.NoError(t, err)
	assert.Equal(t, "pika", provider)
	assert.Equal(t, "pika", res["provider"])
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestChainRecoversPanickingProvider(t *testing.T) {
	chain := NewChain("copy", time.Second,
		ProviderFunc{ProviderName: "broken", Fn: func(ctx context.Context, job *Job) (map[string]interface{}, error) {
			panic("nil map")
		}},
	)
	_, _, err := chain.Run(context.Background(), &Job{RequestID: "r1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
}

func TestChainWithoutProviders(t *testing.T) {
	_, _, err := NewChain("copy", 0).Run(context.Background(), &Job{RequestID: "r1"})
	assert.ErrorIs(t, err, ErrNoProviders)
}
