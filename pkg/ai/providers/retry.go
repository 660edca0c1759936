package providers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/cloudbro-kube-ai/kube-copilot/pkg/log"
)

// RetryConfig controls retries of transient API failures.
type RetryConfig struct {
	MaxAttempts int     // total attempts, including the first
	MaxBackoff  float64 // seconds
	JitterRatio float64
}

// DefaultRetryConfig returns the default retry settings.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{MaxAttempts: 5, MaxBackoff: 10.0, JitterRatio: 0.1}
}

type retryProvider struct {
	provider Provider
	config   *RetryConfig
}

// CreateWithRetry wraps p so rate limits and server errors are retried with
// exponential backoff.
func CreateWithRetry(p Provider, cfg *RetryConfig) Provider {
	if cfg == nil {
		cfg = DefaultRetryConfig()
	}
	return &retryProvider{provider: p, config: cfg}
}

func (r *retryProvider) Name() string     { return r.provider.Name() }
func (r *retryProvider) GetModel() string { return r.provider.GetModel() }
func (r *retryProvider) IsReady() bool    { return r.provider.IsReady() }

func (r *retryProvider) Chat(ctx context.Context, msgs []Message) (string, error) {
	var out string
	attempt := 0
	op := func() error {
		attempt++
		var err error
		out, err = r.provider.Chat(ctx, msgs)
		if err == nil {
			return nil
		}
		if !isRetryableError(err) {
			return backoff.Permanent(err)
		}
		log.Warnf("%s: attempt %d failed: %v", r.provider.Name(), attempt, err)
		return err
	}

	if err := backoff.Retry(op, r.policy(ctx)); err != nil {
		return "", err
	}
	return out, nil
}

func (r *retryProvider) policy(ctx context.Context) backoff.BackOff {
	maxInterval := time.Duration(r.config.MaxBackoff * float64(time.Second))
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = maxInterval
	if b.InitialInterval > maxInterval {
		b.InitialInterval = maxInterval
	}
	b.RandomizationFactor = r.config.JitterRatio
	b.MaxElapsedTime = 0

	attempts := r.config.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// isRetryableError reports whether err is a rate limit, server error or
// transient network failure.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}

	msg := strings.ToLower(err.Error())
	for _, s := range []string{"429", "500", "502", "503", "504", "timeout", "connection refused", "connection reset"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
