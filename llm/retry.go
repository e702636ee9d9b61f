package llm

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// RetryOptions configures WithRetry. Zero fields fall back to defaults.
type RetryOptions struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

const (
	DefaultRetryMaxRetries      = 3
	DefaultRetryInitialInterval = 1 * time.Second
	DefaultRetryMaxInterval     = 30 * time.Second
	DefaultRetryMaxElapsedTime  = 2 * time.Minute
)

func (o RetryOptions) withDefaults() RetryOptions {
	if o.MaxRetries == 0 {
		o.MaxRetries = DefaultRetryMaxRetries
	}
	if o.InitialInterval <= 0 {
		o.InitialInterval = DefaultRetryInitialInterval
	}
	if o.MaxInterval <= 0 {
		o.MaxInterval = DefaultRetryMaxInterval
	}
	if o.MaxElapsedTime <= 0 {
		o.MaxElapsedTime = DefaultRetryMaxElapsedTime
	}
	return o
}

// WithRetry returns a Client that retries calls failing with a retryable
// *Error. A retry-after hint from the provider raises the next delay.
func WithRetry(client Client, opts RetryOptions, logger zerolog.Logger) Client {
	return &retryClient{
		client: client,
		opts:   opts.withDefaults(),
		logger: logger.With().Str("component", "llmRetry").Logger(),
	}
}

type retryClient struct {
	client Client
	opts   RetryOptions
	logger zerolog.Logger
}

func (c *retryClient) Synchronous(ctx context.Context, req *Request) (*Response, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.opts.InitialInterval
	eb.MaxInterval = c.opts.MaxInterval
	eb.MaxElapsedTime = c.opts.MaxElapsedTime
	eb.Reset()
	b := &retryAfterBackOff{BackOff: backoff.WithMaxRetries(eb, c.opts.MaxRetries)}

	var resp *Response
	attempt := 0
	operation := func() error {
		attempt++
		var err error
		resp, err = c.client.Synchronous(ctx, req)
		if err == nil {
			return nil
		}
		if !IsRetryableError(err) {
			return backoff.Permanent(err)
		}
		if after := ExtractRetryAfter(err); after != nil {
			b.next = *after
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("retry_in", wait).
			Str("model", req.Model).
			Msg("LLM call failed, retrying")
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, err
	}
	return resp, nil
}

// retryAfterBackOff stretches the next delay to honour a provider's hint.
type retryAfterBackOff struct {
	backoff.BackOff
	next time.Duration
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	d := b.BackOff.NextBackOff()
	if d != backoff.Stop && b.next > d {
		d = b.next
	}
	b.next = 0
	return d
}

var _ Client = (*retryClient)(nil)
