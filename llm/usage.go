package llm

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// UsageMiddleware logs every call and keeps running token totals.
type UsageMiddleware struct {
	logger zerolog.Logger

	mu     sync.Mutex
	calls  int
	failed int
	total  Usage
}

// NewUsageMiddleware creates a UsageMiddleware.
func NewUsageMiddleware(logger zerolog.Logger) *UsageMiddleware {
	return &UsageMiddleware{logger: logger.With().Str("component", "llmUsage").Logger()}
}

// BeforeRequest implements Middleware.BeforeRequest.
func (m *UsageMiddleware) BeforeRequest(ctx context.Context, req *Request) (*Request, error) {
	m.logger.Debug().
		Str("model", req.Model).
		Int("messages", len(req.Messages)).
		Bool("json", req.JSONOutput).
		Msg("Sending request")
	return req, nil
}

// AfterResponse implements Middleware.AfterResponse.
func (m *UsageMiddleware) AfterResponse(ctx context.Context, req *Request, resp *Response) (*Response, error) {
	m.mu.Lock()
	m.calls++
	m.total.InputTokens += resp.Usage.InputTokens
	m.total.OutputTokens += resp.Usage.OutputTokens
	m.mu.Unlock()

	m.logger.Info().
		Str("model", req.Model).
		Int64("inputTokens", resp.Usage.InputTokens).
		Int64("outputTokens", resp.Usage.OutputTokens).
		Str("stopReason", resp.StopReason).
		Msg("Request complete")
	return resp, nil
}

// OnError implements Middleware.OnError.
func (m *UsageMiddleware) OnError(ctx context.Context, req *Request, err error) error {
	m.mu.Lock()
	m.calls++
	m.failed++
	m.mu.Unlock()

	ev := m.logger.Warn().Err(err).Str("model", req.Model)
	if retryAfter := ExtractRetryAfter(err); retryAfter != nil {
		ev = ev.Dur("retryAfter", *retryAfter)
	}
	ev.Bool("retryable", IsRetryableError(err)).Msg("Request failed")
	return nil
}

// Totals returns the number of calls, failed calls and summed usage so far.
func (m *UsageMiddleware) Totals() (calls, failed int, usage Usage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls, m.failed, m.total
}

var _ Middleware = (*UsageMiddleware)(nil)
