package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

var fastRetry = RetryOptions{MaxRetries: 3, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}

func TestWithRetryRecoversFromRetryableErrors(t *testing.T) {
	calls := 0
	base := ClientFunc(func(ctx context.Context, req *Request) (*Response, error) {
		calls++
		if calls < 3 {
			return nil, NewNetworkError("flaky", nil)
		}
		return &Response{Content: []ContentBlock{{Type: ContentBlockTypeText, Text: "ok"}}}, nil
	})

	resp, err := WithRetry(base, fastRetry, zerolog.Nop()).Synchronous(context.Background(), &Request{})
	if err != nil {
		t.Fatalf("Synchronous: %v", err)
	}
	if resp.Text() != "ok" || calls != 3 {
		t.Fatalf("got %q after %d calls", resp.Text(), calls)
	}
}

func TestWithRetryStopsOnPermanentErrors(t *testing.T) {
	calls := 0
	base := ClientFunc(func(ctx context.Context, req *Request) (*Response, error) {
		calls++
		return nil, NewInvalidRequestError("bad schema", nil)
	})

	_, err := WithRetry(base, fastRetry, zerolog.Nop()).Synchronous(context.Background(), &Request{})
	var llmErr *Error
	if !errors.As(err, &llmErr) || llmErr.Type != ErrorTypeInvalidRequest {
		t.Fatalf("expected invalid request error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("permanent error retried %d times", calls-1)
	}
}

func TestWithRetryGivesUp(t *testing.T) {
	calls := 0
	base := ClientFunc(func(ctx context.Context, req *Request) (*Response, error) {
		calls++
		return nil, NewRateLimitError("slow down", nil, nil)
	})

	_, err := WithRetry(base, fastRetry, zerolog.Nop()).Synchronous(context.Background(), &Request{})
	if !IsRateLimitError(err) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if calls != 4 {
		t.Fatalf("expected 1 call plus 3 retries, got %d", calls)
	}
}

func TestWrapWithMiddleware(t *testing.T) {
	var seen []string
	base := ClientFunc(func(ctx context.Context, req *Request) (*Response, error) {
		seen = append(seen, "call:"+req.Model)
		return &Response{}, nil
	})
	mw := MiddlewareFunc{
		BeforeRequestFunc: func(ctx context.Context, req *Request) (*Request, error) {
			out := *req
			out.Model = "rewritten"
			return &out, nil
		},
		AfterResponseFunc: func(ctx context.Context, req *Request, resp *Response) (*Response, error) {
			seen = append(seen, "after")
			return resp, nil
		},
	}
	if _, err := WrapWithMiddleware(base, mw).Synchronous(context.Background(), &Request{Model: "m"}); err != nil {
		t.Fatalf("Synchronous: %v", err)
	}
	if len(seen) != 2 || seen[0] != "call:rewritten" || seen[1] != "after" {
		t.Fatalf("unexpected order %v", seen)
	}
}
