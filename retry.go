package fabric

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"
)

// retryProvider wraps a Provider and retries failed calls with exponential
// backoff, per §7's LLM error taxonomy entry: "the LLM Worker retries with
// backoff up to an implementation-defined limit, then surfaces the error".
type retryProvider struct {
	inner       Provider
	maxAttempts int
	baseDelay   time.Duration
	timeout     time.Duration // overall timeout across all attempts; 0 = no limit
	logger      *slog.Logger
}

// RetryOption configures a retryProvider.
type RetryOption func(*retryProvider)

// RetryMaxAttempts sets the maximum number of attempts (default: 3).
func RetryMaxAttempts(n int) RetryOption {
	return func(r *retryProvider) { r.maxAttempts = n }
}

// RetryBaseDelay sets the initial backoff delay before the second attempt
// (default: 1s). Each subsequent delay doubles: baseDelay, 2×baseDelay, …
func RetryBaseDelay(d time.Duration) RetryOption {
	return func(r *retryProvider) { r.baseDelay = d }
}

// RetryTimeout sets the overall timeout for the entire retry sequence. If
// the total time across all attempts exceeds this duration, the retry loop
// gives up and returns the last error. Zero (default) disables the timeout.
func RetryTimeout(d time.Duration) RetryOption {
	return func(r *retryProvider) { r.timeout = d }
}

// RetryLogger sets a structured logger for retry attempts. Defaults to a
// discarding no-op logger.
func RetryLogger(l *slog.Logger) RetryOption {
	return func(r *retryProvider) { r.logger = l }
}

// WithRetry wraps p so every call retries on failure with exponential
// backoff and jitter, surfacing a final *LLMError once the attempt budget
// is exhausted. Compose with any Provider:
//
//	chatLLM = fabric.WithRetry(anthropic.New(apiKey, model))
//	chatLLM = fabric.WithRetry(anthropic.New(apiKey, model), fabric.RetryMaxAttempts(5))
func WithRetry(p Provider, opts ...RetryOption) Provider {
	r := &retryProvider{
		inner:       p,
		maxAttempts: 3,
		baseDelay:   time.Second,
		logger:      nopLogger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Name delegates to the inner provider.
func (r *retryProvider) Name() string { return r.inner.Name() }

// Chat implements Provider with retry.
func (r *retryProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return retryCall(ctx, r, func() (ChatResponse, error) {
		return r.inner.Chat(ctx, req)
	})
}

// ChatWithTools implements Provider with retry.
func (r *retryProvider) ChatWithTools(ctx context.Context, req ChatRequest, tools []ToolDefinition) (ChatResponse, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return retryCall(ctx, r, func() (ChatResponse, error) {
		return r.inner.ChatWithTools(ctx, req, tools)
	})
}

// ChatStream implements Provider with retry. Retries are only performed if
// no events have been written to ch yet — once streaming has started,
// errors pass through immediately to avoid sending duplicate content.
// ch is always closed before returning.
func (r *retryProvider) ChatStream(ctx context.Context, req ChatRequest, ch chan<- StreamEvent) (ChatResponse, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	var lastErr error
	for i := 0; i < r.maxAttempts; i++ {
		mid := make(chan StreamEvent, 64)
		var (
			resp      ChatResponse
			streamErr error
		)
		done := make(chan struct{})
		go func() {
			defer close(done)
			resp, streamErr = r.inner.ChatStream(ctx, req, mid)
		}()

		var eventsSent bool
		for ev := range mid {
			eventsSent = true
			ch <- ev
		}
		<-done

		if streamErr == nil || eventsSent || ctx.Err() != nil {
			close(ch)
			if streamErr != nil && ctx.Err() == nil {
				streamErr = &LLMError{Provider: r.inner.Name(), Err: streamErr}
			}
			return resp, streamErr
		}

		lastErr = streamErr
		r.logger.Warn("llm call failed, retrying", "provider", r.inner.Name(), "attempt", i+1, "max_attempts", r.maxAttempts, "error", streamErr)
		if i < r.maxAttempts-1 {
			timer := time.NewTimer(retryBackoff(r.baseDelay, i))
			select {
			case <-ctx.Done():
				timer.Stop()
				close(ch)
				return ChatResponse{}, ctx.Err()
			case <-timer.C:
			}
		}
	}
	close(ch)
	return ChatResponse{}, &LLMError{Provider: r.inner.Name(), Err: lastErr}
}

// withTimeout returns a child context with a deadline if r.timeout is set.
func (r *retryProvider) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return ctx, func() {}
	}
	deadline := time.Now().Add(r.timeout)
	if existing, ok := ctx.Deadline(); ok && existing.Before(deadline) {
		return ctx, func() {}
	}
	return context.WithDeadline(ctx, deadline)
}

// retryCall calls fn up to r.maxAttempts times, sleeping between failures
// with exponential backoff. Context cancellation aborts immediately. The
// final failure is wrapped as *LLMError.
func retryCall[T any](ctx context.Context, r *retryProvider, fn func() (T, error)) (T, error) {
	var zero T
	var last error
	for i := 0; i < r.maxAttempts; i++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, err
		}
		last = err
		r.logger.Warn("llm call failed, retrying", "provider", r.inner.Name(), "attempt", i+1, "max_attempts", r.maxAttempts, "error", err)
		if i < r.maxAttempts-1 {
			timer := time.NewTimer(retryBackoff(r.baseDelay, i))
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
		}
	}
	return zero, &LLMError{Provider: r.inner.Name(), Err: last}
}

// retryBackoff returns the delay for retry i (0-indexed): base * 2^i, plus
// up to 50% random jitter.
func retryBackoff(base time.Duration, i int) time.Duration {
	exp := base * (1 << i)
	jitter := time.Duration(rand.Int63n(int64(exp)/2 + 1))
	return exp + jitter
}

// compile-time check
var _ Provider = (*retryProvider)(nil)
