package voice

import (
	"context"
	"log/slog"
	"time"

	"github.com/ent0n29/videochat/internal/callerr"
	"github.com/ent0n29/videochat/internal/observability"
	"github.com/ent0n29/videochat/internal/reliability"
)

// RetryOptions bound one wrapped provider. Timeout applies per attempt.
type RetryOptions struct {
	Policy  reliability.RetryPolicy
	Timeout time.Duration
	Metrics *observability.Metrics
	Logger  *slog.Logger
}

type retryingSTT struct {
	next STTProvider
	opts RetryOptions
}

// WithRetrySTT retries UpstreamTimeout failures with exponential backoff.
func WithRetrySTT(next STTProvider, opts RetryOptions) STTProvider {
	return &retryingSTT{next: next, opts: opts}
}

func (r *retryingSTT) Name() string { return r.next.Name() }

func (r *retryingSTT) Transcribe(ctx context.Context, clip AudioClip, opts TranscribeOptions) (Transcript, error) {
	var out Transcript
	err := runWithRetry(ctx, r.next.Name(), "stt", r.opts, func(ctx context.Context) error {
		t, err := r.next.Transcribe(ctx, clip, opts)
		if err == nil {
			out = t
		}
		return err
	})
	return out, err
}

type retryingTTS struct {
	next TTSProvider
	opts RetryOptions
}

func WithRetryTTS(next TTSProvider, opts RetryOptions) TTSProvider {
	return &retryingTTS{next: next, opts: opts}
}

func (r *retryingTTS) Name() string { return r.next.Name() }

func (r *retryingTTS) Synthesize(ctx context.Context, text string, cfg VoiceConfig) (Synthesis, error) {
	var out Synthesis
	err := runWithRetry(ctx, r.next.Name(), "tts", r.opts, func(ctx context.Context) error {
		s, err := r.next.Synthesize(ctx, text, cfg)
		if err == nil {
			out = s
		}
		return err
	})
	return out, err
}

func runWithRetry(ctx context.Context, provider, stage string, opts RetryOptions, fn func(context.Context) error) error {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	_, err := reliability.Retry(ctx, opts.Policy, callerr.IsRetryable,
		func(attempt int, err error) {
			opts.Metrics.ObserveProviderRetry(provider)
			logger.Warn("provider call failed, retrying",
				"provider", provider, "stage", stage, "attempt", attempt, "err", err)
		},
		func(ctx context.Context) error {
			if opts.Timeout <= 0 {
				return fn(ctx)
			}
			attemptCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
			defer cancel()
			return fn(attemptCtx)
		})
	if err != nil {
		opts.Metrics.ObserveProviderError(provider, string(callerr.KindOf(err)))
	}
	return err
}
