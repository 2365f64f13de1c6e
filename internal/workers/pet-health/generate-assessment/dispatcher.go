// internal/workers/pet-health/generate-assessment/dispatcher.go
package generateassessment

import (
	"context"
	"errors"
	"strings"
	"time"

	"pet-health-workers/internal/common/credentials"
	apperrors "pet-health-workers/internal/common/errors"
	"pet-health-workers/internal/common/genai"
	"pet-health-workers/internal/common/logger"
	"pet-health-workers/internal/common/metrics"
)

// RetryPolicy bounds the dispatcher. The credential is rotated between every
// pair of attempts; backoff doubles from BaseBackoff up to MaxBackoff.
//
// Each attempt runs under its own deadline: AttemptTimeout, shortened to an
// even share of whatever the caller's deadline leaves for the remaining
// attempts. A hung request can therefore never starve the retry.
type RetryPolicy struct {
	MaxAttempts    int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	AttemptTimeout time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 2}
}

// backoff returns the wait before attempt (attempt >= 2).
func (p RetryPolicy) backoff(attempt int) time.Duration {
	if p.BaseBackoff <= 0 || attempt < 2 {
		return 0
	}
	d := p.BaseBackoff * time.Duration(1<<(attempt-2))
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	return d
}

// attemptContext derives the deadline for attempt from the policy and parent.
func (p RetryPolicy) attemptContext(parent context.Context, attempt int) (context.Context, context.CancelFunc) {
	timeout := p.AttemptTimeout
	if deadline, ok := parent.Deadline(); ok {
		left := p.MaxAttempts - attempt + 1
		if left < 1 {
			left = 1
		}
		share := time.Until(deadline) / time.Duration(left)
		if timeout <= 0 || share < timeout {
			timeout = share
		}
	}
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}

// DispatchResult is the reply text plus bookkeeping about how it was obtained.
type DispatchResult struct {
	Text            string
	Outcome         string
	Attempts        int
	Rotations       int
	CredentialIndex int
}

// Dispatcher sends prompts to the generator under rotating credentials.
// Dispatch never returns an error; failures degrade to sentinel text.
type Dispatcher struct {
	generator genai.Generator
	rotator   credentials.Rotator
	policy    RetryPolicy
	provider  string
	logger    logger.Logger
}

func NewDispatcher(generator genai.Generator, rotator credentials.Rotator, policy RetryPolicy, provider string, log logger.Logger) *Dispatcher {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &Dispatcher{
		generator: generator,
		rotator:   rotator,
		policy:    policy,
		provider:  provider,
		logger:    log,
	}
}

// Dispatch returns the trimmed reply for prompt, or an English sentinel.
func (d *Dispatcher) Dispatch(ctx context.Context, prompt string) string {
	return d.DispatchRequest(ctx, genai.Request{Prompt: prompt}, SentinelsFor("")).Text
}

func (d *Dispatcher) DispatchRequest(ctx context.Context, req genai.Request, s Sentinels) DispatchResult {
	result := d.dispatch(ctx, req, s)
	metrics.GenerationOutcomes.WithLabelValues(result.Outcome).Inc()
	return result
}

func (d *Dispatcher) dispatch(ctx context.Context, req genai.Request, s Sentinels) DispatchResult {
	result := DispatchResult{Text: s.ProcessingError, Outcome: OutcomeProcessingError}
	failed := -1

	for attempt := 1; attempt <= d.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			d.rotate(ctx, &result, failed)
			if !d.wait(ctx, d.policy.backoff(attempt)) {
				d.logger.Warn("dispatch cancelled", map[string]interface{}{
					"attempt": attempt,
					"error":   ctx.Err(),
				})
				return result
			}
		}
		result.Attempts = attempt

		index, key, err := d.rotator.Current(ctx)
		if err != nil {
			failed = -1
			d.recordFailure(attempt, -1, apperrors.NewCredentialStoreFailedError(err))
			continue
		}
		result.CredentialIndex = index
		failed = index

		text, err := d.generate(ctx, attempt, key, req)
		if err != nil {
			d.recordFailure(attempt, index, err)
			continue
		}

		if text = strings.TrimSpace(text); text != "" {
			metrics.GenerationAttempts.WithLabelValues(d.provider, "reply").Inc()
			result.Text = text
			result.Outcome = OutcomeReply
			return result
		}

		metrics.GenerationAttempts.WithLabelValues(d.provider, "empty").Inc()
		d.logger.Warn("generation returned no text", map[string]interface{}{
			"attempt":         attempt,
			"credentialIndex": index,
		})
		if attempt == 1 {
			result.Text = s.NoResponse
			result.Outcome = OutcomeNoResponse
		}
		return result
	}

	return result
}

// generate runs one attempt under its own deadline and classifies failures.
func (d *Dispatcher) generate(ctx context.Context, attempt int, key string, req genai.Request) (string, error) {
	attemptCtx, cancel := d.policy.attemptContext(ctx, attempt)
	defer cancel()

	text, err := d.generator.GenerateContent(attemptCtx, key, req)
	if err == nil {
		return text, nil
	}
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return "", apperrors.NewGenerationTimeoutError(err)
	}
	return "", apperrors.NewGenerationFailedError(err)
}

// rotate moves the shared cursor past the credential that just failed. When
// the failed attempt never obtained a credential there is nothing to move past.
func (d *Dispatcher) rotate(ctx context.Context, result *DispatchResult, failed int) {
	if failed < 0 {
		return
	}
	index, err := d.rotator.Rotate(ctx, failed)
	if err != nil {
		d.logger.Warn("credential rotation failed", map[string]interface{}{
			"error": err,
		})
		return
	}
	result.Rotations++
	metrics.CredentialRotations.Inc()
	d.logger.Info("credential rotated", map[string]interface{}{
		"from":            failed,
		"credentialIndex": index,
		"poolSize":        d.rotator.Size(),
	})
}

func (d *Dispatcher) recordFailure(attempt, index int, err error) {
	code, details := "unknown", err.Error()
	if stdErr, ok := apperrors.AsStandardError(err); ok {
		code, details = string(stdErr.Code), stdErr.Details
	}
	label := "error"
	if code == string(apperrors.ErrCodeGenerationTimeout) {
		label = "timeout"
	}
	metrics.GenerationAttempts.WithLabelValues(d.provider, label).Inc()
	d.logger.Warn("generation attempt failed", map[string]interface{}{
		"attempt":         attempt,
		"maxAttempts":     d.policy.MaxAttempts,
		"credentialIndex": index,
		"errorCode":       code,
		"error":           details,
	})
}

func (d *Dispatcher) wait(ctx context.Context, delay time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if delay <= 0 {
		return true
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
