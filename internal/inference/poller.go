package inference

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-proxy/internal/core"
	"github.com/book-expert/tts-proxy/internal/mediaurl"
)

const defaultEscalateAfter = 3

// Static errors.
var (
	ErrJobTokenEmpty    = fmt.Errorf("%w: job token cannot be empty", core.ErrValidation)
	ErrMaxAttemptsRange = fmt.Errorf("%w: max attempts must be at least 1", core.ErrValidation)
)

// Poller reads job status from the provider.
type Poller struct {
	provider      core.Provider
	credentials   core.SessionSource
	normalizer    *mediaurl.Normalizer
	escalateAfter int
	log           *logger.Logger
}

// NewPoller creates a Poller. PollUntilTerminal gives up after escalateAfter
// consecutive identical non-transient errors.
func NewPoller(
	provider core.Provider,
	credentials core.SessionSource,
	normalizer *mediaurl.Normalizer,
	escalateAfter int,
	log *logger.Logger,
) *Poller {
	if escalateAfter < 1 {
		escalateAfter = defaultEscalateAfter
	}

	return &Poller{
		provider:      provider,
		credentials:   credentials,
		normalizer:    normalizer,
		escalateAfter: escalateAfter,
		log:           log,
	}
}

// CheckStatus issues one status query. A successful job carries its
// normalized audio URL.
func (p *Poller) CheckStatus(ctx context.Context, jobToken string) (core.Job, error) {
	if strings.TrimSpace(jobToken) == "" {
		return core.Job{}, ErrJobTokenEmpty
	}

	cred, err := p.credentials.Credential(ctx)
	if err != nil {
		return core.Job{}, fmt.Errorf("no credential for status check: %w", err)
	}

	state, err := p.provider.JobState(ctx, cred, jobToken)
	if err != nil {
		if errors.Is(err, core.ErrAuth) {
			discardCredential(ctx, p.credentials, p.log)
		}

		return core.Job{}, fmt.Errorf("status check failed: %w", err)
	}

	job := core.Job{
		Token:     jobToken,
		Status:    core.ParseJobStatus(state.Status),
		AudioPath: state.CDNAudioPath,
	}

	if job.AudioPath == "" {
		job.AudioPath = state.LegacyAudioPath
	}

	if job.Status == core.JobCompleteSuccess {
		job.AudioURL, _ = p.normalizer.Normalize(state)
	}

	return job, nil
}

// PollUntilTerminal calls CheckStatus every interval until the job is
// terminal, then stops. Transient errors count as an ordinary pending poll.
// Any other error kind seen escalateAfter times in a row is returned, as is
// a validation error or ctx ending. Running out of attempts yields
// core.ErrTimeout.
func (p *Poller) PollUntilTerminal(
	ctx context.Context,
	jobToken string,
	interval time.Duration,
	maxAttempts int,
) (core.Job, error) {
	if maxAttempts < 1 {
		return core.Job{}, ErrMaxAttemptsRange
	}

	var (
		last      = core.Job{Token: jobToken, Status: core.JobPending}
		lastErr   error
		streakKey string
		streak    int
	)

	for attempt := 1; ; attempt++ {
		job, err := p.CheckStatus(ctx, jobToken)

		switch {
		case err == nil:
			last, lastErr, streakKey, streak = job, nil, "", 0

			if job.Status.Terminal() {
				return job, nil
			}
		case ctx.Err() != nil:
			return last, fmt.Errorf("polling cancelled: %w", ctx.Err())
		case errors.Is(err, core.ErrValidation):
			return last, err
		case errors.Is(err, core.ErrTransient):
			lastErr, streakKey, streak = err, "", 0

			p.log.Warn("Transient error on status poll %d/%d: %v", attempt, maxAttempts, err)
		default:
			lastErr = err

			key := errorSignature(err)
			if key == streakKey {
				streak++
			} else {
				streakKey, streak = key, 1
			}

			p.log.Warn("Status poll %d/%d failed (%d in a row): %v", attempt, maxAttempts, streak, err)

			if streak >= p.escalateAfter {
				return last, fmt.Errorf("giving up after %d consecutive identical errors: %w", streak, err)
			}
		}

		if attempt >= maxAttempts {
			break
		}

		err = sleep(ctx, interval)
		if err != nil {
			return last, fmt.Errorf("polling cancelled: %w", err)
		}
	}

	if lastErr != nil {
		return last, fmt.Errorf("%w: job not terminal after %d attempts: %w", core.ErrTimeout, maxAttempts, lastErr)
	}

	return last, fmt.Errorf("%w: job not terminal after %d attempts", core.ErrTimeout, maxAttempts)
}

// errorSignature identifies "the same error" across polls by its kind, or
// by its text when it has no kind.
func errorSignature(err error) string {
	kind := core.Kind(err)
	if kind != nil {
		return kind.Error()
	}

	return err.Error()
}

func sleep(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(interval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
