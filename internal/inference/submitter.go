// Package inference submits generation jobs to the provider and follows them
// to a terminal status.
package inference

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-proxy/internal/core"
	"github.com/book-expert/tts-proxy/internal/retry"
	"github.com/book-expert/tts-proxy/internal/text"
	"github.com/google/uuid"
)

// Static errors.
var (
	ErrModelTokenEmpty     = fmt.Errorf("%w: model token cannot be empty", core.ErrValidation)
	ErrTextEmpty           = fmt.Errorf("%w: text cannot be empty", core.ErrValidation)
	ErrIdempotencyKeyEmpty = fmt.Errorf("%w: idempotency key cannot be empty", core.ErrValidation)
)

// Submitter creates inference jobs. One idempotency key is generated per
// logical request and reused on every retry of it, so the provider creates at
// most one job per request.
type Submitter struct {
	provider     core.Provider
	credentials  core.SessionSource
	preprocessor *text.Preprocessor
	policy       retry.Policy
	log          *logger.Logger
}

// NewSubmitter creates a Submitter. Transient failures are retried under
// policy; its Retryable field is replaced.
func NewSubmitter(
	provider core.Provider,
	credentials core.SessionSource,
	policy retry.Policy,
	log *logger.Logger,
) *Submitter {
	policy.Retryable = isTransient

	return &Submitter{
		provider:     provider,
		credentials:  credentials,
		preprocessor: text.NewPreprocessor(),
		policy:       policy,
		log:          log,
	}
}

// NewRequest validates the input, cleans the text and assigns a fresh
// idempotency key. Callers that retry a submission themselves must reuse the
// returned request.
func (s *Submitter) NewRequest(modelToken, inferenceText string) (core.InferenceRequest, error) {
	modelToken = strings.TrimSpace(modelToken)
	if modelToken == "" {
		return core.InferenceRequest{}, ErrModelTokenEmpty
	}

	cleaned := s.preprocessor.PreprocessText(inferenceText)
	if cleaned == "" {
		return core.InferenceRequest{}, ErrTextEmpty
	}

	return core.InferenceRequest{
		ModelToken:     modelToken,
		Text:           cleaned,
		IdempotencyKey: uuid.NewString(),
	}, nil
}

// Submit starts a new logical request and returns the pending job.
func (s *Submitter) Submit(ctx context.Context, modelToken, inferenceText string) (core.Job, error) {
	req, err := s.NewRequest(modelToken, inferenceText)
	if err != nil {
		return core.Job{}, err
	}

	return s.SubmitRequest(ctx, req)
}

// SubmitRequest sends req, retrying transient failures with the same key.
func (s *Submitter) SubmitRequest(ctx context.Context, req core.InferenceRequest) (core.Job, error) {
	err := validateRequest(req)
	if err != nil {
		return core.Job{}, err
	}

	cred, err := s.credentials.Credential(ctx)
	if err != nil {
		return core.Job{}, fmt.Errorf("no credential for submission: %w", err)
	}

	var jobToken string

	err = retry.Do(ctx, s.policy, func(ctx context.Context) error {
		token, createErr := s.provider.CreateInference(ctx, cred, req)
		if createErr != nil {
			return createErr
		}

		jobToken = token

		return nil
	})
	if err != nil {
		if errors.Is(err, retry.ErrExhausted) {
			err = fmt.Errorf("%w: %w", core.ErrProviderUnavailable, err)
		}

		if errors.Is(err, core.ErrAuth) {
			discardCredential(ctx, s.credentials, s.log)
		}

		s.log.Error("Inference submission for model %s failed: %v", req.ModelToken, err)

		return core.Job{}, fmt.Errorf("inference submission failed: %w", err)
	}

	s.log.Info("Submitted inference job for model %s (%d characters)", req.ModelToken, len(req.Text))

	return core.Job{
		Token:   jobToken,
		Request: req,
		Status:  core.JobPending,
	}, nil
}

func validateRequest(req core.InferenceRequest) error {
	if strings.TrimSpace(req.ModelToken) == "" {
		return ErrModelTokenEmpty
	}

	if strings.TrimSpace(req.Text) == "" {
		return ErrTextEmpty
	}

	if req.IdempotencyKey == "" {
		return ErrIdempotencyKeyEmpty
	}

	return nil
}

// discardCredential drops a credential the provider rejected so later calls
// fail with core.ErrNoSession instead of resending it.
func discardCredential(ctx context.Context, credentials core.SessionSource, log *logger.Logger) {
	err := credentials.Invalidate(context.WithoutCancel(ctx))
	if err != nil {
		log.Error("Failed to discard rejected credential: %v", err)
	}
}

func isTransient(err error) bool {
	return errors.Is(err, core.ErrTransient)
}
