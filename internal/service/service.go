// Package service is the operation surface of the TTS proxy. Each exported
// method is one endpoint served by the transport shim.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/tts-proxy/internal/audio"
	"github.com/book-expert/tts-proxy/internal/core"
	"github.com/book-expert/tts-proxy/internal/inference"
	"github.com/book-expert/tts-proxy/internal/models"
	"github.com/google/uuid"
)

// Static errors.
var (
	ErrModelNameEmpty = fmt.Errorf("%w: model name cannot be empty", core.ErrValidation)
	ErrModelNotFound  = fmt.Errorf("%w: no voice model matches", core.ErrNotFound)
	ErrJobNotComplete = fmt.Errorf("%w: job has not completed", core.ErrSubmission)
	ErrJobFailed      = fmt.Errorf("%w: job failed", core.ErrSubmission)
	ErrNoAudio        = fmt.Errorf("%w: job has no audio", core.ErrNotFound)
)

// Publisher sends a message on a subject. *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Dependencies are the collaborators of a Service.
type Dependencies struct {
	Sessions          core.Authenticator
	Resolver          *models.Resolver
	Submitter         *inference.Submitter
	Poller            *inference.Poller
	Fetcher           core.AudioFetcher
	Archive           core.ObjectStore
	Publisher         Publisher
	AudioReadySubject string
	PollInterval      time.Duration
	PollMaxAttempts   int
	Log               *logger.Logger
}

// Service implements the proxy operations.
type Service struct {
	deps Dependencies
}

// New creates a Service.
func New(deps Dependencies) *Service {
	return &Service{deps: deps}
}

// AuthenticateRequest carries login credentials. The token strategy ignores
// both fields.
type AuthenticateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthenticateResult reports a successful login. The credential itself never
// leaves the service.
type AuthenticateResult struct {
	Authenticated bool      `json:"authenticated"`
	AcquiredAt    time.Time `json:"acquired_at"`
}

// SubmitRequest starts a generation job. IdempotencyKey is optional; a caller
// retrying a submission it already sent passes back the key it was given.
type SubmitRequest struct {
	ModelToken     string `json:"model_token"`
	Text           string `json:"text"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// SubmitResult is the accepted job.
type SubmitResult struct {
	JobToken       string         `json:"job_token"`
	Status         core.JobStatus `json:"status"`
	IdempotencyKey string         `json:"idempotency_key"`
}

// StatusRequest names a job.
type StatusRequest struct {
	JobToken string `json:"job_token"`
	Wait     bool   `json:"wait,omitempty"`
}

// StatusResult is the job status and, once complete, its audio URL.
type StatusResult struct {
	Status   core.JobStatus `json:"status"`
	AudioURL string         `json:"audio_url,omitempty"`
}

// SearchRequest is a voice model search.
type SearchRequest struct {
	Term string `json:"term"`
}

// FindRequest looks a voice model up by display name.
type FindRequest struct {
	Name string `json:"name"`
}

// FetchResult describes archived audio.
type FetchResult struct {
	AudioKey string  `json:"audio_key"`
	AudioURL string  `json:"audio_url"`
	Size     int     `json:"size"`
	Duration float64 `json:"duration_seconds"`
}

// Authenticate logs in and stores the resulting credential. Field checks
// belong to the configured authenticator.
func (s *Service) Authenticate(ctx context.Context, req AuthenticateRequest) (AuthenticateResult, error) {
	cred, err := s.deps.Sessions.Authenticate(ctx, req.Username, req.Password)
	if err != nil {
		return AuthenticateResult{}, fmt.Errorf("authenticate: %w", err)
	}

	return AuthenticateResult{Authenticated: true, AcquiredAt: cred.AcquiredAt}, nil
}

// Submit starts a generation job and returns its token with status pending.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	inferenceRequest, err := s.deps.Submitter.NewRequest(req.ModelToken, req.Text)
	if err != nil {
		return SubmitResult{}, err
	}

	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		inferenceRequest.IdempotencyKey = key
	}

	job, err := s.deps.Submitter.SubmitRequest(ctx, inferenceRequest)
	if err != nil {
		return SubmitResult{}, err
	}

	return SubmitResult{
		JobToken:       job.Token,
		Status:         job.Status,
		IdempotencyKey: job.Request.IdempotencyKey,
	}, nil
}

// CheckStatus issues one status query, or polls until terminal when
// req.Wait is set.
func (s *Service) CheckStatus(ctx context.Context, req StatusRequest) (StatusResult, error) {
	job, err := s.job(ctx, req)
	if err != nil {
		return StatusResult{}, err
	}

	return StatusResult{Status: job.Status, AudioURL: job.AudioURL}, nil
}

// SearchModels returns the voice models matching term. A blank term lists
// the default search.
func (s *Service) SearchModels(ctx context.Context, req SearchRequest) ([]core.VoiceModel, error) {
	found, err := s.deps.Resolver.Search(ctx, req.Term)
	if err != nil {
		return nil, fmt.Errorf("search models: %w", err)
	}

	return found, nil
}

// FindModel resolves a display name to a single voice model.
func (s *Service) FindModel(ctx context.Context, req FindRequest) (core.VoiceModel, error) {
	if strings.TrimSpace(req.Name) == "" {
		return core.VoiceModel{}, ErrModelNameEmpty
	}

	model, ok, err := s.deps.Resolver.FindByName(ctx, req.Name)
	if err != nil {
		return core.VoiceModel{}, fmt.Errorf("find model: %w", err)
	}

	if !ok {
		return core.VoiceModel{}, fmt.Errorf("%w: %q", ErrModelNotFound, req.Name)
	}

	return model, nil
}

// FetchAudio downloads the audio of a completed job into the archive under
// AudioKey(job token) and announces it on the audio-ready subject.
func (s *Service) FetchAudio(ctx context.Context, req StatusRequest) (FetchResult, error) {
	job, err := s.job(ctx, req)
	if err != nil {
		return FetchResult{}, err
	}

	switch job.Status {
	case core.JobFailed:
		return FetchResult{}, ErrJobFailed
	case core.JobPending:
		return FetchResult{}, ErrJobNotComplete
	case core.JobCompleteSuccess:
	}

	if job.AudioURL == "" {
		return FetchResult{}, ErrNoAudio
	}

	audioData, err := s.deps.Fetcher.FetchAudio(ctx, job.AudioURL)
	if err != nil {
		return FetchResult{}, fmt.Errorf("download audio: %w", err)
	}

	// A damaged download is worth fetching again.
	info, err := audio.Inspect(audioData)
	if err != nil {
		return FetchResult{}, fmt.Errorf("%w: %w", core.ErrTransient, err)
	}

	key := AudioKey(job.Token)

	err = s.deps.Archive.Upload(ctx, key, audioData)
	if err != nil {
		return FetchResult{}, fmt.Errorf("archive audio under %s: %w", key, err)
	}

	s.deps.Log.Info("Archived %s of audio (%s, %d Hz) as %s",
		FormatSize(len(audioData)), info.Duration(), info.SampleRate, key)

	err = s.announce(key)
	if err != nil {
		s.deps.Log.Warn("Failed to announce audio %s: %v", key, err)
	}

	return FetchResult{
		AudioKey: key,
		AudioURL: job.AudioURL,
		Size:     len(audioData),
		Duration: info.Duration().Seconds(),
	}, nil
}

func (s *Service) job(ctx context.Context, req StatusRequest) (core.Job, error) {
	if req.Wait {
		return s.deps.Poller.PollUntilTerminal(ctx, req.JobToken, s.deps.PollInterval, s.deps.PollMaxAttempts)
	}

	return s.deps.Poller.CheckStatus(ctx, req.JobToken)
}

func (s *Service) announce(audioKey string) error {
	if s.deps.Publisher == nil || s.deps.AudioReadySubject == "" {
		return nil
	}

	event := events.AudioChunkCreatedEvent{
		Header: events.EventHeader{
			Timestamp:  time.Now(),
			WorkflowID: uuid.NewString(),
			EventID:    uuid.NewString(),
			UserID:     "",
			TenantID:   "",
		},
		AudioKey:   audioKey,
		PageNumber: 1,
		TotalPages: 1,
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audio event: %w", err)
	}

	err = s.deps.Publisher.Publish(s.deps.AudioReadySubject, data)
	if err != nil {
		return fmt.Errorf("publish audio event: %w", err)
	}

	return nil
}
