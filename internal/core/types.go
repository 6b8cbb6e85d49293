package core

import "time"

// CredentialKind tells the provider client how to attach a credential.
type CredentialKind string

const (
	// CredentialCookie is a session cookie obtained from a password login.
	CredentialCookie CredentialKind = "cookie"
	// CredentialBearer is a pre-issued API token sent as a bearer header.
	CredentialBearer CredentialKind = "bearer"
)

// Credential is an opaque authentication token plus the time it was acquired.
// Value must never be written to logs.
type Credential struct {
	Kind       CredentialKind `json:"kind"`
	Value      string         `json:"value"`
	AcquiredAt time.Time      `json:"acquired_at"`
}

// IsZero reports whether the credential carries no token.
func (c Credential) IsZero() bool {
	return c.Value == ""
}

// VoiceModel is a voice the provider can synthesize with.
type VoiceModel struct {
	Token      string `json:"token"`
	Title      string `json:"title"`
	SearchText string `json:"search_text"`
}

// JobStatus is the client-side view of a job's lifecycle.
type JobStatus string

const (
	JobPending         JobStatus = "pending"
	JobCompleteSuccess JobStatus = "complete_success"
	JobFailed          JobStatus = "failed"
)

// Terminal reports whether no further status change can happen.
func (s JobStatus) Terminal() bool {
	return s == JobCompleteSuccess || s == JobFailed
}

// Provider-reported terminal states. Everything else (pending, started,
// attempt_failed, ...) is still pending from our side.
const (
	providerStatusCompleteSuccess = "complete_success"
	providerStatusCompleteFailure = "complete_failure"
	providerStatusDead            = "dead"
)

// ParseJobStatus maps a provider status string onto JobStatus.
func ParseJobStatus(raw string) JobStatus {
	switch raw {
	case providerStatusCompleteSuccess:
		return JobCompleteSuccess
	case providerStatusCompleteFailure, providerStatusDead:
		return JobFailed
	default:
		return JobPending
	}
}

// InferenceRequest is one logical generation request. IdempotencyKey is set
// once and reused on every retry of the same request.
type InferenceRequest struct {
	ModelToken     string `json:"tts_model_token"`
	Text           string `json:"inference_text"`
	IdempotencyKey string `json:"uuid_idempotency_token"`
}

// InferenceState is the raw provider view of a job.
type InferenceState struct {
	Status          string
	LegacyAudioPath string
	CDNAudioPath    string
}

// Job is an asynchronous generation request tracked by a provider token.
type Job struct {
	Token     string           `json:"job_token"`
	Request   InferenceRequest `json:"request"`
	Status    JobStatus        `json:"status"`
	AudioPath string           `json:"audio_path,omitempty"`
	AudioURL  string           `json:"audio_url,omitempty"`
}
