// Package core defines the domain types, error kinds and collaborator interfaces
// shared by the TTS proxy.
package core

import "context"

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}

// KeyValueStore holds small durable records such as the session credential.
// Get returns ErrNotFound when the key has no value.
type KeyValueStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Authenticator acquires a credential from the remote provider. Password login
// and pre-issued tokens are the two strategies.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (Credential, error)
}

// CredentialSource supplies the credential attached to every outbound call.
type CredentialSource interface {
	Credential(ctx context.Context) (Credential, error)
}

// SessionSource is a CredentialSource that can discard a credential the
// provider rejected.
type SessionSource interface {
	CredentialSource
	Invalidate(ctx context.Context) error
}

// Provider is the remote TTS API as seen by the core.
type Provider interface {
	SearchModels(ctx context.Context, term string) ([]VoiceModel, error)
	CreateInference(ctx context.Context, cred Credential, req InferenceRequest) (string, error)
	JobState(ctx context.Context, cred Credential, jobToken string) (InferenceState, error)
}

// AudioFetcher downloads generated audio from an absolute URL.
type AudioFetcher interface {
	FetchAudio(ctx context.Context, audioURL string) ([]byte, error)
}
