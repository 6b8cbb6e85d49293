package inference_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-proxy/internal/core"
	"github.com/book-expert/tts-proxy/internal/session"
	"github.com/stretchr/testify/require"
)

// statusReply is one scripted answer to a JobState call.
type statusReply struct {
	state core.InferenceState
	err   error
}

// fakeProvider deduplicates jobs by idempotency key the way the real
// provider does, and replays scripted status replies.
type fakeProvider struct {
	mu sync.Mutex

	jobsByKey   map[string]string
	keysSeen    []string
	credsSeen   []core.Credential
	createErrs  []error
	statusQueue []statusReply
	statusCalls int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{jobsByKey: make(map[string]string)}
}

func (f *fakeProvider) SearchModels(context.Context, string) ([]core.VoiceModel, error) {
	return nil, nil
}

func (f *fakeProvider) CreateInference(
	_ context.Context,
	cred core.Credential,
	req core.InferenceRequest,
) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.keysSeen = append(f.keysSeen, req.IdempotencyKey)
	f.credsSeen = append(f.credsSeen, cred)

	if len(f.createErrs) > 0 {
		err := f.createErrs[0]
		f.createErrs = f.createErrs[1:]

		if err != nil {
			return "", err
		}
	}

	token, ok := f.jobsByKey[req.IdempotencyKey]
	if !ok {
		token = fmt.Sprintf("JTINF:%d", len(f.jobsByKey)+1)
		f.jobsByKey[req.IdempotencyKey] = token
	}

	return token, nil
}

func (f *fakeProvider) JobState(context.Context, core.Credential, string) (core.InferenceState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.statusCalls++

	if len(f.statusQueue) == 0 {
		return core.InferenceState{Status: "pending"}, nil
	}

	reply := f.statusQueue[0]
	f.statusQueue = f.statusQueue[1:]

	return reply.state, reply.err
}

func (f *fakeProvider) jobCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.jobsByKey)
}

func (f *fakeProvider) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.statusCalls
}

// staticCredentials hands out a fixed credential or error.
type staticCredentials struct {
	cred core.Credential
	err  error
}

func (s staticCredentials) Credential(context.Context) (core.Credential, error) {
	return s.cred, s.err
}

func (s staticCredentials) Invalidate(context.Context) error {
	return nil
}

// memoryKV is an in-memory core.KeyValueStore.
type memoryKV struct {
	mu     sync.Mutex
	values map[string][]byte
}

func (m *memoryKV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	value, ok := m.values[key]
	if !ok {
		return nil, core.ErrNotFound
	}

	return value, nil
}

func (m *memoryKV) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[key] = value

	return nil
}

func (m *memoryKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.values, key)

	return nil
}

// newLoggedInSession returns a session store already holding token.
func newLoggedInSession(t *testing.T, token string) *session.Store {
	t.Helper()

	store := session.New(
		session.StaticToken{Token: token},
		&memoryKV{values: make(map[string][]byte)},
		createTestLogger(t),
	)

	_, err := store.Authenticate(context.Background(), "", "")
	require.NoError(t, err)

	return store
}

var testCredential = core.Credential{Kind: core.CredentialCookie, Value: "cookie"}

func createTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "inference-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	return log
}
