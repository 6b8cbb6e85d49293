package main

import (
	"context"
	"testing"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-proxy/internal/config"
	"github.com/book-expert/tts-proxy/internal/core"
	"github.com/book-expert/tts-proxy/internal/objectstore"
	"github.com/book-expert/tts-proxy/internal/session"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCredentialBucket = "TTS_TEST_SESSION"

func createTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "tts-service-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	return log
}

func createCredentialStore(t *testing.T) *objectstore.NatsKeyValueStore {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	server := test.RunServer(&opts)

	natsConnection, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)

	t.Cleanup(func() {
		natsConnection.Close()
		server.Shutdown()
	})

	jetstreamContext, err := natsConnection.JetStream()
	require.NoError(t, err)

	store, err := objectstore.NewKeyValue(jetstreamContext, testCredentialBucket)
	require.NoError(t, err)

	return store
}

// seedCookieSession leaves a password-login credential in the store.
func seedCookieSession(t *testing.T, store *objectstore.NatsKeyValueStore, log *logger.Logger) {
	t.Helper()

	previous := session.New(cookieLogin{}, store, log)

	_, err := previous.Authenticate(context.Background(), "user", "secret")
	require.NoError(t, err)
}

type cookieLogin struct{}

func (cookieLogin) Authenticate(context.Context, string, string) (core.Credential, error) {
	return core.Credential{Kind: core.CredentialCookie, Value: "old-cookie"}, nil
}

func TestPreauthenticate_TokenStrategyReplacesStoredCookie(t *testing.T) {
	t.Parallel()

	log := createTestLogger(t)
	store := createCredentialStore(t)
	seedCookieSession(t, store, log)

	cfg := &config.Config{Auth: config.AuthConfig{Strategy: config.AuthStrategyToken, Token: "api-token"}}
	sessions := session.New(session.StaticToken{Token: cfg.Auth.Token}, store, log)

	preauthenticate(context.Background(), cfg, sessions, log)

	cred, err := sessions.Credential(context.Background())
	require.NoError(t, err)
	assert.Equal(t, core.CredentialBearer, cred.Kind)
	assert.Equal(t, "api-token", cred.Value)
}

func TestPreauthenticate_PasswordStrategyReusesStoredSession(t *testing.T) {
	t.Parallel()

	log := createTestLogger(t)
	store := createCredentialStore(t)
	seedCookieSession(t, store, log)

	cfg := &config.Config{Auth: config.AuthConfig{
		Strategy: config.AuthStrategyPassword,
		Username: "user",
		Password: "secret",
	}}
	sessions := session.New(session.StaticToken{}, store, log)

	preauthenticate(context.Background(), cfg, sessions, log)

	cred, err := sessions.Credential(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "old-cookie", cred.Value)
}

func TestStoredCredentialMatches(t *testing.T) {
	t.Parallel()

	token := &config.Config{Auth: config.AuthConfig{Strategy: config.AuthStrategyToken, Token: "api-token"}}
	password := &config.Config{Auth: config.AuthConfig{Strategy: config.AuthStrategyPassword}}

	assert.True(t, storedCredentialMatches(token, core.Credential{Kind: core.CredentialBearer, Value: "api-token"}))
	assert.False(t, storedCredentialMatches(token, core.Credential{Kind: core.CredentialBearer, Value: "rotated"}))
	assert.False(t, storedCredentialMatches(token, core.Credential{Kind: core.CredentialCookie, Value: "api-token"}))
	assert.True(t, storedCredentialMatches(password, core.Credential{Kind: core.CredentialCookie, Value: "c"}))
}
