package session

import (
	"context"
	"fmt"
	"time"

	"github.com/book-expert/tts-proxy/internal/core"
)

// StaticToken is the authenticator for deployments holding a pre-issued API
// token. Username and password are ignored.
type StaticToken struct {
	Token string
}

// Authenticate returns the configured token as a bearer credential.
func (t StaticToken) Authenticate(_ context.Context, _, _ string) (core.Credential, error) {
	if t.Token == "" {
		return core.Credential{}, fmt.Errorf("%w: no api token configured", core.ErrAuth)
	}

	return core.Credential{
		Kind:       core.CredentialBearer,
		Value:      t.Token,
		AcquiredAt: time.Now().UTC(),
	}, nil
}
