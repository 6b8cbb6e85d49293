// Package worker_test tests the NATS request/reply shim.
package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-proxy/internal/core"
	"github.com/book-expert/tts-proxy/internal/service"
	"github.com/book-expert/tts-proxy/internal/worker"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testPrefix     = "tts-test"
	requestTimeout = 2 * time.Second
)

var errMockBroken = errors.New("mock broken")

// mockOperations records calls and returns canned results.
type mockOperations struct {
	mu          sync.Mutex
	submitted   []service.SubmitRequest
	submitErr   error
	statusDelay time.Duration
}

func (m *mockOperations) Authenticate(_ context.Context, req service.AuthenticateRequest) (service.AuthenticateResult, error) {
	if req.Password != "secret" {
		return service.AuthenticateResult{}, fmt.Errorf("%w: bad password", core.ErrAuth)
	}

	return service.AuthenticateResult{Authenticated: true}, nil
}

func (m *mockOperations) Submit(_ context.Context, req service.SubmitRequest) (service.SubmitResult, error) {
	m.mu.Lock()
	m.submitted = append(m.submitted, req)
	m.mu.Unlock()

	if m.submitErr != nil {
		return service.SubmitResult{}, m.submitErr
	}

	return service.SubmitResult{JobToken: "JTINF:1", Status: core.JobPending, IdempotencyKey: "key-1"}, nil
}

func (m *mockOperations) CheckStatus(ctx context.Context, req service.StatusRequest) (service.StatusResult, error) {
	if m.statusDelay > 0 {
		select {
		case <-ctx.Done():
			return service.StatusResult{}, ctx.Err()
		case <-time.After(m.statusDelay):
		}
	}

	if req.JobToken == "" {
		return service.StatusResult{}, fmt.Errorf("%w: job token cannot be empty", core.ErrValidation)
	}

	return service.StatusResult{Status: core.JobCompleteSuccess, AudioURL: "https://cdn.example.test/media/a.wav"}, nil
}

func (m *mockOperations) SearchModels(context.Context, service.SearchRequest) ([]core.VoiceModel, error) {
	return []core.VoiceModel{{Token: "weight_mario", Title: "Mario"}}, nil
}

func (m *mockOperations) FindModel(_ context.Context, req service.FindRequest) (core.VoiceModel, error) {
	if req.Name == "nobody" {
		return core.VoiceModel{}, service.ErrModelNotFound
	}

	return core.VoiceModel{Token: "weight_mario", Title: "Mario"}, nil
}

func (m *mockOperations) FetchAudio(context.Context, service.StatusRequest) (service.FetchResult, error) {
	return service.FetchResult{}, service.ErrJobNotComplete
}

func createTestNatsClient(t *testing.T) *nats.Conn {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1 // Use a random port
	server := test.RunServer(&opts)

	natsConnection, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)

	t.Cleanup(func() {
		natsConnection.Close()
		server.Shutdown()
	})

	return natsConnection
}

func startWorker(t *testing.T, operations worker.Operations, handleTimeout time.Duration) *nats.Conn {
	t.Helper()

	log, err := logger.New(t.TempDir(), "worker-test.log")
	require.NoError(t, err)

	natsConnection := createTestNatsClient(t)
	natsWorker := worker.NewNatsWorker(natsConnection, testPrefix, operations, handleTimeout, log)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- natsWorker.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
		_ = log.Close()
	})

	// Wait until the subscriptions are live.
	require.Eventually(t, func() bool {
		msg, reqErr := natsConnection.Request(worker.Subject(testPrefix, worker.SubjectModelsSearch), nil, 100*time.Millisecond)

		return reqErr == nil && msg != nil
	}, requestTimeout, 20*time.Millisecond)

	return natsConnection
}

func request(t *testing.T, natsConnection *nats.Conn, operation string, body any) worker.Reply {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)

	msg, err := natsConnection.Request(worker.Subject(testPrefix, operation), data, requestTimeout)
	require.NoError(t, err)

	var reply worker.Reply

	require.NoError(t, json.Unmarshal(msg.Data, &reply))

	return reply
}

func TestWorker_Submit(t *testing.T) {
	t.Parallel()

	operations := &mockOperations{}
	natsConnection := startWorker(t, operations, 0)

	reply := request(t, natsConnection, worker.SubjectSubmit, service.SubmitRequest{ModelToken: "weight_mario", Text: "Hi"})
	require.True(t, reply.OK)
	require.Nil(t, reply.Error)

	var result service.SubmitResult

	require.NoError(t, json.Unmarshal(reply.Result, &result))
	assert.Equal(t, "JTINF:1", result.JobToken)
	assert.Equal(t, core.JobPending, result.Status)

	operations.mu.Lock()
	defer operations.mu.Unlock()

	require.Len(t, operations.submitted, 1)
	assert.Equal(t, "weight_mario", operations.submitted[0].ModelToken)
}

func TestWorker_Status(t *testing.T) {
	t.Parallel()

	natsConnection := startWorker(t, &mockOperations{}, 0)

	reply := request(t, natsConnection, worker.SubjectStatus, service.StatusRequest{JobToken: "JTINF:1"})
	require.True(t, reply.OK)

	var result service.StatusResult

	require.NoError(t, json.Unmarshal(reply.Result, &result))
	assert.Equal(t, core.JobCompleteSuccess, result.Status)
	assert.Equal(t, "https://cdn.example.test/media/a.wav", result.AudioURL)
}

func TestWorker_ModelOperations(t *testing.T) {
	t.Parallel()

	natsConnection := startWorker(t, &mockOperations{}, 0)

	reply := request(t, natsConnection, worker.SubjectModelsSearch, service.SearchRequest{Term: "mario"})
	require.True(t, reply.OK)

	var found []core.VoiceModel

	require.NoError(t, json.Unmarshal(reply.Result, &found))
	require.Len(t, found, 1)
	assert.Equal(t, "weight_mario", found[0].Token)

	reply = request(t, natsConnection, worker.SubjectModelsFind, service.FindRequest{Name: "nobody"})
	require.False(t, reply.OK)
	assert.Equal(t, worker.CodeNotFound, reply.Error.Code)
}

func TestWorker_ErrorCodes(t *testing.T) {
	t.Parallel()

	operations := &mockOperations{submitErr: fmt.Errorf("%w: %w", core.ErrProviderUnavailable, core.ErrTransient)}
	natsConnection := startWorker(t, operations, 0)

	tests := []struct {
		name      string
		operation string
		body      any
		code      string
	}{
		{name: "auth", operation: worker.SubjectAuthenticate, body: service.AuthenticateRequest{Username: "u", Password: "x"}, code: worker.CodeUnauthenticated},
		{name: "validation", operation: worker.SubjectStatus, body: service.StatusRequest{}, code: worker.CodeInvalidArgument},
		{name: "unavailable", operation: worker.SubjectSubmit, body: service.SubmitRequest{ModelToken: "m", Text: "t"}, code: worker.CodeUnavailable},
		{name: "precondition", operation: worker.SubjectFetch, body: service.StatusRequest{JobToken: "JTINF:1"}, code: worker.CodeFailedPrecondition},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			reply := request(t, natsConnection, testCase.operation, testCase.body)
			require.False(t, reply.OK)
			require.NotNil(t, reply.Error)
			assert.Equal(t, testCase.code, reply.Error.Code)
			assert.NotEmpty(t, reply.Error.Message)
		})
	}
}

func TestWorker_MalformedRequest(t *testing.T) {
	t.Parallel()

	natsConnection := startWorker(t, &mockOperations{}, 0)

	msg, err := natsConnection.Request(worker.Subject(testPrefix, worker.SubjectSubmit), []byte("{not json"), requestTimeout)
	require.NoError(t, err)

	var reply worker.Reply

	require.NoError(t, json.Unmarshal(msg.Data, &reply))
	require.False(t, reply.OK)
	assert.Equal(t, worker.CodeInvalidArgument, reply.Error.Code)
}

func TestWorker_HandleTimeout(t *testing.T) {
	t.Parallel()

	natsConnection := startWorker(t, &mockOperations{statusDelay: time.Second}, 50*time.Millisecond)

	reply := request(t, natsConnection, worker.SubjectStatus, service.StatusRequest{JobToken: "JTINF:1"})
	require.False(t, reply.OK)
	assert.Equal(t, worker.CodeDeadlineExceeded, reply.Error.Code)
}

func TestWorker_RejectsRequestsAfterShutdown(t *testing.T) {
	t.Parallel()

	log, err := logger.New(t.TempDir(), "worker-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	operations := &mockOperations{}
	natsConnection := createTestNatsClient(t)
	natsWorker := worker.NewNatsWorker(natsConnection, testPrefix, operations, time.Second, log)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, natsWorker.Run(ctx))

	// A callback that fires after Run returned must not start new work.
	_, err = natsConnection.Subscribe("late.submit", natsWorker.Dispatch(worker.SubjectSubmit))
	require.NoError(t, err)

	data, err := json.Marshal(service.SubmitRequest{ModelToken: "weight_mario", Text: "hi"})
	require.NoError(t, err)

	msg, err := natsConnection.Request("late.submit", data, requestTimeout)
	require.NoError(t, err)

	var reply worker.Reply

	require.NoError(t, json.Unmarshal(msg.Data, &reply))
	assert.False(t, reply.OK)
	require.NotNil(t, reply.Error)
	assert.Equal(t, worker.CodeUnavailable, reply.Error.Code)

	operations.mu.Lock()
	defer operations.mu.Unlock()

	assert.Empty(t, operations.submitted)
}

func TestCodeOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		code string
	}{
		{err: core.ErrValidation, code: worker.CodeInvalidArgument},
		{err: core.ErrNoSession, code: worker.CodeUnauthenticated},
		{err: fmt.Errorf("wrapped: %w", core.ErrNotFound), code: worker.CodeNotFound},
		{err: core.ErrSubmission, code: worker.CodeFailedPrecondition},
		{err: core.ErrTransient, code: worker.CodeUnavailable},
		{err: core.ErrProviderUnavailable, code: worker.CodeUnavailable},
		{err: core.ErrTimeout, code: worker.CodeDeadlineExceeded},
		{err: fmt.Errorf("%w: after 5 attempts: %w", core.ErrTimeout, core.ErrAuth), code: worker.CodeDeadlineExceeded},
		{err: fmt.Errorf("%w: %w", core.ErrProviderUnavailable, core.ErrTransient), code: worker.CodeUnavailable},
		{err: context.DeadlineExceeded, code: worker.CodeDeadlineExceeded},
		{err: errMockBroken, code: worker.CodeInternal},
	}

	for _, testCase := range tests {
		assert.Equal(t, testCase.code, worker.CodeOf(testCase.err), testCase.err.Error())
	}
}
