// Package worker serves the proxy operations as NATS request/reply subjects.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-proxy/internal/core"
	"github.com/book-expert/tts-proxy/internal/service"
	"github.com/nats-io/nats.go"
)

const (
	defaultHandleTimeout = 30 * time.Second
	drainPollInterval    = 10 * time.Millisecond
	queueGroup           = "tts-proxy"
)

// ErrMalformedRequest indicates a request body that is not valid JSON for
// its operation.
var ErrMalformedRequest = fmt.Errorf("%w: malformed request", core.ErrValidation)

// ErrShuttingDown is the reply to a request delivered after the worker
// stopped accepting work.
var ErrShuttingDown = fmt.Errorf("%w: worker is shutting down", core.ErrTransient)

// Operations is the service surface exposed over NATS.
type Operations interface {
	Authenticate(ctx context.Context, req service.AuthenticateRequest) (service.AuthenticateResult, error)
	Submit(ctx context.Context, req service.SubmitRequest) (service.SubmitResult, error)
	CheckStatus(ctx context.Context, req service.StatusRequest) (service.StatusResult, error)
	SearchModels(ctx context.Context, req service.SearchRequest) ([]core.VoiceModel, error)
	FindModel(ctx context.Context, req service.FindRequest) (core.VoiceModel, error)
	FetchAudio(ctx context.Context, req service.StatusRequest) (service.FetchResult, error)
}

type handlerFunc func(ctx context.Context, data []byte) (any, error)

// NatsWorker answers requests on <prefix>.<operation> subjects.
type NatsWorker struct {
	natsConnection *nats.Conn
	prefix         string
	operations     Operations
	handleTimeout  time.Duration
	log            *logger.Logger

	mu       sync.Mutex
	closed   bool
	inFlight sync.WaitGroup
}

// NewNatsWorker creates a new instance of a NATS worker. handleTimeout bounds
// one request, including a waiting status poll.
func NewNatsWorker(
	natsConnection *nats.Conn,
	prefix string,
	operations Operations,
	handleTimeout time.Duration,
	log *logger.Logger,
) *NatsWorker {
	if handleTimeout <= 0 {
		handleTimeout = defaultHandleTimeout
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		prefix:         prefix,
		operations:     operations,
		handleTimeout:  handleTimeout,
		log:            log,
	}
}

// Run subscribes to every operation subject and serves until ctx is done,
// then drains the subscriptions and waits for in-flight requests.
func (w *NatsWorker) Run(ctx context.Context) error {
	handlers := w.handlers()
	subscriptions := make([]*nats.Subscription, 0, len(handlers))

	defer w.closeAndWait()

	for operation, handler := range handlers {
		subject := Subject(w.prefix, operation)

		sub, err := w.natsConnection.QueueSubscribe(subject, queueGroup, w.dispatch(operation, handler))
		if err != nil {
			_ = drainAll(subscriptions)

			return fmt.Errorf("failed to subscribe to subject %s: %w", subject, err)
		}

		subscriptions = append(subscriptions, sub)
	}

	err := w.natsConnection.Flush()
	if err != nil {
		_ = drainAll(subscriptions)

		return fmt.Errorf("failed to flush subscriptions: %w", err)
	}

	w.log.System("Serving %d operations under %s.*", len(subscriptions), w.prefix)

	<-ctx.Done()

	drainErr := drainAll(subscriptions)
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscriptions: %w", drainErr)
	}

	waitDrained(subscriptions, w.handleTimeout)

	return nil
}

func (w *NatsWorker) handlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		SubjectAuthenticate: decodeAndCall(w.operations.Authenticate),
		SubjectSubmit:       decodeAndCall(w.operations.Submit),
		SubjectStatus:       decodeAndCall(w.operations.CheckStatus),
		SubjectModelsSearch: decodeAndCall(w.operations.SearchModels),
		SubjectModelsFind:   decodeAndCall(w.operations.FindModel),
		SubjectFetch:        decodeAndCall(w.operations.FetchAudio),
	}
}

// dispatch runs each request on its own goroutine so a waiting poll does not
// hold up the subject.
func (w *NatsWorker) dispatch(operation string, handler handlerFunc) nats.MsgHandler {
	return func(msg *nats.Msg) {
		w.mu.Lock()
		if w.closed {
			w.mu.Unlock()
			w.rejectLate(operation, msg)

			return
		}

		w.inFlight.Add(1)
		w.mu.Unlock()

		go func() {
			defer w.inFlight.Done()

			w.handleMessage(operation, handler, msg)
		}()
	}
}

// closeAndWait stops new requests from being accepted, then waits for the
// ones already running. No Add can follow the Wait.
func (w *NatsWorker) closeAndWait() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()

	w.inFlight.Wait()
}

func (w *NatsWorker) rejectLate(operation string, msg *nats.Msg) {
	w.log.Warn("Rejecting %s request received during shutdown", operation)

	if msg.Reply == "" {
		return
	}

	err := w.publishReply(msg, buildReply(nil, ErrShuttingDown))
	if err != nil {
		w.log.Error("Failed to reply to %s: %v", operation, err)
	}
}

func (w *NatsWorker) handleMessage(operation string, handler handlerFunc, msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), w.handleTimeout)
	defer cancel()

	result, err := handler(ctx, msg.Data)

	reply := buildReply(result, err)
	if err != nil {
		w.log.Error("Operation %s failed (%s): %v", operation, reply.Error.Code, err)
	}

	if msg.Reply == "" {
		return
	}

	err = w.publishReply(msg, reply)
	if err != nil {
		w.log.Error("Failed to reply to %s: %v", operation, err)
	}
}

// publishReply marshals and responds with the reply envelope.
func (w *NatsWorker) publishReply(msg *nats.Msg, reply Reply) error {
	replyData, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("failed to marshal reply: %w", err)
	}

	err = msg.Respond(replyData)
	if err != nil {
		return fmt.Errorf("failed to publish reply: %w", err)
	}

	return nil
}

func buildReply(result any, err error) Reply {
	if err != nil {
		return Reply{OK: false, Error: &ReplyError{Code: CodeOf(err), Message: err.Error()}}
	}

	data, marshalErr := json.Marshal(result)
	if marshalErr != nil {
		return Reply{OK: false, Error: &ReplyError{Code: CodeInternal, Message: marshalErr.Error()}}
	}

	return Reply{OK: true, Result: data}
}

func decodeAndCall[Req, Res any](call func(context.Context, Req) (Res, error)) handlerFunc {
	return func(ctx context.Context, data []byte) (any, error) {
		var req Req

		if len(data) > 0 {
			err := json.Unmarshal(data, &req)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrMalformedRequest, err)
			}
		}

		return call(ctx, req)
	}
}

func drainAll(subscriptions []*nats.Subscription) error {
	var errs []error

	for _, sub := range subscriptions {
		err := sub.Drain()
		if err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// waitDrained blocks until every subscription has delivered its pending
// messages, or timeout passes.
func waitDrained(subscriptions []*nats.Subscription, timeout time.Duration) {
	deadline := time.Now().Add(timeout)

	for _, sub := range subscriptions {
		for sub.IsValid() && time.Now().Before(deadline) {
			time.Sleep(drainPollInterval)
		}
	}
}
