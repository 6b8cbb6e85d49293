package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-proxy/internal/worker"
	"github.com/nats-io/nats.go"
)

var errEmptyReply = errors.New("service returned an empty reply")

// rpcClient sends one request per call and decodes the reply envelope.
type rpcClient struct {
	natsConnection *nats.Conn
	prefix         string
	timeout        time.Duration
	log            *logger.Logger
}

func (c *rpcClient) call(ctx context.Context, operation string, req, out any) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", operation, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	msg, err := c.natsConnection.RequestWithContext(ctx, worker.Subject(c.prefix, operation), data)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", operation, err)
	}

	var reply worker.Reply

	err = json.Unmarshal(msg.Data, &reply)
	if err != nil {
		return fmt.Errorf("failed to decode %s reply: %w", operation, err)
	}

	if !reply.OK {
		if reply.Error == nil {
			return errEmptyReply
		}

		c.log.Warn("Operation %s returned %s", operation, reply.Error.Code)

		return reply.Error
	}

	if out == nil || len(reply.Result) == 0 {
		return nil
	}

	err = json.Unmarshal(reply.Result, out)
	if err != nil {
		return fmt.Errorf("failed to decode %s result: %w", operation, err)
	}

	return nil
}
