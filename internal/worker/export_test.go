package worker

import "github.com/nats-io/nats.go"

// Dispatch exposes the message handler for operation.
func (w *NatsWorker) Dispatch(operation string) nats.MsgHandler {
	return w.dispatch(operation, w.handlers()[operation])
}
