package worker

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/book-expert/tts-proxy/internal/core"
)

// Operation subjects, relative to the configured prefix.
const (
	SubjectAuthenticate = "authenticate"
	SubjectSubmit       = "submit"
	SubjectStatus       = "status"
	SubjectModelsSearch = "models.search"
	SubjectModelsFind   = "models.find"
	SubjectFetch        = "fetch"
)

// Reply codes.
const (
	CodeInvalidArgument    = "invalid-argument"
	CodeUnauthenticated    = "unauthenticated"
	CodeNotFound           = "not-found"
	CodeFailedPrecondition = "failed-precondition"
	CodeUnavailable        = "unavailable"
	CodeDeadlineExceeded   = "deadline-exceeded"
	CodeInternal           = "internal"
)

// Reply is the envelope of every response.
type Reply struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ReplyError     `json:"error,omitempty"`
}

// ReplyError describes a failed operation.
type ReplyError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ReplyError) Error() string {
	return e.Code + ": " + e.Message
}

// Subject joins prefix and an operation subject.
func Subject(prefix, operation string) string {
	return prefix + "." + operation
}

// CodeOf maps an error to its reply code.
func CodeOf(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeDeadlineExceeded
	}

	switch core.Kind(err) {
	case core.ErrValidation:
		return CodeInvalidArgument
	case core.ErrAuth:
		return CodeUnauthenticated
	case core.ErrNotFound:
		return CodeNotFound
	case core.ErrSubmission:
		return CodeFailedPrecondition
	case core.ErrTimeout:
		return CodeDeadlineExceeded
	case core.ErrProviderUnavailable, core.ErrTransient:
		return CodeUnavailable
	default:
		return CodeInternal
	}
}
