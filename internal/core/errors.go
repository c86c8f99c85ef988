package core

import (
	"errors"

	"github.com/vovakirdan/supportline/internal/proto"
)

// Error codes for domain errors. They travel unchanged in the error envelope.
const (
	ErrCodeRoomNotFound   = proto.CodeRoomNotFound
	ErrCodeNotInRoom      = proto.CodeNotInRoom
	ErrCodeBadRequest     = proto.CodeBadRequest
	ErrCodeUnauthorized   = proto.CodeUnauthorized
	ErrCodeForbidden      = proto.CodeForbidden
	ErrCodeMessageUnknown = proto.CodeMessageUnknown
	ErrCodeMessageDeleted = proto.CodeMessageDeleted
	ErrCodeNotSender      = proto.CodeNotSender
	ErrCodeRoomClosed     = proto.CodeRoomClosed
	ErrCodeAlreadyClaimed = proto.CodeAlreadyClaimed
	ErrCodeNotWaiting     = proto.CodeNotWaiting
	ErrCodeInternal       = "internal"
)

// ErrHubStopped is returned by request methods once Run has returned.
var ErrHubStopped = errors.New("hub stopped")

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}

// ErrorCode extracts the domain code from err, or "" if err is not a CoreError.
func ErrorCode(err error) string {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}
