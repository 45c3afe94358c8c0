package transport

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	// ErrUnreachable is returned when the destination cannot be contacted.
	ErrUnreachable = errors.New("transport: peer unreachable")

	// ErrUnavailable is returned by handlers of a node that is stopping.
	ErrUnavailable = errors.New("transport: node unavailable")

	ErrNoHandler = errors.New("transport: no handler registered for message")
)

func statusError(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "request timed out")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request canceled")
	case errors.Is(err, ErrUnavailable):
		return status.Error(codes.Unavailable, "node is shutting down")
	case errors.Is(err, ErrNoHandler):
		return status.Error(codes.Unimplemented, err.Error())
	default:
		if _, ok := status.FromError(err); ok {
			return err
		}
		return status.Errorf(codes.Internal, "handler: %v", err)
	}
}

// IsUnreachable reports whether err means the request never reached a
// handler, as opposed to a handler answering with an error.
func IsUnreachable(err error) bool {
	if errors.Is(err, ErrUnreachable) {
		return true
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
		return true
	}
	return false
}
