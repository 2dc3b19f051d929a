package api

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/solatis/abusefilter/internal/types"
)

// Auth errors are mapped in the auth package interceptor. Everything else
// goes through statusError:
// rule set and store failures map to UNAVAILABLE,
// malformed requests map to INVALID_ARGUMENT,
// context timeouts map to DEADLINE_EXCEEDED.

// errBadRequest marks request decoding failures.
var errBadRequest = errors.New("bad request")

func statusError(err error) error {
	switch {
	case errors.Is(err, errBadRequest):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, types.ErrLogNotFound), errors.Is(err, types.ErrRuleNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, types.ErrRuleSetUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// errorView is how evaluation errors are reported inside responses.
type errorView struct {
	Kind     string `json:"kind"`
	Message  string `json:"message"`
	Position *int   `json:"position,omitempty"`
}

func newErrorView(err error) *errorView {
	v := &errorView{Kind: types.Classify(err), Message: err.Error()}
	var syn *types.SyntaxError
	var typ *types.TypeError
	switch {
	case errors.As(err, &syn):
		v.Position = &syn.Position
	case errors.As(err, &typ):
		v.Position = &typ.Position
	}
	return v
}
