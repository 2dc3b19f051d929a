package api

import (
	"context"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/solatis/abusefilter/internal/types"
)

type syntaxRequest struct {
	Pattern string `json:"pattern"`
}

type syntaxResponse struct {
	OK         bool       `json:"ok"`
	StaticCost int        `json:"static_cost,omitempty"`
	Error      *errorView `json:"error,omitempty"`
}

// CheckSyntax validates a rule pattern. Invalid patterns are a normal
// response, not a failed call.
func (s *FilterService) CheckSyntax(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req syntaxRequest
	if err := decode(in, &req); err != nil {
		return nil, statusError(err)
	}
	resp := syntaxResponse{OK: true}
	prog, err := s.runner.CheckSyntax(req.Pattern)
	if err != nil {
		resp = syntaxResponse{Error: newErrorView(err)}
	} else {
		resp.StaticCost = prog.StaticCost
	}
	return encodeOrStatus(resp)
}

type evaluateRequest struct {
	Pattern string         `json:"pattern"`
	Vars    map[string]any `json:"vars"`
}

type examineRequest struct {
	Pattern string      `json:"pattern"`
	LogID   types.LogID `json:"log_id"`
}

type evaluateResponse struct {
	Matched bool        `json:"matched"`
	Value   types.Value `json:"value"`
	Ops     int         `json:"ops"`
	Error   *errorView  `json:"error,omitempty"`
}

// Evaluate runs a pattern against caller-supplied variables.
func (s *FilterService) Evaluate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req evaluateRequest
	if err := decode(in, &req); err != nil {
		return nil, statusError(err)
	}
	dump := make(map[string]types.Value, len(req.Vars))
	for name, raw := range req.Vars {
		v, err := types.FromNative(raw)
		if err != nil {
			return nil, statusError(fmt.Errorf("%w: variable %s: %v", errBadRequest, name, err))
		}
		dump[name] = v
	}
	return s.examine(ctx, req.Pattern, dump)
}

// Examine runs a pattern against the variables of a logged match.
func (s *FilterService) Examine(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req examineRequest
	if err := decode(in, &req); err != nil {
		return nil, statusError(err)
	}
	id, err := types.ParseLogID(string(req.LogID))
	if err != nil {
		return nil, statusError(fmt.Errorf("%w: log_id: %v", errBadRequest, err))
	}
	entry, err := s.logs.GetLog(ctx, id)
	if err != nil {
		return nil, statusError(err)
	}
	return s.examine(ctx, req.Pattern, entry.VarDump)
}

func (s *FilterService) examine(ctx context.Context, pattern string, dump map[string]types.Value) (*structpb.Struct, error) {
	res, err := s.runner.Examine(ctx, pattern, dump)
	if err != nil {
		return encodeOrStatus(evaluateResponse{Value: types.Null, Error: newErrorView(err)})
	}
	return encodeOrStatus(evaluateResponse{Matched: res.Matched, Value: res.Value, Ops: res.Ops})
}

func encodeOrStatus(v any) (*structpb.Struct, error) {
	out, err := encode(v)
	if err != nil {
		return nil, statusError(err)
	}
	return out, nil
}
