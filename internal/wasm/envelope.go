package wasm

import (
	"encoding/json"
	"fmt"

	"github.com/danmuck/actorctl/internal/value"
)

// handleEnvelope is the record the handle export returns: the
// component's computed output plus the replacement state.
type handleEnvelope struct {
	Output json.RawMessage `json:"output"`
	State  json.RawMessage `json:"state"`
}

// httpEnvelope is the record the handle-http export returns.
type httpEnvelope struct {
	Response json.RawMessage `json:"response"`
	State    json.RawMessage `json:"state"`
}

func decodeHandleEnvelope(data []byte) (output, newState value.Value, err error) {
	var env handleEnvelope
	if err := value.DecodeInto(data, &env); err != nil {
		return nil, nil, err
	}
	if env.State == nil {
		return nil, nil, fmt.Errorf("%w: handle envelope missing state", value.ErrDecode)
	}
	newState, err = value.Decode(env.State)
	if err != nil {
		return nil, nil, err
	}
	if env.Output != nil {
		output, err = value.Decode(env.Output)
		if err != nil {
			return nil, nil, err
		}
	}
	return output, newState, nil
}

func decodeHTTPEnvelope(data []byte) (HTTPResponse, value.Value, error) {
	var env httpEnvelope
	if err := value.DecodeInto(data, &env); err != nil {
		return HTTPResponse{}, nil, err
	}
	if env.State == nil {
		return HTTPResponse{}, nil, fmt.Errorf("%w: http envelope missing state", value.ErrDecode)
	}
	if env.Response == nil {
		return HTTPResponse{}, nil, fmt.Errorf("%w: http envelope missing response", value.ErrDecode)
	}
	var response HTTPResponse
	if err := value.DecodeInto(env.Response, &response); err != nil {
		return HTTPResponse{}, nil, err
	}
	newState, err := value.Decode(env.State)
	if err != nil {
		return HTTPResponse{}, nil, err
	}
	return response, newState, nil
}
