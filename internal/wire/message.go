package wire

import (
	"bytes"
	"encoding/json"
	"fmt"

	"weldon/pkg/errors"
)

// Status is the outcome carried by every response.
type Status string

const (
	StatusSucceed Status = "succeed"
	StatusFailed  Status = "failed"
)

// Request is a command invocation. On the wire it is the JSON array
// [command, [args...], {kwargs}]; the trailing members are optional.
type Request struct {
	Command string
	Args    []json.RawMessage
	Kwargs  map[string]json.RawMessage
}

// NewRequest marshals Go values into a Request.
func NewRequest(command string, args []interface{}, kwargs map[string]interface{}) (Request, error) {
	req := Request{Command: command, Kwargs: make(map[string]json.RawMessage, len(kwargs))}
	for i, a := range args {
		raw, err := json.Marshal(a)
		if err != nil {
			return Request{}, fmt.Errorf("marshal arg %d: %w", i, err)
		}
		req.Args = append(req.Args, raw)
	}
	for k, v := range kwargs {
		raw, err := json.Marshal(v)
		if err != nil {
			return Request{}, fmt.Errorf("marshal kwarg %s: %w", k, err)
		}
		req.Kwargs[k] = raw
	}
	return req, nil
}

// MarshalJSON implements json.Marshaler.
func (r Request) MarshalJSON() ([]byte, error) {
	args := r.Args
	if args == nil {
		args = []json.RawMessage{}
	}
	kwargs := r.Kwargs
	if kwargs == nil {
		kwargs = map[string]json.RawMessage{}
	}
	return json.Marshal([]interface{}{r.Command, args, kwargs})
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Request) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("request must be a JSON array: %w", err)
	}
	if len(parts) == 0 || len(parts) > 3 {
		return fmt.Errorf("request must have 1 to 3 members, got %d", len(parts))
	}
	var out Request
	if err := json.Unmarshal(parts[0], &out.Command); err != nil {
		return fmt.Errorf("command must be a string: %w", err)
	}
	if len(parts) > 1 && !isNull(parts[1]) {
		if err := json.Unmarshal(parts[1], &out.Args); err != nil {
			return fmt.Errorf("args must be an array: %w", err)
		}
	}
	if len(parts) > 2 && !isNull(parts[2]) {
		if err := json.Unmarshal(parts[2], &out.Kwargs); err != nil {
			return fmt.Errorf("kwargs must be an object: %w", err)
		}
	}
	*r = out
	return nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// DecodeRequest parses a request payload, mapping failures to protocol errors.
func DecodeRequest(data []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Request{}, errors.ProtocolError(err, "decode request")
	}
	if req.Command == "" {
		return Request{}, errors.ProtocolError(nil, "empty command")
	}
	return req, nil
}

// Response is the result envelope payload.
type Response struct {
	Status  Status      `json:"status"`
	Payload interface{} `json:"payload"`
}

// Succeed wraps a handler result.
func Succeed(payload interface{}) Response {
	return Response{Status: StatusSucceed, Payload: payload}
}

// Fail wraps an error as a failed response carrying the error message.
func Fail(err error) Response {
	return Response{Status: StatusFailed, Payload: errors.GetError(err).Error()}
}

// RawResponse is the client side view of a Response.
type RawResponse struct {
	Status  Status          `json:"status"`
	Payload json.RawMessage `json:"payload"`
}

// Decode unmarshals a successful payload into out, or returns the failure
// message as an error.
func (r RawResponse) Decode(out interface{}) error {
	if r.Status != StatusSucceed {
		var msg string
		if err := json.Unmarshal(r.Payload, &msg); err != nil {
			msg = string(r.Payload)
		}
		return &RemoteError{Message: msg}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(r.Payload, out)
}

// RemoteError is a failure reported by the server.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}
