package transport

import (
	"encoding/json"
	"errors"
	"fmt"

	"gateway/internal/domain"
)

// Request is the command pushed onto a backend queue.
type Request struct {
	ID        string          `json:"id"`
	Pattern   string          `json:"pattern"`
	Data      json.RawMessage `json:"data,omitempty"`
	ReplyTo   string          `json:"replyTo,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
}

// Envelope is the reply shape used by both transports.
type Envelope struct {
	ID    string          `json:"id,omitempty"`
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *ErrorBody      `json:"error,omitempty"`
}

type ErrorBody struct {
	StatusCode int     `json:"statusCode,omitempty"`
	Message    Message `json:"message"`
	Detail     any     `json:"detail,omitempty"`
}

// Message is a string on the wire unless it carries several entries.
type Message []string

func (m Message) MarshalJSON() ([]byte, error) {
	switch len(m) {
	case 0:
		return []byte(`""`), nil
	case 1:
		return json.Marshal(m[0])
	default:
		return json.Marshal([]string(m))
	}
}

func (m *Message) UnmarshalJSON(b []byte) error {
	var single string
	if err := json.Unmarshal(b, &single); err == nil {
		if single == "" {
			*m = nil
		} else {
			*m = Message{single}
		}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return fmt.Errorf("message must be a string or a list of strings: %w", err)
	}
	*m = Message(many)
	return nil
}

// Result returns the reply data, or a *RemoteError when the envelope
// carries a failure.
func (e Envelope) Result() (json.RawMessage, error) {
	if e.OK {
		if len(e.Data) == 0 {
			return json.RawMessage("null"), nil
		}
		return e.Data, nil
	}
	if e.Error == nil {
		return nil, &RemoteError{Messages: []string{"backend returned a failed reply without error body"}}
	}
	return nil, &RemoteError{
		StatusCode: e.Error.StatusCode,
		Messages:   []string(e.Error.Message),
		Detail:     e.Error.Detail,
	}
}

// Success wraps a handler result.
func Success(id string, v any) (Envelope, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal reply: %w", err)
	}
	return Envelope{ID: id, OK: true, Data: data}, nil
}

// Failure wraps a handler error. Typed domain errors get their status code,
// a *RemoteError is relayed as is, anything else goes out without status.
func Failure(id string, err error) Envelope {
	var remote *RemoteError
	if errors.As(err, &remote) {
		return Envelope{ID: id, Error: &ErrorBody{
			StatusCode: remote.StatusCode,
			Message:    Message(remote.Messages),
			Detail:     remote.Detail,
		}}
	}
	return Envelope{ID: id, Error: &ErrorBody{
		StatusCode: domain.StatusCode(err),
		Message:    Message{err.Error()},
	}}
}
