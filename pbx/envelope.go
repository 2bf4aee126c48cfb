package pbx

import (
	"encoding/json"
	"errors"
	"fmt"
)

type (
	// ClientMsg is a client-to-server envelope.
	ClientMsg struct {
		Payload ClientPayload
	}

	// ServerMsg is a server-to-client envelope.
	ServerMsg struct {
		Payload ServerPayload
	}
)

var (
	// ErrNoPayload is returned when encoding or decoding an envelope that has
	// no payload.
	ErrNoPayload = errors.New("pbx: envelope has no payload")

	// ErrMultiplePayloads is returned when decoding an envelope that has more
	// than one payload key.
	ErrMultiplePayloads = errors.New("pbx: envelope has multiple payloads")
)

// UnknownKindError is returned when decoding an envelope with an unknown
// payload key.
type UnknownKindError struct {
	Kind string
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("pbx: unknown payload kind %q", e.Kind)
}

func (x *ClientMsg) MarshalJSON() ([]byte, error) {
	if !IsValidPayload(x.Payload) {
		return nil, ErrNoPayload
	}
	return marshalEnvelope(x.Payload.clientKind(), encodeClientPayload(x.Payload))
}

func (x *ClientMsg) UnmarshalJSON(b []byte) error {
	kind, raw, err := unmarshalEnvelope(b)
	if err != nil {
		return err
	}
	payload, err := decodeClientPayload(kind, raw)
	if err != nil {
		return decodeError(kind, err)
	}
	x.Payload = payload
	return nil
}

func (x *ServerMsg) MarshalJSON() ([]byte, error) {
	if !IsValidPayload(x.Payload) {
		return nil, ErrNoPayload
	}
	return marshalEnvelope(x.Payload.serverKind(), encodeServerPayload(x.Payload))
}

func (x *ServerMsg) UnmarshalJSON(b []byte) error {
	kind, raw, err := unmarshalEnvelope(b)
	if err != nil {
		return err
	}
	payload, err := decodeServerPayload(kind, raw)
	if err != nil {
		return decodeError(kind, err)
	}
	x.Payload = payload
	return nil
}

// IsValidPayload reports whether payload is a non-nil pointer to one of the
// client or server payload kinds.
func IsValidPayload(payload any) bool {
	switch p := payload.(type) {
	case *ClientHi:
		return p != nil
	case *ClientAcc:
		return p != nil
	case *ClientLogin:
		return p != nil
	case *ClientSub:
		return p != nil
	case *ClientLeave:
		return p != nil
	case *ClientPub:
		return p != nil
	case *ClientGet:
		return p != nil
	case *ClientSet:
		return p != nil
	case *ClientDel:
		return p != nil
	case *ClientNote:
		return p != nil
	case *ServerCtrl:
		return p != nil
	case *ServerData:
		return p != nil
	case *ServerPres:
		return p != nil
	case *ServerMeta:
		return p != nil
	case *ServerInfo:
		return p != nil
	default:
		return false
	}
}

func decodeError(kind string, err error) error {
	var unknown *UnknownKindError
	if errors.As(err, &unknown) {
		return err
	}
	return fmt.Errorf("pbx: decode %s: %w", kind, err)
}

func marshalEnvelope(kind string, payload any) ([]byte, error) {
	return json.Marshal(map[string]any{kind: payload})
}

func unmarshalEnvelope(b []byte) (string, json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return "", nil, fmt.Errorf("pbx: decode envelope: %w", err)
	}
	var (
		kind string
		raw  json.RawMessage
	)
	for k, v := range fields {
		if string(v) == "null" {
			continue
		}
		if kind != "" {
			return "", nil, ErrMultiplePayloads
		}
		kind, raw = k, v
	}
	if kind == "" {
		return "", nil, ErrNoPayload
	}
	return kind, raw, nil
}
