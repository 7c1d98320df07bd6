package proto

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Decode parses a wire frame into its typed message. The message set is
// closed: an unknown type tag, an unknown field, a missing required field or
// a protocol version other than Version all fail. Callers treat a decode
// failure as "discard the frame", never as a reason to tear the connection
// down.
func Decode(data []byte) (Message, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	var msg Message
	switch env.Type {
	case TypeAuth:
		msg = &AuthMessage{}
	case TypeAuthOK:
		msg = &AuthOKMessage{}
	case TypeAuthError:
		msg = &AuthErrorMessage{}
	case TypeRequest:
		msg = &RequestMessage{}
	case TypeResponse:
		msg = &ResponseMessage{}
	case TypeStreamEvent:
		msg = &StreamEventMessage{}
	case TypeStreamEnd:
		msg = &StreamEndMessage{}
	case TypeError:
		msg = &ErrorMessage{}
	case TypePing:
		msg = &PingMessage{}
	case TypePong:
		msg = &PongMessage{}
	case TypeJWTRefresh:
		msg = &JWTRefreshMessage{}
	case TypePriceUpdate:
		msg = &PriceUpdateMessage{}
	case TypePriceUpdateAck:
		msg = &PriceUpdateAckMessage{}
	default:
		return nil, fmt.Errorf("unknown message type %q", env.Type)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(msg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Type, err)
	}
	if err := msg.validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", env.Type, err)
	}
	return msg, nil
}

// Encode serializes a message, stamping its type tag.
func Encode(msg Message) ([]byte, error) {
	stampType(msg)
	if err := msg.validate(); err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.messageType(), err)
	}
	return json.Marshal(msg)
}

func stampType(msg Message) {
	switch m := msg.(type) {
	case *AuthMessage:
		m.Type = TypeAuth
	case *AuthOKMessage:
		m.Type = TypeAuthOK
	case *AuthErrorMessage:
		m.Type = TypeAuthError
	case *RequestMessage:
		m.Type = TypeRequest
	case *ResponseMessage:
		m.Type = TypeResponse
	case *StreamEventMessage:
		m.Type = TypeStreamEvent
	case *StreamEndMessage:
		m.Type = TypeStreamEnd
	case *ErrorMessage:
		m.Type = TypeError
	case *PingMessage:
		m.Type = TypePing
	case *PongMessage:
		m.Type = TypePong
	case *JWTRefreshMessage:
		m.Type = TypeJWTRefresh
	case *PriceUpdateMessage:
		m.Type = TypePriceUpdate
	case *PriceUpdateAckMessage:
		m.Type = TypePriceUpdateAck
	}
}

func (m *AuthMessage) messageType() string { return TypeAuth }
func (m *AuthMessage) validate() error {
	if m.Token == "" {
		return fmt.Errorf("missing token")
	}
	if m.Protocol != Version {
		return fmt.Errorf("protocol %d does not match %d", m.Protocol, Version)
	}
	return nil
}

func (m *AuthOKMessage) messageType() string { return TypeAuthOK }
func (m *AuthOKMessage) validate() error {
	if m.ConnectionID == "" {
		return fmt.Errorf("missing connection_id")
	}
	if m.Protocol != Version {
		return fmt.Errorf("protocol %d does not match %d", m.Protocol, Version)
	}
	return nil
}

func (m *AuthErrorMessage) messageType() string { return TypeAuthError }
func (m *AuthErrorMessage) validate() error     { return nil }

func (m *RequestMessage) messageType() string { return TypeRequest }
func (m *RequestMessage) validate() error {
	if m.ID == "" {
		return fmt.Errorf("missing id")
	}
	if len(m.Body) == 0 {
		return fmt.Errorf("missing body")
	}
	return nil
}

func (m *ResponseMessage) messageType() string { return TypeResponse }
func (m *ResponseMessage) validate() error {
	if m.ID == "" {
		return fmt.Errorf("missing id")
	}
	if len(m.Body) == 0 {
		return fmt.Errorf("missing body")
	}
	return nil
}

func (m *StreamEventMessage) messageType() string { return TypeStreamEvent }
func (m *StreamEventMessage) validate() error {
	if m.ID == "" {
		return fmt.Errorf("missing id")
	}
	if len(m.Event) == 0 {
		return fmt.Errorf("missing event")
	}
	return nil
}

func (m *StreamEndMessage) messageType() string { return TypeStreamEnd }
func (m *StreamEndMessage) validate() error {
	if m.ID == "" {
		return fmt.Errorf("missing id")
	}
	return nil
}

func (m *ErrorMessage) messageType() string { return TypeError }
func (m *ErrorMessage) validate() error {
	if m.ID == "" {
		return fmt.Errorf("missing id")
	}
	if m.Code == "" {
		return fmt.Errorf("missing code")
	}
	return nil
}

func (m *PingMessage) messageType() string { return TypePing }
func (m *PingMessage) validate() error     { return nil }

func (m *PongMessage) messageType() string { return TypePong }
func (m *PongMessage) validate() error     { return nil }

func (m *JWTRefreshMessage) messageType() string { return TypeJWTRefresh }
func (m *JWTRefreshMessage) validate() error {
	if m.Token == "" {
		return fmt.Errorf("missing token")
	}
	return nil
}

func (m *PriceUpdateMessage) messageType() string { return TypePriceUpdate }
func (m *PriceUpdateMessage) validate() error     { return nil }

func (m *PriceUpdateAckMessage) messageType() string { return TypePriceUpdateAck }
func (m *PriceUpdateAckMessage) validate() error     { return nil }
