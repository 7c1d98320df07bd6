package proto

import "encoding/json"

// Version is the protocol version both ends must agree on exactly.
const Version = 1

// Message type tags as they appear on the wire.
const (
	TypeAuth           = "auth"
	TypeAuthOK         = "auth_ok"
	TypeAuthError      = "auth_error"
	TypeRequest        = "request"
	TypeResponse       = "response"
	TypeStreamEvent    = "stream_event"
	TypeStreamEnd      = "stream_end"
	TypeError          = "error"
	TypePing           = "ping"
	TypePong           = "pong"
	TypeJWTRefresh     = "jwt_refresh"
	TypePriceUpdate    = "price_update"
	TypePriceUpdateAck = "price_update_ack"
)

// Message is implemented by every frame exchanged over the connection.
type Message interface {
	messageType() string
	validate() error
}

// Pricing is the per-token price pair advertised by a provider.
type Pricing struct {
	InputPrice  float64 `json:"input_price"`
	OutputPrice float64 `json:"output_price"`
}

// Identity is optional display metadata sent with auth.
type Identity struct {
	DisplayName string `json:"display_name,omitempty"`
	Description string `json:"description,omitempty"`
}

// Usage carries token counts for a completed request.
type Usage struct {
	Input  int64 `json:"input"`
	Output int64 `json:"output"`
	Total  int64 `json:"total"`
}

type AuthMessage struct {
	Type     string    `json:"type"`
	Token    string    `json:"token"`
	Protocol int       `json:"protocol"`
	Pricing  *Pricing  `json:"pricing,omitempty"`
	Identity *Identity `json:"identity,omitempty"`
}

type AuthOKMessage struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connection_id"`
	Protocol     int    `json:"protocol"`
}

type AuthErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type RequestMessage struct {
	Type string          `json:"type"`
	ID   string          `json:"id"`
	Body json.RawMessage `json:"body"`
}

type ResponseMessage struct {
	Type string          `json:"type"`
	ID   string          `json:"id"`
	Body json.RawMessage `json:"body"`
}

type StreamEventMessage struct {
	Type  string          `json:"type"`
	ID    string          `json:"id"`
	Event json.RawMessage `json:"event"`
}

type StreamEndMessage struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Usage Usage  `json:"usage"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type PingMessage struct {
	Type string `json:"type"`
	TS   int64  `json:"ts"`
}

type PongMessage struct {
	Type string `json:"type"`
	TS   int64  `json:"ts"`
}

type JWTRefreshMessage struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

type PriceUpdateMessage struct {
	Type        string  `json:"type"`
	InputPrice  float64 `json:"input_price"`
	OutputPrice float64 `json:"output_price"`
}

type PriceUpdateAckMessage struct {
	Type        string  `json:"type"`
	InputPrice  float64 `json:"input_price"`
	OutputPrice float64 `json:"output_price"`
}
