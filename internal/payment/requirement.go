package payment

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Scheme is the only payment scheme this client can satisfy.
const Scheme = "permit2"

// Requirement is one accepted payment option from a 402 response. It is
// received verbatim and never persisted.
type Requirement struct {
	Scheme         string `json:"scheme"`
	Network        string `json:"network"`
	Asset          string `json:"asset"`
	PayTo          string `json:"payTo"`
	Terminal       string `json:"terminalAddress"`
	MaxCost        string `json:"maxCost"`
	TimeoutSeconds int64  `json:"timeoutSeconds"`
}

// Required is the body of a payment-required response.
type Required struct {
	Accepts []Requirement `json:"accepts"`
	Error   string        `json:"error,omitempty"`
}

// ParseRequired decodes a 402 body and selects the supported scheme.
func ParseRequired(body []byte) (Requirement, error) {
	var req Required
	if err := json.Unmarshal(body, &req); err != nil {
		return Requirement{}, fmt.Errorf("parse payment-required body: %w", err)
	}
	for _, acc := range req.Accepts {
		if acc.Scheme == Scheme {
			return acc, nil
		}
	}
	return Requirement{}, fmt.Errorf("%w: accepted schemes %s", ErrNoMatchingScheme, schemeList(req.Accepts))
}

func schemeList(accepts []Requirement) string {
	if len(accepts) == 0 {
		return "(none)"
	}
	names := make([]string, 0, len(accepts))
	for _, a := range accepts {
		names = append(names, a.Scheme)
	}
	return strings.Join(names, ", ")
}

// ChainID derives the numeric chain id from a network identifier, which is
// either a bare integer or a compound id with the integer as its final
// colon-separated segment (e.g. "eip155:8453").
func ChainID(network string) (int64, error) {
	parts := strings.Split(network, ":")
	last := parts[len(parts)-1]
	id, err := strconv.ParseInt(last, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadNetwork, network)
	}
	return id, nil
}
