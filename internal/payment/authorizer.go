// Package payment converts a payment-required response into a single signed
// permit2 authorization suitable for one retried call.
package payment

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/gridmesh/gridmesh/internal/wallet"
)

// HeaderName carries the encoded authorization on the retried request.
const HeaderName = "X-Payment"

// Permit2Address is the canonical permit2 verifying contract, identical on
// every chain it is deployed to.
const Permit2Address = "0x000000000022D473030F116dDEE9F6B43aC78BA3"

var (
	ErrNoMatchingScheme = errors.New("no matching payment scheme")
	ErrBadNetwork       = errors.New("unparseable network id")
	ErrNoAmount         = errors.New("no authorization amount available")
)

// Authorization is the decoded form of the payment header.
type Authorization struct {
	Sender    string `json:"sender"`
	Token     string `json:"token"`
	Amount    string `json:"amount"`
	Spender   string `json:"spender"`
	Nonce     int64  `json:"nonce"`
	Deadline  int64  `json:"deadline"`
	Signature string `json:"signature"`
}

// Authorizer builds signed authorizations from payment requirements.
type Authorizer struct {
	signer  wallet.Signer
	ceiling *big.Int // configured max amount, nil for none
	now     func() time.Time

	mu        sync.Mutex
	lastNonce int64
}

func NewAuthorizer(signer wallet.Signer, ceiling *big.Int) *Authorizer {
	return &Authorizer{signer: signer, ceiling: ceiling, now: time.Now}
}

// Authorize parses a payment-required body and returns the encoded header
// value for exactly one retried call. override, when non-nil, takes priority
// over the configured ceiling, which takes priority over the requirement's
// stated maximum cost.
func (a *Authorizer) Authorize(ctx context.Context, body []byte, override *big.Int) (string, error) {
	req, err := ParseRequired(body)
	if err != nil {
		return "", err
	}
	chainID, err := ChainID(req.Network)
	if err != nil {
		return "", err
	}
	amount, err := a.chooseAmount(req, override)
	if err != nil {
		return "", err
	}
	now := a.now()
	deadline := now.Add(time.Duration(req.TimeoutSeconds) * time.Second).Unix()
	nonce := a.nextNonce(now)

	td := permitTypedData(req, amount, nonce, deadline, chainID)
	sig, err := a.signer.SignTypedData(ctx, td)
	if err != nil {
		return "", fmt.Errorf("sign authorization: %w", err)
	}

	auth := Authorization{
		Sender:    a.signer.Address().Hex(),
		Token:     req.Asset,
		Amount:    amount.String(),
		Spender:   req.Terminal,
		Nonce:     nonce,
		Deadline:  deadline,
		Signature: hexutil.Encode(sig),
	}
	raw, err := json.Marshal(auth)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func (a *Authorizer) chooseAmount(req Requirement, override *big.Int) (*big.Int, error) {
	if override != nil {
		return override, nil
	}
	if a.ceiling != nil {
		return a.ceiling, nil
	}
	if req.MaxCost != "" {
		cost, ok := new(big.Int).SetString(req.MaxCost, 10)
		if !ok {
			return nil, fmt.Errorf("unparseable maxCost %q", req.MaxCost)
		}
		return cost, nil
	}
	return nil, ErrNoAmount
}

// nextNonce derives a single-use nonce from the current time in
// milliseconds. A monotonic floor keeps two authorizations issued within the
// same millisecond distinct without changing the wire format.
func (a *Authorizer) nextNonce(now time.Time) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := now.UnixMilli()
	if n <= a.lastNonce {
		n = a.lastNonce + 1
	}
	a.lastNonce = n
	return n
}

func permitTypedData(req Requirement, amount *big.Int, nonce, deadline, chainID int64) *apitypes.TypedData {
	return &apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"PermitTransferFrom": {
				{Name: "permitted", Type: "TokenPermissions"},
				{Name: "spender", Type: "address"},
				{Name: "nonce", Type: "uint256"},
				{Name: "deadline", Type: "uint256"},
			},
			"TokenPermissions": {
				{Name: "token", Type: "address"},
				{Name: "amount", Type: "uint256"},
			},
		},
		PrimaryType: "PermitTransferFrom",
		Domain: apitypes.TypedDataDomain{
			Name:              "Permit2",
			ChainId:           math.NewHexOrDecimal256(chainID),
			VerifyingContract: Permit2Address,
		},
		Message: apitypes.TypedDataMessage{
			"permitted": map[string]any{
				"token":  req.Asset,
				"amount": amount.String(),
			},
			"spender":  req.Terminal,
			"nonce":    strconv.FormatInt(nonce, 10),
			"deadline": strconv.FormatInt(deadline, 10),
		},
	}
}
