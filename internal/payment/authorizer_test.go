package payment

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/stretchr/testify/require"

	"github.com/gridmesh/gridmesh/internal/wallet"
)

const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func testBody(scheme string) []byte {
	b, _ := json.Marshal(Required{Accepts: []Requirement{{
		Scheme:         scheme,
		Network:        "eip155:8453",
		Asset:          "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		PayTo:          "0x1111111111111111111111111111111111111111",
		Terminal:       "0x2222222222222222222222222222222222222222",
		MaxCost:        "150000",
		TimeoutSeconds: 300,
	}}})
	return b
}

func newTestAuthorizer(t *testing.T, ceiling *big.Int) *Authorizer {
	t.Helper()
	signer, err := wallet.NewLocalSigner(testKey)
	require.NoError(t, err)
	return NewAuthorizer(signer, ceiling)
}

func decodeHeader(t *testing.T, token string) Authorization {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(token)
	require.NoError(t, err)
	var auth Authorization
	require.NoError(t, json.Unmarshal(raw, &auth))
	return auth
}

func TestAuthorizeHappyPath(t *testing.T) {
	a := newTestAuthorizer(t, nil)
	a.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }

	token, err := a.Authorize(context.Background(), testBody(Scheme), nil)
	require.NoError(t, err)

	auth := decodeHeader(t, token)
	require.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", auth.Sender)
	require.Equal(t, "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", auth.Token)
	require.Equal(t, "150000", auth.Amount)
	require.Equal(t, "0x2222222222222222222222222222222222222222", auth.Spender)
	require.EqualValues(t, 1_700_000_000_000, auth.Nonce)
	require.EqualValues(t, 1_700_000_000+300, auth.Deadline)
	require.Len(t, hexMustDecode(t, auth.Signature), 65)
}

func hexMustDecode(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hexutil.Decode(s)
	require.NoError(t, err)
	return b
}

func TestAuthorizeNoMatchingScheme(t *testing.T) {
	a := newTestAuthorizer(t, nil)
	_, err := a.Authorize(context.Background(), testBody("exact"), nil)
	require.ErrorIs(t, err, ErrNoMatchingScheme)
}

func TestAuthorizeBadNetwork(t *testing.T) {
	a := newTestAuthorizer(t, nil)
	body, _ := json.Marshal(Required{Accepts: []Requirement{{Scheme: Scheme, Network: "base-mainnet", MaxCost: "1", TimeoutSeconds: 60}}})
	_, err := a.Authorize(context.Background(), body, nil)
	require.ErrorIs(t, err, ErrBadNetwork)
}

func TestAuthorizeAmountPriority(t *testing.T) {
	// Requirement max cost only.
	a := newTestAuthorizer(t, nil)
	auth := decodeHeader(t, mustAuthorize(t, a, nil))
	require.Equal(t, "150000", auth.Amount)

	// Configured ceiling beats the requirement.
	a = newTestAuthorizer(t, big.NewInt(99_000))
	auth = decodeHeader(t, mustAuthorize(t, a, nil))
	require.Equal(t, "99000", auth.Amount)

	// Per-call override beats both.
	auth = decodeHeader(t, mustAuthorize(t, a, big.NewInt(42_000)))
	require.Equal(t, "42000", auth.Amount)
}

func mustAuthorize(t *testing.T, a *Authorizer, override *big.Int) string {
	t.Helper()
	token, err := a.Authorize(context.Background(), testBody(Scheme), override)
	require.NoError(t, err)
	return token
}

func TestNonceMonotonicWithinMillisecond(t *testing.T) {
	a := newTestAuthorizer(t, nil)
	fixed := time.UnixMilli(1_700_000_000_000)
	a.now = func() time.Time { return fixed }

	first := decodeHeader(t, mustAuthorize(t, a, nil))
	second := decodeHeader(t, mustAuthorize(t, a, nil))
	require.Greater(t, second.Nonce, first.Nonce)
}

func TestChainID(t *testing.T) {
	cases := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"8453", 8453, true},
		{"eip155:8453", 8453, true},
		{"evm:base:84532", 84532, true},
		{"base-mainnet", 0, false},
		{"", 0, false},
	}
	for _, c := range cases {
		got, err := ChainID(c.in)
		if c.ok {
			require.NoError(t, err, c.in)
			require.Equal(t, c.want, got, c.in)
		} else {
			require.Error(t, err, c.in)
		}
	}
}

func TestParseRequiredMalformed(t *testing.T) {
	_, err := ParseRequired([]byte(`{"accepts":`))
	require.Error(t, err)
}

// The signature must verify against the exact typed data the counterparty
// will reconstruct from the header fields.
func TestAuthorizeSignatureRecovers(t *testing.T) {
	a := newTestAuthorizer(t, nil)
	auth := decodeHeader(t, mustAuthorize(t, a, nil))

	req, err := ParseRequired(testBody(Scheme))
	require.NoError(t, err)
	amount, ok := new(big.Int).SetString(auth.Amount, 10)
	require.True(t, ok)
	td := permitTypedData(req, amount, auth.Nonce, auth.Deadline, 8453)
	digest, _, err := apitypes.TypedDataAndHash(*td)
	require.NoError(t, err)

	sig := hexMustDecode(t, auth.Signature)
	sig[64] -= 27
	pub, err := crypto.SigToPub(digest, sig)
	require.NoError(t, err)
	require.Equal(t, auth.Sender, crypto.PubkeyToAddress(*pub).Hex())
}
