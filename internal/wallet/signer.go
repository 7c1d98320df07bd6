// Package wallet abstracts the signing capability used for payment
// authorizations. Callers never see raw key material; a remote custody
// service plugs in behind the same interface.
package wallet

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Signer produces typed-data signatures for one address.
type Signer interface {
	// Address returns the account the signatures originate from.
	Address() common.Address
	// SignTypedData signs the EIP-712 digest of td and returns a 65-byte
	// signature with V in {27, 28}.
	SignTypedData(ctx context.Context, td *apitypes.TypedData) ([]byte, error)
}
