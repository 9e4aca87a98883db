// Package token defines the wire contract of the external fungible token actor
// that custodies the funds administered by the vesting actor. Only the message
// parameters exchanged with it live here; the token actor's implementation is
// out of scope for this repo.
package token

import (
	addr "github.com/filecoin-project/go-address"
	abi "github.com/filecoin-project/go-state-types/abi"
)

type TransferParams struct {
	To     addr.Address
	Amount abi.TokenAmount
}

// BalanceOf returns the holder's balance as a plain abi.TokenAmount.
type BalanceOfParams struct {
	Address addr.Address
}
