package token

import (
	"math/big"

	"github.com/ka1ii/developer-challenge/core/types"
	"github.com/ka1ii/developer-challenge/crypto"
)

const (
	EventTypeTransfer = "token.transfer"
	EventTypeApproval = "token.approval"
)

// NewTransferEvent describes a balance movement. Mints carry the zero
// address as sender.
func NewTransferEvent(from, to [20]byte, amount *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeTransfer,
		Attributes: map[string]string{
			"from":   crypto.AddressFromBytes(from).String(),
			"to":     crypto.AddressFromBytes(to).String(),
			"amount": cloneBigInt(amount).String(),
		},
	}
}

// NewApprovalEvent describes an allowance assignment.
func NewApprovalEvent(owner, spender [20]byte, amount *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeApproval,
		Attributes: map[string]string{
			"owner":   crypto.AddressFromBytes(owner).String(),
			"spender": crypto.AddressFromBytes(spender).String(),
			"amount":  cloneBigInt(amount).String(),
		},
	}
}
