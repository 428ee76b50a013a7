package escrow

import (
	"errors"
	"math/big"
)

var (
	ErrDuplicateAgreement        = errors.New("escrow: agreement with this id already exists")
	ErrAgreementNotFound         = errors.New("escrow: agreement not found")
	ErrUnauthorized              = errors.New("escrow: caller not permitted")
	ErrNotHandshaked             = errors.New("escrow: agreement not handshaked")
	ErrInsufficientEscrowedFunds = errors.New("escrow: amount to release exceeds escrowed amount")
	ErrInvalidAmount             = errors.New("escrow: amount must be non-negative")
	ErrInvalidParty              = errors.New("escrow: party address required")
)

// Agreement binds a client, a freelancer and the tokens held on their
// behalf. Client and Freelancer never change after creation; Handshake only
// moves from false to true.
type Agreement struct {
	ID         [32]byte
	Client     [20]byte
	Freelancer [20]byte
	Amount     *big.Int
	Handshake  bool
	CreatedAt  int64
	UpdatedAt  int64
}

// Zero returns the default agreement reported for identifiers that were
// never created.
func Zero(id [32]byte) *Agreement {
	return &Agreement{ID: id, Amount: big.NewInt(0)}
}

// Clone returns a deep copy of the agreement.
func (a *Agreement) Clone() *Agreement {
	if a == nil {
		return nil
	}
	out := *a
	out.Amount = cloneBigInt(a.Amount)
	return &out
}

// Exists reports whether the agreement was created, as opposed to being the
// zero default.
func (a *Agreement) Exists() bool {
	return a != nil && a.Client != ([20]byte{})
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
