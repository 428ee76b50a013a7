package escrow

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"github.com/ka1ii/developer-challenge/core/types"
	"github.com/ka1ii/developer-challenge/crypto"
)

const (
	EventTypeAgreementCreated   = "escrow.created"
	EventTypeAgreementFunded    = "escrow.funded"
	EventTypeAgreementHandshake = "escrow.handshake"
	EventTypeAgreementReleased  = "escrow.released"
)

// NewCreatedEvent returns the payload for a newly created agreement.
func NewCreatedEvent(a *Agreement) *types.Event {
	return newAgreementEvent(EventTypeAgreementCreated, a, a.Amount)
}

// NewFundedEvent returns the payload emitted when the client tops up an
// agreement by delta.
func NewFundedEvent(a *Agreement, delta *big.Int) *types.Event {
	return newAgreementEvent(EventTypeAgreementFunded, a, delta)
}

// NewHandshakeEvent returns the payload emitted when the freelancer accepts.
func NewHandshakeEvent(a *Agreement) *types.Event {
	return newAgreementEvent(EventTypeAgreementHandshake, a, nil)
}

// NewReleasedEvent returns the payload emitted when delta is paid out to
// the freelancer.
func NewReleasedEvent(a *Agreement, delta *big.Int) *types.Event {
	return newAgreementEvent(EventTypeAgreementReleased, a, delta)
}

func newAgreementEvent(eventType string, a *Agreement, delta *big.Int) *types.Event {
	attrs := map[string]string{
		"id":         "0x" + hex.EncodeToString(a.ID[:]),
		"client":     crypto.AddressFromBytes(a.Client).String(),
		"freelancer": crypto.AddressFromBytes(a.Freelancer).String(),
		"amount":     cloneBigInt(a.Amount).String(),
		"handshake":  strconv.FormatBool(a.Handshake),
	}
	if delta != nil {
		attrs["delta"] = delta.String()
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
