package rpc

import (
	"errors"
	"net/http"

	"github.com/ka1ii/developer-challenge/core"
	"github.com/ka1ii/developer-challenge/native/escrow"
	"github.com/ka1ii/developer-challenge/native/token"
)

const (
	codeLedgerInvalidParams = -32021
	codeLedgerNotFound      = -32022
	codeLedgerForbidden     = -32023
	codeLedgerConflict      = -32024
	codeLedgerInternal      = -32025
	codeLedgerInsufficient  = -32026
)

// ErrorData is attached to every ledger error. Reason is a stable
// classification clients match on; Detail carries the wrapped message.
type ErrorData struct {
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

func writeLedgerError(w http.ResponseWriter, id interface{}, err error) {
	if err == nil {
		return
	}
	status := http.StatusInternalServerError
	code := codeLedgerInternal
	message := "internal_error"
	switch {
	case errors.Is(err, escrow.ErrAgreementNotFound):
		status = http.StatusNotFound
		code = codeLedgerNotFound
		message = "not_found"
	case errors.Is(err, escrow.ErrUnauthorized),
		errors.Is(err, core.ErrVaultAccount):
		status = http.StatusForbidden
		code = codeLedgerForbidden
		message = "forbidden"
	case errors.Is(err, escrow.ErrDuplicateAgreement),
		errors.Is(err, escrow.ErrNotHandshaked),
		errors.Is(err, escrow.ErrInsufficientEscrowedFunds),
		errors.Is(err, token.ErrMetadataConflict):
		status = http.StatusConflict
		code = codeLedgerConflict
		message = "conflict"
	case errors.Is(err, token.ErrInsufficientAllowance),
		errors.Is(err, token.ErrInsufficientBalance):
		status = http.StatusConflict
		code = codeLedgerInsufficient
		message = "insufficient_funds"
	case errors.Is(err, escrow.ErrInvalidAmount),
		errors.Is(err, escrow.ErrInvalidParty),
		errors.Is(err, token.ErrInvalidAmount),
		errors.Is(err, token.ErrAmountOverflow),
		errors.Is(err, token.ErrZeroAddress):
		status = http.StatusBadRequest
		code = codeLedgerInvalidParams
		message = "invalid_params"
	}
	writeError(w, status, id, code, message, ErrorData{Reason: core.Outcome(err), Detail: err.Error()})
}

func writeInvalidParams(w http.ResponseWriter, id interface{}, detail string) {
	writeError(w, http.StatusBadRequest, id, codeLedgerInvalidParams, "invalid_params", ErrorData{Reason: "invalid_params", Detail: detail})
}
