package rpc

import (
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ka1ii/developer-challenge/crypto"
	"github.com/ka1ii/developer-challenge/native/escrow"
)

func (s *Server) handleEscrowVault(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	writeResult(w, req.ID, AddressResult{Address: formatAccount(s.node.EscrowVault())})
}

func (s *Server) handleEscrowCreate(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params escrowCreateParams
	if err := decodeParam(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	id, err := crypto.ParseID(params.ID)
	if err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	caller, err := parseAccount("caller", params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	freelancer, err := parseAccount("freelancer", params.Freelancer)
	if err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	agreement, err := s.node.EscrowCreate(id, caller, freelancer, amount)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	s.logger.Info("agreement created", slog.String("cid", crypto.FormatID(id)), slog.String("amount", amount.String()))
	writeResult(w, req.ID, formatAgreement(agreement))
}

func (s *Server) handleEscrowAddFunds(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleEscrowFunds(w, r, req, s.node.EscrowAddFunds)
}

func (s *Server) handleEscrowRelease(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleEscrowFunds(w, r, req, s.node.EscrowRelease)
}

func (s *Server) handleEscrowFunds(w http.ResponseWriter, _ *http.Request, req *RPCRequest, fn func([32]byte, [20]byte, *big.Int) (*escrow.Agreement, error)) {
	var params escrowFundsParams
	if err := decodeParam(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	id, err := crypto.ParseID(params.ID)
	if err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	caller, err := parseAccount("caller", params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	agreement, err := fn(id, caller, amount)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatAgreement(agreement))
}

func (s *Server) handleEscrowApprove(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params escrowActorParams
	if err := decodeParam(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	id, err := crypto.ParseID(params.ID)
	if err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	caller, err := parseAccount("caller", params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	agreement, err := s.node.EscrowApprove(id, caller)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatAgreement(agreement))
}

// handleEscrowGet never fails for unknown ids; it returns the zero default
// with exists=false.
func (s *Server) handleEscrowGet(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params escrowIDParams
	if err := decodeParam(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	id, err := crypto.ParseID(params.ID)
	if err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	agreement, err := s.node.EscrowGet(id)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatAgreement(agreement))
}

func (s *Server) handleEscrowList(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	agreements, err := s.node.EscrowList()
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	out := make([]AgreementResult, 0, len(agreements))
	for _, agreement := range agreements {
		out = append(out, formatAgreement(agreement))
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handleEscrowCustody(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	custody, err := s.node.EscrowCustody()
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatCustody(custody))
}
