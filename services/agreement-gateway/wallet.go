package main

import (
	"errors"
	"net/http"
	"strings"
)

type mintRequest struct {
	Amount amountValue `json:"amount"`
}

type transferRequest struct {
	Payee  string      `json:"payee"`
	Amount amountValue `json:"amount"`
}

type balanceResponse struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r)
	ctx, cancel := s.nodeContext(r.Context())
	defer cancel()
	balance, err := s.ledger.BalanceOf(ctx, caller.Address)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Address: caller.Address, Balance: balance.String()})
}

func (s *Server) handleDecimals(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.nodeContext(r.Context())
	defer cancel()
	decimals, err := s.ledger.Decimals(ctx)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint8{"decimals": decimals})
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err)
		return
	}
	amount, err := req.Amount.required()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err)
		return
	}
	caller := callerFrom(r)
	ctx, cancel := s.nodeContext(r.Context())
	defer cancel()
	balance, err := s.ledger.Mint(ctx, caller.Address, amount)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	s.logger.Info("tokens minted", "username", caller.Username, "amount", amount.String())
	writeJSON(w, http.StatusAccepted, balanceResponse{Address: caller.Address, Balance: balance.String()})
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err)
		return
	}
	amount, err := req.Amount.required()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if strings.TrimSpace(req.Payee) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", errors.New("payee is required"))
		return
	}
	ctx, cancel := s.nodeContext(r.Context())
	defer cancel()
	payee, err := s.resolveParty(ctx, req.Payee)
	if err != nil {
		s.writePartyError(w, r, err)
		return
	}
	caller := callerFrom(r)
	balance, err := s.ledger.Transfer(ctx, caller.Address, payee.Address, amount)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, balanceResponse{Address: caller.Address, Balance: balance.String()})
}
