package rpc

import (
	"log/slog"
	"net/http"
)

func (s *Server) handleTokenMetadata(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	meta, err := s.node.TokenMetadata()
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatMetadata(meta))
}

func (s *Server) handleTokenDecimals(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	meta, err := s.node.TokenMetadata()
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, meta.Decimals)
}

func (s *Server) handleTokenBalanceOf(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params addressParams
	if err := decodeParam(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	owner, err := parseAccount("address", params.Address)
	if err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	balance, err := s.node.TokenBalance(owner)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, AmountResult{Amount: formatAmount(balance)})
}

func (s *Server) handleTokenAllowance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params allowanceParams
	if err := decodeParam(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	owner, err := parseAccount("owner", params.Owner)
	if err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	spender, err := parseAccount("spender", params.Spender)
	if err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	allowance, err := s.node.TokenAllowance(owner, spender)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, AmountResult{Amount: formatAmount(allowance)})
}

func (s *Server) handleTokenMint(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params mintParams
	if err := decodeParam(req, &params); err != nil {
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
	if err := s.node.TokenMint(caller, amount); err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	s.logger.Info("tokens minted", slog.String("caller", formatAccount(caller)), slog.String("amount", amount.String()))
	s.writeBalance(w, req, caller)
}

func (s *Server) handleTokenTransfer(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params transferParams
	if err := decodeParam(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	caller, err := parseAccount("caller", params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	to, err := parseAccount("to", params.To)
	if err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	if err := s.node.TokenTransfer(caller, to, amount); err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	s.writeBalance(w, req, caller)
}

func (s *Server) handleTokenApprove(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params approveParams
	if err := decodeParam(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	caller, err := parseAccount("caller", params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	spender, err := parseAccount("spender", params.Spender)
	if err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	if err := s.node.TokenApprove(caller, spender, amount); err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, AmountResult{Amount: amount.String()})
}

func (s *Server) handleTokenTransferFrom(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params transferFromParams
	if err := decodeParam(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	caller, err := parseAccount("caller", params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	owner, err := parseAccount("owner", params.Owner)
	if err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	to, err := parseAccount("to", params.To)
	if err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeInvalidParams(w, req.ID, err.Error())
		return
	}
	if err := s.node.TokenTransferFrom(caller, owner, to, amount); err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	s.writeBalance(w, req, owner)
}

// writeBalance answers a token mutation with the resulting balance of addr.
func (s *Server) writeBalance(w http.ResponseWriter, req *RPCRequest, addr [20]byte) {
	balance, err := s.node.TokenBalance(addr)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, AmountResult{Amount: formatAmount(balance)})
}
