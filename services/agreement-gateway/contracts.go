package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ka1ii/developer-challenge/crypto"
	"github.com/ka1ii/developer-challenge/rpc"
	"github.com/ka1ii/developer-challenge/services/agreement-gateway/documents"
)

type createContractRequest struct {
	Title      string      `json:"title"`
	Contract   string      `json:"contract"`
	Freelancer string      `json:"freelancer"`
	Amount     amountValue `json:"amount"`
}

type fundsRequest struct {
	Amount amountValue `json:"amount"`
}

type partyView struct {
	Address  string `json:"address"`
	Username string `json:"username"`
}

// contractView is an agreement merged with its stored document.
type contractView struct {
	CID        string    `json:"cid"`
	Title      string    `json:"title"`
	Contract   string    `json:"contract"`
	Amount     string    `json:"amount"`
	Client     partyView `json:"client"`
	Freelancer partyView `json:"freelancer"`
	Handshake  bool      `json:"handshake"`
}

func (s *Server) contractView(agreement *rpc.AgreementResult, doc *documents.Document) contractView {
	view := contractView{
		CID:        agreement.ID,
		Amount:     agreement.Amount,
		Client:     partyView{Address: agreement.Client, Username: s.directory.UsernameOf(agreement.Client)},
		Freelancer: partyView{Address: agreement.Freelancer, Username: s.directory.UsernameOf(agreement.Freelancer)},
		Handshake:  agreement.Handshake,
	}
	if doc != nil {
		view.Title = doc.Title
		view.Contract = doc.Body
		if view.Client.Username == "" {
			view.Client.Username = doc.ClientUsername
		}
		if view.Freelancer.Username == "" {
			view.Freelancer.Username = doc.FreelancerUsername
		}
	}
	return view
}

func cidParam(r *http.Request) (string, error) {
	id, err := crypto.ParseID(chi.URLParam(r, "cid"))
	if err != nil {
		return "", fmt.Errorf("invalid contract id: %w", err)
	}
	return crypto.FormatID(id), nil
}

func (s *Server) handleCreateContract(w http.ResponseWriter, r *http.Request) {
	var req createContractRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err)
		return
	}
	amount, err := req.Amount.required()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if err := validateCreateContract(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err)
		return
	}
	ctx, cancel := s.nodeContext(r.Context())
	defer cancel()
	freelancer, err := s.resolveParty(ctx, req.Freelancer)
	if err != nil {
		s.writePartyError(w, r, err)
		return
	}
	id, err := crypto.ContentID(s.scheme, req.Title, req.Contract)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	cid := crypto.FormatID(id)
	caller := callerFrom(r)
	agreement, err := s.withAllowance(ctx, "create", caller.Address, amount, func(ctx context.Context) (*rpc.AgreementResult, error) {
		return s.ledger.CreateAgreement(ctx, cid, caller.Address, freelancer.Address, amount)
	})
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}

	doc := documents.Document{
		CID:                cid,
		Title:              req.Title,
		Body:               req.Contract,
		ClientUsername:     caller.Username,
		ClientAddress:      caller.Address,
		FreelancerUsername: freelancer.Username,
		FreelancerAddress:  freelancer.Address,
	}
	if err := s.docs.Save(r.Context(), doc); err != nil {
		s.logger.Error("contract document not stored",
			slog.String("cid", cid),
			slog.String("error", err.Error()))
	}
	s.logger.Info("contract created", slog.String("cid", cid), slog.String("client", caller.Username), slog.String("freelancer", freelancer.Username))
	writeJSON(w, http.StatusAccepted, s.contractView(agreement, &doc))
}

func validateCreateContract(req createContractRequest) error {
	if strings.TrimSpace(req.Title) == "" {
		return errors.New("title is required")
	}
	if strings.TrimSpace(req.Contract) == "" {
		return errors.New("contract is required")
	}
	if strings.TrimSpace(req.Freelancer) == "" {
		return errors.New("freelancer is required")
	}
	return nil
}

func (s *Server) handleListContracts(w http.ResponseWriter, r *http.Request) {
	role, err := documents.ParseRole(r.URL.Query().Get("role"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err)
		return
	}
	pendingOnly := false
	if raw := strings.TrimSpace(r.URL.Query().Get("pending")); raw != "" {
		pendingOnly, err = strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", fmt.Errorf("invalid pending filter %q", raw))
			return
		}
	}
	caller := callerFrom(r)
	docs, err := s.docs.ListForUser(r.Context(), caller.Username, role)
	if err != nil {
		s.logger.Error("list contract documents", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal_error", errors.New("document store unavailable"))
		return
	}

	ctx, cancel := s.nodeContext(r.Context())
	defer cancel()
	views := make([]contractView, 0, len(docs))
	for i := range docs {
		agreement, err := s.ledger.GetAgreement(ctx, docs[i].CID)
		if err != nil {
			s.writeLedgerError(w, r, err)
			return
		}
		if !agreement.Exists {
			continue
		}
		if pendingOnly && agreement.Handshake {
			continue
		}
		views = append(views, s.contractView(agreement, &docs[i]))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetContract(w http.ResponseWriter, r *http.Request) {
	cid, err := cidParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err)
		return
	}
	ctx, cancel := s.nodeContext(r.Context())
	defer cancel()
	agreement, err := s.ledger.GetAgreement(ctx, cid)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.contractView(agreement, s.lookupDocument(r.Context(), cid)))
}

func (s *Server) handleSignContract(w http.ResponseWriter, r *http.Request) {
	cid, err := cidParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err)
		return
	}
	caller := callerFrom(r)
	ctx, cancel := s.nodeContext(r.Context())
	defer cancel()
	agreement, err := s.ledger.ApproveAgreement(ctx, cid, caller.Address)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.contractView(agreement, s.lookupDocument(r.Context(), cid)))
}

func (s *Server) handleAddFunds(w http.ResponseWriter, r *http.Request) {
	s.handleFunds(w, r, "addFunds", func(ctx context.Context, cid, caller string, amount *big.Int) (*rpc.AgreementResult, error) {
		return s.withAllowance(ctx, "addFunds", caller, amount, func(ctx context.Context) (*rpc.AgreementResult, error) {
			return s.ledger.AddFunds(ctx, cid, caller, amount)
		})
	})
}

func (s *Server) handleReleaseFunds(w http.ResponseWriter, r *http.Request) {
	s.handleFunds(w, r, "releaseFunds", s.ledger.ReleaseFunds)
}

func (s *Server) handleFunds(w http.ResponseWriter, r *http.Request, operation string, call func(ctx context.Context, cid, caller string, amount *big.Int) (*rpc.AgreementResult, error)) {
	cid, err := cidParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err)
		return
	}
	var req fundsRequest
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
	agreement, err := call(ctx, cid, caller.Address, amount)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	s.logger.Info("contract funds moved",
		slog.String("operation", operation),
		slog.String("cid", cid),
		slog.String("amount", amount.String()),
		slog.String("escrowed", agreement.Amount))
	writeJSON(w, http.StatusAccepted, s.contractView(agreement, s.lookupDocument(r.Context(), cid)))
}

func (s *Server) lookupDocument(ctx context.Context, cid string) *documents.Document {
	doc, err := s.docs.Get(ctx, cid)
	if err != nil {
		s.logger.Warn("contract document lookup failed", slog.String("cid", cid), slog.String("error", err.Error()))
		return nil
	}
	return doc
}
