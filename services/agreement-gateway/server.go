package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/ka1ii/developer-challenge/crypto"
	"github.com/ka1ii/developer-challenge/gateway/middleware"
	"github.com/ka1ii/developer-challenge/rpc/client"
	"github.com/ka1ii/developer-challenge/services/agreement-gateway/audit"
	"github.com/ka1ii/developer-challenge/services/agreement-gateway/documents"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	maxRequestBody       = 1 << 20 // 1 MiB
	defaultNodeTimeout   = 15 * time.Second
)

// DocumentStore keeps agreement texts off-ledger.
type DocumentStore interface {
	Save(ctx context.Context, doc documents.Document) error
	Get(ctx context.Context, cid string) (*documents.Document, error)
	ListForUser(ctx context.Context, username string, role documents.Role) ([]documents.Document, error)
}

type ServerConfig struct {
	Ledger        Ledger
	Documents     DocumentStore
	Audit         *audit.Store
	Directory     *Directory
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
	HashScheme    crypto.HashScheme
	NodeTimeout   time.Duration
	Logger        *slog.Logger
}

// Server is the HTTP front-end for wallet and agreement interactions.
type Server struct {
	ledger      Ledger
	docs        DocumentStore
	audit       *audit.Store
	directory   *Directory
	auth        *middleware.Authenticator
	limiter     *middleware.RateLimiter
	obs         *middleware.Observability
	cors        middleware.CORSConfig
	scheme      crypto.HashScheme
	nodeTimeout time.Duration
	logger      *slog.Logger
	vault       vaultCache
	nowFn       func() time.Time

	router http.Handler
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Ledger == nil {
		return nil, errors.New("ledger client required")
	}
	if cfg.Documents == nil {
		return nil, errors.New("document store required")
	}
	if cfg.Audit == nil {
		return nil, errors.New("audit store required")
	}
	if cfg.Directory == nil {
		return nil, errors.New("user directory required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Authenticator == nil {
		cfg.Authenticator = middleware.NewAuthenticator(middleware.AuthConfig{}, cfg.Directory, cfg.Logger)
	}
	if cfg.RateLimiter == nil {
		cfg.RateLimiter = middleware.NewRateLimiter(middleware.RateLimit{}, cfg.Logger)
	}
	if cfg.Observability == nil {
		cfg.Observability = middleware.NewObservability(middleware.ObservabilityConfig{}, cfg.Logger)
	}
	if cfg.HashScheme == "" {
		cfg.HashScheme = crypto.SchemeKeccak256
	}
	if cfg.NodeTimeout <= 0 {
		cfg.NodeTimeout = defaultNodeTimeout
	}
	s := &Server{
		ledger:      cfg.Ledger,
		docs:        cfg.Documents,
		audit:       cfg.Audit,
		directory:   cfg.Directory,
		auth:        cfg.Authenticator,
		limiter:     cfg.RateLimiter,
		obs:         cfg.Observability,
		cors:        cfg.CORS,
		scheme:      cfg.HashScheme,
		nodeTimeout: cfg.NodeTimeout,
		logger:      cfg.Logger,
		nowFn:       time.Now,
	}
	s.limiter.OnThrottle(s.obs.RecordThrottle)
	s.router = s.buildRouter()
	return s, nil
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(s.cors))
	r.Use(s.obs.Middleware)
	r.Use(chimw.Recoverer)
	r.Use(s.limiter.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", s.obs.MetricsHandler())

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(s.auth.Middleware)

		api.Route("/wallet", func(wallet chi.Router) {
			wallet.Get("/balance", s.handleBalance)
			wallet.Get("/decimals", s.handleDecimals)
			wallet.With(s.audited).Post("/mint", s.handleMint)
			wallet.With(s.audited).Post("/transfer", s.handleTransfer)
		})

		api.Route("/contracts", func(contracts chi.Router) {
			contracts.Get("/", s.handleListContracts)
			contracts.With(s.audited).Post("/", s.handleCreateContract)
			contracts.Get("/{cid}", s.handleGetContract)
			contracts.With(s.audited).Post("/{cid}/sign", s.handleSignContract)
			contracts.With(s.audited).Post("/{cid}/approve", s.handleSignContract)
			contracts.With(s.audited).Post("/{cid}/addFunds", s.handleAddFunds)
			contracts.With(s.audited).Post("/{cid}/releaseFunds", s.handleReleaseFunds)
		})
	})
	return r
}

func (s *Server) nodeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.nodeTimeout)
}

func callerFrom(r *http.Request) middleware.Identity {
	identity, _ := middleware.IdentityFromContext(r.Context())
	return identity
}

// amountValue accepts an amount as a JSON number or a decimal string.
type amountValue struct {
	*big.Int
}

func (a *amountValue) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		return nil
	}
	raw = strings.Trim(raw, `"`)
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok || value.Sign() < 0 {
		return fmt.Errorf("invalid amount %q", raw)
	}
	a.Int = value
	return nil
}

func (a amountValue) required() (*big.Int, error) {
	if a.Int == nil {
		return nil, errors.New("amount is required")
	}
	return a.Int, nil
}

func decodeBody(r *http.Request, dst interface{}) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON payload: %w", err)
	}
	return nil
}

type errorResponse struct {
	Error       string `json:"error"`
	Code        string `json:"code,omitempty"`
	Recoverable bool   `json:"recoverable"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: code})
}

func (s *Server) writePartyError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errUnknownParty) || errors.Is(err, errVaultParty) {
		writeError(w, http.StatusBadRequest, "invalid_party", err)
		return
	}
	s.writeLedgerError(w, r, err)
}

// writeLedgerError maps node failures onto HTTP responses. Errors raised
// after an allowance approval are reported as recoverable conflicts.
func (s *Server) writeLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	var recoverable *RecoverableError
	var nodeErr *client.Error
	switch {
	case errors.As(err, &recoverable):
		markRetryable(w)
		writeJSON(w, http.StatusConflict, errorResponse{Error: recoverable.Error(), Code: "allowance_race", Recoverable: true})
	case errors.As(err, &nodeErr):
		status := nodeErr.HTTPStatus
		if status < http.StatusBadRequest {
			status = http.StatusBadGateway
		}
		message := nodeErr.Detail
		if message == "" {
			message = nodeErr.Message
		}
		code := nodeErr.Reason
		if code == "" {
			code = "node_error"
		}
		writeJSON(w, status, errorResponse{Error: message, Code: code})
	default:
		s.logger.Error("node request failed",
			slog.String("path", r.URL.Path),
			slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
			slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "ledger node unavailable", Code: "node_unavailable"})
	}
}
