package rpc

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/ka1ii/developer-challenge/core"
	"github.com/ka1ii/developer-challenge/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	limiterIdleTTL  = 10 * time.Minute
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020
)

// Config tunes the JSON-RPC server.
type Config struct {
	// AuthToken guards state-changing methods. Mutations are refused while
	// it is empty.
	AuthToken string
	// RateLimit is the sustained number of mutating requests per second
	// allowed per client address. Zero disables throttling.
	RateLimit      float64
	Burst          int
	AllowedOrigins []string
}

type sourceLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type Server struct {
	node   *core.Node
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	limiters map[string]*sourceLimiter
	nowFn    func() time.Time
}

func NewServer(node *core.Node, cfg Config, logger *slog.Logger) (*Server, error) {
	if node == nil {
		return nil, fmt.Errorf("rpc: node required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.AuthToken = strings.TrimSpace(cfg.AuthToken)
	if cfg.RateLimit > 0 && cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RateLimit)
		if cfg.Burst < 1 {
			cfg.Burst = 1
		}
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	return &Server{
		node:     node,
		cfg:      cfg,
		logger:   logger,
		limiters: make(map[string]*sourceLimiter),
		nowFn:    time.Now,
	}, nil
}

// Handler returns the HTTP handler serving JSON-RPC on "/", the event
// websocket on "/ws/events" and Prometheus metrics on "/metrics".
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/events", s.handleEventsWS)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/", s.handle)
	return mux
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

type handlerFunc func(w http.ResponseWriter, r *http.Request, req *RPCRequest)

type method struct {
	handler handlerFunc
	mutates bool
}

func (s *Server) methods() map[string]method {
	return map[string]method{
		"token_metadata":     {handler: s.handleTokenMetadata},
		"token_decimals":     {handler: s.handleTokenDecimals},
		"token_balanceOf":    {handler: s.handleTokenBalanceOf},
		"token_allowance":    {handler: s.handleTokenAllowance},
		"token_mint":         {handler: s.handleTokenMint, mutates: true},
		"token_transfer":     {handler: s.handleTokenTransfer, mutates: true},
		"token_approve":      {handler: s.handleTokenApprove, mutates: true},
		"token_transferFrom": {handler: s.handleTokenTransferFrom, mutates: true},
		"escrow_vault":       {handler: s.handleEscrowVault},
		"escrow_create":      {handler: s.handleEscrowCreate, mutates: true},
		"escrow_addFunds":    {handler: s.handleEscrowAddFunds, mutates: true},
		"escrow_approve":     {handler: s.handleEscrowApprove, mutates: true},
		"escrow_release":     {handler: s.handleEscrowRelease, mutates: true},
		"escrow_get":         {handler: s.handleEscrowGet},
		"escrow_list":        {handler: s.handleEscrowList},
		"escrow_custody":     {handler: s.handleEscrowCustody},
	}
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	methodName := ""
	defer func() {
		observability.RPC().Observe(methodName, recorder.status, time.Since(start))
	}()
	w = recorder

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, nil, codeInvalidRequest, "POST required", nil)
		return
	}

	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	m, ok := s.methods()[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("method %s not found", req.Method), nil)
		return
	}
	methodName = req.Method
	if m.mutates {
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		if !s.allowSource(clientSource(r)) {
			observability.RPC().RecordThrottle("rate_limit")
			writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "rate limit exceeded", nil)
			return
		}
	}
	m.handler(w, r, req)
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.cfg.AuthToken == "" {
		return &RPCError{Code: codeUnauthorized, Message: "RPC authentication token not configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AuthToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	return nil
}

func (s *Server) allowSource(source string) bool {
	if s.cfg.RateLimit <= 0 {
		return true
	}
	if source == "" {
		source = "unknown"
	}
	now := s.nowFn()

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, entry := range s.limiters {
		if now.Sub(entry.lastSeen) > limiterIdleTTL {
			delete(s.limiters, key)
		}
	}
	entry, ok := s.limiters[source]
	if !ok {
		entry = &sourceLimiter{limiter: rate.NewLimiter(rate.Limit(s.cfg.RateLimit), s.cfg.Burst)}
		s.limiters[source] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

func clientSource(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			candidate := strings.TrimSpace(parts[0])
			if candidate != "" {
				return candidate
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// decodeParam unmarshals the single parameter object of a request.
func decodeParam(req *RPCRequest, dst interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("exactly one parameter object expected")
	}
	decoder := json.NewDecoder(bytes.NewReader(req.Params[0]))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("invalid parameter object: %w", err)
	}
	return nil
}
