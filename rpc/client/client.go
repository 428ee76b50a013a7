// Package client is a JSON-RPC client for the ledger node.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ka1ii/developer-challenge/core"
	"github.com/ka1ii/developer-challenge/native/escrow"
	"github.com/ka1ii/developer-challenge/native/token"
	"github.com/ka1ii/developer-challenge/rpc"
)

const defaultTimeout = 10 * time.Second

// Error is a JSON-RPC error returned by the node.
type Error struct {
	HTTPStatus int
	Code       int
	Message    string
	Reason     string
	Detail     string
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("rpc error %d (%s): %s", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

var reasonSentinels = map[string]error{
	"duplicate":              escrow.ErrDuplicateAgreement,
	"not_found":              escrow.ErrAgreementNotFound,
	"unauthorized":           escrow.ErrUnauthorized,
	"vault_account":          core.ErrVaultAccount,
	"not_handshaked":         escrow.ErrNotHandshaked,
	"insufficient_escrow":    escrow.ErrInsufficientEscrowedFunds,
	"insufficient_allowance": token.ErrInsufficientAllowance,
	"insufficient_balance":   token.ErrInsufficientBalance,
	"invalid_amount":         escrow.ErrInvalidAmount,
	"invalid_party":          escrow.ErrInvalidParty,
	"not_registered":         token.ErrNotRegistered,
}

// Is lets callers match node errors with errors.Is against the ledger
// sentinel errors.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	sentinel, ok := reasonSentinels[e.Reason]
	return ok && sentinel == target
}

// Options configures a Client.
type Options struct {
	Endpoint   string
	AuthToken  string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client calls the node's JSON-RPC endpoint. It is safe for concurrent use.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
	nextID   atomic.Int64
}

func New(opts Options) (*Client, error) {
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("rpc client: endpoint required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &Client{endpoint: endpoint, token: strings.TrimSpace(opts.AuthToken), http: httpClient}, nil
}

type request struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params,omitempty"`
	ID      int64             `json:"id"`
}

type response struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	} `json:"error"`
}

// Call invokes method with an optional single parameter object and decodes
// the result into out.
func (c *Client) Call(ctx context.Context, method string, params interface{}, out interface{}) error {
	req := request{JSONRPC: "2.0", Method: method, ID: c.nextID.Add(1)}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("rpc client: encode params: %w", err)
		}
		req.Params = []json.RawMessage{raw}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("rpc client: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("rpc client: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("rpc client: %s: %w", method, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("rpc client: read %s response: %w", method, err)
	}
	var decoded response
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return fmt.Errorf("rpc client: decode %s response (status %d): %w", method, resp.StatusCode, err)
	}
	if decoded.Error != nil {
		rpcErr := &Error{HTTPStatus: resp.StatusCode, Code: decoded.Error.Code, Message: decoded.Error.Message}
		var data rpc.ErrorData
		if len(decoded.Error.Data) > 0 && json.Unmarshal(decoded.Error.Data, &data) == nil {
			rpcErr.Reason = data.Reason
			rpcErr.Detail = data.Detail
		}
		return rpcErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(decoded.Result, out); err != nil {
		return fmt.Errorf("rpc client: decode %s result: %w", method, err)
	}
	return nil
}

// IsNodeError reports whether err was returned by the node rather than the
// transport.
func IsNodeError(err error) bool {
	var rpcErr *Error
	return errors.As(err, &rpcErr)
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseAmount(value string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok {
		return nil, fmt.Errorf("rpc client: invalid amount %q", value)
	}
	return amount, nil
}

func (c *Client) amountCall(ctx context.Context, method string, params interface{}) (*big.Int, error) {
	var result rpc.AmountResult
	if err := c.Call(ctx, method, params, &result); err != nil {
		return nil, err
	}
	return parseAmount(result.Amount)
}

func (c *Client) TokenMetadata(ctx context.Context) (*rpc.TokenMetadataResult, error) {
	var result rpc.TokenMetadataResult
	if err := c.Call(ctx, "token_metadata", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) Decimals(ctx context.Context) (uint8, error) {
	var decimals uint8
	if err := c.Call(ctx, "token_decimals", nil, &decimals); err != nil {
		return 0, err
	}
	return decimals, nil
}

func (c *Client) BalanceOf(ctx context.Context, owner string) (*big.Int, error) {
	return c.amountCall(ctx, "token_balanceOf", map[string]string{"address": owner})
}

func (c *Client) Allowance(ctx context.Context, owner, spender string) (*big.Int, error) {
	return c.amountCall(ctx, "token_allowance", map[string]string{"owner": owner, "spender": spender})
}

// Mint credits amount to caller and returns the new balance.
func (c *Client) Mint(ctx context.Context, caller string, amount *big.Int) (*big.Int, error) {
	return c.amountCall(ctx, "token_mint", map[string]string{"caller": caller, "amount": amountString(amount)})
}

// Transfer moves amount from caller to to and returns the caller's balance.
func (c *Client) Transfer(ctx context.Context, caller, to string, amount *big.Int) (*big.Int, error) {
	return c.amountCall(ctx, "token_transfer", map[string]string{"caller": caller, "to": to, "amount": amountString(amount)})
}

func (c *Client) Approve(ctx context.Context, caller, spender string, amount *big.Int) error {
	return c.Call(ctx, "token_approve", map[string]string{"caller": caller, "spender": spender, "amount": amountString(amount)}, nil)
}

func (c *Client) TransferFrom(ctx context.Context, caller, owner, to string, amount *big.Int) (*big.Int, error) {
	return c.amountCall(ctx, "token_transferFrom", map[string]string{"caller": caller, "owner": owner, "to": to, "amount": amountString(amount)})
}

func (c *Client) Vault(ctx context.Context) (string, error) {
	var result rpc.AddressResult
	if err := c.Call(ctx, "escrow_vault", nil, &result); err != nil {
		return "", err
	}
	return result.Address, nil
}

func (c *Client) agreementCall(ctx context.Context, method string, params interface{}) (*rpc.AgreementResult, error) {
	var result rpc.AgreementResult
	if err := c.Call(ctx, method, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) CreateAgreement(ctx context.Context, id, caller, freelancer string, amount *big.Int) (*rpc.AgreementResult, error) {
	return c.agreementCall(ctx, "escrow_create", map[string]string{"id": id, "caller": caller, "freelancer": freelancer, "amount": amountString(amount)})
}

func (c *Client) AddFunds(ctx context.Context, id, caller string, amount *big.Int) (*rpc.AgreementResult, error) {
	return c.agreementCall(ctx, "escrow_addFunds", map[string]string{"id": id, "caller": caller, "amount": amountString(amount)})
}

func (c *Client) ApproveAgreement(ctx context.Context, id, caller string) (*rpc.AgreementResult, error) {
	return c.agreementCall(ctx, "escrow_approve", map[string]string{"id": id, "caller": caller})
}

func (c *Client) ReleaseFunds(ctx context.Context, id, caller string, amount *big.Int) (*rpc.AgreementResult, error) {
	return c.agreementCall(ctx, "escrow_release", map[string]string{"id": id, "caller": caller, "amount": amountString(amount)})
}

func (c *Client) GetAgreement(ctx context.Context, id string) (*rpc.AgreementResult, error) {
	return c.agreementCall(ctx, "escrow_get", map[string]string{"id": id})
}

func (c *Client) ListAgreements(ctx context.Context) ([]rpc.AgreementResult, error) {
	var result []rpc.AgreementResult
	if err := c.Call(ctx, "escrow_list", nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) Custody(ctx context.Context) (*rpc.CustodyResult, error) {
	var result rpc.CustodyResult
	if err := c.Call(ctx, "escrow_custody", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
