package rpc

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ka1ii/developer-challenge/core"
	"github.com/ka1ii/developer-challenge/crypto"
	"github.com/ka1ii/developer-challenge/storage"
)

const testAuthToken = "rpc-test-token"

var (
	operatorAddr   = [20]byte{0xEE}
	clientAddr     = [20]byte{0x01}
	freelancerAddr = [20]byte{0x02}
)

type testEnv struct {
	node    *core.Node
	server  *Server
	handler http.Handler
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	node, err := core.NewNode(storage.NewMemDB(), operatorAddr, nil)
	require.NoError(t, err)
	_, err = node.InitGenesis(core.Genesis{Name: "Coin", Symbol: "COIN", Decimals: 18, InitialSupply: big.NewInt(1000)})
	require.NoError(t, err)
	require.NoError(t, node.TokenTransfer(operatorAddr, clientAddr, big.NewInt(500)))

	if cfg.AuthToken == "" {
		cfg.AuthToken = testAuthToken
	}
	server, err := NewServer(node, cfg, nil)
	require.NoError(t, err)
	return &testEnv{node: node, server: server, handler: server.Handler()}
}

func bech32(addr [20]byte) string {
	return crypto.AddressFromBytes(addr).String()
}

type callResult struct {
	status int
	result json.RawMessage
	err    *RPCError
}

func (env *testEnv) call(t *testing.T, method string, params interface{}, authorized bool) callResult {
	t.Helper()
	req := map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": method}
	if params != nil {
		raw, err := json.Marshal(params)
		require.NoError(t, err)
		req["params"] = []json.RawMessage{raw}
	}
	body, err := json.Marshal(req)
	require.NoError(t, err)

	httpReq := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	httpReq.RemoteAddr = "192.0.2.10:5000"
	if authorized {
		httpReq.Header.Set("Authorization", "Bearer "+testAuthToken)
	}
	recorder := httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, httpReq)

	var resp struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
	return callResult{status: recorder.Code, result: resp.Result, err: resp.Error}
}

func (r callResult) reason(t *testing.T) string {
	t.Helper()
	require.NotNil(t, r.err, "expected error response")
	raw, err := json.Marshal(r.err.Data)
	require.NoError(t, err)
	var data ErrorData
	require.NoError(t, json.Unmarshal(raw, &data))
	return data.Reason
}

func decodeResult[T any](t *testing.T, r callResult) T {
	t.Helper()
	require.Nil(t, r.err, "unexpected error response")
	var out T
	require.NoError(t, json.Unmarshal(r.result, &out))
	return out
}
