package rpc

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"tickechain/core"
	"tickechain/core/state"
	"tickechain/crypto"
	"tickechain/gateway/middleware"
	"tickechain/native/lifecycle"
	"tickechain/storage"
)

const testNow int64 = 1_750_000_000

type testEnv struct {
	t      *testing.T
	node   *core.Node
	server *Server
	admin  middleware.Caller
}

type testIdentity struct {
	key    *crypto.PrivateKey
	addr   [20]byte
	caller middleware.Caller
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	admin := newIdentity(t)
	cfg := lifecycle.DefaultConfig()
	cfg.Admins = [][20]byte{admin.addr}
	node := core.NewNode(state.NewManager(storage.NewMemDB()), cfg)
	node.SetNowFunc(func() int64 { return testNow })
	adminCaller := admin.caller
	adminCaller.Scopes = []string{middleware.ScopeAdmin}
	return &testEnv{t: t, node: node, server: NewServer(node, nil), admin: adminCaller}
}

func newIdentity(t *testing.T) testIdentity {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addr := key.PubKey().Address().Bytes20()
	return testIdentity{key: key, addr: addr, caller: middleware.Caller{Address: addr}}
}

func marshalParam(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal param: %v", err)
	}
	return raw
}

// call issues a JSON-RPC request as caller. A nil caller is anonymous.
func (e *testEnv) call(caller *middleware.Caller, method string, params interface{}) *httptest.ResponseRecorder {
	e.t.Helper()
	req := RPCRequest{JSONRPC: jsonRPCVersion, Method: method, ID: 1}
	if params != nil {
		req.Params = []json.RawMessage{marshalParam(e.t, params)}
	}
	body, err := json.Marshal(req)
	if err != nil {
		e.t.Fatalf("marshal request: %v", err)
	}
	httpReq := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader(body))
	if caller != nil {
		httpReq = httpReq.WithContext(middleware.WithCaller(httpReq.Context(), *caller))
	}
	recorder := httptest.NewRecorder()
	e.server.ServeHTTP(recorder, httpReq)
	return recorder
}

// mustCall fails the test unless the request succeeds and decodes the result
// into out when out is non-nil.
func (e *testEnv) mustCall(caller *middleware.Caller, method string, params interface{}, out interface{}) {
	e.t.Helper()
	recorder := e.call(caller, method, params)
	result, rpcErr := decodeRPCResponse(e.t, recorder)
	if rpcErr != nil {
		e.t.Fatalf("%s failed: %d %s %v", method, rpcErr.Code, rpcErr.Message, rpcErr.Data)
	}
	if out != nil {
		if err := json.Unmarshal(result, out); err != nil {
			e.t.Fatalf("decode %s result: %v", method, err)
		}
	}
}

// expectError fails the test unless the request fails with code.
func (e *testEnv) expectError(caller *middleware.Caller, method string, params interface{}, code int) *RPCError {
	e.t.Helper()
	recorder := e.call(caller, method, params)
	_, rpcErr := decodeRPCResponse(e.t, recorder)
	if rpcErr == nil {
		e.t.Fatalf("%s: expected error code %d", method, code)
	}
	if rpcErr.Code != code {
		e.t.Fatalf("%s: expected code %d got %d (%s %v)", method, code, rpcErr.Code, rpcErr.Message, rpcErr.Data)
	}
	return rpcErr
}

func decodeRPCResponse(t *testing.T, recorder *httptest.ResponseRecorder) (json.RawMessage, *RPCError) {
	t.Helper()
	var resp struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", recorder.Body.String(), err)
	}
	return resp.Result, resp.Error
}

// openEvent creates an event owned by creator and opens it for sales.
func (e *testEnv) openEvent(creator *middleware.Caller, price string, supply uint64) uint64 {
	e.t.Helper()
	var evt EventResult
	e.mustCall(creator, "tkt_createEvent", map[string]interface{}{
		"name":             "Harbour Lights",
		"location":         "Pier 4",
		"date":             testNow + 86400,
		"price":            price,
		"ticketsAvailable": supply,
	}, &evt)
	e.mustCall(creator, "tkt_changeEventState", map[string]interface{}{"eventId": evt.ID, "state": "open"}, nil)
	return evt.ID
}
