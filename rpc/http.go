package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"tickechain/core"
	"tickechain/gateway/middleware"
	"tickechain/native/common"
	"tickechain/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB

	// RequestIDHeader carries the request id echoed on every response.
	RequestIDHeader = "X-Request-Id"
)

const (
	codeParseError        = -32700
	codeInvalidRequest    = -32600
	codeMethodNotFound    = -32601
	codeInvalidParams     = -32602
	codeUnauthorized      = -32001
	codeNotFound          = -32004
	codeInvalidState      = -32010
	codeInsufficientFunds = -32011
	codePaused            = -32012
	codeServerError       = -32000
)

// Server exposes the ticketing node over JSON-RPC 2.0.
type Server struct {
	node   *core.Node
	logger *slog.Logger
}

// NewServer wires a JSON-RPC server to node. A nil logger falls back to the
// process default.
func NewServer(node *core.Node, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{node: node, logger: logger.With("component", "rpc")}
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
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

// errorClass maps an engine error onto the HTTP status, JSON-RPC code and
// message returned to clients.
func errorClass(err error) (int, int, string) {
	switch common.Class(err) {
	case common.ErrValidation:
		return http.StatusBadRequest, codeInvalidParams, "invalid_params"
	case common.ErrUnauthorized:
		return http.StatusForbidden, codeUnauthorized, "unauthorized"
	case common.ErrNotFound:
		return http.StatusNotFound, codeNotFound, "not_found"
	case common.ErrInvalidState:
		return http.StatusConflict, codeInvalidState, "invalid_state"
	case common.ErrInsufficientFunds:
		return http.StatusConflict, codeInsufficientFunds, "insufficient_funds"
	case common.ErrPaused:
		return http.StatusServiceUnavailable, codePaused, "paused"
	default:
		return http.StatusInternalServerError, codeServerError, "internal_error"
	}
}

func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, req *RPCRequest, err error) {
	status, code, message := errorClass(err)
	if code == codeServerError {
		s.logger.ErrorContext(r.Context(), "rpc method failed",
			"method", req.Method,
			"requestId", w.Header().Get(RequestIDHeader),
			"error", err)
		writeError(w, status, req.ID, code, message, nil)
		return
	}
	writeError(w, status, req.ID, code, message, err.Error())
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handle(w, r)
}

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	requestID := strings.TrimSpace(r.Header.Get(RequestIDHeader))
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set(RequestIDHeader, requestID)
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, nil, codeInvalidRequest, "POST required", nil)
		return
	}
	if s == nil || s.node == nil {
		writeError(w, http.StatusServiceUnavailable, nil, codeServerError, "node unavailable", nil)
		return
	}

	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

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

	method := req.Method
	start := time.Now()
	rec := &statusWriter{ResponseWriter: w, status: http.StatusOK}
	w = rec
	defer func() {
		observability.RPC().ObserveCall(methodNamespace(method), method, rec.status, time.Since(start))
	}()

	switch req.Method {
	case "tkt_createEvent":
		s.handleCreateEvent(w, r, req)
	case "tkt_updateEvent":
		s.handleUpdateEvent(w, r, req)
	case "tkt_deleteEvent":
		s.handleDeleteEvent(w, r, req)
	case "tkt_changeEventState":
		s.handleChangeEventState(w, r, req)
	case "tkt_cancelEvent":
		s.handleCancelEvent(w, r, req)
	case "tkt_resumeEvents":
		s.handleResumeEvents(w, r, req)
	case "tkt_getEvent":
		s.handleGetEvent(w, r, req)
	case "tkt_listEvents":
		s.handleListEvents(w, r, req)
	case "tkt_eventsByCreator":
		s.handleEventsByCreator(w, r, req)
	case "tkt_totalEvents":
		s.handleTotalEvents(w, r, req)
	case "tkt_isEventOpen":
		s.handleIsEventOpen(w, r, req)
	case "tkt_isEventCancelled":
		s.handleIsEventCancelled(w, r, req)
	case "tkt_purchaseTicket":
		s.handlePurchaseTicket(w, r, req)
	case "tkt_transferTicket":
		s.handleTransferTicket(w, r, req)
	case "tkt_verifyTicket":
		s.handleVerifyTicket(w, r, req)
	case "tkt_refundTicket":
		s.handleRefundTicket(w, r, req)
	case "tkt_getTicket":
		s.handleGetTicket(w, r, req)
	case "tkt_ticketsOf":
		s.handleTicketsOf(w, r, req)
	case "tkt_totalMinted":
		s.handleTotalMinted(w, r, req)
	case "tkt_isTicketActive":
		s.handleIsTicketActive(w, r, req)
	case "tkt_isTicketVerified":
		s.handleIsTicketVerified(w, r, req)
	case "tkt_ticketToEventId":
		s.handleTicketToEventID(w, r, req)
	case "tkt_pauseTickets":
		s.handlePauseTickets(w, r, req)
	case "tkt_unpauseTickets":
		s.handleUnpauseTickets(w, r, req)
	case "tkt_paused":
		s.handlePaused(w, r, req)
	case "escrow_deposit":
		s.handleEscrowDeposit(w, r, req)
	case "escrow_withdraw":
		s.handleEscrowWithdraw(w, r, req)
	case "escrow_processRefund":
		s.handleEscrowProcessRefund(w, r, req)
	case "escrow_pause":
		s.handleEscrowPause(w, r, req)
	case "escrow_unpause":
		s.handleEscrowUnpause(w, r, req)
	case "escrow_getBalance":
		s.handleEscrowGetBalance(w, r, req)
	case "escrow_totals":
		s.handleEscrowTotals(w, r, req)
	case "log_range":
		s.handleLogRange(w, r, req)
	default:
		method = "unknown"
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method: %s", req.Method), nil)
	}
}

// methodNamespace returns the prefix of a method name, e.g. "escrow" for
// escrow_deposit.
func methodNamespace(method string) string {
	if idx := strings.Index(method, "_"); idx > 0 {
		return method[:idx]
	}
	return method
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (s *statusWriter) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusWriter) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// requireCaller returns the authenticated caller attached by the gateway.
func (s *Server) requireCaller(w http.ResponseWriter, r *http.Request, req *RPCRequest) ([20]byte, bool) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, "authentication required", nil)
		return [20]byte{}, false
	}
	return caller.Address, true
}

// requireAdmin additionally demands the admin scope. The engines still check
// the caller against the configured administrators.
func (s *Server) requireAdmin(w http.ResponseWriter, r *http.Request, req *RPCRequest) ([20]byte, bool) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, "authentication required", nil)
		return [20]byte{}, false
	}
	if !caller.HasScope(middleware.ScopeAdmin) {
		writeError(w, http.StatusForbidden, req.ID, codeUnauthorized, "admin scope required", nil)
		return [20]byte{}, false
	}
	return caller.Address, true
}

// decodeParams decodes the single params object into dst. Methods without
// parameters accept an empty params array.
func decodeParams(w http.ResponseWriter, req *RPCRequest, dst interface{}) bool {
	if len(req.Params) == 0 {
		return true
	}
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "expected a single params object")
		return false
	}
	decoder := json.NewDecoder(bytes.NewReader(req.Params[0]))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return false
	}
	return true
}

func writeInvalidParams(w http.ResponseWriter, req *RPCRequest, err error) {
	writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
}
