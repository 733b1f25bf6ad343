package rpc

import (
	"encoding/json"
	"fmt"
	"net/http"

	"tickechain/native/settlement"
)

type purchaseTicketParams struct {
	EventID     *uint64 `json:"eventId"`
	MetadataURI string  `json:"metadataUri"`
}

type transferTicketParams struct {
	From     string  `json:"from"`
	To       string  `json:"to"`
	TicketID *uint64 `json:"ticketId"`
}

type ticketIDParams struct {
	TicketID *uint64 `json:"ticketId"`
}

type ownerParams struct {
	Owner string `json:"owner"`
}

func (s *Server) handlePurchaseTicket(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	caller, ok := s.requireCaller(w, r, req)
	if !ok {
		return
	}
	var params purchaseTicketParams
	if !decodeParams(w, req, &params) {
		return
	}
	eventID, err := requireID("eventId", params.EventID)
	if err != nil {
		writeInvalidParams(w, req, err)
		return
	}
	ticket, err := s.node.PurchaseTicket(r.Context(), caller, eventID, params.MetadataURI)
	if err != nil {
		s.writeEngineError(w, r, req, err)
		return
	}
	writeResult(w, req.ID, ticketResult(ticket))
}

func (s *Server) handleTransferTicket(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	caller, ok := s.requireCaller(w, r, req)
	if !ok {
		return
	}
	var params transferTicketParams
	if !decodeParams(w, req, &params) {
		return
	}
	id, err := requireID("ticketId", params.TicketID)
	if err != nil {
		writeInvalidParams(w, req, err)
		return
	}
	from := caller
	if params.From != "" {
		if from, err = parseAddressParam("from", params.From); err != nil {
			writeInvalidParams(w, req, err)
			return
		}
	}
	to, err := parseAddressParam("to", params.To)
	if err != nil {
		writeInvalidParams(w, req, err)
		return
	}
	if err := s.node.TransferTicket(r.Context(), caller, from, to, id); err != nil {
		s.writeEngineError(w, r, req, err)
		return
	}
	s.writeTicket(w, r, req, id)
}

// handleVerifyTicket accepts the holder's proof either as the params object
// itself or wrapped under "proof".
func (s *Server) handleVerifyTicket(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	caller, ok := s.requireCaller(w, r, req)
	if !ok {
		return
	}
	if len(req.Params) != 1 {
		writeInvalidParams(w, req, fmt.Errorf("expected a single proof object"))
		return
	}
	raw := req.Params[0]
	var wrapper struct {
		Proof json.RawMessage `json:"proof"`
	}
	if err := json.Unmarshal(raw, &wrapper); err == nil && len(wrapper.Proof) > 0 {
		raw = wrapper.Proof
	}
	proof, err := settlement.Decode(raw)
	if err != nil {
		s.writeEngineError(w, r, req, err)
		return
	}
	receipt, err := s.node.VerifyTicket(r.Context(), caller, proof)
	if err != nil {
		s.writeEngineError(w, r, req, err)
		return
	}
	writeResult(w, req.ID, settlementResult(receipt))
}

func (s *Server) handleRefundTicket(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	caller, ok := s.requireCaller(w, r, req)
	if !ok {
		return
	}
	id, ok := decodeTicketID(w, req)
	if !ok {
		return
	}
	receipt, err := s.node.RefundTicket(r.Context(), caller, id)
	if err != nil {
		s.writeEngineError(w, r, req, err)
		return
	}
	writeResult(w, req.ID, refundResult(receipt))
}

func (s *Server) handlePauseTickets(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	caller, ok := s.requireAdmin(w, r, req)
	if !ok {
		return
	}
	if err := s.node.PauseTickets(r.Context(), caller); err != nil {
		s.writeEngineError(w, r, req, err)
		return
	}
	s.handlePaused(w, r, req)
}

func (s *Server) handleUnpauseTickets(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	caller, ok := s.requireAdmin(w, r, req)
	if !ok {
		return
	}
	if err := s.node.UnpauseTickets(r.Context(), caller); err != nil {
		s.writeEngineError(w, r, req, err)
		return
	}
	s.handlePaused(w, r, req)
}

func (s *Server) handleGetTicket(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	id, ok := decodeTicketID(w, req)
	if !ok {
		return
	}
	s.writeTicket(w, r, req, id)
}

func (s *Server) writeTicket(w http.ResponseWriter, r *http.Request, req *RPCRequest, id uint64) {
	ticket, err := s.node.Ticket(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, r, req, err)
		return
	}
	writeResult(w, req.ID, ticketResult(ticket))
}

func (s *Server) handleTicketsOf(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params ownerParams
	if !decodeParams(w, req, &params) {
		return
	}
	owner, err := parseAddressParam("owner", params.Owner)
	if err != nil {
		writeInvalidParams(w, req, err)
		return
	}
	list, err := s.node.TicketsOf(r.Context(), owner)
	if err != nil {
		s.writeEngineError(w, r, req, err)
		return
	}
	writeResult(w, req.ID, ticketResults(list))
}

func (s *Server) handleTotalMinted(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	total, err := s.node.TotalMintedTickets(r.Context())
	if err != nil {
		s.writeEngineError(w, r, req, err)
		return
	}
	writeResult(w, req.ID, total)
}

func (s *Server) handleIsTicketActive(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	id, ok := decodeTicketID(w, req)
	if !ok {
		return
	}
	active, err := s.node.IsTicketActive(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, r, req, err)
		return
	}
	writeResult(w, req.ID, active)
}

func (s *Server) handleIsTicketVerified(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	id, ok := decodeTicketID(w, req)
	if !ok {
		return
	}
	verified, err := s.node.IsTicketVerified(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, r, req, err)
		return
	}
	writeResult(w, req.ID, verified)
}

func (s *Server) handleTicketToEventID(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	id, ok := decodeTicketID(w, req)
	if !ok {
		return
	}
	eventID, err := s.node.TicketToEventID(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, r, req, err)
		return
	}
	writeResult(w, req.ID, eventID)
}

func decodeTicketID(w http.ResponseWriter, req *RPCRequest) (uint64, bool) {
	var params ticketIDParams
	if !decodeParams(w, req, &params) {
		return 0, false
	}
	id, err := requireID("ticketId", params.TicketID)
	if err != nil {
		writeInvalidParams(w, req, err)
		return 0, false
	}
	return id, true
}
