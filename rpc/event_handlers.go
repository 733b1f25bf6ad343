package rpc

import (
	"math/big"
	"net/http"
	"strings"

	"tickechain/native/common"
	"tickechain/native/lifecycle"
)

type eventFieldsParams struct {
	Name             string `json:"name"`
	Location         string `json:"location"`
	Description      string `json:"description"`
	Date             int64  `json:"date"`
	Price            string `json:"price"`
	TicketsAvailable uint64 `json:"ticketsAvailable"`
}

func (p eventFieldsParams) toParams() (lifecycle.EventParams, error) {
	var price *big.Int
	if strings.TrimSpace(p.Price) != "" {
		parsed, err := parseAmount(p.Price, true)
		if err != nil {
			return lifecycle.EventParams{}, err
		}
		price = parsed
	}
	return lifecycle.EventParams{
		Name:             p.Name,
		Location:         p.Location,
		Description:      p.Description,
		Date:             p.Date,
		Price:            price,
		TicketsAvailable: p.TicketsAvailable,
	}, nil
}

type updateEventParams struct {
	EventID *uint64 `json:"eventId"`
	eventFieldsParams
}

type eventIDParams struct {
	EventID *uint64 `json:"eventId"`
}

type changeEventStateParams struct {
	EventID *uint64 `json:"eventId"`
	State   string  `json:"state"`
}

type creatorParams struct {
	Creator string `json:"creator"`
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	caller, ok := s.requireCaller(w, r, req)
	if !ok {
		return
	}
	var params eventFieldsParams
	if !decodeParams(w, req, &params) {
		return
	}
	fields, err := params.toParams()
	if err != nil {
		writeInvalidParams(w, req, err)
		return
	}
	evt, err := s.node.CreateEvent(r.Context(), caller, fields)
	if err != nil {
		s.writeEngineError(w, r, req, err)
		return
	}
	writeResult(w, req.ID, eventResult(evt))
}

func (s *Server) handleUpdateEvent(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	caller, ok := s.requireCaller(w, r, req)
	if !ok {
		return
	}
	var params updateEventParams
	if !decodeParams(w, req, &params) {
		return
	}
	id, err := requireID("eventId", params.EventID)
	if err != nil {
		writeInvalidParams(w, req, err)
		return
	}
	fields, err := params.toParams()
	if err != nil {
		writeInvalidParams(w, req, err)
		return
	}
	evt, err := s.node.UpdateEvent(r.Context(), caller, id, fields)
	if err != nil {
		s.writeEngineError(w, r, req, err)
		return
	}
	writeResult(w, req.ID, eventResult(evt))
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	caller, ok := s.requireCaller(w, r, req)
	if !ok {
		return
	}
	id, ok := decodeEventID(w, req)
	if !ok {
		return
	}
	if err := s.node.DeleteEvent(r.Context(), caller, id); err != nil {
		s.writeEngineError(w, r, req, err)
		return
	}
	writeResult(w, req.ID, map[string]interface{}{"eventId": id, "deleted": true})
}

func (s *Server) handleChangeEventState(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	caller, ok := s.requireCaller(w, r, req)
	if !ok {
		return
	}
	var params changeEventStateParams
	if !decodeParams(w, req, &params) {
		return
	}
	id, err := requireID("eventId", params.EventID)
	if err != nil {
		writeInvalidParams(w, req, err)
		return
	}
	next, err := lifecycle.ParseEventState(params.State)
	if err != nil {
		writeInvalidParams(w, req, err)
		return
	}
	if err := s.node.ChangeEventState(r.Context(), caller, id, next); err != nil {
		s.writeEngineError(w, r, req, err)
		return
	}
	s.writeEvent(w, r, req, id)
}

func (s *Server) handleCancelEvent(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	caller, ok := s.requireCaller(w, r, req)
	if !ok {
		return
	}
	id, ok := decodeEventID(w, req)
	if !ok {
		return
	}
	if err := s.node.CancelEvent(r.Context(), caller, id); err != nil {
		s.writeEngineError(w, r, req, err)
		return
	}
	s.writeEvent(w, r, req, id)
}

func (s *Server) handleResumeEvents(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	caller, ok := s.requireAdmin(w, r, req)
	if !ok {
		return
	}
	if err := s.node.ResumeEvents(r.Context(), caller); err != nil {
		s.writeEngineError(w, r, req, err)
		return
	}
	s.handlePaused(w, r, req)
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	id, ok := decodeEventID(w, req)
	if !ok {
		return
	}
	s.writeEvent(w, r, req, id)
}

func (s *Server) writeEvent(w http.ResponseWriter, r *http.Request, req *RPCRequest, id uint64) {
	evt, err := s.node.Event(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, r, req, err)
		return
	}
	writeResult(w, req.ID, eventResult(evt))
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	list, err := s.node.ListEvents(r.Context())
	if err != nil {
		s.writeEngineError(w, r, req, err)
		return
	}
	writeResult(w, req.ID, eventResults(list))
}

func (s *Server) handleEventsByCreator(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params creatorParams
	if !decodeParams(w, req, &params) {
		return
	}
	creator, err := parseAddressParam("creator", params.Creator)
	if err != nil {
		writeInvalidParams(w, req, err)
		return
	}
	list, err := s.node.EventsByCreator(r.Context(), creator)
	if err != nil {
		s.writeEngineError(w, r, req, err)
		return
	}
	writeResult(w, req.ID, eventResults(list))
}

func (s *Server) handleTotalEvents(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	total, err := s.node.TotalEvents(r.Context())
	if err != nil {
		s.writeEngineError(w, r, req, err)
		return
	}
	writeResult(w, req.ID, total)
}

func (s *Server) handleIsEventOpen(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	id, ok := decodeEventID(w, req)
	if !ok {
		return
	}
	open, err := s.node.IsEventOpen(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, r, req, err)
		return
	}
	writeResult(w, req.ID, open)
}

func (s *Server) handleIsEventCancelled(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	id, ok := decodeEventID(w, req)
	if !ok {
		return
	}
	cancelled, err := s.node.IsEventCancelled(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, r, req, err)
		return
	}
	writeResult(w, req.ID, cancelled)
}

func (s *Server) handlePaused(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	flags, err := s.node.PauseFlags(r.Context())
	if err != nil {
		s.writeEngineError(w, r, req, err)
		return
	}
	cancellations, err := s.node.Cancellations(r.Context())
	if err != nil {
		s.writeEngineError(w, r, req, err)
		return
	}
	writeResult(w, req.ID, PausedResult{
		Events:        flags[common.ModuleEvents],
		Tickets:       flags[common.ModuleTickets],
		Escrow:        flags[common.ModuleEscrow],
		Cancellations: cancellations,
	})
}

func decodeEventID(w http.ResponseWriter, req *RPCRequest) (uint64, bool) {
	var params eventIDParams
	if !decodeParams(w, req, &params) {
		return 0, false
	}
	id, err := requireID("eventId", params.EventID)
	if err != nil {
		writeInvalidParams(w, req, err)
		return 0, false
	}
	return id, true
}
