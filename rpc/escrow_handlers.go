package rpc

import "net/http"

type amountParams struct {
	Amount string `json:"amount"`
}

type addressParams struct {
	Address string `json:"address"`
}

func (s *Server) handleEscrowDeposit(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	caller, ok := s.requireCaller(w, r, req)
	if !ok {
		return
	}
	var params amountParams
	if !decodeParams(w, req, &params) {
		return
	}
	amount, err := parseAmount(params.Amount, false)
	if err != nil {
		writeInvalidParams(w, req, err)
		return
	}
	if _, err := s.node.Deposit(r.Context(), caller, amount); err != nil {
		s.writeEngineError(w, r, req, err)
		return
	}
	s.writeBalance(w, r, req, caller)
}

func (s *Server) handleEscrowWithdraw(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	caller, ok := s.requireCaller(w, r, req)
	if !ok {
		return
	}
	var params amountParams
	if !decodeParams(w, req, &params) {
		return
	}
	amount, err := parseAmount(params.Amount, false)
	if err != nil {
		writeInvalidParams(w, req, err)
		return
	}
	if _, err := s.node.Withdraw(r.Context(), caller, amount); err != nil {
		s.writeEngineError(w, r, req, err)
		return
	}
	s.writeBalance(w, r, req, caller)
}

// handleEscrowProcessRefund refunds a ticket of a cancelled event on the
// holder's behalf. The amount is the price recorded on the ticket.
func (s *Server) handleEscrowProcessRefund(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	caller, ok := s.requireAdmin(w, r, req)
	if !ok {
		return
	}
	id, ok := decodeTicketID(w, req)
	if !ok {
		return
	}
	receipt, err := s.node.ProcessRefund(r.Context(), caller, id)
	if err != nil {
		s.writeEngineError(w, r, req, err)
		return
	}
	writeResult(w, req.ID, refundResult(receipt))
}

func (s *Server) handleEscrowPause(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	caller, ok := s.requireAdmin(w, r, req)
	if !ok {
		return
	}
	if err := s.node.PauseEscrow(r.Context(), caller); err != nil {
		s.writeEngineError(w, r, req, err)
		return
	}
	s.handlePaused(w, r, req)
}

func (s *Server) handleEscrowUnpause(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	caller, ok := s.requireAdmin(w, r, req)
	if !ok {
		return
	}
	if err := s.node.UnpauseEscrow(r.Context(), caller); err != nil {
		s.writeEngineError(w, r, req, err)
		return
	}
	s.handlePaused(w, r, req)
}

func (s *Server) handleEscrowGetBalance(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params addressParams
	if !decodeParams(w, req, &params) {
		return
	}
	addr, err := parseAddressParam("address", params.Address)
	if err != nil {
		writeInvalidParams(w, req, err)
		return
	}
	s.writeBalance(w, r, req, addr)
}

func (s *Server) writeBalance(w http.ResponseWriter, r *http.Request, req *RPCRequest, addr [20]byte) {
	balance, err := s.node.EscrowBalance(r.Context(), addr)
	if err != nil {
		s.writeEngineError(w, r, req, err)
		return
	}
	released, err := s.node.EscrowReleased(r.Context(), addr)
	if err != nil {
		s.writeEngineError(w, r, req, err)
		return
	}
	writeResult(w, req.ID, BalanceResult{
		Address:  formatAddress(addr),
		Balance:  formatAmount(balance),
		Released: formatAmount(released),
	})
}

func (s *Server) handleEscrowTotals(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	totals, err := s.node.EscrowTotals(r.Context())
	if err != nil {
		s.writeEngineError(w, r, req, err)
		return
	}
	writeResult(w, req.ID, totalsResult(totals))
}
