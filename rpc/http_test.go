package rpc

import (
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"tickechain/native/settlement"
)

func TestPurchaseVerifyOverRPC(t *testing.T) {
	env := newTestEnv(t)
	creator := newIdentity(t)
	holder := newIdentity(t)

	eventID := env.openEvent(&creator.caller, "1000", 2)
	var balance BalanceResult
	env.mustCall(&holder.caller, "escrow_deposit", map[string]string{"amount": "1500"}, &balance)
	if balance.Balance != "1500" {
		t.Fatalf("expected balance 1500, got %s", balance.Balance)
	}

	var ticket TicketResult
	env.mustCall(&holder.caller, "tkt_purchaseTicket", map[string]interface{}{"eventId": eventID, "metadataUri": "ipfs://seat-1"}, &ticket)
	if ticket.Owner != formatAddress(holder.addr) || !ticket.Active || ticket.Paid != "1000" {
		t.Fatalf("unexpected ticket %+v", ticket)
	}

	proof, err := settlement.SignProof(holder.key, ticket.ID)
	if err != nil {
		t.Fatalf("sign proof: %v", err)
	}
	var receipt SettlementResult
	env.mustCall(&creator.caller, "tkt_verifyTicket", map[string]interface{}{"proof": proof}, &receipt)
	if receipt.Amount != "1000" || receipt.Holder != formatAddress(holder.addr) {
		t.Fatalf("unexpected receipt %+v", receipt)
	}

	env.mustCall(nil, "escrow_getBalance", map[string]string{"address": formatAddress(creator.addr)}, &balance)
	if balance.Released != "1000" || balance.Balance != "0" {
		t.Fatalf("unexpected creator balance %+v", balance)
	}
	var verified bool
	env.mustCall(nil, "tkt_isTicketVerified", map[string]interface{}{"ticketId": ticket.ID}, &verified)
	if !verified {
		t.Fatalf("expected ticket verified")
	}

	// Verified tickets can no longer be refunded and block cancellation.
	env.expectError(&holder.caller, "tkt_refundTicket", map[string]interface{}{"ticketId": ticket.ID}, codeInvalidState)
	env.expectError(&creator.caller, "tkt_cancelEvent", map[string]interface{}{"eventId": eventID}, codeInvalidState)
	// A replayed proof fails the one-shot guard.
	env.expectError(&creator.caller, "tkt_verifyTicket", proof, codeInvalidState)

	var totals TotalsResult
	env.mustCall(nil, "escrow_totals", nil, &totals)
	if totals.Custodied != "500" || totals.Held != "0" {
		t.Fatalf("unexpected totals %+v", totals)
	}
}

func TestCancelledEventRefundOverRPC(t *testing.T) {
	env := newTestEnv(t)
	creator := newIdentity(t)
	holder := newIdentity(t)

	eventID := env.openEvent(&creator.caller, "100000000000000000", 1)
	env.mustCall(&holder.caller, "escrow_deposit", map[string]string{"amount": "100000000000000000"}, nil)
	var ticket TicketResult
	env.mustCall(&holder.caller, "tkt_purchaseTicket", map[string]interface{}{"eventId": eventID}, &ticket)
	env.expectError(&holder.caller, "tkt_refundTicket", map[string]interface{}{"ticketId": ticket.ID}, codeInvalidState)

	var evt EventResult
	env.mustCall(&creator.caller, "tkt_cancelEvent", map[string]interface{}{"eventId": eventID}, &evt)
	if evt.State != "cancelled" {
		t.Fatalf("expected cancelled state, got %s", evt.State)
	}
	var cancelled bool
	env.mustCall(nil, "tkt_isEventCancelled", map[string]interface{}{"eventId": eventID}, &cancelled)
	if !cancelled {
		t.Fatalf("expected event cancelled")
	}

	var refund RefundResult
	env.mustCall(&holder.caller, "tkt_refundTicket", map[string]interface{}{"ticketId": ticket.ID}, &refund)
	if refund.Refunded != "100000000000000000" || refund.Balance != "100000000000000000" || refund.Ticket.Active {
		t.Fatalf("unexpected refund %+v", refund)
	}
	env.expectError(&holder.caller, "tkt_refundTicket", map[string]interface{}{"ticketId": ticket.ID}, codeInvalidState)
}

func TestMutatingMethodsRequireCaller(t *testing.T) {
	env := newTestEnv(t)
	recorder := env.call(nil, "escrow_deposit", map[string]string{"amount": "1"})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
	_, rpcErr := decodeRPCResponse(t, recorder)
	if rpcErr == nil || rpcErr.Code != codeUnauthorized {
		t.Fatalf("expected unauthorized error, got %+v", rpcErr)
	}
}

func TestAdminMethodsRequireScopeAndAdminIdentity(t *testing.T) {
	env := newTestEnv(t)
	user := newIdentity(t)

	recorder := env.call(&user.caller, "escrow_pause", nil)
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without admin scope, got %d", recorder.Code)
	}

	scoped := user.caller
	scoped.Scopes = []string{"admin"}
	env.expectError(&scoped, "escrow_pause", nil, codeUnauthorized)

	var paused PausedResult
	env.mustCall(&env.admin, "escrow_pause", nil, &paused)
	if !paused.Escrow {
		t.Fatalf("expected escrow paused")
	}
	env.expectError(&env.admin, "escrow_pause", nil, codeInvalidState)
	rpcErr := env.expectError(&user.caller, "escrow_deposit", map[string]string{"amount": "5"}, codePaused)
	if rpcErr.Message != "paused" {
		t.Fatalf("expected paused message, got %s", rpcErr.Message)
	}
	env.mustCall(&env.admin, "escrow_unpause", nil, &paused)
	if paused.Escrow {
		t.Fatalf("expected escrow resumed")
	}
}

func TestAdminRefundOverRPCPaysOnce(t *testing.T) {
	env := newTestEnv(t)
	creator := newIdentity(t)
	other := newIdentity(t)
	holder := newIdentity(t)

	eventA := env.openEvent(&creator.caller, "40", 2)
	eventB := env.openEvent(&other.caller, "40", 2)
	env.mustCall(&holder.caller, "escrow_deposit", map[string]string{"amount": "80"}, nil)
	var ticketA, ticketB TicketResult
	env.mustCall(&holder.caller, "tkt_purchaseTicket", map[string]interface{}{"eventId": eventA}, &ticketA)
	env.mustCall(&holder.caller, "tkt_purchaseTicket", map[string]interface{}{"eventId": eventB}, &ticketB)

	env.expectError(&env.admin, "escrow_processRefund", map[string]interface{}{"ticketId": ticketA.ID}, codeInvalidState)
	env.mustCall(&creator.caller, "tkt_cancelEvent", map[string]interface{}{"eventId": eventA}, nil)
	env.expectError(&env.admin, "escrow_processRefund", map[string]interface{}{"to": formatAddress(holder.addr), "amount": "40"}, codeInvalidParams)

	var refund RefundResult
	env.mustCall(&env.admin, "escrow_processRefund", map[string]interface{}{"ticketId": ticketA.ID}, &refund)
	if refund.Refunded != "40" || refund.Balance != "40" || refund.Ticket.Owner != formatAddress(holder.addr) {
		t.Fatalf("unexpected refund %+v", refund)
	}
	env.expectError(&holder.caller, "tkt_refundTicket", map[string]interface{}{"ticketId": ticketA.ID}, codeInvalidState)
	env.expectError(&env.admin, "escrow_processRefund", map[string]interface{}{"ticketId": ticketA.ID}, codeInvalidState)

	var totals TotalsResult
	env.mustCall(nil, "escrow_totals", nil, &totals)
	if totals.Held != "40" || totals.Custodied != "80" {
		t.Fatalf("unexpected totals %+v", totals)
	}

	proof, err := settlement.SignProof(holder.key, ticketB.ID)
	if err != nil {
		t.Fatalf("sign proof: %v", err)
	}
	var receipt SettlementResult
	env.mustCall(&other.caller, "tkt_verifyTicket", map[string]interface{}{"proof": proof}, &receipt)
	if receipt.Amount != "40" {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
}

func TestTicketsPauseOverRPC(t *testing.T) {
	env := newTestEnv(t)
	creator := newIdentity(t)
	buyer := newIdentity(t)
	eventID := env.openEvent(&creator.caller, "0", 2)

	recorder := env.call(&buyer.caller, "tkt_pauseTickets", nil)
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without admin scope, got %d", recorder.Code)
	}

	var paused PausedResult
	env.mustCall(&env.admin, "tkt_pauseTickets", nil, &paused)
	if !paused.Tickets || paused.Escrow || paused.Events {
		t.Fatalf("unexpected pause state %+v", paused)
	}
	env.mustCall(nil, "tkt_paused", nil, &paused)
	if !paused.Tickets {
		t.Fatalf("expected tickets paused")
	}
	env.expectError(&env.admin, "tkt_pauseTickets", nil, codeInvalidState)
	rpcErr := env.expectError(&buyer.caller, "tkt_purchaseTicket", map[string]interface{}{"eventId": eventID}, codePaused)
	if rpcErr.Message != "paused" {
		t.Fatalf("expected paused message, got %s", rpcErr.Message)
	}

	env.mustCall(&env.admin, "tkt_unpauseTickets", nil, &paused)
	if paused.Tickets {
		t.Fatalf("expected tickets resumed")
	}
	var ticket TicketResult
	env.mustCall(&buyer.caller, "tkt_purchaseTicket", map[string]interface{}{"eventId": eventID}, &ticket)
	if !ticket.Active {
		t.Fatalf("expected active ticket %+v", ticket)
	}
}

func TestCancellationBreakerOverRPC(t *testing.T) {
	env := newTestEnv(t)
	creator := newIdentity(t)
	ids := make([]uint64, 0, 3)
	for i := 0; i < 3; i++ {
		ids = append(ids, env.openEvent(&creator.caller, "0", 1))
	}
	for _, id := range ids {
		env.mustCall(&creator.caller, "tkt_cancelEvent", map[string]interface{}{"eventId": id}, nil)
	}
	var paused PausedResult
	env.mustCall(nil, "tkt_paused", nil, &paused)
	if !paused.Events || paused.Cancellations != 3 {
		t.Fatalf("unexpected pause state %+v", paused)
	}
	env.expectError(&creator.caller, "tkt_createEvent", map[string]interface{}{
		"name": "Late", "date": testNow + 10, "ticketsAvailable": 1,
	}, codePaused)

	env.mustCall(&env.admin, "tkt_resumeEvents", nil, &paused)
	if paused.Events || paused.Cancellations != 0 {
		t.Fatalf("expected resumed events, got %+v", paused)
	}
}

func TestEngineErrorsMapToDistinctCodes(t *testing.T) {
	env := newTestEnv(t)
	creator := newIdentity(t)
	buyer := newIdentity(t)

	env.expectError(nil, "tkt_getEvent", map[string]interface{}{"eventId": 99}, codeNotFound)
	eventID := env.openEvent(&creator.caller, "10", 1)
	env.expectError(&buyer.caller, "tkt_purchaseTicket", map[string]interface{}{"eventId": eventID}, codeInsufficientFunds)
	env.expectError(&buyer.caller, "tkt_updateEvent", map[string]interface{}{
		"eventId": eventID, "name": "Mine", "date": testNow + 10, "ticketsAvailable": 1,
	}, codeUnauthorized)
	env.expectError(&creator.caller, "tkt_createEvent", map[string]interface{}{
		"name": "Past", "date": testNow - 1, "ticketsAvailable": 1,
	}, codeInvalidParams)

	var total uint64
	env.mustCall(nil, "tkt_totalMinted", nil, &total)
	if total != 0 {
		t.Fatalf("expected no minted tickets, got %d", total)
	}
}

func TestAmountParsing(t *testing.T) {
	env := newTestEnv(t)
	holder := newIdentity(t)
	overflow := new(big.Int).Lsh(big.NewInt(1), 256).String()
	for _, amount := range []string{"", "abc", "-1", "0", "1.5", overflow} {
		env.expectError(&holder.caller, "escrow_deposit", map[string]string{"amount": amount}, codeInvalidParams)
	}
	maxAmount := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1)).String()
	var balance BalanceResult
	env.mustCall(&holder.caller, "escrow_deposit", map[string]string{"amount": maxAmount}, &balance)
	if balance.Balance != maxAmount {
		t.Fatalf("expected max balance, got %s", balance.Balance)
	}
}

func TestParamsValidation(t *testing.T) {
	env := newTestEnv(t)
	env.expectError(nil, "tkt_getTicket", nil, codeInvalidParams)
	env.expectError(nil, "tkt_getTicket", map[string]interface{}{"ticketId": 1, "extra": true}, codeInvalidParams)
	env.expectError(nil, "tkt_ticketsOf", map[string]string{"owner": "nope"}, codeInvalidParams)
	env.expectError(nil, "tkt_eventsByCreator", map[string]string{}, codeInvalidParams)
}

func TestTransferTicketMovesOwnership(t *testing.T) {
	env := newTestEnv(t)
	creator := newIdentity(t)
	holder := newIdentity(t)
	friend := newIdentity(t)

	eventID := env.openEvent(&creator.caller, "0", 1)
	var ticket TicketResult
	env.mustCall(&holder.caller, "tkt_purchaseTicket", map[string]interface{}{"eventId": eventID}, &ticket)
	env.mustCall(&holder.caller, "tkt_transferTicket", map[string]interface{}{
		"to": friend.key.PubKey().Address().Hex(), "ticketId": ticket.ID,
	}, &ticket)
	if ticket.Owner != formatAddress(friend.addr) {
		t.Fatalf("expected new owner, got %s", ticket.Owner)
	}
	var owned []TicketResult
	env.mustCall(nil, "tkt_ticketsOf", map[string]string{"owner": formatAddress(holder.addr)}, &owned)
	if len(owned) != 0 {
		t.Fatalf("expected previous owner to hold nothing, got %d", len(owned))
	}
	env.mustCall(nil, "tkt_ticketsOf", map[string]string{"owner": formatAddress(friend.addr)}, &owned)
	if len(owned) != 1 || owned[0].ID != ticket.ID {
		t.Fatalf("expected friend to hold ticket, got %+v", owned)
	}
}

func TestLogRangePagesRecords(t *testing.T) {
	env := newTestEnv(t)
	holder := newIdentity(t)
	for _, amount := range []string{"1", "2", "3"} {
		env.mustCall(&holder.caller, "escrow_deposit", map[string]string{"amount": amount}, nil)
	}
	var page LogRangeResult
	env.mustCall(nil, "log_range", map[string]interface{}{"from": 1, "limit": 1}, &page)
	if len(page.Records) != 1 || page.Records[0].Sequence != 1 || page.Next != 2 {
		t.Fatalf("unexpected page %+v", page)
	}
	if page.Records[0].Type != "escrow.deposited" || page.Records[0].Attributes["amount"] != "2" {
		t.Fatalf("unexpected record %+v", page.Records[0])
	}
	env.mustCall(nil, "log_range", map[string]interface{}{"from": 3}, &page)
	if len(page.Records) != 0 || page.Next != 3 {
		t.Fatalf("expected empty tail page, got %+v", page)
	}
	env.expectError(nil, "log_range", map[string]interface{}{"limit": -1}, codeInvalidParams)
}

func TestRequestEnvelopeErrors(t *testing.T) {
	env := newTestEnv(t)
	recorder := env.call(nil, "tkt_nope", nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
	if recorder.Header().Get(RequestIDHeader) == "" {
		t.Fatalf("expected generated request id")
	}

	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader("{"))
	req.Header.Set(RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)
	_, rpcErr := decodeRPCResponse(t, rec)
	if rpcErr == nil || rpcErr.Code != codeParseError {
		t.Fatalf("expected parse error, got %+v", rpcErr)
	}
	if rec.Header().Get(RequestIDHeader) != "req-42" {
		t.Fatalf("expected request id echoed, got %q", rec.Header().Get(RequestIDHeader))
	}

	rec = httptest.NewRecorder()
	env.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rpc", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}

	body, _ := json.Marshal(map[string]interface{}{"jsonrpc": "1.0", "method": "tkt_totalEvents", "id": 1})
	rec = httptest.NewRecorder()
	env.server.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(string(body))))
	_, rpcErr = decodeRPCResponse(t, rec)
	if rpcErr == nil || rpcErr.Code != codeInvalidRequest {
		t.Fatalf("expected invalid request, got %+v", rpcErr)
	}
}
