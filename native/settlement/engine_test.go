package settlement_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"tickechain/core/state"
	"tickechain/crypto"
	"tickechain/native/common"
	"tickechain/native/escrow"
	"tickechain/native/lifecycle"
	"tickechain/native/settlement"
	"tickechain/native/tickets"
	"tickechain/storage"
)

const testNow int64 = 1_700_000_000

var oneToken = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

func tokens(num, den int64) *big.Int {
	v := new(big.Int).Mul(oneToken, big.NewInt(num))
	return v.Quo(v, big.NewInt(den))
}

type ledgers struct {
	events     *lifecycle.Engine
	tickets    *tickets.Engine
	escrow     *escrow.Engine
	settlement *settlement.Engine
}

func bind(tx *state.Tx) *ledgers {
	events := lifecycle.NewEngine()
	events.SetState(tx)
	events.SetNowFunc(func() int64 { return testNow })
	events.SetEmitter(tx)

	ticketLedger := tickets.NewEngine()
	ticketLedger.SetState(tx)
	ticketLedger.SetEventLedger(events)
	ticketLedger.SetNowFunc(func() int64 { return testNow })
	ticketLedger.SetEmitter(tx)

	funds := escrow.NewEngine()
	funds.SetState(tx)
	funds.SetEventStatus(events)
	funds.SetEmitter(tx)

	orchestrator := settlement.NewEngine(events, ticketLedger, funds)
	orchestrator.SetEmitter(tx)
	return &ledgers{events: events, tickets: ticketLedger, escrow: funds, settlement: orchestrator}
}

type harness struct {
	t   *testing.T
	mgr *state.Manager
}

func newHarness(t *testing.T) *harness {
	return &harness{t: t, mgr: state.NewManager(storage.NewMemDB())}
}

func (h *harness) update(fn func(l *ledgers) error) error {
	return h.mgr.Update(context.Background(), func(tx *state.Tx) error {
		return fn(bind(tx))
	})
}

func (h *harness) must(fn func(l *ledgers) error) {
	h.t.Helper()
	require.NoError(h.t, h.update(fn))
}

func (h *harness) view(fn func(l *ledgers)) {
	h.t.Helper()
	require.NoError(h.t, h.mgr.View(context.Background(), func(tx *state.Tx) error {
		fn(bind(tx))
		return nil
	}))
}

func newKey(t *testing.T) (*crypto.PrivateKey, [20]byte) {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	return key, key.PubKey().Address().Bytes20()
}

func (h *harness) openEvent(creator [20]byte, price *big.Int, supply uint64) uint64 {
	h.t.Helper()
	var id uint64
	h.must(func(l *ledgers) error {
		evt, err := l.events.CreateEvent(creator, lifecycle.EventParams{
			Name:             "Harbour Lights",
			Location:         "Pier 4",
			Date:             testNow + 86_400,
			Price:            price,
			TicketsAvailable: supply,
		})
		if err != nil {
			return err
		}
		id = evt.ID
		return l.events.ChangeEventState(creator, id, lifecycle.EventOpen)
	})
	return id
}

func (h *harness) deposit(who [20]byte, amount *big.Int) {
	h.t.Helper()
	h.must(func(l *ledgers) error {
		_, err := l.escrow.DepositFunds(who, amount)
		return err
	})
}

func (h *harness) purchase(buyer [20]byte, eventID uint64) *tickets.Ticket {
	h.t.Helper()
	var ticket *tickets.Ticket
	h.must(func(l *ledgers) error {
		var err error
		ticket, err = l.settlement.Purchase(buyer, eventID, "ipfs://ticket")
		return err
	})
	return ticket
}

func TestScenarioVerifyReleasesFundsAndBlocksRefund(t *testing.T) {
	h := newHarness(t)
	_, creator := newKey(t)
	holderKey, holder := newKey(t)

	eventID := h.openEvent(creator, tokens(1, 1), 1)
	h.deposit(holder, tokens(1, 1))
	ticket := h.purchase(holder, eventID)
	require.Equal(t, uint64(0), ticket.ID)
	require.Equal(t, tokens(1, 1), ticket.Paid)

	h.view(func(l *ledgers) {
		evt, err := l.events.Event(eventID)
		require.NoError(t, err)
		require.Zero(t, evt.TicketsAvailable)
		totals, err := l.escrow.Totals()
		require.NoError(t, err)
		require.Equal(t, tokens(1, 1), totals.Held)
	})

	proof, err := settlement.SignProof(holderKey, ticket.ID)
	require.NoError(t, err)

	var receipt *settlement.Receipt
	h.must(func(l *ledgers) error {
		var err error
		receipt, err = l.settlement.VerifyAndSettle(creator, proof)
		return err
	})
	require.Equal(t, holder, receipt.Holder)
	require.Equal(t, tokens(1, 1), receipt.Amount)

	h.view(func(l *ledgers) {
		verified, err := l.tickets.IsTicketVerified(ticket.ID)
		require.NoError(t, err)
		require.True(t, verified)
		released, err := l.escrow.Released(creator)
		require.NoError(t, err)
		require.Equal(t, tokens(1, 1), released)
		totals, err := l.escrow.Totals()
		require.NoError(t, err)
		require.Zero(t, totals.Held.Sign())
		require.Zero(t, totals.Custodied.Sign())
		evt, err := l.events.Event(eventID)
		require.NoError(t, err)
		require.Equal(t, uint64(1), evt.VerifiedCount)
	})

	err = h.update(func(l *ledgers) error {
		_, err := l.settlement.Refund(holder, ticket.ID)
		return err
	})
	require.ErrorIs(t, err, common.ErrInvalidState)

	err = h.update(func(l *ledgers) error {
		return l.events.CancelEvent(creator, eventID)
	})
	require.ErrorIs(t, err, common.ErrInvalidState)
}

func TestScenarioCancelledEventRefundsHolder(t *testing.T) {
	h := newHarness(t)
	_, creator := newKey(t)
	_, holder := newKey(t)
	price := tokens(1, 10)

	eventID := h.openEvent(creator, price, 5)
	h.deposit(holder, price)
	ticket := h.purchase(holder, eventID)
	h.must(func(l *ledgers) error {
		return l.events.CancelEvent(creator, eventID)
	})

	var receipt *settlement.RefundReceipt
	h.must(func(l *ledgers) error {
		var err error
		receipt, err = l.settlement.Refund(holder, ticket.ID)
		return err
	})
	require.Equal(t, price, receipt.Refunded)
	require.Equal(t, price, receipt.Balance)

	h.view(func(l *ledgers) {
		active, err := l.tickets.IsTicketActive(ticket.ID)
		require.NoError(t, err)
		require.False(t, active)
		bal, err := l.escrow.Balance(holder)
		require.NoError(t, err)
		require.Equal(t, price, bal)
		totals, err := l.escrow.Totals()
		require.NoError(t, err)
		require.Zero(t, totals.Held.Sign())
		require.Equal(t, price, totals.Custodied)
		owned, err := l.tickets.TicketsOf(holder)
		require.NoError(t, err)
		require.Empty(t, owned)
	})

	err := h.update(func(l *ledgers) error {
		_, err := l.settlement.Refund(holder, ticket.ID)
		return err
	})
	require.ErrorIs(t, err, common.ErrInvalidState)
}

func TestPurchaseWithoutBalanceRollsBack(t *testing.T) {
	h := newHarness(t)
	_, creator := newKey(t)
	_, buyer := newKey(t)
	eventID := h.openEvent(creator, tokens(2, 1), 3)
	h.deposit(buyer, tokens(1, 1))

	err := h.update(func(l *ledgers) error {
		_, err := l.settlement.Purchase(buyer, eventID, "")
		return err
	})
	require.ErrorIs(t, err, common.ErrInsufficientFunds)

	h.view(func(l *ledgers) {
		evt, err := l.events.Event(eventID)
		require.NoError(t, err)
		require.Equal(t, uint64(3), evt.TicketsAvailable)
		minted, err := l.tickets.TotalMintedTickets()
		require.NoError(t, err)
		require.Zero(t, minted)
		bal, err := l.escrow.Balance(buyer)
		require.NoError(t, err)
		require.Equal(t, tokens(1, 1), bal)
	})
}

func TestClosedEventReopensForSales(t *testing.T) {
	h := newHarness(t)
	_, creator := newKey(t)
	_, buyer := newKey(t)
	eventID := h.openEvent(creator, tokens(1, 2), 2)
	h.deposit(buyer, tokens(1, 1))
	h.purchase(buyer, eventID)

	h.must(func(l *ledgers) error {
		return l.events.ChangeEventState(creator, eventID, lifecycle.EventClosed)
	})
	err := h.update(func(l *ledgers) error {
		_, err := l.settlement.Purchase(buyer, eventID, "")
		return err
	})
	require.ErrorIs(t, err, common.ErrInvalidState)

	h.must(func(l *ledgers) error {
		return l.events.ChangeEventState(creator, eventID, lifecycle.EventOpen)
	})
	ticket := h.purchase(buyer, eventID)
	require.Equal(t, uint64(1), ticket.ID)
	h.view(func(l *ledgers) {
		evt, err := l.events.Event(eventID)
		require.NoError(t, err)
		require.Zero(t, evt.TicketsAvailable)
	})
}

func TestFreeEventPurchaseAndRefundMoveNoFunds(t *testing.T) {
	h := newHarness(t)
	_, creator := newKey(t)
	_, holder := newKey(t)
	eventID := h.openEvent(creator, big.NewInt(0), 2)
	ticket := h.purchase(holder, eventID)
	h.must(func(l *ledgers) error { return l.events.CancelEvent(creator, eventID) })

	var receipt *settlement.RefundReceipt
	h.must(func(l *ledgers) error {
		var err error
		receipt, err = l.settlement.Refund(holder, ticket.ID)
		return err
	})
	require.Zero(t, receipt.Refunded.Sign())
	require.Nil(t, receipt.Balance)
}

func TestProofFromNonOwnerIsRejected(t *testing.T) {
	h := newHarness(t)
	_, creator := newKey(t)
	_, holder := newKey(t)
	strangerKey, _ := newKey(t)

	eventID := h.openEvent(creator, tokens(1, 2), 2)
	h.deposit(holder, tokens(1, 2))
	ticket := h.purchase(holder, eventID)

	forged, err := settlement.SignProof(strangerKey, ticket.ID)
	require.NoError(t, err)
	err = h.update(func(l *ledgers) error {
		_, err := l.settlement.VerifyAndSettle(creator, forged)
		return err
	})
	require.ErrorIs(t, err, common.ErrUnauthorized)

	h.view(func(l *ledgers) {
		verified, err := l.tickets.IsTicketVerified(ticket.ID)
		require.NoError(t, err)
		require.False(t, verified)
		totals, err := l.escrow.Totals()
		require.NoError(t, err)
		require.Equal(t, tokens(1, 2), totals.Held)
	})
}

func TestProofAfterTransferMustComeFromNewOwner(t *testing.T) {
	h := newHarness(t)
	_, creator := newKey(t)
	sellerKey, seller := newKey(t)
	buyerKey, buyer := newKey(t)

	eventID := h.openEvent(creator, tokens(1, 1), 1)
	h.deposit(seller, tokens(1, 1))
	ticket := h.purchase(seller, eventID)
	h.must(func(l *ledgers) error {
		return l.tickets.TransferTicket(seller, seller, buyer, ticket.ID)
	})

	stale, err := settlement.SignProof(sellerKey, ticket.ID)
	require.NoError(t, err)
	err = h.update(func(l *ledgers) error {
		_, err := l.settlement.VerifyAndSettle(creator, stale)
		return err
	})
	require.ErrorIs(t, err, common.ErrUnauthorized)

	fresh, err := settlement.SignProof(buyerKey, ticket.ID)
	require.NoError(t, err)
	h.must(func(l *ledgers) error {
		_, err := l.settlement.VerifyAndSettle(creator, fresh)
		return err
	})
}

func TestVerifyIsOneShot(t *testing.T) {
	h := newHarness(t)
	_, creator := newKey(t)
	holderKey, holder := newKey(t)
	eventID := h.openEvent(creator, tokens(1, 1), 1)
	h.deposit(holder, tokens(1, 1))
	ticket := h.purchase(holder, eventID)
	proof, err := settlement.SignProof(holderKey, ticket.ID)
	require.NoError(t, err)

	h.must(func(l *ledgers) error {
		_, err := l.settlement.VerifyAndSettle(creator, proof)
		return err
	})
	err = h.update(func(l *ledgers) error {
		_, err := l.settlement.VerifyAndSettle(creator, proof)
		return err
	})
	require.ErrorIs(t, err, common.ErrInvalidState)

	h.view(func(l *ledgers) {
		released, err := l.escrow.Released(creator)
		require.NoError(t, err)
		require.Equal(t, tokens(1, 1), released)
	})
}

func TestOnlyCreatorMayVerify(t *testing.T) {
	h := newHarness(t)
	_, creator := newKey(t)
	holderKey, holder := newKey(t)
	eventID := h.openEvent(creator, tokens(1, 1), 1)
	h.deposit(holder, tokens(1, 1))
	ticket := h.purchase(holder, eventID)
	proof, err := settlement.SignProof(holderKey, ticket.ID)
	require.NoError(t, err)

	err = h.update(func(l *ledgers) error {
		_, err := l.settlement.VerifyAndSettle(holder, proof)
		return err
	})
	require.ErrorIs(t, err, common.ErrUnauthorized)
}

func TestAdminRefundBurnsTicketAndKeepsOtherHoldings(t *testing.T) {
	h := newHarness(t)
	_, creatorA := newKey(t)
	_, creatorB := newKey(t)
	holderKey, holder := newKey(t)
	_, admin := newKey(t)
	price := tokens(2, 5)

	eventA := h.openEvent(creatorA, price, 3)
	eventB := h.openEvent(creatorB, price, 3)
	h.deposit(holder, tokens(4, 5))
	ticketA := h.purchase(holder, eventA)
	ticketB := h.purchase(holder, eventB)
	h.must(func(l *ledgers) error { return l.events.CancelEvent(creatorA, eventA) })

	withAdmin := func(fn func(l *ledgers) error) error {
		return h.update(func(l *ledgers) error {
			l.tickets.SetAdmins([][20]byte{admin})
			l.escrow.SetAdmins([][20]byte{admin})
			return fn(l)
		})
	}

	err := withAdmin(func(l *ledgers) error {
		_, err := l.settlement.AdminRefund(holder, ticketA.ID)
		return err
	})
	require.ErrorIs(t, err, common.ErrUnauthorized)

	var receipt *settlement.RefundReceipt
	require.NoError(t, withAdmin(func(l *ledgers) error {
		var err error
		receipt, err = l.settlement.AdminRefund(admin, ticketA.ID)
		return err
	}))
	require.Equal(t, price, receipt.Refunded)
	require.Equal(t, holder, receipt.Ticket.Owner)

	err = h.update(func(l *ledgers) error {
		_, err := l.settlement.Refund(holder, ticketA.ID)
		return err
	})
	require.ErrorIs(t, err, common.ErrInvalidState)

	h.view(func(l *ledgers) {
		totals, err := l.escrow.Totals()
		require.NoError(t, err)
		require.Equal(t, price, totals.Held)
		bal, err := l.escrow.Balance(holder)
		require.NoError(t, err)
		require.Equal(t, price, bal)
	})

	proof, err := settlement.SignProof(holderKey, ticketB.ID)
	require.NoError(t, err)
	h.must(func(l *ledgers) error {
		_, err := l.settlement.VerifyAndSettle(creatorB, proof)
		return err
	})
}

func TestPausedEscrowBlocksSettlement(t *testing.T) {
	h := newHarness(t)
	_, creator := newKey(t)
	holderKey, holder := newKey(t)
	_, admin := newKey(t)
	eventID := h.openEvent(creator, tokens(1, 1), 1)
	h.deposit(holder, tokens(1, 1))
	ticket := h.purchase(holder, eventID)
	proof, err := settlement.SignProof(holderKey, ticket.ID)
	require.NoError(t, err)

	h.must(func(l *ledgers) error {
		l.escrow.SetAdmins([][20]byte{admin})
		return l.escrow.Pause(admin)
	})
	err = h.update(func(l *ledgers) error {
		_, err := l.settlement.VerifyAndSettle(creator, proof)
		return err
	})
	require.ErrorIs(t, err, common.ErrPaused)

	h.view(func(l *ledgers) {
		verified, err := l.tickets.IsTicketVerified(ticket.ID)
		require.NoError(t, err)
		require.False(t, verified)
	})
}

func TestSettlementLogsCommitInOrder(t *testing.T) {
	h := newHarness(t)
	_, creator := newKey(t)
	holderKey, holder := newKey(t)
	eventID := h.openEvent(creator, tokens(1, 1), 1)
	h.deposit(holder, tokens(1, 1))
	ticket := h.purchase(holder, eventID)
	proof, err := settlement.SignProof(holderKey, ticket.ID)
	require.NoError(t, err)

	before, err := h.mgr.LogCount()
	require.NoError(t, err)
	h.must(func(l *ledgers) error {
		_, err := l.settlement.VerifyAndSettle(creator, proof)
		return err
	})
	logs, err := h.mgr.LogRange(before, 10)
	require.NoError(t, err)
	kinds := make([]string, 0, len(logs))
	for _, entry := range logs {
		kinds = append(kinds, entry.Record.Type)
	}
	require.Equal(t, []string{
		tickets.EventTypeTicketVerified,
		escrow.EventTypeEscrowReleased,
		settlement.EventTypeTicketSettled,
	}, kinds)
}
