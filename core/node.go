package core

import (
	"context"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"tickechain/core/events"
	"tickechain/core/state"
	"tickechain/native/common"
	"tickechain/native/escrow"
	"tickechain/native/lifecycle"
	"tickechain/native/settlement"
	"tickechain/native/tickets"
	"tickechain/observability/metrics"
)

const tracerName = "tickechain/core"

// Node is the central controller. It binds the lifecycle, ticket, escrow and
// settlement engines to one state transaction per operation so every
// operation commits or fails as a whole.
type Node struct {
	state   *state.Manager
	cfg     lifecycle.Config
	nowFn   func() int64
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *metrics.TicketingMetrics
	stream  *logStream

	subMu       sync.Mutex
	subscribers []events.Emitter
}

// NewNode creates a node on top of the supplied state manager. cfg carries the
// admin set and the cancellation breaker policy.
func NewNode(manager *state.Manager, cfg lifecycle.Config) *Node {
	n := &Node{
		state:   manager,
		cfg:     cfg,
		nowFn:   func() int64 { return time.Now().Unix() },
		logger:  slog.Default(),
		tracer:  otel.Tracer(tracerName),
		metrics: metrics.Ticketing(),
		stream:  newLogStream(),
	}
	n.rewireEmitters()
	return n
}

// SetLogger overrides the structured logger. Passing nil restores the default.
func (n *Node) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	n.logger = logger
}

// SetNowFunc overrides the clock used by the engines.
func (n *Node) SetNowFunc(now func() int64) {
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	n.nowFn = now
}

// AddSubscriber registers an emitter that receives every committed log record
// after the live stream.
func (n *Node) AddSubscriber(emitter events.Emitter) {
	if emitter == nil {
		return
	}
	n.subMu.Lock()
	n.subscribers = append(n.subscribers, emitter)
	n.subMu.Unlock()
	n.rewireEmitters()
}

func (n *Node) rewireEmitters() {
	n.subMu.Lock()
	fanout := make(events.Fanout, 0, len(n.subscribers)+1)
	fanout = append(fanout, n.stream)
	fanout = append(fanout, n.subscribers...)
	n.subMu.Unlock()
	n.state.SetEmitter(fanout)
}

// Admins returns the configured admin identities.
func (n *Node) Admins() [][20]byte {
	return append([][20]byte(nil), n.cfg.Admins...)
}

// IsAdmin reports whether addr is one of the configured admins.
func (n *Node) IsAdmin(addr [20]byte) bool {
	for _, admin := range n.cfg.Admins {
		if admin == addr {
			return true
		}
	}
	return false
}

type ledgers struct {
	events     *lifecycle.Engine
	tickets    *tickets.Engine
	escrow     *escrow.Engine
	settlement *settlement.Engine
}

func (n *Node) bind(tx *state.Tx) *ledgers {
	eventEngine := lifecycle.NewEngine()
	eventEngine.SetState(tx)
	eventEngine.SetConfig(n.cfg)
	eventEngine.SetNowFunc(n.nowFn)
	eventEngine.SetEmitter(tx)

	ticketEngine := tickets.NewEngine()
	ticketEngine.SetState(tx)
	ticketEngine.SetEventLedger(eventEngine)
	ticketEngine.SetNowFunc(n.nowFn)
	ticketEngine.SetAdmins(n.cfg.Admins)
	ticketEngine.SetEmitter(tx)

	escrowEngine := escrow.NewEngine()
	escrowEngine.SetState(tx)
	escrowEngine.SetAdmins(n.cfg.Admins)
	escrowEngine.SetEventStatus(eventEngine)
	escrowEngine.SetEmitter(tx)

	orchestrator := settlement.NewEngine(eventEngine, ticketEngine, escrowEngine)
	orchestrator.SetEmitter(tx)

	return &ledgers{
		events:     eventEngine,
		tickets:    ticketEngine,
		escrow:     escrowEngine,
		settlement: orchestrator,
	}
}

// update runs fn inside one read-write transaction and records the outcome.
func (n *Node) update(ctx context.Context, op string, fn func(l *ledgers) error, attrs ...attribute.KeyValue) error {
	ctx, span := n.tracer.Start(ctx, "node."+op, trace.WithAttributes(attrs...))
	defer span.End()
	start := time.Now()
	err := n.state.Update(ctx, func(tx *state.Tx) error {
		return fn(n.bind(tx))
	})
	n.finish(span, op, start, err, true)
	if err == nil {
		n.refreshGauges(ctx)
	}
	return err
}

// view runs fn against the committed state.
func (n *Node) view(ctx context.Context, op string, fn func(l *ledgers) error) error {
	ctx, span := n.tracer.Start(ctx, "node."+op)
	defer span.End()
	start := time.Now()
	err := n.state.View(ctx, func(tx *state.Tx) error {
		return fn(n.bind(tx))
	})
	n.finish(span, op, start, err, false)
	return err
}

func (n *Node) finish(span trace.Span, op string, start time.Time, err error, mutating bool) {
	outcome := common.ClassName(err)
	n.metrics.ObserveOperation(op, outcome, time.Since(start))
	span.SetAttributes(attribute.String("outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		level := slog.LevelInfo
		if outcome == "internal" {
			level = slog.LevelError
		}
		n.logger.Log(context.Background(), level, "operation rejected",
			slog.String("operation", op),
			slog.String("outcome", outcome),
			slog.String("error", err.Error()))
		return
	}
	if mutating {
		n.logger.Debug("operation committed",
			slog.String("operation", op),
			slog.Duration("elapsed", time.Since(start)))
	}
}

func (n *Node) refreshGauges(ctx context.Context) {
	_ = n.state.View(ctx, func(tx *state.Tx) error {
		totals, err := tx.EscrowTotals()
		if err != nil {
			return err
		}
		n.metrics.SetEscrowTotals(totals.Custodied, totals.Held)
		for module, paused := range common.PauseFlags(tx) {
			n.metrics.SetPaused(module, paused)
		}
		return nil
	})
}

func idAttr(key string, id uint64) attribute.KeyValue {
	return attribute.Int64(key, int64(id))
}

// --- Event lifecycle ---

// CreateEvent registers a new event owned by creator.
func (n *Node) CreateEvent(ctx context.Context, creator [20]byte, params lifecycle.EventParams) (*lifecycle.Event, error) {
	var created *lifecycle.Event
	err := n.update(ctx, "createEvent", func(l *ledgers) error {
		var err error
		created, err = l.events.CreateEvent(creator, params)
		return err
	})
	return created, err
}

// UpdateEvent replaces the descriptive fields of an event.
func (n *Node) UpdateEvent(ctx context.Context, caller [20]byte, id uint64, params lifecycle.EventParams) (*lifecycle.Event, error) {
	var updated *lifecycle.Event
	err := n.update(ctx, "updateEvent", func(l *ledgers) error {
		var err error
		updated, err = l.events.UpdateEvent(caller, id, params)
		return err
	}, idAttr("event.id", id))
	return updated, err
}

// DeleteEvent logically removes an event.
func (n *Node) DeleteEvent(ctx context.Context, caller [20]byte, id uint64) error {
	return n.update(ctx, "deleteEvent", func(l *ledgers) error {
		return l.events.DeleteEvent(caller, id)
	}, idAttr("event.id", id))
}

// ChangeEventState moves an event along its state machine.
func (n *Node) ChangeEventState(ctx context.Context, caller [20]byte, id uint64, next lifecycle.EventState) error {
	return n.update(ctx, "changeEventState", func(l *ledgers) error {
		return l.events.ChangeEventState(caller, id, next)
	}, idAttr("event.id", id), attribute.String("event.state", next.String()))
}

// CancelEvent cancels an event and counts toward the emergency pause.
func (n *Node) CancelEvent(ctx context.Context, caller [20]byte, id uint64) error {
	err := n.update(ctx, "cancelEvent", func(l *ledgers) error {
		return l.events.CancelEvent(caller, id)
	}, idAttr("event.id", id))
	if err == nil && n.EventsPaused(ctx) {
		n.logger.Warn("event management paused after cancellations",
			slog.Uint64("eventId", id))
	}
	return err
}

// ResumeEvents lifts the emergency pause on event management.
func (n *Node) ResumeEvents(ctx context.Context, caller [20]byte) error {
	return n.update(ctx, "resumeEvents", func(l *ledgers) error {
		return l.events.Resume(caller)
	})
}

// Event returns the event with the given id.
func (n *Node) Event(ctx context.Context, id uint64) (*lifecycle.Event, error) {
	var evt *lifecycle.Event
	err := n.view(ctx, "getEvent", func(l *ledgers) error {
		var err error
		evt, err = l.events.Event(id)
		return err
	})
	return evt, err
}

// ListEvents returns every event that has not been deleted.
func (n *Node) ListEvents(ctx context.Context) ([]*lifecycle.Event, error) {
	var out []*lifecycle.Event
	err := n.view(ctx, "listEvents", func(l *ledgers) error {
		var err error
		out, err = l.events.ListEvents()
		return err
	})
	return out, err
}

// EventsByCreator returns the live events owned by creator.
func (n *Node) EventsByCreator(ctx context.Context, creator [20]byte) ([]*lifecycle.Event, error) {
	var out []*lifecycle.Event
	err := n.view(ctx, "eventsByCreator", func(l *ledgers) error {
		var err error
		out, err = l.events.EventsByCreator(creator)
		return err
	})
	return out, err
}

// TotalEvents returns the number of event ids ever assigned.
func (n *Node) TotalEvents(ctx context.Context) (uint64, error) {
	var total uint64
	err := n.view(ctx, "totalEvents", func(l *ledgers) error {
		var err error
		total, err = l.events.TotalEvents()
		return err
	})
	return total, err
}

// IsEventOpen reports whether tickets can currently be bought for id.
func (n *Node) IsEventOpen(ctx context.Context, id uint64) (bool, error) {
	var open bool
	err := n.view(ctx, "isEventOpen", func(l *ledgers) error {
		var err error
		open, err = l.events.IsEventOpen(id)
		return err
	})
	return open, err
}

// IsEventCancelled reports whether id has been cancelled.
func (n *Node) IsEventCancelled(ctx context.Context, id uint64) (bool, error) {
	var cancelled bool
	err := n.view(ctx, "isEventCancelled", func(l *ledgers) error {
		var err error
		cancelled, err = l.events.IsEventCancelled(id)
		return err
	})
	return cancelled, err
}

// EventsPaused reports whether the cancellation breaker has tripped.
func (n *Node) EventsPaused(ctx context.Context) bool {
	var paused bool
	_ = n.state.View(ctx, func(tx *state.Tx) error {
		paused = tx.IsPaused(common.ModuleEvents)
		return nil
	})
	return paused
}

// Cancellations returns the cancellation counter feeding the breaker.
func (n *Node) Cancellations(ctx context.Context) (uint64, error) {
	var count uint64
	err := n.view(ctx, "cancellations", func(l *ledgers) error {
		var err error
		count, err = l.events.Cancellations()
		return err
	})
	return count, err
}

// --- Tickets and settlement ---

// PurchaseTicket holds the event price from the buyer's escrow balance and
// mints the ticket.
func (n *Node) PurchaseTicket(ctx context.Context, buyer [20]byte, eventID uint64, uri string) (*tickets.Ticket, error) {
	var ticket *tickets.Ticket
	err := n.update(ctx, "purchaseTicket", func(l *ledgers) error {
		var err error
		ticket, err = l.settlement.Purchase(buyer, eventID, uri)
		return err
	}, idAttr("event.id", eventID))
	return ticket, err
}

// TransferTicket reassigns a ticket between identities.
func (n *Node) TransferTicket(ctx context.Context, caller, from, to [20]byte, id uint64) error {
	return n.update(ctx, "transferTicket", func(l *ledgers) error {
		return l.tickets.TransferTicket(caller, from, to, id)
	}, idAttr("ticket.id", id))
}

// VerifyTicket checks a holder proof and releases the ticket's funds to the
// event creator.
func (n *Node) VerifyTicket(ctx context.Context, caller [20]byte, proof *settlement.Proof) (*settlement.Receipt, error) {
	var receipt *settlement.Receipt
	var ticketID uint64
	if proof != nil {
		ticketID = proof.TicketID
	}
	err := n.update(ctx, "verifyTicket", func(l *ledgers) error {
		var err error
		receipt, err = l.settlement.VerifyAndSettle(caller, proof)
		return err
	}, idAttr("ticket.id", ticketID))
	return receipt, err
}

// RefundTicket burns the holder's ticket of a cancelled event and credits the
// paid amount back to the holder.
func (n *Node) RefundTicket(ctx context.Context, holder [20]byte, id uint64) (*settlement.RefundReceipt, error) {
	var receipt *settlement.RefundReceipt
	err := n.update(ctx, "refundTicket", func(l *ledgers) error {
		var err error
		receipt, err = l.settlement.Refund(holder, id)
		return err
	}, idAttr("ticket.id", id))
	return receipt, err
}

// PauseTickets halts minting, transfers, verification and refunds.
func (n *Node) PauseTickets(ctx context.Context, caller [20]byte) error {
	return n.update(ctx, "ticketsPause", func(l *ledgers) error {
		return l.tickets.Pause(caller)
	})
}

// UnpauseTickets resumes the ticket ledger.
func (n *Node) UnpauseTickets(ctx context.Context, caller [20]byte) error {
	return n.update(ctx, "ticketsUnpause", func(l *ledgers) error {
		return l.tickets.Unpause(caller)
	})
}

// Ticket returns the ticket record, active or not.
func (n *Node) Ticket(ctx context.Context, id uint64) (*tickets.Ticket, error) {
	var ticket *tickets.Ticket
	err := n.view(ctx, "getTicket", func(l *ledgers) error {
		var err error
		ticket, err = l.tickets.Ticket(id)
		return err
	})
	return ticket, err
}

// TicketsOf returns the active tickets held by owner.
func (n *Node) TicketsOf(ctx context.Context, owner [20]byte) ([]*tickets.Ticket, error) {
	var out []*tickets.Ticket
	err := n.view(ctx, "ticketsOf", func(l *ledgers) error {
		var err error
		out, err = l.tickets.TicketsOf(owner)
		return err
	})
	return out, err
}

// TotalMintedTickets returns the number of ticket ids ever assigned.
func (n *Node) TotalMintedTickets(ctx context.Context) (uint64, error) {
	var total uint64
	err := n.view(ctx, "totalMinted", func(l *ledgers) error {
		var err error
		total, err = l.tickets.TotalMintedTickets()
		return err
	})
	return total, err
}

// IsTicketActive reports whether id has been minted and not refunded.
func (n *Node) IsTicketActive(ctx context.Context, id uint64) (bool, error) {
	var active bool
	err := n.view(ctx, "isTicketActive", func(l *ledgers) error {
		var err error
		active, err = l.tickets.IsTicketActive(id)
		return err
	})
	return active, err
}

// IsTicketVerified reports whether id has been verified at the gate.
func (n *Node) IsTicketVerified(ctx context.Context, id uint64) (bool, error) {
	var verified bool
	err := n.view(ctx, "isTicketVerified", func(l *ledgers) error {
		var err error
		verified, err = l.tickets.IsTicketVerified(id)
		return err
	})
	return verified, err
}

// TicketToEventID returns the event a ticket was sold for.
func (n *Node) TicketToEventID(ctx context.Context, id uint64) (uint64, error) {
	var eventID uint64
	err := n.view(ctx, "ticketToEventId", func(l *ledgers) error {
		var err error
		eventID, err = l.tickets.TicketToEventID(id)
		return err
	})
	return eventID, err
}

// --- Escrow ---

// Deposit credits amount to the caller's escrow balance.
func (n *Node) Deposit(ctx context.Context, caller [20]byte, amount *big.Int) (*big.Int, error) {
	var balance *big.Int
	err := n.update(ctx, "escrowDeposit", func(l *ledgers) error {
		var err error
		balance, err = l.escrow.DepositFunds(caller, amount)
		return err
	})
	return balance, err
}

// Withdraw pays amount out of the caller's escrow balance.
func (n *Node) Withdraw(ctx context.Context, caller [20]byte, amount *big.Int) (*big.Int, error) {
	var balance *big.Int
	err := n.update(ctx, "escrowWithdraw", func(l *ledgers) error {
		var err error
		balance, err = l.escrow.WithdrawFunds(caller, amount)
		return err
	})
	return balance, err
}

// ProcessRefund is the admin refund path. It burns the ticket of a cancelled
// event and credits its paid amount to the holder in one transaction.
func (n *Node) ProcessRefund(ctx context.Context, caller [20]byte, ticketID uint64) (*settlement.RefundReceipt, error) {
	var receipt *settlement.RefundReceipt
	err := n.update(ctx, "escrowProcessRefund", func(l *ledgers) error {
		var err error
		receipt, err = l.settlement.AdminRefund(caller, ticketID)
		return err
	}, idAttr("ticket.id", ticketID))
	return receipt, err
}

// PauseEscrow halts every fund movement.
func (n *Node) PauseEscrow(ctx context.Context, caller [20]byte) error {
	return n.update(ctx, "escrowPause", func(l *ledgers) error {
		return l.escrow.Pause(caller)
	})
}

// UnpauseEscrow resumes fund movements.
func (n *Node) UnpauseEscrow(ctx context.Context, caller [20]byte) error {
	return n.update(ctx, "escrowUnpause", func(l *ledgers) error {
		return l.escrow.Unpause(caller)
	})
}

// EscrowBalance returns the escrow balance of addr.
func (n *Node) EscrowBalance(ctx context.Context, addr [20]byte) (*big.Int, error) {
	var balance *big.Int
	err := n.view(ctx, "escrowBalance", func(l *ledgers) error {
		var err error
		balance, err = l.escrow.Balance(addr)
		return err
	})
	return balance, err
}

// EscrowReleased returns the cumulative amount released to creator.
func (n *Node) EscrowReleased(ctx context.Context, creator [20]byte) (*big.Int, error) {
	var released *big.Int
	err := n.view(ctx, "escrowReleased", func(l *ledgers) error {
		var err error
		released, err = l.escrow.Released(creator)
		return err
	})
	return released, err
}

// EscrowTotals returns the custody totals of the escrow ledger.
func (n *Node) EscrowTotals(ctx context.Context) (*escrow.Totals, error) {
	var totals *escrow.Totals
	err := n.view(ctx, "escrowTotals", func(l *ledgers) error {
		var err error
		totals, err = l.escrow.Totals()
		return err
	})
	return totals, err
}

// PauseFlags reports the pause state of every module.
func (n *Node) PauseFlags(ctx context.Context) (map[string]bool, error) {
	var flags map[string]bool
	err := n.state.View(ctx, func(tx *state.Tx) error {
		flags = common.PauseFlags(tx)
		return nil
	})
	return flags, err
}

// --- Log ---

// LogRange returns up to limit committed log records starting at from.
func (n *Node) LogRange(ctx context.Context, from uint64, limit int) ([]events.Committed, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return n.state.LogRange(from, limit)
}

// LogCount returns the number of committed log records.
func (n *Node) LogCount() (uint64, error) {
	return n.state.LogCount()
}
