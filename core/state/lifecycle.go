package state

import (
	"fmt"
	"math/big"
	"strconv"

	"tickechain/native/lifecycle"
)

var (
	lifecycleEventPrefix   = "events/record/"
	lifecycleCreatorPrefix = "events/creator/"
	lifecycleCountKey      = []byte("events/count")
	lifecycleCancelKey     = []byte("events/cancellations")
)

type storedEvent struct {
	Creator          [20]byte
	Name             string
	Location         string
	Description      string
	Date             uint64
	Price            *big.Int
	TicketsAvailable uint64
	State            uint8
	VerifiedCount    uint64
	ActiveTickets    uint64
	CreatedAt        uint64
	Deleted          bool
}

func lifecycleEventKey(id uint64) []byte {
	return []byte(lifecycleEventPrefix + strconv.FormatUint(id, 10))
}

func lifecycleCreatorKey(creator [20]byte) []byte {
	return append([]byte(lifecycleCreatorPrefix), creator[:]...)
}

func newStoredEvent(e *lifecycle.Event) (*storedEvent, error) {
	if e.Date < 0 || e.CreatedAt < 0 {
		return nil, fmt.Errorf("state: event %d has negative timestamp", e.ID)
	}
	price := big.NewInt(0)
	if e.Price != nil {
		if e.Price.Sign() < 0 {
			return nil, fmt.Errorf("state: event %d has negative price", e.ID)
		}
		price = new(big.Int).Set(e.Price)
	}
	return &storedEvent{
		Creator:          e.Creator,
		Name:             e.Name,
		Location:         e.Location,
		Description:      e.Description,
		Date:             uint64(e.Date),
		Price:            price,
		TicketsAvailable: e.TicketsAvailable,
		State:            uint8(e.State),
		VerifiedCount:    e.VerifiedCount,
		ActiveTickets:    e.ActiveTickets,
		CreatedAt:        uint64(e.CreatedAt),
		Deleted:          e.Deleted,
	}, nil
}

func (s *storedEvent) toEvent(id uint64) *lifecycle.Event {
	price := big.NewInt(0)
	if s.Price != nil {
		price = new(big.Int).Set(s.Price)
	}
	return &lifecycle.Event{
		ID:               id,
		Creator:          s.Creator,
		Name:             s.Name,
		Location:         s.Location,
		Description:      s.Description,
		Date:             int64(s.Date),
		Price:            price,
		TicketsAvailable: s.TicketsAvailable,
		State:            lifecycle.EventState(s.State),
		VerifiedCount:    s.VerifiedCount,
		ActiveTickets:    s.ActiveTickets,
		CreatedAt:        int64(s.CreatedAt),
		Deleted:          s.Deleted,
	}
}

// LifecycleEventGet loads an event record, deleted or not.
func (tx *Tx) LifecycleEventGet(id uint64) (*lifecycle.Event, bool, error) {
	var stored storedEvent
	ok, err := tx.KVGet(lifecycleEventKey(id), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return stored.toEvent(id), true, nil
}

// LifecycleEventPut persists an event record.
func (tx *Tx) LifecycleEventPut(e *lifecycle.Event) error {
	if e == nil {
		return fmt.Errorf("state: nil event")
	}
	stored, err := newStoredEvent(e)
	if err != nil {
		return err
	}
	return tx.KVPut(lifecycleEventKey(e.ID), stored)
}

// LifecycleEventCount returns the next event id.
func (tx *Tx) LifecycleEventCount() (uint64, error) {
	return tx.kvGetUint64(lifecycleCountKey)
}

// LifecycleSetEventCount records the next event id.
func (tx *Tx) LifecycleSetEventCount(count uint64) error {
	return tx.KVPut(lifecycleCountKey, count)
}

// LifecycleCreatorIndexAdd records that creator owns event id.
func (tx *Tx) LifecycleCreatorIndexAdd(creator [20]byte, id uint64) error {
	return tx.kvAddID(lifecycleCreatorKey(creator), id)
}

// LifecycleCreatorIndex lists the ids of events created by creator.
func (tx *Tx) LifecycleCreatorIndex(creator [20]byte) ([]uint64, error) {
	return tx.kvGetIDs(lifecycleCreatorKey(creator))
}

// LifecycleCancellations returns the persisted cancellation counter.
func (tx *Tx) LifecycleCancellations() (uint64, error) {
	return tx.kvGetUint64(lifecycleCancelKey)
}

// LifecycleSetCancellations stores the cancellation counter.
func (tx *Tx) LifecycleSetCancellations(count uint64) error {
	return tx.KVPut(lifecycleCancelKey, count)
}
