package indexer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"tickechain/core"
	"tickechain/core/events"
	"tickechain/core/state"
	"tickechain/core/types"
	"tickechain/native/lifecycle"
	"tickechain/storage"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := Open(DriverSQLite, dsn)
	require.NoError(t, err)
	return db
}

type sliceSource struct {
	records []events.Committed
}

func (s *sliceSource) LogRange(_ context.Context, from uint64, limit int) ([]events.Committed, error) {
	if from >= uint64(len(s.records)) {
		return nil, nil
	}
	end := from + uint64(limit)
	if end > uint64(len(s.records)) {
		end = uint64(len(s.records))
	}
	return s.records[from:end], nil
}

func committed(seq uint64, typ string, attrs map[string]string) events.Committed {
	return events.Committed{Sequence: seq, Record: &types.Event{Type: typ, Attributes: attrs}}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "dsn")
	require.Error(t, err)
}

func TestRecordIsIdempotentAndLiftsColumns(t *testing.T) {
	idx, err := New(setupTestDB(t), nil, nil)
	require.NoError(t, err)
	ctx := context.Background()

	rec := committed(0, "ticket.minted", map[string]string{"ticketId": "4", "eventId": "2", "owner": "abcd"})
	require.NoError(t, idx.Record(ctx, rec))
	require.NoError(t, idx.Record(ctx, rec))

	rows, err := idx.Records(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "ticket.minted", rows[0].Type)
	require.NotNil(t, rows[0].TicketID)
	require.Equal(t, uint64(4), *rows[0].TicketID)
	require.Equal(t, uint64(2), *rows[0].EventID)
	require.Equal(t, "abcd", rows[0].Account)
	attrs, err := rows[0].Decoded()
	require.NoError(t, err)
	require.Equal(t, "4", attrs["ticketId"])

	_, err = idx.Backfill(ctx, 10)
	require.Error(t, err)
}

func TestBackfillResumesAfterLastSequence(t *testing.T) {
	source := &sliceSource{}
	for i := 0; i < 7; i++ {
		source.records = append(source.records, committed(uint64(i), "escrow.deposited", map[string]string{"amount": fmt.Sprint(i)}))
	}
	idx, err := New(setupTestDB(t), source, nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, idx.Record(ctx, source.records[0]))
	read, err := idx.Backfill(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, 6, read)

	last, ok, err := idx.LastSequence(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(6), last)

	read, err = idx.Backfill(ctx, 3)
	require.NoError(t, err)
	require.Zero(t, read)
}

func TestFailedRecordIsBackfilledAfterLaterWrites(t *testing.T) {
	source := &sliceSource{}
	for i := 0; i < 5; i++ {
		source.records = append(source.records, committed(uint64(i), "escrow.deposited", nil))
	}
	idx, err := New(setupTestDB(t), source, nil)
	require.NoError(t, err)
	ctx := context.Background()

	failed := 0
	idx.write = func(ctx context.Context, batch []events.Committed) error {
		if len(batch) == 1 && batch[0].Sequence == 2 && failed == 0 {
			failed++
			return errors.New("database is locked")
		}
		return idx.recordBatch(ctx, batch)
	}

	for _, rec := range source.records {
		idx.handle(ctx, rec)
	}
	require.Equal(t, 1, failed)
	last, ok, err := idx.LastSequence(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(4), last)

	idx.catchUp(ctx)
	rows, err := idx.Records(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, rows, 5)
	for i, row := range rows {
		require.Equal(t, uint64(i), row.Sequence)
	}
	require.Equal(t, uint64(noGap), idx.gap.Load())
}

func TestFailedBackfillKeepsGapForRetry(t *testing.T) {
	source := &sliceSource{}
	for i := 0; i < 4; i++ {
		source.records = append(source.records, committed(uint64(i), "escrow.deposited", nil))
	}
	idx, err := New(setupTestDB(t), source, nil)
	require.NoError(t, err)
	ctx := context.Background()

	fail := true
	idx.write = func(ctx context.Context, batch []events.Committed) error {
		if fail && batch[0].Sequence == 2 {
			return errors.New("connection reset")
		}
		return idx.recordBatch(ctx, batch)
	}

	_, err = idx.Backfill(ctx, 2)
	require.Error(t, err)
	require.Equal(t, uint64(2), idx.gap.Load())

	fail = false
	read, err := idx.Backfill(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, 2, read)
	rows, err := idx.Records(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, rows, 4)
}

// gatedSource hides the log until open is closed.
type gatedSource struct {
	open  chan struct{}
	inner *sliceSource
}

func (g *gatedSource) LogRange(ctx context.Context, from uint64, limit int) ([]events.Committed, error) {
	select {
	case <-g.open:
		return g.inner.LogRange(ctx, from, limit)
	default:
		return nil, nil
	}
}

func TestRunRecoversFromFailedRecord(t *testing.T) {
	inner := &sliceSource{}
	for i := 0; i < 4; i++ {
		inner.records = append(inner.records, committed(uint64(i), "escrow.deposited", nil))
	}
	source := &gatedSource{open: make(chan struct{}), inner: inner}
	idx, err := New(setupTestDB(t), source, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	idx.write = func(ctx context.Context, batch []events.Committed) error {
		if len(batch) == 1 && batch[0].Sequence == 1 {
			select {
			case <-source.open:
			default:
				close(source.open)
				return errors.New("database is locked")
			}
		}
		return idx.recordBatch(ctx, batch)
	}
	for _, rec := range inner.records {
		idx.Emit(rec)
	}

	done := make(chan error, 1)
	go func() { done <- idx.Run(ctx) }()

	require.Eventually(t, func() bool {
		rows, err := idx.Records(ctx, Query{})
		return err == nil && len(rows) == 4
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestRecordsFilters(t *testing.T) {
	idx, err := New(setupTestDB(t), nil, nil)
	require.NoError(t, err)
	ctx := context.Background()
	for _, rec := range []events.Committed{
		committed(0, "event.created", map[string]string{"eventId": "0", "creator": "aa"}),
		committed(1, "ticket.minted", map[string]string{"eventId": "0", "ticketId": "0", "owner": "bb"}),
		committed(2, "ticket.minted", map[string]string{"eventId": "1", "ticketId": "1", "owner": "bb"}),
		committed(3, "escrow.deposited", map[string]string{"account": "BB", "amount": "5"}),
	} {
		require.NoError(t, idx.Record(ctx, rec))
	}

	eventID := uint64(0)
	rows, err := idx.Records(ctx, Query{EventID: &eventID})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	rows, err = idx.Records(ctx, Query{Type: "ticket.minted", Account: "0xBB"})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	rows, err = idx.Records(ctx, Query{From: 2, Limit: 1})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, uint64(2), rows[0].Sequence)
}

func TestIndexerMirrorsNodeLog(t *testing.T) {
	node := core.NewNode(state.NewManager(storage.NewMemDB()), lifecycle.DefaultConfig())
	idx, err := New(setupTestDB(t), node, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	creator := [20]byte{0x01}
	holder := [20]byte{0x02}
	_, err = node.Deposit(ctx, holder, big.NewInt(9))
	require.NoError(t, err)

	node.AddSubscriber(idx)
	done := make(chan error, 1)
	go func() { done <- idx.Run(ctx) }()

	_, err = node.CreateEvent(ctx, creator, lifecycle.EventParams{
		Name:             "Dockside",
		Date:             time.Now().Add(time.Hour).Unix(),
		TicketsAvailable: 5,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		last, ok, err := idx.LastSequence(ctx)
		return err == nil && ok && last == 1
	}, 5*time.Second, 10*time.Millisecond)

	rows, err := idx.Records(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "escrow.deposited", rows[0].Type)
	require.Equal(t, "event.created", rows[1].Type)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}
