package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"tickechain/core/events"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	defaultBatchSize = 256
	queueSize        = 1024
	defaultPageSize  = 100
	maxPageSize      = 1000

	noGap = math.MaxUint64
)

// LogSource pages through the node's committed log.
type LogSource interface {
	LogRange(ctx context.Context, from uint64, limit int) ([]events.Committed, error)
}

// Open connects to the configured database driver.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("indexer: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("indexer: open %s: %w", driver, err)
	}
	return db, nil
}

// Indexer mirrors committed log records into a relational store for UI and
// analytics queries. Records are queued by Emit and written by Run. A record
// that is dropped on overflow or fails to write leaves a gap, and the worker
// backfills from the lowest missing sequence once the queue drains.
type Indexer struct {
	db     *gorm.DB
	source LogSource
	logger *slog.Logger
	queue  chan events.Committed
	gap    atomic.Uint64 // lowest sequence missing from the mirror, noGap when none
	nowFn  func() time.Time
	write  func(ctx context.Context, batch []events.Committed) error
}

// New migrates the schema and returns an indexer. source may be nil when
// records are only fed through Record.
func New(db *gorm.DB, source LogSource, logger *slog.Logger) (*Indexer, error) {
	if db == nil {
		return nil, errors.New("indexer: database required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("indexer: migrate: %w", err)
	}
	idx := &Indexer{
		db:     db,
		source: source,
		logger: logger.With("component", "indexer"),
		queue:  make(chan events.Committed, queueSize),
		nowFn:  time.Now,
	}
	idx.gap.Store(noGap)
	idx.write = idx.recordBatch
	return idx, nil
}

// Emit implements events.Emitter. It never blocks the commit path.
func (i *Indexer) Emit(evt events.Event) {
	committed, ok := evt.(events.Committed)
	if !ok {
		return
	}
	select {
	case i.queue <- committed:
	default:
		if i.markGap(committed.Sequence) {
			i.logger.Warn("indexer queue full, falling back to backfill", "sequence", committed.Sequence)
		}
	}
}

// markGap records seq as missing from the mirror. It reports whether the
// mirror had no known gap before.
func (i *Indexer) markGap(seq uint64) bool {
	for {
		cur := i.gap.Load()
		if seq >= cur {
			return false
		}
		if i.gap.CompareAndSwap(cur, seq) {
			return cur == noGap
		}
	}
}

// Run writes queued records until ctx is cancelled. It backfills from the
// source first so records committed before start are mirrored too.
func (i *Indexer) Run(ctx context.Context) error {
	if i.source != nil {
		i.catchUp(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case committed := <-i.queue:
			i.handle(ctx, committed)
			if len(i.queue) == 0 && i.gap.Load() != noGap && i.source != nil {
				i.catchUp(ctx)
			}
		}
	}
}

func (i *Indexer) handle(ctx context.Context, committed events.Committed) {
	if err := i.Record(ctx, committed); err != nil {
		i.logger.Error("index record failed", "sequence", committed.Sequence, "error", err)
		i.markGap(committed.Sequence)
	}
}

func (i *Indexer) catchUp(ctx context.Context) {
	if _, err := i.Backfill(ctx, defaultBatchSize); err != nil && ctx.Err() == nil {
		i.logger.Error("backfill failed", "error", err)
	}
}

// Record stores one committed record. Re-recording a sequence is a no-op.
func (i *Indexer) Record(ctx context.Context, committed events.Committed) error {
	return i.write(ctx, []events.Committed{committed})
}

func (i *Indexer) recordBatch(ctx context.Context, batch []events.Committed) error {
	if len(batch) == 0 {
		return nil
	}
	now := i.nowFn()
	rows := make([]*LogRecord, 0, len(batch))
	for _, committed := range batch {
		row, err := newLogRecord(committed, now)
		if err != nil {
			return fmt.Errorf("indexer: encode record %d: %w", committed.Sequence, err)
		}
		rows = append(rows, row)
	}
	return i.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "sequence"}}, DoNothing: true}).
		Create(&rows).Error
}

// Backfill copies records from the source starting at the lowest known gap,
// or after the highest indexed sequence when the mirror has none, and returns
// how many records were read. On failure the first unwritten sequence is kept
// as the gap for the next attempt.
func (i *Indexer) Backfill(ctx context.Context, batchSize int) (int, error) {
	if i.source == nil {
		return 0, errors.New("indexer: no log source configured")
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	from := i.gap.Swap(noGap)
	total, next, err := i.backfill(ctx, from, batchSize)
	if err != nil {
		i.markGap(next)
	}
	return total, err
}

func (i *Indexer) backfill(ctx context.Context, from uint64, batchSize int) (int, uint64, error) {
	next := uint64(0)
	last, ok, err := i.LastSequence(ctx)
	if err != nil {
		if from == noGap {
			from = 0
		}
		return 0, from, err
	}
	if ok {
		next = last + 1
	}
	if from < next {
		next = from
	}
	total := 0
	for {
		batch, err := i.source.LogRange(ctx, next, batchSize)
		if err != nil {
			return total, next, fmt.Errorf("indexer: read log from %d: %w", next, err)
		}
		if len(batch) == 0 {
			return total, next, nil
		}
		if err := i.write(ctx, batch); err != nil {
			return total, next, err
		}
		total += len(batch)
		next = batch[len(batch)-1].Sequence + 1
		if len(batch) < batchSize {
			return total, next, nil
		}
	}
}

// LastSequence returns the highest indexed sequence, if any.
func (i *Indexer) LastSequence(ctx context.Context) (uint64, bool, error) {
	var row LogRecord
	err := i.db.WithContext(ctx).Order("sequence desc").Limit(1).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return row.Sequence, true, nil
}

// Query filters indexed records. Zero fields do not filter.
type Query struct {
	Type     string
	EventID  *uint64
	TicketID *uint64
	Account  string
	From     uint64
	Limit    int
}

// Records returns the indexed records matching q in sequence order.
func (i *Indexer) Records(ctx context.Context, q Query) ([]LogRecord, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	tx := i.db.WithContext(ctx).Where("sequence >= ?", q.From)
	if q.Type != "" {
		tx = tx.Where("type = ?", q.Type)
	}
	if q.EventID != nil {
		tx = tx.Where("event_id = ?", *q.EventID)
	}
	if q.TicketID != nil {
		tx = tx.Where("ticket_id = ?", *q.TicketID)
	}
	if q.Account != "" {
		tx = tx.Where("account = ?", strings.TrimPrefix(strings.ToLower(strings.TrimSpace(q.Account)), "0x"))
	}
	var rows []LogRecord
	if err := tx.Order("sequence asc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
