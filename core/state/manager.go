package state

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"tickechain/core/events"
	"tickechain/storage"
)

// ErrReadOnly is returned when a write is attempted inside View.
var ErrReadOnly = errors.New("state: read-only transaction")

var logCountKey = []byte("log/count")

// Manager serialises mutating transactions against the underlying database.
// Every Update runs against a private overlay that is flushed as a single
// storage batch on success and dropped on error, so no caller ever observes a
// partially applied operation.
type Manager struct {
	mu      sync.RWMutex
	db      storage.Database
	emitter events.Emitter
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the subscriber receiving committed log records.
// Passing nil resets the emitter to a no-op implementation.
func (m *Manager) SetEmitter(emitter events.Emitter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if emitter == nil {
		m.emitter = events.NoopEmitter{}
		return
	}
	m.emitter = emitter
}

// Update runs fn inside an exclusive read-write transaction. Writes and log
// records produced by fn become durable together, only when fn returns nil.
func (m *Manager) Update(ctx context.Context, fn func(tx *Tx) error) error {
	if m == nil || m.db == nil {
		return errors.New("state: manager not configured")
	}
	committed, emitter, err := m.apply(ctx, fn)
	if err != nil {
		return err
	}
	for _, evt := range committed {
		emitter.Emit(evt)
	}
	return nil
}

// apply holds the write lock for fn and the commit only. Subscribers are
// notified by the caller after the lock is released.
func (m *Manager) apply(ctx context.Context, fn func(tx *Tx) error) ([]events.Committed, events.Emitter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := newTx(m.db, false)
	if err := fn(tx); err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	committed, err := m.commit(tx)
	if err != nil {
		return nil, nil, err
	}
	return committed, m.emitter, nil
}

// View runs fn against a read-only snapshot of the committed state.
func (m *Manager) View(ctx context.Context, fn func(tx *Tx) error) error {
	if m == nil || m.db == nil {
		return errors.New("state: manager not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(newTx(m.db, true))
}

func (m *Manager) commit(tx *Tx) ([]events.Committed, error) {
	batch := storage.NewBatch()
	var committed []events.Committed
	if len(tx.logs) > 0 {
		next, err := m.logCount()
		if err != nil {
			return nil, err
		}
		committed = make([]events.Committed, 0, len(tx.logs))
		for _, record := range tx.logs {
			encoded, err := encodeLog(record)
			if err != nil {
				return nil, err
			}
			batch.Put(logKey(next), encoded)
			committed = append(committed, events.Committed{Sequence: next, Record: record})
			next++
		}
		batch.Put(logCountKey, encodeUint64(next))
	}
	tx.flush(batch)
	if err := m.db.Write(batch); err != nil {
		return nil, fmt.Errorf("state: commit: %w", err)
	}
	return committed, nil
}

func (m *Manager) logCount() (uint64, error) {
	raw, err := m.db.Get(logCountKey)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return decodeUint64(raw)
}

// LogCount returns the number of records in the append-only log.
func (m *Manager) LogCount() (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.logCount()
}

// LogRange returns up to limit committed records starting at sequence from.
func (m *Manager) LogRange(from uint64, limit int) ([]events.Committed, error) {
	if limit <= 0 {
		return []events.Committed{}, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	total, err := m.logCount()
	if err != nil {
		return nil, err
	}
	out := make([]events.Committed, 0, limit)
	for seq := from; seq < total && len(out) < limit; seq++ {
		raw, err := m.db.Get(logKey(seq))
		if err != nil {
			return nil, fmt.Errorf("state: read log %d: %w", seq, err)
		}
		record, err := decodeLog(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, events.Committed{Sequence: seq, Record: record})
	}
	return out, nil
}

func logKey(seq uint64) []byte {
	key := make([]byte, 4+8)
	copy(key, "log/")
	binary.BigEndian.PutUint64(key[4:], seq)
	return key
}

func encodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

func decodeUint64(raw []byte) (uint64, error) {
	if len(raw) != 8 {
		return 0, fmt.Errorf("state: invalid counter encoding")
	}
	return binary.BigEndian.Uint64(raw), nil
}
