package state

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"tickechain/core/events"
	"tickechain/core/types"
	"tickechain/storage"
)

type pendingWrite struct {
	value   []byte
	deleted bool
}

// Tx buffers the writes and log records of one state transaction. Reads see
// the transaction's own writes first and fall through to the database.
type Tx struct {
	db       storage.Database
	writes   map[string]pendingWrite
	logs     []*types.Event
	readOnly bool
}

func newTx(db storage.Database, readOnly bool) *Tx {
	return &Tx{db: db, writes: make(map[string]pendingWrite), readOnly: readOnly}
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func (tx *Tx) get(key []byte) ([]byte, bool, error) {
	if w, ok := tx.writes[string(key)]; ok {
		if w.deleted {
			return nil, false, nil
		}
		return w.value, true, nil
	}
	raw, err := tx.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

func (tx *Tx) put(key, value []byte) error {
	if tx.readOnly {
		return ErrReadOnly
	}
	tx.writes[string(key)] = pendingWrite{value: append([]byte(nil), value...)}
	return nil
}

// flush copies the overlay into batch in key order so commits are
// deterministic.
func (tx *Tx) flush(batch *storage.Batch) {
	keys := make([]string, 0, len(tx.writes))
	for k := range tx.writes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		w := tx.writes[k]
		if w.deleted {
			batch.Delete([]byte(k))
			continue
		}
		batch.Put([]byte(k), w.value)
	}
}

// KVPut stores the provided value under the supplied key using RLP encoding.
// The key is hashed with keccak256 before it reaches the database.
func (tx *Tx) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return tx.put(kvKey(key), encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (tx *Tx) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, ok, err := tx.get(kvKey(key))
	if err != nil || !ok {
		return false, err
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes the value stored under key.
func (tx *Tx) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	if tx.readOnly {
		return ErrReadOnly
	}
	tx.writes[string(kvKey(key))] = pendingWrite{deleted: true}
	return nil
}

// kvGetIDs loads an id list, returning an empty slice when absent.
func (tx *Tx) kvGetIDs(key []byte) ([]uint64, error) {
	var ids []uint64
	if _, err := tx.KVGet(key, &ids); err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []uint64{}
	}
	return ids, nil
}

// kvAddID appends id to the list under key. Duplicates are ignored to keep the
// index deterministic.
func (tx *Tx) kvAddID(key []byte, id uint64) error {
	ids, err := tx.kvGetIDs(key)
	if err != nil {
		return err
	}
	for _, existing := range ids {
		if existing == id {
			return nil
		}
	}
	return tx.KVPut(key, append(ids, id))
}

func (tx *Tx) kvRemoveID(key []byte, id uint64) error {
	ids, err := tx.kvGetIDs(key)
	if err != nil {
		return err
	}
	filtered := ids[:0]
	for _, existing := range ids {
		if existing != id {
			filtered = append(filtered, existing)
		}
	}
	if len(filtered) == 0 {
		return tx.KVDelete(key)
	}
	return tx.KVPut(key, filtered)
}

func (tx *Tx) kvGetUint64(key []byte) (uint64, error) {
	var v uint64
	if _, err := tx.KVGet(key, &v); err != nil {
		return 0, err
	}
	return v, nil
}

// Emit buffers log records produced by engines bound to this transaction.
// They are written to the append-only log only when the transaction commits.
func (tx *Tx) Emit(evt events.Event) {
	record, ok := evt.(events.Record)
	if !ok || record.Event() == nil {
		return
	}
	if tx.readOnly {
		return
	}
	tx.logs = append(tx.logs, record.Event())
}

// Logs returns the records buffered so far.
func (tx *Tx) Logs() []*types.Event {
	return append([]*types.Event(nil), tx.logs...)
}

type storedAttribute struct {
	Key   string
	Value string
}

type storedLog struct {
	Type       string
	Attributes []storedAttribute
}

func encodeLog(evt *types.Event) ([]byte, error) {
	stored := storedLog{Type: evt.Type, Attributes: make([]storedAttribute, 0, len(evt.Attributes))}
	for k, v := range evt.Attributes {
		stored.Attributes = append(stored.Attributes, storedAttribute{Key: k, Value: v})
	}
	sort.Slice(stored.Attributes, func(i, j int) bool {
		return stored.Attributes[i].Key < stored.Attributes[j].Key
	})
	return rlp.EncodeToBytes(&stored)
}

func decodeLog(raw []byte) (*types.Event, error) {
	var stored storedLog
	if err := rlp.Decode(bytes.NewReader(raw), &stored); err != nil {
		return nil, fmt.Errorf("state: decode log: %w", err)
	}
	attrs := make(map[string]string, len(stored.Attributes))
	for _, a := range stored.Attributes {
		attrs[a.Key] = a.Value
	}
	return &types.Event{Type: stored.Type, Attributes: attrs}, nil
}
