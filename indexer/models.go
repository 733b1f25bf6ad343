package indexer

import (
	"encoding/json"
	"strconv"
	"time"

	"gorm.io/gorm"

	"tickechain/core/events"
)

// LogRecord mirrors one committed log record. Frequently filtered attributes
// are lifted into their own indexed columns.
type LogRecord struct {
	Sequence   uint64  `gorm:"primaryKey;autoIncrement:false"`
	Type       string  `gorm:"index;not null"`
	EventID    *uint64 `gorm:"index"`
	TicketID   *uint64 `gorm:"index"`
	Account    string  `gorm:"index"`
	Attributes string  `gorm:"type:text;not null"`
	IndexedAt  time.Time
}

// AutoMigrate performs all schema migrations for the indexer.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&LogRecord{})
}

// accountKeys lists the attributes naming the account a record concerns, in
// order of preference.
var accountKeys = []string{"account", "owner", "holder", "creator"}

func newLogRecord(committed events.Committed, now time.Time) (*LogRecord, error) {
	attrs := map[string]string{}
	recordType := ""
	if committed.Record != nil {
		recordType = committed.Record.Type
		for k, v := range committed.Record.Attributes {
			attrs[k] = v
		}
	}
	encoded, err := json.Marshal(attrs)
	if err != nil {
		return nil, err
	}
	row := &LogRecord{
		Sequence:   committed.Sequence,
		Type:       recordType,
		EventID:    parseOptionalUint(attrs["eventId"]),
		TicketID:   parseOptionalUint(attrs["ticketId"]),
		Attributes: string(encoded),
		IndexedAt:  now.UTC(),
	}
	for _, key := range accountKeys {
		if v := attrs[key]; v != "" {
			row.Account = v
			break
		}
	}
	return row, nil
}

// Decoded returns the stored attributes.
func (r *LogRecord) Decoded() (map[string]string, error) {
	attrs := map[string]string{}
	if r.Attributes == "" {
		return attrs, nil
	}
	if err := json.Unmarshal([]byte(r.Attributes), &attrs); err != nil {
		return nil, err
	}
	return attrs, nil
}

func parseOptionalUint(value string) *uint64 {
	if value == "" {
		return nil
	}
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return nil
	}
	return &parsed
}
