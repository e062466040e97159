package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Entry is one append-only ledger row. Positive amounts are earns, negative
// amounts are spends/forfeitures. Per-user ordering is created_at ascending
// with the snowflake id as tie-break (snowflake ids are time-ordered).
type Entry struct {
	ID             string          `gorm:"column:id;primaryKey"`
	CreatedAt      time.Time       `gorm:"column:created_at;index"`
	UserID         string          `gorm:"column:user_id;index;uniqueIndex:idx_ledger_user_idem"`
	IdempotencyKey string          `gorm:"column:idempotency_key;uniqueIndex:idx_ledger_user_idem"`
	EventType      string          `gorm:"column:event_type"`
	Amount         decimal.Decimal `gorm:"column:amount;type:numeric(20,2)"`
	Breakdown      datatypes.JSON  `gorm:"column:breakdown"`
	TransactionID  string          `gorm:"column:transaction_id"`
	Description    string          `gorm:"column:description"`
	PreviousHash   string          `gorm:"column:previous_hash"`
	Hash           string          `gorm:"column:hash"`
}

func (Entry) TableName() string { return "ledger_entries" }

type EntryParams struct {
	EntryID        string
	UserID         string
	IdempotencyKey string
	EventType      string
	Amount         decimal.Decimal
	Breakdown      datatypes.JSON
	TransactionID  string
	Description    string
	PreviousHash   string
}

func NewEntry(p EntryParams) *Entry {
	return &Entry{
		ID:             p.EntryID,
		UserID:         p.UserID,
		IdempotencyKey: p.IdempotencyKey,
		EventType:      p.EventType,
		Amount:         p.Amount,
		Breakdown:      p.Breakdown,
		TransactionID:  p.TransactionID,
		Description:    p.Description,
		PreviousHash:   p.PreviousHash,
	}
}

func (m *Entry) HashFields() map[string]string {
	return map[string]string{
		"id":              m.ID,
		"user_id":         m.UserID,
		"idempotency_key": m.IdempotencyKey,
		"event_type":      m.EventType,
		"amount":          m.Amount.StringFixed(2),
		"transaction_id":  m.TransactionID,
		"description":     m.Description,
		"created_at":      m.CreatedAt.UTC().Format(time.RFC3339Nano),
		"previous_hash":   m.PreviousHash,
	}
}

func (m *Entry) GenerateHash() string {
	fields := m.HashFields()
	var keys []string
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, fields[k]))
	}

	joined := strings.Join(parts, "|")
	hash := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(hash[:])
}
