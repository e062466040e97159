package option

import (
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QueryOption mutates a gorm query before execution.
type QueryOption func(tx *gorm.DB) *gorm.DB

type QuerySortBy struct {
	SortBy  string
	OrderBy string
	Allow   map[string]bool
}

// WithSortBy orders the query by an allow-listed column. Unknown columns are
// ignored rather than interpolated into the statement.
func WithSortBy(s QuerySortBy) QueryOption {
	return func(tx *gorm.DB) *gorm.DB {
		column := s.SortBy
		if column == "" {
			column = "created_at"
		}
		if s.Allow != nil && !s.Allow[column] {
			return tx
		}

		order := "ASC"
		if s.OrderBy == "desc" || s.OrderBy == "DESC" {
			order = "DESC"
		}

		return tx.Order(fmt.Sprintf("%s %s", column, order))
	}
}

// WithLockingUpdate adds FOR UPDATE row locking to the query. sqlite has no
// row locks (single writer), so the clause is skipped there.
func WithLockingUpdate() QueryOption {
	return LockingUpdate
}

// LockingUpdate is the scope form of WithLockingUpdate, for tx.Scopes(...).
func LockingUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector != nil && tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

type Operator string

const (
	GT  Operator = ">"
	GTE Operator = ">="
	LT  Operator = "<"
	LTE Operator = "<="
	NEQ Operator = "<>"
	IN  Operator = "IN"
)

type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

// ApplyOperator adds a comparison condition beyond what struct equality
// queries can express.
func ApplyOperator(c Condition) QueryOption {
	return func(tx *gorm.DB) *gorm.DB {
		return tx.Where(fmt.Sprintf("%s %s ?", c.Field, c.Operator), c.Value)
	}
}

// AfterKeyset keeps rows strictly after the (ts, id) position, with the id
// breaking timestamp ties. Field names come from the caller, never from
// user input.
func AfterKeyset(timeField, idField string, ts, id any) QueryOption {
	return func(tx *gorm.DB) *gorm.DB {
		return tx.Where(
			fmt.Sprintf("%s > ? OR (%s = ? AND %s > ?)", timeField, timeField, idField),
			ts, ts, id,
		)
	}
}

// WithLimit caps the number of rows returned.
func WithLimit(n int) QueryOption {
	return func(tx *gorm.DB) *gorm.DB {
		return tx.Limit(n)
	}
}
