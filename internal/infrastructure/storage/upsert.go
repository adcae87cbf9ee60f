package storage

import (
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ConflictPolicy decides what happens when a row's key already exists.
type ConflictPolicy int

const (
	// SkipExisting leaves the stored row untouched.
	SkipExisting ConflictPolicy = iota
	// ReplaceExisting overwrites the non-key columns listed in Conflict.Replace.
	ReplaceExisting
)

// Conflict names the unique key and the resolution policy of an upsert.
type Conflict struct {
	Keys    []string
	Policy  ConflictPolicy
	Replace []string
}

func (c Conflict) clause() clause.OnConflict {
	columns := make([]clause.Column, 0, len(c.Keys))
	for _, key := range c.Keys {
		columns = append(columns, clause.Column{Name: key})
	}

	onConflict := clause.OnConflict{Columns: columns}
	switch c.Policy {
	case ReplaceExisting:
		if len(c.Replace) == 0 {
			onConflict.UpdateAll = true
		} else {
			onConflict.DoUpdates = clause.AssignmentColumns(c.Replace)
		}
	default:
		onConflict.DoNothing = true
	}
	return onConflict
}

// Upsert writes rows one statement at a time so the affected-row count of
// each statement tells inserts apart from skipped conflicts. The returned
// count is the number of rows written. Callers wanting all-or-nothing
// semantics pass a transaction.
func Upsert[T any](tx *gorm.DB, rows []T, conflict Conflict) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	onConflict := conflict.clause()
	written := 0
	for i := range rows {
		res := tx.Clauses(onConflict).Create(&rows[i])
		if res.Error != nil {
			return written, fmt.Errorf("upsert row %d: %w", i, res.Error)
		}
		written += int(res.RowsAffected)
	}
	return written, nil
}
