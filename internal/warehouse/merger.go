package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/meridian/chat-insights/internal/pkg/logger"
	"github.com/meridian/chat-insights/internal/upsert"
)

// Merger applies an upsert plan to its target table. All rows of a plan
// run inside one transaction: either the whole batch lands or none of it.
type Merger struct{ db *sql.DB }

// NewMerger creates a merger on an open Snowflake pool.
func NewMerger(db *sql.DB) *Merger { return &Merger{db: db} }

// ExecutePlan merges every planned row and returns how many were written.
// A conflict reported by the store aborts the transaction and surfaces as
// upsert.ErrConflict.
func (m *Merger) ExecutePlan(ctx context.Context, plan upsert.Plan) (int, error) {
	if plan.Empty() {
		return 0, nil
	}

	stmt := buildMergeSQL(plan)

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin merge tx: %w", err)
	}

	for _, row := range plan.Rows {
		args := make([]interface{}, 0, len(row.Keys)+len(row.Values)+2)
		args = append(args, row.Keys...)
		args = append(args, row.Values...)
		args = append(args, row.CreatedAt, row.UpdatedAt)

		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logger.Error("rollback after merge failure", "table", plan.Table, "error", rbErr.Error())
			}
			if isConflict(err) {
				return 0, fmt.Errorf("merge into %s: %v: %w", plan.Table, err, upsert.ErrConflict)
			}
			return 0, fmt.Errorf("merge into %s: %w", plan.Table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit merge tx: %w", err)
	}
	return len(plan.Rows), nil
}

// buildMergeSQL renders the MERGE statement for one plan. Placeholder
// order is keys, values, created_at, updated_at, matching ExecutePlan.
func buildMergeSQL(plan upsert.Plan) string {
	srcCols := make([]string, 0, len(plan.KeyColumns)+len(plan.ValueColumns)+2)
	for _, col := range plan.KeyColumns {
		srcCols = append(srcCols, "? AS "+col)
	}
	for _, col := range plan.ValueColumns {
		srcCols = append(srcCols, "? AS "+col)
	}
	srcCols = append(srcCols, "? AS created_at", "? AS updated_at")

	on := make([]string, 0, len(plan.KeyColumns))
	for _, col := range plan.KeyColumns {
		on = append(on, fmt.Sprintf("tgt.%s = src.%s", col, col))
	}

	sets := make([]string, 0, len(plan.ValueColumns)+1)
	for _, col := range plan.ValueColumns {
		sets = append(sets, fmt.Sprintf("tgt.%s = src.%s", col, col))
	}
	sets = append(sets, "tgt.updated_at = src.updated_at")

	insertCols := make([]string, 0, len(srcCols))
	insertVals := make([]string, 0, len(srcCols))
	for _, col := range plan.KeyColumns {
		insertCols = append(insertCols, col)
		insertVals = append(insertVals, "src."+col)
	}
	for _, col := range plan.ValueColumns {
		insertCols = append(insertCols, col)
		insertVals = append(insertVals, "src."+col)
	}
	insertCols = append(insertCols, "created_at", "updated_at")
	insertVals = append(insertVals, "src.created_at", "src.updated_at")

	return fmt.Sprintf(`MERGE INTO %s AS tgt
USING (SELECT %s) AS src
ON %s
WHEN MATCHED THEN UPDATE SET %s
WHEN NOT MATCHED THEN INSERT (%s) VALUES (%s)`,
		plan.Table,
		strings.Join(srcCols, ", "),
		strings.Join(on, " AND "),
		strings.Join(sets, ", "),
		strings.Join(insertCols, ", "),
		strings.Join(insertVals, ", "),
	)
}

// isConflict recognizes Snowflake's nondeterministic-merge rejection,
// raised when two source rows hit the same target row in one statement.
func isConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Duplicate row detected during DML") ||
		strings.Contains(msg, "100090")
}
