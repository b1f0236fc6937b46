package errors

import (
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestDumpNamesStockInvariantFromPgx(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23514", ConstraintName: "chk_stock_rows_reserved", TableName: "stock_rows"}
	err := Wrap(CodeInternal, fmt.Errorf("reserve: %w", pgErr), "reserve failed")

	d := Dump(err)
	assert.Equal(t, CodeInternal, d.Code)
	assert.Equal(t, "23514", d.PGCode)
	assert.Equal(t, "stock_rows", d.PGTable)
	assert.Contains(t, d.Invariant, "quantity_reserved")
	assert.GreaterOrEqual(t, len(d.Chain), 3)
}

func TestDumpReadsLibPQErrors(t *testing.T) {
	d := Dump(&pq.Error{Code: "23505", Constraint: "idx_component_reservations_active_component"})
	assert.Equal(t, "23505", d.PGCode)
	assert.Equal(t, "reservation: a unit is held by one active reservation", d.Invariant)
}

func TestDumpWithoutDatabaseError(t *testing.T) {
	d := Dump(New(CodeBusy, "row locked"))
	assert.True(t, d.Retryable)
	assert.Empty(t, d.PGCode)
	assert.Empty(t, d.Invariant)
	assert.Equal(t, ErrorDump{}, Dump(nil))
}
