package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// ErrorDump flattens an error chain for structured logs.
type ErrorDump struct {
	TopMessage string `json:"top_message"`
	Code       Code   `json:"code,omitempty"`
	Retryable  bool   `json:"retryable,omitempty"`
	Details    any    `json:"details,omitempty"`

	Chain []string `json:"chain,omitempty"`

	PGCode       string `json:"pg_code,omitempty"`
	PGConstraint string `json:"pg_constraint,omitempty"`
	PGTable      string `json:"pg_table,omitempty"`
	PGDetail     string `json:"pg_detail,omitempty"`
	PGMessage    string `json:"pg_message,omitempty"`

	// Invariant names the workflow rule a schema constraint enforces, when
	// the failure came from one of them.
	Invariant string `json:"invariant,omitempty"`
}

// constraintInvariants maps schema constraints to the rule they back. A hit
// on any of these means application checks let a bad write through.
var constraintInvariants = map[string]string{
	"chk_stock_rows_in_stock":                     "stock: quantity_in_stock >= 0",
	"chk_stock_rows_reserved":                     "stock: 0 <= quantity_reserved <= quantity_in_stock",
	"chk_stock_rows_in_transit":                   "stock: quantity_in_transit >= 0",
	"chk_components_location":                     "component: exactly one of warehouse or vehicle",
	"idx_components_serial_number":                "component: serial numbers are unique",
	"chk_case_lines_reserved":                     "case line: quantity_reserved <= quantity",
	"idx_component_reservations_active_component": "reservation: a unit is held by one active reservation",
	"chk_transfer_requests_distinct_warehouses":   "transfer: source differs from requester",
	"chk_transfer_request_items_approved":         "transfer: approved quantity within requested",
}

func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}

	d := ErrorDump{TopMessage: err.Error()}
	if te := As(err); te != nil {
		d.Code = te.Code()
		d.Retryable = MetadataFor(te.Code()).Retryable
		d.Details = te.Details()
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}

	var pgxErr *pgconn.PgError
	var pqErr *pq.Error
	switch {
	case errors.As(err, &pgxErr):
		d.PGCode = pgxErr.Code
		d.PGConstraint = pgxErr.ConstraintName
		d.PGTable = pgxErr.TableName
		d.PGDetail = pgxErr.Detail
		d.PGMessage = pgxErr.Message
	case errors.As(err, &pqErr):
		d.PGCode = string(pqErr.Code)
		d.PGConstraint = pqErr.Constraint
		d.PGTable = pqErr.Table
		d.PGDetail = pqErr.Detail
		d.PGMessage = pqErr.Message
	}
	d.Invariant = constraintInvariants[d.PGConstraint]
	return d
}
