package models

import "github.com/google/uuid"

func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}

// All returns every workflow model in dependency order, for AutoMigrate in dev and tests.
func All() []any {
	return []any{
		&Warehouse{},
		&TypeComponent{},
		&StockRow{},
		&Component{},
		&GuaranteeCase{},
		&CaseLine{},
		&ComponentReservation{},
		&TransferRequest{},
		&TransferRequestItem{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}
