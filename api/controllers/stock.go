package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/evwarranty/warranty-backend/api/responses"
	"github.com/evwarranty/warranty-backend/api/validators"
	"github.com/evwarranty/warranty-backend/internal/stock"
	"github.com/evwarranty/warranty-backend/pkg/logger"
)

func WarehouseStock(svc stock.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		warehouseID, err := validators.ParseUUIDParam(r, "warehouseId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := svc.ListByWarehouse(r.Context(), warehouseID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]stockRowDTO, 0, len(rows))
		for i := range rows {
			out = append(out, toStockRowDTO(&rows[i]))
		}
		responses.WriteSuccess(w, out)
	}
}

type stockReceiptRequest struct {
	TypeComponentID string `json:"type_component_id" validate:"required,uuid"`
	Quantity        int    `json:"quantity" validate:"required,gt=0"`
}

// StockReceive books a goods receipt that did not arrive through a transfer.
func StockReceive(svc stock.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := actorFrom(r); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		warehouseID, err := validators.ParseUUIDParam(r, "warehouseId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req stockReceiptRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		key := stock.Key{WarehouseID: warehouseID, TypeComponentID: uuid.MustParse(req.TypeComponentID)}
		row, err := svc.Receive(r.Context(), key, req.Quantity)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, toStockRowDTO(row))
	}
}
