package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/evwarranty/warranty-backend/api/responses"
	"github.com/evwarranty/warranty-backend/api/validators"
	"github.com/evwarranty/warranty-backend/internal/components"
	"github.com/evwarranty/warranty-backend/pkg/enums"
	"github.com/evwarranty/warranty-backend/pkg/logger"
)

type componentRegisterRequest struct {
	SerialNumber    string  `json:"serial_number" validate:"required,max=128"`
	TypeComponentID string  `json:"type_component_id" validate:"required,uuid"`
	WarehouseID     *string `json:"warehouse_id" validate:"required_without=VehicleVIN,excluded_with=VehicleVIN,omitempty,uuid"`
	VehicleVIN      *string `json:"vehicle_vin" validate:"required_without=WarehouseID,omitempty,vin"`
}

// ComponentRegister records a unit arriving at a warehouse or installed at the factory.
func ComponentRegister(svc components.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := actorFrom(r); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req componentRegisterRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input := components.RegisterInput{
			SerialNumber:    validators.SanitizeString(req.SerialNumber, 128),
			TypeComponentID: uuid.MustParse(req.TypeComponentID),
		}
		if req.WarehouseID != nil {
			id := uuid.MustParse(*req.WarehouseID)
			input.WarehouseID = &id
		}
		if req.VehicleVIN != nil {
			vin := validators.NormalizeVIN(*req.VehicleVIN)
			input.VehicleVIN = &vin
		}

		component, err := svc.Register(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, toComponentDTO(component))
	}
}

func ComponentGet(svc components.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		component, err := svc.GetBySerial(r.Context(), chi.URLParam(r, "serial"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toComponentDTO(component))
	}
}

func ComponentMarkDefective(svc components.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := actorFrom(r); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		component, err := svc.MarkDefective(r.Context(), chi.URLParam(r, "serial"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toComponentDTO(component))
	}
}

func WarehouseComponents(svc components.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		warehouseID, err := validators.ParseUUIDParam(r, "warehouseId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := validators.ParseQueryEnum(r, "status", enums.ParseComponentStatus)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := svc.ListByWarehouse(r.Context(), warehouseID, status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toComponentDTOs(rows))
	}
}

func VehicleComponents(svc components.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := svc.ListInstalledOnVehicle(r.Context(), validators.NormalizeVIN(chi.URLParam(r, "vin")))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toComponentDTOs(rows))
	}
}
