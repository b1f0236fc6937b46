package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/evwarranty/warranty-backend/api/responses"
	"github.com/evwarranty/warranty-backend/api/validators"
	"github.com/evwarranty/warranty-backend/pkg/auth"
	"github.com/evwarranty/warranty-backend/pkg/db/models"
	"github.com/evwarranty/warranty-backend/pkg/logger"
)

// ReservationService is the slice of the reservation manager the API exposes.
type ReservationService interface {
	Pickup(ctx context.Context, reservationIDs []uuid.UUID, actor auth.Actor) ([]models.ComponentReservation, error)
	Install(ctx context.Context, reservationID uuid.UUID, vin string, actor auth.Actor) (*models.ComponentReservation, error)
	ReturnOld(ctx context.Context, reservationID uuid.UUID, oldSerial string, actor auth.Actor) (*models.ComponentReservation, error)
	Get(ctx context.Context, reservationID uuid.UUID) (*models.ComponentReservation, error)
	ListByCaseLine(ctx context.Context, caseLineID uuid.UUID) ([]models.ComponentReservation, error)
	ListStale(ctx context.Context, age time.Duration, limit int) ([]models.ComponentReservation, error)
}

type pickupRequest struct {
	ReservationIDs []string `json:"reservation_ids" validate:"required,min=1,max=50,dive,uuid"`
}

// ReservationsPickup hands reserved units to a technician. Repeating the call
// for units already picked up succeeds without touching stock again.
func ReservationsPickup(svc ReservationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req pickupRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ids := make([]uuid.UUID, 0, len(req.ReservationIDs))
		for _, raw := range req.ReservationIDs {
			ids = append(ids, uuid.MustParse(raw))
		}

		rows, err := svc.Pickup(r.Context(), ids, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toReservationDTOs(rows))
	}
}

type installRequest struct {
	VehicleVIN string `json:"vehicle_vin" validate:"required,vin"`
}

func ReservationInstall(svc ReservationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req installRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		reservationAction(w, r, logg, func(ctx context.Context, id uuid.UUID, actor auth.Actor) (*models.ComponentReservation, error) {
			return svc.Install(ctx, id, validators.NormalizeVIN(req.VehicleVIN), actor)
		})
	}
}

type returnOldRequest struct {
	OldSerialNumber string `json:"old_serial_number" validate:"required,max=128"`
}

// ReservationReturnOld records the defective unit taken off the vehicle.
func ReservationReturnOld(svc ReservationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req returnOldRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		reservationAction(w, r, logg, func(ctx context.Context, id uuid.UUID, actor auth.Actor) (*models.ComponentReservation, error) {
			return svc.ReturnOld(ctx, id, validators.SanitizeString(req.OldSerialNumber, 128), actor)
		})
	}
}

func ReservationGet(svc ReservationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reservationAction(w, r, logg, func(ctx context.Context, id uuid.UUID, _ auth.Actor) (*models.ComponentReservation, error) {
			return svc.Get(ctx, id)
		})
	}
}

func CaseLineReservations(svc ReservationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lineID, err := validators.ParseUUIDParam(r, "lineId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := svc.ListByCaseLine(r.Context(), lineID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toReservationDTOs(rows))
	}
}

// ReservationsStale lists units reserved for longer than age and still waiting
// for pickup.
func ReservationsStale(svc ReservationService, age time.Duration, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 500)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := svc.ListStale(r.Context(), age, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toReservationDTOs(rows))
	}
}

func reservationAction(w http.ResponseWriter, r *http.Request, logg *logger.Logger, fn func(ctx context.Context, id uuid.UUID, actor auth.Actor) (*models.ComponentReservation, error)) {
	actor, err := actorFrom(r)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return
	}
	id, err := validators.ParseUUIDParam(r, "reservationId")
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return
	}
	row, err := fn(r.Context(), id, actor)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return
	}
	responses.WriteSuccess(w, toReservationDTO(row))
}
