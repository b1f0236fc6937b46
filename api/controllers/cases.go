package controllers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/evwarranty/warranty-backend/api/responses"
	"github.com/evwarranty/warranty-backend/api/validators"
	"github.com/evwarranty/warranty-backend/internal/caselines"
	"github.com/evwarranty/warranty-backend/pkg/enums"
	pkgerrors "github.com/evwarranty/warranty-backend/pkg/errors"
	"github.com/evwarranty/warranty-backend/pkg/logger"
)

const maxTextLen = 4000

type caseCreateRequest struct {
	VehicleVIN      string `json:"vehicle_vin" validate:"required,vin"`
	ServiceCenterID string `json:"service_center_id" validate:"required,uuid"`
	WarehouseID     string `json:"warehouse_id" validate:"required,uuid"`
}

// CaseCreate opens a guarantee case for a vehicle visit.
func CaseCreate(svc caselines.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req caseCreateRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		gc, err := svc.CreateCase(r.Context(), caselines.CreateCaseInput{
			VehicleVIN:      validators.NormalizeVIN(req.VehicleVIN),
			ServiceCenterID: uuid.MustParse(req.ServiceCenterID),
			WarehouseID:     uuid.MustParse(req.WarehouseID),
			Actor:           actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, toCaseDTO(gc))
	}
}

func CaseGet(svc caselines.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caseID, err := validators.ParseUUIDParam(r, "caseId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		gc, err := svc.GetCase(r.Context(), caseID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toCaseDTO(gc))
	}
}

func CaseLinesList(svc caselines.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caseID, err := validators.ParseUUIDParam(r, "caseId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		lines, err := svc.ListByCase(r.Context(), caseID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toCaseLineDTOs(lines))
	}
}

type lineCreateRequest struct {
	DiagnosisText   string  `json:"diagnosis_text" validate:"required"`
	CorrectionText  string  `json:"correction_text"`
	TypeComponentID *string `json:"type_component_id" validate:"omitempty,uuid"`
	Quantity        int     `json:"quantity" validate:"min=0"`
	WarrantyStatus  *string `json:"warranty_status" validate:"omitempty,oneof=ELIGIBLE INELIGIBLE"`
}

func (req lineCreateRequest) toInput(caseID uuid.UUID) (caselines.CreateLineInput, error) {
	input := caselines.CreateLineInput{
		CaseID:         caseID,
		DiagnosisText:  validators.SanitizeString(req.DiagnosisText, maxTextLen),
		CorrectionText: validators.SanitizeString(req.CorrectionText, maxTextLen),
		Quantity:       req.Quantity,
	}
	if req.TypeComponentID != nil {
		id := uuid.MustParse(strings.TrimSpace(*req.TypeComponentID))
		input.TypeComponentID = &id
	}
	if req.WarrantyStatus != nil {
		status, err := enums.ParseWarrantyStatus(*req.WarrantyStatus)
		if err != nil {
			return caselines.CreateLineInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid warranty_status")
		}
		input.WarrantyStatus = &status
	}
	return input, nil
}

// CaseLineCreate adds a DRAFT line to a case.
func CaseLineCreate(svc caselines.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		caseID, err := validators.ParseUUIDParam(r, "caseId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req lineCreateRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input, err := req.toInput(caseID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input.Actor = actor

		line, err := svc.CreateLine(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, toCaseLineDTO(line))
	}
}
