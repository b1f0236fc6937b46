package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/evwarranty/warranty-backend/api/responses"
	"github.com/evwarranty/warranty-backend/api/validators"
	"github.com/evwarranty/warranty-backend/internal/caselines"
	"github.com/evwarranty/warranty-backend/internal/workflow"
	"github.com/evwarranty/warranty-backend/pkg/auth"
	"github.com/evwarranty/warranty-backend/pkg/db/models"
	"github.com/evwarranty/warranty-backend/pkg/enums"
	pkgerrors "github.com/evwarranty/warranty-backend/pkg/errors"
	"github.com/evwarranty/warranty-backend/pkg/logger"
)

// LineOrchestrator runs the approval and allocation steps that may spill into a
// transfer request.
type LineOrchestrator interface {
	ApproveCaseLine(ctx context.Context, lineID uuid.UUID, actor auth.Actor) (*workflow.AllocationOutcome, error)
	AllocateCaseLine(ctx context.Context, lineID uuid.UUID, actor auth.Actor) (*workflow.AllocationOutcome, error)
}

type lineStep func(ctx context.Context, lineID uuid.UUID, actor auth.Actor) (any, error)

// lineAction wraps the handlers that take only the line id and the actor.
func lineAction(step lineStep, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		lineID, err := validators.ParseUUIDParam(r, "lineId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithCaseLineID(ctx, lineID.String())
		}
		out, err := step(ctx, lineID, actor)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, out)
	}
}

func lineResult(fn func(ctx context.Context, lineID uuid.UUID, actor auth.Actor) (*models.CaseLine, error)) lineStep {
	return func(ctx context.Context, lineID uuid.UUID, actor auth.Actor) (any, error) {
		line, err := fn(ctx, lineID, actor)
		if err != nil {
			return nil, err
		}
		return toCaseLineDTO(line), nil
	}
}

func allocationResult(fn func(ctx context.Context, lineID uuid.UUID, actor auth.Actor) (*workflow.AllocationOutcome, error)) lineStep {
	return func(ctx context.Context, lineID uuid.UUID, actor auth.Actor) (any, error) {
		outcome, err := fn(ctx, lineID, actor)
		if err != nil {
			return nil, err
		}
		dto := allocationDTO{Line: toCaseLineDTO(outcome.Line)}
		if outcome.Shortfall != nil {
			dto.Shortfall = &shortfallDTO{Shortfall: *outcome.Shortfall, Missing: outcome.Shortfall.Missing()}
		}
		if outcome.Transfer != nil {
			transfer := toTransferDTO(outcome.Transfer)
			dto.Transfer = &transfer
		}
		return dto, nil
	}
}

func CaseLineGet(svc caselines.Service, logg *logger.Logger) http.HandlerFunc {
	return lineAction(lineResult(func(ctx context.Context, lineID uuid.UUID, _ auth.Actor) (*models.CaseLine, error) {
		return svc.Get(ctx, lineID)
	}), logg)
}

func CaseLineSubmit(svc caselines.Service, logg *logger.Logger) http.HandlerFunc {
	return lineAction(lineResult(svc.SubmitForApproval), logg)
}

// CaseLineApprove approves the line and attempts allocation in one call.
func CaseLineApprove(orch LineOrchestrator, logg *logger.Logger) http.HandlerFunc {
	return lineAction(allocationResult(orch.ApproveCaseLine), logg)
}

// CaseLineAllocate retries allocation for an APPROVED line.
func CaseLineAllocate(orch LineOrchestrator, logg *logger.Logger) http.HandlerFunc {
	return lineAction(allocationResult(orch.AllocateCaseLine), logg)
}

func CaseLineStartRepair(svc caselines.Service, logg *logger.Logger) http.HandlerFunc {
	return lineAction(lineResult(svc.StartRepair), logg)
}

func CaseLineComplete(svc caselines.Service, logg *logger.Logger) http.HandlerFunc {
	return lineAction(lineResult(svc.MarkRepairComplete), logg)
}

type reasonRequest struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

func CaseLineReject(svc caselines.Service, logg *logger.Logger) http.HandlerFunc {
	return lineReasonAction(svc.Reject, logg)
}

func CaseLineCancel(svc caselines.Service, logg *logger.Logger) http.HandlerFunc {
	return lineReasonAction(svc.Cancel, logg)
}

func lineReasonAction(fn func(ctx context.Context, lineID uuid.UUID, reason string, actor auth.Actor) (*models.CaseLine, error), logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req reasonRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		reason := validators.SanitizeString(req.Reason, 1000)
		lineAction(lineResult(func(ctx context.Context, lineID uuid.UUID, actor auth.Actor) (*models.CaseLine, error) {
			return fn(ctx, lineID, reason, actor)
		}), logg)(w, r)
	}
}

type lineUpdateRequest struct {
	DiagnosisText   *string `json:"diagnosis_text"`
	CorrectionText  *string `json:"correction_text"`
	TypeComponentID *string `json:"type_component_id" validate:"omitempty,uuid"`
	Quantity        *int    `json:"quantity" validate:"omitempty,min=0"`
	WarrantyStatus  *string `json:"warranty_status" validate:"omitempty,oneof=ELIGIBLE INELIGIBLE"`
}

func (req lineUpdateRequest) toInput() (caselines.UpdateDiagnosisInput, error) {
	input := caselines.UpdateDiagnosisInput{
		DiagnosisText:  validators.SanitizeOptional(req.DiagnosisText, maxTextLen),
		CorrectionText: validators.SanitizeOptional(req.CorrectionText, maxTextLen),
		Quantity:       req.Quantity,
	}
	if req.TypeComponentID != nil {
		id, err := uuid.Parse(*req.TypeComponentID)
		if err != nil {
			return input, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid type_component_id")
		}
		input.TypeComponentID = &id
	}
	if req.WarrantyStatus != nil {
		status, err := enums.ParseWarrantyStatus(*req.WarrantyStatus)
		if err != nil {
			return input, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid warranty_status")
		}
		input.WarrantyStatus = &status
	}
	return input, nil
}

// CaseLineUpdate edits the diagnosis of a DRAFT line.
func CaseLineUpdate(svc caselines.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req lineUpdateRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input, err := req.toInput()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		lineAction(lineResult(func(ctx context.Context, lineID uuid.UUID, _ auth.Actor) (*models.CaseLine, error) {
			return svc.UpdateDiagnosis(ctx, lineID, input)
		}), logg)(w, r)
	}
}
