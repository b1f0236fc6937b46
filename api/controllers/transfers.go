package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/evwarranty/warranty-backend/api/responses"
	"github.com/evwarranty/warranty-backend/api/validators"
	"github.com/evwarranty/warranty-backend/internal/transfers"
	"github.com/evwarranty/warranty-backend/internal/workflow"
	"github.com/evwarranty/warranty-backend/pkg/auth"
	"github.com/evwarranty/warranty-backend/pkg/db/models"
	"github.com/evwarranty/warranty-backend/pkg/enums"
	"github.com/evwarranty/warranty-backend/pkg/logger"
)

// TransferOrchestrator lands a shipment and re-runs allocation for the lines it feeds.
type TransferOrchestrator interface {
	ReceiveTransfer(ctx context.Context, transferID uuid.UUID, actor auth.Actor) (*workflow.ReceiveOutcome, error)
}

type transferItemRequest struct {
	TypeComponentID string  `json:"type_component_id" validate:"required,uuid"`
	Quantity        int     `json:"quantity" validate:"required,gt=0"`
	CaseLineID      *string `json:"case_line_id" validate:"omitempty,uuid"`
}

type transferCreateRequest struct {
	RequestingWarehouseID string                `json:"requesting_warehouse_id" validate:"required,uuid"`
	Items                 []transferItemRequest `json:"items" validate:"required,min=1,dive"`
	Reason                *string               `json:"reason" validate:"omitempty,max=1000"`
}

func (req transferCreateRequest) toInput(actor auth.Actor) transfers.CreateInput {
	input := transfers.CreateInput{
		RequestingWarehouseID: uuid.MustParse(req.RequestingWarehouseID),
		Items:                 make([]transfers.ItemInput, 0, len(req.Items)),
		Reason:                validators.SanitizeOptional(req.Reason, 1000),
		Actor:                 actor,
	}
	for _, item := range req.Items {
		in := transfers.ItemInput{
			TypeComponentID: uuid.MustParse(item.TypeComponentID),
			Quantity:        item.Quantity,
		}
		if item.CaseLineID != nil {
			id := uuid.MustParse(*item.CaseLineID)
			in.CaseLineID = &id
		}
		input.Items = append(input.Items, in)
	}
	return input
}

func TransferCreate(svc transfers.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req transferCreateRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		transfer, err := svc.Create(r.Context(), req.toInput(actor))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, toTransferDTO(transfer))
	}
}

func TransferGet(svc transfers.Service, logg *logger.Logger) http.HandlerFunc {
	return transferAction(logg, func(ctx context.Context, id uuid.UUID, _ auth.Actor) (*models.TransferRequest, error) {
		return svc.Get(ctx, id)
	})
}

// WarehouseTransfers lists requests where the warehouse is requester or source.
func WarehouseTransfers(svc transfers.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		warehouseID, err := validators.ParseUUIDParam(r, "warehouseId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := validators.ParseQueryEnum(r, "status", enums.ParseTransferStatus)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := svc.ListByWarehouse(r.Context(), warehouseID, status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]transferDTO, 0, len(rows))
		for i := range rows {
			out = append(out, toTransferDTO(&rows[i]))
		}
		responses.WriteSuccess(w, out)
	}
}

type transferApproveRequest struct {
	SourcingWarehouseID *string        `json:"sourcing_warehouse_id" validate:"omitempty,uuid"`
	Quantities          map[string]int `json:"quantities" validate:"omitempty,dive,keys,uuid,endkeys,gt=0"`
}

func TransferApprove(svc transfers.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req transferApproveRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		transferAction(logg, func(ctx context.Context, id uuid.UUID, actor auth.Actor) (*models.TransferRequest, error) {
			input := transfers.ApproveInput{Actor: actor}
			if req.SourcingWarehouseID != nil {
				source := uuid.MustParse(*req.SourcingWarehouseID)
				input.SourcingWarehouseID = &source
			}
			if len(req.Quantities) > 0 {
				input.Quantities = make(map[uuid.UUID]int, len(req.Quantities))
				for itemID, qty := range req.Quantities {
					input.Quantities[uuid.MustParse(itemID)] = qty
				}
			}
			return svc.Approve(ctx, id, input)
		})(w, r)
	}
}

func TransferReject(svc transfers.Service, logg *logger.Logger) http.HandlerFunc {
	return transferReasonAction(svc.Reject, logg)
}

// TransferCancel withdraws a request; a shipped one returns its units to the source.
func TransferCancel(svc transfers.Service, logg *logger.Logger) http.HandlerFunc {
	return transferReasonAction(svc.Cancel, logg)
}

type transferShipRequest struct {
	EstimatedDeliveryDate time.Time `json:"estimated_delivery_date"`
}

func TransferShip(svc transfers.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req transferShipRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		transferAction(logg, func(ctx context.Context, id uuid.UUID, actor auth.Actor) (*models.TransferRequest, error) {
			return svc.Ship(ctx, id, req.EstimatedDeliveryDate, actor)
		})(w, r)
	}
}

type receiveDTO struct {
	Transfer          transferDTO   `json:"transfer"`
	AllocatedLines    []caseLineDTO `json:"allocated_lines"`
	StillShortLines   []caseLineDTO `json:"still_short_lines"`
	ReallocationError string        `json:"reallocation_error,omitempty"`
}

// TransferReceive lands the shipment at the requester. Lines waiting on it are
// allocated afterwards; their failures are reported but do not undo the receipt.
func TransferReceive(orch TransferOrchestrator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := validators.ParseUUIDParam(r, "transferId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithTransferID(ctx, id.String())
		}
		outcome, err := orch.ReceiveTransfer(ctx, id, actor)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		dto := receiveDTO{
			Transfer:        toTransferDTO(outcome.Transfer),
			AllocatedLines:  make([]caseLineDTO, 0, len(outcome.Allocated)),
			StillShortLines: make([]caseLineDTO, 0, len(outcome.StillShort)),
		}
		for _, line := range outcome.Allocated {
			dto.AllocatedLines = append(dto.AllocatedLines, toCaseLineDTO(line))
		}
		for _, line := range outcome.StillShort {
			dto.StillShortLines = append(dto.StillShortLines, toCaseLineDTO(line))
		}
		if outcome.ReallocationErr != nil {
			dto.ReallocationError = outcome.ReallocationErr.Error()
		}
		responses.WriteSuccess(w, dto)
	}
}

func transferReasonAction(fn func(ctx context.Context, id uuid.UUID, reason string, actor auth.Actor) (*models.TransferRequest, error), logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req reasonRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		reason := validators.SanitizeString(req.Reason, 1000)
		transferAction(logg, func(ctx context.Context, id uuid.UUID, actor auth.Actor) (*models.TransferRequest, error) {
			return fn(ctx, id, reason, actor)
		})(w, r)
	}
}

func transferAction(logg *logger.Logger, fn func(ctx context.Context, id uuid.UUID, actor auth.Actor) (*models.TransferRequest, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := validators.ParseUUIDParam(r, "transferId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithTransferID(ctx, id.String())
		}
		transfer, err := fn(ctx, id, actor)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, toTransferDTO(transfer))
	}
}
