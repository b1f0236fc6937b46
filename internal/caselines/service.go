package caselines

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/evwarranty/warranty-backend/internal/stock"
	"github.com/evwarranty/warranty-backend/pkg/auth"
	"github.com/evwarranty/warranty-backend/pkg/db/models"
	"github.com/evwarranty/warranty-backend/pkg/enums"
	pkgerrors "github.com/evwarranty/warranty-backend/pkg/errors"
	"github.com/evwarranty/warranty-backend/pkg/logger"
	"github.com/evwarranty/warranty-backend/pkg/metrics"
	"github.com/evwarranty/warranty-backend/pkg/outbox"
	"github.com/evwarranty/warranty-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Allocator reserves and releases the physical units behind a line. The
// reservation manager implements it; every call joins the caller's transaction.
type Allocator interface {
	AllocateTx(ctx context.Context, tx *gorm.DB, gc *models.GuaranteeCase, line *models.CaseLine, actor auth.Actor) (*stock.Shortfall, error)
	CancelForCaseLineTx(ctx context.Context, tx *gorm.DB, caseLineID uuid.UUID, actor auth.Actor) error
	StatusesForCaseLineTx(ctx context.Context, tx *gorm.DB, caseLineID uuid.UUID) ([]enums.ReservationStatus, error)
}

type Service interface {
	CreateCase(ctx context.Context, input CreateCaseInput) (*models.GuaranteeCase, error)
	GetCase(ctx context.Context, caseID uuid.UUID) (*models.GuaranteeCase, error)
	CreateLine(ctx context.Context, input CreateLineInput) (*models.CaseLine, error)
	UpdateDiagnosis(ctx context.Context, lineID uuid.UUID, input UpdateDiagnosisInput) (*models.CaseLine, error)
	SubmitForApproval(ctx context.Context, lineID uuid.UUID, actor auth.Actor) (*models.CaseLine, error)
	Approve(ctx context.Context, lineID uuid.UUID, actor auth.Actor) (*models.CaseLine, error)
	Reject(ctx context.Context, lineID uuid.UUID, reason string, actor auth.Actor) (*models.CaseLine, error)
	AllocateStock(ctx context.Context, lineID uuid.UUID, actor auth.Actor) (*AllocationResult, error)
	StartRepair(ctx context.Context, lineID uuid.UUID, actor auth.Actor) (*models.CaseLine, error)
	MarkRepairComplete(ctx context.Context, lineID uuid.UUID, actor auth.Actor) (*models.CaseLine, error)
	Cancel(ctx context.Context, lineID uuid.UUID, reason string, actor auth.Actor) (*models.CaseLine, error)
	Get(ctx context.Context, lineID uuid.UUID) (*models.CaseLine, error)
	ListByCase(ctx context.Context, caseID uuid.UUID) ([]models.CaseLine, error)
}

type CreateCaseInput struct {
	VehicleVIN      string
	ServiceCenterID uuid.UUID
	WarehouseID     uuid.UUID
	Actor           auth.Actor
}

type CreateLineInput struct {
	CaseID          uuid.UUID
	DiagnosisText   string
	CorrectionText  string
	TypeComponentID *uuid.UUID
	Quantity        int
	WarrantyStatus  *enums.WarrantyStatus
	Actor           auth.Actor
}

// UpdateDiagnosisInput holds optional edits to a draft line; nil fields are kept.
type UpdateDiagnosisInput struct {
	DiagnosisText   *string
	CorrectionText  *string
	TypeComponentID *uuid.UUID
	Quantity        *int
	WarrantyStatus  *enums.WarrantyStatus
}

// AllocationResult is the outcome of AllocateStock. A non-nil Shortfall means the
// line stayed APPROVED and nothing was reserved.
type AllocationResult struct {
	Line      *models.CaseLine
	Shortfall *stock.Shortfall
}

type service struct {
	repo        *Repository
	tx          txRunner
	transitions *Transitioner
	allocator   Allocator
	outbox      outbox.Emitter
	metrics     *metrics.WorkflowMetrics
	logg        *logger.Logger
}

type ServiceParams struct {
	Repo        *Repository
	Tx          txRunner
	Transitions *Transitioner
	Allocator   Allocator
	Outbox      outbox.Emitter
	Metrics     *metrics.WorkflowMetrics
	Logger      *logger.Logger
}

func NewService(p ServiceParams) (Service, error) {
	if p.Repo == nil {
		return nil, fmt.Errorf("case line repository required")
	}
	if p.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if p.Transitions == nil {
		return nil, fmt.Errorf("transitioner required")
	}
	if p.Allocator == nil {
		return nil, fmt.Errorf("allocator required")
	}
	if p.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	return &service{
		repo:        p.Repo,
		tx:          p.Tx,
		transitions: p.Transitions,
		allocator:   p.Allocator,
		outbox:      p.Outbox,
		metrics:     p.Metrics,
		logg:        p.Logger,
	}, nil
}

func (s *service) CreateCase(ctx context.Context, input CreateCaseInput) (*models.GuaranteeCase, error) {
	vin := strings.TrimSpace(input.VehicleVIN)
	if vin == "" {
		return nil, pkgerrors.Validation("vehicle vin is required")
	}
	if input.ServiceCenterID == uuid.Nil || input.WarehouseID == uuid.Nil {
		return nil, pkgerrors.Validation("service center and warehouse are required")
	}
	gc := &models.GuaranteeCase{
		VehicleVIN:      vin,
		ServiceCenterID: input.ServiceCenterID,
		WarehouseID:     input.WarehouseID,
		OpenedByUserID:  input.Actor.UserID,
	}
	if err := s.repo.CreateCase(ctx, gc); err != nil {
		return nil, err
	}
	return gc, nil
}

func (s *service) GetCase(ctx context.Context, caseID uuid.UUID) (*models.GuaranteeCase, error) {
	return s.repo.GetCase(ctx, caseID)
}

func (s *service) CreateLine(ctx context.Context, input CreateLineInput) (*models.CaseLine, error) {
	if err := validateParts(input.TypeComponentID, input.Quantity); err != nil {
		return nil, err
	}
	if input.WarrantyStatus != nil && !input.WarrantyStatus.IsValid() {
		return nil, pkgerrors.Validation("unknown warranty status")
	}
	line := &models.CaseLine{
		CaseID:          input.CaseID,
		DiagnosisText:   strings.TrimSpace(input.DiagnosisText),
		CorrectionText:  strings.TrimSpace(input.CorrectionText),
		TypeComponentID: input.TypeComponentID,
		Quantity:        input.Quantity,
		WarrantyStatus:  input.WarrantyStatus,
		Status:          enums.CaseLineStatusDraft,
		CreatedByUserID: input.Actor.UserID,
	}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := repo.GetCase(ctx, input.CaseID); err != nil {
			return err
		}
		if line.TypeComponentID != nil {
			if _, err := repo.GetTypeComponent(ctx, *line.TypeComponentID); err != nil {
				return err
			}
		}
		return repo.CreateLine(ctx, line)
	})
	if err != nil {
		return nil, err
	}
	return line, nil
}

func (s *service) UpdateDiagnosis(ctx context.Context, lineID uuid.UUID, input UpdateDiagnosisInput) (*models.CaseLine, error) {
	var line *models.CaseLine
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var err error
		line, err = repo.LockLine(ctx, lineID)
		if err != nil {
			return err
		}
		if line.Status != enums.CaseLineStatusDraft {
			return pkgerrors.InvalidTransition(Entity, line.Status.String(), enums.CaseLineStatusDraft.String())
		}

		updates := map[string]any{}
		if input.DiagnosisText != nil {
			updates["diagnosis_text"] = strings.TrimSpace(*input.DiagnosisText)
		}
		if input.CorrectionText != nil {
			updates["correction_text"] = strings.TrimSpace(*input.CorrectionText)
		}
		typeID, qty := line.TypeComponentID, line.Quantity
		if input.TypeComponentID != nil {
			typeID = input.TypeComponentID
			updates["type_component_id"] = *input.TypeComponentID
		}
		if input.Quantity != nil {
			qty = *input.Quantity
			updates["quantity"] = qty
		}
		if err := validateParts(typeID, qty); err != nil {
			return err
		}
		if input.TypeComponentID != nil {
			if _, err := repo.GetTypeComponent(ctx, *input.TypeComponentID); err != nil {
				return err
			}
		}
		if input.WarrantyStatus != nil {
			if !input.WarrantyStatus.IsValid() {
				return pkgerrors.Validation("unknown warranty status")
			}
			updates["warranty_status"] = *input.WarrantyStatus
		}
		if len(updates) == 0 {
			return nil
		}
		return repo.UpdateInStatus(ctx, line, enums.CaseLineStatusDraft, enums.CaseLineStatusDraft, updates)
	})
	if err != nil {
		return nil, err
	}
	return line, nil
}

// SubmitForApproval requires a diagnosis and a warranty decision. INELIGIBLE lines
// still go ahead as paid repairs and get their customer charge priced here.
func (s *service) SubmitForApproval(ctx context.Context, lineID uuid.UUID, actor auth.Actor) (*models.CaseLine, error) {
	return s.mutate(ctx, lineID, func(tx *gorm.DB, line *models.CaseLine) error {
		if _, err := Next(line.Status, EventSubmit); err != nil {
			return err
		}
		if line.DiagnosisText == "" {
			return pkgerrors.Validation("diagnosis text is required before submission")
		}
		if line.WarrantyStatus == nil {
			return pkgerrors.Validation("warranty status is required before submission")
		}

		extra := map[string]any{}
		if *line.WarrantyStatus == enums.WarrantyStatusIneligible && line.NeedsParts() {
			tc, err := s.repo.WithTx(tx).GetTypeComponent(ctx, *line.TypeComponentID)
			if err != nil {
				return err
			}
			extra["customer_charge_amount"] = CustomerCharge(tc.UnitPrice, line.Quantity)
		}
		return s.transitions.Apply(ctx, tx, line, EventSubmit, actor, extra, nil)
	})
}

func (s *service) Approve(ctx context.Context, lineID uuid.UUID, actor auth.Actor) (*models.CaseLine, error) {
	return s.mutate(ctx, lineID, func(tx *gorm.DB, line *models.CaseLine) error {
		return s.transitions.Apply(ctx, tx, line, EventApprove, actor, map[string]any{
			"approved_by_user_id": actor.UserID,
			"approved_at":         time.Now().UTC(),
		}, nil)
	})
}

func (s *service) Reject(ctx context.Context, lineID uuid.UUID, reason string, actor auth.Actor) (*models.CaseLine, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, pkgerrors.Validation("rejection reason is required")
	}
	return s.mutate(ctx, lineID, func(tx *gorm.DB, line *models.CaseLine) error {
		return s.transitions.Apply(ctx, tx, line, EventReject, actor, map[string]any{
			"rejection_reason":    reason,
			"rejected_by_user_id": actor.UserID,
		}, &reason)
	})
}

// AllocateStock reserves the line's parts and makes it ready for repair. On a
// shortfall nothing is reserved, the line stays APPROVED and a shortfall event is
// queued for parts coordinators.
func (s *service) AllocateStock(ctx context.Context, lineID uuid.UUID, actor auth.Actor) (*AllocationResult, error) {
	result := &AllocationResult{}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		*result = AllocationResult{}
		repo := s.repo.WithTx(tx)
		line, err := repo.LockLine(ctx, lineID)
		if err != nil {
			return err
		}
		result.Line = line
		if _, err := Next(line.Status, EventAllocate); err != nil {
			return err
		}

		extra := map[string]any{"allocated_by_user_id": actor.UserID}
		if line.NeedsParts() {
			gc, err := repo.GetCase(ctx, line.CaseID)
			if err != nil {
				return err
			}
			short, err := s.allocator.AllocateTx(ctx, tx, gc, line, actor)
			if err != nil {
				return err
			}
			if short != nil {
				result.Shortfall = short
				return s.emitShortfall(ctx, tx, line, *short, actor)
			}
		}
		return s.transitions.Apply(ctx, tx, line, EventAllocate, actor, extra, nil)
	})
	if err != nil {
		return nil, err
	}

	switch {
	case result.Shortfall != nil:
		s.metrics.ObserveAllocation(metrics.OutcomeShortfall)
		if s.logg != nil {
			logCtx := s.logg.WithCaseLineID(ctx, lineID.String())
			logCtx = s.logg.WithFields(logCtx, map[string]any{
				"requested": result.Shortfall.Requested,
				"available": result.Shortfall.Available,
			})
			s.logg.Warn(logCtx, "allocation shortfall")
		}
	default:
		s.metrics.ObserveAllocation(metrics.OutcomeReserved)
	}
	return result, nil
}

// StartRepair moves a labor-only line into repair. Lines with parts enter repair
// when the technician picks up the first unit.
func (s *service) StartRepair(ctx context.Context, lineID uuid.UUID, actor auth.Actor) (*models.CaseLine, error) {
	return s.mutate(ctx, lineID, func(tx *gorm.DB, line *models.CaseLine) error {
		if _, err := Next(line.Status, EventStartRepair); err != nil {
			return err
		}
		if line.NeedsParts() {
			return pkgerrors.Validation("lines with parts enter repair on pickup")
		}
		return s.transitions.Apply(ctx, tx, line, EventStartRepair, actor, nil, nil)
	})
}

func (s *service) MarkRepairComplete(ctx context.Context, lineID uuid.UUID, actor auth.Actor) (*models.CaseLine, error) {
	return s.mutate(ctx, lineID, func(tx *gorm.DB, line *models.CaseLine) error {
		if _, err := Next(line.Status, EventComplete); err != nil {
			return err
		}
		statuses, err := s.allocator.StatusesForCaseLineTx(ctx, tx, line.ID)
		if err != nil {
			return err
		}
		if pending := pendingUnits(statuses); pending > 0 {
			return pkgerrors.New(pkgerrors.CodePrematureCompletion,
				fmt.Sprintf("%d unit(s) not installed yet", pending)).
				WithDetails(map[string]int{"pending_units": pending})
		}
		return s.transitions.Apply(ctx, tx, line, EventComplete, actor, map[string]any{
			"completed_by_user_id": actor.UserID,
			"completed_at":         time.Now().UTC(),
		}, nil)
	})
}

// Cancel is allowed before repair starts. Reserved stock goes back to the shelf in
// the same transaction; once a unit was picked up the return flow applies instead.
func (s *service) Cancel(ctx context.Context, lineID uuid.UUID, reason string, actor auth.Actor) (*models.CaseLine, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, pkgerrors.Validation("cancellation reason is required")
	}
	return s.mutate(ctx, lineID, func(tx *gorm.DB, line *models.CaseLine) error {
		if line.Status == enums.CaseLineStatusInRepair {
			return pkgerrors.New(pkgerrors.CodeInvalidTransition,
				"case line is in repair; parts already left the warehouse, use the return flow").
				WithDetails(pkgerrors.TransitionDetails{
					Entity:    Entity,
					Current:   line.Status.String(),
					Attempted: enums.CaseLineStatusCancelled.String(),
				})
		}
		if _, err := Next(line.Status, EventCancel); err != nil {
			return err
		}
		if line.NeedsParts() {
			if err := s.allocator.CancelForCaseLineTx(ctx, tx, line.ID, actor); err != nil {
				return err
			}
		}
		return s.transitions.Apply(ctx, tx, line, EventCancel, actor, map[string]any{
			"cancellation_reason": reason,
			"cancelled_at":        time.Now().UTC(),
		}, &reason)
	})
}

func (s *service) Get(ctx context.Context, lineID uuid.UUID) (*models.CaseLine, error) {
	return s.repo.GetLine(ctx, lineID)
}

func (s *service) ListByCase(ctx context.Context, caseID uuid.UUID) ([]models.CaseLine, error) {
	if _, err := s.repo.GetCase(ctx, caseID); err != nil {
		return nil, err
	}
	return s.repo.ListByCase(ctx, caseID)
}

func (s *service) mutate(ctx context.Context, lineID uuid.UUID, fn func(tx *gorm.DB, line *models.CaseLine) error) (*models.CaseLine, error) {
	var line *models.CaseLine
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		line, err = s.repo.WithTx(tx).LockLine(ctx, lineID)
		if err != nil {
			return err
		}
		return fn(tx, line)
	})
	if err != nil {
		return nil, err
	}
	return line, nil
}

func (s *service) emitShortfall(ctx context.Context, tx *gorm.DB, line *models.CaseLine, short stock.Shortfall, actor auth.Actor) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventStockShortfallDetected,
		AggregateType: enums.AggregateCaseLine,
		AggregateID:   line.ID,
		Actor:         outbox.RefFor(actor.UserID, actor.Role),
		Data: payloads.StockShortfallEvent{
			CaseLineID:      line.ID,
			WarehouseID:     short.WarehouseID,
			TypeComponentID: short.TypeComponentID,
			Requested:       short.Requested,
			Available:       short.Available,
		},
	})
}

// CustomerCharge prices a paid repair.
func CustomerCharge(unitPrice decimal.Decimal, quantity int) decimal.NullDecimal {
	return decimal.NullDecimal{
		Decimal: unitPrice.Mul(decimal.NewFromInt(int64(quantity))).Round(2),
		Valid:   true,
	}
}

func validateParts(typeID *uuid.UUID, qty int) error {
	switch {
	case qty < 0:
		return pkgerrors.Validation("quantity must not be negative")
	case typeID == nil && qty > 0:
		return pkgerrors.Validation("quantity requires a component type")
	case typeID != nil && qty == 0:
		return pkgerrors.Validation("component type requires a positive quantity")
	}
	return nil
}

func pendingUnits(statuses []enums.ReservationStatus) int {
	pending := 0
	for _, st := range statuses {
		switch st {
		case enums.ReservationStatusInstalled, enums.ReservationStatusReturned, enums.ReservationStatusCancelled:
		default:
			pending++
		}
	}
	return pending
}
