// Package workflow coordinates the case line and transfer workflows: approval
// flows into allocation, shortfalls originate transfers, and landed transfers
// retry the lines that were waiting on them.
package workflow

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/evwarranty/warranty-backend/internal/caselines"
	"github.com/evwarranty/warranty-backend/internal/stock"
	"github.com/evwarranty/warranty-backend/internal/transfers"
	"github.com/evwarranty/warranty-backend/pkg/auth"
	"github.com/evwarranty/warranty-backend/pkg/db/models"
	"github.com/evwarranty/warranty-backend/pkg/enums"
	"github.com/evwarranty/warranty-backend/pkg/logger"
)

type Params struct {
	Lines                   caselines.Service
	Transfers               transfers.Service
	AutoTransferOnShortfall bool
	Logger                  *logger.Logger
}

type Orchestrator struct {
	lines        caselines.Service
	transfers    transfers.Service
	autoTransfer bool
	logg         *logger.Logger
}

// AllocationOutcome reports where an allocation attempt ended. Transfer is set
// when a shortfall originated a new transfer request.
type AllocationOutcome struct {
	Line      *models.CaseLine
	Shortfall *stock.Shortfall
	Transfer  *models.TransferRequest
}

// ReceiveOutcome carries the landed transfer and the lines it unblocked.
// ReallocationErr aggregates lines that could not be retried; the receipt
// itself is committed regardless.
type ReceiveOutcome struct {
	Transfer        *models.TransferRequest
	Allocated       []*models.CaseLine
	StillShort      []*models.CaseLine
	ReallocationErr error
}

func New(p Params) (*Orchestrator, error) {
	if p.Lines == nil {
		return nil, fmt.Errorf("case line service required")
	}
	if p.Transfers == nil {
		return nil, fmt.Errorf("transfer service required")
	}
	logg := p.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Orchestrator{
		lines:        p.Lines,
		transfers:    p.Transfers,
		autoTransfer: p.AutoTransferOnShortfall,
		logg:         logg,
	}, nil
}

// ApproveCaseLine approves the line and immediately tries to allocate its parts.
func (o *Orchestrator) ApproveCaseLine(ctx context.Context, lineID uuid.UUID, actor auth.Actor) (*AllocationOutcome, error) {
	if _, err := o.lines.Approve(ctx, lineID, actor); err != nil {
		return nil, err
	}
	return o.AllocateCaseLine(ctx, lineID, actor)
}

func (o *Orchestrator) AllocateCaseLine(ctx context.Context, lineID uuid.UUID, actor auth.Actor) (*AllocationOutcome, error) {
	result, err := o.lines.AllocateStock(ctx, lineID, actor)
	if err != nil {
		return nil, err
	}
	outcome := &AllocationOutcome{Line: result.Line, Shortfall: result.Shortfall}
	if result.Shortfall == nil || !o.autoTransfer {
		return outcome, nil
	}

	transfer, err := o.requestReplenishment(ctx, result.Line, *result.Shortfall, actor)
	if err != nil {
		return nil, err
	}
	outcome.Transfer = transfer
	return outcome, nil
}

// requestReplenishment opens a transfer for the missing units unless one is
// already in flight for the line.
func (o *Orchestrator) requestReplenishment(ctx context.Context, line *models.CaseLine, short stock.Shortfall, actor auth.Actor) (*models.TransferRequest, error) {
	reason := fmt.Sprintf("shortfall on case line %s", line.ID)
	lineID := line.ID
	transfer, created, err := o.transfers.EnsureForCaseLine(ctx, line.ID, transfers.CreateInput{
		RequestingWarehouseID: short.WarehouseID,
		Items: []transfers.ItemInput{{
			TypeComponentID: short.TypeComponentID,
			Quantity:        short.Missing(),
			CaseLineID:      &lineID,
		}},
		Reason: &reason,
		Actor:  actor,
	})
	if err != nil {
		return nil, err
	}
	if created {
		logCtx := o.logg.WithCaseLineID(ctx, line.ID.String())
		logCtx = o.logg.WithTransferID(logCtx, transfer.ID.String())
		o.logg.Info(logCtx, "transfer requested for allocation shortfall")
	}
	return transfer, nil
}

// ReceiveTransfer lands the shipment and retries allocation for every linked line
// still waiting in APPROVED. Each retry runs in its own transaction.
func (o *Orchestrator) ReceiveTransfer(ctx context.Context, transferID uuid.UUID, actor auth.Actor) (*ReceiveOutcome, error) {
	transfer, err := o.transfers.Receive(ctx, transferID, actor)
	if err != nil {
		return nil, err
	}
	outcome := &ReceiveOutcome{Transfer: transfer}

	for _, lineID := range linkedLines(transfer) {
		line, err := o.lines.Get(ctx, lineID)
		if err != nil {
			outcome.ReallocationErr = multierr.Append(outcome.ReallocationErr, fmt.Errorf("case line %s: %w", lineID, err))
			continue
		}
		if line.Status != enums.CaseLineStatusApproved {
			continue
		}
		result, err := o.lines.AllocateStock(ctx, lineID, actor)
		if err != nil {
			outcome.ReallocationErr = multierr.Append(outcome.ReallocationErr, fmt.Errorf("case line %s: %w", lineID, err))
			continue
		}
		if result.Shortfall != nil {
			outcome.StillShort = append(outcome.StillShort, result.Line)
			continue
		}
		outcome.Allocated = append(outcome.Allocated, result.Line)
	}

	if outcome.ReallocationErr != nil {
		logCtx := o.logg.WithTransferID(ctx, transferID.String())
		logCtx = o.logg.WithField(logCtx, "failed_lines", len(multierr.Errors(outcome.ReallocationErr)))
		o.logg.Error(logCtx, "re-allocation after transfer receipt failed", outcome.ReallocationErr)
	}
	return outcome, nil
}

func linkedLines(transfer *models.TransferRequest) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{})
	var out []uuid.UUID
	for _, item := range transfer.Items {
		if item.CaseLineID == nil {
			continue
		}
		if _, ok := seen[*item.CaseLineID]; ok {
			continue
		}
		seen[*item.CaseLineID] = struct{}{}
		out = append(out, *item.CaseLineID)
	}
	return out
}
