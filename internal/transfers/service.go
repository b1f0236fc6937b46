package transfers

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
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

type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.TransferRequest, error)
	Approve(ctx context.Context, id uuid.UUID, input ApproveInput) (*models.TransferRequest, error)
	Reject(ctx context.Context, id uuid.UUID, reason string, actor auth.Actor) (*models.TransferRequest, error)
	Cancel(ctx context.Context, id uuid.UUID, reason string, actor auth.Actor) (*models.TransferRequest, error)
	Ship(ctx context.Context, id uuid.UUID, estimatedDelivery time.Time, actor auth.Actor) (*models.TransferRequest, error)
	Receive(ctx context.Context, id uuid.UUID, actor auth.Actor) (*models.TransferRequest, error)
	Get(ctx context.Context, id uuid.UUID) (*models.TransferRequest, error)
	ListByWarehouse(ctx context.Context, warehouseID uuid.UUID, status *enums.TransferStatus) ([]models.TransferRequest, error)
	OpenForCaseLine(ctx context.Context, caseLineID uuid.UUID) ([]models.TransferRequest, error)
	EnsureForCaseLine(ctx context.Context, caseLineID uuid.UUID, input CreateInput) (*models.TransferRequest, bool, error)
}

type ItemInput struct {
	TypeComponentID uuid.UUID
	Quantity        int
	CaseLineID      *uuid.UUID
}

type CreateInput struct {
	RequestingWarehouseID uuid.UUID
	Items                 []ItemInput
	Reason                *string
	Actor                 auth.Actor
}

// ApproveInput binds the source. A nil SourcingWarehouseID defers to the
// selector; Quantities maps item id to approved units and defaults to requested.
type ApproveInput struct {
	SourcingWarehouseID *uuid.UUID
	Quantities          map[uuid.UUID]int
	Actor               auth.Actor
}

type service struct {
	repo     *Repository
	ledger   *stock.Ledger
	selector SourceSelector
	tx       txRunner
	outbox   outbox.Emitter
	metrics  *metrics.WorkflowMetrics
	logg     *logger.Logger
}

type ServiceParams struct {
	Repo     *Repository
	Ledger   *stock.Ledger
	Selector SourceSelector
	Tx       txRunner
	Outbox   outbox.Emitter
	Metrics  *metrics.WorkflowMetrics
	Logger   *logger.Logger
}

func NewService(p ServiceParams) (Service, error) {
	switch {
	case p.Repo == nil:
		return nil, fmt.Errorf("transfer repository required")
	case p.Ledger == nil:
		return nil, fmt.Errorf("stock ledger required")
	case p.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case p.Outbox == nil:
		return nil, fmt.Errorf("outbox emitter required")
	}
	selector := p.Selector
	if selector == nil {
		selector = CompanyStockSelector{}
	}
	return &service{
		repo:     p.Repo,
		ledger:   p.Ledger,
		selector: selector,
		tx:       p.Tx,
		outbox:   p.Outbox,
		metrics:  p.Metrics,
		logg:     p.Logger,
	}, nil
}

func (in CreateInput) validate() error {
	if in.RequestingWarehouseID == uuid.Nil {
		return pkgerrors.Validation("requesting warehouse is required")
	}
	if len(in.Items) == 0 {
		return pkgerrors.Validation("a transfer request needs at least one item")
	}
	seen := make(map[uuid.UUID]struct{}, len(in.Items))
	for _, item := range in.Items {
		if item.TypeComponentID == uuid.Nil {
			return pkgerrors.Validation("item type component is required")
		}
		if item.Quantity <= 0 {
			return pkgerrors.Validation("item quantity must be positive")
		}
		if _, dup := seen[item.TypeComponentID]; dup {
			return pkgerrors.Validation("duplicate component type in items")
		}
		seen[item.TypeComponentID] = struct{}{}
	}
	return nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.TransferRequest, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	var req *models.TransferRequest
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		req, err = s.createTx(ctx, tx, input)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log(ctx, req, "transfer request created")
	return req, nil
}

// EnsureForCaseLine returns the request already in flight for the line, or
// creates one from input. The case line row stays locked between the lookup and
// the insert, so concurrent callers for one line end up with a single request.
// The bool reports whether a new request was created.
func (s *service) EnsureForCaseLine(ctx context.Context, caseLineID uuid.UUID, input CreateInput) (*models.TransferRequest, bool, error) {
	if err := input.validate(); err != nil {
		return nil, false, err
	}
	var (
		req     *models.TransferRequest
		created bool
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		req, created = nil, false
		repo := s.repo.WithTx(tx)
		if err := repo.LockCaseLine(ctx, caseLineID); err != nil {
			return err
		}
		open, err := repo.OpenForCaseLine(ctx, caseLineID)
		if err != nil {
			return err
		}
		if len(open) > 0 {
			req = &open[0]
			return nil
		}
		req, err = s.createTx(ctx, tx, input)
		created = err == nil
		return err
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		s.log(ctx, req, "transfer request created")
	}
	return req, created, nil
}

func (s *service) createTx(ctx context.Context, tx *gorm.DB, input CreateInput) (*models.TransferRequest, error) {
	req := &models.TransferRequest{
		RequestingWarehouseID: input.RequestingWarehouseID,
		Status:                enums.TransferStatusPendingApproval,
		RequestedByUserID:     input.Actor.UserID,
		Reason:                input.Reason,
	}
	typeIDs := make([]uuid.UUID, 0, len(input.Items))
	for _, item := range input.Items {
		req.Items = append(req.Items, models.TransferRequestItem{
			TypeComponentID:   item.TypeComponentID,
			QuantityRequested: item.Quantity,
			CaseLineID:        item.CaseLineID,
		})
		typeIDs = append(typeIDs, item.TypeComponentID)
	}

	repo := s.repo.WithTx(tx)
	ok, err := repo.WarehouseExists(ctx, input.RequestingWarehouseID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "requesting warehouse not found")
	}
	known, err := repo.CountTypeComponents(ctx, typeIDs)
	if err != nil {
		return nil, err
	}
	if int(known) != len(typeIDs) {
		return nil, pkgerrors.Validation("unknown component type in items")
	}
	if err := repo.Create(ctx, req); err != nil {
		return nil, err
	}
	if err := s.emit(ctx, tx, req, input.Actor, nil); err != nil {
		return nil, err
	}
	return req, nil
}

func (s *service) Approve(ctx context.Context, id uuid.UUID, input ApproveInput) (*models.TransferRequest, error) {
	return s.mutate(ctx, id, enums.TransferStatusApproved, func(tx *gorm.DB, req *models.TransferRequest) (map[string]any, *string, error) {
		repo := s.repo.WithTx(tx)
		source := uuid.Nil
		if input.SourcingWarehouseID != nil {
			source = *input.SourcingWarehouseID
			ok, err := repo.WarehouseExists(ctx, source)
			if err != nil {
				return nil, nil, err
			}
			if !ok {
				return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "sourcing warehouse not found")
			}
		} else {
			var err error
			if source, err = s.selector.Select(ctx, tx, req); err != nil {
				return nil, nil, err
			}
		}
		if source == req.RequestingWarehouseID {
			return nil, nil, pkgerrors.Validation("sourcing warehouse must differ from the requesting warehouse")
		}

		for id := range input.Quantities {
			if !hasItem(req.Items, id) {
				return nil, nil, pkgerrors.Validation(fmt.Sprintf("item %s is not part of the request", id))
			}
		}
		for i := range req.Items {
			item := &req.Items[i]
			qty := item.QuantityRequested
			if override, ok := input.Quantities[item.ID]; ok {
				qty = override
			}
			if qty < 1 || qty > item.QuantityRequested {
				return nil, nil, pkgerrors.Validation(fmt.Sprintf("approved quantity for item %s must be between 1 and %d", item.ID, item.QuantityRequested))
			}
			if err := repo.SetApprovedQuantity(ctx, item.ID, qty); err != nil {
				return nil, nil, err
			}
			item.QuantityApproved = qty
		}
		return map[string]any{
			"sourcing_warehouse_id": source,
			"approved_by_user_id":   input.Actor.UserID,
			"approved_at":           time.Now().UTC(),
		}, nil, nil
	}, input.Actor)
}

func (s *service) Reject(ctx context.Context, id uuid.UUID, reason string, actor auth.Actor) (*models.TransferRequest, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, pkgerrors.Validation("rejection reason is required")
	}
	return s.mutate(ctx, id, enums.TransferStatusRejected, func(*gorm.DB, *models.TransferRequest) (map[string]any, *string, error) {
		return map[string]any{"reason": reason, "rejected_at": time.Now().UTC()}, &reason, nil
	}, actor)
}

// Cancel ends the request. Units already on the road go back to the source shelf.
func (s *service) Cancel(ctx context.Context, id uuid.UUID, reason string, actor auth.Actor) (*models.TransferRequest, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, pkgerrors.Validation("cancellation reason is required")
	}
	return s.mutate(ctx, id, enums.TransferStatusCancelled, func(tx *gorm.DB, req *models.TransferRequest) (map[string]any, *string, error) {
		if req.Status == enums.TransferStatusShipped {
			ledger := s.ledger.WithTx(tx)
			for _, item := range sortedItems(req.Items) {
				key := stock.Key{WarehouseID: *req.SourcingWarehouseID, TypeComponentID: item.TypeComponentID}
				if err := ledger.ReturnInTransit(ctx, key, item.QuantityApproved); err != nil {
					return nil, nil, err
				}
			}
		}
		return map[string]any{"reason": reason, "cancelled_at": time.Now().UTC()}, &reason, nil
	}, actor)
}

// Ship moves the approved units into the source's in-transit bucket. A shortfall
// at the source rolls back and leaves the request APPROVED.
func (s *service) Ship(ctx context.Context, id uuid.UUID, estimatedDelivery time.Time, actor auth.Actor) (*models.TransferRequest, error) {
	if estimatedDelivery.IsZero() {
		return nil, pkgerrors.Validation("estimated delivery date is required")
	}
	return s.mutate(ctx, id, enums.TransferStatusShipped, func(tx *gorm.DB, req *models.TransferRequest) (map[string]any, *string, error) {
		now := time.Now().UTC()
		if estimatedDelivery.Before(now.Truncate(24 * time.Hour)) {
			return nil, nil, pkgerrors.Validation("estimated delivery date is in the past")
		}
		ledger := s.ledger.WithTx(tx)
		for _, item := range sortedItems(req.Items) {
			key := stock.Key{WarehouseID: *req.SourcingWarehouseID, TypeComponentID: item.TypeComponentID}
			if err := ledger.ShipOut(ctx, key, item.QuantityApproved); err != nil {
				return nil, nil, err
			}
		}
		return map[string]any{
			"shipped_by_user_id":      actor.UserID,
			"shipped_at":              now,
			"estimated_delivery_date": estimatedDelivery.UTC(),
		}, nil, nil
	}, actor)
}

// Receive lands the shipment: the source's in-transit bucket drains and the
// requester's shelf grows by the approved quantities.
func (s *service) Receive(ctx context.Context, id uuid.UUID, actor auth.Actor) (*models.TransferRequest, error) {
	return s.mutate(ctx, id, enums.TransferStatusReceived, func(tx *gorm.DB, req *models.TransferRequest) (map[string]any, *string, error) {
		ledger := s.ledger.WithTx(tx)
		for _, item := range sortedItems(req.Items) {
			source := stock.Key{WarehouseID: *req.SourcingWarehouseID, TypeComponentID: item.TypeComponentID}
			if err := ledger.LandInTransit(ctx, source, item.QuantityApproved); err != nil {
				return nil, nil, err
			}
			dest := stock.Key{WarehouseID: req.RequestingWarehouseID, TypeComponentID: item.TypeComponentID}
			if err := ledger.Receive(ctx, dest, item.QuantityApproved); err != nil {
				return nil, nil, err
			}
		}
		return map[string]any{
			"received_by_user_id": actor.UserID,
			"received_at":         time.Now().UTC(),
		}, nil, nil
	}, actor)
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.TransferRequest, error) {
	return s.repo.Get(ctx, id)
}

func (s *service) ListByWarehouse(ctx context.Context, warehouseID uuid.UUID, status *enums.TransferStatus) ([]models.TransferRequest, error) {
	if status != nil && !status.IsValid() {
		return nil, pkgerrors.Validation("unknown transfer status")
	}
	return s.repo.ListByWarehouse(ctx, warehouseID, status)
}

func (s *service) OpenForCaseLine(ctx context.Context, caseLineID uuid.UUID) ([]models.TransferRequest, error) {
	return s.repo.OpenForCaseLine(ctx, caseLineID)
}

type stepFunc func(tx *gorm.DB, req *models.TransferRequest) (map[string]any, *string, error)

func (s *service) mutate(ctx context.Context, id uuid.UUID, to enums.TransferStatus, step stepFunc, actor auth.Actor) (*models.TransferRequest, error) {
	var req *models.TransferRequest
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var err error
		req, err = repo.Lock(ctx, id)
		if err != nil {
			return err
		}
		if err := checkTransition(req.Status, to); err != nil {
			return err
		}
		updates, reason, err := step(tx, req)
		if err != nil {
			return err
		}
		if err := repo.UpdateInStatus(ctx, req, to, updates); err != nil {
			return err
		}
		return s.emit(ctx, tx, req, actor, reason)
	})
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveTransition(Entity, to.String())
	s.log(ctx, req, "transfer request "+strings.ToLower(to.String()))
	return req, nil
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, req *models.TransferRequest, actor auth.Actor, reason *string) error {
	items := make([]payloads.TransferItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, payloads.TransferItem{
			TypeComponentID:   item.TypeComponentID,
			QuantityRequested: item.QuantityRequested,
			QuantityApproved:  item.QuantityApproved,
			CaseLineID:        item.CaseLineID,
		})
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventTypes[req.Status],
		AggregateType: enums.AggregateTransferRequest,
		AggregateID:   req.ID,
		Actor:         outbox.RefFor(actor.UserID, actor.Role),
		Data: payloads.TransferStatusEvent{
			TransferRequestID:     req.ID,
			RequestingWarehouseID: req.RequestingWarehouseID,
			SourcingWarehouseID:   req.SourcingWarehouseID,
			Status:                req.Status,
			Reason:                reason,
			EstimatedDelivery:     req.EstimatedDeliveryDate,
			Items:                 items,
		},
	})
}

func (s *service) log(ctx context.Context, req *models.TransferRequest, msg string) {
	if s.logg == nil {
		return
	}
	logCtx := s.logg.WithTransferID(ctx, req.ID.String())
	logCtx = s.logg.WithField(logCtx, "status", req.Status)
	s.logg.Info(logCtx, msg)
}

func sortedItems(items []models.TransferRequestItem) []models.TransferRequestItem {
	out := append([]models.TransferRequestItem(nil), items...)
	sort.Slice(out, func(i, j int) bool {
		return out[i].TypeComponentID.String() < out[j].TypeComponentID.String()
	})
	return out
}

func hasItem(items []models.TransferRequestItem, id uuid.UUID) bool {
	for _, item := range items {
		if item.ID == id {
			return true
		}
	}
	return false
}
