package reservations

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/evwarranty/warranty-backend/internal/caselines"
	"github.com/evwarranty/warranty-backend/internal/components"
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

// Allocation is the outcome of Allocate. Exactly one of Reservations and
// Shortfall is populated.
type Allocation struct {
	WarehouseID  uuid.UUID
	Reservations []models.ComponentReservation
	Shortfall    *stock.Shortfall
}

// Manager drives reservations between the stock ledger and the component registry.
// It implements caselines.Allocator.
type Manager struct {
	repo        *Repository
	ledger      *stock.Ledger
	registry    *components.Registry
	lines       *caselines.Repository
	transitions *caselines.Transitioner
	selector    WarehouseSelector
	outbox      outbox.Emitter
	tx          txRunner
	metrics     *metrics.WorkflowMetrics
	logg        *logger.Logger
}

type ManagerParams struct {
	Repo        *Repository
	Ledger      *stock.Ledger
	Registry    *components.Registry
	Lines       *caselines.Repository
	Transitions *caselines.Transitioner
	Selector    WarehouseSelector
	Outbox      outbox.Emitter
	Tx          txRunner
	Metrics     *metrics.WorkflowMetrics
	Logger      *logger.Logger
}

func NewManager(p ManagerParams) (*Manager, error) {
	switch {
	case p.Repo == nil:
		return nil, fmt.Errorf("reservation repository required")
	case p.Ledger == nil:
		return nil, fmt.Errorf("stock ledger required")
	case p.Registry == nil:
		return nil, fmt.Errorf("component registry required")
	case p.Lines == nil:
		return nil, fmt.Errorf("case line repository required")
	case p.Transitions == nil:
		return nil, fmt.Errorf("case line transitioner required")
	case p.Outbox == nil:
		return nil, fmt.Errorf("outbox emitter required")
	case p.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	}
	selector := p.Selector
	if selector == nil {
		selector = LocalFirstSelector{}
	}
	return &Manager{
		repo:        p.Repo,
		ledger:      p.Ledger,
		registry:    p.Registry,
		lines:       p.Lines,
		transitions: p.Transitions,
		selector:    selector,
		outbox:      p.Outbox,
		tx:          p.Tx,
		metrics:     p.Metrics,
		logg:        p.Logger,
	}, nil
}

var _ caselines.Allocator = (*Manager)(nil)

// Allocate reserves qty units of a type for an approved case line without
// changing the line's state. It never reserves part of the quantity, nor more
// than the line still needs.
func (m *Manager) Allocate(ctx context.Context, caseLineID, typeComponentID uuid.UUID, qty int, actor auth.Actor) (*Allocation, error) {
	if qty <= 0 {
		return nil, pkgerrors.Validation("quantity must be positive")
	}
	var out *Allocation
	err := m.tx.WithTx(ctx, func(tx *gorm.DB) error {
		lines := m.lines.WithTx(tx)
		line, err := lines.LockLine(ctx, caseLineID)
		if err != nil {
			return err
		}
		if line.Status != enums.CaseLineStatusApproved {
			return pkgerrors.InvalidTransition(caselines.Entity, line.Status.String(), enums.CaseLineStatusReadyForRepair.String())
		}
		if line.TypeComponentID == nil || *line.TypeComponentID != typeComponentID {
			return pkgerrors.Validation("component type does not match the case line")
		}
		if qty > line.Quantity-line.QuantityReserved {
			return pkgerrors.Validation("quantity exceeds what the case line still needs")
		}
		gc, err := lines.GetCase(ctx, line.CaseID)
		if err != nil {
			return err
		}
		out, err = m.allocate(ctx, tx, gc, line.ID, typeComponentID, qty)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AllocateTx reserves the line's full requested quantity inside tx.
func (m *Manager) AllocateTx(ctx context.Context, tx *gorm.DB, gc *models.GuaranteeCase, line *models.CaseLine, actor auth.Actor) (*stock.Shortfall, error) {
	if !line.NeedsParts() {
		return nil, nil
	}
	out, err := m.allocate(ctx, tx, gc, line.ID, *line.TypeComponentID, line.Quantity)
	if err != nil {
		return nil, err
	}
	return out.Shortfall, nil
}

func (m *Manager) allocate(ctx context.Context, tx *gorm.DB, gc *models.GuaranteeCase, caseLineID, typeComponentID uuid.UUID, qty int) (*Allocation, error) {
	candidates, err := m.selector.Candidates(ctx, tx, gc, typeComponentID)
	if err != nil {
		return nil, fmt.Errorf("select warehouses: %w", err)
	}

	ledger := m.ledger.WithTx(tx)
	var first *stock.Shortfall
	for _, warehouseID := range candidates {
		key := stock.Key{WarehouseID: warehouseID, TypeComponentID: typeComponentID}
		short, err := ledger.Reserve(ctx, key, qty)
		if err != nil {
			return nil, err
		}
		if short != nil {
			if first == nil {
				first = short
			}
			continue
		}

		rows, err := m.bindUnits(ctx, tx, key, caseLineID, qty)
		if err != nil {
			return nil, err
		}
		if err := m.lines.WithTx(tx).AddReserved(ctx, caseLineID, qty); err != nil {
			return nil, err
		}
		return &Allocation{WarehouseID: warehouseID, Reservations: rows}, nil
	}

	if first == nil {
		first = &stock.Shortfall{WarehouseID: gc.WarehouseID, TypeComponentID: typeComponentID, Requested: qty}
	}
	return &Allocation{WarehouseID: first.WarehouseID, Shortfall: first}, nil
}

// bindUnits attaches one physical unit per reserved count: registered IN_STOCK
// units first, then freshly minted ones for stock counted only in the ledger.
func (m *Manager) bindUnits(ctx context.Context, tx *gorm.DB, key stock.Key, caseLineID uuid.UUID, qty int) ([]models.ComponentReservation, error) {
	registry := m.registry.WithTx(tx)
	units, err := registry.ClaimInStock(ctx, key.WarehouseID, key.TypeComponentID, qty)
	if err != nil {
		return nil, err
	}
	if missing := qty - len(units); missing > 0 {
		minted, err := registry.Mint(ctx, key.WarehouseID, key.TypeComponentID, missing)
		if err != nil {
			return nil, err
		}
		units = append(units, minted...)
	}

	rows := make([]models.ComponentReservation, 0, len(units))
	for _, unit := range units {
		rows = append(rows, models.ComponentReservation{
			CaseLineID:      caseLineID,
			ComponentID:     unit.ID,
			WarehouseID:     key.WarehouseID,
			TypeComponentID: key.TypeComponentID,
			Status:          enums.ReservationStatusReserved,
		})
	}
	if err := m.repo.WithTx(tx).CreateBatch(ctx, rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// Pickup hands reserved units to a technician. Units already PICKED_UP count as
// success without touching stock again; any other state fails the whole call.
// The first pickup on a line ready for repair moves it into repair.
func (m *Manager) Pickup(ctx context.Context, reservationIDs []uuid.UUID, actor auth.Actor) ([]models.ComponentReservation, error) {
	ids := uniqueSorted(reservationIDs)
	if len(ids) == 0 {
		return nil, pkgerrors.Validation("at least one reservation id is required")
	}

	var (
		out        []models.ComponentReservation
		pickedUp   int
		idempotent int
	)
	err := m.tx.WithTx(ctx, func(tx *gorm.DB) error {
		pickedUp, idempotent = 0, 0
		repo := m.repo.WithTx(tx)

		// Lines are locked before reservations, the same order cancellation uses.
		peek, err := repo.ListByIDs(ctx, ids)
		if err != nil {
			return err
		}
		owners := map[uuid.UUID]struct{}{}
		for _, r := range peek {
			owners[r.CaseLineID] = struct{}{}
		}
		lines, err := m.lockLines(ctx, tx, sortedKeys(owners))
		if err != nil {
			return err
		}

		rows, err := repo.LockByIDs(ctx, ids)
		if err != nil {
			return err
		}
		if len(rows) != len(ids) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "one or more reservations not found")
		}

		var fresh []*models.ComponentReservation
		for i := range rows {
			switch rows[i].Status {
			case enums.ReservationStatusPickedUp:
				idempotent++
			case enums.ReservationStatusReserved:
				fresh = append(fresh, &rows[i])
			default:
				return pkgerrors.InvalidTransition(Entity, rows[i].Status.String(), enums.ReservationStatusPickedUp.String())
			}
		}
		if len(fresh) == 0 {
			out = rows
			return nil
		}

		if err := m.consume(ctx, tx, fresh); err != nil {
			return err
		}

		now := time.Now().UTC()
		componentIDs := make([]uuid.UUID, 0, len(fresh))
		for _, r := range fresh {
			componentIDs = append(componentIDs, r.ComponentID)
		}
		registry := m.registry.WithTx(tx)
		units, err := registry.LockByIDs(ctx, componentIDs)
		if err != nil {
			return err
		}
		byID := make(map[uuid.UUID]*models.Component, len(units))
		for i := range units {
			byID[units[i].ID] = &units[i]
		}

		lineIDs := map[uuid.UUID]struct{}{}
		for _, r := range fresh {
			unit, ok := byID[r.ComponentID]
			if !ok {
				return pkgerrors.New(pkgerrors.CodeComponentNotFound, fmt.Sprintf("component %s not found", r.ComponentID))
			}
			if err := registry.Transition(ctx, unit, enums.ComponentStatusPickedUp, components.Ownership{}); err != nil {
				return err
			}
			pickedBy := actor.UserID
			if err := repo.UpdateInStatus(ctx, r, enums.ReservationStatusReserved, enums.ReservationStatusPickedUp, map[string]any{
				"picked_up_by": pickedBy,
				"picked_up_at": now,
			}); err != nil {
				return err
			}
			if err := m.emit(ctx, tx, enums.EventReservationPickedUp, r, actor, nil, nil); err != nil {
				return err
			}
			lineIDs[r.CaseLineID] = struct{}{}
			pickedUp++
		}

		for _, id := range sortedKeys(lineIDs) {
			line, ok := lines[id]
			if !ok || line.Status != enums.CaseLineStatusReadyForRepair {
				continue
			}
			if err := m.transitions.Apply(ctx, tx, line, caselines.EventStartRepair, actor, nil, nil); err != nil {
				return err
			}
		}
		out = rows
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i := 0; i < pickedUp; i++ {
		m.metrics.ObservePickup(metrics.OutcomeReserved)
	}
	for i := 0; i < idempotent; i++ {
		m.metrics.ObservePickup(metrics.OutcomeIdempotent)
	}
	return out, nil
}

// consume takes the picked units off the ledger, one UPDATE per stock key in key order.
func (m *Manager) consume(ctx context.Context, tx *gorm.DB, rows []*models.ComponentReservation) error {
	counts := map[stock.Key]int{}
	for _, r := range rows {
		counts[stock.Key{WarehouseID: r.WarehouseID, TypeComponentID: r.TypeComponentID}]++
	}
	keys := make([]stock.Key, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	ledger := m.ledger.WithTx(tx)
	for _, k := range keys {
		if err := ledger.Consume(ctx, k, counts[k]); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) lockLines(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) (map[uuid.UUID]*models.CaseLine, error) {
	repo := m.lines.WithTx(tx)
	out := make(map[uuid.UUID]*models.CaseLine, len(ids))
	for _, id := range ids {
		line, err := repo.LockLine(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = line
	}
	return out, nil
}

// Install puts a picked-up unit on the case vehicle; the unit leaves its
// warehouse. Repeating the call with the same VIN succeeds.
func (m *Manager) Install(ctx context.Context, reservationID uuid.UUID, vin string, actor auth.Actor) (*models.ComponentReservation, error) {
	vin = strings.TrimSpace(vin)
	if vin == "" {
		return nil, pkgerrors.Validation("vehicle vin is required")
	}

	var row *models.ComponentReservation
	err := m.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := m.repo.WithTx(tx)
		var err error
		row, err = repo.Lock(ctx, reservationID)
		if err != nil {
			return err
		}
		if row.Status == enums.ReservationStatusInstalled {
			if row.InstalledVIN != nil && strings.EqualFold(*row.InstalledVIN, vin) {
				return nil
			}
			return pkgerrors.New(pkgerrors.CodeInvalidTransition, "reservation already installed on another vehicle").
				WithDetails(pkgerrors.TransitionDetails{
					Entity:    Entity,
					Current:   row.Status.String(),
					Attempted: enums.ReservationStatusInstalled.String(),
				})
		}
		if err := checkTransition(row.Status, enums.ReservationStatusInstalled); err != nil {
			return err
		}

		lines := m.lines.WithTx(tx)
		line, err := lines.GetLine(ctx, row.CaseLineID)
		if err != nil {
			return err
		}
		gc, err := lines.GetCase(ctx, line.CaseID)
		if err != nil {
			return err
		}
		if !strings.EqualFold(gc.VehicleVIN, vin) {
			return pkgerrors.Validation("vin does not match the case vehicle")
		}

		registry := m.registry.WithTx(tx)
		unit, err := registry.GetByID(ctx, row.ComponentID)
		if err != nil {
			return err
		}
		if err := registry.Transition(ctx, unit, enums.ComponentStatusInstalled, components.Ownership{VehicleVIN: &gc.VehicleVIN}); err != nil {
			return err
		}
		if err := repo.UpdateInStatus(ctx, row, enums.ReservationStatusPickedUp, enums.ReservationStatusInstalled, map[string]any{
			"installed_at":  time.Now().UTC(),
			"installed_vin": gc.VehicleVIN,
		}); err != nil {
			return err
		}
		return m.emit(ctx, tx, enums.EventReservationInstalled, row, actor, &gc.VehicleVIN, nil)
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// ReturnOld records the unit taken off the vehicle. The old unit must currently be
// installed on the same vehicle; it is re-homed to the reservation's warehouse.
func (m *Manager) ReturnOld(ctx context.Context, reservationID uuid.UUID, oldSerial string, actor auth.Actor) (*models.ComponentReservation, error) {
	oldSerial = strings.TrimSpace(oldSerial)
	if oldSerial == "" {
		return nil, pkgerrors.Validation("old serial number is required")
	}

	var row *models.ComponentReservation
	err := m.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := m.repo.WithTx(tx)
		var err error
		row, err = repo.Lock(ctx, reservationID)
		if err != nil {
			return err
		}
		if err := checkTransition(row.Status, enums.ReservationStatusReturned); err != nil {
			return err
		}

		registry := m.registry.WithTx(tx)
		old, err := registry.LockBySerial(ctx, oldSerial)
		if err != nil {
			return err
		}
		onVehicle := old.Status == enums.ComponentStatusInstalled &&
			old.VehicleVIN != nil && row.InstalledVIN != nil &&
			strings.EqualFold(*old.VehicleVIN, *row.InstalledVIN)
		if !onVehicle || old.ID == row.ComponentID {
			return pkgerrors.New(pkgerrors.CodeComponentNotFound,
				fmt.Sprintf("component %s is not installed on the repaired vehicle", oldSerial)).
				WithDetails(map[string]string{"serial_number": oldSerial})
		}

		warehouseID := row.WarehouseID
		if err := registry.Transition(ctx, old, enums.ComponentStatusReturned, components.Ownership{WarehouseID: &warehouseID}); err != nil {
			return err
		}
		if err := repo.UpdateInStatus(ctx, row, enums.ReservationStatusInstalled, enums.ReservationStatusReturned, map[string]any{
			"old_component_serial": old.SerialNumber,
			"returned_at":          time.Now().UTC(),
		}); err != nil {
			return err
		}
		return m.emit(ctx, tx, enums.EventReservationReturned, row, actor, row.InstalledVIN, &old.SerialNumber)
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// CancelForCaseLineTx releases every unit still waiting on the shelf for the line.
// It refuses when any unit already left the warehouse.
func (m *Manager) CancelForCaseLineTx(ctx context.Context, tx *gorm.DB, caseLineID uuid.UUID, actor auth.Actor) error {
	repo := m.repo.WithTx(tx)
	rows, err := repo.LockByCaseLine(ctx, caseLineID)
	if err != nil {
		return err
	}
	for _, r := range rows {
		if r.Status.Consumed() {
			return pkgerrors.New(pkgerrors.CodeInvalidTransition,
				"a reserved unit was already picked up; use the return flow").
				WithDetails(pkgerrors.TransitionDetails{
					Entity:    Entity,
					Current:   r.Status.String(),
					Attempted: enums.ReservationStatusCancelled.String(),
				})
		}
	}
	if len(rows) == 0 {
		return nil
	}

	counts := map[stock.Key]int{}
	for _, r := range rows {
		counts[stock.Key{WarehouseID: r.WarehouseID, TypeComponentID: r.TypeComponentID}]++
	}
	keys := make([]stock.Key, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	ledger := m.ledger.WithTx(tx)
	for _, k := range keys {
		if err := ledger.Release(ctx, k, counts[k]); err != nil {
			return err
		}
	}

	registry := m.registry.WithTx(tx)
	now := time.Now().UTC()
	for i := range rows {
		unit, err := registry.GetByID(ctx, rows[i].ComponentID)
		if err != nil {
			return err
		}
		if err := registry.Transition(ctx, unit, enums.ComponentStatusInStock, components.Ownership{}); err != nil {
			return err
		}
		if err := repo.UpdateInStatus(ctx, &rows[i], enums.ReservationStatusReserved, enums.ReservationStatusCancelled, map[string]any{
			"cancelled_at": now,
		}); err != nil {
			return err
		}
	}
	return m.lines.WithTx(tx).AddReserved(ctx, caseLineID, -len(rows))
}

func (m *Manager) StatusesForCaseLineTx(ctx context.Context, tx *gorm.DB, caseLineID uuid.UUID) ([]enums.ReservationStatus, error) {
	rows, err := m.repo.WithTx(tx).ListByCaseLine(ctx, caseLineID)
	if err != nil {
		return nil, err
	}
	statuses := make([]enums.ReservationStatus, 0, len(rows))
	for _, r := range rows {
		statuses = append(statuses, r.Status)
	}
	return statuses, nil
}

func (m *Manager) Get(ctx context.Context, reservationID uuid.UUID) (*models.ComponentReservation, error) {
	return m.repo.Get(ctx, reservationID)
}

func (m *Manager) ListByCaseLine(ctx context.Context, caseLineID uuid.UUID) ([]models.ComponentReservation, error) {
	return m.repo.ListByCaseLine(ctx, caseLineID)
}

// ListStale returns reservations still waiting for pickup after age.
func (m *Manager) ListStale(ctx context.Context, age time.Duration, limit int) ([]models.ComponentReservation, error) {
	return m.repo.ListStale(ctx, age, limit)
}

func (m *Manager) emit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, row *models.ComponentReservation, actor auth.Actor, vin, oldSerial *string) error {
	err := m.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateReservation,
		AggregateID:   row.ID,
		Actor:         outbox.RefFor(actor.UserID, actor.Role),
		Data: payloads.ReservationEvent{
			ReservationID: row.ID,
			CaseLineID:    row.CaseLineID,
			ComponentID:   row.ComponentID,
			WarehouseID:   row.WarehouseID,
			Status:        row.Status,
			VehicleVIN:    vin,
			OldSerial:     oldSerial,
		},
	})
	if err != nil {
		return err
	}
	m.metrics.ObserveTransition(Entity, row.Status.String())
	return nil
}

func uniqueSorted(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		if id != uuid.Nil {
			seen[id] = struct{}{}
		}
	}
	return sortedKeys(seen)
}

func sortedKeys(set map[uuid.UUID]struct{}) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
