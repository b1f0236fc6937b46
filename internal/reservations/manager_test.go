package reservations

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/evwarranty/warranty-backend/internal/stock"
	"github.com/evwarranty/warranty-backend/pkg/db/models"
	"github.com/evwarranty/warranty-backend/pkg/enums"
	pkgerrors "github.com/evwarranty/warranty-backend/pkg/errors"
)

func TestCanTransitionIsMonotonic(t *testing.T) {
	order := []enums.ReservationStatus{
		enums.ReservationStatusReserved,
		enums.ReservationStatusPickedUp,
		enums.ReservationStatusInstalled,
		enums.ReservationStatusReturned,
	}
	for i, from := range order {
		for j, to := range order {
			assert.Equal(t, j == i+1, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
	assert.True(t, CanTransition(enums.ReservationStatusReserved, enums.ReservationStatusCancelled))
	assert.False(t, CanTransition(enums.ReservationStatusPickedUp, enums.ReservationStatusCancelled))
	assert.False(t, CanTransition(enums.ReservationStatusCancelled, enums.ReservationStatusReserved))
}

func TestScenarioAAllocateReservesUnits(t *testing.T) {
	h := newHarness(t, nil)
	h.stockUp(t, h.key(), 5)

	line, rows := h.readyLine(t, 3)

	assert.Equal(t, enums.CaseLineStatusReadyForRepair, line.Status)
	assert.Equal(t, 3, line.QuantityReserved)
	row := h.row(t, h.key())
	assert.Equal(t, 5, row.QuantityInStock)
	assert.Equal(t, 3, row.QuantityReserved)

	require.Len(t, rows, 3)
	for _, r := range rows {
		assert.Equal(t, enums.ReservationStatusReserved, r.Status)
		unit, err := h.registry.GetByID(context.Background(), r.ComponentID)
		require.NoError(t, err)
		assert.Equal(t, enums.ComponentStatusReserved, unit.Status)
	}
}

func TestAllocatePrefersRegisteredUnits(t *testing.T) {
	h := newHarness(t, nil)
	wh := h.gc.WarehouseID
	require.NoError(t, h.registry.Create(context.Background(), &models.Component{
		SerialNumber:    "INV-0001",
		TypeComponentID: h.part.ID,
		Status:          enums.ComponentStatusInStock,
		WarehouseID:     &wh,
	}))
	h.stockUp(t, h.key(), 2)

	_, rows := h.readyLine(t, 2)
	serials := map[string]bool{}
	for _, r := range rows {
		unit, err := h.registry.GetByID(context.Background(), r.ComponentID)
		require.NoError(t, err)
		serials[unit.SerialNumber] = true
	}
	assert.True(t, serials["INV-0001"])
	assert.Len(t, serials, 2)
}

func TestScenarioBPickupConsumesStockAndStartsRepair(t *testing.T) {
	h := newHarness(t, nil)
	h.stockUp(t, h.key(), 5)
	line, rows := h.readyLine(t, 3)

	picked, err := h.manager.Pickup(context.Background(), ids(rows), h.tech)
	require.NoError(t, err)
	require.Len(t, picked, 3)
	for _, r := range picked {
		assert.Equal(t, enums.ReservationStatusPickedUp, r.Status)
		require.NotNil(t, r.PickedUpBy)
		assert.Equal(t, h.tech.UserID, *r.PickedUpBy)
		assert.NotNil(t, r.PickedUpAt)
	}

	row := h.row(t, h.key())
	assert.Equal(t, 2, row.QuantityInStock)
	assert.Equal(t, 0, row.QuantityReserved)

	stored, err := h.lines.Get(context.Background(), line.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.CaseLineStatusInRepair, stored.Status)
}

func TestPickupIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	h.stockUp(t, h.key(), 5)
	_, rows := h.readyLine(t, 2)
	ctx := context.Background()

	_, err := h.manager.Pickup(ctx, ids(rows)[:1], h.tech)
	require.NoError(t, err)
	picked, err := h.manager.Pickup(ctx, ids(rows), h.tech)
	require.NoError(t, err)
	again, err := h.manager.Pickup(ctx, ids(rows), h.tech)
	require.NoError(t, err)

	for _, r := range append(picked, again...) {
		assert.Equal(t, enums.ReservationStatusPickedUp, r.Status)
	}
	row := h.row(t, h.key())
	assert.Equal(t, 3, row.QuantityInStock)
	assert.Equal(t, 0, row.QuantityReserved)
}

func TestConcurrentPickupsDecrementOnce(t *testing.T) {
	h := newHarness(t, nil)
	h.stockUp(t, h.key(), 4)
	_, rows := h.readyLine(t, 1)

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			_, err := h.manager.Pickup(context.Background(), ids(rows), h.tech)
			return err
		})
	}
	require.NoError(t, g.Wait())
	row := h.row(t, h.key())
	assert.Equal(t, 3, row.QuantityInStock)
	assert.Equal(t, 0, row.QuantityReserved)
}

func TestPickupUnknownReservation(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.manager.Pickup(context.Background(), []uuid.UUID{uuid.New()}, h.tech)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))

	_, err = h.manager.Pickup(context.Background(), nil, h.tech)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestScenarioCInstallMovesUnitToVehicle(t *testing.T) {
	h := newHarness(t, nil)
	h.stockUp(t, h.key(), 5)
	_, rows := h.readyLine(t, 3)
	ctx := context.Background()
	_, err := h.manager.Pickup(ctx, ids(rows), h.tech)
	require.NoError(t, err)

	r1, err := h.manager.Install(ctx, rows[0].ID, "VIN123", h.tech)
	require.NoError(t, err)
	assert.Equal(t, enums.ReservationStatusInstalled, r1.Status)
	assert.NotNil(t, r1.InstalledAt)

	unit, err := h.registry.GetByID(ctx, r1.ComponentID)
	require.NoError(t, err)
	assert.Equal(t, enums.ComponentStatusInstalled, unit.Status)
	require.NotNil(t, unit.VehicleVIN)
	assert.Equal(t, "VIN123", *unit.VehicleVIN)
	assert.Nil(t, unit.WarehouseID)

	again, err := h.manager.Install(ctx, rows[0].ID, "VIN123", h.tech)
	require.NoError(t, err)
	assert.Equal(t, enums.ReservationStatusInstalled, again.Status)

	_, err = h.manager.Install(ctx, rows[0].ID, "VIN999", h.tech)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidTransition))
}

func TestInstallRetryIgnoresVINCase(t *testing.T) {
	h := newHarness(t, nil)
	h.stockUp(t, h.key(), 1)
	_, rows := h.readyLine(t, 1)
	ctx := context.Background()
	_, err := h.manager.Pickup(ctx, ids(rows), h.tech)
	require.NoError(t, err)

	lower := strings.ToLower(h.gc.VehicleVIN)
	first, err := h.manager.Install(ctx, rows[0].ID, lower, h.tech)
	require.NoError(t, err)
	assert.Equal(t, enums.ReservationStatusInstalled, first.Status)

	again, err := h.manager.Install(ctx, rows[0].ID, lower, h.tech)
	require.NoError(t, err)
	assert.Equal(t, enums.ReservationStatusInstalled, again.Status)
}

func TestInstallRequiresPickupAndCaseVehicle(t *testing.T) {
	h := newHarness(t, nil)
	h.stockUp(t, h.key(), 2)
	_, rows := h.readyLine(t, 1)
	ctx := context.Background()

	_, err := h.manager.Install(ctx, rows[0].ID, "VIN123", h.tech)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidTransition))

	_, err = h.manager.Pickup(ctx, ids(rows), h.tech)
	require.NoError(t, err)
	_, err = h.manager.Install(ctx, rows[0].ID, "OTHER-VIN", h.tech)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestScenarioDReturnOldComponent(t *testing.T) {
	h := newHarness(t, nil)
	h.stockUp(t, h.key(), 5)
	_, rows := h.readyLine(t, 1)
	ctx := context.Background()
	vin := "VIN123"
	require.NoError(t, h.registry.Create(ctx, &models.Component{
		SerialNumber:    "OLD-001",
		TypeComponentID: h.part.ID,
		Status:          enums.ComponentStatusInstalled,
		VehicleVIN:      &vin,
	}))

	_, err := h.manager.Pickup(ctx, ids(rows), h.tech)
	require.NoError(t, err)
	_, err = h.manager.Install(ctx, rows[0].ID, vin, h.tech)
	require.NoError(t, err)

	r1, err := h.manager.ReturnOld(ctx, rows[0].ID, "OLD-001", h.tech)
	require.NoError(t, err)
	assert.Equal(t, enums.ReservationStatusReturned, r1.Status)
	require.NotNil(t, r1.OldComponentSerial)
	assert.Equal(t, "OLD-001", *r1.OldComponentSerial)
	assert.NotNil(t, r1.ReturnedAt)

	old, err := h.registry.GetBySerial(ctx, "OLD-001")
	require.NoError(t, err)
	assert.Equal(t, enums.ComponentStatusReturned, old.Status)
	assert.Nil(t, old.VehicleVIN)
	require.NotNil(t, old.WarehouseID)
	assert.Equal(t, h.gc.WarehouseID, *old.WarehouseID)
}

func TestReturnOldUnknownOrForeignSerial(t *testing.T) {
	h := newHarness(t, nil)
	h.stockUp(t, h.key(), 5)
	_, rows := h.readyLine(t, 1)
	ctx := context.Background()
	other := "VIN777"
	require.NoError(t, h.registry.Create(ctx, &models.Component{
		SerialNumber:    "OLD-777",
		TypeComponentID: h.part.ID,
		Status:          enums.ComponentStatusInstalled,
		VehicleVIN:      &other,
	}))
	_, err := h.manager.Pickup(ctx, ids(rows), h.tech)
	require.NoError(t, err)

	_, err = h.manager.ReturnOld(ctx, rows[0].ID, "OLD-777", h.tech)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidTransition), "return before install")

	_, err = h.manager.Install(ctx, rows[0].ID, "VIN123", h.tech)
	require.NoError(t, err)

	_, err = h.manager.ReturnOld(ctx, rows[0].ID, "NOPE", h.tech)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeComponentNotFound))
	_, err = h.manager.ReturnOld(ctx, rows[0].ID, "OLD-777", h.tech)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeComponentNotFound))
}

func TestScenarioEShortfallLeavesNothingBehind(t *testing.T) {
	h := newHarness(t, nil)
	h.stockUp(t, h.key(), 2)
	line := h.approvedLine(t, 10)
	ctx := context.Background()

	result, err := h.lines.AllocateStock(ctx, line.ID, h.staff)
	require.NoError(t, err)
	require.NotNil(t, result.Shortfall)
	assert.Equal(t, 10, result.Shortfall.Requested)
	assert.Equal(t, 2, result.Shortfall.Available)
	assert.Equal(t, enums.CaseLineStatusApproved, result.Line.Status)

	row := h.row(t, h.key())
	assert.Equal(t, 2, row.QuantityInStock)
	assert.Equal(t, 0, row.QuantityReserved)

	var units, reservations int64
	require.NoError(t, h.conn.Model(&models.Component{}).Count(&units).Error)
	require.NoError(t, h.conn.Model(&models.ComponentReservation{}).Count(&reservations).Error)
	assert.Zero(t, units)
	assert.Zero(t, reservations)
}

func TestAllocateFallsBackToCompanyWarehouse(t *testing.T) {
	h := newHarness(t, LocalFirstSelector{AllowCompanyFallback: true})
	central := &models.Warehouse{Name: "Central", Type: enums.WarehouseTypeCompany}
	require.NoError(t, h.conn.Create(central).Error)
	h.stockUp(t, h.key(), 1)
	centralKey := stock.Key{WarehouseID: central.ID, TypeComponentID: h.part.ID}
	h.stockUp(t, centralKey, 4)

	line := h.approvedLine(t, 3)
	alloc, err := h.manager.Allocate(context.Background(), line.ID, h.part.ID, 3, h.staff)
	require.NoError(t, err)
	require.Nil(t, alloc.Shortfall)
	assert.Equal(t, central.ID, alloc.WarehouseID)
	assert.Len(t, alloc.Reservations, 3)
	assert.Equal(t, 3, h.row(t, centralKey).QuantityReserved)
	assert.Equal(t, 0, h.row(t, h.key()).QuantityReserved)
}

func TestAllocateWithoutFallbackReportsLocalShortfall(t *testing.T) {
	h := newHarness(t, LocalFirstSelector{})
	central := &models.Warehouse{Name: "Central", Type: enums.WarehouseTypeCompany}
	require.NoError(t, h.conn.Create(central).Error)
	h.stockUp(t, stock.Key{WarehouseID: central.ID, TypeComponentID: h.part.ID}, 4)

	line := h.approvedLine(t, 2)
	alloc, err := h.manager.Allocate(context.Background(), line.ID, h.part.ID, 2, h.staff)
	require.NoError(t, err)
	require.NotNil(t, alloc.Shortfall)
	assert.Equal(t, h.gc.WarehouseID, alloc.Shortfall.WarehouseID)
	assert.Equal(t, 0, alloc.Shortfall.Available)
}

func TestAllocateRejectsLinesOutsideApproval(t *testing.T) {
	h := newHarness(t, nil)
	h.stockUp(t, h.key(), 6)
	ctx := context.Background()

	ready, _ := h.readyLine(t, 2)
	_, err := h.manager.Allocate(ctx, ready.ID, h.part.ID, 1, h.staff)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidTransition))

	line := h.approvedLine(t, 2)
	_, err = h.manager.Allocate(ctx, line.ID, uuid.New(), 1, h.staff)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
	_, err = h.manager.Allocate(ctx, line.ID, h.part.ID, 3, h.staff)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	_, err = h.manager.Allocate(ctx, line.ID, h.part.ID, 2, h.staff)
	require.NoError(t, err)
	_, err = h.manager.Allocate(ctx, line.ID, h.part.ID, 1, h.staff)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	var reservations int64
	require.NoError(t, h.conn.Model(&models.ComponentReservation{}).Count(&reservations).Error)
	assert.Equal(t, int64(4), reservations)
	assert.Equal(t, 4, h.row(t, h.key()).QuantityReserved)
}

func TestCancelApprovedLineReleasesDirectAllocation(t *testing.T) {
	h := newHarness(t, nil)
	h.stockUp(t, h.key(), 3)
	line := h.approvedLine(t, 3)
	ctx := context.Background()

	alloc, err := h.manager.Allocate(ctx, line.ID, h.part.ID, 3, h.staff)
	require.NoError(t, err)
	require.Len(t, alloc.Reservations, 3)

	cancelled, err := h.lines.Cancel(ctx, line.ID, "customer declined", h.staff)
	require.NoError(t, err)
	assert.Equal(t, enums.CaseLineStatusCancelled, cancelled.Status)
	assert.Equal(t, 0, cancelled.QuantityReserved)
	assert.Equal(t, 0, h.row(t, h.key()).QuantityReserved)

	for _, r := range alloc.Reservations {
		stored, err := h.manager.Get(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, enums.ReservationStatusCancelled, stored.Status)
	}
}

func TestConcurrentAllocationsNeverOversell(t *testing.T) {
	h := newHarness(t, nil)
	h.stockUp(t, h.key(), 3)
	lines := make([]*models.CaseLine, 6)
	for i := range lines {
		lines[i] = h.approvedLine(t, 1)
	}

	var ready, short atomic.Int32
	var g errgroup.Group
	for _, line := range lines {
		g.Go(func() error {
			result, err := h.lines.AllocateStock(context.Background(), line.ID, h.staff)
			if err != nil {
				return err
			}
			if result.Shortfall != nil {
				short.Add(1)
			} else {
				ready.Add(1)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(3), ready.Load())
	assert.Equal(t, int32(3), short.Load())
	assert.Equal(t, 3, h.row(t, h.key()).QuantityReserved)
}

func TestCompletionGatedOnInstallation(t *testing.T) {
	h := newHarness(t, nil)
	h.stockUp(t, h.key(), 4)
	line, rows := h.readyLine(t, 2)
	ctx := context.Background()
	_, err := h.manager.Pickup(ctx, ids(rows), h.tech)
	require.NoError(t, err)

	_, err = h.lines.MarkRepairComplete(ctx, line.ID, h.tech)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodePrematureCompletion))

	_, err = h.manager.Install(ctx, rows[0].ID, "VIN123", h.tech)
	require.NoError(t, err)
	_, err = h.lines.MarkRepairComplete(ctx, line.ID, h.tech)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodePrematureCompletion))

	_, err = h.manager.Install(ctx, rows[1].ID, "VIN123", h.tech)
	require.NoError(t, err)
	done, err := h.lines.MarkRepairComplete(ctx, line.ID, h.tech)
	require.NoError(t, err)
	assert.Equal(t, enums.CaseLineStatusCompleted, done.Status)
}

func TestCancelReadyLineReleasesStock(t *testing.T) {
	h := newHarness(t, nil)
	h.stockUp(t, h.key(), 4)
	line, rows := h.readyLine(t, 2)
	ctx := context.Background()

	cancelled, err := h.lines.Cancel(ctx, line.ID, "customer declined", h.staff)
	require.NoError(t, err)
	assert.Equal(t, enums.CaseLineStatusCancelled, cancelled.Status)
	assert.Equal(t, 0, cancelled.QuantityReserved)

	row := h.row(t, h.key())
	assert.Equal(t, 4, row.QuantityInStock)
	assert.Equal(t, 0, row.QuantityReserved)

	for _, r := range rows {
		stored, err := h.manager.Get(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, enums.ReservationStatusCancelled, stored.Status)
		assert.NotNil(t, stored.CancelledAt)
		unit, err := h.registry.GetByID(ctx, r.ComponentID)
		require.NoError(t, err)
		assert.Equal(t, enums.ComponentStatusInStock, unit.Status)
	}

	_, err = h.manager.Pickup(ctx, ids(rows), h.tech)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidTransition))
}

func TestCancelAfterPickupIsRefused(t *testing.T) {
	h := newHarness(t, nil)
	h.stockUp(t, h.key(), 4)
	_, rows := h.readyLine(t, 2)
	ctx := context.Background()
	_, err := h.manager.Pickup(ctx, ids(rows)[:1], h.tech)
	require.NoError(t, err)

	err = h.manager.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return h.manager.CancelForCaseLineTx(ctx, tx, rows[0].CaseLineID, h.staff)
	})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidTransition))
	assert.Equal(t, 1, h.row(t, h.key()).QuantityReserved)
}

func TestListStale(t *testing.T) {
	h := newHarness(t, nil)
	h.stockUp(t, h.key(), 2)
	_, rows := h.readyLine(t, 1)

	stale, err := h.manager.ListStale(context.Background(), -time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, rows[0].ID, stale[0].ID)

	none, err := h.manager.ListStale(context.Background(), time.Hour, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}
