package transfers

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/evwarranty/warranty-backend/internal/stock"
	"github.com/evwarranty/warranty-backend/pkg/auth"
	"github.com/evwarranty/warranty-backend/pkg/db/dbtest"
	"github.com/evwarranty/warranty-backend/pkg/db/models"
	"github.com/evwarranty/warranty-backend/pkg/enums"
	pkgerrors "github.com/evwarranty/warranty-backend/pkg/errors"
	"github.com/evwarranty/warranty-backend/pkg/logger"
	"github.com/evwarranty/warranty-backend/pkg/outbox"
)

type fixture struct {
	conn    *gorm.DB
	svc     Service
	ledger  *stock.Ledger
	local   *models.Warehouse
	central *models.Warehouse
	part    *models.TypeComponent
	staff   auth.Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	client, conn := dbtest.Client(t)
	f := &fixture{
		conn:   conn,
		ledger: stock.NewLedger(conn),
		staff:  auth.Actor{UserID: uuid.New(), Role: enums.ActorRoleStaff},
	}
	svc, err := NewService(ServiceParams{
		Repo:   NewRepository(conn),
		Ledger: f.ledger,
		Tx:     client,
		Outbox: outbox.NewService(outbox.NewRepository(conn), logger.Nop()),
		Logger: logger.Nop(),
	})
	require.NoError(t, err)
	f.svc = svc

	f.local = &models.Warehouse{Name: "SC South", Type: enums.WarehouseTypeServiceCenter}
	f.central = &models.Warehouse{Name: "Central", Type: enums.WarehouseTypeCompany}
	require.NoError(t, conn.Create(f.local).Error)
	require.NoError(t, conn.Create(f.central).Error)

	f.part = &models.TypeComponent{Code: "BMS-01", Name: "Battery management board", UnitPrice: decimal.NewFromInt(300)}
	require.NoError(t, conn.Create(f.part).Error)
	return f
}

func (f *fixture) key(wh *models.Warehouse) stock.Key {
	return stock.Key{WarehouseID: wh.ID, TypeComponentID: f.part.ID}
}

func (f *fixture) row(t *testing.T, wh *models.Warehouse) *models.StockRow {
	t.Helper()
	row, err := f.ledger.Get(context.Background(), f.key(wh))
	require.NoError(t, err)
	return row
}

func (f *fixture) create(t *testing.T, qty int) *models.TransferRequest {
	t.Helper()
	req, err := f.svc.Create(context.Background(), CreateInput{
		RequestingWarehouseID: f.local.ID,
		Items:                 []ItemInput{{TypeComponentID: f.part.ID, Quantity: qty}},
		Actor:                 f.staff,
	})
	require.NoError(t, err)
	return req
}

func (f *fixture) approved(t *testing.T, qty int) *models.TransferRequest {
	t.Helper()
	req := f.create(t, qty)
	req, err := f.svc.Approve(context.Background(), req.ID, ApproveInput{SourcingWarehouseID: &f.central.ID, Actor: f.staff})
	require.NoError(t, err)
	return req
}

func eta() time.Time {
	return time.Now().UTC().Add(48 * time.Hour)
}

func TestTransferLifecycleMovesStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ledger.Receive(ctx, f.key(f.central), 5))

	req := f.approved(t, 3)
	assert.Equal(t, enums.TransferStatusApproved, req.Status)
	require.NotNil(t, req.SourcingWarehouseID)
	assert.Equal(t, 3, req.Items[0].QuantityApproved)

	req, err := f.svc.Ship(ctx, req.ID, eta(), f.staff)
	require.NoError(t, err)
	assert.Equal(t, enums.TransferStatusShipped, req.Status)
	src := f.row(t, f.central)
	assert.Equal(t, 2, src.QuantityInStock)
	assert.Equal(t, 3, src.QuantityInTransit)

	req, err = f.svc.Receive(ctx, req.ID, f.staff)
	require.NoError(t, err)
	assert.Equal(t, enums.TransferStatusReceived, req.Status)
	assert.NotNil(t, req.ReceivedAt)

	src = f.row(t, f.central)
	assert.Equal(t, 2, src.QuantityInStock)
	assert.Zero(t, src.QuantityInTransit)
	assert.Equal(t, 3, f.row(t, f.local).QuantityInStock)

	var events int64
	require.NoError(t, f.conn.Model(&models.OutboxEvent{}).
		Where("aggregate_id = ?", req.ID).Count(&events).Error)
	assert.Equal(t, int64(4), events)
}

func TestShipShortfallLeavesRequestApproved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ledger.Receive(ctx, f.key(f.central), 1))

	req := f.approved(t, 2)
	_, err := f.svc.Ship(ctx, req.ID, eta(), f.staff)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInsufficientStock))

	current, err := f.svc.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.TransferStatusApproved, current.Status)
	src := f.row(t, f.central)
	assert.Equal(t, 1, src.QuantityInStock)
	assert.Zero(t, src.QuantityInTransit)
}

func TestCancelAfterShipReturnsUnitsToSource(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ledger.Receive(ctx, f.key(f.central), 4))

	req := f.approved(t, 4)
	_, err := f.svc.Ship(ctx, req.ID, eta(), f.staff)
	require.NoError(t, err)

	req, err = f.svc.Cancel(ctx, req.ID, "truck broke down", f.staff)
	require.NoError(t, err)
	assert.Equal(t, enums.TransferStatusCancelled, req.Status)

	src := f.row(t, f.central)
	assert.Equal(t, 4, src.QuantityInStock)
	assert.Zero(t, src.QuantityInTransit)

	_, err = f.svc.Receive(ctx, req.ID, f.staff)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidTransition))
}

func TestApprovePartialQuantity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.create(t, 5)
	itemID := req.Items[0].ID

	_, err := f.svc.Approve(ctx, req.ID, ApproveInput{
		SourcingWarehouseID: &f.central.ID,
		Quantities:          map[uuid.UUID]int{itemID: 6},
		Actor:               f.staff,
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	req, err = f.svc.Approve(ctx, req.ID, ApproveInput{
		SourcingWarehouseID: &f.central.ID,
		Quantities:          map[uuid.UUID]int{itemID: 2},
		Actor:               f.staff,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, req.Items[0].QuantityApproved)
	assert.Equal(t, 5, req.Items[0].QuantityRequested)
}

func TestApproveRejectsRequesterAsSource(t *testing.T) {
	f := newFixture(t)
	req := f.create(t, 1)
	_, err := f.svc.Approve(context.Background(), req.ID, ApproveInput{SourcingWarehouseID: &f.local.ID, Actor: f.staff})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestApproveSelectsBestCompanyWarehouse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := &models.Warehouse{Name: "Overflow", Type: enums.WarehouseTypeCompany}
	require.NoError(t, f.conn.Create(other).Error)
	require.NoError(t, f.ledger.Receive(ctx, f.key(f.central), 1))
	require.NoError(t, f.ledger.Receive(ctx, f.key(other), 3))

	req := f.create(t, 3)
	req, err := f.svc.Approve(ctx, req.ID, ApproveInput{Actor: f.staff})
	require.NoError(t, err)
	require.NotNil(t, req.SourcingWarehouseID)
	assert.Equal(t, other.ID, *req.SourcingWarehouseID)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := map[string]CreateInput{
		"no items":      {RequestingWarehouseID: f.local.ID},
		"zero quantity": {RequestingWarehouseID: f.local.ID, Items: []ItemInput{{TypeComponentID: f.part.ID}}},
		"duplicate type": {RequestingWarehouseID: f.local.ID, Items: []ItemInput{
			{TypeComponentID: f.part.ID, Quantity: 1},
			{TypeComponentID: f.part.ID, Quantity: 2},
		}},
		"unknown type": {RequestingWarehouseID: f.local.ID, Items: []ItemInput{{TypeComponentID: uuid.New(), Quantity: 1}}},
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			input.Actor = f.staff
			_, err := f.svc.Create(ctx, input)
			require.Error(t, err)
			assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
		})
	}

	_, err := f.svc.Create(ctx, CreateInput{
		RequestingWarehouseID: uuid.New(),
		Items:                 []ItemInput{{TypeComponentID: f.part.ID, Quantity: 1}},
		Actor:                 f.staff,
	})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
}

func TestRejectNeedsReasonAndIsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.create(t, 1)

	_, err := f.svc.Reject(ctx, req.ID, "  ", f.staff)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	req, err = f.svc.Reject(ctx, req.ID, "stock is being recalled", f.staff)
	require.NoError(t, err)
	assert.Equal(t, enums.TransferStatusRejected, req.Status)
	require.NotNil(t, req.Reason)

	_, err = f.svc.Approve(ctx, req.ID, ApproveInput{SourcingWarehouseID: &f.central.ID, Actor: f.staff})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidTransition))
}

func TestShipRequiresApprovalAndDeliveryDate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.create(t, 1)

	_, err := f.svc.Ship(ctx, req.ID, eta(), f.staff)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidTransition))

	req = f.approved(t, 1)
	_, err = f.svc.Ship(ctx, req.ID, time.Time{}, f.staff)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
	_, err = f.svc.Ship(ctx, req.ID, time.Now().UTC().Add(-72*time.Hour), f.staff)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestListByWarehouseCoversBothSides(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.approved(t, 1)
	f.create(t, 2)

	mine, err := f.svc.ListByWarehouse(ctx, f.local.ID, nil)
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	sourcing, err := f.svc.ListByWarehouse(ctx, f.central.ID, nil)
	require.NoError(t, err)
	assert.Len(t, sourcing, 1)

	pending := enums.TransferStatusPendingApproval
	filtered, err := f.svc.ListByWarehouse(ctx, f.local.ID, &pending)
	require.NoError(t, err)
	assert.Len(t, filtered, 1)
}

func TestMachineAllowsOnlyDocumentedEdges(t *testing.T) {
	assert.True(t, CanTransition(enums.TransferStatusShipped, enums.TransferStatusCancelled))
	assert.False(t, CanTransition(enums.TransferStatusReceived, enums.TransferStatusCancelled))
	assert.False(t, CanTransition(enums.TransferStatusPendingApproval, enums.TransferStatusShipped))
	assert.False(t, CanTransition(enums.TransferStatusRejected, enums.TransferStatusApproved))
}

func TestOpenForCaseLineIgnoresFinishedRequests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lineID := uuid.New()

	open, err := f.svc.Create(ctx, CreateInput{
		RequestingWarehouseID: f.local.ID,
		Items:                 []ItemInput{{TypeComponentID: f.part.ID, Quantity: 1, CaseLineID: &lineID}},
		Actor:                 f.staff,
	})
	require.NoError(t, err)
	closed, err := f.svc.Create(ctx, CreateInput{
		RequestingWarehouseID: f.local.ID,
		Items:                 []ItemInput{{TypeComponentID: f.part.ID, Quantity: 1, CaseLineID: &lineID}},
		Actor:                 f.staff,
	})
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, closed.ID, "duplicate", f.staff)
	require.NoError(t, err)
	f.create(t, 1)

	rows, err := f.svc.OpenForCaseLine(ctx, lineID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, open.ID, rows[0].ID)
}
