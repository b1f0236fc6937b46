package reservations

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/evwarranty/warranty-backend/internal/caselines"
	"github.com/evwarranty/warranty-backend/internal/components"
	"github.com/evwarranty/warranty-backend/internal/stock"
	"github.com/evwarranty/warranty-backend/pkg/auth"
	"github.com/evwarranty/warranty-backend/pkg/db/dbtest"
	"github.com/evwarranty/warranty-backend/pkg/db/models"
	"github.com/evwarranty/warranty-backend/pkg/enums"
	"github.com/evwarranty/warranty-backend/pkg/logger"
	"github.com/evwarranty/warranty-backend/pkg/outbox"
)

type harness struct {
	conn     *gorm.DB
	ledger   *stock.Ledger
	registry *components.Registry
	manager  *Manager
	lines    caselines.Service
	part     *models.TypeComponent
	gc       *models.GuaranteeCase
	staff    auth.Actor
	tech     auth.Actor
}

func newHarness(t *testing.T, selector WarehouseSelector) *harness {
	t.Helper()
	client, conn := dbtest.Client(t)
	emitter := outbox.NewService(outbox.NewRepository(conn), logger.Nop())
	lineRepo := caselines.NewRepository(conn)
	transitions, err := caselines.NewTransitioner(lineRepo, emitter, nil)
	require.NoError(t, err)

	h := &harness{
		conn:     conn,
		ledger:   stock.NewLedger(conn),
		registry: components.NewRegistry(conn),
		staff:    auth.Actor{UserID: uuid.New(), Role: enums.ActorRoleManager},
		tech:     auth.Actor{UserID: uuid.New(), Role: enums.ActorRoleTechnician},
	}
	h.manager, err = NewManager(ManagerParams{
		Repo:        NewRepository(conn),
		Ledger:      h.ledger,
		Registry:    h.registry,
		Lines:       lineRepo,
		Transitions: transitions,
		Selector:    selector,
		Outbox:      emitter,
		Tx:          client,
		Logger:      logger.Nop(),
	})
	require.NoError(t, err)

	h.lines, err = caselines.NewService(caselines.ServiceParams{
		Repo:        lineRepo,
		Tx:          client,
		Transitions: transitions,
		Allocator:   h.manager,
		Outbox:      emitter,
		Logger:      logger.Nop(),
	})
	require.NoError(t, err)

	h.part = &models.TypeComponent{Code: "INV-200", Name: "Inverter", UnitPrice: decimal.NewFromInt(900)}
	require.NoError(t, conn.Create(h.part).Error)

	local := &models.Warehouse{Name: "SC North", Type: enums.WarehouseTypeServiceCenter}
	require.NoError(t, conn.Create(local).Error)

	h.gc, err = h.lines.CreateCase(context.Background(), caselines.CreateCaseInput{
		VehicleVIN:      "VIN123",
		ServiceCenterID: uuid.New(),
		WarehouseID:     local.ID,
		Actor:           h.staff,
	})
	require.NoError(t, err)
	return h
}

func (h *harness) key() stock.Key {
	return stock.Key{WarehouseID: h.gc.WarehouseID, TypeComponentID: h.part.ID}
}

func (h *harness) stockUp(t *testing.T, key stock.Key, qty int) {
	t.Helper()
	require.NoError(t, h.ledger.Receive(context.Background(), key, qty))
}

func (h *harness) row(t *testing.T, key stock.Key) *models.StockRow {
	t.Helper()
	row, err := h.ledger.Get(context.Background(), key)
	require.NoError(t, err)
	return row
}

// approvedLine walks a new line to APPROVED.
func (h *harness) approvedLine(t *testing.T, qty int) *models.CaseLine {
	t.Helper()
	ctx := context.Background()
	eligible := enums.WarrantyStatusEligible
	line, err := h.lines.CreateLine(ctx, caselines.CreateLineInput{
		CaseID:          h.gc.ID,
		DiagnosisText:   "inverter fault code P0A94",
		TypeComponentID: &h.part.ID,
		Quantity:        qty,
		WarrantyStatus:  &eligible,
		Actor:           h.tech,
	})
	require.NoError(t, err)
	_, err = h.lines.SubmitForApproval(ctx, line.ID, h.tech)
	require.NoError(t, err)
	line, err = h.lines.Approve(ctx, line.ID, h.staff)
	require.NoError(t, err)
	return line
}

// readyLine walks a new line to READY_FOR_REPAIR and returns its reservations.
func (h *harness) readyLine(t *testing.T, qty int) (*models.CaseLine, []models.ComponentReservation) {
	t.Helper()
	line := h.approvedLine(t, qty)
	result, err := h.lines.AllocateStock(context.Background(), line.ID, h.staff)
	require.NoError(t, err)
	require.Nil(t, result.Shortfall)
	rows, err := h.manager.ListByCaseLine(context.Background(), line.ID)
	require.NoError(t, err)
	return result.Line, rows
}

func ids(rows []models.ComponentReservation) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.ID)
	}
	return out
}
