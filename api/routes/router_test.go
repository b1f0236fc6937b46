package routes

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evwarranty/warranty-backend/internal/caselines"
	"github.com/evwarranty/warranty-backend/internal/components"
	"github.com/evwarranty/warranty-backend/internal/reservations"
	"github.com/evwarranty/warranty-backend/internal/stock"
	"github.com/evwarranty/warranty-backend/internal/transfers"
	"github.com/evwarranty/warranty-backend/internal/workflow"
	"github.com/evwarranty/warranty-backend/pkg/auth"
	"github.com/evwarranty/warranty-backend/pkg/config"
	"github.com/evwarranty/warranty-backend/pkg/db/dbtest"
	"github.com/evwarranty/warranty-backend/pkg/db/models"
	"github.com/evwarranty/warranty-backend/pkg/enums"
	"github.com/evwarranty/warranty-backend/pkg/logger"
	"github.com/evwarranty/warranty-backend/pkg/outbox"
)

type apiEnv struct {
	handler   http.Handler
	token     string
	warehouse *models.Warehouse
	part      *models.TypeComponent
}

func testConfig() *config.Config {
	return &config.Config{
		App:      config.AppConfig{Env: "test", CORSAllowedOrigins: []string{"http://localhost:3000"}},
		JWT:      config.JWTConfig{Secret: "router-secret", Issuer: "warranty-idp"},
		Eventing: config.EventingConfig{IdempotencyTTL: time.Hour},
		Workflow: config.WorkflowConfig{StaleReservationAge: 72 * time.Hour},
	}
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	cfg := testConfig()
	client, conn := dbtest.Client(t)
	logg := logger.Nop()

	emitter := outbox.NewService(outbox.NewRepository(conn), logg)
	ledger := stock.NewLedger(conn)
	registry := components.NewRegistry(conn)
	lineRepo := caselines.NewRepository(conn)
	transitions, err := caselines.NewTransitioner(lineRepo, emitter, nil)
	require.NoError(t, err)

	manager, err := reservations.NewManager(reservations.ManagerParams{
		Repo:        reservations.NewRepository(conn),
		Ledger:      ledger,
		Registry:    registry,
		Lines:       lineRepo,
		Transitions: transitions,
		Selector:    reservations.LocalFirstSelector{},
		Outbox:      emitter,
		Tx:          client,
	})
	require.NoError(t, err)
	lines, err := caselines.NewService(caselines.ServiceParams{
		Repo:        lineRepo,
		Tx:          client,
		Transitions: transitions,
		Allocator:   manager,
		Outbox:      emitter,
	})
	require.NoError(t, err)
	transferSvc, err := transfers.NewService(transfers.ServiceParams{
		Repo:   transfers.NewRepository(conn),
		Ledger: ledger,
		Tx:     client,
		Outbox: emitter,
	})
	require.NoError(t, err)
	stockSvc, err := stock.NewService(ledger, client, logg)
	require.NoError(t, err)
	componentSvc, err := components.NewService(registry, ledger, client, logg)
	require.NoError(t, err)
	orch, err := workflow.New(workflow.Params{Lines: lines, Transfers: transferSvc})
	require.NoError(t, err)

	env := &apiEnv{
		warehouse: &models.Warehouse{Name: "SC North", Type: enums.WarehouseTypeServiceCenter},
		part:      &models.TypeComponent{Code: "BMS-2", Name: "Battery management board", UnitPrice: decimal.NewFromInt(900)},
	}
	require.NoError(t, conn.Create(env.warehouse).Error)
	require.NoError(t, conn.Create(env.part).Error)

	env.handler = NewRouter(cfg, logg, Deps{
		Lines:        lines,
		Reservations: manager,
		Transfers:    transferSvc,
		Stock:        stockSvc,
		Components:   componentSvc,
		Orchestrator: orch,
	})
	env.token, err = auth.MintAccessToken(cfg.JWT, time.Now(), time.Hour, auth.AccessTokenPayload{
		UserID: uuid.New(),
		Role:   enums.ActorRolePartsCoordinator,
	})
	require.NoError(t, err)
	return env
}

func (e *apiEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+e.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", uuid.NewString())
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	envelope := struct {
		Data json.RawMessage `json:"data"`
	}{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope), rec.Body.String())
	require.NoError(t, json.Unmarshal(envelope.Data, dest))
}

func TestHealthLiveNeedsNoToken(t *testing.T) {
	env := newAPIEnv(t)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "test", rec.Header().Get("X-Warranty-Env"))
}

func TestAPIRejectsMissingToken(t *testing.T) {
	env := newAPIEnv(t)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/cases/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCaseLineHappyPathOverHTTP(t *testing.T) {
	env := newAPIEnv(t)
	whPath := "/api/v1/warehouses/" + env.warehouse.ID.String()

	rec := env.do(t, http.MethodPost, whPath+"/stock/receipts", map[string]any{
		"type_component_id": env.part.ID.String(),
		"quantity":          3,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/v1/cases", map[string]any{
		"vehicle_vin":       "5yj3e1ea7kf000002",
		"service_center_id": uuid.NewString(),
		"warehouse_id":      env.warehouse.ID.String(),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var gc struct {
		ID         uuid.UUID `json:"id"`
		VehicleVIN string    `json:"vehicle_vin"`
	}
	decodeData(t, rec, &gc)
	assert.Equal(t, "5YJ3E1EA7KF000002", gc.VehicleVIN)

	rec = env.do(t, http.MethodPost, "/api/v1/cases/"+gc.ID.String()+"/lines", map[string]any{
		"diagnosis_text":    "cell imbalance warning",
		"type_component_id": env.part.ID.String(),
		"quantity":          2,
		"warranty_status":   "ELIGIBLE",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var line struct {
		ID     uuid.UUID            `json:"id"`
		Status enums.CaseLineStatus `json:"status"`
	}
	decodeData(t, rec, &line)
	assert.Equal(t, enums.CaseLineStatusDraft, line.Status)

	linePath := "/api/v1/lines/" + line.ID.String()
	rec = env.do(t, http.MethodPost, linePath+"/approve", nil)
	require.Equal(t, http.StatusConflict, rec.Code, "draft lines cannot be approved")

	rec = env.do(t, http.MethodPost, linePath+"/submit", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, linePath+"/approve", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var outcome struct {
		Line struct {
			Status           enums.CaseLineStatus `json:"status"`
			QuantityReserved int                  `json:"quantity_reserved"`
		} `json:"line"`
		Shortfall *json.RawMessage `json:"shortfall"`
	}
	decodeData(t, rec, &outcome)
	assert.Equal(t, enums.CaseLineStatusReadyForRepair, outcome.Line.Status)
	assert.Equal(t, 2, outcome.Line.QuantityReserved)
	assert.Nil(t, outcome.Shortfall)

	rec = env.do(t, http.MethodGet, linePath+"/reservations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var held []struct {
		ID     uuid.UUID               `json:"id"`
		Status enums.ReservationStatus `json:"status"`
	}
	decodeData(t, rec, &held)
	require.Len(t, held, 2)

	ids := []string{held[0].ID.String(), held[1].ID.String()}
	rec = env.do(t, http.MethodPost, "/api/v1/reservations/pickup", map[string]any{"reservation_ids": ids})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decodeData(t, rec, &held)
	for _, r := range held {
		assert.Equal(t, enums.ReservationStatusPickedUp, r.Status)
	}

	rec = env.do(t, http.MethodGet, whPath+"/stock", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rows []struct {
		QuantityInStock   int `json:"quantity_in_stock"`
		QuantityAvailable int `json:"quantity_available"`
	}
	decodeData(t, rec, &rows)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].QuantityAvailable)
}

func TestStockReceiptValidatesBody(t *testing.T) {
	env := newAPIEnv(t)
	rec := env.do(t, http.MethodPost, "/api/v1/warehouses/"+env.warehouse.ID.String()+"/stock/receipts", map[string]any{
		"type_component_id": env.part.ID.String(),
		"quantity":          0,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMalformedPathIDIsValidationError(t *testing.T) {
	env := newAPIEnv(t)
	rec := env.do(t, http.MethodGet, "/api/v1/lines/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
