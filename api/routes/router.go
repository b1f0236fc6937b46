package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/evwarranty/warranty-backend/api/controllers"
	"github.com/evwarranty/warranty-backend/api/middleware"
	"github.com/evwarranty/warranty-backend/internal/caselines"
	"github.com/evwarranty/warranty-backend/internal/components"
	"github.com/evwarranty/warranty-backend/internal/stock"
	"github.com/evwarranty/warranty-backend/internal/transfers"
	"github.com/evwarranty/warranty-backend/pkg/config"
	"github.com/evwarranty/warranty-backend/pkg/logger"
	"github.com/evwarranty/warranty-backend/pkg/redis"
)

// Orchestrator is the cross-workflow surface the API drives.
type Orchestrator interface {
	controllers.LineOrchestrator
	controllers.TransferOrchestrator
}

// Deps groups everything the HTTP surface calls into.
type Deps struct {
	Lines        caselines.Service
	Reservations controllers.ReservationService
	Transfers    transfers.Service
	Stock        stock.Service
	Components   components.Service
	Orchestrator Orchestrator
	Idempotency  redis.IdempotencyStore
	Readiness    map[string]controllers.Pinger
	// MetricsHandler defaults to the global prometheus registry.
	MetricsHandler http.Handler
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSAllowedOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.Readiness))
	})

	metrics := deps.MetricsHandler
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	r.Method(http.MethodGet, "/metrics", metrics)

	idem := middleware.Idempotency(deps.Idempotency, cfg.Eventing.IdempotencyTTL, logg)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Route("/cases", func(r chi.Router) {
			r.Post("/", controllers.CaseCreate(deps.Lines, logg))
			r.Get("/{caseId}", controllers.CaseGet(deps.Lines, logg))
			r.Get("/{caseId}/lines", controllers.CaseLinesList(deps.Lines, logg))
			r.Post("/{caseId}/lines", controllers.CaseLineCreate(deps.Lines, logg))
		})

		r.Route("/lines/{lineId}", func(r chi.Router) {
			r.Get("/", controllers.CaseLineGet(deps.Lines, logg))
			r.Patch("/", controllers.CaseLineUpdate(deps.Lines, logg))
			r.Post("/submit", controllers.CaseLineSubmit(deps.Lines, logg))
			r.Post("/approve", controllers.CaseLineApprove(deps.Orchestrator, logg))
			r.Post("/reject", controllers.CaseLineReject(deps.Lines, logg))
			r.Post("/allocate", controllers.CaseLineAllocate(deps.Orchestrator, logg))
			r.Post("/start-repair", controllers.CaseLineStartRepair(deps.Lines, logg))
			r.Post("/complete", controllers.CaseLineComplete(deps.Lines, logg))
			r.Post("/cancel", controllers.CaseLineCancel(deps.Lines, logg))
			r.Get("/reservations", controllers.CaseLineReservations(deps.Reservations, logg))
		})

		r.Route("/reservations", func(r chi.Router) {
			r.With(idem).Post("/pickup", controllers.ReservationsPickup(deps.Reservations, logg))
			r.Get("/stale", controllers.ReservationsStale(deps.Reservations, cfg.Workflow.StaleReservationAge, logg))
			r.Get("/{reservationId}", controllers.ReservationGet(deps.Reservations, logg))
			r.With(idem).Post("/{reservationId}/install", controllers.ReservationInstall(deps.Reservations, logg))
			r.With(idem).Post("/{reservationId}/return-old", controllers.ReservationReturnOld(deps.Reservations, logg))
		})

		r.Route("/transfers", func(r chi.Router) {
			r.Post("/", controllers.TransferCreate(deps.Transfers, logg))
			r.Get("/{transferId}", controllers.TransferGet(deps.Transfers, logg))
			r.Post("/{transferId}/approve", controllers.TransferApprove(deps.Transfers, logg))
			r.Post("/{transferId}/reject", controllers.TransferReject(deps.Transfers, logg))
			r.Post("/{transferId}/cancel", controllers.TransferCancel(deps.Transfers, logg))
			r.Post("/{transferId}/ship", controllers.TransferShip(deps.Transfers, logg))
			r.With(idem).Post("/{transferId}/receive", controllers.TransferReceive(deps.Orchestrator, logg))
		})

		r.Route("/warehouses/{warehouseId}", func(r chi.Router) {
			r.Get("/stock", controllers.WarehouseStock(deps.Stock, logg))
			r.With(idem).Post("/stock/receipts", controllers.StockReceive(deps.Stock, logg))
			r.Get("/transfers", controllers.WarehouseTransfers(deps.Transfers, logg))
			r.Get("/components", controllers.WarehouseComponents(deps.Components, logg))
		})

		r.Route("/components", func(r chi.Router) {
			r.Post("/", controllers.ComponentRegister(deps.Components, logg))
			r.Get("/{serial}", controllers.ComponentGet(deps.Components, logg))
			r.Post("/{serial}/defective", controllers.ComponentMarkDefective(deps.Components, logg))
		})

		r.Get("/vehicles/{vin}/components", controllers.VehicleComponents(deps.Components, logg))
	})

	return r
}
