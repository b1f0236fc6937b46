package components

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/evwarranty/warranty-backend/internal/stock"
	dbpkg "github.com/evwarranty/warranty-backend/pkg/db"
	"github.com/evwarranty/warranty-backend/pkg/db/models"
	"github.com/evwarranty/warranty-backend/pkg/enums"
	pkgerrors "github.com/evwarranty/warranty-backend/pkg/errors"
	"github.com/evwarranty/warranty-backend/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// RegisterInput describes a unit entering the registry. A unit either arrives at a
// warehouse or is recorded as factory-installed on a vehicle.
type RegisterInput struct {
	SerialNumber    string
	TypeComponentID uuid.UUID
	WarehouseID     *uuid.UUID
	VehicleVIN      *string
}

func (in RegisterInput) validate() error {
	if strings.TrimSpace(in.SerialNumber) == "" {
		return pkgerrors.Validation("serial number is required")
	}
	if in.TypeComponentID == uuid.Nil {
		return pkgerrors.Validation("type component id is required")
	}
	hasWarehouse := in.WarehouseID != nil && *in.WarehouseID != uuid.Nil
	hasVehicle := in.VehicleVIN != nil && strings.TrimSpace(*in.VehicleVIN) != ""
	if hasWarehouse == hasVehicle {
		return pkgerrors.Validation("exactly one of warehouse or vehicle must own the component")
	}
	return nil
}

type Service interface {
	Register(ctx context.Context, input RegisterInput) (*models.Component, error)
	MarkDefective(ctx context.Context, serial string) (*models.Component, error)
	GetBySerial(ctx context.Context, serial string) (*models.Component, error)
	ListByWarehouse(ctx context.Context, warehouseID uuid.UUID, status *enums.ComponentStatus) ([]models.Component, error)
	ListInstalledOnVehicle(ctx context.Context, vin string) ([]models.Component, error)
}

type service struct {
	registry *Registry
	ledger   *stock.Ledger
	tx       txRunner
	logg     *logger.Logger
}

func NewService(registry *Registry, ledger *stock.Ledger, tx txRunner, logg *logger.Logger) (Service, error) {
	if registry == nil {
		return nil, fmt.Errorf("component registry required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("stock ledger required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{registry: registry, ledger: ledger, tx: tx, logg: logg}, nil
}

// Register records a unit. A warehouse receipt also books one unit into the ledger.
func (s *service) Register(ctx context.Context, input RegisterInput) (*models.Component, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	component := &models.Component{
		SerialNumber:    strings.TrimSpace(input.SerialNumber),
		TypeComponentID: input.TypeComponentID,
	}
	if input.WarehouseID != nil {
		wh := *input.WarehouseID
		component.WarehouseID = &wh
		component.Status = enums.ComponentStatusInStock
	} else {
		vin := strings.TrimSpace(*input.VehicleVIN)
		component.VehicleVIN = &vin
		component.Status = enums.ComponentStatusInstalled
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.registry.WithTx(tx).Create(ctx, component); err != nil {
			return err
		}
		if component.WarehouseID == nil {
			return nil
		}
		key := stock.Key{WarehouseID: *component.WarehouseID, TypeComponentID: component.TypeComponentID}
		return s.ledger.WithTx(tx).Receive(ctx, key, 1)
	})
	if err != nil {
		return nil, err
	}
	return component, nil
}

// MarkDefective takes a unit out of service. An IN_STOCK unit is written off its
// warehouse's ledger row; an INSTALLED unit stays on the vehicle until returned.
func (s *service) MarkDefective(ctx context.Context, serial string) (*models.Component, error) {
	var component *models.Component
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		registry := s.registry.WithTx(tx)
		var err error
		component, err = registry.LockBySerial(ctx, serial)
		if err != nil {
			return err
		}
		wasInStock := component.Status == enums.ComponentStatusInStock
		if err := registry.Transition(ctx, component, enums.ComponentStatusDefective, Ownership{}); err != nil {
			return err
		}
		if !wasInStock || component.WarehouseID == nil {
			return nil
		}

		ledger := s.ledger.WithTx(tx)
		key := stock.Key{WarehouseID: *component.WarehouseID, TypeComponentID: component.TypeComponentID}
		short, err := ledger.Reserve(ctx, key, 1)
		if err != nil {
			return err
		}
		if short != nil {
			return short.Err()
		}
		return ledger.Consume(ctx, key, 1)
	})
	if err != nil {
		return nil, err
	}
	if s.logg != nil {
		logCtx := s.logg.WithField(ctx, "serial_number", component.SerialNumber)
		s.logg.Warn(logCtx, "component marked defective")
	}
	return component, nil
}

func (s *service) GetBySerial(ctx context.Context, serial string) (*models.Component, error) {
	return s.registry.GetBySerial(ctx, serial)
}

func (s *service) ListByWarehouse(ctx context.Context, warehouseID uuid.UUID, status *enums.ComponentStatus) ([]models.Component, error) {
	return s.registry.ListByWarehouse(ctx, warehouseID, status)
}

func (s *service) ListInstalledOnVehicle(ctx context.Context, vin string) ([]models.Component, error) {
	return s.registry.ListInstalledOnVehicle(ctx, vin)
}

func isDuplicateSerial(err error) bool {
	return dbpkg.IsUniqueViolation(err, "")
}
