package db

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/evwarranty/warranty-backend/pkg/config"
	"github.com/evwarranty/warranty-backend/pkg/logger"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Client wraps the shared GORM connection.
type Client struct {
	conn        *gorm.DB
	lockTimeout time.Duration
}

// Pinger exposes the health check surface.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options tweak how New opens the connection.
type Options struct {
	UseSQLite   bool
	LockTimeout time.Duration
}

// New boots a GORM client using the provided configuration.
func New(ctx context.Context, cfg config.DBConfig, opts Options, logg *logger.Logger) (*Client, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	var dialector gorm.Dialector
	if opts.UseSQLite {
		dialector = sqlite.Open(cfg.DSN)
	} else {
		dialector = postgres.New(postgres.Config{
			DSN:                  cfg.DSN,
			PreferSimpleProtocol: true,
		})
	}

	conn, err := gorm.Open(dialector, gormConfig())
	if err != nil {
		return nil, fmt.Errorf("opening db connection: %w", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql db handle: %w", err)
	}

	applyPoolSettings(sqlDB, cfg, opts.UseSQLite)

	if logg != nil {
		logg.Info(logg.WithField(ctx, "dialect", dialector.Name()), "database connection established")
	}

	return &Client{conn: conn, lockTimeout: opts.LockTimeout}, nil
}

// NewFromGorm wraps an already opened connection. Tests use it with sqlite.
func NewFromGorm(conn *gorm.DB, lockTimeout time.Duration) *Client {
	return &Client{conn: conn, lockTimeout: lockTimeout}
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger: gormlogger.New(
			log.New(io.Discard, "", log.LstdFlags),
			gormlogger.Config{LogLevel: gormlogger.Silent},
		),
		SkipDefaultTransaction: true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	}
}

func applyPoolSettings(sqlDB *sql.DB, cfg config.DBConfig, single bool) {
	if single {
		// sqlite allows one writer; a single connection serializes transactions.
		sqlDB.SetMaxOpenConns(1)
		return
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
}

// DB returns the underlying GORM connection.
func (c *Client) DB() *gorm.DB {
	return c.conn
}

// Ping verifies the datasource is reachable.
func (c *Client) Ping(ctx context.Context) error {
	sqlDB, err := c.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close shuts down the pooled connections.
func (c *Client) Close() error {
	sqlDB, err := c.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// WithTx executes fn inside a transaction, rolling back on error/panic. On Postgres
// the transaction gets a bounded lock wait so row locks never block forever.
func (c *Client) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	tx := c.conn.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}

	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := c.applyLockTimeout(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit().Error
}

func (c *Client) applyLockTimeout(tx *gorm.DB) error {
	if c.lockTimeout <= 0 || tx.Dialector.Name() != "postgres" {
		return nil
	}
	stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", c.lockTimeout.Milliseconds())
	if err := tx.Exec(stmt).Error; err != nil {
		return fmt.Errorf("setting lock timeout: %w", err)
	}
	return nil
}
