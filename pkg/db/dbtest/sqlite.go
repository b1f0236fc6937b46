// Package dbtest opens throwaway sqlite databases carrying the workflow schema.
package dbtest

import (
	"io"
	"log"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/evwarranty/warranty-backend/pkg/db"
	"github.com/evwarranty/warranty-backend/pkg/db/models"
)

// Open returns a migrated in-memory database unique to the test. The pool is
// capped at one connection so concurrent tests serialize on the single writer.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := "file:warranty_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 gormlogger.New(log.New(io.Discard, "", 0), gormlogger.Config{LogLevel: gormlogger.Silent}),
		SkipDefaultTransaction: true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := conn.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}
	return conn
}

// Client wraps Open in a db.Client so services get a real transaction runner.
func Client(t testing.TB) (*db.Client, *gorm.DB) {
	t.Helper()
	conn := Open(t)
	return db.NewFromGorm(conn, 0), conn
}
