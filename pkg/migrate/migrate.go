package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/pressly/goose/v3"

	"github.com/evwarranty/warranty-backend/pkg/logger"
)

// DefaultDir is where new migrations are written and where validate looks by default.
const DefaultDir = "pkg/migrate/migrations"

//go:embed migrations/*.sql
var embedded embed.FS

// Source returns the migrations shipped inside the binary, or the files under
// dir when one is given.
func Source(dir string) (fs.FS, error) {
	if dir != "" {
		return os.DirFS(dir), nil
	}
	return fs.Sub(embedded, "migrations")
}

// Runner applies the warranty schema through a goose provider.
type Runner struct {
	provider *goose.Provider
	logg     *logger.Logger
}

func NewRunner(db *sql.DB, fsys fs.FS, logg *logger.Logger) (*Runner, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if fsys == nil {
		return nil, fmt.Errorf("migration source is required")
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return nil, fmt.Errorf("goose provider: %w", err)
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Runner{provider: provider, logg: logg}, nil
}

func (r *Runner) Up(ctx context.Context) error {
	results, err := r.provider.Up(ctx)
	r.report(ctx, results...)
	if err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// Down rolls back the most recent migration only.
func (r *Runner) Down(ctx context.Context) error {
	result, err := r.provider.Down(ctx)
	if result != nil {
		r.report(ctx, result)
	}
	if err != nil {
		return fmt.Errorf("goose down: %w", err)
	}
	return nil
}

// Status logs one line per known migration with its applied state.
func (r *Runner) Status(ctx context.Context) error {
	statuses, err := r.provider.Status(ctx)
	if err != nil {
		return fmt.Errorf("goose status: %w", err)
	}
	for _, st := range statuses {
		fields := map[string]any{
			"version": st.Source.Version,
			"path":    st.Source.Path,
			"state":   string(st.State),
		}
		if !st.AppliedAt.IsZero() {
			fields["applied_at"] = st.AppliedAt
		}
		r.logg.Info(r.logg.WithFields(ctx, fields), "migration.status")
	}
	return nil
}

// ToVersion migrates up or down until the database sits at target.
func (r *Runner) ToVersion(ctx context.Context, targetVersion string) error {
	target, err := strconv.ParseInt(targetVersion, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS): %w", targetVersion, err)
	}

	current, err := r.provider.GetDBVersion(ctx)
	if err != nil {
		return fmt.Errorf("get db version: %w", err)
	}

	var results []*goose.MigrationResult
	switch {
	case current == target:
		return nil
	case current < target:
		results, err = r.provider.UpTo(ctx, target)
	default:
		results, err = r.provider.DownTo(ctx, target)
	}
	r.report(ctx, results...)
	if err != nil {
		return fmt.Errorf("goose to %d: %w", target, err)
	}
	return nil
}

func (r *Runner) report(ctx context.Context, results ...*goose.MigrationResult) {
	for _, res := range results {
		if res == nil || res.Source == nil {
			continue
		}
		logCtx := r.logg.WithFields(ctx, map[string]any{
			"version":     res.Source.Version,
			"path":        res.Source.Path,
			"direction":   res.Direction,
			"duration_ms": res.Duration.Milliseconds(),
		})
		if res.Error != nil {
			r.logg.Error(logCtx, "migration.failed", res.Error)
			continue
		}
		r.logg.Info(logCtx, "migration.applied")
	}
}
