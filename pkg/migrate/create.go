package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var nameSanitizeRe = regexp.MustCompile(`[^a-z0-9]+`)

const versionLayout = "20060102150405"

const sqlTemplate = `-- +goose Up
-- +goose StatementBegin
-- %[1]s
-- +goose StatementEnd

-- +goose Down
-- +goose StatementBegin
-- revert %[1]s
-- +goose StatementEnd
`

// CreateSQLMigration writes an empty goose migration into dir and returns its
// path. The version is the current UTC timestamp, bumped past the newest file
// already in dir so two migrations created in the same second still order.
func CreateSQLMigration(dir string, name string) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("dir is required")
	}
	slug := strings.Trim(nameSanitizeRe.ReplaceAllString(strings.ToLower(name), "_"), "_")
	if slug == "" {
		return "", fmt.Errorf("name %q has no usable characters", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %q: %w", dir, err)
	}

	version, err := nextVersion(dir, time.Now().UTC())
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("%d_%s.sql", version, slug))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create migration %q: %w", path, err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, sqlTemplate, slug); err != nil {
		return "", fmt.Errorf("write migration %q: %w", path, err)
	}
	return path, nil
}

func nextVersion(dir string, now time.Time) (int64, error) {
	latest, err := latestVersion(dir)
	if err != nil {
		return 0, fmt.Errorf("scan %q: %w", dir, err)
	}
	candidate, _ := strconv.ParseInt(now.Format(versionLayout), 10, 64)
	if candidate > latest {
		return candidate, nil
	}
	next, err := time.Parse(versionLayout, strconv.FormatInt(latest, 10))
	if err != nil {
		return 0, fmt.Errorf("parse version %d: %w", latest, err)
	}
	v, _ := strconv.ParseInt(next.Add(time.Second).Format(versionLayout), 10, 64)
	return v, nil
}
