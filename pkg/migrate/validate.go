package migrate

import (
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"strings"
)

var sqlFileRe = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)

const (
	markUp    = "-- +goose Up"
	markDown  = "-- +goose Down"
	markBegin = "-- +goose StatementBegin"
	markEnd   = "-- +goose StatementEnd"
)

// ValidateDir runs ValidateFS over a directory on disk.
func ValidateDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("dir is required")
	}
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("read dir %q: %w", dir, err)
	}
	return ValidateFS(os.DirFS(dir))
}

// ValidateFS checks every .sql file for a YYYYMMDDHHMMSS_name.sql filename, a
// unique version, an Up section followed by a Down section, and balanced
// statement blocks.
func ValidateFS(fsys fs.FS) error {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}

	versions := map[int64]string{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}

		m := sqlFileRe.FindStringSubmatch(name)
		if m == nil {
			return fmt.Errorf("invalid migration filename %q (expected YYYYMMDDHHMMSS_name.sql)", name)
		}
		version, _ := strconv.ParseInt(m[1], 10, 64)
		if prev, dup := versions[version]; dup {
			return fmt.Errorf("duplicate migration version %d in %q and %q", version, prev, name)
		}
		versions[version] = name

		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("read %q: %w", name, err)
		}
		if err := checkAnnotations(string(body)); err != nil {
			return fmt.Errorf("migration %q: %w", name, err)
		}
	}
	return nil
}

func checkAnnotations(txt string) error {
	up := strings.Index(txt, markUp)
	down := strings.Index(txt, markDown)
	switch {
	case up < 0:
		return fmt.Errorf("missing %q", markUp)
	case down < 0:
		return fmt.Errorf("missing %q", markDown)
	case down < up:
		return fmt.Errorf("has Down before Up")
	}
	if begins, ends := strings.Count(txt, markBegin), strings.Count(txt, markEnd); begins != ends {
		return fmt.Errorf("has %d StatementBegin but %d StatementEnd", begins, ends)
	}
	return nil
}

// latestVersion returns the highest version present in dir, or 0.
func latestVersion(dir string) (int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	var latest int64
	for _, e := range entries {
		if m := sqlFileRe.FindStringSubmatch(e.Name()); m != nil {
			if v, _ := strconv.ParseInt(m[1], 10, 64); v > latest {
				latest = v
			}
		}
	}
	return latest, nil
}
