package validators

import (
	"net/http"
	"strconv"
	"strings"

	pkgerrors "github.com/evwarranty/warranty-backend/pkg/errors"
)

// ParseQueryInt reads an optional bounded integer such as ?limit=.
func ParseQueryInt(r *http.Request, key string, defaultVal, min, max int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return defaultVal, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeValidation, err, key+" must be an integer").WithDetails(map[string]any{"field": key})
	}
	if value < min || value > max {
		return 0, pkgerrors.Validation(key + " out of range").WithDetails(map[string]any{"field": key, "min": min, "max": max})
	}
	return value, nil
}

// ParseQueryEnum reads an optional status style filter through one of the
// enums.Parse* functions. An absent parameter yields nil.
func ParseQueryEnum[T any](r *http.Request, key string, parse func(string) (T, error)) (*T, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil, nil
	}
	value, err := parse(strings.ToUpper(raw))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+key+" filter").WithDetails(map[string]any{"field": key, "value": raw})
	}
	return &value, nil
}
