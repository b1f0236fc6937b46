package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/evwarranty/warranty-backend/api/responses"
	pkgerrors "github.com/evwarranty/warranty-backend/pkg/errors"
	"github.com/evwarranty/warranty-backend/pkg/logger"
	pkgredis "github.com/evwarranty/warranty-backend/pkg/redis"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayHeader      = "Idempotent-Replay"
)

type idempotencyRule struct {
	method   string
	pattern  string
	required bool
}

// Pickup and install are idempotent in the workflow itself, so the key is
// optional there. Receipts are not, and must carry one.
var idempotencyRules = []idempotencyRule{
	{method: http.MethodPost, pattern: "/api/v1/reservations/pickup"},
	{method: http.MethodPost, pattern: "/api/v1/reservations/{reservationId}/install"},
	{method: http.MethodPost, pattern: "/api/v1/reservations/{reservationId}/return-old", required: true},
	{method: http.MethodPost, pattern: "/api/v1/transfers/{transferId}/receive", required: true},
	{method: http.MethodPost, pattern: "/api/v1/warehouses/{warehouseId}/stock/receipts", required: true},
}

// Idempotency replays the first answer for a repeated Idempotency-Key on the
// routes listed above. A key reused with a different body is rejected.
func Idempotency(store pkgredis.IdempotencyStore, ttl time.Duration, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rule, ok := matchRule(r)
			if !ok || store == nil {
				next.ServeHTTP(w, r)
				return
			}

			idempotencyKey := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			if idempotencyKey == "" {
				if rule.required {
					responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required"))
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			requestHash := hashBody(body)
			key := store.Key(buildScope(r), idempotencyKey)

			existing, claimed, err := store.Claim(r.Context(), key, requestHash, ttl)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
				return
			}
			if !claimed {
				switch {
				case existing.RequestHash != requestHash:
					responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
				case existing.InFlight():
					responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeConflict, "request with this idempotency key is still in progress"))
				default:
					writeStoredResponse(w, existing)
				}
				return
			}

			rec := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			status := defaultStatus(rec.status)
			if status >= http.StatusInternalServerError {
				// server-side failures (Busy included) are not final answers
				if err := store.Forget(context.WithoutCancel(r.Context()), key); err != nil {
					logError(r.Context(), logg, "release idempotency key", err)
				}
				return
			}

			record := pkgredis.IdempotencyRecord{RequestHash: requestHash, Status: status}
			if payload := bytes.TrimSpace(rec.body.Bytes()); len(payload) > 0 && json.Valid(payload) {
				record.Body = json.RawMessage(payload)
			}
			if err := store.Complete(context.WithoutCancel(r.Context()), key, record, ttl); err != nil {
				logError(r.Context(), logg, "persist idempotency record", err)
			}
		})
	}
}

func matchRule(r *http.Request) (idempotencyRule, bool) {
	pattern := routePattern(r)
	for _, rule := range idempotencyRules {
		if rule.method == r.Method && rule.pattern == pattern {
			return rule, true
		}
	}
	return idempotencyRule{}, false
}

func buildScope(r *http.Request) string {
	return strings.Join([]string{UserIDFromContext(r.Context()), r.Method, r.URL.Path}, "|")
}

func writeStoredResponse(w http.ResponseWriter, record *pkgredis.IdempotencyRecord) {
	w.Header().Set(replayHeader, "true")
	if len(record.Body) > 0 {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(record.Status)
	if len(record.Body) > 0 {
		_, _ = w.Write(record.Body)
	}
}

func hashBody(payload []byte) string {
	sum := sha256.Sum256(payload)
	return base64.StdEncoding.EncodeToString(sum[:])
}

func defaultStatus(value int) int {
	if value == 0 {
		return http.StatusOK
	}
	return value
}

func routePattern(r *http.Request) string {
	if ctx := chi.RouteContext(r.Context()); ctx != nil {
		if pattern := ctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (r *responseCapture) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseCapture) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func logError(ctx context.Context, logg *logger.Logger, msg string, err error) {
	if logg == nil || err == nil {
		return
	}
	logg.Error(ctx, msg, err)
}
