package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	pkgAuth "github.com/evwarranty/warranty-backend/pkg/auth"
	"github.com/evwarranty/warranty-backend/pkg/config"
	"github.com/evwarranty/warranty-backend/pkg/enums"
)

var testJWT = config.JWTConfig{Secret: "test-secret", Issuer: "warranty-idp"}

func TestAuthSeedsActor(t *testing.T) {
	userID := uuid.New()
	token, err := pkgAuth.MintAccessToken(testJWT, time.Now(), time.Hour, pkgAuth.AccessTokenPayload{
		UserID: userID,
		Role:   enums.ActorRoleTechnician,
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}

	var seen pkgAuth.Actor
	handler := Auth(testJWT, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFromContext(r.Context())
		if !ok {
			t.Fatalf("expected actor in context")
		}
		seen = actor
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cases", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if seen.UserID != userID || seen.Role != enums.ActorRoleTechnician {
		t.Fatalf("unexpected actor %+v", seen)
	}
}

func TestAuthRejectsMissingAndForeignTokens(t *testing.T) {
	foreign, err := pkgAuth.MintAccessToken(config.JWTConfig{Secret: "other", Issuer: "warranty-idp"}, time.Now(), time.Hour, pkgAuth.AccessTokenPayload{
		UserID: uuid.New(),
		Role:   enums.ActorRoleStaff,
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	expired, err := pkgAuth.MintAccessToken(testJWT, time.Now().Add(-2*time.Hour), time.Hour, pkgAuth.AccessTokenPayload{
		UserID: uuid.New(),
		Role:   enums.ActorRoleStaff,
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"garbage", "Bearer not-a-token"},
		{"wrong secret", "Bearer " + foreign},
		{"expired", "Bearer " + expired},
	}

	handler := Auth(testJWT, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler must not run")
	}))
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/cases", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", tt.name, rec.Code)
		}
	}
}
