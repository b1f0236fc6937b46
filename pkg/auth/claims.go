package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/evwarranty/warranty-backend/pkg/enums"
)

// Actor is the identity attached to every mutating workflow call. It is used for
// audit columns and event envelopes only; authorization happens upstream.
type Actor struct {
	UserID uuid.UUID
	Role   enums.ActorRole
}

// SystemActor is used by background jobs and orchestrated follow-up steps.
var SystemActor = Actor{Role: enums.ActorRoleSystem}

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID          uuid.UUID
	Role            enums.ActorRole
	ServiceCenterID *uuid.UUID
	JTI             string
}

// AccessTokenClaims represents the typed JWT issued by the identity provider.
type AccessTokenClaims struct {
	UserID          uuid.UUID       `json:"user_id"`
	Role            enums.ActorRole `json:"role"`
	ServiceCenterID *uuid.UUID      `json:"service_center_id,omitempty"`
	jwt.RegisteredClaims
}

// Actor converts validated claims into the workflow identity.
func (c AccessTokenClaims) Actor() Actor {
	return Actor{UserID: c.UserID, Role: c.Role}
}
