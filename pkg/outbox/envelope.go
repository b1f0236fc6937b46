package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/evwarranty/warranty-backend/pkg/enums"
)

// ActorRef identifies who produced the event.
type ActorRef struct {
	UserID uuid.UUID       `json:"userId"`
	Role   enums.ActorRole `json:"role,omitempty"`
}

// PayloadEnvelope is the stable payload structure stored in outbox_events.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// RefFor builds the envelope actor from a user id and role. A nil user id is
// recorded as a system action.
func RefFor(userID uuid.UUID, role enums.ActorRole) *ActorRef {
	if userID == uuid.Nil && role == "" {
		role = enums.ActorRoleSystem
	}
	return &ActorRef{UserID: userID, Role: role}
}
