package caselines

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/evwarranty/warranty-backend/pkg/auth"
	"github.com/evwarranty/warranty-backend/pkg/db/models"
	"github.com/evwarranty/warranty-backend/pkg/enums"
	"github.com/evwarranty/warranty-backend/pkg/metrics"
	"github.com/evwarranty/warranty-backend/pkg/outbox"
	"github.com/evwarranty/warranty-backend/pkg/outbox/payloads"
)

// Transitioner applies one state machine edge to a locked line inside the
// caller's transaction and queues the matching domain event. The reservation
// manager shares it to move a line into repair on first pickup.
type Transitioner struct {
	repo    *Repository
	outbox  outbox.Emitter
	metrics *metrics.WorkflowMetrics
}

func NewTransitioner(repo *Repository, emitter outbox.Emitter, m *metrics.WorkflowMetrics) (*Transitioner, error) {
	if repo == nil {
		return nil, fmt.Errorf("case line repository required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	return &Transitioner{repo: repo, outbox: emitter, metrics: m}, nil
}

// Apply moves line along ev. extra carries audit columns written with the status.
func (t *Transitioner) Apply(ctx context.Context, tx *gorm.DB, line *models.CaseLine, ev Event, actor auth.Actor, extra map[string]any, reason *string) error {
	to, err := Next(line.Status, ev)
	if err != nil {
		return err
	}
	from := line.Status

	updates := map[string]any{"status": to}
	for k, v := range extra {
		updates[k] = v
	}
	if err := t.repo.WithTx(tx).UpdateInStatus(ctx, line, from, to, updates); err != nil {
		return err
	}

	err = t.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventTypes[to],
		AggregateType: enums.AggregateCaseLine,
		AggregateID:   line.ID,
		Actor:         outbox.RefFor(actor.UserID, actor.Role),
		Data: payloads.CaseLineStatusEvent{
			CaseLineID:     line.ID,
			CaseID:         line.CaseID,
			PreviousStatus: from,
			Status:         to,
			Reason:         reason,
		},
	})
	if err != nil {
		return fmt.Errorf("queue %s event: %w", to, err)
	}
	t.metrics.ObserveTransition(Entity, to.String())
	return nil
}
