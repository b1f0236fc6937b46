package enums

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoundTrips(t *testing.T) {
	status, err := ParseCaseLineStatus("READY_FOR_REPAIR")
	require.NoError(t, err)
	assert.Equal(t, CaseLineStatusReadyForRepair, status)

	_, err = ParseCaseLineStatus("ready_for_repair")
	assert.Error(t, err, "statuses are case sensitive")

	transfer, err := ParseTransferStatus("SHIPPED")
	require.NoError(t, err)
	assert.True(t, transfer.IsValid())

	_, err = ParseComponentStatus("SCRAPPED")
	assert.Error(t, err)

	role, err := ParseActorRole("technician")
	require.NoError(t, err)
	assert.Equal(t, ActorRoleTechnician, role)
}

func TestReservationStatusConsumed(t *testing.T) {
	assert.False(t, ReservationStatusReserved.Consumed())
	assert.False(t, ReservationStatusCancelled.Consumed())
	assert.True(t, ReservationStatusPickedUp.Consumed())
	assert.True(t, ReservationStatusInstalled.Consumed())
	assert.True(t, ReservationStatusReturned.Consumed())
}

func TestCaseLineStatusTerminal(t *testing.T) {
	for _, s := range validCaseLineStatuses {
		want := s == CaseLineStatusCompleted || s == CaseLineStatusRejected || s == CaseLineStatusCancelled
		assert.Equal(t, want, s.IsTerminal(), s.String())
	}
}

func TestOutboxEnumsValidate(t *testing.T) {
	assert.True(t, EventReservationPickedUp.IsValid())
	assert.False(t, OutboxEventType("order_created").IsValid())
	assert.True(t, AggregateTransferRequest.IsValid())
	assert.True(t, OutboxDLQReasonNoPublisher.IsValid())
}

func TestParseOutboxDLQErrorReason(t *testing.T) {
	for _, r := range OutboxDLQErrorReasons() {
		parsed, err := ParseOutboxDLQErrorReason(string(r))
		assert.NoError(t, err)
		assert.Equal(t, r, parsed)
	}
	_, err := ParseOutboxDLQErrorReason("timeout")
	assert.Error(t, err)
}
