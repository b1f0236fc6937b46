package reservations

import (
	"github.com/evwarranty/warranty-backend/pkg/enums"
	pkgerrors "github.com/evwarranty/warranty-backend/pkg/errors"
)

// Entity names reservations in transition errors, events and metrics.
const Entity = "component_reservation"

var forward = map[enums.ReservationStatus]enums.ReservationStatus{
	enums.ReservationStatusReserved:  enums.ReservationStatusPickedUp,
	enums.ReservationStatusPickedUp:  enums.ReservationStatusInstalled,
	enums.ReservationStatusInstalled: enums.ReservationStatusReturned,
}

// CanTransition reports whether a reservation may move from one status to
// another. Moves are strictly forward; only RESERVED may be cancelled.
func CanTransition(from, to enums.ReservationStatus) bool {
	if to == enums.ReservationStatusCancelled {
		return from == enums.ReservationStatusReserved
	}
	next, ok := forward[from]
	return ok && next == to
}

func checkTransition(from, to enums.ReservationStatus) error {
	if CanTransition(from, to) {
		return nil
	}
	return pkgerrors.InvalidTransition(Entity, from.String(), to.String())
}
