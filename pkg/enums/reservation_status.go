package enums

import "fmt"

// ReservationStatus tracks a single reserved unit from shelf to vehicle.
type ReservationStatus string

const (
	ReservationStatusReserved  ReservationStatus = "RESERVED"
	ReservationStatusPickedUp  ReservationStatus = "PICKED_UP"
	ReservationStatusInstalled ReservationStatus = "INSTALLED"
	ReservationStatusReturned  ReservationStatus = "RETURNED"
	ReservationStatusCancelled ReservationStatus = "CANCELLED"
)

var validReservationStatuses = []ReservationStatus{
	ReservationStatusReserved,
	ReservationStatusPickedUp,
	ReservationStatusInstalled,
	ReservationStatusReturned,
	ReservationStatusCancelled,
}

func (r ReservationStatus) String() string {
	return string(r)
}

func (r ReservationStatus) IsValid() bool {
	for _, candidate := range validReservationStatuses {
		if candidate == r {
			return true
		}
	}
	return false
}

// Consumed reports whether the unit already left the warehouse.
func (r ReservationStatus) Consumed() bool {
	switch r {
	case ReservationStatusPickedUp, ReservationStatusInstalled, ReservationStatusReturned:
		return true
	}
	return false
}

func ParseReservationStatus(value string) (ReservationStatus, error) {
	for _, candidate := range validReservationStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid reservation status %q", value)
}
