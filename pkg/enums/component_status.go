package enums

import "fmt"

// ComponentStatus is the lifecycle state of one physical component unit.
type ComponentStatus string

const (
	ComponentStatusInStock   ComponentStatus = "IN_STOCK"
	ComponentStatusReserved  ComponentStatus = "RESERVED"
	ComponentStatusPickedUp  ComponentStatus = "PICKED_UP"
	ComponentStatusInstalled ComponentStatus = "INSTALLED"
	ComponentStatusDefective ComponentStatus = "DEFECTIVE"
	ComponentStatusReturned  ComponentStatus = "RETURNED"
)

var validComponentStatuses = []ComponentStatus{
	ComponentStatusInStock,
	ComponentStatusReserved,
	ComponentStatusPickedUp,
	ComponentStatusInstalled,
	ComponentStatusDefective,
	ComponentStatusReturned,
}

// String implements fmt.Stringer.
func (c ComponentStatus) String() string {
	return string(c)
}

// IsValid reports whether the value is a known ComponentStatus.
func (c ComponentStatus) IsValid() bool {
	for _, candidate := range validComponentStatuses {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseComponentStatus converts raw input into a ComponentStatus.
func ParseComponentStatus(value string) (ComponentStatus, error) {
	for _, candidate := range validComponentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid component status %q", value)
}
