package enums

import "fmt"

// WarrantyStatus flags whether a case line is covered. INELIGIBLE lines are paid repairs.
type WarrantyStatus string

const (
	WarrantyStatusEligible   WarrantyStatus = "ELIGIBLE"
	WarrantyStatusIneligible WarrantyStatus = "INELIGIBLE"
)

var validWarrantyStatuses = []WarrantyStatus{
	WarrantyStatusEligible,
	WarrantyStatusIneligible,
}

func (w WarrantyStatus) String() string {
	return string(w)
}

func (w WarrantyStatus) IsValid() bool {
	for _, candidate := range validWarrantyStatuses {
		if candidate == w {
			return true
		}
	}
	return false
}

func ParseWarrantyStatus(value string) (WarrantyStatus, error) {
	for _, candidate := range validWarrantyStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid warranty status %q", value)
}
