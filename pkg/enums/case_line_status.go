package enums

import "fmt"

// CaseLineStatus is the repair state of one warranty case line.
type CaseLineStatus string

const (
	CaseLineStatusDraft           CaseLineStatus = "DRAFT"
	CaseLineStatusPendingApproval CaseLineStatus = "PENDING_APPROVAL"
	CaseLineStatusApproved        CaseLineStatus = "APPROVED"
	CaseLineStatusReadyForRepair  CaseLineStatus = "READY_FOR_REPAIR"
	CaseLineStatusInRepair        CaseLineStatus = "IN_REPAIR"
	CaseLineStatusCompleted       CaseLineStatus = "COMPLETED"
	CaseLineStatusRejected        CaseLineStatus = "REJECTED"
	CaseLineStatusCancelled       CaseLineStatus = "CANCELLED"
)

var validCaseLineStatuses = []CaseLineStatus{
	CaseLineStatusDraft,
	CaseLineStatusPendingApproval,
	CaseLineStatusApproved,
	CaseLineStatusReadyForRepair,
	CaseLineStatusInRepair,
	CaseLineStatusCompleted,
	CaseLineStatusRejected,
	CaseLineStatusCancelled,
}

// String implements fmt.Stringer.
func (c CaseLineStatus) String() string {
	return string(c)
}

// IsValid reports whether the value is a known CaseLineStatus.
func (c CaseLineStatus) IsValid() bool {
	for _, candidate := range validCaseLineStatuses {
		if candidate == c {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (c CaseLineStatus) IsTerminal() bool {
	return c == CaseLineStatusCompleted || c == CaseLineStatusRejected || c == CaseLineStatusCancelled
}

// ParseCaseLineStatus converts raw input into a CaseLineStatus.
func ParseCaseLineStatus(value string) (CaseLineStatus, error) {
	for _, candidate := range validCaseLineStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid case line status %q", value)
}
