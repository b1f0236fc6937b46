package enums

import "fmt"

// TransferStatus is the state of an inter-warehouse transfer request.
type TransferStatus string

const (
	TransferStatusPendingApproval TransferStatus = "PENDING_APPROVAL"
	TransferStatusApproved        TransferStatus = "APPROVED"
	TransferStatusShipped         TransferStatus = "SHIPPED"
	TransferStatusReceived        TransferStatus = "RECEIVED"
	TransferStatusRejected        TransferStatus = "REJECTED"
	TransferStatusCancelled       TransferStatus = "CANCELLED"
)

var validTransferStatuses = []TransferStatus{
	TransferStatusPendingApproval,
	TransferStatusApproved,
	TransferStatusShipped,
	TransferStatusReceived,
	TransferStatusRejected,
	TransferStatusCancelled,
}

// String implements fmt.Stringer.
func (s TransferStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known TransferStatus.
func (s TransferStatus) IsValid() bool {
	for _, candidate := range validTransferStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseTransferStatus converts raw input into a TransferStatus.
func ParseTransferStatus(value string) (TransferStatus, error) {
	for _, candidate := range validTransferStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transfer status %q", value)
}
