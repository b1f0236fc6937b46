package transfers

import (
	"github.com/evwarranty/warranty-backend/pkg/enums"
	pkgerrors "github.com/evwarranty/warranty-backend/pkg/errors"
)

const Entity = "transfer_request"

var allowed = map[enums.TransferStatus][]enums.TransferStatus{
	enums.TransferStatusPendingApproval: {enums.TransferStatusApproved, enums.TransferStatusRejected, enums.TransferStatusCancelled},
	enums.TransferStatusApproved:        {enums.TransferStatusShipped, enums.TransferStatusCancelled},
	enums.TransferStatusShipped:         {enums.TransferStatusReceived, enums.TransferStatusCancelled},
}

func CanTransition(from, to enums.TransferStatus) bool {
	for _, next := range allowed[from] {
		if next == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to enums.TransferStatus) error {
	if CanTransition(from, to) {
		return nil
	}
	return pkgerrors.InvalidTransition(Entity, from.String(), to.String())
}

var eventTypes = map[enums.TransferStatus]enums.OutboxEventType{
	enums.TransferStatusPendingApproval: enums.EventTransferCreated,
	enums.TransferStatusApproved:        enums.EventTransferApproved,
	enums.TransferStatusRejected:        enums.EventTransferRejected,
	enums.TransferStatusShipped:         enums.EventTransferShipped,
	enums.TransferStatusReceived:        enums.EventTransferReceived,
	enums.TransferStatusCancelled:       enums.EventTransferCancelled,
}
