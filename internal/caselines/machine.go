package caselines

import (
	"github.com/evwarranty/warranty-backend/pkg/enums"
	pkgerrors "github.com/evwarranty/warranty-backend/pkg/errors"
)

// Entity names case lines in transition errors, events and metrics.
const Entity = "case_line"

// Event is an action that moves a case line between states.
type Event string

const (
	EventSubmit      Event = "submit"
	EventApprove     Event = "approve"
	EventReject      Event = "reject"
	EventAllocate    Event = "allocate"
	EventStartRepair Event = "start_repair"
	EventComplete    Event = "complete"
	EventCancel      Event = "cancel"
)

type edge struct {
	from  enums.CaseLineStatus
	event Event
}

var machine = map[edge]enums.CaseLineStatus{
	{enums.CaseLineStatusDraft, EventSubmit}:               enums.CaseLineStatusPendingApproval,
	{enums.CaseLineStatusPendingApproval, EventApprove}:    enums.CaseLineStatusApproved,
	{enums.CaseLineStatusPendingApproval, EventReject}:     enums.CaseLineStatusRejected,
	{enums.CaseLineStatusApproved, EventAllocate}:          enums.CaseLineStatusReadyForRepair,
	{enums.CaseLineStatusReadyForRepair, EventStartRepair}: enums.CaseLineStatusInRepair,
	{enums.CaseLineStatusInRepair, EventComplete}:          enums.CaseLineStatusCompleted,
	{enums.CaseLineStatusDraft, EventCancel}:               enums.CaseLineStatusCancelled,
	{enums.CaseLineStatusPendingApproval, EventCancel}:     enums.CaseLineStatusCancelled,
	{enums.CaseLineStatusApproved, EventCancel}:            enums.CaseLineStatusCancelled,
	{enums.CaseLineStatusReadyForRepair, EventCancel}:      enums.CaseLineStatusCancelled,
}

// targets names the state each event aims for, used when the edge is missing.
var targets = map[Event]enums.CaseLineStatus{
	EventSubmit:      enums.CaseLineStatusPendingApproval,
	EventApprove:     enums.CaseLineStatusApproved,
	EventReject:      enums.CaseLineStatusRejected,
	EventAllocate:    enums.CaseLineStatusReadyForRepair,
	EventStartRepair: enums.CaseLineStatusInRepair,
	EventComplete:    enums.CaseLineStatusCompleted,
	EventCancel:      enums.CaseLineStatusCancelled,
}

// Next returns the state reached by applying ev in state from.
func Next(from enums.CaseLineStatus, ev Event) (enums.CaseLineStatus, error) {
	if to, ok := machine[edge{from, ev}]; ok {
		return to, nil
	}
	return "", pkgerrors.InvalidTransition(Entity, from.String(), targets[ev].String())
}

var eventTypes = map[enums.CaseLineStatus]enums.OutboxEventType{
	enums.CaseLineStatusPendingApproval: enums.EventCaseLineSubmitted,
	enums.CaseLineStatusApproved:        enums.EventCaseLineApproved,
	enums.CaseLineStatusRejected:        enums.EventCaseLineRejected,
	enums.CaseLineStatusReadyForRepair:  enums.EventCaseLineReadyForRepair,
	enums.CaseLineStatusInRepair:        enums.EventCaseLineInRepair,
	enums.CaseLineStatusCompleted:       enums.EventCaseLineCompleted,
	enums.CaseLineStatusCancelled:       enums.EventCaseLineCancelled,
}
