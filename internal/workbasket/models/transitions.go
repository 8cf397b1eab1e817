package models

import (
	dErrors "tariffpub/pkg/domain-errors"
)

// Event is a workflow state machine event.
type Event string

const (
	EventSubmitForApproval Event = "submit_for_approval"
	EventWithdraw          Event = "withdraw"
	EventReject            Event = "reject"
	EventApprove           Event = "approve"
	EventQueue             Event = "queue"
	EventDequeue           Event = "dequeue"
	EventExportToCDS       Event = "export_to_cds"
	EventCDSConfirmed      Event = "cds_confirmed"
	EventCDSError          Event = "cds_error"
	EventArchive           Event = "archive"
	EventUnarchive         Event = "unarchive"
)

// Transition describes one row of the workflow state table.
type Transition struct {
	Sources          []Status
	Target           Status
	RequiresApprover bool
}

// transitions is the complete workflow state table. Guard evaluation and
// persistence live in the service layer; this table is the single source of
// truth for which moves are legal.
var transitions = map[Event]Transition{
	EventSubmitForApproval: {
		Sources: []Status{StatusNewInProgress, StatusEditing},
		Target:  StatusAwaitingApproval,
	},
	EventWithdraw: {
		Sources: []Status{StatusApprovalRejected, StatusAwaitingApproval, StatusCDSError},
		Target:  StatusEditing,
	},
	EventReject: {
		Sources:          []Status{StatusAwaitingApproval},
		Target:           StatusApprovalRejected,
		RequiresApprover: true,
	},
	EventApprove: {
		Sources:          []Status{StatusAwaitingApproval},
		Target:           StatusReadyForExport,
		RequiresApprover: true,
	},
	EventQueue: {
		Sources: []Status{StatusReadyForExport},
		Target:  StatusQueued,
	},
	EventDequeue: {
		Sources: []Status{StatusQueued},
		Target:  StatusEditing,
	},
	EventExportToCDS: {
		Sources: []Status{StatusReadyForExport, StatusQueued},
		Target:  StatusSentToCDS,
	},
	EventCDSConfirmed: {
		Sources: []Status{StatusSentToCDS},
		Target:  StatusPublished,
	},
	EventCDSError: {
		Sources: []Status{StatusSentToCDS},
		Target:  StatusCDSError,
	},
	EventArchive: {
		Sources: []Status{StatusNewInProgress, StatusEditing},
		Target:  StatusArchived,
	},
	EventUnarchive: {
		Sources: []Status{StatusArchived},
		Target:  StatusEditing,
	},
}

// Apply resolves the target status for an event against the current status.
// Returns a CodeInvalidState error when the event is not legal from the
// current status. Apply is pure; callers persist the result.
func Apply(current Status, event Event) (Status, error) {
	t, ok := transitions[event]
	if !ok {
		return "", dErrors.Newf(dErrors.CodeBadRequest, "unknown workflow event %q", event)
	}
	for _, src := range t.Sources {
		if src == current {
			return t.Target, nil
		}
	}
	return "", dErrors.Newf(
		dErrors.CodeInvalidState,
		"transition %q not allowed from status %s",
		event, current,
	)
}

// RequiresApprover reports whether the event needs approver permission.
func RequiresApprover(event Event) bool {
	return transitions[event].RequiresApprover
}
