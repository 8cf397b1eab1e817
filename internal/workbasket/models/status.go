package models

// Status is the workbasket workflow state.
type Status string

const (
	StatusNewInProgress    Status = "NEW_IN_PROGRESS"
	StatusEditing          Status = "EDITING"
	StatusAwaitingApproval Status = "AWAITING_APPROVAL"
	StatusApprovalRejected Status = "APPROVAL_REJECTED"
	StatusReadyForExport   Status = "READY_FOR_EXPORT"
	StatusQueued           Status = "QUEUED"
	StatusSentToCDS        Status = "SENT_TO_CDS"
	StatusPublished        Status = "PUBLISHED"
	StatusCDSError         Status = "CDS_ERROR"
	StatusArchived         Status = "ARCHIVED"
	StatusErrored          Status = "ERRORED"
)

// ApprovedStatuses are the statuses at which a workbasket's row-versions are
// immutable and count towards the current version of their groups.
func ApprovedStatuses() []Status {
	return []Status{
		StatusReadyForExport,
		StatusQueued,
		StatusSentToCDS,
		StatusPublished,
		StatusCDSError,
	}
}

// UncheckedStatuses are the statuses at which a workbasket has not passed the
// full rule-check and approval flow and so cannot be packaged.
func UncheckedStatuses() []Status {
	return []Status{
		StatusNewInProgress,
		StatusEditing,
		StatusAwaitingApproval,
		StatusApprovalRejected,
		StatusArchived,
		StatusErrored,
	}
}

// IsApproved reports whether s is one of the approved statuses.
func (s Status) IsApproved() bool {
	for _, a := range ApprovedStatuses() {
		if s == a {
			return true
		}
	}
	return false
}

// IsUnchecked reports whether s is one of the unchecked statuses.
func (s Status) IsUnchecked() bool {
	for _, u := range UncheckedStatuses() {
		if s == u {
			return true
		}
	}
	return false
}
