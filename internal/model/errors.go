package model

import (
	"errors"
	"fmt"
)

// ErrForbidden is returned when the caller's role does not permit the
// operation. No state is changed.
var ErrForbidden = errors.New("forbidden")

// ErrCrossTeamAssignment is returned when a machine assignment targets a
// group owned by a different team.
var ErrCrossTeamAssignment = errors.New("machine and group belong to different teams")

// MalformedReportError indicates an uploaded report payload that cannot be
// accepted. Field names the offending part of the payload when known.
type MalformedReportError struct {
	Field  string
	Reason string
}

func (e *MalformedReportError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("malformed report: field %q: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("malformed report: %s", e.Reason)
}

// UnknownControlError indicates a correction that targets a control id not
// present in the report's control list.
type UnknownControlError struct {
	ControlID string
}

func (e *UnknownControlError) Error() string {
	return fmt.Sprintf("unknown control: %s", e.ControlID)
}

// NotFoundError indicates a missing entity of the named kind.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// ValidationError indicates a user-correctable request problem outside the
// report payload itself (empty justification, bad status value, and so on).
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
