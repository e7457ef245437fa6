package appointment

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPatientNotFound     = errors.New("patient not found")
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrAppointmentNotFound = errors.New("appointment not found")

	ErrValidation        = errors.New("validation failed")
	ErrSlotConflict      = errors.New("doctor already has an appointment in this window")
	ErrDoctorBusy        = errors.New("doctor schedule is currently being booked, please retry")
	ErrAppointmentBusy   = errors.New("appointment is being updated, please retry")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrForbidden         = errors.New("not allowed to act on this appointment")
)

// SlotConflictError names the window that was checked and the appointment
// already occupying it.
type SlotConflictError struct {
	DoctorID      uuid.UUID
	WindowStart   time.Time
	WindowEnd     time.Time
	ConflictingID uuid.UUID
}

func (e *SlotConflictError) Error() string {
	return fmt.Sprintf("doctor %s already has appointment %s between %s and %s",
		e.DoctorID, e.ConflictingID,
		e.WindowStart.UTC().Format(time.RFC3339), e.WindowEnd.UTC().Format(time.RFC3339))
}

func (e *SlotConflictError) Unwrap() error {
	return ErrSlotConflict
}

type TransitionError struct {
	Action string
	From   AppointmentStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s appointment in status %s", e.Action, e.From)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
