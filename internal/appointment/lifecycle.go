package appointment

import (
	"time"

	"github.com/hackgods/telemed-queue/internal/auth"
)

// The transitions below are pure: they return the next version of the
// appointment or an error and never touch storage. Persisting uses a
// compare-and-set on the prior status.

func Start(a Appointment, now time.Time) (Appointment, error) {
	if a.Status != StatusScheduled {
		return a, &TransitionError{Action: "start", From: a.Status}
	}
	started := now.UTC()
	a.Status = StatusInProgress
	a.ActualStartTime = &started
	a.UpdatedAt = now.UTC()
	return a, nil
}

func Complete(a Appointment, now time.Time) (Appointment, error) {
	if a.Status != StatusInProgress || a.ActualStartTime == nil {
		return a, &TransitionError{Action: "complete", From: a.Status}
	}
	ended := now.UTC()
	a.Status = StatusCompleted
	a.ActualEndTime = &ended
	a.UpdatedAt = now.UTC()
	return a, nil
}

func Cancel(a Appointment, now time.Time) (Appointment, error) {
	if a.Status != StatusScheduled && a.Status != StatusInProgress {
		return a, &TransitionError{Action: "cancel", From: a.Status}
	}
	a.Status = StatusCancelled
	a.UpdatedAt = now.UTC()
	return a, nil
}

// Authorization per action. Each switch lists every role.

func canView(actor auth.Actor, a Appointment) bool {
	switch actor.Role {
	case auth.RolePatient:
		return a.PatientID == actor.UserID
	case auth.RoleDoctor:
		return a.DoctorID == actor.UserID
	case auth.RoleProvider:
		return false
	default:
		return false
	}
}

// canConduct covers start and complete.
func canConduct(actor auth.Actor, a Appointment) bool {
	switch actor.Role {
	case auth.RoleDoctor:
		return a.DoctorID == actor.UserID
	case auth.RolePatient, auth.RoleProvider:
		return false
	default:
		return false
	}
}

func canCancel(actor auth.Actor, a Appointment) bool {
	switch actor.Role {
	case auth.RolePatient:
		return a.PatientID == actor.UserID
	case auth.RoleDoctor:
		return a.DoctorID == actor.UserID
	case auth.RoleProvider:
		return false
	default:
		return false
	}
}

// canPay covers payment and the standalone refund.
func canPay(actor auth.Actor, a Appointment) bool {
	switch actor.Role {
	case auth.RolePatient:
		return a.PatientID == actor.UserID
	case auth.RoleDoctor, auth.RoleProvider:
		return false
	default:
		return false
	}
}

func canBook(actor auth.Actor) bool {
	switch actor.Role {
	case auth.RolePatient:
		return true
	case auth.RoleDoctor, auth.RoleProvider:
		return false
	default:
		return false
	}
}
