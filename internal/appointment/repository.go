package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/telemed-queue/internal/ledger"
)

// Repository contains all DB interactions needed by the service. An
// instance is bound to one transaction.
type Repository interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	SavePatient(ctx context.Context, p *Patient) error
	SaveDoctor(ctx context.Context, d *Doctor) error

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// GetAppointmentForUpdate locks the row until the transaction ends.
	GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// For conflict checks
	// LockDoctorSchedule serializes bookings for one doctor until the transaction ends.
	LockDoctorSchedule(ctx context.Context, doctorID uuid.UUID) error
	// FindConflicting returns nil, nil when no occupying appointment has
	// scheduled_time in [from, to).
	FindConflicting(ctx context.Context, doctorID uuid.UUID, from, to time.Time) (*Appointment, error)

	// Creation and updates
	CreateAppointment(ctx context.Context, a *Appointment) (*Appointment, error)
	// UpdateAppointment writes status, timestamps and is_paid only if the
	// stored status still equals from. ErrAppointmentNotFound otherwise.
	UpdateAppointment(ctx context.Context, a *Appointment, from AppointmentStatus) (*Appointment, error)

	// Queue reads
	// ListDoctorAppointments returns appointments with scheduled_time in
	// [from, to) and one of statuses, ordered by scheduled_time.
	ListDoctorAppointments(ctx context.Context, doctorID uuid.UUID, from, to time.Time, statuses ...AppointmentStatus) ([]Appointment, error)
	// RecentCompleted returns completed appointments with both timestamps,
	// most recently ended first.
	RecentCompleted(ctx context.Context, doctorID uuid.UUID, limit int) ([]Appointment, error)
	// FirstInProgress returns the earliest started in-progress appointment
	// or ErrAppointmentNotFound.
	FirstInProgress(ctx context.Context, doctorID uuid.UUID) (*Appointment, error)

	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)
	ListAppointmentsByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]Appointment, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}

// Tx gives access to every repository participating in one transaction.
type Tx interface {
	Appointments() Repository
	Wallets() ledger.Repository
}

// Store opens units of work. WithinTx commits when fn returns nil and rolls
// back otherwise. ReadOnly runs fn against a consistent snapshot.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	ReadOnly(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
