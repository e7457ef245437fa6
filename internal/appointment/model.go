package appointment

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type AppointmentStatus string

const (
	StatusScheduled  AppointmentStatus = "SCHEDULED"
	StatusInProgress AppointmentStatus = "IN_PROGRESS"
	StatusCompleted  AppointmentStatus = "COMPLETED"
	StatusCancelled  AppointmentStatus = "CANCELLED"
)

// occupying statuses block the slot window; cancelled appointments free it.
var occupyingStatuses = []AppointmentStatus{StatusScheduled, StatusInProgress, StatusCompleted}

func (s AppointmentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Doctor struct {
	ID              uuid.UUID
	Name            string
	Specialization  string
	ConsultationFee decimal.Decimal
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Appointment struct {
	ID                uuid.UUID
	PatientID         uuid.UUID
	DoctorID          uuid.UUID
	ScheduledTime     time.Time
	Status            AppointmentStatus
	EstimatedDuration time.Duration
	ActualStartTime   *time.Time
	ActualEndTime     *time.Time
	IsPaid            bool
	JourneyStepID     *uuid.UUID
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ActualDuration is only defined once the consultation has both started and ended.
func (a Appointment) ActualDuration() (time.Duration, bool) {
	if a.ActualStartTime == nil || a.ActualEndTime == nil {
		return 0, false
	}
	return a.ActualEndTime.Sub(*a.ActualStartTime), true
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

type AppointmentDetail struct {
	Appointment
	Patient *Patient
	Doctor  *Doctor
}

// BookRequest is what a patient submits to book a consultation.
type BookRequest struct {
	DoctorID          uuid.UUID
	ScheduledTime     time.Time
	EstimatedDuration time.Duration
	JourneyStepID     *uuid.UUID
}
