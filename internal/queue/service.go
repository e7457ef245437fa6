package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/telemed-queue/internal/appointment"
	"github.com/hackgods/telemed-queue/internal/auth"
	"github.com/hackgods/telemed-queue/internal/telemetry"
)

var ErrForbidden = errors.New("not allowed to view this appointment")

type Service struct {
	store     appointment.Store
	predictor Predictor

	Now func() time.Time
}

func NewService(store appointment.Store, predictor Predictor) *Service {
	return &Service{store: store, predictor: predictor, Now: time.Now}
}

type DoctorQueue struct {
	DoctorID     uuid.UUID
	Date         time.Time
	Appointments []appointment.Appointment
}

// WaitTime predicts when the appointment's consultation will start. All
// inputs come from one read-only snapshot.
func (s *Service) WaitTime(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Prediction, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "queue.WaitTime", trace.WithAttributes(attribute.String("id", id.String())))
	defer span.End()

	var prediction Prediction

	err := s.store.ReadOnly(ctx, func(ctx context.Context, tx appointment.Tx) error {
		repo := tx.Appointments()

		target, err := repo.GetAppointmentByID(ctx, id)
		if err != nil {
			return err
		}
		if !canWatch(actor, *target) {
			return ErrForbidden
		}

		in := Input{Target: *target, Now: s.Now()}

		if target.Status == appointment.StatusScheduled {
			in.Recent, err = repo.RecentCompleted(ctx, target.DoctorID, s.predictor.HistorySize)
			if err != nil {
				return fmt.Errorf("load recent completions: %w", err)
			}

			in.InProgress, err = repo.FirstInProgress(ctx, target.DoctorID)
			if err != nil && !errors.Is(err, appointment.ErrAppointmentNotFound) {
				return fmt.Errorf("load in-progress appointment: %w", err)
			}

			from, to := s.predictor.DayBounds(target.ScheduledTime)
			in.SameDay, err = repo.ListDoctorAppointments(ctx, target.DoctorID, from, to,
				appointment.StatusScheduled, appointment.StatusInProgress)
			if err != nil {
				return fmt.Errorf("load same-day appointments: %w", err)
			}
		}

		prediction, err = s.predictor.Predict(in)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &prediction, nil
}

// DoctorQueue lists a doctor's open appointments on one calendar day in
// scheduled order. A zero day means today.
func (s *Service) DoctorQueue(ctx context.Context, doctorID uuid.UUID, day time.Time) (*DoctorQueue, error) {
	if day.IsZero() {
		day = s.Now()
	}
	from, to := s.predictor.DayBounds(day)

	q := &DoctorQueue{DoctorID: doctorID, Date: from}

	err := s.store.ReadOnly(ctx, func(ctx context.Context, tx appointment.Tx) error {
		repo := tx.Appointments()

		if _, err := repo.GetDoctorByID(ctx, doctorID); err != nil {
			return err
		}

		var err error
		q.Appointments, err = repo.ListDoctorAppointments(ctx, doctorID, from, to,
			appointment.StatusScheduled, appointment.StatusInProgress)
		return err
	})
	if err != nil {
		return nil, err
	}
	return q, nil
}

// Patients may only watch their own appointments; staff may watch any.
func canWatch(actor auth.Actor, a appointment.Appointment) bool {
	switch actor.Role {
	case auth.RolePatient:
		return a.PatientID == actor.UserID
	case auth.RoleDoctor, auth.RoleProvider:
		return true
	default:
		return false
	}
}
