package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/telemed-queue/internal/auth"
	"github.com/hackgods/telemed-queue/internal/config"
	"github.com/hackgods/telemed-queue/internal/events"
	"github.com/hackgods/telemed-queue/internal/ledger"
	redisclient "github.com/hackgods/telemed-queue/internal/redis"
	"github.com/hackgods/telemed-queue/internal/settlement"
	"github.com/hackgods/telemed-queue/internal/telemetry"
)

type Service struct {
	store     Store
	locker    redisclient.Locker
	guard     SlotGuard
	settler   *settlement.Settler
	publisher events.Publisher
	clinic    config.ClinicConfig
	log       zerolog.Logger

	Now func() time.Time
}

func NewService(
	store Store,
	locker redisclient.Locker,
	settler *settlement.Settler,
	publisher events.Publisher,
	clinic config.ClinicConfig,
	log zerolog.Logger,
) *Service {
	return &Service{
		store:     store,
		locker:    locker,
		guard:     NewSlotGuard(clinic.SlotWindow),
		settler:   settler,
		publisher: publisher,
		clinic:    clinic,
		log:       log.With().Str("component", "appointment").Logger(),
		Now:       time.Now,
	}
}

type CancelResult struct {
	Appointment *Appointment
	Refund      *settlement.RefundResult
}

type PayResult struct {
	Appointment *Appointment
	Payment     *settlement.PaymentResult
}

// Book creates a SCHEDULED appointment for the calling patient. The slot
// window is checked once without locks for fast feedback and again inside
// the insert transaction while the doctor's schedule is locked.
func (s *Service) Book(ctx context.Context, actor auth.Actor, req BookRequest) (_ *Appointment, err error) {
	ctx, span := s.startSpan(ctx, "appointment.Book", req.DoctorID)
	defer func() { endSpan(span, err) }()

	if !canBook(actor) {
		return nil, fmt.Errorf("%w: only patients can book appointments", ErrForbidden)
	}

	now := s.Now()
	if req.ScheduledTime.IsZero() {
		return nil, validationError("scheduled_time is required")
	}
	if !req.ScheduledTime.After(now) {
		return nil, validationError("scheduled_time must be in the future")
	}
	if req.EstimatedDuration < 0 {
		return nil, validationError("estimated_duration must be positive")
	}
	if req.EstimatedDuration == 0 {
		req.EstimatedDuration = s.clinic.DefaultConsultation
	}

	// Advisory check and profile lookups
	err = s.store.ReadOnly(ctx, func(ctx context.Context, tx Tx) error {
		repo := tx.Appointments()
		if _, err := repo.GetDoctorByID(ctx, req.DoctorID); err != nil {
			return err
		}
		if _, err := repo.GetPatientByID(ctx, actor.UserID); err != nil {
			return err
		}
		return s.guard.Reserve(ctx, repo, req.DoctorID, req.ScheduledTime)
	})
	if err != nil {
		return nil, err
	}

	var created *Appointment

	err = s.locker.WithLock(ctx, redisclient.DoctorKey(req.DoctorID), func(lockCtx context.Context) error {
		return s.store.WithinTx(lockCtx, func(ctx context.Context, tx Tx) error {
			repo := tx.Appointments()

			if err := repo.LockDoctorSchedule(ctx, req.DoctorID); err != nil {
				return fmt.Errorf("lock doctor schedule: %w", err)
			}
			// Inside the critical section re-check the window
			if err := s.guard.Reserve(ctx, repo, req.DoctorID, req.ScheduledTime); err != nil {
				return err
			}

			appt, err := repo.CreateAppointment(ctx, &Appointment{
				ID:                uuid.New(),
				PatientID:         actor.UserID,
				DoctorID:          req.DoctorID,
				ScheduledTime:     req.ScheduledTime.UTC(),
				Status:            StatusScheduled,
				EstimatedDuration: req.EstimatedDuration,
				JourneyStepID:     req.JourneyStepID,
			})
			if err != nil {
				return fmt.Errorf("create appointment: %w", err)
			}
			created = appt

			return s.logEvent(ctx, repo, appt, events.AppointmentBooked, map[string]any{
				"scheduled_time": appt.ScheduledTime,
			})
		})
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrDoctorBusy
		}
		return nil, err
	}

	s.log.Info().
		Str("appointment_id", created.ID.String()).
		Str("doctor_id", created.DoctorID.String()).
		Time("scheduled_time", created.ScheduledTime).
		Msg("appointment booked")

	s.publish(ctx, created, events.AppointmentBooked, nil)
	return created, nil
}

func (s *Service) Start(ctx context.Context, actor auth.Actor, id uuid.UUID) (_ *Appointment, err error) {
	ctx, span := s.startSpan(ctx, "appointment.Start", id)
	defer func() { endSpan(span, err) }()

	return s.conduct(ctx, actor, id, Start, events.AppointmentStarted)
}

func (s *Service) Complete(ctx context.Context, actor auth.Actor, id uuid.UUID) (_ *Appointment, err error) {
	ctx, span := s.startSpan(ctx, "appointment.Complete", id)
	defer func() { endSpan(span, err) }()

	return s.conduct(ctx, actor, id, Complete, events.AppointmentCompleted)
}

// conduct applies a doctor-only transition.
func (s *Service) conduct(
	ctx context.Context,
	actor auth.Actor,
	id uuid.UUID,
	transition func(Appointment, time.Time) (Appointment, error),
	eventType string,
) (*Appointment, error) {
	var updated *Appointment

	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		repo := tx.Appointments()

		appt, err := repo.GetAppointmentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !canConduct(actor, *appt) {
			return fmt.Errorf("%w: only the assigned doctor can do this", ErrForbidden)
		}

		next, err := transition(*appt, s.Now())
		if err != nil {
			return err
		}

		updated, err = repo.UpdateAppointment(ctx, &next, appt.Status)
		if err != nil {
			return fmt.Errorf("update appointment: %w", err)
		}

		return s.logEvent(ctx, repo, updated, eventType, map[string]any{
			"from": appt.Status,
			"to":   updated.Status,
		})
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, updated, eventType, nil)
	return updated, nil
}

// Cancel moves the appointment to CANCELLED. A paid appointment is refunded
// in the same transaction; if the refund fails nothing changes.
func (s *Service) Cancel(ctx context.Context, actor auth.Actor, id uuid.UUID) (_ *CancelResult, err error) {
	ctx, span := s.startSpan(ctx, "appointment.Cancel", id)
	defer func() { endSpan(span, err) }()

	result := &CancelResult{}

	err = s.withAppointmentLock(ctx, id, func(ctx context.Context, tx Tx) error {
		repo := tx.Appointments()

		appt, err := repo.GetAppointmentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !canCancel(actor, *appt) {
			return fmt.Errorf("%w: only the patient or the assigned doctor can cancel", ErrForbidden)
		}

		next, err := Cancel(*appt, s.Now())
		if err != nil {
			return err
		}

		payload := map[string]any{"cancelled_by": actor.Role.String()}

		if appt.IsPaid {
			doctor, err := repo.GetDoctorByID(ctx, appt.DoctorID)
			if err != nil {
				return fmt.Errorf("load doctor: %w", err)
			}

			refund, err := s.settler.CancelRefund(ctx, s.ledger(tx), partiesOf(appt), doctor.ConsultationFee)
			if err != nil {
				return err
			}
			next.IsPaid = false
			result.Refund = refund

			payload["refund_amount"] = refund.RefundAmount.StringFixed(2)
			payload["cancellation_fee"] = refund.CancellationFee.StringFixed(2)
			payload["doctor_debited"] = refund.DoctorDebited
		}

		updated, err := repo.UpdateAppointment(ctx, &next, appt.Status)
		if err != nil {
			return fmt.Errorf("update appointment: %w", err)
		}
		result.Appointment = updated

		return s.logEvent(ctx, repo, updated, events.AppointmentCancelled, payload)
	})
	if err != nil {
		return nil, err
	}

	var data map[string]any
	if result.Refund != nil {
		data = map[string]any{"refund_amount": result.Refund.RefundAmount.StringFixed(2)}
	}
	s.publish(ctx, result.Appointment, events.AppointmentCancelled, data)
	return result, nil
}

// Pay charges the booking patient the doctor's fee plus the platform commission.
func (s *Service) Pay(ctx context.Context, actor auth.Actor, id uuid.UUID) (_ *PayResult, err error) {
	ctx, span := s.startSpan(ctx, "appointment.Pay", id)
	defer func() { endSpan(span, err) }()

	result := &PayResult{}

	err = s.withAppointmentLock(ctx, id, func(ctx context.Context, tx Tx) error {
		repo := tx.Appointments()

		appt, err := repo.GetAppointmentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !canPay(actor, *appt) {
			return fmt.Errorf("%w: only the booking patient can pay", ErrForbidden)
		}

		doctor, err := repo.GetDoctorByID(ctx, appt.DoctorID)
		if err != nil {
			return fmt.Errorf("load doctor: %w", err)
		}

		payment, err := s.settler.Pay(ctx, s.ledger(tx), partiesOf(appt), doctor.ConsultationFee)
		if err != nil {
			return err
		}
		result.Payment = payment

		next := *appt
		next.IsPaid = true
		updated, err := repo.UpdateAppointment(ctx, &next, appt.Status)
		if err != nil {
			return fmt.Errorf("mark appointment paid: %w", err)
		}
		result.Appointment = updated

		return s.logEvent(ctx, repo, updated, events.AppointmentPaid, map[string]any{
			"consultation_fee": payment.ConsultationFee.StringFixed(2),
			"platform_fee":     payment.PlatformFee.StringFixed(2),
			"total_paid":       payment.TotalPaid.StringFixed(2),
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("appointment_id", id.String()).
		Str("total_paid", result.Payment.TotalPaid.StringFixed(2)).
		Msg("appointment paid")

	s.publish(ctx, result.Appointment, events.AppointmentPaid, map[string]any{
		"total_paid": result.Payment.TotalPaid.StringFixed(2),
	})
	return result, nil
}

// Refund returns the full original payment for a cancelled appointment that
// has not been refunded yet.
func (s *Service) Refund(ctx context.Context, actor auth.Actor, id uuid.UUID) (_ *settlement.RefundResult, err error) {
	ctx, span := s.startSpan(ctx, "appointment.Refund", id)
	defer func() { endSpan(span, err) }()

	var (
		refund *settlement.RefundResult
		appt   *Appointment
	)

	err = s.withAppointmentLock(ctx, id, func(ctx context.Context, tx Tx) error {
		repo := tx.Appointments()

		var err error
		appt, err = repo.GetAppointmentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !canCancel(actor, *appt) {
			return fmt.Errorf("%w: only the patient or the assigned doctor can request a refund", ErrForbidden)
		}
		if appt.Status != StatusCancelled {
			return &TransitionError{Action: "refund", From: appt.Status}
		}

		refund, err = s.settler.Refund(ctx, s.ledger(tx), partiesOf(appt))
		if err != nil {
			return err
		}

		return s.logEvent(ctx, repo, appt, events.AppointmentRefunded, map[string]any{
			"refund_amount": refund.RefundAmount.StringFixed(2),
		})
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, appt, events.AppointmentRefunded, map[string]any{
		"refund_amount": refund.RefundAmount.StringFixed(2),
	})
	return refund, nil
}

// Get retrieves a fully hydrated appointment visible to the actor.
func (s *Service) Get(ctx context.Context, actor auth.Actor, id uuid.UUID) (*AppointmentDetail, error) {
	var detail *AppointmentDetail

	err := s.store.ReadOnly(ctx, func(ctx context.Context, tx Tx) error {
		repo := tx.Appointments()

		appt, err := repo.GetAppointmentByID(ctx, id)
		if err != nil {
			return err
		}
		if !canView(actor, *appt) {
			return ErrForbidden
		}

		doctor, err := repo.GetDoctorByID(ctx, appt.DoctorID)
		if err != nil {
			return fmt.Errorf("load doctor: %w", err)
		}
		patient, err := repo.GetPatientByID(ctx, appt.PatientID)
		if err != nil {
			return fmt.Errorf("load patient: %w", err)
		}

		detail = &AppointmentDetail{Appointment: *appt, Doctor: doctor, Patient: patient}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return detail, nil
}

// List returns the actor's own appointments, newest first.
func (s *Service) List(ctx context.Context, actor auth.Actor, limit, offset int) ([]Appointment, error) {
	limit, offset = clampPage(limit, offset)

	var result []Appointment
	err := s.store.ReadOnly(ctx, func(ctx context.Context, tx Tx) error {
		repo := tx.Appointments()

		var err error
		switch actor.Role {
		case auth.RolePatient:
			result, err = repo.ListAppointmentsByPatient(ctx, actor.UserID, limit, offset)
		case auth.RoleDoctor:
			result, err = repo.ListAppointmentsByDoctor(ctx, actor.UserID, limit, offset)
		case auth.RoleProvider:
			result = []Appointment{}
		default:
			return ErrForbidden
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return result, nil
}

func (s *Service) withAppointmentLock(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, tx Tx) error) error {
	err := s.locker.WithLock(ctx, redisclient.AppointmentKey(id), func(lockCtx context.Context) error {
		return s.store.WithinTx(lockCtx, fn)
	})
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return ErrAppointmentBusy
	}
	return err
}

func (s *Service) ledger(tx Tx) *ledger.Ledger {
	l := ledger.New(tx.Wallets())
	l.Now = s.Now
	return l
}

func partiesOf(a *Appointment) settlement.Parties {
	return settlement.Parties{
		AppointmentID: a.ID,
		PatientID:     a.PatientID,
		DoctorID:      a.DoctorID,
	}
}

func (s *Service) logEvent(ctx context.Context, repo Repository, appt *Appointment, eventType string, payload map[string]any) error {
	payload["patient_id"] = appt.PatientID.String()
	payload["doctor_id"] = appt.DoctorID.String()

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload for %s: %w", eventType, err)
	}

	apptID := appt.ID
	if err := repo.InsertEvent(ctx, EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("insert event log %s: %w", eventType, err)
	}
	return nil
}

// publish runs after commit; a broker failure does not undo the operation.
func (s *Service) publish(ctx context.Context, appt *Appointment, eventType string, data map[string]any) {
	ev := events.Event{
		Type:          eventType,
		AppointmentID: appt.ID,
		PatientID:     appt.PatientID,
		DoctorID:      appt.DoctorID,
		OccurredAt:    s.Now().UTC(),
		Data:          data,
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.log.Error().Err(err).
			Str("event", eventType).
			Str("appointment_id", appt.ID.String()).
			Msg("failed to publish event")
	}
}

func (s *Service) startSpan(ctx context.Context, name string, id uuid.UUID) (context.Context, trace.Span) {
	return telemetry.Tracer().Start(ctx, name, trace.WithAttributes(attribute.String("id", id.String())))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20 // default
	}
	if limit > 100 {
		limit = 100 // max
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
