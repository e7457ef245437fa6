package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/telemed-queue/internal/appointment"
	"github.com/hackgods/telemed-queue/internal/auth"
	"github.com/hackgods/telemed-queue/internal/config"
	"github.com/hackgods/telemed-queue/internal/queue"
	"github.com/hackgods/telemed-queue/internal/store/memory"
)

var day = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

type fixture struct {
	t       *testing.T
	store   *memory.Store
	svc     *queue.Service
	doctor  uuid.UUID
	patient auth.Actor
}

func newFixture(t *testing.T, now time.Time) *fixture {
	store := memory.New()
	svc := queue.NewService(store, queue.NewPredictor(config.DefaultClinic()))
	svc.Now = func() time.Time { return now }

	f := &fixture{
		t:       t,
		store:   store,
		svc:     svc,
		doctor:  uuid.New(),
		patient: auth.Actor{UserID: uuid.New(), Role: auth.RolePatient},
	}

	require.NoError(t, store.WithinTx(context.Background(), func(ctx context.Context, tx appointment.Tx) error {
		if err := tx.Appointments().SaveDoctor(ctx, &appointment.Doctor{
			ID:              f.doctor,
			Name:            "Dr. Queue",
			ConsultationFee: decimal.RequireFromString("500.00"),
		}); err != nil {
			return err
		}
		return tx.Appointments().SavePatient(ctx, &appointment.Patient{ID: f.patient.UserID, Name: "P"})
	}))
	return f
}

// add stores an appointment, then walks it to status via the lifecycle.
func (f *fixture) add(at time.Time, status appointment.AppointmentStatus, start, end *time.Time) appointment.Appointment {
	f.t.Helper()
	var out *appointment.Appointment
	require.NoError(f.t, f.store.WithinTx(context.Background(), func(ctx context.Context, tx appointment.Tx) error {
		repo := tx.Appointments()
		created, err := repo.CreateAppointment(ctx, &appointment.Appointment{
			ID:                uuid.New(),
			PatientID:         f.patient.UserID,
			DoctorID:          f.doctor,
			ScheduledTime:     at,
			Status:            appointment.StatusScheduled,
			EstimatedDuration: 15 * time.Minute,
		})
		if err != nil {
			return err
		}
		if status == appointment.StatusScheduled {
			out = created
			return nil
		}
		next := *created
		next.Status = status
		next.ActualStartTime = start
		next.ActualEndTime = end
		out, err = repo.UpdateAppointment(ctx, &next, appointment.StatusScheduled)
		return err
	}))
	return *out
}

func at(h, m int) time.Time {
	return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

func ptr(t time.Time) *time.Time { return &t }

func TestWaitTime_UsesHistoryAndSameDayQueue(t *testing.T) {
	// GIVEN: three completions yesterday (10, 20, 30 min) and one patient
	// ahead today at 10:30, with a 10:00 slot on another day ignored
	f := newFixture(t, at(10, 40))

	yesterday := day.Add(-24 * time.Hour)
	for i, d := range []time.Duration{10, 20, 30} {
		start := yesterday.Add(time.Duration(9+i) * time.Hour)
		f.add(start, appointment.StatusCompleted, ptr(start), ptr(start.Add(d*time.Minute)))
	}
	f.add(day.Add(24*time.Hour+10*time.Hour), appointment.StatusScheduled, nil, nil)
	f.add(at(10, 30), appointment.StatusScheduled, nil, nil)
	target := f.add(at(11, 0), appointment.StatusScheduled, nil, nil)

	// WHEN
	p, err := f.svc.WaitTime(context.Background(), f.patient, target.ID)
	require.NoError(t, err)

	// THEN: avg 20m, base = max(10:40, 10:30) + 1*20m = 11:00
	assert.Equal(t, 20.0, p.AvgConsultationMinutes)
	assert.Equal(t, 2, p.QueuePosition)
	assert.Equal(t, at(11, 0), *p.PredictedStartTime)
	assert.Equal(t, 0.0, p.DelayMinutes)
}

func TestWaitTime_InProgressTarget(t *testing.T) {
	f := newFixture(t, at(9, 5))
	target := f.add(at(9, 0), appointment.StatusInProgress, ptr(at(9, 1)), nil)

	p, err := f.svc.WaitTime(context.Background(), f.patient, target.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusInProgress, p.Status)
	assert.Equal(t, 0, p.QueuePosition)
}

func TestWaitTime_CompletedIsNotApplicable(t *testing.T) {
	f := newFixture(t, at(12, 0))
	target := f.add(at(9, 0), appointment.StatusCompleted, ptr(at(9, 0)), ptr(at(9, 20)))

	_, err := f.svc.WaitTime(context.Background(), f.patient, target.ID)
	assert.ErrorIs(t, err, queue.ErrNotApplicable)
}

func TestWaitTime_OtherPatientForbidden(t *testing.T) {
	f := newFixture(t, at(8, 0))
	target := f.add(at(9, 0), appointment.StatusScheduled, nil, nil)

	_, err := f.svc.WaitTime(context.Background(), auth.Actor{UserID: uuid.New(), Role: auth.RolePatient}, target.ID)
	assert.ErrorIs(t, err, queue.ErrForbidden)

	_, err = f.svc.WaitTime(context.Background(), auth.Actor{UserID: uuid.New(), Role: auth.RoleDoctor}, target.ID)
	assert.NoError(t, err)
}

func TestDoctorQueue_TodayOpenAppointmentsInOrder(t *testing.T) {
	f := newFixture(t, at(8, 0))
	second := f.add(at(11, 0), appointment.StatusScheduled, nil, nil)
	first := f.add(at(9, 0), appointment.StatusInProgress, ptr(at(9, 0)), nil)
	f.add(at(10, 0), appointment.StatusCompleted, ptr(at(10, 0)), ptr(at(10, 15)))
	f.add(day.Add(30*time.Hour), appointment.StatusScheduled, nil, nil)

	q, err := f.svc.DoctorQueue(context.Background(), f.doctor, time.Time{})
	require.NoError(t, err)

	assert.Equal(t, day, q.Date)
	require.Len(t, q.Appointments, 2)
	assert.Equal(t, first.ID, q.Appointments[0].ID)
	assert.Equal(t, second.ID, q.Appointments[1].ID)

	_, err = f.svc.DoctorQueue(context.Background(), uuid.New(), time.Time{})
	assert.ErrorIs(t, err, appointment.ErrDoctorNotFound)
}
