package queue

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/telemed-queue/internal/appointment"
	"github.com/hackgods/telemed-queue/internal/config"
)

var target = time.Date(2025, 3, 10, 11, 0, 0, 0, time.UTC)

func predictor() Predictor {
	return NewPredictor(config.DefaultClinic())
}

func scheduled(at time.Time) appointment.Appointment {
	return appointment.Appointment{ID: uuid.New(), ScheduledTime: at, Status: appointment.StatusScheduled}
}

func completed(end time.Time, d time.Duration) appointment.Appointment {
	start := end.Add(-d)
	return appointment.Appointment{
		ID:              uuid.New(),
		Status:          appointment.StatusCompleted,
		ActualStartTime: &start,
		ActualEndTime:   &end,
	}
}

func TestPredict_NoHistoryDefaultsTo15(t *testing.T) {
	appt := scheduled(target)

	p, err := predictor().Predict(Input{
		Target:  appt,
		Now:     target.Add(-time.Hour),
		SameDay: []appointment.Appointment{appt},
	})
	require.NoError(t, err)

	assert.Equal(t, 15.0, p.AvgConsultationMinutes)
	assert.Equal(t, 1, p.QueuePosition)
	assert.Equal(t, 0, p.PeopleAhead)
	assert.Equal(t, 0.0, p.DelayMinutes)
	require.NotNil(t, p.PredictedStartTime)
	assert.Equal(t, target, *p.PredictedStartTime)
	assert.Equal(t, StatusWaiting, p.Status)
}

func TestPredict_AveragesRecentCompletions(t *testing.T) {
	end := target.Add(-3 * time.Hour)
	recent := []appointment.Appointment{
		completed(end, 10*time.Minute),
		completed(end.Add(-time.Hour), 20*time.Minute),
		completed(end.Add(-2*time.Hour), 30*time.Minute),
	}

	p, err := predictor().Predict(Input{Target: scheduled(target), Now: end, Recent: recent})
	require.NoError(t, err)

	assert.Equal(t, 20.0, p.AvgConsultationMinutes)
}

func TestAverageConsultation_FloorAndHistoryCap(t *testing.T) {
	pr := predictor()
	end := target.Add(-time.Hour)

	short := []appointment.Appointment{completed(end, 5*time.Minute), completed(end, 8*time.Minute)}
	assert.Equal(t, 15*time.Minute, pr.AverageConsultation(short))

	// eleven samples: only the ten most recent count
	var many []appointment.Appointment
	for i := 0; i < 10; i++ {
		many = append(many, completed(end.Add(-time.Duration(i)*time.Hour), 20*time.Minute))
	}
	many = append(many, completed(end.Add(-24*time.Hour), 200*time.Minute))
	assert.Equal(t, 20*time.Minute, pr.AverageConsultation(many))

	// samples missing a timestamp are ignored
	open := appointment.Appointment{Status: appointment.StatusCompleted}
	assert.Equal(t, 15*time.Minute, pr.AverageConsultation([]appointment.Appointment{open}))
}

func TestPredict_OneAhead(t *testing.T) {
	appt := scheduled(target)
	ahead := scheduled(target.Add(-15 * time.Minute))
	sameDay := []appointment.Appointment{ahead, appt}

	t.Run("on time when the earlier patient starts as planned", func(t *testing.T) {
		p, err := predictor().Predict(Input{Target: appt, Now: target.Add(-time.Hour), SameDay: sameDay})
		require.NoError(t, err)

		// max(now, T-15m) + 1*15m = T
		assert.Equal(t, 2, p.QueuePosition)
		assert.Equal(t, 1, p.PeopleAhead)
		assert.Equal(t, target, *p.PredictedStartTime)
		assert.Equal(t, 0.0, p.DelayMinutes)
		assert.Equal(t, 0.0, p.EstimatedWaitMinutes)
	})

	t.Run("late when now is past the earlier slot", func(t *testing.T) {
		now := target.Add(-10 * time.Minute)
		p, err := predictor().Predict(Input{Target: appt, Now: now, SameDay: sameDay})
		require.NoError(t, err)

		// max(now, T-15m) + 15m = T+5m
		assert.Equal(t, target.Add(5*time.Minute), *p.PredictedStartTime)
		assert.Equal(t, 5.0, p.DelayMinutes)
		assert.Equal(t, 5.0, p.EstimatedWaitMinutes)
	})
}

func TestPredict_LaterAppointmentDoesNotDelay(t *testing.T) {
	appt := scheduled(target)
	later := scheduled(target.Add(time.Hour))

	p, err := predictor().Predict(Input{
		Target:  appt,
		Now:     target.Add(-5 * time.Minute),
		SameDay: []appointment.Appointment{appt, later},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, p.QueuePosition)
	assert.Equal(t, target, *p.PredictedStartTime)
	assert.Equal(t, 0.0, p.DelayMinutes)
}

func TestPredict_InProgressConsultation(t *testing.T) {
	// GIVEN: the doctor started the previous patient 5 minutes ago
	now := target.Add(-10 * time.Minute)
	startedAt := now.Add(-5 * time.Minute)
	current := scheduled(target.Add(-20 * time.Minute))
	current.Status = appointment.StatusInProgress
	current.ActualStartTime = &startedAt

	appt := scheduled(target)

	p, err := predictor().Predict(Input{
		Target:     appt,
		Now:        now,
		InProgress: &current,
		SameDay:    []appointment.Appointment{current, appt},
	})
	require.NoError(t, err)

	// remaining 10m + 1 ahead * 15m from now = T+15m
	assert.Equal(t, 1, p.PeopleAhead)
	assert.Equal(t, target.Add(15*time.Minute), *p.PredictedStartTime)
	assert.Equal(t, 15.0, p.DelayMinutes)
}

func TestPredict_OverrunningConsultationHasNoNegativeRemainder(t *testing.T) {
	now := target.Add(-30 * time.Minute)
	startedAt := now.Add(-40 * time.Minute)
	current := appointment.Appointment{ID: uuid.New(), Status: appointment.StatusInProgress, ActualStartTime: &startedAt}

	p, err := predictor().Predict(Input{Target: scheduled(target), Now: now, InProgress: &current})
	require.NoError(t, err)

	// remaining clamps to zero, nobody ahead on the day: predicted = now, before T
	assert.Equal(t, target, *p.PredictedStartTime)
	assert.Equal(t, 0.0, p.DelayMinutes)
}

func TestPredict_StatusGuards(t *testing.T) {
	for _, s := range []appointment.AppointmentStatus{appointment.StatusCompleted, appointment.StatusCancelled} {
		a := scheduled(target)
		a.Status = s
		_, err := predictor().Predict(Input{Target: a, Now: target})
		assert.ErrorIs(t, err, ErrNotApplicable)
	}

	a := scheduled(target)
	a.Status = appointment.StatusInProgress
	p, err := predictor().Predict(Input{Target: a, Now: target})
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, p.Status)
	assert.Equal(t, 0, p.QueuePosition)
	assert.Nil(t, p.PredictedStartTime)
}

func TestPredict_RoundsToOneDecimal(t *testing.T) {
	end := target.Add(-time.Hour)
	recent := []appointment.Appointment{completed(end, 20*time.Minute+20*time.Second)}

	p, err := predictor().Predict(Input{Target: scheduled(target), Now: end, Recent: recent})
	require.NoError(t, err)
	assert.Equal(t, 20.3, p.AvgConsultationMinutes)
}

func TestDayBounds_UsesClinicTimezone(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)

	pr := predictor()
	pr.Location = loc

	// 20:00 UTC is 01:30 the next day in IST
	from, to := pr.DayBounds(time.Date(2025, 3, 10, 20, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2025, 3, 11, 0, 0, 0, 0, loc), from)
	assert.Equal(t, 24*time.Hour, to.Sub(from))
}
