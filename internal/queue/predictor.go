package queue

import (
	"errors"
	"math"
	"time"

	"github.com/hackgods/telemed-queue/internal/appointment"
	"github.com/hackgods/telemed-queue/internal/config"
)

var ErrNotApplicable = errors.New("appointment already completed or cancelled")

const (
	StatusWaiting    = "waiting"
	StatusInProgress = "in_progress"
)

type Prediction struct {
	QueuePosition          int
	PeopleAhead            int
	AvgConsultationMinutes float64
	EstimatedWaitMinutes   float64
	// PredictedStartTime is nil while the consultation is in progress.
	PredictedStartTime *time.Time
	DelayMinutes       float64
	Status             string
}

// Input is everything the predictor reads, taken from one snapshot.
type Input struct {
	Target appointment.Appointment
	Now    time.Time
	// Recent completed appointments of the doctor, most recently ended first.
	Recent []appointment.Appointment
	// InProgress is the doctor's current consultation, if any.
	InProgress *appointment.Appointment
	// SameDay holds the doctor's SCHEDULED and IN_PROGRESS appointments on
	// the target's calendar day, target included.
	SameDay []appointment.Appointment
}

type Predictor struct {
	DefaultConsultation time.Duration
	MinConsultation     time.Duration
	HistorySize         int
	Location            *time.Location
}

func NewPredictor(clinic config.ClinicConfig) Predictor {
	return Predictor{
		DefaultConsultation: clinic.DefaultConsultation,
		MinConsultation:     clinic.MinConsultation,
		HistorySize:         clinic.HistorySize,
		Location:            clinic.Location,
	}
}

// DayBounds returns the calendar day containing t in the clinic timezone as [start, end).
func (p Predictor) DayBounds(t time.Time) (time.Time, time.Time) {
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

func (p Predictor) Predict(in Input) (Prediction, error) {
	target := in.Target

	switch target.Status {
	case appointment.StatusCompleted, appointment.StatusCancelled:
		return Prediction{}, ErrNotApplicable
	case appointment.StatusInProgress:
		return Prediction{Status: StatusInProgress}, nil
	case appointment.StatusScheduled:
	default:
		return Prediction{}, ErrNotApplicable
	}

	avg := p.AverageConsultation(in.Recent)

	ahead := 0
	scheduledAhead := 0
	othersScheduled := 0
	earliest := target.ScheduledTime
	for _, a := range in.SameDay {
		if a.Status == appointment.StatusScheduled && a.ScheduledTime.Before(earliest) {
			earliest = a.ScheduledTime
		}
		if a.ID == target.ID {
			continue
		}
		if a.Status == appointment.StatusScheduled {
			othersScheduled++
		}
		if !a.ScheduledTime.Before(target.ScheduledTime) {
			continue
		}
		switch a.Status {
		case appointment.StatusScheduled:
			ahead++
			scheduledAhead++
		case appointment.StatusInProgress:
			ahead++
		}
	}

	var predicted time.Time
	switch {
	case in.InProgress != nil && in.InProgress.ActualStartTime != nil:
		remaining := avg - in.Now.Sub(*in.InProgress.ActualStartTime)
		if remaining < 0 {
			remaining = 0
		}
		predicted = in.Now.Add(remaining + time.Duration(ahead)*avg)
	case othersScheduled > 0:
		base := earliest
		if in.Now.After(base) {
			base = in.Now
		}
		predicted = base.Add(time.Duration(scheduledAhead) * avg)
	default:
		predicted = target.ScheduledTime
	}

	var delay float64
	if predicted.After(target.ScheduledTime) {
		delay = predicted.Sub(target.ScheduledTime).Minutes()
	} else {
		predicted = target.ScheduledTime
	}

	return Prediction{
		QueuePosition:          ahead + 1,
		PeopleAhead:            ahead,
		AvgConsultationMinutes: round1(avg.Minutes()),
		EstimatedWaitMinutes:   round1(delay),
		PredictedStartTime:     &predicted,
		DelayMinutes:           round1(delay),
		Status:                 StatusWaiting,
	}, nil
}

// AverageConsultation is the mean actual duration of up to HistorySize
// samples, floored at MinConsultation. With no samples it is DefaultConsultation.
func (p Predictor) AverageConsultation(recent []appointment.Appointment) time.Duration {
	var total time.Duration
	n := 0
	for _, a := range recent {
		if n == p.HistorySize {
			break
		}
		d, ok := a.ActualDuration()
		if !ok {
			continue
		}
		total += d
		n++
	}

	if n == 0 {
		return p.DefaultConsultation
	}

	avg := total / time.Duration(n)
	if avg < p.MinConsultation {
		return p.MinConsultation
	}
	return avg
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
