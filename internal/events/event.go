package events

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	AppointmentBooked    = "APPOINTMENT_BOOKED"
	AppointmentStarted   = "APPOINTMENT_STARTED"
	AppointmentCompleted = "APPOINTMENT_COMPLETED"
	AppointmentCancelled = "APPOINTMENT_CANCELLED"
	AppointmentPaid      = "APPOINTMENT_PAID"
	AppointmentRefunded  = "APPOINTMENT_REFUNDED"
)

// Event is published after the transaction that produced it commits.
type Event struct {
	Type          string         `json:"type"`
	AppointmentID uuid.UUID      `json:"appointment_id"`
	PatientID     uuid.UUID      `json:"patient_id"`
	DoctorID      uuid.UUID      `json:"doctor_id"`
	OccurredAt    time.Time      `json:"occurred_at"`
	Data          map[string]any `json:"data,omitempty"`
}

// RoutingKey maps APPOINTMENT_PAID to appointment.paid.
func (e Event) RoutingKey() string {
	return strings.ToLower(strings.Replace(e.Type, "_", ".", 1))
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// LogPublisher only logs; used when no broker is configured.
type LogPublisher struct {
	log zerolog.Logger
}

func NewLogPublisher(log zerolog.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(_ context.Context, ev Event) error {
	p.log.Info().
		Str("event", ev.Type).
		Str("appointment_id", ev.AppointmentID.String()).
		Str("routing_key", ev.RoutingKey()).
		Msg("domain event")
	return nil
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}
