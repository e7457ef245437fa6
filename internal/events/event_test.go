package events

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoutingKey(t *testing.T) {
	assert.Equal(t, "appointment.paid", Event{Type: AppointmentPaid}.RoutingKey())
	assert.Equal(t, "appointment.booked", Event{Type: AppointmentBooked}.RoutingKey())
}

func TestRecorder(t *testing.T) {
	var r Recorder
	id := uuid.New()

	require.NoError(t, r.Publish(context.Background(), Event{Type: AppointmentBooked, AppointmentID: id}))
	require.NoError(t, r.Publish(context.Background(), Event{Type: AppointmentCancelled, AppointmentID: id}))

	assert.Equal(t, []string{AppointmentBooked, AppointmentCancelled}, r.Types())
	assert.Len(t, r.Events(), 2)
}
