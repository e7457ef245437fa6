package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/telemed-queue/internal/appointment"
	"github.com/hackgods/telemed-queue/internal/auth"
	"github.com/hackgods/telemed-queue/internal/queue"
)

func bookAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}

		var req BookAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if req.DoctorID == uuid.Nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id is required")
			return
		}

		book := appointment.BookRequest{
			DoctorID:      req.DoctorID,
			ScheduledTime: req.ScheduledTime,
			JourneyStepID: req.JourneyStepID,
		}
		if req.EstimatedDurationMinutes != nil {
			if *req.EstimatedDurationMinutes <= 0 {
				writeError(w, http.StatusBadRequest, "validation_error", "estimated_duration_minutes must be positive")
				return
			}
			book.EstimatedDuration = time.Duration(*req.EstimatedDurationMinutes) * time.Minute
		}

		appt, err := svc.Book(r.Context(), actor, book)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(*appt))
	}
}

func listAppointmentsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		limit, offset, ok := pageParams(w, r)
		if !ok {
			return
		}

		list, err := svc.List(r.Context(), actor, limit, offset)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentList(list))
	}
}

func getAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, id, ok := actorAndID(w, r)
		if !ok {
			return
		}

		detail, err := svc.Get(r.Context(), actor, id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toDetailResponse(detail))
	}
}

type transitionFunc func(ctx context.Context, actor auth.Actor, id uuid.UUID) (*appointment.Appointment, error)

// transitionHandler serves start and complete, which share a request shape.
func transitionHandler(fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, id, ok := actorAndID(w, r)
		if !ok {
			return
		}

		appt, err := fn(r.Context(), actor, id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(*appt))
	}
}

func cancelAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, id, ok := actorAndID(w, r)
		if !ok {
			return
		}

		res, err := svc.Cancel(r.Context(), actor, id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, CancelResponse{
			Appointment: toAppointmentResponse(*res.Appointment),
			Refund:      toRefundResponse(res.Refund),
		})
	}
}

func payAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, id, ok := actorAndID(w, r)
		if !ok {
			return
		}

		res, err := svc.Pay(r.Context(), actor, id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, PaymentResponse{
			Appointment:       toAppointmentResponse(*res.Appointment),
			ConsultationFee:   res.Payment.ConsultationFee.StringFixed(2),
			PlatformFee:       res.Payment.PlatformFee.StringFixed(2),
			TotalPaid:         res.Payment.TotalPaid.StringFixed(2),
			PatientNewBalance: res.Payment.PatientNewBalance.StringFixed(2),
		})
	}
}

func refundAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, id, ok := actorAndID(w, r)
		if !ok {
			return
		}

		res, err := svc.Refund(r.Context(), actor, id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toRefundResponse(res))
	}
}

func waitTimeHandler(svc *queue.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, id, ok := actorAndID(w, r)
		if !ok {
			return
		}

		prediction, err := svc.WaitTime(r.Context(), actor, id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toWaitTimeResponse(id, prediction))
	}
}

func doctorQueueHandler(svc *queue.Service, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := requireActor(w, r); !ok {
			return
		}

		doctorID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "id must be a valid UUID")
			return
		}

		var day time.Time
		if raw := r.URL.Query().Get("date"); raw != "" {
			day, err = time.ParseInLocation(time.DateOnly, raw, loc)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
				return
			}
		}

		q, err := svc.DoctorQueue(r.Context(), doctorID, day)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, DoctorQueueResponse{
			DoctorID:     q.DoctorID,
			Date:         q.Date.Format(time.DateOnly),
			Appointments: toAppointmentList(q.Appointments),
		})
	}
}

func requireActor(w http.ResponseWriter, r *http.Request) (auth.Actor, bool) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "missing bearer token")
	}
	return actor, ok
}

func actorAndID(w http.ResponseWriter, r *http.Request) (auth.Actor, uuid.UUID, bool) {
	actor, ok := requireActor(w, r)
	if !ok {
		return auth.Actor{}, uuid.Nil, false
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return auth.Actor{}, uuid.Nil, false
	}
	return actor, id, true
}

// pageParams reads limit and offset; the services clamp the values.
func pageParams(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	q := r.URL.Query()
	limit, offset := 0, 0

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be an integer")
			return 0, 0, false
		}
		limit = n
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_offset", "offset must be an integer")
			return 0, 0, false
		}
		offset = n
	}
	return limit, offset, true
}
