package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/hackgods/telemed-queue/internal/appointment"
	"github.com/hackgods/telemed-queue/internal/ledger"
	"github.com/hackgods/telemed-queue/internal/queue"
	"github.com/hackgods/telemed-queue/internal/settlement"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// handleServiceError maps domain errors from any service onto a status code.
// Unknown errors are logged and reported as 500 without internals.
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var funds *ledger.InsufficientFundsError
	var conflict *appointment.SlotConflictError

	switch {
	case errors.As(err, &funds):
		writeJSON(w, http.StatusPaymentRequired, ErrorResponse{
			Error:     "insufficient_funds",
			Details:   funds.Error(),
			Required:  funds.Required.StringFixed(2),
			Available: funds.Available.StringFixed(2),
		})
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:         "slot_conflict",
			Details:       conflict.Error(),
			ConflictingID: conflict.ConflictingID.String(),
		})

	case errors.Is(err, appointment.ErrValidation),
		errors.Is(err, ledger.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, queue.ErrNotApplicable):
		writeError(w, http.StatusBadRequest, "not_applicable", err.Error())
	case errors.Is(err, settlement.ErrNoFee):
		writeError(w, http.StatusBadRequest, "no_consultation_fee", err.Error())

	case errors.Is(err, appointment.ErrForbidden),
		errors.Is(err, queue.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())

	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, appointment.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, ledger.ErrWalletNotFound):
		writeError(w, http.StatusNotFound, "wallet_not_found", err.Error())
	case errors.Is(err, settlement.ErrPaymentNotFound):
		writeError(w, http.StatusNotFound, "payment_not_found", err.Error())

	case errors.Is(err, appointment.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, settlement.ErrAlreadyPaid):
		writeError(w, http.StatusConflict, "already_paid", err.Error())
	case errors.Is(err, settlement.ErrAlreadyRefunded):
		writeError(w, http.StatusConflict, "already_refunded", err.Error())
	case errors.Is(err, appointment.ErrDoctorBusy),
		errors.Is(err, appointment.ErrAppointmentBusy):
		writeError(w, http.StatusConflict, "resource_busy", err.Error())

	default:
		zerolog.Ctx(r.Context()).Error().Err(err).
			Str("path", r.URL.Path).
			Msg("unhandled service error")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
