package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hackgods/telemed-queue/internal/appointment"
	"github.com/hackgods/telemed-queue/internal/ledger"
	"github.com/hackgods/telemed-queue/internal/queue"
	"github.com/hackgods/telemed-queue/internal/settlement"
)

type BookAppointmentRequest struct {
	DoctorID                 uuid.UUID  `json:"doctor_id"`
	ScheduledTime            time.Time  `json:"scheduled_time"`
	EstimatedDurationMinutes *int       `json:"estimated_duration_minutes,omitempty"`
	JourneyStepID            *uuid.UUID `json:"journey_step_id,omitempty"`
}

type AmountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type AppointmentResponse struct {
	ID                       uuid.UUID  `json:"id"`
	PatientID                uuid.UUID  `json:"patient_id"`
	DoctorID                 uuid.UUID  `json:"doctor_id"`
	ScheduledTime            time.Time  `json:"scheduled_time"`
	Status                   string     `json:"status"`
	EstimatedDurationMinutes int        `json:"estimated_duration_minutes"`
	ActualStartTime          *time.Time `json:"actual_start_time,omitempty"`
	ActualEndTime            *time.Time `json:"actual_end_time,omitempty"`
	ActualDurationMinutes    *float64   `json:"actual_duration_minutes,omitempty"`
	IsPaid                   bool       `json:"is_paid"`
	JourneyStepID            *uuid.UUID `json:"journey_step_id,omitempty"`
	CreatedAt                time.Time  `json:"created_at"`
	UpdatedAt                time.Time  `json:"updated_at"`
}

type AppointmentDetailResponse struct {
	AppointmentResponse
	PatientName     string `json:"patient_name,omitempty"`
	DoctorName      string `json:"doctor_name,omitempty"`
	Specialization  string `json:"specialization,omitempty"`
	ConsultationFee string `json:"consultation_fee,omitempty"`
}

type PaymentResponse struct {
	Appointment       AppointmentResponse `json:"appointment"`
	ConsultationFee   string              `json:"consultation_fee"`
	PlatformFee       string              `json:"platform_fee"`
	TotalPaid         string              `json:"total_paid"`
	PatientNewBalance string              `json:"patient_new_balance"`
}

type RefundResponse struct {
	RefundAmount      string `json:"refund_amount"`
	CancellationFee   string `json:"cancellation_fee"`
	PatientNewBalance string `json:"patient_new_balance"`
	DoctorDebited     bool   `json:"doctor_debited"`
}

type CancelResponse struct {
	Appointment AppointmentResponse `json:"appointment"`
	Refund      *RefundResponse     `json:"refund,omitempty"`
}

type WaitTimeResponse struct {
	AppointmentID          uuid.UUID  `json:"appointment_id"`
	Status                 string     `json:"status"`
	QueuePosition          int        `json:"queue_position"`
	PeopleAhead            int        `json:"people_ahead"`
	AvgConsultationMinutes float64    `json:"avg_consultation_minutes"`
	EstimatedWaitMinutes   float64    `json:"estimated_wait_minutes"`
	PredictedStartTime     *time.Time `json:"predicted_start_time"`
	DelayMinutes           float64    `json:"delay_minutes"`
}

type DoctorQueueResponse struct {
	DoctorID     uuid.UUID             `json:"doctor_id"`
	Date         string                `json:"date"`
	Appointments []AppointmentResponse `json:"appointments"`
}

type TransactionResponse struct {
	ID            uuid.UUID  `json:"id"`
	Amount        string     `json:"amount"`
	Type          string     `json:"type"`
	Reason        string     `json:"reason"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
	Description   string     `json:"description,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

type WalletResponse struct {
	WalletID           uuid.UUID             `json:"wallet_id"`
	Balance            string                `json:"balance"`
	RecentTransactions []TransactionResponse `json:"recent_transactions"`
}

type MovementResponse struct {
	Transaction TransactionResponse `json:"transaction"`
	NewBalance  string              `json:"new_balance"`
}

type ErrorResponse struct {
	Error         string `json:"error"`
	Details       string `json:"details,omitempty"`
	Required      string `json:"required,omitempty"`
	Available     string `json:"available,omitempty"`
	ConflictingID string `json:"conflicting_appointment_id,omitempty"`
}

func toAppointmentResponse(a appointment.Appointment) AppointmentResponse {
	resp := AppointmentResponse{
		ID:                       a.ID,
		PatientID:                a.PatientID,
		DoctorID:                 a.DoctorID,
		ScheduledTime:            a.ScheduledTime,
		Status:                   string(a.Status),
		EstimatedDurationMinutes: int(a.EstimatedDuration / time.Minute),
		ActualStartTime:          a.ActualStartTime,
		ActualEndTime:            a.ActualEndTime,
		IsPaid:                   a.IsPaid,
		JourneyStepID:            a.JourneyStepID,
		CreatedAt:                a.CreatedAt,
		UpdatedAt:                a.UpdatedAt,
	}
	if d, ok := a.ActualDuration(); ok {
		minutes := d.Minutes()
		resp.ActualDurationMinutes = &minutes
	}
	return resp
}

func toAppointmentList(list []appointment.Appointment) []AppointmentResponse {
	out := make([]AppointmentResponse, 0, len(list))
	for _, a := range list {
		out = append(out, toAppointmentResponse(a))
	}
	return out
}

func toDetailResponse(d *appointment.AppointmentDetail) AppointmentDetailResponse {
	resp := AppointmentDetailResponse{AppointmentResponse: toAppointmentResponse(d.Appointment)}
	if d.Patient != nil {
		resp.PatientName = d.Patient.Name
	}
	if d.Doctor != nil {
		resp.DoctorName = d.Doctor.Name
		resp.Specialization = d.Doctor.Specialization
		resp.ConsultationFee = d.Doctor.ConsultationFee.StringFixed(2)
	}
	return resp
}

func toRefundResponse(r *settlement.RefundResult) *RefundResponse {
	if r == nil {
		return nil
	}
	return &RefundResponse{
		RefundAmount:      r.RefundAmount.StringFixed(2),
		CancellationFee:   r.CancellationFee.StringFixed(2),
		PatientNewBalance: r.PatientNewBalance.StringFixed(2),
		DoctorDebited:     r.DoctorDebited,
	}
}

func toWaitTimeResponse(id uuid.UUID, p *queue.Prediction) WaitTimeResponse {
	return WaitTimeResponse{
		AppointmentID:          id,
		Status:                 p.Status,
		QueuePosition:          p.QueuePosition,
		PeopleAhead:            p.PeopleAhead,
		AvgConsultationMinutes: p.AvgConsultationMinutes,
		EstimatedWaitMinutes:   p.EstimatedWaitMinutes,
		PredictedStartTime:     p.PredictedStartTime,
		DelayMinutes:           p.DelayMinutes,
	}
}

func toTransactionResponse(t ledger.Transaction) TransactionResponse {
	return TransactionResponse{
		ID:            t.ID,
		Amount:        t.Amount.StringFixed(2),
		Type:          string(t.Type),
		Reason:        string(t.Reason),
		AppointmentID: t.AppointmentID,
		Description:   t.Description,
		CreatedAt:     t.CreatedAt,
	}
}

func toTransactionList(list []ledger.Transaction) []TransactionResponse {
	out := make([]TransactionResponse, 0, len(list))
	for _, t := range list {
		out = append(out, toTransactionResponse(t))
	}
	return out
}
