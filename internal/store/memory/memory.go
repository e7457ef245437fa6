// Package memory provides an in-process appointment.Store for tests and
// local development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hackgods/telemed-queue/internal/appointment"
	"github.com/hackgods/telemed-queue/internal/ledger"
)

// Store serializes every unit of work behind one mutex, so doctor schedule
// and row locks need no separate bookkeeping. A failed WithinTx restores
// the snapshot taken when it began.
type Store struct {
	mu    sync.Mutex
	state state
	now   func() time.Time
}

type state struct {
	patients     map[uuid.UUID]appointment.Patient
	doctors      map[uuid.UUID]appointment.Doctor
	appointments map[uuid.UUID]appointment.Appointment
	wallets      map[uuid.UUID]ledger.Wallet // keyed by user id
	transactions []ledger.Transaction        // insertion order
	events       []appointment.EventLog
}

func New() *Store {
	return &Store{
		state: state{
			patients:     make(map[uuid.UUID]appointment.Patient),
			doctors:      make(map[uuid.UUID]appointment.Doctor),
			appointments: make(map[uuid.UUID]appointment.Appointment),
			wallets:      make(map[uuid.UUID]ledger.Wallet),
		},
		now: time.Now,
	}
}

func (st state) clone() state {
	c := state{
		patients:     make(map[uuid.UUID]appointment.Patient, len(st.patients)),
		doctors:      make(map[uuid.UUID]appointment.Doctor, len(st.doctors)),
		appointments: make(map[uuid.UUID]appointment.Appointment, len(st.appointments)),
		wallets:      make(map[uuid.UUID]ledger.Wallet, len(st.wallets)),
		transactions: append([]ledger.Transaction(nil), st.transactions...),
		events:       append([]appointment.EventLog(nil), st.events...),
	}
	for k, v := range st.patients {
		c.patients[k] = v
	}
	for k, v := range st.doctors {
		c.doctors[k] = v
	}
	for k, v := range st.appointments {
		c.appointments[k] = v
	}
	for k, v := range st.wallets {
		c.wallets[k] = v
	}
	return c
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx appointment.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snapshot := s.state.clone()
	if err := fn(ctx, &view{st: &s.state, now: s.now}); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

// ReadOnly runs fn against a private copy; anything it writes is discarded.
func (s *Store) ReadOnly(ctx context.Context, fn func(ctx context.Context, tx appointment.Tx) error) error {
	s.mu.Lock()
	snapshot := s.state.clone()
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx, &view{st: &snapshot, now: s.now})
}

// Events returns the event log rows recorded for an appointment.
func (s *Store) Events(appointmentID uuid.UUID) []appointment.EventLog {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []appointment.EventLog
	for _, ev := range s.state.events {
		if ev.AppointmentID != nil && *ev.AppointmentID == appointmentID {
			out = append(out, ev)
		}
	}
	return out
}

type view struct {
	st  *state
	now func() time.Time
}

func (v *view) Appointments() appointment.Repository { return (*appointmentRepo)(v) }
func (v *view) Wallets() ledger.Repository           { return (*walletRepo)(v) }

// appointment.Repository

type appointmentRepo view

func (r *appointmentRepo) GetPatientByID(_ context.Context, id uuid.UUID) (*appointment.Patient, error) {
	p, ok := r.st.patients[id]
	if !ok {
		return nil, appointment.ErrPatientNotFound
	}
	return &p, nil
}

func (r *appointmentRepo) GetDoctorByID(_ context.Context, id uuid.UUID) (*appointment.Doctor, error) {
	d, ok := r.st.doctors[id]
	if !ok {
		return nil, appointment.ErrDoctorNotFound
	}
	return &d, nil
}

func (r *appointmentRepo) SavePatient(_ context.Context, p *appointment.Patient) error {
	now := r.now().UTC()
	cp := *p
	if existing, ok := r.st.patients[p.ID]; ok {
		cp.CreatedAt = existing.CreatedAt
	} else {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	r.st.patients[p.ID] = cp
	return nil
}

func (r *appointmentRepo) SaveDoctor(_ context.Context, d *appointment.Doctor) error {
	now := r.now().UTC()
	cp := *d
	cp.ConsultationFee = d.ConsultationFee.Round(2)
	if existing, ok := r.st.doctors[d.ID]; ok {
		cp.CreatedAt = existing.CreatedAt
	} else {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	r.st.doctors[d.ID] = cp
	return nil
}

func (r *appointmentRepo) GetAppointmentByID(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	a, ok := r.st.appointments[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *appointmentRepo) GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	return r.GetAppointmentByID(ctx, id)
}

func (r *appointmentRepo) LockDoctorSchedule(context.Context, uuid.UUID) error {
	return nil
}

func (r *appointmentRepo) FindConflicting(_ context.Context, doctorID uuid.UUID, from, to time.Time) (*appointment.Appointment, error) {
	matches := r.filter(func(a appointment.Appointment) bool {
		return a.DoctorID == doctorID &&
			a.Status != appointment.StatusCancelled &&
			!a.ScheduledTime.Before(from) &&
			a.ScheduledTime.Before(to)
	})
	if len(matches) == 0 {
		return nil, nil
	}
	sortBySchedule(matches)
	return &matches[0], nil
}

func (r *appointmentRepo) CreateAppointment(_ context.Context, a *appointment.Appointment) (*appointment.Appointment, error) {
	now := r.now().UTC()
	cp := *a
	cp.IsPaid = false
	cp.CreatedAt = now
	cp.UpdatedAt = now
	r.st.appointments[cp.ID] = cp
	return &cp, nil
}

func (r *appointmentRepo) UpdateAppointment(_ context.Context, a *appointment.Appointment, from appointment.AppointmentStatus) (*appointment.Appointment, error) {
	current, ok := r.st.appointments[a.ID]
	if !ok || current.Status != from {
		return nil, appointment.ErrAppointmentNotFound
	}
	current.Status = a.Status
	current.ActualStartTime = a.ActualStartTime
	current.ActualEndTime = a.ActualEndTime
	current.IsPaid = a.IsPaid
	current.UpdatedAt = r.now().UTC()
	r.st.appointments[a.ID] = current
	return &current, nil
}

func (r *appointmentRepo) ListDoctorAppointments(_ context.Context, doctorID uuid.UUID, from, to time.Time, statuses ...appointment.AppointmentStatus) ([]appointment.Appointment, error) {
	result := r.filter(func(a appointment.Appointment) bool {
		return a.DoctorID == doctorID &&
			hasStatus(a.Status, statuses) &&
			!a.ScheduledTime.Before(from) &&
			a.ScheduledTime.Before(to)
	})
	sortBySchedule(result)
	return result, nil
}

func (r *appointmentRepo) RecentCompleted(_ context.Context, doctorID uuid.UUID, limit int) ([]appointment.Appointment, error) {
	result := r.filter(func(a appointment.Appointment) bool {
		return a.DoctorID == doctorID &&
			a.Status == appointment.StatusCompleted &&
			a.ActualStartTime != nil &&
			a.ActualEndTime != nil
	})
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].ActualEndTime.After(*result[j].ActualEndTime)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *appointmentRepo) FirstInProgress(_ context.Context, doctorID uuid.UUID) (*appointment.Appointment, error) {
	result := r.filter(func(a appointment.Appointment) bool {
		return a.DoctorID == doctorID && a.Status == appointment.StatusInProgress
	})
	if len(result) == 0 {
		return nil, appointment.ErrAppointmentNotFound
	}
	sort.SliceStable(result, func(i, j int) bool {
		si, sj := result[i].ActualStartTime, result[j].ActualStartTime
		switch {
		case si == nil:
			return false
		case sj == nil:
			return true
		default:
			return si.Before(*sj)
		}
	})
	return &result[0], nil
}

func (r *appointmentRepo) ListAppointmentsByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]appointment.Appointment, error) {
	result := r.filter(func(a appointment.Appointment) bool { return a.PatientID == patientID })
	return pageNewestFirst(result, limit, offset), nil
}

func (r *appointmentRepo) ListAppointmentsByDoctor(_ context.Context, doctorID uuid.UUID, limit, offset int) ([]appointment.Appointment, error) {
	result := r.filter(func(a appointment.Appointment) bool { return a.DoctorID == doctorID })
	return pageNewestFirst(result, limit, offset), nil
}

func (r *appointmentRepo) InsertEvent(_ context.Context, ev appointment.EventLog) error {
	ev.ID = int64(len(r.st.events) + 1)
	r.st.events = append(r.st.events, ev)
	return nil
}

func (r *appointmentRepo) filter(keep func(appointment.Appointment) bool) []appointment.Appointment {
	result := []appointment.Appointment{}
	for _, a := range r.st.appointments {
		if keep(a) {
			result = append(result, a)
		}
	}
	return result
}

func sortBySchedule(as []appointment.Appointment) {
	sort.SliceStable(as, func(i, j int) bool {
		if as[i].ScheduledTime.Equal(as[j].ScheduledTime) {
			return as[i].CreatedAt.Before(as[j].CreatedAt)
		}
		return as[i].ScheduledTime.Before(as[j].ScheduledTime)
	})
}

func pageNewestFirst(as []appointment.Appointment, limit, offset int) []appointment.Appointment {
	sort.SliceStable(as, func(i, j int) bool {
		return as[i].ScheduledTime.After(as[j].ScheduledTime)
	})
	if offset >= len(as) {
		return []appointment.Appointment{}
	}
	as = as[offset:]
	if len(as) > limit {
		as = as[:limit]
	}
	return as
}

func hasStatus(s appointment.AppointmentStatus, statuses []appointment.AppointmentStatus) bool {
	for _, candidate := range statuses {
		if s == candidate {
			return true
		}
	}
	return false
}

// ledger.Repository

type walletRepo view

func (r *walletRepo) LockWallet(_ context.Context, userID uuid.UUID) (*ledger.Wallet, error) {
	w, ok := r.st.wallets[userID]
	if !ok {
		now := r.now().UTC()
		w = ledger.Wallet{
			ID:        uuid.New(),
			UserID:    userID,
			Balance:   decimal.Zero,
			CreatedAt: now,
			UpdatedAt: now,
		}
		r.st.wallets[userID] = w
	}
	return &w, nil
}

func (r *walletRepo) GetWallet(_ context.Context, userID uuid.UUID) (*ledger.Wallet, error) {
	w, ok := r.st.wallets[userID]
	if !ok {
		return nil, ledger.ErrWalletNotFound
	}
	return &w, nil
}

func (r *walletRepo) ListWallets(context.Context) ([]ledger.Wallet, error) {
	result := make([]ledger.Wallet, 0, len(r.st.wallets))
	for _, w := range r.st.wallets {
		result = append(result, w)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (r *walletRepo) SaveBalance(_ context.Context, walletID uuid.UUID, balance decimal.Decimal) error {
	for userID, w := range r.st.wallets {
		if w.ID == walletID {
			w.Balance = balance
			w.UpdatedAt = r.now().UTC()
			r.st.wallets[userID] = w
			return nil
		}
	}
	return ledger.ErrWalletNotFound
}

func (r *walletRepo) InsertTransaction(_ context.Context, tx *ledger.Transaction) error {
	r.st.transactions = append(r.st.transactions, *tx)
	return nil
}

func (r *walletRepo) ListTransactions(_ context.Context, walletID uuid.UUID, limit, offset int) ([]ledger.Transaction, error) {
	var result []ledger.Transaction
	for i := len(r.st.transactions) - 1; i >= 0; i-- {
		if r.st.transactions[i].WalletID == walletID {
			result = append(result, r.st.transactions[i])
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if offset >= len(result) {
		return []ledger.Transaction{}, nil
	}
	result = result[offset:]
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *walletRepo) FindByAppointment(_ context.Context, appointmentID uuid.UUID, reason ledger.Reason) ([]ledger.Transaction, error) {
	result := []ledger.Transaction{}
	for _, t := range r.st.transactions {
		if t.AppointmentID != nil && *t.AppointmentID == appointmentID && t.Reason == reason {
			result = append(result, t)
		}
	}
	return result, nil
}

func (r *walletRepo) SumTransactions(_ context.Context, walletID uuid.UUID) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, t := range r.st.transactions {
		if t.WalletID == walletID {
			sum = sum.Add(t.Amount)
		}
	}
	return sum, nil
}
