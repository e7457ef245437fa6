package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/telemed-queue/internal/auth"
	"github.com/hackgods/telemed-queue/internal/config"
	"github.com/hackgods/telemed-queue/internal/db"
	"github.com/hackgods/telemed-queue/internal/logging"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	BookingRatio float64
	PayRatio     float64
	CancelRatio  float64
	ReadRatio    float64
	PatientLimit int
	DoctorLimit  int
	HorizonDays  int
}

type booked struct {
	ID      uuid.UUID
	Patient uuid.UUID
}

type DataPool struct {
	Patients []uuid.UUID
	Doctors  []uuid.UUID

	tokens *auth.Tokens

	mu           sync.RWMutex
	appointments []booked
	bearer       map[uuid.UUID]string
}

func (dp *DataPool) AddAppointment(b booked) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, b)
}

func (dp *DataPool) GetRandomAppointment(rng *rand.Rand) (booked, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return booked{}, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

// Token returns a cached bearer token for the user.
func (dp *DataPool) Token(id uuid.UUID, role auth.Role) string {
	dp.mu.RLock()
	tok, ok := dp.bearer[id]
	dp.mu.RUnlock()
	if ok {
		return tok
	}

	tok, err := dp.tokens.Issue(auth.Actor{UserID: id, Role: role}, 2*time.Hour)
	if err != nil {
		return ""
	}
	dp.mu.Lock()
	dp.bearer[id] = tok
	dp.mu.Unlock()
	return tok
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
	case conflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]
	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	Booking  OperationMetrics
	Pay      OperationMetrics
	Cancel   OperationMetrics
	WaitTime OperationMetrics
	Wallet   OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	log     zerolog.Logger
}

func main() {
	cfg := SimConfig{}

	rootCmd := &cobra.Command{
		Use:   "simulate",
		Short: "Drive concurrent booking, payment, cancellation and wait-time traffic",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}
	f := rootCmd.Flags()
	f.StringVar(&cfg.APIBaseURL, "api", "http://localhost:8080", "API base URL")
	f.DurationVar(&cfg.Duration, "duration", 30*time.Second, "how long to run")
	f.IntVar(&cfg.Workers, "workers", 10, "concurrent workers")
	f.Float64Var(&cfg.BookingRatio, "booking-ratio", 0.4, "share of booking requests")
	f.Float64Var(&cfg.PayRatio, "pay-ratio", 0.2, "share of payment requests")
	f.Float64Var(&cfg.CancelRatio, "cancel-ratio", 0.1, "share of cancellation requests")
	f.Float64Var(&cfg.ReadRatio, "read-ratio", 0.3, "share of wait-time and wallet reads")
	f.IntVar(&cfg.PatientLimit, "patients", 2000, "patients to load")
	f.IntVar(&cfg.DoctorLimit, "doctors", 50, "doctors to load")
	f.IntVar(&cfg.HorizonDays, "horizon-days", 7, "book up to this many days ahead")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, simCfg SimConfig) error {
	if err := normalize(&simCfg); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.New(cfg.Env, cfg.LogLevel).With().Str("service", "simulate").Logger()

	logger.Info().
		Dur("duration", simCfg.Duration).
		Int("workers", simCfg.Workers).
		Float64("booking", simCfg.BookingRatio).
		Float64("pay", simCfg.PayRatio).
		Float64("cancel", simCfg.CancelRatio).
		Float64("read", simCfg.ReadRatio).
		Msg("simulator starting")

	loadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(loadCtx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(loadCtx, pgPool, simCfg, auth.NewTokens(cfg.JWTSecret))
	if err != nil {
		return fmt.Errorf("load data pool: %w", err)
	}
	logger.Info().Int("patients", len(dataPool.Patients)).Int("doctors", len(dataPool.Doctors)).Msg("data loaded")

	sim := &Simulator{
		config: simCfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    logger,
	}

	sim.Run(ctx)
	sim.PrintReport()
	return nil
}

func normalize(cfg *SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("--workers must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("--duration must be > 0")
	}
	if cfg.HorizonDays <= 0 {
		return fmt.Errorf("--horizon-days must be > 0")
	}

	total := cfg.BookingRatio + cfg.PayRatio + cfg.CancelRatio + cfg.ReadRatio
	if total <= 0 {
		return fmt.Errorf("at least one ratio must be positive")
	}
	cfg.BookingRatio /= total
	cfg.PayRatio /= total
	cfg.CancelRatio /= total
	cfg.ReadRatio /= total
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig, tokens *auth.Tokens) (*DataPool, error) {
	dataPool := &DataPool{tokens: tokens, bearer: make(map[uuid.UUID]string)}

	var err error
	dataPool.Patients, err = loadIDs(ctx, pool, `SELECT id FROM patients LIMIT $1`, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	dataPool.Doctors, err = loadIDs(ctx, pool, `SELECT id FROM doctors WHERE consultation_fee > 0 LIMIT $1`, cfg.DoctorLimit)
	if err != nil {
		return nil, fmt.Errorf("load doctors: %w", err)
	}

	if len(dataPool.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded, run seed first")
	}
	if len(dataPool.Doctors) == 0 {
		return nil, fmt.Errorf("no doctors loaded, run seed first")
	}
	return dataPool, nil
}

func loadIDs(ctx context.Context, pool *pgxpool.Pool, query string, limit int) ([]uuid.UUID, error) {
	rows, err := pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Simulator) Run(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, s.config.Duration)
	defer cancel()

	s.log.Info().Msg("simulation running")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			s.doBooking(ctx, rng)
		case r < s.config.BookingRatio+s.config.PayRatio:
			s.doPay(ctx, rng)
		case r < s.config.BookingRatio+s.config.PayRatio+s.config.CancelRatio:
			s.doCancel(ctx, rng)
		default:
			if rng.Intn(2) == 0 {
				s.doWaitTime(ctx, rng)
			} else {
				s.doWallet(ctx, rng)
			}
		}
	}
}

// randomSlot picks a quarter-hour between 09:00 and 17:00 UTC within the horizon.
func (s *Simulator) randomSlot(rng *rand.Rand) time.Time {
	day := time.Now().UTC().Truncate(24*time.Hour).AddDate(0, 0, 1+rng.Intn(s.config.HorizonDays))
	return day.Add(9*time.Hour + time.Duration(rng.Intn(32))*15*time.Minute)
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	patient := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	doctor := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]

	body, _ := json.Marshal(map[string]any{
		"doctor_id":      doctor,
		"scheduled_time": s.randomSlot(rng).Format(time.RFC3339),
	})

	status, respBody, latency, err := s.call(ctx, http.MethodPost, "/appointments", s.pool.Token(patient, auth.RolePatient), body)

	success := err == nil && status == http.StatusCreated
	if success {
		var appt struct {
			ID uuid.UUID `json:"id"`
		}
		if json.Unmarshal(respBody, &appt) == nil && appt.ID != uuid.Nil {
			s.pool.AddAppointment(booked{ID: appt.ID, Patient: patient})
		}
	}
	s.metrics.Booking.Record(latency, success, err == nil && status == http.StatusConflict)
}

func (s *Simulator) doPay(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}

	status, _, latency, err := s.call(ctx, http.MethodPost,
		fmt.Sprintf("/appointments/%s/pay", b.ID), s.pool.Token(b.Patient, auth.RolePatient), nil)

	// already paid and insufficient funds are expected outcomes under load
	expected := status == http.StatusConflict || status == http.StatusPaymentRequired
	s.metrics.Pay.Record(latency, err == nil && status == http.StatusOK, err == nil && expected)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}

	status, _, latency, err := s.call(ctx, http.MethodPost,
		fmt.Sprintf("/appointments/%s/cancel", b.ID), s.pool.Token(b.Patient, auth.RolePatient), nil)

	s.metrics.Cancel.Record(latency, err == nil && status == http.StatusOK, err == nil && status == http.StatusConflict)
}

func (s *Simulator) doWaitTime(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}

	status, _, latency, err := s.call(ctx, http.MethodGet,
		fmt.Sprintf("/appointments/%s/wait-time", b.ID), s.pool.Token(b.Patient, auth.RolePatient), nil)

	// cancelled appointments have no prediction
	s.metrics.WaitTime.Record(latency, err == nil && status == http.StatusOK, err == nil && status == http.StatusBadRequest)
}

func (s *Simulator) doWallet(ctx context.Context, rng *rand.Rand) {
	patient := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	status, _, latency, err := s.call(ctx, http.MethodGet, "/wallet", s.pool.Token(patient, auth.RolePatient), nil)
	s.metrics.Wallet.Record(latency, err == nil && status == http.StatusOK, false)
}

func (s *Simulator) call(ctx context.Context, method, path, token string, body []byte) (int, []byte, time.Duration, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, time.Since(start), err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	return resp.StatusCode, respBody, time.Since(start), err
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Pay", &s.metrics.Pay)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Wait time", &s.metrics.WaitTime)
	printOperationReport("Wallet", &s.metrics.Wallet)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Rejected: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}
