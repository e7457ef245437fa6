package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/hackgods/telemed-queue/internal/appointment"
	"github.com/hackgods/telemed-queue/internal/auth"
	"github.com/hackgods/telemed-queue/internal/config"
	"github.com/hackgods/telemed-queue/internal/db"
	"github.com/hackgods/telemed-queue/internal/ledger"
	"github.com/hackgods/telemed-queue/internal/logging"
)

const batchSize = 500

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

type seedOptions struct {
	Doctors     int
	Patients    int
	Funds       string
	PrintTokens int
	TokenTTL    time.Duration
	Migrate     bool
}

func main() {
	opts := seedOptions{}

	rootCmd := &cobra.Command{
		Use:   "seed",
		Short: "Create doctors, funded patients and bearer tokens for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}
	f := rootCmd.Flags()
	f.IntVar(&opts.Doctors, "doctors", 50, "number of doctors")
	f.IntVar(&opts.Patients, "patients", 2000, "number of patients")
	f.StringVar(&opts.Funds, "funds", "5000.00", "opening wallet balance for each patient")
	f.IntVar(&opts.PrintTokens, "tokens", 3, "print bearer tokens for this many doctors and patients")
	f.DurationVar(&opts.TokenTTL, "token-ttl", 24*time.Hour, "lifetime of printed tokens")
	f.BoolVar(&opts.Migrate, "migrate", true, "apply the schema before seeding")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, opts seedOptions) error {
	funds, err := decimal.NewFromString(opts.Funds)
	if err != nil {
		return fmt.Errorf("invalid --funds: %w", err)
	}
	if err := ledger.ValidateAmount(funds); err != nil {
		return fmt.Errorf("invalid --funds: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.New(cfg.Env, cfg.LogLevel).With().Str("service", "seed").Logger()

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := db.ConnectPostgres(connectCtx, cfg.PostgresDSN)
	cancel()
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	if opts.Migrate {
		if err := db.Migrate(ctx, pool); err != nil {
			return err
		}
	}

	store := appointment.NewPgStore(pool)

	doctors, err := seedDoctors(ctx, store, opts.Doctors, logger)
	if err != nil {
		return fmt.Errorf("seed doctors: %w", err)
	}
	patients, err := seedPatients(ctx, store, opts.Patients, funds, logger)
	if err != nil {
		return fmt.Errorf("seed patients: %w", err)
	}
	logger.Info().Int("doctors", len(doctors)).Int("patients", len(patients)).Msg("seed complete")

	return printTokens(auth.NewTokens(cfg.JWTSecret), doctors, patients, opts)
}

func seedDoctors(ctx context.Context, store appointment.Store, count int, logger zerolog.Logger) ([]uuid.UUID, error) {
	logger.Info().Int("count", count).Msg("seeding doctors")

	ids := make([]uuid.UUID, 0, count)
	err := store.WithinTx(ctx, func(ctx context.Context, tx appointment.Tx) error {
		repo := tx.Appointments()
		for i := 0; i < count; i++ {
			d := &appointment.Doctor{
				ID:              uuid.New(),
				Name:            "Dr. " + gofakeit.Name(),
				Specialization:  specialties[gofakeit.Number(0, len(specialties)-1)],
				ConsultationFee: decimal.NewFromInt(int64(gofakeit.Number(3, 20) * 100)),
			}
			if err := repo.SaveDoctor(ctx, d); err != nil {
				return err
			}
			ids = append(ids, d.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// seedPatients commits in batches so a large seed does not hold one long
// transaction. Each patient's wallet is opened through the ledger so the
// opening balance has a matching TOP_UP transaction.
func seedPatients(ctx context.Context, store appointment.Store, count int, funds decimal.Decimal, logger zerolog.Logger) ([]uuid.UUID, error) {
	logger.Info().Int("count", count).Str("funds", funds.StringFixed(2)).Msg("seeding patients")

	ids := make([]uuid.UUID, 0, count)
	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		batch := make([]uuid.UUID, 0, end-offset)
		err := store.WithinTx(ctx, func(ctx context.Context, tx appointment.Tx) error {
			repo := tx.Appointments()
			l := ledger.New(tx.Wallets())

			for i := offset; i < end; i++ {
				email := gofakeit.Email()
				p := &appointment.Patient{
					ID:    uuid.New(),
					Name:  gofakeit.Name(),
					Email: &email,
				}
				if err := repo.SavePatient(ctx, p); err != nil {
					return err
				}
				if _, err := l.Credit(ctx, ledger.Entry{
					UserID:      p.ID,
					Amount:      funds,
					Reason:      ledger.ReasonTopUp,
					Description: "Opening balance",
				}); err != nil {
					return err
				}
				batch = append(batch, p.ID)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		ids = append(ids, batch...)

		logger.Info().Int("seeded", end).Int("total", count).Msg("patients seeded")
	}
	return ids, nil
}

func printTokens(tokens *auth.Tokens, doctors, patients []uuid.UUID, opts seedOptions) error {
	if opts.PrintTokens <= 0 {
		return nil
	}

	emit := func(role auth.Role, ids []uuid.UUID) error {
		for _, id := range ids[:min(opts.PrintTokens, len(ids))] {
			tok, err := tokens.Issue(auth.Actor{UserID: id, Role: role}, opts.TokenTTL)
			if err != nil {
				return err
			}
			fmt.Printf("%-8s %s %s\n", role, id, tok)
		}
		return nil
	}

	if err := emit(auth.RoleDoctor, doctors); err != nil {
		return err
	}
	if err := emit(auth.RolePatient, patients); err != nil {
		return err
	}

	tok, err := tokens.Issue(auth.Actor{UserID: uuid.New(), Role: auth.RoleProvider}, opts.TokenTTL)
	if err != nil {
		return err
	}
	fmt.Printf("%-8s %s\n", auth.RoleProvider, tok)
	return nil
}
