package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduling/internal/config"
	"github.com/hackgods/clinic-appointment-scheduling/internal/db"
	"github.com/hackgods/clinic-appointment-scheduling/internal/logging"
)

var clinicTimezones = []string{
	"UTC",
	"America/New_York",
	"America/Los_Angeles",
	"Europe/London",
	"Europe/Berlin",
	"Asia/Kolkata",
	"Australia/Sydney",
}

var blockReasons = []string{
	"Staff meeting",
	"Training",
	"Lunch",
	"Equipment maintenance",
	"Personal leave",
}

var durations = []int{15, 20, 30, 45, 60}

type seedOptions struct {
	clinics     int
	providers   int
	patients    int
	blocked     int
	seed        int64
	skipMigrate bool
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "seed",
		Short: "Populate Postgres with clinics, providers, patients and blocked slots",
	}
	rootCmd.AddCommand(dataCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func dataCmd() *cobra.Command {
	opts := seedOptions{}
	cmd := &cobra.Command{
		Use:   "data",
		Short: "Insert fake scheduling data",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(cmd.Context(), func(ctx context.Context, pool *pgxpool.Pool, logger zerolog.Logger) error {
				if !opts.skipMigrate {
					if err := db.Migrate(ctx, pool, logger); err != nil {
						return err
					}
				}
				return seed(ctx, pool, opts, logger)
			})
		},
	}
	cmd.Flags().IntVar(&opts.clinics, "clinics", 3, "number of clinics")
	cmd.Flags().IntVar(&opts.providers, "providers", 5, "providers per clinic")
	cmd.Flags().IntVar(&opts.patients, "patients", 200, "patients per clinic")
	cmd.Flags().IntVar(&opts.blocked, "blocked", 2, "blocked slots per provider over the next two weeks")
	cmd.Flags().Int64Var(&opts.seed, "seed", 0, "random seed, 0 picks one from the clock")
	cmd.Flags().BoolVar(&opts.skipMigrate, "skip-migrate", false, "do not apply migrations first")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(cmd.Context(), func(ctx context.Context, pool *pgxpool.Pool, logger zerolog.Logger) error {
				return db.Migrate(ctx, pool, logger)
			})
		},
	}
}

func withPool(ctx context.Context, fn func(ctx context.Context, pool *pgxpool.Pool, logger zerolog.Logger) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required")
	}
	logger := logging.New(cfg.Env, cfg.LogLevel)

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := db.ConnectPostgres(connectCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: int32(cfg.PostgresMaxConns), ApplicationName: "clinic-seed"})
	cancel()
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	return fn(ctx, pool, logger)
}

func seed(ctx context.Context, pool *pgxpool.Pool, opts seedOptions, logger zerolog.Logger) error {
	if opts.seed == 0 {
		opts.seed = time.Now().UnixNano()
	}
	gofakeit.Seed(opts.seed)
	logger.Info().Int64("seed", opts.seed).Int("clinics", opts.clinics).Msg("seeding")

	for i := 0; i < opts.clinics; i++ {
		err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			return seedClinic(ctx, tx, opts, logger)
		})
		if err != nil {
			return fmt.Errorf("seed clinic %d: %w", i+1, err)
		}
	}

	logger.Info().Msg("seed complete")
	return nil
}

func seedClinic(ctx context.Context, tx pgx.Tx, opts seedOptions, logger zerolog.Logger) error {
	clinic := appointment.Clinic{
		ID:       uuid.New(),
		Name:     gofakeit.Company() + " Clinic",
		Timezone: clinicTimezones[gofakeit.Number(0, len(clinicTimezones)-1)],
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO clinics (id, name, timezone, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
	`, clinic.ID, clinic.Name, clinic.Timezone)
	if err != nil {
		return err
	}

	loc, err := time.LoadLocation(clinic.Timezone)
	if err != nil {
		return err
	}

	for i := 0; i < opts.providers; i++ {
		provider := appointment.Provider{
			ID:                         uuid.New(),
			ClinicID:                   clinic.ID,
			Name:                       "Dr. " + gofakeit.Name(),
			WorkingHours:               randomWorkingHours(),
			DefaultAppointmentDuration: durations[gofakeit.Number(0, len(durations)-1)],
		}
		if err := provider.WorkingHours.Validate(); err != nil {
			return err
		}
		hours, err := json.Marshal(provider.WorkingHours)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO providers (id, clinic_id, name, working_hours, default_appointment_duration, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, now(), now())
		`, provider.ID, provider.ClinicID, provider.Name, hours, provider.DefaultAppointmentDuration)
		if err != nil {
			return err
		}

		if err := seedBlockedSlots(ctx, tx, provider, loc, opts.blocked); err != nil {
			return err
		}
	}

	for i := 0; i < opts.patients; i++ {
		phone := gofakeit.Phone()
		_, err := tx.Exec(ctx, `
			INSERT INTO patients (id, clinic_id, name, phone, created_at, updated_at)
			VALUES ($1, $2, $3, $4, now(), now())
		`, uuid.New(), clinic.ID, gofakeit.Name(), phone)
		if err != nil {
			return err
		}
	}

	logger.Info().
		Str("clinic_id", clinic.ID.String()).
		Str("timezone", clinic.Timezone).
		Int("providers", opts.providers).
		Int("patients", opts.patients).
		Msg("clinic seeded")
	return nil
}

// randomWorkingHours gives Monday to Friday with a start between 07:00 and 10:00 and an
// eight to ten hour day. Some providers also work Saturday mornings.
func randomWorkingHours() appointment.WorkingHours {
	startHour := gofakeit.Number(7, 10)
	endHour := startHour + gofakeit.Number(8, 10)
	if endHour > 24 {
		endHour = 24
	}
	day := &appointment.DayHours{
		Start: fmt.Sprintf("%02d:00", startHour),
		End:   fmt.Sprintf("%02d:00", endHour),
	}

	wh := appointment.WorkingHours{}
	for d := time.Monday; d <= time.Friday; d++ {
		wh[d] = day
	}
	if gofakeit.Bool() {
		wh[time.Saturday] = &appointment.DayHours{Start: "09:00", End: "13:00"}
	}
	return wh
}

func seedBlockedSlots(ctx context.Context, tx pgx.Tx, provider appointment.Provider, loc *time.Location, count int) error {
	today := appointment.DateOf(time.Now().In(loc))
	for i := 0; i < count; i++ {
		day := today.AddDays(gofakeit.Number(1, 14))
		start := time.Date(day.Year, day.Month, day.Day, gofakeit.Number(9, 15), 0, 0, 0, loc)
		end := start.Add(time.Duration(gofakeit.Number(1, 2)) * time.Hour)
		reason := blockReasons[gofakeit.Number(0, len(blockReasons)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO blocked_time_slots (id, provider_id, location_id, start_datetime, end_datetime, reason, created_at)
			VALUES ($1, $2, NULL, $3, $4, $5, now())
		`, uuid.New(), provider.ID, start, end, reason)
		if err != nil {
			return err
		}
	}
	return nil
}
