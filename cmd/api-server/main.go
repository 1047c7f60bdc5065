package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-scheduling/internal/api"
	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduling/internal/config"
	"github.com/hackgods/clinic-appointment-scheduling/internal/db"
	"github.com/hackgods/clinic-appointment-scheduling/internal/logging"
	redisclient "github.com/hackgods/clinic-appointment-scheduling/internal/redis"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr).With().Timestamp().Logger()
		boot.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New(cfg.Env, cfg.LogLevel)
	logger.Info().
		Str("http_port", cfg.HTTPPort).
		Str("storage", cfg.Storage).
		Bool("provider_lock", cfg.LockEnabled()).
		Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		repo   appointment.Repository
		pgPool *pgxpool.Pool
	)
	switch cfg.Storage {
	case config.StoragePostgres:
		pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
		pgPool, err = db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: int32(cfg.PostgresMaxConns), ApplicationName: "clinic-api-server"})
		cancelPg()
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection error")
		}
		defer pgPool.Close()
		logger.Info().Msg("connected to Postgres")

		if err := db.Migrate(rootCtx, pgPool, logger); err != nil {
			logger.Fatal().Err(err).Msg("migration error")
		}
		repo = appointment.NewPgRepository(pgPool, cfg.TxMaxRetries)
	default:
		mem := appointment.NewMemoryRepository()
		seedDemo(mem, cfg, logger)
		repo = mem
	}

	var (
		rdb    *redis.Client
		locker redisclient.Locker
	)
	if cfg.LockEnabled() {
		rdb, err = redisclient.NewRedisClient(rootCtx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection error")
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing redis")
			}
		}()
		locker = redisclient.NewRedisProviderLocker(rdb, cfg.LockTTL)
		logger.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")
	}

	svc := appointment.NewService(repo, locker, cfg, logger)

	router := api.NewRouter(api.RouterConfig{
		Service: svc,
		PgPool:  pgPool,
		Redis:   rdb,
		Logger:  logger,
		Env:     cfg.Env,
		Version: version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-rootCtx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("http server error")
		}
	}

	logger.Info().Dur("timeout", cfg.ShutdownTimeout).Msg("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}

// seedDemo gives STORAGE=memory one clinic with a provider and a patient to book against.
func seedDemo(repo *appointment.MemoryRepository, cfg config.Config, logger zerolog.Logger) {
	clinic := appointment.Clinic{ID: uuid.New(), Name: "Demo Clinic", Timezone: cfg.DefaultTimezone}
	hours := appointment.WorkingHours{}
	for d := time.Monday; d <= time.Friday; d++ {
		hours[d] = &appointment.DayHours{Start: "08:00", End: "18:00"}
	}
	provider := appointment.Provider{
		ID:                         uuid.New(),
		ClinicID:                   clinic.ID,
		Name:                       "Dr. Demo",
		WorkingHours:               hours,
		DefaultAppointmentDuration: 30,
	}
	patient := appointment.Patient{ID: uuid.New(), ClinicID: clinic.ID, Name: "Demo Patient"}

	repo.AddClinic(clinic)
	repo.AddProvider(provider)
	repo.AddPatient(patient)

	logger.Info().
		Str("clinic_id", clinic.ID.String()).
		Str("provider_id", provider.ID.String()).
		Str("patient_id", patient.ID.String()).
		Msg("in-memory storage seeded with demo records")
}
