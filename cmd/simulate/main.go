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
	"slices"
	"sync"
	"sync/atomic"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduling/internal/config"
	"github.com/hackgods/clinic-appointment-scheduling/internal/db"
	"github.com/hackgods/clinic-appointment-scheduling/internal/logging"
)

type SimConfig struct {
	APIBaseURL    string
	Duration      time.Duration
	Workers       int
	BookingRatio  float64
	StatusRatio   float64
	CancelRatio   float64
	ReadRatio     float64
	ProviderLimit int
	PatientLimit  int
	HorizonDays   int
}

// normalize scales the operation mix so the ratios sum to one.
func (c *SimConfig) normalize() error {
	if c.Workers <= 0 {
		return fmt.Errorf("--workers must be > 0")
	}
	if c.Duration <= 0 {
		return fmt.Errorf("--duration must be > 0")
	}
	if c.HorizonDays <= 0 {
		return fmt.Errorf("--horizon-days must be > 0")
	}
	sum := c.BookingRatio + c.StatusRatio + c.CancelRatio + c.ReadRatio
	if sum <= 0 {
		return fmt.Errorf("at least one operation ratio must be positive")
	}
	c.BookingRatio /= sum
	c.StatusRatio /= sum
	c.CancelRatio /= sum
	c.ReadRatio /= sum
	return nil
}

type providerRef struct {
	ID       uuid.UUID
	ClinicID uuid.UUID
}

type bookedRef struct {
	ID       uuid.UUID
	ClinicID uuid.UUID
}

type DataPool struct {
	Providers []providerRef
	Patients  map[uuid.UUID][]uuid.UUID // clinic -> patients

	mu           sync.RWMutex
	appointments []bookedRef
}

func (dp *DataPool) AddAppointment(ref bookedRef) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, ref)
}

func (dp *DataPool) GetRandomAppointment(rng *rand.Rand) (bookedRef, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return bookedRef{}, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
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

func (om *OperationMetrics) Stats() (avg, lo, hi, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := slices.Clone(om.Latencies)
	slices.Sort(latencies)

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	lo = latencies[0]
	hi = latencies[len(latencies)-1]
	p50 = latencies[min(len(latencies)*50/100, len(latencies)-1)]
	p95 = latencies[min(len(latencies)*95/100, len(latencies)-1)]
	return avg, lo, hi, p50, p95
}

type Metrics struct {
	Availability OperationMetrics
	Booking      OperationMetrics
	Status       OperationMetrics
	Cancel       OperationMetrics
	List         OperationMetrics
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
	cmd := &cobra.Command{
		Use:          "simulate",
		Short:        "Race concurrent bookings against the API and verify no provider is double booked",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.normalize(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.APIBaseURL, "api", "http://localhost:8080", "api-server base URL")
	f.DurationVar(&cfg.Duration, "duration", 30*time.Second, "how long workers run")
	f.IntVar(&cfg.Workers, "workers", 20, "concurrent workers")
	f.Float64Var(&cfg.BookingRatio, "booking-ratio", 0.5, "share of booking operations")
	f.Float64Var(&cfg.StatusRatio, "status-ratio", 0.15, "share of status changes")
	f.Float64Var(&cfg.CancelRatio, "cancel-ratio", 0.1, "share of cancellations")
	f.Float64Var(&cfg.ReadRatio, "read-ratio", 0.25, "share of list reads")
	f.IntVar(&cfg.ProviderLimit, "providers", 5, "providers to contend for")
	f.IntVar(&cfg.PatientLimit, "patients", 2000, "patients to book with")
	f.IntVar(&cfg.HorizonDays, "horizon-days", 3, "days ahead to look for availability")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg SimConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	baseCfg, err := config.Load()
	if err != nil {
		return err
	}
	if baseCfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required to verify bookings")
	}
	logger := logging.New(baseCfg.Env, baseCfg.LogLevel).With().Str("component", "simulate").Logger()

	logger.Info().
		Str("api", cfg.APIBaseURL).
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Float64("booking", cfg.BookingRatio).
		Float64("status", cfg.StatusRatio).
		Float64("cancel", cfg.CancelRatio).
		Float64("read", cfg.ReadRatio).
		Msg("simulator starting")

	loadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(loadCtx, baseCfg.PostgresDSN, db.PoolOptions{MaxConns: 4, ApplicationName: "clinic-simulate"})
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(loadCtx, pgPool, cfg)
	if err != nil {
		return err
	}
	logger.Info().Int("providers", len(dataPool.Providers)).Int("clinics", len(dataPool.Patients)).Msg("data pool loaded")

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    logger,
	}
	sim.Run(ctx)
	sim.PrintReport(os.Stdout)

	verifyCtx, cancelVerify := context.WithTimeout(ctx, 30*time.Second)
	defer cancelVerify()
	overlaps, err := countOverlaps(verifyCtx, pgPool)
	if err != nil {
		return fmt.Errorf("verify overlaps: %w", err)
	}
	if overlaps > 0 {
		logger.Error().Int("pairs", overlaps).Msg("double booking detected")
		return fmt.Errorf("%d overlapping appointment pairs", overlaps)
	}
	logger.Info().Msg("no overlapping active appointments")
	return nil
}

// loadDataPool keeps the provider set small so workers contend for the same calendars.
func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{Patients: make(map[uuid.UUID][]uuid.UUID)}

	rows, err := pool.Query(ctx, `
		SELECT id, clinic_id FROM providers ORDER BY created_at LIMIT $1
	`, cfg.ProviderLimit)
	if err != nil {
		return nil, fmt.Errorf("load providers: %w", err)
	}
	for rows.Next() {
		var p providerRef
		if err := rows.Scan(&p.ID, &p.ClinicID); err != nil {
			rows.Close()
			return nil, err
		}
		dataPool.Providers = append(dataPool.Providers, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = pool.Query(ctx, `
		SELECT id, clinic_id FROM patients LIMIT $1
	`, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, clinicID uuid.UUID
		if err := rows.Scan(&id, &clinicID); err != nil {
			return nil, err
		}
		dataPool.Patients[clinicID] = append(dataPool.Patients[clinicID], id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(dataPool.Providers) == 0 {
		return nil, fmt.Errorf("no providers loaded, run the seed command first")
	}
	return dataPool, nil
}

func (s *Simulator) Run(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, s.config.Duration)
	defer cancel()

	s.log.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting simulation")

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
		case r < s.config.BookingRatio+s.config.StatusRatio:
			s.doStatusChange(ctx, rng)
		case r < s.config.BookingRatio+s.config.StatusRatio+s.config.CancelRatio:
			s.doCancel(ctx, rng)
		default:
			s.doList(ctx, rng)
		}
	}
}

// doBooking fetches availability and books a slot shifted by a random offset, so that
// concurrent workers regularly race for overlapping intervals.
func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	provider := s.pool.Providers[rng.Intn(len(s.pool.Providers))]
	patients := s.pool.Patients[provider.ClinicID]
	if len(patients) == 0 {
		return
	}

	startDate := appointment.DateOf(time.Now().UTC()).AddDays(1)
	endDate := startDate.AddDays(s.config.HorizonDays - 1)
	url := fmt.Sprintf("%s/clinics/%s/providers/%s/availability?start_date=%s&end_date=%s",
		s.config.APIBaseURL, provider.ClinicID, provider.ID, startDate, endDate)

	var avail struct {
		Days []appointment.DayAvailability `json:"days"`
	}
	begin := time.Now()
	status, err := s.doJSON(ctx, http.MethodGet, url, nil, &avail)
	s.metrics.Availability.Record(time.Since(begin), err == nil && status == http.StatusOK, false)
	if err != nil || status != http.StatusOK {
		return
	}

	var slots []appointment.TimeSlot
	for _, d := range avail.Days {
		slots = append(slots, d.Slots...)
	}
	if len(slots) == 0 {
		return
	}
	slot := slots[rng.Intn(len(slots))]
	length := slot.End.Sub(slot.Start)
	shift := time.Duration(rng.Intn(3)-1) * (length / 2)

	body := map[string]any{
		"patient_id":     patients[rng.Intn(len(patients))].String(),
		"provider_id":    provider.ID.String(),
		"start":          slot.Start.Add(shift).Format(time.RFC3339),
		"end":            slot.End.Add(shift).Format(time.RFC3339),
		"booking_source": "API",
	}

	var created struct {
		ID uuid.UUID `json:"id"`
	}
	begin = time.Now()
	status, err = s.doJSON(ctx, http.MethodPost, fmt.Sprintf("%s/clinics/%s/appointments", s.config.APIBaseURL, provider.ClinicID), body, &created)
	latency := time.Since(begin)

	success := err == nil && status == http.StatusCreated
	if success && created.ID != uuid.Nil {
		s.pool.AddAppointment(bookedRef{ID: created.ID, ClinicID: provider.ClinicID})
	}
	s.metrics.Booking.Record(latency, success, status == http.StatusConflict)
}

var nextStatuses = []string{"CONFIRMED", "CHECKED_IN", "COMPLETED", "NO_SHOW"}

func (s *Simulator) doStatusChange(ctx context.Context, rng *rand.Rand) {
	ref, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}

	url := fmt.Sprintf("%s/clinics/%s/appointments/%s/status", s.config.APIBaseURL, ref.ClinicID, ref.ID)
	begin := time.Now()
	status, err := s.doJSON(ctx, http.MethodPost, url, map[string]any{
		"status": nextStatuses[rng.Intn(len(nextStatuses))],
	}, nil)
	s.metrics.Status.Record(time.Since(begin), err == nil && status == http.StatusOK, status == http.StatusConflict)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	ref, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}

	url := fmt.Sprintf("%s/clinics/%s/appointments/%s/cancel", s.config.APIBaseURL, ref.ClinicID, ref.ID)
	begin := time.Now()
	status, err := s.doJSON(ctx, http.MethodPost, url, map[string]any{"notes": "simulated cancellation"}, nil)
	s.metrics.Cancel.Record(time.Since(begin), err == nil && status == http.StatusOK, status == http.StatusConflict)
}

func (s *Simulator) doList(ctx context.Context, rng *rand.Rand) {
	provider := s.pool.Providers[rng.Intn(len(s.pool.Providers))]

	url := fmt.Sprintf("%s/clinics/%s/appointments?provider_id=%s", s.config.APIBaseURL, provider.ClinicID, provider.ID)
	begin := time.Now()
	status, err := s.doJSON(ctx, http.MethodGet, url, nil, nil)
	s.metrics.List.Record(time.Since(begin), err == nil && status == http.StatusOK, false)
}

func (s *Simulator) doJSON(ctx context.Context, method, url string, body, out any) (int, error) {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

// countOverlaps counts pairs of active appointments of one provider that intersect.
func countOverlaps(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	var n int
	err := pool.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments a
		JOIN appointments b
		  ON a.provider_id = b.provider_id
		 AND a.id < b.id
		 AND a.appointment_start < b.appointment_end
		 AND a.appointment_end > b.appointment_start
		WHERE a.deleted_at IS NULL AND b.deleted_at IS NULL
		  AND a.status NOT IN ('CANCELLED', 'NO_SHOW')
		  AND b.status NOT IN ('CANCELLED', 'NO_SHOW')
	`).Scan(&n)
	return n, err
}

func (s *Simulator) PrintReport(out io.Writer) {
	fmt.Fprintf(out, "\nsimulation: %s with %d workers against %s\n\n", s.config.Duration, s.config.Workers, s.config.APIBaseURL)

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "operation\ttotal\tok\tconflict\terror\tavg\tmin\tp50\tp95\tmax\t")
	writeOperationRow(tw, "availability", &s.metrics.Availability)
	writeOperationRow(tw, "book", &s.metrics.Booking)
	writeOperationRow(tw, "status", &s.metrics.Status)
	writeOperationRow(tw, "cancel", &s.metrics.Cancel)
	writeOperationRow(tw, "list", &s.metrics.List)
	_ = tw.Flush()
	fmt.Fprintln(out)
}

func writeOperationRow(w io.Writer, name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}
	avg, lo, hi, p50, p95 := om.Stats()
	ms := func(d time.Duration) time.Duration { return d.Round(time.Millisecond) }

	fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%s\t%s\t%s\t%s\t%s\t\n",
		name, total,
		atomic.LoadInt64(&om.Success), atomic.LoadInt64(&om.Conflict), atomic.LoadInt64(&om.Error),
		ms(avg), ms(lo), ms(p50), ms(p95), ms(hi))
}
