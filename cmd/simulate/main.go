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
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/slot-booking/internal/db"
	"github.com/hackgods/slot-booking/internal/logger"
)

type SimConfig struct {
	APIBaseURL    string
	Duration      time.Duration
	Workers       int
	HotSlots      int
	CustomerLimit int
	BookingRatio  float64
	CancelRatio   float64
	ReadRatio     float64
	PostgresDSN   string
}

type DataPool struct {
	Customers []uuid.UUID
	Slots     []uuid.UUID

	mu       sync.Mutex
	bookings []uuid.UUID
}

func (dp *DataPool) AddBooking(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.bookings = append(dp.bookings, id)
}

// TakeBooking removes and returns a random booking so it is cancelled at
// most once.
func (dp *DataPool) TakeBooking(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.bookings) == 0 {
		return uuid.Nil, false
	}
	idx := rng.Intn(len(dp.bookings))
	id := dp.bookings[idx]
	dp.bookings[idx] = dp.bookings[len(dp.bookings)-1]
	dp.bookings = dp.bookings[:len(dp.bookings)-1]
	return id, true
}

func (dp *DataPool) RandomBooking(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.bookings) == 0 {
		return uuid.Nil, false
	}
	return dp.bookings[rng.Intn(len(dp.bookings))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Busy      int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeConflict
	outcomeBusy
	outcomeError
)

func (om *OperationMetrics) Record(latency time.Duration, o outcome) {
	atomic.AddInt64(&om.Total, 1)
	switch o {
	case outcomeSuccess:
		atomic.AddInt64(&om.Success, 1)
	case outcomeConflict:
		atomic.AddInt64(&om.Conflict, 1)
	case outcomeBusy:
		atomic.AddInt64(&om.Busy, 1)
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

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

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
	Booking      OperationMetrics
	Cancel       OperationMetrics
	ReadByID     OperationMetrics
	ListCustomer OperationMetrics
	LockStatus   OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	log     *logger.Logger
	metrics Metrics
}

func main() {
	log := logger.New(logger.Config{Format: logger.FormatText, Service: "simulate"})
	log.Info("simulator starting")

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatal("invalid config", "error", err)
	}

	log.Info("config",
		"duration", cfg.Duration,
		"workers", cfg.Workers,
		"hot_slots", cfg.HotSlots,
		"booking", cfg.BookingRatio,
		"cancel", cfg.CancelRatio,
		"read", cfg.ReadRatio,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("connect postgres", "error", err)
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		log.Fatal("load data pool", "error", err)
	}

	log.Info("loaded", "customers", len(dataPool.Customers), "slots", len(dataPool.Slots))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}

	if err := sim.Run(); err != nil {
		log.Fatal("simulation failed", "error", err)
	}

	sim.PrintReport()

	verifyCtx, cancelVerify := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelVerify()
	if err := verifyStorage(verifyCtx, pgPool, dataPool.Slots); err != nil {
		log.Fatal("storage check failed", "error", err)
	}
	log.Info("no slot was booked twice")
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:    getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:      getDuration("SIM_DURATION", 30*time.Second),
		Workers:       getInt("SIM_WORKERS", 50),
		HotSlots:      getInt("SIM_HOT_SLOTS", 20),
		CustomerLimit: getInt("SIM_CUSTOMER_LIMIT", 2000),
		BookingRatio:  getFloat("SIM_BOOKING_RATIO", 0.6),
		CancelRatio:   getFloat("SIM_CANCEL_RATIO", 0.1),
		ReadRatio:     getFloat("SIM_READ_RATIO", 0.3),
		PostgresDSN:   os.Getenv("POSTGRES_DSN"),
	}

	total := cfg.BookingRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.HotSlots <= 0 {
		return fmt.Errorf("SIM_HOT_SLOTS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	rows, err := pool.Query(ctx, `SELECT id FROM customers LIMIT $1`, cfg.CustomerLimit)
	if err != nil {
		return nil, fmt.Errorf("load customers: %w", err)
	}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		dataPool.Customers = append(dataPool.Customers, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load customers: %w", err)
	}

	// A handful of open slots that every worker fights over.
	rows, err = pool.Query(ctx, `
		SELECT id FROM slots
		WHERE is_available AND NOT is_booked AND service_date > CURRENT_DATE
		ORDER BY service_date, start_time
		LIMIT $1
	`, cfg.HotSlots)
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		dataPool.Slots = append(dataPool.Slots, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}

	if len(dataPool.Customers) == 0 {
		return nil, fmt.Errorf("no customers loaded")
	}
	if len(dataPool.Slots) == 0 {
		return nil, fmt.Errorf("no open slots loaded")
	}

	return dataPool, nil
}

func (s *Simulator) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.Info("starting simulation", "duration", s.config.Duration, "workers", s.config.Workers)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.config.Workers; i++ {
		workerID := i
		g.Go(func() error {
			s.worker(gctx, workerID)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	s.log.Info("simulation complete")
	return nil
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
		case r < s.config.BookingRatio+s.config.CancelRatio:
			s.doCancel(ctx, rng)
		default:
			switch rng.Intn(3) {
			case 0:
				s.doReadByID(ctx, rng)
			case 1:
				s.doListCustomer(ctx, rng)
			case 2:
				s.doLockStatus(ctx, rng)
			}
		}
	}
}

type errorBody struct {
	Error string `json:"error"`
}

type bookingBody struct {
	ID uuid.UUID `json:"id"`
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	slotID := s.pool.Slots[rng.Intn(len(s.pool.Slots))]
	customerID := s.pool.Customers[rng.Intn(len(s.pool.Customers))]

	body, _ := json.Marshal(map[string]string{
		"slot_id":     slotID.String(),
		"customer_id": customerID.String(),
	})

	start := time.Now()
	status, respBody, err := s.send(ctx, http.MethodPost, "/bookings", body)
	latency := time.Since(start)
	if ctx.Err() != nil {
		return
	}

	o := outcomeError
	switch {
	case err != nil:
	case status == http.StatusCreated:
		o = outcomeSuccess
		var b bookingBody
		if json.Unmarshal(respBody, &b) == nil && b.ID != uuid.Nil {
			s.pool.AddBooking(b.ID)
		}
	case status == http.StatusConflict:
		var e errorBody
		_ = json.Unmarshal(respBody, &e)
		if e.Error == "slot_busy" {
			o = outcomeBusy
		} else {
			o = outcomeConflict
		}
	}

	s.metrics.Booking.Record(latency, o)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	bookingID, ok := s.pool.TakeBooking(rng)
	if !ok {
		return
	}

	start := time.Now()
	status, _, err := s.send(ctx, http.MethodPatch,
		fmt.Sprintf("/bookings/%s/cancel", bookingID), []byte(`{"reason":"simulated"}`))
	latency := time.Since(start)
	if ctx.Err() != nil {
		return
	}

	o := outcomeError
	switch {
	case err != nil:
	case status == http.StatusOK:
		o = outcomeSuccess
	case status == http.StatusConflict:
		o = outcomeConflict
	}

	s.metrics.Cancel.Record(latency, o)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	bookingID, ok := s.pool.RandomBooking(rng)
	if !ok {
		return
	}
	s.read(ctx, &s.metrics.ReadByID, "/bookings/"+bookingID.String())
}

func (s *Simulator) doListCustomer(ctx context.Context, rng *rand.Rand) {
	customerID := s.pool.Customers[rng.Intn(len(s.pool.Customers))]
	s.read(ctx, &s.metrics.ListCustomer, fmt.Sprintf("/customers/%s/bookings?limit=20&offset=0", customerID))
}

func (s *Simulator) doLockStatus(ctx context.Context, rng *rand.Rand) {
	slotID := s.pool.Slots[rng.Intn(len(s.pool.Slots))]
	s.read(ctx, &s.metrics.LockStatus, fmt.Sprintf("/slots/%s/lock", slotID))
}

func (s *Simulator) read(ctx context.Context, om *OperationMetrics, path string) {
	start := time.Now()
	status, _, err := s.send(ctx, http.MethodGet, path, nil)
	latency := time.Since(start)
	if ctx.Err() != nil {
		return
	}

	o := outcomeError
	if err == nil && status == http.StatusOK {
		o = outcomeSuccess
	}
	om.Record(latency, o)
}

func (s *Simulator) send(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, respBody, nil
}

// verifyStorage checks the persisted state of the hot slots: no slot holds
// more than one live booking and every slot's flags agree with its bookings.
func verifyStorage(ctx context.Context, pool *pgxpool.Pool, slots []uuid.UUID) error {
	var doubled int
	err := pool.QueryRow(ctx, `
		SELECT count(*) FROM (
			SELECT slot_id FROM bookings
			WHERE slot_id = ANY($1) AND status <> 'cancelled'
			GROUP BY slot_id HAVING count(*) > 1
		) d
	`, slots).Scan(&doubled)
	if err != nil {
		return fmt.Errorf("count double bookings: %w", err)
	}
	if doubled > 0 {
		return fmt.Errorf("%d slots hold more than one live booking", doubled)
	}

	var mismatched int
	err = pool.QueryRow(ctx, `
		SELECT count(*) FROM slots s
		WHERE s.id = ANY($1)
		  AND s.is_booked <> EXISTS (
			SELECT 1 FROM bookings b
			WHERE b.id = s.booking_id AND b.slot_id = s.id AND b.status <> 'cancelled'
		  )
	`, slots).Scan(&mismatched)
	if err != nil {
		return fmt.Errorf("count inconsistent slots: %w", err)
	}
	if mismatched > 0 {
		return fmt.Errorf("%d slots disagree with their bookings", mismatched)
	}
	return nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Hot slots: %d\n", len(s.pool.Slots))
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("List by Customer", &s.metrics.ListCustomer)
	printOperationReport("Lock Status", &s.metrics.LockStatus)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	pct := func(n int64) float64 { return float64(n) / float64(total) * 100 }

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	busy := atomic.LoadInt64(&om.Busy)
	failed := atomic.LoadInt64(&om.Error)

	avg, lo, hi, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, pct(success))
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, pct(conflict))
	}
	if busy > 0 {
		fmt.Printf("  Busy: %d (%.1f%%)\n", busy, pct(busy))
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, pct(failed))
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), lo.Round(time.Millisecond), hi.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
