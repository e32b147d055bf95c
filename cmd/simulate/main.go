package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-appointments/internal/logging"
)

type SimConfig struct {
	APIBaseURL    string
	Duration      time.Duration
	Workers       int
	Patients      int
	BookingRatio  float64
	ConfirmRatio  float64
	ReadRatio     float64
	AdminEmail    string
	AdminPassword string
}

type slot struct {
	ID         string `json:"id"`
	DoctorUID  string `json:"doctorUid"`
	DoctorName string `json:"doctorName"`
	Start      int64  `json:"start"`
	End        int64  `json:"end"`
}

type DataPool struct {
	Tokens       []string // patient bearer tokens
	AdminToken   string
	Slots        []slot
	mu           sync.RWMutex
	appointments []string
}

func (dp *DataPool) AddAppointment(id string) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) RandomAppointment(rng *rand.Rand) (string, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return "", false
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

func (om *OperationMetrics) Stats() (avg, p50, p95, max time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	n := len(latencies)
	return sum / time.Duration(n), latencies[n*50/100], latencies[min(n*95/100, n-1)], latencies[n-1]
}

type Metrics struct {
	Booking  OperationMetrics
	Confirm  OperationMetrics
	List     OperationMetrics
	Calendar OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	logger  *zap.Logger
	metrics Metrics
}

func main() {
	_ = godotenv.Load()

	logger := logging.New(getEnv("APP_ENV", "dev"))
	defer func() { _ = logger.Sync() }()

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}

	logger.Info("simulator starting",
		zap.String("api", cfg.APIBaseURL),
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers", cfg.Workers),
		zap.Int("patients", cfg.Patients),
	)

	sim := &Simulator{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := sim.loadDataPool(ctx)
	if err != nil {
		logger.Fatal("load data pool", zap.Error(err))
	}
	sim.pool = pool

	logger.Info("data pool loaded", zap.Int("patients", len(pool.Tokens)), zap.Int("slots", len(pool.Slots)))

	sim.Run()
	sim.PrintReport()
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:    strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		Duration:      getDuration("SIM_DURATION", 30*time.Second),
		Workers:       getInt("SIM_WORKERS", 10),
		Patients:      getInt("SIM_PATIENTS", 20),
		BookingRatio:  getFloat("SIM_BOOKING_RATIO", 0.5),
		ConfirmRatio:  getFloat("SIM_CONFIRM_RATIO", 0.2),
		ReadRatio:     getFloat("SIM_READ_RATIO", 0.3),
		AdminEmail:    getEnv("SIM_ADMIN_EMAIL", "admin@clinic.local"),
		AdminPassword: getEnv("SIM_ADMIN_PASSWORD", "password123"),
	}

	// Normalize ratios
	total := cfg.BookingRatio + cfg.ConfirmRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.ConfirmRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return errors.New("SIM_WORKERS must be > 0")
	}
	if cfg.Patients <= 0 {
		return errors.New("SIM_PATIENTS must be > 0")
	}
	if cfg.Duration <= 0 {
		return errors.New("SIM_DURATION must be > 0")
	}
	return nil
}

// loadDataPool signs up fake patients, signs in the admin and collects the
// bookable slots of every doctor.
func (s *Simulator) loadDataPool(ctx context.Context) (*DataPool, error) {
	pool := &DataPool{}
	faker := gofakeit.New(uint64(time.Now().UnixNano()))

	for i := 0; i < s.config.Patients; i++ {
		var sess struct {
			Token string `json:"token"`
		}
		status, err := s.call(ctx, http.MethodPost, "/auth/signup", "", map[string]string{
			"email":    faker.Email(),
			"password": faker.Password(true, true, true, false, false, 12),
			"role":     "patient",
			"fullName": faker.Name(),
		}, &sess)
		if err != nil {
			return nil, fmt.Errorf("sign up patient: %w", err)
		}
		if status == http.StatusConflict {
			continue
		}
		if status != http.StatusCreated {
			return nil, fmt.Errorf("sign up patient: unexpected status %d", status)
		}
		pool.Tokens = append(pool.Tokens, sess.Token)
	}

	var admin struct {
		Token string `json:"token"`
	}
	status, err := s.call(ctx, http.MethodPost, "/auth/signin", "", map[string]string{
		"email":    s.config.AdminEmail,
		"password": s.config.AdminPassword,
	}, &admin)
	if err != nil {
		return nil, fmt.Errorf("sign in admin: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("sign in admin: unexpected status %d, run the seed first", status)
	}
	pool.AdminToken = admin.Token

	var slots struct {
		Slots []slot `json:"slots"`
	}
	status, err = s.call(ctx, http.MethodGet, "/slots", pool.AdminToken, nil, &slots)
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("load slots: unexpected status %d", status)
	}
	pool.Slots = slots.Slots

	if len(pool.Tokens) == 0 {
		return nil, errors.New("no patients signed up")
	}
	if len(pool.Slots) == 0 {
		return nil, errors.New("no bookable slots")
	}
	return pool, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.logger.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			s.doBooking(ctx, rng)
		case r < s.config.BookingRatio+s.config.ConfirmRatio:
			s.doConfirm(ctx, rng)
		case rng.Intn(2) == 0:
			s.doList(ctx, rng)
		default:
			s.doCalendar(ctx, rng)
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	sl := s.pool.Slots[rng.Intn(len(s.pool.Slots))]
	token := s.pool.Tokens[rng.Intn(len(s.pool.Tokens))]

	var created struct {
		ID string `json:"id"`
	}
	start := time.Now()
	status, err := s.call(ctx, http.MethodPost, "/appointments", token, map[string]any{
		"doctorUid":       sl.DoctorUID,
		"doctorName":      sl.DoctorName,
		"start":           sl.Start,
		"end":             sl.End,
		"availableSlotId": sl.ID,
	}, &created)
	latency := time.Since(start)

	if ctx.Err() != nil {
		return
	}
	success := err == nil && status == http.StatusCreated
	if success && created.ID != "" {
		s.pool.AddAppointment(created.ID)
	}
	s.metrics.Booking.Record(latency, success, status == http.StatusConflict)
}

func (s *Simulator) doConfirm(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	status, err := s.call(ctx, http.MethodPut, "/appointments/"+id, s.pool.AdminToken, map[string]string{
		"status": "Confirmed",
	}, nil)
	latency := time.Since(start)

	if ctx.Err() != nil {
		return
	}
	s.metrics.Confirm.Record(latency, err == nil && status == http.StatusOK, status == http.StatusUnprocessableEntity)
}

func (s *Simulator) doList(ctx context.Context, rng *rand.Rand) {
	token := s.pool.Tokens[rng.Intn(len(s.pool.Tokens))]

	start := time.Now()
	status, err := s.call(ctx, http.MethodGet, "/appointments?tab=upcoming", token, nil, nil)
	latency := time.Since(start)

	if ctx.Err() != nil {
		return
	}
	s.metrics.List.Record(latency, err == nil && status == http.StatusOK, false)
}

func (s *Simulator) doCalendar(ctx context.Context, rng *rand.Rand) {
	token := s.pool.Tokens[rng.Intn(len(s.pool.Tokens))]
	now := time.Now()
	path := fmt.Sprintf("/calendar?start=%d&end=%d", now.UnixMilli(), now.Add(7*24*time.Hour).UnixMilli())

	start := time.Now()
	status, err := s.call(ctx, http.MethodGet, path, token, nil, nil)
	latency := time.Since(start)

	if ctx.Err() != nil {
		return
	}
	s.metrics.Calendar.Record(latency, err == nil && status == http.StatusOK, false)
}

// call sends a JSON request and decodes a 2xx JSON body into out when set.
func (s *Simulator) call(ctx context.Context, method, path, token string, body, out any) (int, error) {
	var payload *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		payload = bytes.NewReader(raw)
	} else {
		payload = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, payload)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Slots: %d\n", len(s.pool.Slots))
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Confirm", &s.metrics.Confirm)
	printOperationReport("List upcoming", &s.metrics.List)
	printOperationReport("Calendar", &s.metrics.Calendar)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, p50, p95, max := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s max=%s\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond),
		p95.Round(time.Millisecond), max.Round(time.Millisecond))
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
