package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/slotwise/booking-engine/internal/db"
)

// simulate hammers a running api-server with concurrent guests racing for
// the same slots, then asks Postgres whether any slot ended up with more
// than one active appointment. The expected answer is always zero.

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	BookRatio    float64
	ConfirmRatio float64
	CancelRatio  float64
	GuestLimit   int
	SlotLimit    int
	PostgresDSN  string
}

type simSlot struct {
	ID     uuid.UUID
	HostID uuid.UUID
}

type simAppointment struct {
	ID      uuid.UUID
	HostID  uuid.UUID
	GuestID uuid.UUID
}

type DataPool struct {
	Guests []uuid.UUID
	Slots  []simSlot

	mu           sync.RWMutex
	appointments []simAppointment
}

func (dp *DataPool) AddAppointment(a simAppointment) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, a)
}

func (dp *DataPool) RandomAppointment() (simAppointment, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return simAppointment{}, false
	}
	return dp.appointments[rand.Intn(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	mu        sync.Mutex
	latencies []time.Duration
}

func (om *OperationMetrics) Record(latency time.Duration, success, conflict bool) {
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
	om.latencies = append(om.latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.latencies) == 0 {
		return 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.latencies))
	copy(latencies, om.latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	avg = sum / time.Duration(len(latencies))

	idx := func(pct int) int {
		i := len(latencies) * pct / 100
		if i >= len(latencies) {
			i = len(latencies) - 1
		}
		return i
	}
	return avg, latencies[idx(50)], latencies[idx(95)]
}

type Metrics struct {
	Book    OperationMetrics
	Confirm OperationMetrics
	Cancel  OperationMetrics
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadConfig()
	if cfg.PostgresDSN == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	cancel()
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	dataPool, err := loadDataPool(context.Background(), pool, cfg)
	if err != nil {
		log.Fatalf("load data pool: %v", err)
	}
	log.Printf("loaded %d guests and %d slots", len(dataPool.Guests), len(dataPool.Slots))

	metrics := &Metrics{}
	client := &http.Client{Timeout: 10 * time.Second}

	runCtx, stopRun := context.WithTimeout(context.Background(), cfg.Duration)
	defer stopRun()

	var wg sync.WaitGroup
	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker(runCtx, cfg, client, dataPool, metrics)
		}()
	}
	wg.Wait()

	report(metrics)

	if err := verifyNoDoubleBooking(context.Background(), pool); err != nil {
		log.Fatalf("verification failed: %v", err)
	}
}

func loadConfig() SimConfig {
	return SimConfig{
		APIBaseURL:   getEnv("SIM_API_URL", "http://localhost:8080"),
		Duration:     getDurationEnv("SIM_DURATION", 30*time.Second),
		Workers:      getIntEnv("SIM_WORKERS", 50),
		BookRatio:    getFloatEnv("SIM_BOOK_RATIO", 0.7),
		ConfirmRatio: getFloatEnv("SIM_CONFIRM_RATIO", 0.15),
		CancelRatio:  getFloatEnv("SIM_CANCEL_RATIO", 0.15),
		GuestLimit:   getIntEnv("SIM_GUEST_LIMIT", 200),
		SlotLimit:    getIntEnv("SIM_SLOT_LIMIT", 100),
		PostgresDSN:  os.Getenv("POSTGRES_DSN"),
	}
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dp := &DataPool{}

	rows, err := pool.Query(ctx, `
		SELECT id FROM users WHERE role = 'guest' LIMIT $1
	`, cfg.GuestLimit)
	if err != nil {
		return nil, fmt.Errorf("load guests: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		dp.Guests = append(dp.Guests, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	slotRows, err := pool.Query(ctx, `
		SELECT id, host_id FROM slots
		WHERE is_available = true AND start_time > now()
		ORDER BY start_time ASC
		LIMIT $1
	`, cfg.SlotLimit)
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}
	defer slotRows.Close()
	for slotRows.Next() {
		var s simSlot
		if err := slotRows.Scan(&s.ID, &s.HostID); err != nil {
			return nil, err
		}
		dp.Slots = append(dp.Slots, s)
	}
	if err := slotRows.Err(); err != nil {
		return nil, err
	}

	if len(dp.Guests) == 0 || len(dp.Slots) == 0 {
		return nil, fmt.Errorf("not enough data; run cmd/seed first")
	}
	return dp, nil
}

func worker(ctx context.Context, cfg SimConfig, client *http.Client, dp *DataPool, m *Metrics) {
	for {
		if ctx.Err() != nil {
			return
		}

		roll := rand.Float64()
		switch {
		case roll < cfg.BookRatio:
			doBook(ctx, cfg, client, dp, &m.Book)
		case roll < cfg.BookRatio+cfg.ConfirmRatio:
			doConfirm(ctx, cfg, client, dp, &m.Confirm)
		default:
			doCancel(ctx, cfg, client, dp, &m.Cancel)
		}
	}
}

func doBook(ctx context.Context, cfg SimConfig, client *http.Client, dp *DataPool, om *OperationMetrics) {
	// A small slot window on purpose: many guests collide on the same slot.
	sl := dp.Slots[rand.Intn(len(dp.Slots))]
	guest := dp.Guests[rand.Intn(len(dp.Guests))]

	body, _ := json.Marshal(map[string]string{
		"host_id": sl.HostID.String(),
		"slot_id": sl.ID.String(),
		"reason":  "load test",
	})

	start := time.Now()
	status, respBody := post(ctx, client, cfg.APIBaseURL+"/appointments", guest, body)
	latency := time.Since(start)

	success := status == http.StatusCreated
	conflict := status == http.StatusConflict
	om.Record(latency, success, conflict)

	if success {
		var resp struct {
			ID uuid.UUID `json:"id"`
		}
		if err := json.Unmarshal(respBody, &resp); err == nil {
			dp.AddAppointment(simAppointment{ID: resp.ID, HostID: sl.HostID, GuestID: guest})
		}
	}
}

func doConfirm(ctx context.Context, cfg SimConfig, client *http.Client, dp *DataPool, om *OperationMetrics) {
	appt, ok := dp.RandomAppointment()
	if !ok {
		return
	}

	start := time.Now()
	status, _ := post(ctx, client, fmt.Sprintf("%s/appointments/%s/confirm", cfg.APIBaseURL, appt.ID), appt.HostID, nil)
	om.Record(time.Since(start), status == http.StatusOK, status == http.StatusConflict)
}

func doCancel(ctx context.Context, cfg SimConfig, client *http.Client, dp *DataPool, om *OperationMetrics) {
	appt, ok := dp.RandomAppointment()
	if !ok {
		return
	}

	body, _ := json.Marshal(map[string]string{"cancel_reason": "load test cancel"})

	start := time.Now()
	status, _ := post(ctx, client, fmt.Sprintf("%s/appointments/%s/cancel", cfg.APIBaseURL, appt.ID), appt.GuestID, body)
	om.Record(time.Since(start), status == http.StatusOK, status == http.StatusConflict)
}

func post(ctx context.Context, client *http.Client, url string, userID uuid.UUID, body []byte) (int, []byte) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", userID.String())

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	return resp.StatusCode, data
}

func report(m *Metrics) {
	for _, entry := range []struct {
		name string
		om   *OperationMetrics
	}{
		{"book", &m.Book},
		{"confirm", &m.Confirm},
		{"cancel", &m.Cancel},
	} {
		avg, p50, p95 := entry.om.Stats()
		log.Printf("%-8s total=%d success=%d conflict=%d error=%d avg=%s p50=%s p95=%s",
			entry.name,
			atomic.LoadInt64(&entry.om.Total),
			atomic.LoadInt64(&entry.om.Success),
			atomic.LoadInt64(&entry.om.Conflict),
			atomic.LoadInt64(&entry.om.Error),
			avg, p50, p95,
		)
	}
}

func verifyNoDoubleBooking(ctx context.Context, pool *pgxpool.Pool) error {
	var overbooked int
	err := pool.QueryRow(ctx, `
		SELECT count(*)
		FROM (
			SELECT slot_id
			FROM appointments
			WHERE status <> 'CANCELED'
			GROUP BY slot_id
			HAVING count(*) > 1
		) doubled
	`).Scan(&overbooked)
	if err != nil {
		return fmt.Errorf("query double bookings: %w", err)
	}

	if overbooked > 0 {
		return fmt.Errorf("%d slots hold more than one active appointment", overbooked)
	}
	log.Println("verification ok: no slot holds more than one active appointment")
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getFloatEnv(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
