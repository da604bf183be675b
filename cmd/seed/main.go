package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/slotwise/booking-engine/internal/availability"
	"github.com/slotwise/booking-engine/internal/db"
	"github.com/slotwise/booking-engine/internal/slot"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	hostIDs, err := seedUsers(context.Background(), pool, "host", 20)
	if err != nil {
		log.Fatalf("seed hosts: %v", err)
	}
	guestIDs, err := seedUsers(context.Background(), pool, "guest", 500)
	if err != nil {
		log.Fatalf("seed guests: %v", err)
	}
	if err := seedPatients(context.Background(), pool, guestIDs); err != nil {
		log.Fatalf("seed patients: %v", err)
	}
	if err := seedRulesAndSlots(context.Background(), pool, hostIDs); err != nil {
		log.Fatalf("seed rules and slots: %v", err)
	}

	log.Println("seed complete")
}

func seedUsers(ctx context.Context, pool *pgxpool.Pool, role string, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d %ss", count, role)

	const batchSize = 100
	ids := make([]uuid.UUID, 0, count)

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return nil, err
		}

		for i := offset; i < end; i++ {
			id := uuid.New()
			name := gofakeit.Name()
			email := gofakeit.Email()
			phone := gofakeit.Phone()

			_, err := tx.Exec(ctx, `
				INSERT INTO users (id, name, email, phone, role, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, now(), now())
			`, id, name, email, phone, role)
			if err != nil {
				_ = tx.Rollback(ctx)
				return nil, err
			}
			ids = append(ids, id)
		}

		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
	}

	log.Printf("%ss seeded", role)
	return ids, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, ownerIDs []uuid.UUID) error {
	log.Printf("seeding patients for %d guests", len(ownerIDs))

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, ownerID := range ownerIDs {
		// Roughly every third guest manages a patient profile.
		if gofakeit.Number(0, 2) != 0 {
			continue
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO patients (id, owner_id, name, date_of_birth, created_at, updated_at)
			VALUES ($1, $2, $3, $4, now(), now())
		`, uuid.New(), ownerID, gofakeit.Name(), gofakeit.DateRange(
			time.Date(1940, 1, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC),
		))
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("patients seeded")
	return nil
}

func seedRulesAndSlots(ctx context.Context, pool *pgxpool.Pool, hostIDs []uuid.UUID) error {
	log.Printf("seeding rules and slots for %d hosts", len(hostIDs))

	dayPatterns := []string{
		"MON,TUE,WED,THU,FRI",
		"MON,WED,FRI",
		"TUE,THU",
		"SAT,SUN",
	}
	durations := []int{30, 45, 60}

	rules := availability.NewPgRuleStore(pool, 0)
	slots := slot.NewPgStore(pool, 10*time.Second)

	from := time.Now().AddDate(0, 0, 1)
	to := from.AddDate(0, 0, 14)

	totalSlots := 0
	for _, hostID := range hostIDs {
		startHour := gofakeit.Number(7, 10)
		endHour := gofakeit.Number(15, 19)

		rule, err := rules.Create(ctx, availability.Rule{
			HostID:     hostID,
			RuleType:   availability.RuleWeekly,
			DaysOfWeek: dayPatterns[gofakeit.Number(0, len(dayPatterns)-1)],
			StartHour:  startHour,
			EndHour:    endHour,
			IsActive:   true,
		})
		if err != nil {
			return err
		}

		candidates, err := availability.Expand(*rule, from, to, durations[gofakeit.Number(0, len(durations)-1)])
		if err != nil {
			return err
		}

		inserted, err := slots.BulkInsert(ctx, candidates)
		if err != nil {
			return err
		}
		totalSlots += inserted
	}

	log.Printf("rules seeded, %d slots generated", totalSlots)
	return nil
}
