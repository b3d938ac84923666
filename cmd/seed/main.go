package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/slot-booking/internal/db"
	"github.com/hackgods/slot-booking/internal/logger"
	"github.com/hackgods/slot-booking/internal/sanitizer"
	"github.com/hackgods/slot-booking/migrations"
)

type seedConfig struct {
	Providers int
	Customers int
	Days      int
	OpenHour  int
	CloseHour int
}

func main() {
	log := logger.New(logger.Config{Format: logger.FormatText, Service: "seed"})
	log.Info("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	cfg := seedConfig{
		Providers: getInt("SEED_PROVIDERS", 50),
		Customers: getInt("SEED_CUSTOMERS", 5000),
		Days:      getInt("SEED_DAYS", 14),
		OpenHour:  getInt("SEED_OPEN_HOUR", 9),
		CloseHour: getInt("SEED_CLOSE_HOUR", 17),
	}
	if cfg.OpenHour < 0 || cfg.CloseHour <= cfg.OpenHour || cfg.CloseHour > 23 {
		log.Fatal("invalid opening hours", "open", cfg.OpenHour, "close", cfg.CloseHour)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatal("connect postgres", "error", err)
	}
	defer pool.Close()

	if err := migrations.Apply(ctx, pool); err != nil {
		log.Fatal("apply migrations", "error", err)
	}

	providers, err := seedProviders(ctx, pool, log, cfg.Providers)
	if err != nil {
		log.Fatal("seed providers", "error", err)
	}
	if err := seedCustomers(ctx, pool, log, cfg.Customers); err != nil {
		log.Fatal("seed customers", "error", err)
	}
	if err := seedSlots(ctx, pool, log, providers, cfg); err != nil {
		log.Fatal("seed slots", "error", err)
	}

	log.Info("seed complete")
}

func seedProviders(ctx context.Context, pool *pgxpool.Pool, log *logger.Logger, count int) ([]uuid.UUID, error) {
	log.Info("seeding providers", "count", count)

	serviceTypes := []string{
		"electrician",
		"carpenter",
		"plumber",
		"car_washer",
		"painter",
		"cleaner",
	}
	cities := map[string][]string{
		"Bengaluru": {"Indiranagar", "Koramangala", "Whitefield", "Jayanagar"},
		"Mumbai":    {"Andheri", "Bandra", "Powai"},
		"Delhi":     {"Saket", "Dwarka", "Rohini"},
	}
	cityNames := []string{"Bengaluru", "Mumbai", "Delhi"}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := gofakeit.Name()
		serviceType := serviceTypes[gofakeit.Number(0, len(serviceTypes)-1)]
		city := cityNames[gofakeit.Number(0, len(cityNames)-1)]
		area := cities[city][gofakeit.Number(0, len(cities[city])-1)]
		rating := float64(gofakeit.Number(30, 50)) / 10
		hourlyRate := int64(gofakeit.Number(3, 20)) * 10000

		_, err := tx.Exec(ctx, `
			INSERT INTO providers (id, name, service_type, city, area, rating, hourly_rate, is_active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, now(), now())
		`, id, name, serviceType, city, area, rating, hourlyRate)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Info("providers seeded")
	return ids, nil
}

func seedCustomers(ctx context.Context, pool *pgxpool.Pool, log *logger.Logger, count int) error {
	log.Info("seeding customers", "count", count)

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		batch := &pgx.Batch{}
		for i := offset; i < end; i++ {
			var phone *string
			if p := sanitizer.NormalizePhone("+1" + gofakeit.Phone()); p != "" {
				phone = &p
			}
			// gofakeit can repeat an address across a large run.
			batch.Queue(`
				INSERT INTO customers (id, name, email, phone, created_at, updated_at)
				VALUES ($1, $2, $3, $4, now(), now())
				ON CONFLICT (email) DO NOTHING
			`, uuid.New(), gofakeit.Name(), sanitizer.NormalizeEmail(gofakeit.Email()), phone)
		}

		if err := pool.SendBatch(ctx, batch).Close(); err != nil {
			return err
		}

		log.Info("customers seeded", "done", end, "total", count)
	}

	return nil
}

// seedSlots creates hourly slots for every provider from tomorrow onwards.
func seedSlots(ctx context.Context, pool *pgxpool.Pool, log *logger.Logger, providers []uuid.UUID, cfg seedConfig) error {
	today := time.Now().UTC().Truncate(24 * time.Hour)

	var rows [][]any
	for _, providerID := range providers {
		price := int64(gofakeit.Number(20, 200)) * 100
		for day := 1; day <= cfg.Days; day++ {
			date := today.AddDate(0, 0, day)
			for hour := cfg.OpenHour; hour < cfg.CloseHour; hour++ {
				rows = append(rows, []any{
					uuid.New(),
					providerID,
					date,
					fmt.Sprintf("%02d:00", hour),
					fmt.Sprintf("%02d:00", hour+1),
					60,
					price,
				})
			}
		}
	}

	log.Info("seeding slots", "count", len(rows))

	n, err := pool.CopyFrom(ctx,
		pgx.Identifier{"slots"},
		[]string{"id", "provider_id", "service_date", "start_time", "end_time", "duration_minutes", "price"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return err
	}

	log.Info("slots seeded", "count", n)
	return nil
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
