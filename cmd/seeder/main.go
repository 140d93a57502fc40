// Command seeder fills the request_queue table with sample pending
// requests so a locally running demo has something to drain. It talks to
// Postgres directly; the in-memory store needs no seeding.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/vitalconnect/resilor/config"
	"github.com/vitalconnect/resilor/internal/models"
)

type seedRequest struct {
	method   models.Method
	url      string
	body     map[string]any
	priority models.Priority
	sms      bool
	idemKey  string
	expires  *time.Duration
}

func main() {
	var (
		configPath = flag.String("config", "", "path to config.yaml (optional)")
		clearData  = flag.Bool("clear", false, "clear the request_queue before seeding")
		count      = flag.Int("count", 1, "how many copies of the sample batch to insert")
		withExpiry = flag.Bool("expired", false, "include an already-expired entry to exercise the sweep")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.Database.URL == "" {
		log.Fatal("database.url must be configured to seed")
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	ctx := context.Background()

	if *clearData {
		log.Println("Clearing request_queue...")
		if _, err := db.ExecContext(ctx, `DELETE FROM request_queue`); err != nil {
			log.Fatalf("Failed to clear: %v", err)
		}
	}

	expired := -time.Minute
	batch := []seedRequest{
		{
			method: models.MethodPost, url: "https://api.example.com/transfers",
			body:     map[string]any{"command": "TRANSFER", "id": "TXN78945", "amount": 5000.0, "user": "u1001", "auth": "a9f2"},
			priority: models.PriorityCritical, sms: true, idemKey: "seed-" + uuid.NewString()[:8],
		},
		{
			method: models.MethodPost, url: "https://api.example.com/payments",
			body:     map[string]any{"command": "PAYMENT", "id": "PAY12034", "amount": 1500.0, "user": "u1002", "auth": "b3c1"},
			priority: models.PriorityHigh, sms: true,
		},
		{
			method: models.MethodGet, url: "https://api.example.com/balance",
			priority: models.PriorityNormal,
		},
		{
			method: models.MethodPut, url: "https://api.example.com/profiles/u1003",
			body:     map[string]any{"nickname": "ana"},
			priority: models.PriorityLow,
		},
	}
	if *withExpiry {
		batch = append(batch, seedRequest{
			method: models.MethodPost, url: "https://api.example.com/verify",
			body:     map[string]any{"command": "VERIFY", "id": "VRF55010", "user": "u1004"},
			priority: models.PriorityNormal, expires: &expired,
		})
	}

	inserted := 0
	for i := 0; i < *count; i++ {
		for _, seed := range batch {
			if err := insertSeed(ctx, db, seed, i); err != nil {
				log.Fatalf("Failed to insert seed row: %v", err)
			}
			inserted++
		}
	}
	log.Printf("Seeded %d pending requests", inserted)
}

func insertSeed(ctx context.Context, db *sql.DB, seed seedRequest, batchNo int) error {
	headers, err := json.Marshal(map[string]string{"Content-Type": "application/json"})
	if err != nil {
		return err
	}
	body, err := json.Marshal(seed.body)
	if err != nil {
		return err
	}

	id := uuid.NewString()[:16]
	now := time.Now()

	var idemKey sql.NullString
	if seed.idemKey != "" {
		idemKey = sql.NullString{String: fmt.Sprintf("%s-%d", seed.idemKey, batchNo), Valid: true}
	}
	var expiresAt sql.NullTime
	if seed.expires != nil {
		expiresAt = sql.NullTime{Time: now.Add(*seed.expires), Valid: true}
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO request_queue
			(id, method, url, headers, body, priority, retry_count, max_retries,
			 created_at, expires_at, status, idempotency_key, sms_eligible)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $9, 'PENDING', $10, $11)
	`,
		id, string(seed.method), seed.url, headers, body, int(seed.priority),
		models.DefaultMaxRetries(seed.priority), now, expiresAt, idemKey, seed.sms,
	)
	return err
}
