package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	_ "modernc.org/sqlite"

	web "permappel/internal/adapters/http"
	"permappel/internal/adapters/http/middleware"
	"permappel/internal/adapters/storage"
	accountStore "permappel/internal/adapters/storage/account"
	sheetStore "permappel/internal/adapters/storage/sheet"
	studentStore "permappel/internal/adapters/storage/student"
	timeslotStore "permappel/internal/adapters/storage/timeslot"
	"permappel/internal/application/orchestrators"
	sheetDomain "permappel/internal/domain/sheet"
	"permappel/internal/realtime"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

// statusUpdater adapts the update orchestrator to the hub's interface.
type statusUpdater struct {
	sheets sheetStore.Store
}

func (u statusUpdater) UpdateStatus(ctx context.Context, sheetID, studentID string, status sheetDomain.Status, modifierID string) (time.Time, error) {
	result, err := orchestrators.ExecuteUpdateStatus(ctx, orchestrators.UpdateStatusInput{
		SheetID:    sheetID,
		StudentID:  studentID,
		Status:     status,
		ModifierID: modifierID,
	}, orchestrators.UpdateStatusDeps{
		SheetStore: u.sheets,
		Retry:      orchestrators.DefaultRetryPolicy(),
	})
	return result.ModifiedAt, err
}

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	// WAL with a short busy timeout: concurrent writers surface
	// SQLITE_BUSY quickly and the update orchestrator's retry loop
	// rides it out.
	dbPath := envOrDefault("PERMAPPEL_DB", "permappel.db")
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(100)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	// Connection pool settings for WAL mode
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)

	if err := db.Ping(); err != nil {
		log.Fatalf("database unreachable: %v", err)
	}

	if err := storage.InitDB(db); err != nil {
		log.Fatalf("failed to initialize database: %v", err)
	}
	log.Println("Database initialized successfully!")

	timedDB := storage.NewTimedDB(db)

	acctStore := accountStore.NewSQLiteStore(timedDB)
	slotStore := timeslotStore.NewSQLiteStore(timedDB)
	sheets := sheetStore.NewSQLiteStore(timedDB)
	stores := &web.Stores{
		AccountStore:  acctStore,
		SheetStore:    sheets,
		StudentStore:  studentStore.NewSQLiteStore(timedDB),
		TimeslotStore: slotStore,
	}

	// Seed default admin account and timeslots (idempotent)
	seedDeps := orchestrators.SeedDeps{
		AccountStore:  acctStore,
		TimeslotStore: slotStore,
		GenerateID:    func() string { return uuid.New().String() },
		Now:           time.Now,
	}
	adminUser := envOrDefault("PERMAPPEL_ADMIN_USER", "admin")
	adminPassword := envOrDefault("PERMAPPEL_ADMIN_PASSWORD", "changeme-admin")
	if err := orchestrators.ExecuteSeedAdmin(context.Background(), adminUser, adminPassword, seedDeps); err != nil {
		log.Fatalf("failed to seed admin: %v", err)
	}
	if err := orchestrators.ExecuteSeedTimeslots(context.Background(), seedDeps); err != nil {
		log.Fatalf("failed to seed timeslots: %v", err)
	}

	tokens := middleware.NewTokenManager(loadJWTKey(), 0)
	hub := realtime.NewHub(tokens, statusUpdater{sheets: sheets})

	mux := web.NewMux(envOrDefault("PERMAPPEL_STATIC", "static"), stores, hub, tokens)

	addr := envOrDefault("PERMAPPEL_ADDR", ":3000")
	log.Printf("Permappel %s starting on %s (env=%s)", version, addr, envOrDefault("PERMAPPEL_ENV", "development"))

	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

// loadJWTKey reads the token signing secret from PERMAPPEL_JWT_KEY (hex-encoded).
// In production, the key MUST be set. In development, a random key is generated per startup.
func loadJWTKey() []byte {
	if keyHex := os.Getenv("PERMAPPEL_JWT_KEY"); keyHex != "" {
		key, err := hex.DecodeString(keyHex)
		if err != nil || len(key) < 32 {
			log.Fatal("PERMAPPEL_JWT_KEY must be at least 64 hex characters (32 bytes)")
		}
		return key
	}
	if os.Getenv("PERMAPPEL_ENV") == "production" {
		log.Fatal("PERMAPPEL_JWT_KEY is required in production")
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		log.Fatalf("failed to generate JWT key: %v", err)
	}
	log.Println("WARNING: using random JWT key (tokens won't survive restart). Set PERMAPPEL_JWT_KEY for production.")
	return key
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
