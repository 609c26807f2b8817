package web

import (
	"crypto/rand"
	"encoding/hex"
	"log"
	"net/http"
	"os"
	"time"

	"permappel/internal/adapters/http/middleware"
	accountStore "permappel/internal/adapters/storage/account"
	sheetStore "permappel/internal/adapters/storage/sheet"
	studentStore "permappel/internal/adapters/storage/student"
	timeslotStore "permappel/internal/adapters/storage/timeslot"
	"permappel/internal/realtime"
)

// Stores holds all storage dependencies.
type Stores struct {
	AccountStore  accountStore.Store
	SheetStore    sheetStore.Store
	StudentStore  studentStore.Store
	TimeslotStore timeslotStore.Store
}

// loadCSRFKey reads the CSRF secret from PERMAPPEL_CSRF_KEY (hex-encoded, 32 bytes).
// In production, the key MUST be set. In development, a random key is generated per startup.
func loadCSRFKey() []byte {
	if keyHex := os.Getenv("PERMAPPEL_CSRF_KEY"); keyHex != "" {
		key, err := hex.DecodeString(keyHex)
		if err != nil || len(key) != 32 {
			log.Fatal("PERMAPPEL_CSRF_KEY must be 64 hex characters (32 bytes)")
		}
		return key
	}
	if os.Getenv("PERMAPPEL_ENV") == "production" {
		log.Fatal("PERMAPPEL_CSRF_KEY is required in production")
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		log.Fatalf("failed to generate CSRF key: %v", err)
	}
	log.Println("WARNING: using random CSRF key (form sessions won't survive restart). Set PERMAPPEL_CSRF_KEY for production.")
	return key
}

// Global stores instance (set by NewMux)
var stores *Stores

// Global token manager (set by NewMux)
var tokens *middleware.TokenManager

// Global websocket hub (set by NewMux)
var hub *realtime.Hub

// RateLimitPerSecond controls the per-IP rate limit. Tests can increase this.
var RateLimitPerSecond = 20

// NewMux wires HTTP handlers for the app.
func NewMux(staticDir string, s *Stores, h *realtime.Hub, tm *middleware.TokenManager) http.Handler {
	stores = s
	hub = h
	tokens = tm

	mux := http.NewServeMux()
	mux.Handle("/", http.FileServer(http.Dir(staticDir)))
	registerRoutes(mux)

	// CSRF key: 32-byte hex-encoded secret from env var
	csrfKey := loadCSRFKey()

	// Rate limiter: configurable requests per second per IP (OWASP A04)
	limiter := middleware.NewRateLimiter(RateLimitPerSecond, time.Second)

	// Apply middleware: RateLimit -> Auth -> CSRF -> SecurityHeaders -> Mux
	return middleware.Chain(mux,
		middleware.SecurityHeaders,
		middleware.CSRF(csrfKey),
		middleware.Auth(tokens),
		middleware.RateLimit(limiter),
	)
}
