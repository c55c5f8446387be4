package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"

	"schoolbus-backend/internal/database"
	"schoolbus-backend/internal/handlers"
	"schoolbus-backend/internal/middleware"
	"schoolbus-backend/internal/models"
	"schoolbus-backend/internal/notifier"
	"schoolbus-backend/internal/services"
	"schoolbus-backend/internal/websocket"
)

func main() {
	log.Println("═══════════════════════════════════════════════════════════════════")
	log.Println("🚀 SCHOOL BUS BACKEND SERVER STARTING")
	log.Println("═══════════════════════════════════════════════════════════════════")

	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  Warning: .env file not found, using environment variables from system")
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("❌ DATABASE_URL environment variable is required")
	}

	jwtSecret := os.Getenv("APP_JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("❌ APP_JWT_SECRET environment variable is required")
	}

	pollInterval := 30 * time.Second
	if raw := os.Getenv("CDC_POLL_INTERVAL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			log.Fatalf("❌ Invalid CDC_POLL_INTERVAL %q: %v", raw, err)
		}
		pollInterval = d
	}

	db, err := database.Connect(dbURL)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	log.Println("🔄 Running database migrations...")
	if err := database.Migrate(db); err != nil {
		log.Fatalf("❌ Database migrations failed: %v", err)
	}

	if err := database.SeedUsers(db); err != nil {
		log.Fatalf("❌ User seeding failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Supports both file path and base64-encoded credentials
	var fcmService *services.FCMService
	if creds := os.Getenv("FIREBASE_CREDENTIALS_BASE64"); creds != "" {
		fcmService, err = services.NewFCMServiceFromBase64(ctx, creds)
	} else {
		credentialsFile := os.Getenv("FIREBASE_CREDENTIALS_FILE")
		if credentialsFile == "" {
			credentialsFile = "./firebase-service-account.json"
		}
		fcmService, err = services.NewFCMService(ctx, credentialsFile)
	}
	if err != nil {
		log.Printf("⚠️  Failed to initialize FCM: %v (push notifications disabled)", err)
		fcmService = nil
	} else {
		log.Println("✅ Firebase Cloud Messaging initialized")
	}

	wsHub := websocket.NewHub()
	go wsHub.Run()
	log.Println("✅ WebSocket hub started")

	store := notifier.NewPostgresStore(db)
	opts := []notifier.Option{notifier.WithLive(wsHub)}
	if fcmService != nil {
		opts = append(opts, notifier.WithPush(store, fcmService))
	}
	statusNotifier := notifier.New(store, store, store, opts...)

	dispatcher := notifier.NewDispatcher(db, dbURL, statusNotifier, pollInterval)
	go func() {
		if err := dispatcher.Run(ctx); err != nil {
			log.Printf("❌ [CDC] Dispatcher exited: %v", err)
		}
	}()

	var geocoder handlers.Geocoder
	if apiKey := os.Getenv("HERE_API_KEY"); apiKey != "" {
		geocoder = services.NewHEREGeocodingService(apiKey)
		log.Println("✅ HERE geocoding enabled")
	} else {
		log.Println("⚠️  HERE_API_KEY not set, student geocoding disabled")
	}

	optimizer := services.NewRouteOptimizer()
	optimizer.Verbose = true

	r := chi.NewRouter()

	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	// WebSocket endpoint (token checked in the handler)
	r.Get("/ws", websocket.HandleWebSocket(wsHub, jwtSecret))

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", handlers.Login(db, jwtSecret))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(jwtSecret))

			r.Post("/fcm-token", handlers.RegisterFCMToken(db))

			// Bus devices
			r.Route("/driver", func(r chi.Router) {
				r.Use(middleware.RequireRole(models.RoleDriver, models.RoleAdmin))
				r.Get("/roster", handlers.GetDriverRoster(db))
				r.Post("/scans", handlers.UploadScans(db))
				r.Put("/trips/{tripId}/students/{studentId}/status", handlers.SetPassengerStatus(db))
				r.Post("/route/optimize", handlers.OptimizeRoute(optimizer))
			})

			// Parent inbox
			r.Route("/parent", func(r chi.Router) {
				r.Use(middleware.RequireRole(models.RoleParent))
				r.Get("/notifications", handlers.ListNotifications(db))
				r.Patch("/notifications/{id}/read", handlers.MarkNotificationRead(db))
			})

			// School administration
			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.RequireRole(models.RoleAdmin))
				r.Post("/users", handlers.CreateUser(db))
				r.Post("/parents/{parentId}/students", handlers.LinkParentStudent(db))
				r.Post("/students/{studentId}/geocode", handlers.GeocodeStudent(db, geocoder))
			})
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
		log.Printf("⚠️  PORT not set, using default: %s", port)
	}

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("⚠️  Shutdown error: %v", err)
		}
	}()

	log.Println("═══════════════════════════════════════════════════════════════════")
	log.Println("✅ ALL INITIALIZATION COMPLETE")
	log.Printf("🚀 Server starting on http://localhost:%s", port)
	log.Println("═══════════════════════════════════════════════════════════════════")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("❌ Server failed: %v", err)
	}
	log.Println("👋 Server stopped")
}
