package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"

	"github.com/pawledger/backend/internal/database"
	"github.com/pawledger/backend/internal/handlers"
	mW "github.com/pawledger/backend/internal/middleware"
	"github.com/pawledger/backend/internal/services"
)

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")
	viper.BindEnv("database.lock_timeout", "DATABASE_LOCK_TIMEOUT")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("daycare.daily_capacity", "DAYCARE_DAILY_CAPACITY")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize storage
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	// The ledger store is the single writer of balance state; every
	// other service reaches it through the credit engine.
	ledgerStore := services.NewLedgerStore(db)
	creditEngine := services.NewCreditEngine(ledgerStore, redisClient)
	accountService := services.NewAccountService(ledgerStore, redisClient)
	admissionService := services.NewAdmissionService(db, ledgerStore, creditEngine)
	bookingService := services.NewBookingService(db, ledgerStore, creditEngine)
	paymentService := services.NewPaymentIntakeService(db, creditEngine)

	accountHandler := handlers.NewAccountHandler(accountService)
	admissionHandler := handlers.NewAdmissionHandler(admissionService)
	bookingHandler := handlers.NewBookingHandler(bookingService)
	paymentHandler := handlers.NewPaymentHandler(paymentService)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/accounts", accountHandler.Register)
		r.Get("/accounts/{accountId}/balance", accountHandler.GetBalance)
		r.Get("/accounts/{accountId}/ledger", accountHandler.GetLedger)

		r.Post("/checkins", admissionHandler.CheckIn)
		r.Post("/checkins/{admissionId}/release", admissionHandler.Release)

		r.Post("/bookings", bookingHandler.Submit)
		r.Get("/bookings/{bookingId}", bookingHandler.GetBooking)
		r.Post("/bookings/{bookingId}/approve", bookingHandler.Approve)
		r.Post("/bookings/{bookingId}/reject", bookingHandler.Reject)
		r.Post("/bookings/{bookingId}/cancel", bookingHandler.Cancel)
		r.Post("/bookings/{bookingId}/complete", bookingHandler.Complete)

		// Payment processor delivers confirmed events here, already
		// signature-verified upstream.
		r.Post("/webhooks/payments", paymentHandler.HandleWebhook)
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
