package main

import (
	"context"
	"log"
	"math/rand"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/masterypath/backend/internal/auth"
	"github.com/masterypath/backend/internal/bank"
	"github.com/masterypath/backend/internal/calibrate"
	"github.com/masterypath/backend/internal/database"
	"github.com/masterypath/backend/internal/generator"
	"github.com/masterypath/backend/internal/mastery"
	"github.com/masterypath/backend/internal/middleware"
	"github.com/masterypath/backend/internal/scorer"
	"github.com/masterypath/backend/internal/session"
)

func main() {
	// Optional .env for local development
	if err := godotenv.Load(); err == nil {
		log.Printf("Loaded environment from .env")
	}

	// Initialize database
	db, err := database.Connect()
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Assemble the assessment engine
	calibrator := calibrate.New(rand.New(rand.NewSource(time.Now().UnixNano())))
	gen := generator.NewGenerator()
	questionBank := bank.New(bank.NewStore(db), gen)
	verifier := mastery.NewVerifier(mastery.NewStore(db))
	answerScorer := scorer.New()

	engine := session.NewService(
		session.NewStore(db), questionBank, calibrator, verifier, answerScorer,
		session.DefaultConfig(),
	)
	engine.StartInactivitySweeper(context.Background(), 5*time.Minute)

	// Initialize handlers
	authHandler := auth.NewHandler(db)
	sessionHandler := session.NewHandler(engine, questionBank)

	// Setup router
	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()

	// Public routes
	api.HandleFunc("/auth/register", authHandler.Register).Methods("POST")
	api.HandleFunc("/auth/login", authHandler.Login).Methods("POST")

	// Protected routes
	protected := api.PathPrefix("").Subrouter()
	protected.Use(middleware.AuthMiddleware)
	protected.HandleFunc("/auth/me", authHandler.GetCurrentUser).Methods("GET")

	protected.HandleFunc("/assessment/sessions", sessionHandler.StartSession).Methods("POST")
	protected.HandleFunc("/assessment/sessions/{id}/responses", sessionHandler.SubmitResponse).Methods("POST")
	protected.HandleFunc("/assessment/sessions/{id}/answers", sessionHandler.SubmitAnswer).Methods("POST")
	protected.HandleFunc("/assessment/sessions/{id}/summary", sessionHandler.GetSessionSummary).Methods("GET")
	protected.HandleFunc("/assessment/mastery/{objectiveId}", sessionHandler.GetMastery).Methods("GET")
	protected.HandleFunc("/admin/questions/flagged", sessionHandler.ListFlaggedQuestions).Methods("GET")

	// Health check
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// CORS
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})

	handler := c.Handler(r)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("Server starting on :%s", port)
	if err := http.ListenAndServe(":"+port, handler); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
