package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hydra-fleet-server/internal/config"
	"hydra-fleet-server/internal/handler"
	"hydra-fleet-server/internal/middleware"
	"hydra-fleet-server/internal/repository"
	"hydra-fleet-server/internal/service"
	"hydra-fleet-server/internal/websocket"

	_ "github.com/go-kivik/kivik/v4/couchdb"

	"github.com/go-kivik/kivik/v4"
	"github.com/gorilla/mux"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	couchURL := fmt.Sprintf("http://%s:%s@%s:%s",
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Host,
		cfg.Database.Port,
	)

	client, err := kivik.New("couch", couchURL)
	if err != nil {
		log.Fatalf("Failed to connect to CouchDB: %v", err)
	}

	exists, err := client.DBExists(context.Background(), cfg.Database.Name)
	if err != nil {
		log.Fatalf("Failed to check database existence: %v", err)
	}

	if !exists {
		if err := client.CreateDB(context.Background(), cfg.Database.Name); err != nil {
			log.Fatalf("Failed to create database: %v", err)
		}
		log.Printf("Created database: %s", cfg.Database.Name)
	}

	deviceRepo := repository.NewDeviceRepository(client, cfg.Database.Name)
	activityRepo := repository.NewActivityRepository(client, cfg.Database.Name)
	userRepo := repository.NewUserRepository(client, cfg.Database.Name)

	// Live-session registry and console broadcaster: explicit objects with
	// startup lifecycle, injected wherever routing is needed.
	sessions := websocket.NewSessionRegistry(
		cfg.WebSocket.MaxMessageSize,
		cfg.WebSocket.WriteWait,
		cfg.WebSocket.PongWait,
		cfg.WebSocket.PingPeriod,
	)
	broadcaster := websocket.NewBroadcaster(
		cfg.WebSocket.WriteWait,
		cfg.WebSocket.PongWait,
		cfg.WebSocket.PingPeriod,
	)

	registry := service.NewDeviceRegistry(deviceRepo)
	activityService := service.NewActivityService(activityRepo)
	deviceAuthService := service.NewDeviceAuthService(registry, cfg.JWT.Secret)
	presenceService := service.NewPresenceService(registry, activityService, sessions, broadcaster)
	telemetryService := service.NewTelemetryService(registry, activityService, broadcaster, cfg.Telemetry.BatteryEventThreshold)
	commandService := service.NewCommandService(sessions, registry, activityService, broadcaster)
	authService := service.NewAuthService(userRepo, cfg.JWT.Secret, cfg.JWT.Expiration)

	if err := authService.Bootstrap(context.Background(), cfg.Admin.Email, cfg.Admin.Password); err != nil {
		log.Fatalf("Failed to bootstrap admin account: %v", err)
	}

	deviceSocketHandler := handler.NewDeviceSocketHandler(sessions, deviceAuthService, presenceService, telemetryService, commandService)
	consoleSocketHandler := handler.NewConsoleSocketHandler(broadcaster, cfg.JWT.Secret)
	authHandler := handler.NewAuthHandler(authService)
	deviceHandler := handler.NewDeviceHandler(registry, commandService, activityService)

	r := mux.NewRouter()

	r.Use(middleware.LoggerMiddleware())
	r.Use(middleware.CORSMiddleware(
		cfg.CORS.AllowedOrigins,
		cfg.CORS.AllowedMethods,
		cfg.CORS.AllowedHeaders,
	))

	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/auth/login", authHandler.Login).Methods("POST", "OPTIONS")

	protected := api.PathPrefix("").Subrouter()
	protected.Use(middleware.AuthMiddleware(cfg.JWT.Secret))

	protected.HandleFunc("/devices", deviceHandler.List).Methods("GET", "OPTIONS")
	protected.HandleFunc("/devices/{id}", deviceHandler.Get).Methods("GET", "OPTIONS")
	protected.HandleFunc("/devices/{id}/lock", middleware.RequireAdmin(deviceHandler.Lock)).Methods("POST", "OPTIONS")
	protected.HandleFunc("/devices/{id}/unlock", middleware.RequireAdmin(deviceHandler.Unlock)).Methods("POST", "OPTIONS")
	protected.HandleFunc("/devices/{id}/settings", middleware.RequireAdmin(deviceHandler.UpdateSettings)).Methods("POST", "OPTIONS")
	protected.HandleFunc("/devices/{id}/activities", deviceHandler.Activities).Methods("GET", "OPTIONS")
	protected.HandleFunc("/activities", deviceHandler.AllActivities).Methods("GET", "OPTIONS")

	r.HandleFunc("/ws/device", deviceSocketHandler.HandleConnection)
	r.HandleFunc("/ws/console", consoleSocketHandler.HandleConnection)

	r.HandleFunc("/health", healthHandler).Methods("GET")

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting Hydra Fleet Server on %s (env: %s)", addr, cfg.Server.Env)
		log.Printf("Connected to CouchDB at %s:%s", cfg.Database.Host, cfg.Database.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped gracefully")
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","service":"hydra-fleet-server"}`))
}
