package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/uniride/carpool/internal/api/handlers"
	"github.com/uniride/carpool/internal/api/routes"
	"github.com/uniride/carpool/internal/config"
	"github.com/uniride/carpool/internal/notify"
	"github.com/uniride/carpool/internal/repository/postgres"
	"github.com/uniride/carpool/internal/service/conflict"
	"github.com/uniride/carpool/internal/service/monitor"
	"github.com/uniride/carpool/internal/service/search"
	"github.com/uniride/carpool/internal/service/tripsvc"
	"github.com/uniride/carpool/pkg/cache"
	"github.com/uniride/carpool/pkg/database"
	"github.com/uniride/carpool/pkg/logger"
	"github.com/uniride/carpool/pkg/monitoring"
	"github.com/uniride/carpool/pkg/websocket"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	appLogger, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting UniRide Carpool Application",
		logger.String("env", cfg.Server.Env),
		logger.String("port", cfg.Server.Port),
	)

	// Initialize New Relic
	nrApp, err := monitoring.New(monitoring.Config{
		LicenseKey: cfg.NewRelic.LicenseKey,
		AppName:    cfg.NewRelic.AppName,
		Enabled:    cfg.NewRelic.Enabled,
		LogLevel:   cfg.NewRelic.LogLevel,
	})
	if err != nil {
		appLogger.Warn("Failed to initialize New Relic", logger.Err(err))
	} else if nrApp.IsEnabled() {
		appLogger.Info("New Relic APM initialized successfully",
			logger.String("app_name", cfg.NewRelic.AppName),
			logger.Bool("enabled", true))
	} else {
		appLogger.Info("New Relic APM disabled")
	}
	defer nrApp.Shutdown(10 * time.Second)

	// Initialize Redis
	redisClient, err := cache.NewRedisClient(cache.Config{
		Host:        cfg.Redis.Host,
		Port:        cfg.Redis.Port,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		MaxRetries:  cfg.Redis.MaxRetries,
		PoolSize:    cfg.Redis.PoolSize,
		DialTimeout: cfg.Redis.DialTimeout,
		ReadTimeout: cfg.Redis.ReadTimeout,
	})
	if err != nil {
		appLogger.Fatal("Failed to connect to Redis", logger.Err(err))
	}
	defer cache.Close(redisClient)

	appLogger.Info("Connected to Redis successfully")

	// Initialize PostgreSQL
	dbPort, err := strconv.Atoi(cfg.Database.Port)
	if err != nil {
		appLogger.Fatal("DB_PORT must be numeric", logger.Err(err))
	}
	postgresDB, err := database.NewPostgresDB(database.Config{
		Host:     cfg.Database.Host,
		Port:     dbPort,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.Name,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.MaxConnections,
		MaxIdle:  cfg.Database.MaxIdleConns,
	})
	if err != nil {
		appLogger.Fatal("Failed to connect to PostgreSQL", logger.Err(err))
	}
	defer postgresDB.Close()

	appLogger.Info("Connected to PostgreSQL successfully")

	// Initialize WebSocket hub
	wsHub := websocket.NewHub(appLogger)
	go wsHub.Run()

	// Wire stores, collaborator adapters and the trip engine
	tripRepo := postgres.NewTripRepo(postgresDB, redisClient, appLogger)
	if err := tripRepo.RebuildGeoIndex(context.Background()); err != nil {
		// Proximity queries fall back to table scans until the next rebuild
		appLogger.Warn("Failed to rebuild geo index", logger.Err(err))
	}
	accounts := postgres.NewAccountStore(postgresDB)

	notifier := notify.NewWSNotifier(wsHub, appLogger)
	payments := notify.NewEventPayments(notifier)
	chat := notify.NewEventChat(notifier)

	validator := conflict.NewValidator(tripRepo, conflict.Config{
		TransferBufferMinutes: cfg.Engine.TransferBufferMinutes,
	}, appLogger)

	tripService := tripsvc.NewService(tripRepo, validator, accounts, accounts, payments, notifier, chat, appLogger)

	matcher := search.NewMatcher(tripRepo, search.Config{
		DefaultRadiusKm: cfg.Engine.DefaultSearchRadiusKm,
		RadarMaxResults: cfg.Engine.RadarMaxResults,
	}, appLogger)

	scheduler := monitor.NewScheduler(tripRepo, validator, notifier, payments, nrApp, monitor.Config{
		Interval:     cfg.Engine.MonitorInterval,
		InitialDelay: cfg.Engine.MonitorInitialDelay,
		GraceMinutes: cfg.Engine.DepartureGraceMinutes,
		TickBudget:   cfg.Engine.MonitorTickBudget,
	}, appLogger)

	// The departure monitor runs for the lifetime of the process
	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	defer stopMonitor()
	go scheduler.Run(monitorCtx)

	// Initialize handlers with dependencies
	h := handlers.NewHandlers(tripService, matcher, scheduler, accounts, wsHub, nrApp, appLogger)

	// Initialize Gin router
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()

	// Setup all routes
	var nrApplication *monitoring.NewRelicApp
	if nrApp.IsEnabled() {
		nrApplication = nrApp
	}
	if nrApplication != nil {
		routes.SetupRoutes(router, h, nrApplication.Application)
	} else {
		routes.SetupRoutes(router, h, nil)
	}

	appLogger.Info("Routes configured successfully")

	// Create HTTP server
	srv := &http.Server{
		Addr:           fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	// Start server in a goroutine
	go func() {
		appLogger.Info("Server starting", logger.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal("Failed to start server", logger.Err(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")
	stopMonitor()

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown", logger.Err(err))
	}

	appLogger.Info("Server stopped gracefully")
}
