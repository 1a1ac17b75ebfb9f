package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-admission/internal/auth"
	"ms-admission/internal/checkin"
	"ms-admission/internal/checkin/checkin_api"
	"ms-admission/internal/checkin/qr"
	"ms-admission/internal/config"
	"ms-admission/internal/database/migrations"
	"ms-admission/internal/kafka"
	"ms-admission/internal/logger"
	"ms-admission/internal/registration"
	regdb "ms-admission/internal/registration/db"
	"ms-admission/internal/registration/registration_api"
	rediswrap "ms-admission/internal/registration/redis"
	"ms-admission/internal/verification"
	"ms-admission/internal/verification/store"
	"ms-admission/internal/verification/verification_api"
)

func connectPostgres(cfg *config.Config, log *logger.Logger) *bun.DB {
	sqldb, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to open Postgres: %v", err))
	}
	sqldb.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.Database.MaxLifetime)

	if err := sqldb.Ping(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to Postgres: %v", err))
	}
	log.Info("DATABASE", "Postgres connection successful")

	return bun.NewDB(sqldb, pgdialect.New())
}

func connectRedis(cfg *config.Config, log *logger.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		log.Fatal("REDIS", fmt.Sprintf("Failed to connect to Redis: %v", err))
	}
	log.Info("REDIS", "Redis connection successful")
	return client
}

func main() {
	_ = godotenv.Load() // Loads .env file if present

	log := logger.NewLogger()
	defer log.Close()

	cfg := config.Load()

	bunDB := connectPostgres(cfg, log)
	defer bunDB.Close()

	runner := migrations.NewRunner(bunDB, migrations.DefaultOptions())
	if err := runner.RunMigrations(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Migrations failed: %v", err))
	}

	redisClient := connectRedis(cfg, log)
	defer redisClient.Close()

	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, []string{
			cfg.Kafka.Topics.VerificationCodes,
			cfg.Kafka.Topics.RegistrationStatus,
			cfg.Kafka.Topics.CheckIns,
		}); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic setup failed, producer will auto-create: %v", err))
		}
		producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topics)
		defer producer.Close()
	} else {
		log.Warn("KAFKA", "Kafka disabled, notifications will not be delivered")
	}

	db := &regdb.DB{Bun: bunDB}
	eventLock := rediswrap.NewRedis(redisClient, cfg.Admission.LockTTL)
	qrGen := qr.NewGenerator(cfg.QRSecret)

	regService := registration.NewService(db, eventLock, publisherOrNil(producer), log)
	regService.BusyRetries = cfg.Admission.BusyRetries
	regService.RetryBackoff = cfg.Admission.RetryBackoff

	verifyService := verification.NewService(store.NewRedisStore(redisClient), codePublisherOrNil(producer), log)
	verifyService.CodeTTL = cfg.Verification.CodeTTL
	verifyService.MaxAttempts = cfg.Verification.MaxAttempts
	verifyService.EscapeCode = cfg.Verification.EscapeCode

	checkinService := checkin.NewService(db, checkinPublisherOrNil(producer), qrGen, log)

	regHandler := registration_api.NewHandler(regService)
	verifyHandler := verification_api.NewHandler(verifyService)
	checkinHandler := checkin_api.NewHandler(checkinService)

	r := chi.NewRouter()

	// Verification is part of onboarding, before the caller has a session.
	r.Route("/verification", func(r chi.Router) {
		r.Post("/issue", verifyHandler.IssueCode)
		r.Post("/check", verifyHandler.CheckCode)
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware)

		r.Route("/events", func(r chi.Router) {
			r.Post("/", regHandler.CreateEvent)
			r.Get("/{eventID}", regHandler.GetEvent)
			r.Put("/{eventID}/open", regHandler.SetEventOpen)
			r.Delete("/{eventID}", regHandler.DeleteEvent)
			r.Get("/{eventID}/registrations", regHandler.ListByEvent)
		})

		r.Route("/registrations", func(r chi.Router) {
			r.Post("/", regHandler.Apply)
			r.Get("/", regHandler.ListMine)
			r.Post("/{registrationID}/approve", regHandler.Approve)
			r.Post("/{registrationID}/reject", regHandler.Reject)
			r.Post("/{registrationID}/payment", regHandler.SubmitPayment)
			r.Post("/{registrationID}/payment/verify", regHandler.VerifyPayment)
			r.Get("/{registrationID}/qr", checkinHandler.AttendanceQR)
			r.Post("/{registrationID}/attendance/override", checkinHandler.OverrideAttendance)
		})

		r.Post("/checkin", checkinHandler.CheckIn)
	})

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("SERVER", fmt.Sprintf("Admission service on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("SERVER", fmt.Sprintf("HTTP error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(ctxShutdown)
	log.Info("SERVER", "Admission service shutdown complete")
}

// Kafka may be disabled; hand the services a nil interface, they treat it
// as fire-into-the-void.
func publisherOrNil(p *kafka.Producer) registration.StatusPublisher {
	if p == nil {
		return nil
	}
	return p
}

func codePublisherOrNil(p *kafka.Producer) verification.CodePublisher {
	if p == nil {
		return nil
	}
	return p
}

func checkinPublisherOrNil(p *kafka.Producer) checkin.CheckInPublisher {
	if p == nil {
		return nil
	}
	return p
}
