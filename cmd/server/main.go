package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"booking-service/internal/app"
	"booking-service/internal/audit"
	"booking-service/internal/booking"
	"booking-service/internal/config"
	"booking-service/internal/gcal"
	"booking-service/internal/logger"
	"booking-service/internal/notify"
	"booking-service/internal/ratelimit"
	"booking-service/internal/scheduling"
	"booking-service/internal/server"
	"booking-service/internal/store/postgres"
	"booking-service/internal/store/redisstore"
)

func main() {
	logger.Init(logger.FromEnv())
	log := logger.Named("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	hours, err := scheduling.NewBusinessHours(cfg.BusinessTimezone, cfg.MorningStart, cfg.MorningEnd, cfg.AfternoonStart, cfg.AfternoonEnd)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid business hours")
	}
	auditLog := audit.New(cfg.AuditCapacity)

	// calendar
	var primary scheduling.DataSource
	switch {
	case cfg.CalendarProvider == config.CalendarGoogle && cfg.Google.HasCredentials():
		cal, err := gcal.New(ctx, cfg.Google, cfg.CalendarTimeout)
		if err != nil {
			log.Fatal().Err(err).Msg("google calendar client")
		}
		primary = cal
	default:
		log.Warn().Msg("demo calendar selected; availability is synthetic and booking is disabled")
		primary = scheduling.NewMockCalendar(hours.Location)
	}

	// booking store
	var store booking.Store = booking.UnavailableStore{}
	if cfg.DatabaseURL != "" {
		pool, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("database")
		}
		defer pool.Close()
		if err := postgres.Migrate(ctx, pool); err != nil {
			log.Fatal().Err(err).Msg("migrate")
		}
		store = &postgres.BookingStore{DB: pool}
	} else {
		log.Warn().Msg("DATABASE_URL not set; bookings will not be persisted")
	}

	// shared counters and holds
	var (
		rates ratelimit.Store   = ratelimit.NewMemoryStore()
		holds booking.HoldStore = booking.NewMemoryHolds()
	)
	if cfg.RedisURL != "" {
		client, err := redisstore.Connect(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("redis")
		}
		defer client.Close()
		rates = redisstore.NewRateStore(client, "booking:rl:")
		holds = redisstore.NewHoldStore(client, "booking:hold:")
	}

	// email
	var notifier booking.Notifier
	if cfg.NotificationsEnabled {
		var provider notify.Provider = notify.LogProvider{}
		if cfg.ResendAPIKey != "" {
			provider = notify.NewResend(cfg.ResendAPIKey)
		} else {
			log.Warn().Msg("RESEND_API_KEY not set; emails are logged only")
		}
		retry := notify.DefaultRetryPolicy()
		retry.MaxAttempts = cfg.EmailMaxAttempts
		notifier = notify.NewDispatcher(provider, rates, notify.Limits{
			Cooldown:  cfg.EmailCooldown,
			HourlyCap: cfg.EmailHourlyCap,
			DailyCap:  cfg.EmailDailyCap,
		}, retry, cfg.EmailTimeout, auditLog)
	}

	svc := &scheduling.Service{
		Primary:    primary,
		Fallback:   scheduling.NewMockCalendar(hours.Location),
		CalendarID: cfg.CalendarID,
		Generator:  scheduling.Generator{Hours: hours, Durations: cfg.MeetingDurations, LeadTime: cfg.LeadTime},
		Timeout:    cfg.CalendarTimeout,
		Audit:      auditLog,
	}
	orch := booking.NewOrchestrator(booking.Deps{
		Calendar:   primary,
		CalendarID: cfg.CalendarID,
		Slots:      svc,
		Store:      store,
		Notifier:   notifier,
		Holds:      holds,
		Hours:      hours,
		Durations:  cfg.MeetingDurations,
		LeadTime:   cfg.LeadTime,
		HoldTTL:    cfg.HoldTTL,
		OwnerEmail: cfg.OwnerEmail,
		From:       cfg.EmailFrom,
	})

	gin.SetMode(gin.ReleaseMode)
	router := app.NewRouter(&app.App{
		Availability:      svc,
		Bookings:          orch,
		Audit:             auditLog,
		SchedulingEnabled: cfg.SchedulingEnabled,
	}, app.RouterOptions{
		Throttle:       ratelimit.NewIPThrottle(cfg.APIRPS, cfg.APIBurst),
		BookingLimiter: ratelimit.NewLimiter(rates, "book:", cfg.RateLimitMaxRequests, cfg.RateLimitWindow),
		StaticTokens:   cfg.StaticTokens,
		JWTSecret:      cfg.JWTHMACSecret,
	})

	srv := server.New(router, server.Options{Port: cfg.Port, CORSOrigins: cfg.CORSOrigins})
	if err := server.Run(ctx, srv, 0); err != nil {
		log.Error().Err(err).Msg("server stopped")
		os.Exit(1)
	}
}
