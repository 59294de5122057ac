package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/heartflow/clinic/internal/config"
	"github.com/heartflow/clinic/internal/domain/diagnostics"
	"github.com/heartflow/clinic/internal/domain/identity"
	"github.com/heartflow/clinic/internal/domain/inbox"
	"github.com/heartflow/clinic/internal/domain/medication"
	"github.com/heartflow/clinic/internal/domain/referral"
	"github.com/heartflow/clinic/internal/domain/scheduling"
	"github.com/heartflow/clinic/internal/platform/auth"
	"github.com/heartflow/clinic/internal/platform/clock"
	"github.com/heartflow/clinic/internal/platform/db"
	"github.com/heartflow/clinic/internal/platform/notification"
	"github.com/heartflow/clinic/internal/platform/otp"
	"github.com/heartflow/clinic/internal/platform/realtime"
	"github.com/heartflow/clinic/internal/platform/telemetry"
)

// app holds the wired services shared by serve and the admin commands.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	pool   *pgxpool.Pool
	redis  *redis.Client
	jwt    auth.JWTConfig
	hub    *realtime.Hub
	stats  *telemetry.Registry

	identity    *identity.Service
	scheduling  *scheduling.Service
	medication  *medication.Service
	diagnostics *diagnostics.Service
	referral    *referral.Service
	inbox       *inbox.Service

	closers []func()
}

func newLogger(dev bool) zerolog.Logger {
	if dev {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL,
		db.WithConnLimits(cfg.DBMaxConns, cfg.DBMinConns),
		db.WithConnLifetime(time.Hour),
		db.WithQueryLog(logger, cfg.IsDev()),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, pool: pool}
	a.closers = append(a.closers, pool.Close)

	var (
		codeStore   otp.Store
		revocations auth.RevocationStore
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		a.redis = redis.NewClient(opts)
		a.closers = append(a.closers, func() { _ = a.redis.Close() })

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := a.redis.Ping(pingCtx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		codeStore = otp.NewRedisStore(a.redis)
		revocations = auth.NewRedisRevocationStore(a.redis)
		logger.Info().Msg("using redis for one-time codes and token revocation")
	} else {
		codeStore = otp.NewMemoryStore()
		mem := auth.NewMemoryRevocationStore()
		a.closers = append(a.closers, mem.Close)
		revocations = mem
		logger.Warn().Msg("REDIS_URL not set; one-time codes and revocations are kept in process memory")
	}

	var sender notification.EmailSender
	if cfg.SMTPEnabled() {
		sender = notification.NewSMTPSender(notification.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
	} else {
		sender = notification.NewLogSender(logger)
		logger.Warn().Msg("SMTP_HOST not set; outgoing email is written to the log")
	}
	a.wire(codeStore, revocations, sender, loc)
	return a, nil
}

// wire builds every domain service on top of the connections in a.
func (a *app) wire(codeStore otp.Store, revocations auth.RevocationStore, sender notification.EmailSender, loc *time.Location) {
	cfg, pool, logger := a.cfg, a.pool, a.logger
	mailer := notification.NewMailer(sender, nil)

	clk := clock.System{Location: loc}
	tx := db.NewTransactor(pool)
	a.jwt = auth.JWTConfig{
		Issuer:      cfg.JWTIssuer,
		SigningKey:  cfg.SigningKey(),
		Revocations: revocations,
	}

	a.hub = realtime.NewHub(logger)
	a.stats = telemetry.NewRegistry()
	a.stats.RegisterGauge("realtime_connections", "Open live notification streams.", func() float64 {
		return float64(a.hub.Connections())
	})
	if pool != nil {
		a.stats.RegisterGauge("db_pool_acquired_connections", "Connections currently checked out of the pool.", func() float64 {
			return float64(pool.Stat().AcquiredConns())
		})
		a.stats.RegisterGauge("db_pool_idle_connections", "Idle connections in the pool.", func() float64 {
			return float64(pool.Stat().IdleConns())
		})
	}

	a.inbox = inbox.NewService(inbox.NewNotificationRepoPG(pool), mailer, logger).WithPusher(a.hub)

	a.identity = identity.NewService(identity.Deps{
		Users:       identity.NewUserRepoPG(pool),
		Profiles:    identity.NewProfileRepoPG(pool),
		Accounts:    identity.NewAccountRepoPG(pool),
		Tx:          tx,
		Tokens:      auth.NewTokenIssuer(a.jwt, cfg.AccessTokenTTL, cfg.RefreshTokenTTL),
		Codes:       otp.NewService(otp.NewGenerator(cfg.JWTIssuer, cfg.OTPTTL), codeStore, cfg.OTPTTL, clk),
		Mailer:      mailer,
		Revocations: revocations,
		Logger:      logger,
	})

	a.scheduling = scheduling.NewService(scheduling.Deps{
		Availability: scheduling.NewAvailabilityRepoPG(pool),
		Leaves:       scheduling.NewLeaveRepoPG(pool),
		Appointments: scheduling.NewAppointmentRepoPG(pool),
		Tx:           tx,
		Users:        a.identity,
		Notifier:     a.inbox,
		Clock:        clk,
		Location:     loc,
		Logger:       logger,
	})

	a.medication = medication.NewService(medication.Deps{
		Medications:   medication.NewMedicationRepoPG(pool),
		Interactions:  medication.NewInteractionRepoPG(pool),
		Prescriptions: medication.NewPrescriptionRepoPG(pool),
		Appointments:  a.scheduling,
		Tx:            tx,
		Logger:        logger,
	})

	a.diagnostics = diagnostics.NewService(diagnostics.Deps{
		Tests:        diagnostics.NewTestRepoPG(pool),
		Appointments: diagnostics.NewAppointmentRepoPG(pool),
		Results:      diagnostics.NewResultRepoPG(pool),
		Tx:           tx,
		Users:        a.identity,
		Notifier:     a.inbox,
		Clock:        clk,
		Location:     loc,
		Logger:       logger,
	})

	a.referral = referral.NewService(referral.Deps{
		Referrals:    referral.NewReferralRepoPG(pool),
		Sonography:   referral.NewSonographyRepoPG(pool),
		Users:        a.identity,
		Appointments: a.scheduling,
		Notifier:     a.inbox,
		Clock:        clk,
		Logger:       logger,
	})
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// withApp loads configuration, wires the services and runs fn.
func withApp(fn func(ctx context.Context, a *app) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	ctx := context.Background()
	a, err := newApp(ctx, cfg, newLogger(cfg.IsDev()))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}
