package integration

import (
	"time"

	"github.com/rs/zerolog"

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
)

type services struct {
	clock       *clock.FixedClock
	mail        *notification.MockEmailSender
	inbox       *inbox.Service
	identity    *identity.Service
	scheduling  *scheduling.Service
	medication  *medication.Service
	diagnostics *diagnostics.Service
	referral    *referral.Service
}

// newServices wires every service onto the shared pool, as the server does.
func newServices() *services {
	pool := globalPool
	logger := zerolog.Nop()
	clk := clock.Fixed(testNow)
	tx := db.NewTransactor(pool)
	sender := &notification.MockEmailSender{}
	mailer := notification.NewMailer(sender, nil)
	jwtCfg := auth.JWTConfig{Issuer: "heartflow-test", SigningKey: []byte("integration-signing-key-0123456789")}

	s := &services{clock: clk, mail: sender}
	s.inbox = inbox.NewService(inbox.NewNotificationRepoPG(pool), mailer, logger)
	s.identity = identity.NewService(identity.Deps{
		Users:    identity.NewUserRepoPG(pool),
		Profiles: identity.NewProfileRepoPG(pool),
		Accounts: identity.NewAccountRepoPG(pool),
		Tx:       tx,
		Tokens:   auth.NewTokenIssuer(jwtCfg, time.Hour, 24*time.Hour),
		Codes:    otp.NewService(otp.NewGenerator("heartflow-test", 10*time.Minute), otp.NewMemoryStore(), 10*time.Minute, clk),
		Mailer:   mailer,
		Logger:   logger,
	})
	s.scheduling = scheduling.NewService(scheduling.Deps{
		Availability: scheduling.NewAvailabilityRepoPG(pool),
		Leaves:       scheduling.NewLeaveRepoPG(pool),
		Appointments: scheduling.NewAppointmentRepoPG(pool),
		Tx:           tx,
		Users:        s.identity,
		Notifier:     s.inbox,
		Clock:        clk,
		Location:     time.UTC,
		Logger:       logger,
	})
	s.medication = medication.NewService(medication.Deps{
		Medications:   medication.NewMedicationRepoPG(pool),
		Interactions:  medication.NewInteractionRepoPG(pool),
		Prescriptions: medication.NewPrescriptionRepoPG(pool),
		Appointments:  s.scheduling,
		Tx:            tx,
		Logger:        logger,
	})
	s.diagnostics = diagnostics.NewService(diagnostics.Deps{
		Tests:        diagnostics.NewTestRepoPG(pool),
		Appointments: diagnostics.NewAppointmentRepoPG(pool),
		Results:      diagnostics.NewResultRepoPG(pool),
		Tx:           tx,
		Users:        s.identity,
		Notifier:     s.inbox,
		Clock:        clk,
		Location:     time.UTC,
		Logger:       logger,
	})
	s.referral = referral.NewService(referral.Deps{
		Referrals:    referral.NewReferralRepoPG(pool),
		Sonography:   referral.NewSonographyRepoPG(pool),
		Users:        s.identity,
		Appointments: s.scheduling,
		Notifier:     s.inbox,
		Clock:        clk,
		Logger:       logger,
	})
	return s
}
