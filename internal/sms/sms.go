package sms

import (
	"context"
	"fmt"
	"time"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"

	"github.com/eventhub/server/internal/config"
)

// Dispatcher delivers one-time codes to phone numbers. Delivery failures are
// distinct from validation failures; the caller decides how to surface them.
type Dispatcher interface {
	SendOtp(ctx context.Context, countryCode, mobile, code string) error
}

// NewDispatcher selects the provider once at startup from configuration.
func NewDispatcher(cfg *config.Config, log *zap.Logger) Dispatcher {
	if cfg.SMSProvider == "twilio" {
		client := twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: cfg.TwilioSID,
			Password: cfg.TwilioToken,
		})
		return &TwilioDispatcher{
			client: client,
			from:   cfg.TwilioFrom,
			expiry: cfg.OtpExpiry,
			log:    log,
		}
	}
	return &ConsoleDispatcher{expiry: cfg.OtpExpiry, log: log}
}

// ConsoleDispatcher logs codes instead of sending them. This is the one
// sanctioned place a raw code leaves the core, and only in non-production
// setups.
type ConsoleDispatcher struct {
	expiry time.Duration
	log    *zap.Logger
}

func (d *ConsoleDispatcher) SendOtp(ctx context.Context, countryCode, mobile, code string) error {
	d.log.Info("SMS OTP (console)",
		zap.String("to", countryCode+mobile),
		zap.String("code", code),
		zap.Duration("expiresIn", d.expiry),
	)
	return nil
}

// TwilioDispatcher sends real SMS via the Twilio Messages API.
type TwilioDispatcher struct {
	client *twilio.RestClient
	from   string
	expiry time.Duration
	log    *zap.Logger
}

func (d *TwilioDispatcher) SendOtp(ctx context.Context, countryCode, mobile, code string) error {
	body := fmt.Sprintf("Your EventHub verification code is: %s. Valid for %d minutes.",
		code, int(d.expiry.Minutes()))

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(countryCode + mobile)
	params.SetFrom(d.from)
	params.SetBody(body)

	if _, err := d.client.Api.CreateMessage(params); err != nil {
		return fmt.Errorf("twilio create message: %w", err)
	}

	d.log.Info("SMS sent via Twilio", zap.String("countryCode", countryCode))
	return nil
}
