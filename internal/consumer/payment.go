package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Eursukkul/studio-booking/internal/service"
	"go.uber.org/zap"
)

const (
	RoutingPaymentCaptured = "payment.captured"
	RoutingCreditsPurchase = "credits.purchased"
)

type PaymentCaptured struct {
	BookingID string `json:"booking_id"`
	PaymentID string `json:"payment_id"`
}

// CreditsPurchased is sent by checkout once a credit bundle is paid.
// OrderID makes the grant idempotent.
type CreditsPurchased struct {
	OrderID   string     `json:"order_id"`
	ClientID  string     `json:"client_id"`
	Credits   int        `json:"credits"`
	ExpiresAt *time.Time `json:"expires_at"`
	Bundle    string     `json:"bundle"`
}

type PaymentEvents struct {
	bookings service.BookingService
	credits  service.CreditService
	logger   *zap.Logger
}

func NewPaymentEvents(bookings service.BookingService, credits service.CreditService, logger *zap.Logger) *PaymentEvents {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentEvents{bookings: bookings, credits: credits, logger: logger}
}

func (p *PaymentEvents) Register(c *Consumer) {
	c.Handle(RoutingPaymentCaptured, p.handlePaymentCaptured)
	c.Handle(RoutingCreditsPurchase, p.handleCreditsPurchased)
}

func (p *PaymentEvents) handlePaymentCaptured(ctx context.Context, body []byte) error {
	var m PaymentCaptured
	if err := json.Unmarshal(body, &m); err != nil || m.BookingID == "" {
		return fmt.Errorf("%w: payment.captured: %v", errMalformed, err)
	}

	b, err := p.bookings.Confirm(ctx, m.BookingID)
	if err != nil {
		// Payment for a booking that is already confirmed is a redelivery.
		if errors.Is(err, service.ErrInvalidTransition) && !errors.Is(err, service.ErrAlreadyTerminal) {
			current, getErr := p.bookings.Get(ctx, m.BookingID)
			if getErr == nil && current.ConfirmedAt != nil {
				return nil
			}
		}
		if errors.Is(err, service.ErrAlreadyTerminal) {
			p.logger.Error("[PaymentEvents] payment captured for a finished booking",
				zap.String("booking_id", m.BookingID),
				zap.String("payment_id", m.PaymentID),
			)
		}
		return err
	}
	p.logger.Info("[PaymentEvents] booking confirmed", zap.String("booking_id", b.ID), zap.String("payment_id", m.PaymentID))
	return nil
}

func (p *PaymentEvents) handleCreditsPurchased(ctx context.Context, body []byte) error {
	var m CreditsPurchased
	if err := json.Unmarshal(body, &m); err != nil || m.OrderID == "" || m.ClientID == "" {
		return fmt.Errorf("%w: credits.purchased: %v", errMalformed, err)
	}

	ref := m.OrderID
	pkg, err := p.credits.GrantPackage(ctx, service.GrantInput{
		ClientID:  m.ClientID,
		Credits:   m.Credits,
		ExpiresAt: m.ExpiresAt,
		SourceRef: &ref,
		Note:      m.Bundle,
	})
	if err != nil {
		return err
	}
	p.logger.Info("[PaymentEvents] credits granted", zap.String("package_id", pkg.ID), zap.String("order_id", m.OrderID))
	return nil
}
