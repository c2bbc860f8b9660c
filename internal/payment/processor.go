// Package payment implements the payment gateway of §4.2's PAYMENT_PROCESSING
// step: a synchronous charge/refund contract backed by Stripe, guarded by a
// circuit breaker so a gateway outage degrades to fast failures instead of
// piling up blocked saga goroutines.
package payment

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/paymentintent"
	"github.com/stripe/stripe-go/v81/refund"

	"github.com/vectorcommerce/platform/internal/errs"
	"github.com/vectorcommerce/platform/internal/ids"
	"github.com/vectorcommerce/platform/internal/money"
)

// paymentMethod is the test payment method attached to every charge. The
// saga charges off-session on behalf of a customer who already completed
// checkout, so there is no interactive step for Stripe to redirect through;
// production would resolve this from the customer's saved payment method
// instead of a fixed token.
const paymentMethod = "pm_card_visa"

// gatewayClient is the slice of the Stripe SDK Processor depends on,
// narrowed to this package's two calls so it can be faked in tests without
// a live API key.
type gatewayClient interface {
	ConfirmPaymentIntent(ctx context.Context, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	CreateRefund(ctx context.Context, params *stripe.RefundParams) (*stripe.Refund, error)
}

// stripeClient is the default gatewayClient, calling the real Stripe API.
type stripeClient struct{}

func (stripeClient) ConfirmPaymentIntent(ctx context.Context, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	return paymentintent.New(params)
}

func (stripeClient) CreateRefund(ctx context.Context, params *stripe.RefundParams) (*stripe.Refund, error) {
	return refund.New(params)
}

// Processor implements orders.PaymentProcessor against Stripe's PaymentIntent
// API. Unlike a hosted checkout flow, Charge blocks until Stripe returns a
// definitive outcome, since the saga needs to know immediately whether to
// proceed to PAID or roll back to CANCELLED.
type Processor struct {
	client  gatewayClient
	breaker *gobreaker.CircuitBreaker[string]
	logger  *slog.Logger
}

// Config tunes the circuit breaker guarding the Stripe calls.
type Config struct {
	Name             string
	MaxRequests      uint32
	OpenTimeout      time.Duration
	ConsecutiveTrips uint32
}

func DefaultConfig() Config {
	return Config{
		Name:             "stripe-payment",
		MaxRequests:      1,
		OpenTimeout:      30 * time.Second,
		ConsecutiveTrips: 5,
	}
}

// NewProcessor sets the package-global Stripe API key (the SDK's own
// convention) and returns a Processor ready to charge and refund.
func NewProcessor(apiKey string, cfg Config, logger *slog.Logger) *Processor {
	stripe.Key = apiKey
	return newProcessor(stripeClient{}, cfg, logger)
}

func newProcessor(client gatewayClient, cfg Config, logger *slog.Logger) *Processor {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveTrips
		},
		IsSuccessful: func(err error) bool {
			// A card decline is the gateway working correctly; it must not
			// count against the breaker the way a timeout or 5xx does.
			return err == nil || errs.KindOf(err) == errs.BusinessRule
		},
	}
	return &Processor{
		client:  client,
		breaker: gobreaker.NewCircuitBreaker[string](settings),
		logger:  logger,
	}
}

// Charge attempts to collect amount from customerID for orderID, returning
// Stripe's payment intent id on success. A card decline surfaces as a
// BusinessRule/PaymentDeclined error the saga routes straight to
// cancellation; anything else (network error, open breaker, 5xx) is
// Transient and eligible for the saga's own retry policy.
func (p *Processor) Charge(ctx context.Context, orderID ids.ID, customerID string, amount money.Money, correlationID ids.ID) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(amount.MinorUnits()),
		Currency:      stripe.String(strings.ToLower(amount.Currency())),
		PaymentMethod: stripe.String(paymentMethod),
		Confirm:       stripe.Bool(true),
		OffSession:    stripe.Bool(true),
		Metadata: map[string]string{
			"orderId":       orderID.String(),
			"customerId":    customerID,
			"correlationId": correlationID.String(),
		},
	}

	paymentID, err := p.breaker.Execute(func() (string, error) {
		pi, err := p.client.ConfirmPaymentIntent(ctx, params)
		if err != nil {
			return "", classifyStripeErr(err)
		}
		if pi.Status != stripe.PaymentIntentStatusSucceeded {
			return "", errs.New(errs.BusinessRule, errs.CodePaymentDeclined,
				"payment: intent did not succeed, status "+string(pi.Status))
		}
		return pi.ID, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", errs.Wrap(errs.Transient, "", "payment: gateway circuit open", err)
		}
		p.logger.Warn("payment: charge failed", "order_id", orderID.String(), "error", err)
		return "", err
	}
	return paymentID, nil
}

// Refund reverses amount of a previously captured payment. Stripe allows
// partial refunds, so amount need not equal the original charge.
func (p *Processor) Refund(ctx context.Context, paymentID string, amount money.Money, correlationID ids.ID) error {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(paymentID),
		Amount:        stripe.Int64(amount.MinorUnits()),
		Metadata: map[string]string{
			"correlationId": correlationID.String(),
		},
	}

	_, err := p.breaker.Execute(func() (string, error) {
		r, err := p.client.CreateRefund(ctx, params)
		if err != nil {
			return "", classifyStripeErr(err)
		}
		return r.ID, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return errs.Wrap(errs.Transient, "", "payment: gateway circuit open", err)
		}
		p.logger.Error("payment: refund failed", "payment_id", paymentID, "error", err)
		return err
	}
	return nil
}

// classifyStripeErr maps a Stripe SDK error onto the system's closed error
// taxonomy. Card errors (declines, expired cards, insufficient funds) are
// business outcomes the gateway reported correctly; everything else
// (network failure, rate limit, API error) is transient and worth retrying.
func classifyStripeErr(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeCard {
		return errs.Wrap(errs.BusinessRule, errs.CodePaymentDeclined, "payment: card declined", err)
	}
	return errs.Wrap(errs.Transient, "", "payment: stripe request failed", err)
}
