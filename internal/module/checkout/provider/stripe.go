package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// StripeProvider implements the Provider interface for Stripe.
type StripeProvider struct {
	api     *client.API
	breaker *gobreaker.CircuitBreaker[*stripe.PaymentIntent]
}

// StripeConfig holds Stripe configuration.
type StripeConfig struct {
	APIKey string
	// BackendURL overrides the Stripe API endpoint. Used in tests.
	BackendURL string
}

// NewStripeProvider creates a new Stripe provider. The circuit breaker trips
// on integration faults only; card declines count as successful round trips.
func NewStripeProvider(cfg *StripeConfig) *StripeProvider {
	api := &client.API{}
	var backends *stripe.Backends
	if cfg.BackendURL != "" {
		backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			URL: stripe.String(cfg.BackendURL),
		})
		backends = &stripe.Backends{API: backend, Connect: backend, Uploads: backend}
	}
	api.Init(cfg.APIKey, backends)

	breaker := gobreaker.NewCircuitBreaker[*stripe.PaymentIntent](gobreaker.Settings{
		Name:    "stripe",
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || IsDecline(err)
		},
	})

	return &StripeProvider{api: api, breaker: breaker}
}

// Name returns the provider name.
func (p *StripeProvider) Name() string {
	return "stripe"
}

func (p *StripeProvider) CreateIntent(ctx context.Context, amount int64, currency, description string) (*Intent, error) {
	params := &stripe.PaymentIntentParams{
		Params:           stripe.Params{Context: ctx},
		Amount:           stripe.Int64(amount),
		Currency:         stripe.String(currency),
		Description:      stripe.String(description),
		SetupFutureUsage: stripe.String("off_session"),
		CaptureMethod:    stripe.String("automatic"),
	}

	pi, err := p.execute(func() (*stripe.PaymentIntent, error) {
		return p.api.PaymentIntents.New(params)
	})
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	return mapStripeIntent(pi), nil
}

func (p *StripeProvider) ConfirmNewIntent(ctx context.Context, token string, amount int64, currency, returnURL string) (*Intent, error) {
	params := &stripe.PaymentIntentParams{
		Params:             stripe.Params{Context: ctx},
		Amount:             stripe.Int64(amount),
		Currency:           stripe.String(currency),
		PaymentMethod:      stripe.String(token),
		Confirm:            stripe.Bool(true),
		ConfirmationMethod: stripe.String("automatic"),
		ReturnURL:          stripe.String(returnURL),
	}

	pi, err := p.execute(func() (*stripe.PaymentIntent, error) {
		return p.api.PaymentIntents.New(params)
	})
	if err != nil {
		return nil, err
	}
	return mapStripeIntent(pi), nil
}

func (p *StripeProvider) ConfirmIntent(ctx context.Context, intentID, token, returnURL string) (*Intent, error) {
	params := &stripe.PaymentIntentConfirmParams{
		Params:        stripe.Params{Context: ctx},
		PaymentMethod: stripe.String(token),
		ReturnURL:     stripe.String(returnURL),
	}

	pi, err := p.execute(func() (*stripe.PaymentIntent, error) {
		return p.api.PaymentIntents.Confirm(intentID, params)
	})
	if err != nil {
		return nil, err
	}
	return mapStripeIntent(pi), nil
}

func (p *StripeProvider) RetrieveIntent(ctx context.Context, intentID string) (*Intent, error) {
	params := &stripe.PaymentIntentParams{Params: stripe.Params{Context: ctx}}
	pi, err := p.execute(func() (*stripe.PaymentIntent, error) {
		return p.api.PaymentIntents.Get(intentID, params)
	})
	if err != nil {
		return nil, fmt.Errorf("retrieve payment intent: %w", err)
	}
	return mapStripeIntent(pi), nil
}

// execute runs a Stripe call through the circuit breaker and converts
// payment-required responses into DeclineError. The HTTP status code is the
// discriminator; error message text is never inspected.
func (p *StripeProvider) execute(fn func() (*stripe.PaymentIntent, error)) (*stripe.PaymentIntent, error) {
	pi, err := p.breaker.Execute(fn)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == http.StatusPaymentRequired {
			return nil, &DeclineError{
				Code:    string(stripeErr.Code),
				Message: stripeErr.Msg,
			}
		}
		return nil, err
	}
	return pi, nil
}

func mapStripeIntent(pi *stripe.PaymentIntent) *Intent {
	intent := &Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Amount:       pi.Amount,
		Currency:     string(pi.Currency),
		Status:       IntentStatus(pi.Status),
	}
	if pi.NextAction != nil && pi.NextAction.RedirectToURL != nil {
		intent.RedirectURL = pi.NextAction.RedirectToURL.URL
	}
	return intent
}
