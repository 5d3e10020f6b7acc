// Package tokenizer wraps the processor's client-side API: it turns raw card
// input into an opaque payment method token so card numbers never reach our
// own backend, and it answers client-side intent status queries during a 3DS
// detour. It authenticates with the publishable key only.
package tokenizer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"go.uber.org/zap"
)

// Mount polling bounds. The card element retries while the anchor is not yet
// present, but never indefinitely.
const (
	defaultMountInterval    = 100 * time.Millisecond
	defaultMaxMountAttempts = 50
)

var (
	ErrNotInitialized = errors.New("tokenizer is not initialized")
	ErrMountFailed    = errors.New("card element anchor never became ready")
)

// CardDetails is raw card input. It only ever transits to the processor.
type CardDetails struct {
	Number   string
	ExpMonth int64
	ExpYear  int64
	CVC      string
}

// CardSource is the anchor the card element mounts onto. Ready reports
// whether the anchor exists yet; Read collects the entered card details.
type CardSource interface {
	Ready() bool
	Read() (CardDetails, error)
}

// ValidationError is a structured card validation failure. It is an expected
// user-input outcome, not a fault.
type ValidationError struct {
	Code    string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("card validation failed (%s): %s", e.Code, e.Message)
}

// IsValidationError reports whether err is a card validation failure.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IntentSnapshot is the slim client-side view of a payment intent, queried
// with the client secret after an authentication challenge.
type IntentSnapshot struct {
	ID     string
	Status string
	Amount int64
}

// Option configures a Tokenizer.
type Option func(*Tokenizer)

// WithMountPolicy overrides the anchor polling interval and attempt cap.
func WithMountPolicy(interval time.Duration, maxAttempts int) Option {
	return func(t *Tokenizer) {
		t.mountInterval = interval
		t.maxMountAttempts = maxAttempts
	}
}

// WithBackendURL overrides the processor endpoint. Used in tests.
func WithBackendURL(url string) Option {
	return func(t *Tokenizer) {
		t.backendURL = url
	}
}

// Tokenizer owns the card element lifecycle for one checkout surface. It is
// an explicit session-scoped object; nothing here lives in package state, so
// concurrent sessions do not collide.
type Tokenizer struct {
	source           CardSource
	logger           *zap.Logger
	mountInterval    time.Duration
	maxMountAttempts int
	backendURL       string

	mu      sync.Mutex
	api     *client.API
	key     string
	mounted chan struct{}
	failed  chan struct{}
	stop    context.CancelFunc
}

// New creates a tokenizer bound to a card input source.
func New(source CardSource, logger *zap.Logger, opts ...Option) *Tokenizer {
	t := &Tokenizer{
		source:           source,
		logger:           logger,
		mountInterval:    defaultMountInterval,
		maxMountAttempts: defaultMaxMountAttempts,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Initialize connects to the processor with the publishable key and starts
// mounting the card element. Reinitializing with the same key is a no-op; a
// different key tears the previous state down first.
func (t *Tokenizer) Initialize(ctx context.Context, publishableKey string) error {
	if publishableKey == "" {
		return fmt.Errorf("publishable key is required")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.api != nil && t.key == publishableKey {
		return nil
	}
	t.teardownLocked()

	api := &client.API{}
	var backends *stripe.Backends
	if t.backendURL != "" {
		backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			URL: stripe.String(t.backendURL),
		})
		backends = &stripe.Backends{API: backend, Connect: backend, Uploads: backend}
	}
	api.Init(publishableKey, backends)

	t.api = api
	t.key = publishableKey
	t.mounted = make(chan struct{})
	t.failed = make(chan struct{})

	mountCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t.stop = cancel
	go t.mountLoop(mountCtx, t.mounted, t.failed)

	return nil
}

// mountLoop polls the anchor until it is ready or the attempt cap is hit.
func (t *Tokenizer) mountLoop(ctx context.Context, mounted, failed chan struct{}) {
	ticker := time.NewTicker(t.mountInterval)
	defer ticker.Stop()

	for attempt := 0; attempt < t.maxMountAttempts; attempt++ {
		if t.source.Ready() {
			close(mounted)
			return
		}
		select {
		case <-ctx.Done():
			close(failed)
			return
		case <-ticker.C:
		}
	}

	t.logger.Warn("card element mount gave up",
		zap.Int("attempts", t.maxMountAttempts),
	)
	close(failed)
}

// waitMounted blocks until the element is mounted, the mount loop gives up,
// or the context expires.
func (t *Tokenizer) waitMounted(ctx context.Context) error {
	t.mu.Lock()
	mounted, failed := t.mounted, t.failed
	t.mu.Unlock()

	if mounted == nil {
		return ErrNotInitialized
	}
	select {
	case <-mounted:
		return nil
	case <-failed:
		return ErrMountFailed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CreatePaymentMethod tokenizes the current card input. Invalid card input
// surfaces as a *ValidationError, never as a panic or a crash of the flow.
func (t *Tokenizer) CreatePaymentMethod(ctx context.Context) (string, error) {
	if err := t.waitMounted(ctx); err != nil {
		return "", err
	}

	card, err := t.source.Read()
	if err != nil {
		return "", &ValidationError{Code: "incomplete", Message: err.Error()}
	}

	t.mu.Lock()
	api := t.api
	t.mu.Unlock()
	if api == nil {
		return "", ErrNotInitialized
	}

	params := &stripe.PaymentMethodParams{
		Params: stripe.Params{Context: ctx},
		Type:   stripe.String("card"),
		Card: &stripe.PaymentMethodCardParams{
			Number:   stripe.String(card.Number),
			ExpMonth: stripe.Int64(card.ExpMonth),
			ExpYear:  stripe.Int64(card.ExpYear),
			CVC:      stripe.String(card.CVC),
		},
	}

	pm, err := api.PaymentMethods.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeCard {
			return "", &ValidationError{
				Code:    string(stripeErr.Code),
				Message: stripeErr.Msg,
			}
		}
		return "", fmt.Errorf("create payment method: %w", err)
	}

	return pm.ID, nil
}

// RetrievePaymentIntent queries the client-side status of an intent using
// its client secret, as the post-3DS resolution step does.
func (t *Tokenizer) RetrievePaymentIntent(ctx context.Context, clientSecret string) (*IntentSnapshot, error) {
	t.mu.Lock()
	api := t.api
	t.mu.Unlock()
	if api == nil {
		return nil, ErrNotInitialized
	}

	intentID, err := IntentIDFromSecret(clientSecret)
	if err != nil {
		return nil, err
	}

	params := &stripe.PaymentIntentParams{
		Params:       stripe.Params{Context: ctx},
		ClientSecret: stripe.String(clientSecret),
	}
	pi, err := api.PaymentIntents.Get(intentID, params)
	if err != nil {
		return nil, fmt.Errorf("retrieve payment intent: %w", err)
	}

	return &IntentSnapshot{
		ID:     pi.ID,
		Status: string(pi.Status),
		Amount: pi.Amount,
	}, nil
}

// Cleanup releases the element and all held references. Safe to call more
// than once; the tokenizer can be initialized again afterwards.
func (t *Tokenizer) Cleanup() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.teardownLocked()
}

func (t *Tokenizer) teardownLocked() {
	if t.stop != nil {
		t.stop()
		t.stop = nil
	}
	t.api = nil
	t.key = ""
	t.mounted = nil
	t.failed = nil
}
