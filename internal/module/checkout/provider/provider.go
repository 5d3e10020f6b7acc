package provider

import (
	"context"
	"errors"
	"fmt"
)

// IntentStatus is the provider-neutral payment intent status.
type IntentStatus string

const (
	IntentStatusSucceeded      IntentStatus = "succeeded"
	IntentStatusRequiresAction IntentStatus = "requires_action"
	IntentStatusProcessing     IntentStatus = "processing"
	IntentStatusCanceled       IntentStatus = "canceled"
)

// Intent is the provider-neutral view of a payment intent.
type Intent struct {
	ID           string
	ClientSecret string
	Amount       int64
	Currency     string
	Status       IntentStatus
	// RedirectURL is set when Status is requires_action and the issuer
	// demands a browser redirect for the authentication challenge.
	RedirectURL string
}

// Provider is the interface to the card processor's server-side API.
// Implementations hold the secret key; callers never see it.
type Provider interface {
	Name() string

	// CreateIntent creates a payment intent without confirming it.
	// The returned Intent carries the client secret; callers decide
	// whether it may cross to the browser.
	CreateIntent(ctx context.Context, amount int64, currency, description string) (*Intent, error)

	// ConfirmNewIntent creates and confirms an intent in one call using the
	// given payment method token. returnURL is where the processor sends the
	// browser back after a 3DS challenge.
	ConfirmNewIntent(ctx context.Context, token string, amount int64, currency, returnURL string) (*Intent, error)

	// ConfirmIntent confirms a previously created intent. The intent's own
	// amount is authoritative; no amount is sent on the confirm step.
	ConfirmIntent(ctx context.Context, intentID, token, returnURL string) (*Intent, error)

	// RetrieveIntent fetches the current state of an intent.
	RetrieveIntent(ctx context.Context, intentID string) (*Intent, error)
}

// DeclineError marks a charge the processor explicitly refused. A decline is
// an expected business outcome, not an integration fault: callers must not
// retry it and circuit breakers must not count it as a failure.
type DeclineError struct {
	Code    string
	Message string
}

// Error implements the error interface.
func (e *DeclineError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("card declined (%s): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("card declined: %s", e.Message)
}

// IsDecline reports whether err is a card decline.
func IsDecline(err error) bool {
	var de *DeclineError
	return errors.As(err, &de)
}
