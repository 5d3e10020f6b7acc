package flow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pixata/checkout/internal/module/checkout"
	"github.com/pixata/checkout/internal/module/checkout/tokenizer"
)

var (
	ErrSubmitInFlight  = errors.New("a payment submission is already in flight")
	ErrAttemptFinished = errors.New("checkout attempt already finished")
	ErrAttemptCanceled = errors.New("checkout attempt canceled")
	ErrNotAwaitingAuth = errors.New("session is not awaiting authentication")
)

// CardTokenizer is the slice of the tokenizer the orchestrator needs.
type CardTokenizer interface {
	CreatePaymentMethod(ctx context.Context) (string, error)
	RetrievePaymentIntent(ctx context.Context, clientSecret string) (*tokenizer.IntentSnapshot, error)
}

// Settlement is the typed client-side view of the payment API.
type Settlement interface {
	PrepareIntent(ctx context.Context, amount int64, currency, description string) (string, error)
	SubmitPayment(ctx context.Context, req *checkout.ProcessPaymentRequest) *checkout.Result
}

// Redirector performs the top-level navigation to the issuer's challenge
// page. In a browser host this is a real navigation; tests record the URL.
type Redirector interface {
	Redirect(url string)
}

// Session drives one checkout attempt through
// Idle → Tokenizing → Submitting → {Succeeded, Declined, AwaitingAuthentication, Error},
// with AwaitingAuthentication resolving to a terminal phase after the 3DS
// detour. The session is an explicit object: all mutable state lives here or
// in the durable store, never in package globals, so concurrent sessions
// (multiple tabs) do not collide.
type Session struct {
	token      string
	store      Store
	tokenizer  CardTokenizer
	api        Settlement
	redirector Redirector
	logger     *zap.Logger

	mu       sync.Mutex
	phase    Phase
	intentID string
	inFlight bool
	canceled bool
}

// NewSession creates a session. An empty token gets a fresh one; passing the
// token of a previously persisted session allows rehydration.
func NewSession(token string, store Store, tok CardTokenizer, api Settlement, redirector Redirector, logger *zap.Logger) *Session {
	if token == "" {
		token = uuid.New().String()
	}
	return &Session{
		token:      token,
		store:      store,
		tokenizer:  tok,
		api:        api,
		redirector: redirector,
		logger:     logger,
		phase:      PhaseIdle,
	}
}

// Token returns the session token used as the durable storage key.
func (s *Session) Token() string {
	return s.token
}

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Prepare creates a payment intent ahead of confirmation. The server-created
// intent's amount becomes the source of truth for the later submit.
func (s *Session) Prepare(ctx context.Context, amount int64, currency, description string) (string, error) {
	intentID, err := s.api.PrepareIntent(ctx, amount, currency, description)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.intentID = intentID
	s.mu.Unlock()
	return intentID, nil
}

// Pay runs one attempt: tokenize, submit, resolve. At most one submission is
// in flight per session; a second call while one is running is rejected. On
// a Redirect outcome the client secret and return URI are persisted before
// the navigation is triggered, because the navigation destroys this object.
func (s *Session) Pay(ctx context.Context, amount int64, currency, baseURL string) (*checkout.Result, error) {
	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return nil, ErrSubmitInFlight
	}
	if s.phase.Terminal() {
		s.mu.Unlock()
		return nil, ErrAttemptFinished
	}
	s.inFlight = true
	s.canceled = false
	s.phase = PhaseTokenizing
	intentID := s.intentID
	s.mu.Unlock()

	s.persist(ctx, &SessionState{
		Token:           s.token,
		Phase:           PhaseTokenizing,
		Amount:          amount,
		Currency:        currency,
		PaymentIntentID: intentID,
	})

	pmToken, err := s.tokenizer.CreatePaymentMethod(ctx)
	if err != nil {
		if tokenizer.IsValidationError(err) {
			return s.finish(ctx, &checkout.Result{
				Status:  checkout.ResultStatusError,
				Message: err.Error(),
			}, PhaseError)
		}
		return s.finish(ctx, &checkout.Result{
			Status:  checkout.ResultStatusError,
			Message: "card tokenization failed",
		}, PhaseError)
	}

	if s.abortIfCanceled(ctx) {
		return nil, ErrAttemptCanceled
	}

	s.setPhase(PhaseSubmitting)
	s.persist(ctx, &SessionState{
		Token:           s.token,
		Phase:           PhaseSubmitting,
		Amount:          amount,
		Currency:        currency,
		PaymentIntentID: intentID,
	})

	result := s.api.SubmitPayment(ctx, &checkout.ProcessPaymentRequest{
		PaymentMethodID: pmToken,
		PaymentIntentID: intentID,
		Amount:          amount,
		Currency:        currency,
		BaseURL:         baseURL,
	})

	// A cancel requested mid-submit lets the call complete, then discards
	// its result.
	if s.abortIfCanceled(ctx) {
		return nil, ErrAttemptCanceled
	}

	switch result.Status {
	case checkout.ResultStatusSuccess:
		return s.finish(ctx, result, PhaseSucceeded)
	case checkout.ResultStatusDeclined:
		return s.finish(ctx, result, PhaseDeclined)
	case checkout.ResultStatusRedirect:
		return s.beginRedirect(ctx, amount, currency, result)
	default:
		return s.finish(ctx, result, PhaseError)
	}
}

// beginRedirect persists the resumption material and only then triggers the
// navigation. Ordering matters: the redirect wipes in-memory state, so the
// durable record must already hold the secret and return URI.
func (s *Session) beginRedirect(ctx context.Context, amount int64, currency string, result *checkout.Result) (*checkout.Result, error) {
	state := &SessionState{
		Token:           s.token,
		Phase:           PhaseAwaitingAuthentication,
		Amount:          amount,
		Currency:        currency,
		PaymentIntentID: result.PaymentMethodID,
		ClientSecret:    result.ClientSecret,
		ReturnURI:       result.ReturnURI,
		UpdatedAt:       time.Now(),
	}
	if err := s.store.Save(ctx, state); err != nil {
		// Without the durable record the attempt cannot resume after the
		// navigation, so surface an error instead of redirecting.
		s.logger.Error("failed to persist session before redirect", zap.Error(err))
		return s.finish(ctx, &checkout.Result{
			Status:  checkout.ResultStatusError,
			Message: "could not persist checkout session",
		}, PhaseError)
	}

	s.mu.Lock()
	s.phase = PhaseAwaitingAuthentication
	s.intentID = result.PaymentMethodID
	s.inFlight = false
	s.mu.Unlock()

	if s.redirector != nil && result.RedirectURL != "" {
		s.redirector.Redirect(result.RedirectURL)
	}
	return result, nil
}

// Resume resolves the attempt after the authentication detour. It rehydrates
// the secret and return URI from the durable store: the in-memory state did
// not survive the navigation. succeeded maps to Succeeded; anything else is
// a terminal decline for this attempt, never another redirect.
func (s *Session) Resume(ctx context.Context) (*checkout.Result, error) {
	state, err := s.store.Load(ctx, s.token)
	if err != nil {
		return nil, err
	}
	if state.Phase != PhaseAwaitingAuthentication {
		return nil, ErrNotAwaitingAuth
	}

	snap, err := s.tokenizer.RetrievePaymentIntent(ctx, state.ClientSecret)
	if err != nil {
		s.logger.Error("failed to query intent after authentication", zap.Error(err))
		return s.finish(ctx, &checkout.Result{
			Status:  checkout.ResultStatusError,
			Message: "could not verify authentication result",
		}, PhaseError)
	}

	if snap.Status == "succeeded" {
		return s.finish(ctx, &checkout.Result{
			Status:          checkout.ResultStatusSuccess,
			PaymentMethodID: snap.ID,
		}, PhaseSucceeded)
	}
	return s.finish(ctx, &checkout.Result{
		Status:          checkout.ResultStatusDeclined,
		PaymentMethodID: snap.ID,
		Message:         "payment failed with status: " + snap.Status,
	}, PhaseDeclined)
}

// Cancel abandons the flow. Before a submission it is free of side effects;
// during one, the in-flight call completes and its result is discarded. No
// outcome is recorded either way.
func (s *Session) Cancel(ctx context.Context) error {
	s.mu.Lock()
	if s.inFlight {
		s.canceled = true
		s.mu.Unlock()
		return nil
	}
	s.phase = PhaseIdle
	s.intentID = ""
	s.mu.Unlock()
	return s.store.Delete(ctx, s.token)
}

// Reset returns a terminal session to Idle so the UI can start a fresh
// attempt.
func (s *Session) Reset(ctx context.Context) error {
	s.mu.Lock()
	s.phase = PhaseIdle
	s.intentID = ""
	s.canceled = false
	s.mu.Unlock()
	return s.store.Delete(ctx, s.token)
}

func (s *Session) setPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

// abortIfCanceled discards the attempt if a cancel was requested while work
// was in flight.
func (s *Session) abortIfCanceled(ctx context.Context) bool {
	s.mu.Lock()
	canceled := s.canceled
	if canceled {
		s.phase = PhaseIdle
		s.inFlight = false
		s.canceled = false
	}
	s.mu.Unlock()
	if canceled {
		if err := s.store.Delete(ctx, s.token); err != nil {
			s.logger.Warn("failed to delete canceled session", zap.Error(err))
		}
	}
	return canceled
}

// finish records a terminal phase and destroys the durable record: session
// state must not outlive the attempt.
func (s *Session) finish(ctx context.Context, result *checkout.Result, phase Phase) (*checkout.Result, error) {
	s.mu.Lock()
	s.phase = phase
	s.inFlight = false
	s.mu.Unlock()

	if err := s.store.Delete(ctx, s.token); err != nil {
		s.logger.Warn("failed to delete session state", zap.Error(err))
	}
	return result, nil
}

func (s *Session) persist(ctx context.Context, state *SessionState) {
	state.UpdatedAt = time.Now()
	if err := s.store.Save(ctx, state); err != nil {
		s.logger.Warn("failed to persist session state", zap.Error(err))
	}
}
