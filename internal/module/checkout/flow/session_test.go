package flow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pixata/checkout/internal/module/checkout"
	"github.com/pixata/checkout/internal/module/checkout/tokenizer"
)

// MockTokenizer implements CardTokenizer for testing.
type MockTokenizer struct {
	token    string
	tokenErr error
	snapshot *tokenizer.IntentSnapshot
	snapErr  error
}

func (m *MockTokenizer) CreatePaymentMethod(_ context.Context) (string, error) {
	if m.tokenErr != nil {
		return "", m.tokenErr
	}
	if m.token == "" {
		return "pm_123", nil
	}
	return m.token, nil
}

func (m *MockTokenizer) RetrievePaymentIntent(_ context.Context, _ string) (*tokenizer.IntentSnapshot, error) {
	if m.snapErr != nil {
		return nil, m.snapErr
	}
	return m.snapshot, nil
}

// MockSettlement implements Settlement for testing. When block is set, a
// submit waits until release is closed, so tests can observe mid-flight
// behavior.
type MockSettlement struct {
	intentID string
	result   *checkout.Result

	block   bool
	release chan struct{}
	entered chan struct{}

	mu      sync.Mutex
	lastReq *checkout.ProcessPaymentRequest
}

func NewMockSettlement(result *checkout.Result) *MockSettlement {
	return &MockSettlement{
		intentID: "pi_123",
		result:   result,
		release:  make(chan struct{}),
		entered:  make(chan struct{}, 1),
	}
}

func (m *MockSettlement) PrepareIntent(_ context.Context, _ int64, _, _ string) (string, error) {
	return m.intentID, nil
}

func (m *MockSettlement) SubmitPayment(_ context.Context, req *checkout.ProcessPaymentRequest) *checkout.Result {
	m.mu.Lock()
	m.lastReq = req
	m.mu.Unlock()

	select {
	case m.entered <- struct{}{}:
	default:
	}
	if m.block {
		<-m.release
	}
	return m.result
}

func (m *MockSettlement) LastRequest() *checkout.ProcessPaymentRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastReq
}

// MockRedirector records the navigation instead of performing one.
type MockRedirector struct {
	mu  sync.Mutex
	url string
}

func (m *MockRedirector) Redirect(url string) {
	m.mu.Lock()
	m.url = url
	m.mu.Unlock()
}

func (m *MockRedirector) URL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.url
}

// failingStore rejects saves; loads and deletes pass through.
type failingStore struct {
	Store
}

func (f *failingStore) Save(_ context.Context, _ *SessionState) error {
	return errors.New("store unavailable")
}

func newTestSession(store Store, tok CardTokenizer, api Settlement, r Redirector) *Session {
	return NewSession("tok-1", store, tok, api, r, zap.NewNop())
}

func TestSession_Pay(t *testing.T) {
	ctx := context.Background()

	t.Run("success ends the attempt", func(t *testing.T) {
		store := NewMemoryStore()
		api := NewMockSettlement(&checkout.Result{Status: checkout.ResultStatusSuccess, PaymentMethodID: "pi_123"})
		session := newTestSession(store, &MockTokenizer{}, api, &MockRedirector{})

		result, err := session.Pay(ctx, 2500, "gbp", "https://shop.example.com")
		require.NoError(t, err)
		assert.Equal(t, checkout.ResultStatusSuccess, result.Status)
		assert.Equal(t, PhaseSucceeded, session.Phase())

		_, err = store.Load(ctx, session.Token())
		assert.ErrorIs(t, err, ErrSessionNotFound, "state must not outlive the attempt")
	})

	t.Run("decline is terminal", func(t *testing.T) {
		api := NewMockSettlement(&checkout.Result{Status: checkout.ResultStatusDeclined, Message: "Your card was declined."})
		session := newTestSession(NewMemoryStore(), &MockTokenizer{}, api, &MockRedirector{})

		result, err := session.Pay(ctx, 2500, "gbp", "https://shop.example.com")
		require.NoError(t, err)
		assert.Equal(t, checkout.ResultStatusDeclined, result.Status)
		assert.Equal(t, PhaseDeclined, session.Phase())
	})

	t.Run("card validation failure stays in the flow", func(t *testing.T) {
		tok := &MockTokenizer{tokenErr: &tokenizer.ValidationError{Code: "invalid_number", Message: "Your card number is invalid."}}
		api := NewMockSettlement(nil)
		session := newTestSession(NewMemoryStore(), tok, api, &MockRedirector{})

		result, err := session.Pay(ctx, 2500, "gbp", "https://shop.example.com")
		require.NoError(t, err)
		assert.Equal(t, checkout.ResultStatusError, result.Status)
		assert.Contains(t, result.Message, "invalid_number")
		assert.Nil(t, api.LastRequest(), "nothing must be submitted for invalid input")
	})

	t.Run("prepared intent rides along on submit", func(t *testing.T) {
		api := NewMockSettlement(&checkout.Result{Status: checkout.ResultStatusSuccess})
		session := newTestSession(NewMemoryStore(), &MockTokenizer{}, api, &MockRedirector{})

		intentID, err := session.Prepare(ctx, 2500, "gbp", "order 42")
		require.NoError(t, err)
		assert.Equal(t, "pi_123", intentID)

		_, err = session.Pay(ctx, 2500, "gbp", "https://shop.example.com")
		require.NoError(t, err)
		assert.Equal(t, "pi_123", api.LastRequest().PaymentIntentID)
		assert.Equal(t, "pm_123", api.LastRequest().PaymentMethodID)
	})

	t.Run("second submit while one is in flight is rejected", func(t *testing.T) {
		api := NewMockSettlement(&checkout.Result{Status: checkout.ResultStatusSuccess})
		api.block = true
		session := newTestSession(NewMemoryStore(), &MockTokenizer{}, api, &MockRedirector{})

		done := make(chan struct{})
		go func() {
			defer close(done)
			_, _ = session.Pay(ctx, 2500, "gbp", "https://shop.example.com")
		}()

		select {
		case <-api.entered:
		case <-time.After(2 * time.Second):
			t.Fatal("first submit never reached the settlement API")
		}

		_, err := session.Pay(ctx, 2500, "gbp", "https://shop.example.com")
		assert.ErrorIs(t, err, ErrSubmitInFlight)

		close(api.release)
		<-done
	})

	t.Run("finished attempt rejects another submit", func(t *testing.T) {
		api := NewMockSettlement(&checkout.Result{Status: checkout.ResultStatusSuccess})
		session := newTestSession(NewMemoryStore(), &MockTokenizer{}, api, &MockRedirector{})

		_, err := session.Pay(ctx, 2500, "gbp", "https://shop.example.com")
		require.NoError(t, err)

		_, err = session.Pay(ctx, 2500, "gbp", "https://shop.example.com")
		assert.ErrorIs(t, err, ErrAttemptFinished)
	})
}

func TestSession_Redirect(t *testing.T) {
	ctx := context.Background()

	redirectResult := func() *checkout.Result {
		return &checkout.Result{
			Status:          checkout.ResultStatusRedirect,
			PaymentMethodID: "pi_123",
			ClientSecret:    "pi_123_secret_abc",
			ReturnURI:       "https://shop.example.com/checkout/complete",
			RedirectURL:     "https://hooks.stripe.com/3ds",
		}
	}

	t.Run("state is persisted before the navigation", func(t *testing.T) {
		store := NewMemoryStore()
		api := NewMockSettlement(redirectResult())
		redirector := &MockRedirector{}
		session := newTestSession(store, &MockTokenizer{}, api, redirector)

		result, err := session.Pay(ctx, 2500, "gbp", "https://shop.example.com")
		require.NoError(t, err)
		assert.Equal(t, checkout.ResultStatusRedirect, result.Status)
		assert.Equal(t, PhaseAwaitingAuthentication, session.Phase())
		assert.Equal(t, "https://hooks.stripe.com/3ds", redirector.URL())

		state, err := store.Load(ctx, session.Token())
		require.NoError(t, err)
		assert.Equal(t, PhaseAwaitingAuthentication, state.Phase)
		assert.Equal(t, "pi_123_secret_abc", state.ClientSecret)
		assert.Equal(t, "https://shop.example.com/checkout/complete", state.ReturnURI)
		assert.Equal(t, "pi_123", state.PaymentIntentID)
	})

	t.Run("no navigation without a durable record", func(t *testing.T) {
		store := &failingStore{Store: NewMemoryStore()}
		api := NewMockSettlement(redirectResult())
		redirector := &MockRedirector{}
		session := newTestSession(store, &MockTokenizer{}, api, redirector)

		result, err := session.Pay(ctx, 2500, "gbp", "https://shop.example.com")
		require.NoError(t, err)
		assert.Equal(t, checkout.ResultStatusError, result.Status)
		assert.Empty(t, redirector.URL(), "redirect must not fire when the session cannot resume")
	})
}

func TestSession_Resume(t *testing.T) {
	ctx := context.Background()

	awaiting := func(store Store) {
		_ = store.Save(ctx, &SessionState{
			Token:        "tok-1",
			Phase:        PhaseAwaitingAuthentication,
			Amount:       2500,
			Currency:     "gbp",
			ClientSecret: "pi_123_secret_abc",
			ReturnURI:    "https://shop.example.com/checkout/complete",
		})
	}

	t.Run("succeeded intent resolves to Success", func(t *testing.T) {
		store := NewMemoryStore()
		awaiting(store)
		tok := &MockTokenizer{snapshot: &tokenizer.IntentSnapshot{ID: "pi_123", Status: "succeeded", Amount: 2500}}
		session := newTestSession(store, tok, NewMockSettlement(nil), nil)

		result, err := session.Resume(ctx)
		require.NoError(t, err)
		assert.Equal(t, checkout.ResultStatusSuccess, result.Status)
		assert.Equal(t, PhaseSucceeded, session.Phase())

		_, err = store.Load(ctx, "tok-1")
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})

	t.Run("anything else is a terminal decline, never another redirect", func(t *testing.T) {
		store := NewMemoryStore()
		awaiting(store)
		tok := &MockTokenizer{snapshot: &tokenizer.IntentSnapshot{ID: "pi_123", Status: "requires_payment_method"}}
		session := newTestSession(store, tok, NewMockSettlement(nil), nil)

		result, err := session.Resume(ctx)
		require.NoError(t, err)
		assert.Equal(t, checkout.ResultStatusDeclined, result.Status)
		assert.Contains(t, result.Message, "requires_payment_method")
	})

	t.Run("status query failure resolves to Error", func(t *testing.T) {
		store := NewMemoryStore()
		awaiting(store)
		tok := &MockTokenizer{snapErr: errors.New("timeout")}
		session := newTestSession(store, tok, NewMockSettlement(nil), nil)

		result, err := session.Resume(ctx)
		require.NoError(t, err)
		assert.Equal(t, checkout.ResultStatusError, result.Status)
	})

	t.Run("no durable record", func(t *testing.T) {
		session := newTestSession(NewMemoryStore(), &MockTokenizer{}, NewMockSettlement(nil), nil)
		_, err := session.Resume(ctx)
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})

	t.Run("record in the wrong phase", func(t *testing.T) {
		store := NewMemoryStore()
		_ = store.Save(ctx, &SessionState{Token: "tok-1", Phase: PhaseSubmitting})
		session := newTestSession(store, &MockTokenizer{}, NewMockSettlement(nil), nil)

		_, err := session.Resume(ctx)
		assert.ErrorIs(t, err, ErrNotAwaitingAuth)
	})
}

func TestSession_Cancel(t *testing.T) {
	ctx := context.Background()

	t.Run("cancel before submit has no side effects", func(t *testing.T) {
		store := NewMemoryStore()
		session := newTestSession(store, &MockTokenizer{}, NewMockSettlement(nil), nil)

		require.NoError(t, session.Cancel(ctx))
		assert.Equal(t, PhaseIdle, session.Phase())
	})

	t.Run("cancel mid-submit discards the completed result", func(t *testing.T) {
		store := NewMemoryStore()
		api := NewMockSettlement(&checkout.Result{Status: checkout.ResultStatusSuccess})
		api.block = true
		session := newTestSession(store, &MockTokenizer{}, api, &MockRedirector{})

		type payOutcome struct {
			result *checkout.Result
			err    error
		}
		done := make(chan payOutcome, 1)
		go func() {
			result, err := session.Pay(ctx, 2500, "gbp", "https://shop.example.com")
			done <- payOutcome{result, err}
		}()

		select {
		case <-api.entered:
		case <-time.After(2 * time.Second):
			t.Fatal("submit never reached the settlement API")
		}

		require.NoError(t, session.Cancel(ctx))
		close(api.release)

		outcome := <-done
		assert.ErrorIs(t, outcome.err, ErrAttemptCanceled)
		assert.Nil(t, outcome.result)
		assert.Equal(t, PhaseIdle, session.Phase())

		_, err := store.Load(ctx, session.Token())
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})
}

func TestSession_Reset(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	api := NewMockSettlement(&checkout.Result{Status: checkout.ResultStatusDeclined})
	session := newTestSession(store, &MockTokenizer{}, api, nil)

	_, err := session.Pay(ctx, 2500, "gbp", "https://shop.example.com")
	require.NoError(t, err)
	require.Equal(t, PhaseDeclined, session.Phase())

	require.NoError(t, session.Reset(ctx))
	assert.Equal(t, PhaseIdle, session.Phase())

	// a fresh attempt is allowed again
	api.result = &checkout.Result{Status: checkout.ResultStatusSuccess}
	result, err := session.Pay(ctx, 2500, "gbp", "https://shop.example.com")
	require.NoError(t, err)
	assert.Equal(t, checkout.ResultStatusSuccess, result.Status)
}
