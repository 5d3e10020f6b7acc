package flow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pixata/checkout/internal/module/checkout"
	"github.com/pixata/checkout/internal/module/checkout/tokenizer"
)

func TestCoordinator_ResumesOnReturnSignal(t *testing.T) {
	ctx := context.Background()

	store := NewMemoryStore()
	require.NoError(t, store.Save(ctx, &SessionState{
		Token:        "tok-1",
		Phase:        PhaseAwaitingAuthentication,
		Amount:       2500,
		Currency:     "gbp",
		ClientSecret: "pi_123_secret_abc",
		ReturnURI:    "https://shop.example.com/checkout/complete",
	}))

	tok := &MockTokenizer{snapshot: &tokenizer.IntentSnapshot{ID: "pi_123", Status: "succeeded", Amount: 2500}}
	listener := NewReturnListener()
	defer listener.Close()

	resolved := make(chan *checkout.Result, 1)
	coordinator := NewCoordinator(store, tok, NewMockSettlement(nil), listener,
		func(sessionToken string, result *checkout.Result) {
			assert.Equal(t, "tok-1", sessionToken)
			resolved <- result
		},
		zap.NewNop(),
	)
	require.NoError(t, coordinator.Start())
	defer coordinator.Stop()

	require.NoError(t, listener.Notify(ctx, SignalPrefix+"tok-1"))

	select {
	case result := <-resolved:
		assert.Equal(t, checkout.ResultStatusSuccess, result.Status)
		assert.Equal(t, "pi_123", result.PaymentMethodID)
	case <-time.After(2 * time.Second):
		t.Fatal("session was never resolved")
	}

	_, err := store.Load(ctx, "tok-1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestCoordinator_IgnoresUnknownSessions(t *testing.T) {
	listener := NewReturnListener()
	defer listener.Close()

	resolved := make(chan *checkout.Result, 1)
	coordinator := NewCoordinator(NewMemoryStore(), &MockTokenizer{}, NewMockSettlement(nil), listener,
		func(_ string, result *checkout.Result) { resolved <- result },
		zap.NewNop(),
	)
	require.NoError(t, coordinator.Start())
	defer coordinator.Stop()

	require.NoError(t, listener.Notify(context.Background(), SignalPrefix+"ghost"))

	select {
	case result := <-resolved:
		t.Fatalf("unexpected resolution: %+v", result)
	case <-time.After(100 * time.Millisecond):
	}
}
