package flow

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/zoobzio/hookz"
)

// Return signals arrive from outside the orchestrator's control: a message
// posted from the processor-controlled page, or the landing page reached via
// the return URL. Signals carry only the session token; secrets are
// rehydrated from the durable store, never from the signal itself.
const (
	returnEventKey hookz.Key = "checkout.3ds.return"

	// SignalPrefix distinguishes our return signals from unrelated
	// cross-origin messages.
	SignalPrefix = "checkout-3ds:"
)

// ErrUnrecognizedSignal marks inbound messages that are not return signals.
var ErrUnrecognizedSignal = errors.New("unrecognized return signal")

// ReturnSignal is the typed payload delivered to return subscribers.
type ReturnSignal struct {
	SessionToken string
	Raw          string
}

// ReturnListener bridges out-of-band 3DS completion signals back into the
// orchestrator through a typed event channel with unsubscribe handles.
type ReturnListener struct {
	hooks *hookz.Hooks[ReturnSignal]
}

// NewReturnListener creates a listener.
func NewReturnListener() *ReturnListener {
	return &ReturnListener{
		hooks: hookz.New[ReturnSignal](
			hookz.WithWorkers(2),
			hookz.WithTimeout(30*time.Second),
		),
	}
}

// Start registers onReturn for future return signals and returns the
// subscription handle. Unhook on the handle unregisters cleanly.
func (l *ReturnListener) Start(onReturn func(ctx context.Context, sig ReturnSignal) error) (hookz.Hook, error) {
	return l.hooks.Hook(returnEventKey, onReturn)
}

// Notify feeds a raw inbound message into the listener. Messages without the
// recognizable prefix are rejected without reaching any subscriber.
func (l *ReturnListener) Notify(ctx context.Context, raw string) error {
	token, ok := strings.CutPrefix(raw, SignalPrefix)
	if !ok || token == "" {
		return ErrUnrecognizedSignal
	}
	return l.hooks.Emit(ctx, returnEventKey, ReturnSignal{SessionToken: token, Raw: raw})
}

// Close shuts the listener down and drops all subscriptions.
func (l *ReturnListener) Close() error {
	return l.hooks.Close()
}
