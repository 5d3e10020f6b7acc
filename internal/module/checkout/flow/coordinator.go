package flow

import (
	"context"

	"github.com/zoobzio/hookz"
	"go.uber.org/zap"

	"github.com/pixata/checkout/internal/module/checkout"
)

// Coordinator subscribes to return signals and resolves the matching
// sessions. The in-memory session objects were destroyed by the navigation,
// so each signal rehydrates a fresh session from the durable store.
type Coordinator struct {
	store      Store
	tokenizer  CardTokenizer
	api        Settlement
	listener   *ReturnListener
	onResolved func(sessionToken string, result *checkout.Result)
	logger     *zap.Logger

	hook hookz.Hook
}

// NewCoordinator creates a coordinator. onResolved is invoked with the
// terminal result of every resumed session; it may be nil.
func NewCoordinator(
	store Store,
	tok CardTokenizer,
	api Settlement,
	listener *ReturnListener,
	onResolved func(sessionToken string, result *checkout.Result),
	logger *zap.Logger,
) *Coordinator {
	return &Coordinator{
		store:      store,
		tokenizer:  tok,
		api:        api,
		listener:   listener,
		onResolved: onResolved,
		logger:     logger,
	}
}

// Start subscribes to the return listener.
func (c *Coordinator) Start() error {
	hook, err := c.listener.Start(c.handleReturn)
	if err != nil {
		return err
	}
	c.hook = hook
	return nil
}

// Stop unregisters the subscription.
func (c *Coordinator) Stop() {
	if err := c.hook.Unhook(); err != nil {
		c.logger.Warn("failed to unhook return listener", zap.Error(err))
	}
}

func (c *Coordinator) handleReturn(ctx context.Context, sig ReturnSignal) error {
	session := NewSession(sig.SessionToken, c.store, c.tokenizer, c.api, nil, c.logger)
	result, err := session.Resume(ctx)
	if err != nil {
		c.logger.Warn("could not resume checkout session",
			zap.String("session_token", sig.SessionToken),
			zap.Error(err),
		)
		return err
	}

	c.logger.Info("checkout session resolved after authentication",
		zap.String("session_token", sig.SessionToken),
		zap.String("status", string(result.Status)),
	)
	if c.onResolved != nil {
		c.onResolved(sig.SessionToken, result)
	}
	return nil
}
