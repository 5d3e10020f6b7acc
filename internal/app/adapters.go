package app

import (
	"context"
	"errors"

	"github.com/pixata/checkout/internal/module/checkout"
	"github.com/pixata/checkout/internal/module/checkout/provider"
	"github.com/pixata/checkout/internal/module/checkout/tokenizer"
)

// intentResolver resolves authentication outcomes server-side. After a 3DS
// return there is no card element to consult, only the intent itself, so the
// resolver reads it through the settlement provider.
type intentResolver struct {
	provider provider.Provider
}

func (r *intentResolver) CreatePaymentMethod(ctx context.Context) (string, error) {
	return "", errors.New("card tokenization requires a browser session")
}

func (r *intentResolver) RetrievePaymentIntent(ctx context.Context, clientSecret string) (*tokenizer.IntentSnapshot, error) {
	intentID, err := tokenizer.IntentIDFromSecret(clientSecret)
	if err != nil {
		return nil, err
	}
	intent, err := r.provider.RetrieveIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}
	return &tokenizer.IntentSnapshot{
		ID:     intent.ID,
		Status: string(intent.Status),
		Amount: intent.Amount,
	}, nil
}

// serviceSettlement adapts the settlement service to the flow session's
// client-shaped interface, so resumed sessions run in-process instead of
// calling back over HTTP.
type serviceSettlement struct {
	service *checkout.Service
}

func (s *serviceSettlement) PrepareIntent(ctx context.Context, amount int64, currency, description string) (string, error) {
	return s.service.CreateIntent(ctx, amount, currency, description)
}

func (s *serviceSettlement) SubmitPayment(ctx context.Context, req *checkout.ProcessPaymentRequest) *checkout.Result {
	result, err := s.service.ProcessPayment(ctx, req)
	if err != nil {
		return &checkout.Result{Status: checkout.ResultStatusError, Message: err.Error()}
	}
	return result
}
