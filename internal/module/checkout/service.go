package checkout

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pixata/checkout/internal/module/checkout/provider"
	"github.com/pixata/checkout/internal/utils/metrics"
)

const defaultCurrency = "gbp"

// Service is the settlement service. It is the sole holder of the processor
// connection; browser clients only ever see the publishable key and, during a
// 3DS step, the client secret of their own intent.
type Service struct {
	repo           Repository
	provider       provider.Provider
	publishableKey string
	returnPath     string
	metrics        *metrics.Metrics
	logger         *zap.Logger
}

// NewService creates a new settlement service.
func NewService(
	repo Repository,
	prov provider.Provider,
	publishableKey string,
	returnPath string,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Service {
	if returnPath == "" {
		returnPath = "/checkout/complete"
	}
	return &Service{
		repo:           repo,
		provider:       prov,
		publishableKey: publishableKey,
		returnPath:     returnPath,
		metrics:        m,
		logger:         logger,
	}
}

// PublishableKey returns the browser-safe processor key.
func (s *Service) PublishableKey() string {
	return s.publishableKey
}

// ReturnURL builds the post-3DS return address from the client's base URL.
func (s *Service) ReturnURL(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + s.returnPath
}

// CreateIntent creates a payment intent and returns only its ID. Two calls
// with identical inputs create two distinct intents; there is no
// deduplication, by contract. The client secret is withheld here because no
// browser action needs it yet.
func (s *Service) CreateIntent(ctx context.Context, amount int64, currency, description string) (string, error) {
	if amount <= 0 {
		return "", ErrInvalidAmount
	}
	if len(currency) != 3 {
		return "", ErrInvalidCurrency
	}

	start := time.Now()
	intent, err := s.provider.CreateIntent(ctx, amount, strings.ToLower(currency), description)
	s.observeProcessor("create_intent", start)
	if err != nil {
		s.logger.Error("failed to create payment intent",
			zap.Int64("amount", amount),
			zap.String("currency", currency),
			zap.Error(err),
		)
		return "", err
	}

	payment := &Payment{
		ID:                    uuid.New(),
		Amount:                intent.Amount,
		Currency:              intent.Currency,
		Description:           description,
		Status:                PaymentStatusPending,
		Provider:              s.provider.Name(),
		StripePaymentIntentID: intent.ID,
	}
	if err := s.repo.CreatePayment(ctx, payment); err != nil {
		s.logger.Error("failed to create payment record", zap.Error(err))
	}

	if s.metrics != nil {
		s.metrics.IntentsCreatedTotal.Inc()
	}

	return intent.ID, nil
}

// ProcessPayment confirms a payment and maps the processor response into the
// normalized Result taxonomy. Every path after token validation produces a
// Result; processor internals never cross this boundary.
func (s *Service) ProcessPayment(ctx context.Context, req *ProcessPaymentRequest) (*Result, error) {
	if req.PaymentMethodID == "" {
		return nil, ErrEmptyPaymentMethod
	}

	returnURL := s.ReturnURL(req.BaseURL)

	var (
		intent *provider.Intent
		err    error
	)
	start := time.Now()
	if req.PaymentIntentID != "" {
		// The prepared intent's amount is authoritative. A client-resent
		// amount is ignored on the confirm step.
		intent, err = s.provider.ConfirmIntent(ctx, req.PaymentIntentID, req.PaymentMethodID, returnURL)
	} else {
		if req.Amount <= 0 {
			return nil, ErrInvalidAmount
		}
		currency := req.Currency
		if currency == "" {
			currency = defaultCurrency
		}
		intent, err = s.provider.ConfirmNewIntent(ctx, req.PaymentMethodID, req.Amount, strings.ToLower(currency), returnURL)
	}
	s.observeProcessor("confirm_intent", start)

	if err != nil {
		var decline *provider.DeclineError
		if errors.As(err, &decline) {
			result := &Result{
				Status:          ResultStatusDeclined,
				PaymentMethodID: req.PaymentIntentID,
				Message:         decline.Message,
			}
			s.recordOutcome(ctx, req.PaymentIntentID, PaymentStatusDeclined, decline.Message)
			s.countOutcome(result.Status)
			return result, nil
		}

		s.logger.Error("payment confirmation failed",
			zap.String("payment_intent_id", req.PaymentIntentID),
			zap.Error(err),
		)
		result := &Result{
			Status:  ResultStatusError,
			Message: "payment processing failed",
		}
		s.recordOutcome(ctx, req.PaymentIntentID, PaymentStatusFailed, err.Error())
		s.countOutcome(result.Status)
		return result, nil
	}

	result := s.mapIntent(intent, returnURL)
	s.recordIntentOutcome(ctx, intent, result)
	s.countOutcome(result.Status)
	return result, nil
}

// FinalizePayment re-queries the processor for an intent after the 3DS
// detour and settles the stored record. Anything other than succeeded is a
// terminal decline for the attempt; no further redirect is offered.
func (s *Service) FinalizePayment(ctx context.Context, paymentIntentID string) (*Result, error) {
	if paymentIntentID == "" {
		return nil, ErrPaymentNotFound
	}

	start := time.Now()
	intent, err := s.provider.RetrieveIntent(ctx, paymentIntentID)
	s.observeProcessor("retrieve_intent", start)
	if err != nil {
		s.logger.Error("failed to retrieve payment intent",
			zap.String("payment_intent_id", paymentIntentID),
			zap.Error(err),
		)
		return &Result{Status: ResultStatusError, Message: "payment processing failed"}, nil
	}

	var result *Result
	if intent.Status == provider.IntentStatusSucceeded {
		result = &Result{Status: ResultStatusSuccess, PaymentMethodID: intent.ID}
		s.updateRecord(ctx, intent.ID, PaymentStatusSucceeded, "")
	} else {
		msg := "payment failed with status: " + string(intent.Status)
		result = &Result{Status: ResultStatusDeclined, PaymentMethodID: intent.ID, Message: msg}
		s.updateRecord(ctx, intent.ID, PaymentStatusDeclined, msg)
	}
	s.countOutcome(result.Status)
	return result, nil
}

// mapIntent maps a confirmed intent's status into the Result taxonomy.
func (s *Service) mapIntent(intent *provider.Intent, returnURL string) *Result {
	switch intent.Status {
	case provider.IntentStatusSucceeded:
		return &Result{
			Status:          ResultStatusSuccess,
			PaymentMethodID: intent.ID,
		}
	case provider.IntentStatusRequiresAction:
		return &Result{
			Status:          ResultStatusRedirect,
			PaymentMethodID: intent.ID,
			Message:         "additional authentication required",
			ReturnURI:       returnURL,
			ClientSecret:    intent.ClientSecret,
			RedirectURL:     intent.RedirectURL,
		}
	default:
		return &Result{
			Status:          ResultStatusDeclined,
			PaymentMethodID: intent.ID,
			Message:         "payment failed with status: " + string(intent.Status),
		}
	}
}

func (s *Service) recordIntentOutcome(ctx context.Context, intent *provider.Intent, result *Result) {
	var status PaymentStatus
	switch result.Status {
	case ResultStatusSuccess:
		status = PaymentStatusSucceeded
	case ResultStatusRedirect:
		status = PaymentStatusRequiresAction
	default:
		status = PaymentStatusDeclined
	}

	payment, err := s.repo.GetPaymentByIntentID(ctx, intent.ID)
	if err != nil {
		payment = &Payment{
			ID:                    uuid.New(),
			Amount:                intent.Amount,
			Currency:              intent.Currency,
			Status:                status,
			Provider:              s.provider.Name(),
			StripePaymentIntentID: intent.ID,
		}
		s.applyTimestamps(payment, status, result.Message)
		if err := s.repo.CreatePayment(ctx, payment); err != nil {
			s.logger.Error("failed to create payment record", zap.Error(err))
		}
		return
	}

	payment.Status = status
	s.applyTimestamps(payment, status, result.Message)
	if err := s.repo.UpdatePayment(ctx, payment); err != nil {
		s.logger.Error("failed to update payment record", zap.Error(err))
	}
}

// recordOutcome persists an outcome for error paths where no intent came
// back. Without an intent ID there is nothing to key the record on, so those
// attempts are logged only.
func (s *Service) recordOutcome(ctx context.Context, intentID string, status PaymentStatus, message string) {
	if intentID == "" {
		return
	}
	s.updateRecord(ctx, intentID, status, message)
}

func (s *Service) updateRecord(ctx context.Context, intentID string, status PaymentStatus, message string) {
	payment, err := s.repo.GetPaymentByIntentID(ctx, intentID)
	if err != nil {
		if !errors.Is(err, ErrPaymentNotFound) {
			s.logger.Error("failed to load payment record", zap.Error(err))
		}
		return
	}
	if payment.IsTerminal() {
		// A settled record never regresses.
		return
	}
	payment.Status = status
	s.applyTimestamps(payment, status, message)
	if err := s.repo.UpdatePayment(ctx, payment); err != nil {
		s.logger.Error("failed to update payment record", zap.Error(err))
	}
}

func (s *Service) applyTimestamps(payment *Payment, status PaymentStatus, message string) {
	now := time.Now()
	switch status {
	case PaymentStatusSucceeded:
		payment.SucceededAt = &now
		payment.FailureMessage = nil
	case PaymentStatusDeclined, PaymentStatusFailed:
		payment.FailedAt = &now
		if message != "" {
			payment.FailureMessage = &message
		}
	}
}

func (s *Service) countOutcome(status ResultStatus) {
	if s.metrics != nil {
		s.metrics.PaymentOutcomesTotal.WithLabelValues(string(status)).Inc()
	}
}

func (s *Service) observeProcessor(operation string, start time.Time) {
	if s.metrics != nil {
		s.metrics.ProcessorCallDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}
