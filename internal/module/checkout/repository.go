package checkout

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// Repository defines the interface for payment data access.
type Repository interface {
	CreatePayment(ctx context.Context, payment *Payment) error
	GetPaymentByIntentID(ctx context.Context, paymentIntentID string) (*Payment, error)
	UpdatePayment(ctx context.Context, payment *Payment) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new payment repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) CreatePayment(ctx context.Context, payment *Payment) error {
	if err := r.db.WithContext(ctx).Create(payment).Error; err != nil {
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

func (r *repository) GetPaymentByIntentID(ctx context.Context, paymentIntentID string) (*Payment, error) {
	var payment Payment
	err := r.db.WithContext(ctx).First(&payment, "stripe_payment_intent_id = ?", paymentIntentID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("get payment by intent id: %w", err)
	}
	return &payment, nil
}

func (r *repository) UpdatePayment(ctx context.Context, payment *Payment) error {
	if err := r.db.WithContext(ctx).Save(payment).Error; err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	return nil
}

// Migrate creates the payments table.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Payment{})
}
